// Package transport implements the packet wire protocol (§3/§6) and the
// Adapter abstraction (§4.1, C1) that every higher layer (probe, endpoint
// manager, packetizer, tx pipeline) sends and receives through.
package transport

import (
	"encoding/binary"

	"github.com/mediaconduit/txcore/status"
)

// PayloadType distinguishes the three on-wire packet header variants of
// §3: a non-first, non-offset packet (Data), a non-first packet whose
// payload had to be placed at an explicit byte offset (DataOffset), and
// the always-present first packet of a payload (Number0).
type PayloadType uint8

const (
	Data PayloadType = iota
	DataOffset
	Number0
	KeepAlive
)

const (
	SizeCommonHdr = 1 + 2 + 1 // payload_type, packet_sequence_num, payload_num
	SizeOffsetHdr = SizeCommonHdr + 4
	// Number0 fixed part: common + total_payload_size(4) + max_latency(8) +
	// ptp{sec,nsec}(8) + payload_user_data(8) + extra_data_size(2)
	SizeNumber0Fixed = SizeCommonHdr + 4 + 8 + 8 + 8 + 2
)

// CommonHeader is shared by every packet variant.
type CommonHeader struct {
	PayloadType       PayloadType
	PacketSequenceNum uint16
	PayloadNum        uint8
}

func (h CommonHeader) Encode(b []byte) int {
	b[0] = byte(h.PayloadType)
	binary.BigEndian.PutUint16(b[1:3], h.PacketSequenceNum)
	b[3] = h.PayloadNum
	return SizeCommonHdr
}

func DecodeCommonHeader(b []byte) (CommonHeader, error) {
	if len(b) < SizeCommonHdr {
		return CommonHeader{}, status.New(status.InvalidParameter, "common header short read: %d bytes", len(b))
	}
	return CommonHeader{
		PayloadType:       PayloadType(b[0]),
		PacketSequenceNum: binary.BigEndian.Uint16(b[1:3]),
		PayloadNum:        b[3],
	}, nil
}

// DataOffsetHeader is used for any non-first packet when the payload's SGL
// had to be segmented, so the receiver can place out-of-order fragments
// into a linear reassembly buffer.
type DataOffsetHeader struct {
	CommonHeader
	PayloadDataOffset uint32
}

func (h DataOffsetHeader) Encode(b []byte) int {
	n := h.CommonHeader.Encode(b)
	binary.BigEndian.PutUint32(b[n:n+4], h.PayloadDataOffset)
	return n + 4
}

func DecodeDataOffsetHeader(b []byte) (DataOffsetHeader, error) {
	if len(b) < SizeOffsetHdr {
		return DataOffsetHeader{}, status.New(status.InvalidParameter, "data-offset header short read: %d bytes", len(b))
	}
	common, _ := DecodeCommonHeader(b)
	return DataOffsetHeader{
		CommonHeader:      common,
		PayloadDataOffset: binary.BigEndian.Uint32(b[SizeCommonHdr : SizeCommonHdr+4]),
	}, nil
}

// PTPTimestamp is a seconds/nanoseconds origination timestamp carried only
// by the number-0 packet.
type PTPTimestamp struct {
	Seconds     uint32
	Nanoseconds uint32
}

// Number0Header is always the first packet of a payload
// (PacketSequenceNum == 0) and carries the fields the receiver needs before
// it has seen any other packet of the payload.
type Number0Header struct {
	CommonHeader
	TotalPayloadSize   uint32
	MaxLatencyMicrosec uint64
	OriginationPTP     PTPTimestamp
	PayloadUserData    uint64
	ExtraData          []byte
}

func (h Number0Header) EncodedSize() int { return SizeNumber0Fixed + len(h.ExtraData) }

func (h Number0Header) Encode(b []byte) int {
	n := h.CommonHeader.Encode(b)
	binary.BigEndian.PutUint32(b[n:n+4], h.TotalPayloadSize)
	n += 4
	binary.BigEndian.PutUint64(b[n:n+8], h.MaxLatencyMicrosec)
	n += 8
	binary.BigEndian.PutUint32(b[n:n+4], h.OriginationPTP.Seconds)
	n += 4
	binary.BigEndian.PutUint32(b[n:n+4], h.OriginationPTP.Nanoseconds)
	n += 4
	binary.BigEndian.PutUint64(b[n:n+8], h.PayloadUserData)
	n += 8
	binary.BigEndian.PutUint16(b[n:n+2], uint16(len(h.ExtraData)))
	n += 2
	n += copy(b[n:], h.ExtraData)
	return n
}

func DecodeNumber0Header(b []byte) (Number0Header, error) {
	if len(b) < SizeNumber0Fixed {
		return Number0Header{}, status.New(status.InvalidParameter, "number-0 header short read: %d bytes", len(b))
	}
	common, _ := DecodeCommonHeader(b)
	n := SizeCommonHdr
	total := binary.BigEndian.Uint32(b[n : n+4])
	n += 4
	maxLatency := binary.BigEndian.Uint64(b[n : n+8])
	n += 8
	sec := binary.BigEndian.Uint32(b[n : n+4])
	n += 4
	nsec := binary.BigEndian.Uint32(b[n : n+4])
	n += 4
	userData := binary.BigEndian.Uint64(b[n : n+8])
	n += 8
	extraLen := int(binary.BigEndian.Uint16(b[n : n+2]))
	n += 2
	if len(b) < n+extraLen {
		return Number0Header{}, status.New(status.InvalidParameter, "number-0 header extra_data short read")
	}
	extra := make([]byte, extraLen)
	copy(extra, b[n:n+extraLen])

	return Number0Header{
		CommonHeader:       common,
		TotalPayloadSize:   total,
		MaxLatencyMicrosec: maxLatency,
		OriginationPTP:     PTPTimestamp{Seconds: sec, Nanoseconds: nsec},
		PayloadUserData:    userData,
		ExtraData:          extra,
	}, nil
}

// Package anc implements the ancillary-data codec of §4.7 (C7): the
// SMPTE ST 291-style payload and packet headers carried alongside media
// payloads, including the 10-bit parity convention and the ST 291-1
// checksum used to validate each packet on decode. Grounded on the wire
// package's style (transport/wire.go: explicit offset math, no reliance
// on native struct layout, a single Encode/Decode pair per header) since
// no example repo in the pack implements SMPTE ancillary data directly.
package anc

import (
	"encoding/binary"

	"github.com/mediaconduit/txcore/status"
)

// FieldKind identifies which field of an interlaced (or progressive)
// frame a payload's ancillary data belongs to.
type FieldKind uint8

const (
	FieldUnspecified FieldKind = iota
	Field1
	Field2
	Progressive
)

func (k FieldKind) String() string {
	switch k {
	case Field1:
		return "Field1"
	case Field2:
		return "Field2"
	case Progressive:
		return "Progressive"
	default:
		return "Unspecified"
	}
}

// PayloadHeader precedes the ANC packets carried by one payload.
type PayloadHeader struct {
	AncCount uint16
	Kind     FieldKind
}

const SizePayloadHeader = 4

func (h PayloadHeader) Encode(b []byte) int {
	binary.BigEndian.PutUint16(b[0:2], h.AncCount)
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Kind)<<14)
	return SizePayloadHeader
}

func DecodePayloadHeader(b []byte) (PayloadHeader, error) {
	if len(b) < SizePayloadHeader {
		return PayloadHeader{}, status.New(status.AncPacketInvalidSize,
			"anc: payload header needs %d bytes, got %d", SizePayloadHeader, len(b))
	}
	return PayloadHeader{
		AncCount: binary.BigEndian.Uint16(b[0:2]),
		Kind:     FieldKind(binary.BigEndian.Uint16(b[2:4]) >> 14),
	}, nil
}

// Packet is one ancillary-data packet: a line/offset location plus a
// DID/SDID-identified user-data payload. UserData holds the logical
// 8-bit payload bytes; the wire format carries each of DID, SDID, the
// data count, and every UserData byte as a 10-bit word (8 data bits plus
// two parity bits), per §4.7/§6.
type Packet struct {
	IsColorDifferenceChannel bool
	LineNumber               uint16 // u11
	HorizontalOffset         uint16 // u12
	HasValidStreamNumber     bool
	StreamNumber             uint8 // u7
	DID                      uint8
	SDID                     uint8
	UserData                 []uint8
}

// ParseStats reports codec-level anomalies found while decoding a
// packet; a clean round trip leaves both at zero (§8).
type ParseStats struct {
	ChecksumError bool
	ParityErrors  int
}

// parityBit returns the even-parity bit of the low 8 bits of v.
func parityBit(v uint8) uint8 {
	x := v
	x ^= x >> 4
	x ^= x >> 2
	x ^= x >> 1
	return x & 1
}

// withParity packs an 8-bit value into SMPTE's 10-bit word: bit8 is
// even parity over bits0-7, bit9 is the complement of bit8.
func withParity(v uint8) uint16 {
	p := parityBit(v)
	return uint16(v) | uint16(p)<<8 | uint16(p^1)<<9
}

// stripParity reverses withParity, reporting whether the parity bits
// were internally consistent.
func stripParity(w uint16) (v uint8, ok bool) {
	v = uint8(w)
	b8 := uint8(w>>8) & 1
	b9 := uint8(w>>9) & 1
	ok = b8 == parityBit(v) && b9 == b8^1
	return v, ok
}

// checksum computes the ST 291-1 checksum word over DID, SDID, the data
// count, and every user-data byte, each counted with its parity bits: a
// 9-bit unsigned sum (mod 512) whose bit9 is, like every other word in
// the stream, the complement of its bit8.
func checksum(did, sdid uint8, userData []uint8) uint16 {
	var sum uint32
	sum += uint32(withParity(did))
	sum += uint32(withParity(sdid))
	sum += uint32(withParity(uint8(len(userData))))
	for _, u := range userData {
		sum += uint32(withParity(u))
	}
	sum9 := uint16(sum) & 0x1FF
	b8 := (sum9 >> 8) & 1
	return sum9 | (b8^1)<<9
}

// Write encodes p into its packed wire form, returning a buffer whose
// length is a multiple of 4 bytes (one 32-bit group).
func Write(p Packet) []byte {
	dataCount := uint8(len(p.UserData))
	cksum := checksum(p.DID, p.SDID, p.UserData)

	// values is the full 10-bit-word sequence this packet carries beyond
	// its fixed 62-bit core: every user-data word followed by the
	// checksum. The header's reserved 2 bits hold the top 2 bits of
	// values[0]; everything else, starting from its low 8 bits, follows
	// in the trailing packed stream (§4.7: "62 + 10*(data_count+1)").
	values := make([]uint16, 0, len(p.UserData)+1)
	for _, u := range p.UserData {
		values = append(values, withParity(u))
	}
	values = append(values, cksum)

	w := &bitWriter{}
	w.writeBits(b2u(p.IsColorDifferenceChannel), 1)
	w.writeBits(uint32(p.LineNumber), 11)
	w.writeBits(uint32(p.HorizontalOffset), 12)
	w.writeBits(b2u(p.HasValidStreamNumber), 1)
	w.writeBits(uint32(p.StreamNumber), 7)
	w.writeBits(uint32(withParity(p.DID)), 10)
	w.writeBits(uint32(withParity(p.SDID)), 10)
	w.writeBits(uint32(withParity(dataCount)), 10)
	w.writeBits(uint32(values[0])>>8, 2)

	w.writeBits(uint32(values[0])&0xFF, 8)
	for _, v := range values[1:] {
		w.writeBits(uint32(v), 10)
	}
	return w.bytesPadded()
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Parse decodes a packed ANC packet, validating its ST 291-1 checksum
// and the parity of every 10-bit word it carries. A checksum mismatch
// or parity error is reported via stats rather than failing the parse,
// matching §4.7's "decode errors are counted, not fatal" rule; only a
// structurally short buffer returns an error.
func Parse(b []byte) (Packet, ParseStats, error) {
	if len(b) < 8 {
		return Packet{}, ParseStats{}, status.New(status.AncPacketInvalidSize,
			"anc: packet needs at least 8 bytes, got %d", len(b))
	}
	r := &bitReader{b: b}
	var p Packet
	var stats ParseStats

	cbit, _ := r.readBits(1)
	p.IsColorDifferenceChannel = cbit != 0
	line, _ := r.readBits(11)
	p.LineNumber = uint16(line)
	hoff, _ := r.readBits(12)
	p.HorizontalOffset = uint16(hoff)
	sbit, _ := r.readBits(1)
	p.HasValidStreamNumber = sbit != 0
	streamNum, _ := r.readBits(7)
	p.StreamNumber = uint8(streamNum)

	didW, _ := r.readBits(10)
	did, ok := stripParity(uint16(didW))
	if !ok {
		stats.ParityErrors++
	}
	p.DID = did

	sdidW, _ := r.readBits(10)
	sdid, ok := stripParity(uint16(sdidW))
	if !ok {
		stats.ParityErrors++
	}
	p.SDID = sdid

	dcW, _ := r.readBits(10)
	dataCount, ok := stripParity(uint16(dcW))
	if !ok {
		stats.ParityErrors++
	}

	top2, _ := r.readBits(2)

	total := int(dataCount) + 1 // user-data words plus the checksum
	values := make([]uint16, 0, total)
	for i := 0; i < total; i++ {
		var full uint16
		if i == 0 {
			low8, ok := r.readBits(8)
			if !ok {
				return Packet{}, ParseStats{}, status.New(status.AncPacketInvalidSize, "anc: truncated packet")
			}
			full = uint16(top2)<<8 | uint16(low8)
		} else {
			v, ok := r.readBits(10)
			if !ok {
				return Packet{}, ParseStats{}, status.New(status.AncPacketInvalidSize, "anc: truncated packet")
			}
			full = uint16(v)
		}
		values = append(values, full)
	}

	p.UserData = make([]uint8, dataCount)
	for i := 0; i < int(dataCount); i++ {
		v, ok := stripParity(values[i])
		if !ok {
			stats.ParityErrors++
		}
		p.UserData[i] = v
	}
	gotChecksum := values[total-1]

	wantChecksum := checksum(p.DID, p.SDID, p.UserData)
	if gotChecksum != wantChecksum {
		stats.ChecksumError = true
	}
	return p, stats, nil
}

// PackedSize returns the number of bytes Write would emit for a packet
// with the given data_count (a whole number of 32-bit groups, 4 bytes
// each), per §4.7's sizing formula.
func PackedSize(dataCount int) int {
	bits := 62 + 10*(dataCount+1)
	words := (bits + 31) / 32
	return words * 4
}

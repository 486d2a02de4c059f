// Package packetizer implements the resumable packet-building state machine
// of §4.5 (C5): it converts a TxPayloadState's source scatter-gather list
// into a sequence of wire packets, respecting the per-packet size limit,
// the adapter's SGL-entry cap, and any group-size alignment.
package packetizer

import (
	"github.com/mediaconduit/txcore/memsys"
	"github.com/mediaconduit/txcore/status"
	"github.com/mediaconduit/txcore/transport"
)

// CursorState names the three states of the packetizer's per-payload
// cursor (§4.5): Inactive between packets, AddingHeader while the header
// buffer/SGL-entry is being allocated, AddingEntries while source slices
// are attached.
type CursorState uint8

const (
	Inactive CursorState = iota
	AddingHeader
	AddingEntries
)

// cursor is the payload_packet_state of §3: current source entry, offset
// within entry, byte offset within payload, and current packet sequence
// number.
type cursor struct {
	state         CursorState
	curEntry      int
	offsetInEntry int
	byteOffset    int64
	nextSeqNum    uint16
	useDataOffset bool // once true, every subsequent packet of this payload is the DataOffset variant
}

// TxPayloadState is created on submission and destroyed after exactly one
// application callback has been delivered for it (§3).
type TxPayloadState struct {
	PayloadNum uint8

	SourceSGL *memsys.SGL // cloned source SGL entries

	TotalDataSize   int64
	GroupSizeBytes  int
	MaxLatencyMicrosec uint64
	OriginationPTP  transport.PTPTimestamp
	PayloadUserData uint64
	ExtraData       []byte

	DataBytesTransferred int64
	StartTimeMono        int64 // mono.NanoTime() at submission

	// PacketsInFlight/AllPacketsSent/CompletionDelivered are owned by the
	// tx pipeline's payload worker, not by Next: it increments
	// PacketsInFlight on every successful EnqueueSend, sets AllPacketsSent
	// once the cursor reports the payload exhausted, and its completion
	// matcher decrements PacketsInFlight as completions arrive so it can
	// tell exactly when the single application callback is due.
	PacketsInFlight     int
	AllPacketsSent      bool
	CompletionDelivered bool

	Status status.Code
	ErrMsg string

	KeepAlive bool

	// AppCBData carries the user's callback param plus whatever extra
	// header data and status/error fields the application's completion
	// callback expects (§3 "app_payload_cb_data").
	AppCBData any

	cur cursor
}

func NewTxPayloadState() *TxPayloadState { return &TxPayloadState{} }

// Reset clears a TxPayloadState for reuse from its pool; callers must have
// already delivered (or decided to suppress) its application callback.
func (ps *TxPayloadState) Reset() {
	*ps = TxPayloadState{}
}

func (ps *TxPayloadState) CursorState() CursorState { return ps.cur.state }

// Done reports whether the cursor has consumed every source byte.
func (ps *TxPayloadState) Done() bool {
	return ps.SourceSGL == nil || ps.cur.curEntry >= len(ps.SourceSGL.Entries)
}

// PacketWorkRequest is allocated once per outgoing packet (§3): it pairs a
// TxPayloadState back-pointer with a header buffer living in pinned
// transmit memory and an SGL of (header-entry, payload-entries...).
type PacketWorkRequest struct {
	Payload           *TxPayloadState
	HeaderHandle      int32
	SGL               *memsys.SGL
	PayloadType       transport.PayloadType
	PacketSequenceNum uint16
	PayloadBytes      int // packet_payload_size, used by the completion matcher's bytes accounting

	// PayloadNum is the payload_num this packet was stamped with at
	// packetization time, captured independently of Payload.PayloadNum so
	// the completion matcher can still detect a post-reset straggler (§4.6
	// step 2) even after Payload itself has been recycled and reused for a
	// later submission by the time the completion arrives.
	PayloadNum uint8

	// CompletionStatus is set by the adapter's completion sink before this
	// work request is pushed onto the completion channel; Next never
	// touches it.
	CompletionStatus transport.CompletionStatus

	// Next chains work requests belonging to the same batch or the same
	// payload's deferred cleanup list (§3 "linked list of completed packet
	// descriptors").
	Next *PacketWorkRequest
}

func NewPacketWorkRequest() *PacketWorkRequest { return &PacketWorkRequest{} }

func (wr *PacketWorkRequest) Reset() { *wr = PacketWorkRequest{} }

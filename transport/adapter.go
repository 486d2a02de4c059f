package transport

import (
	"github.com/mediaconduit/txcore/memsys"
	"github.com/mediaconduit/txcore/status"
)

// PollState is the result of one Adapter.Poll call.
type PollState uint8

const (
	Idle PollState = iota
	Work
)

// Direction mirrors conn.Direction without importing conn, which itself
// depends on cmn/cos: the adapter layer sits below the connection model.
type Direction uint8

const (
	DirSend Direction = iota
	DirReceive
)

// CompletionStatus is reported by the adapter's completion callback for
// one previously enqueued send.
type CompletionStatus uint8

const (
	CompletionOK CompletionStatus = iota
	CompletionNotConnected
	CompletionFatal
)

// Completion is delivered once per enqueued packet send, carrying back the
// caller-supplied internal data pointer (the originating packet work
// request) so the tx pipeline's completion matcher can find it without a
// lookup.
type Completion struct {
	InternalDataPtr any
	PacketLen       int
	Status          CompletionStatus
}

// CompletionSink replaces the original function-pointer-plus-void* adapter
// callback: the adapter pushes every Completion here instead of invoking a
// callback directly, decoupling the adapter's poll goroutine from whatever
// locks the consumer holds (§9 "completion callback as function pointer ->
// sink trait").
type CompletionSink interface {
	OnCompletion(Completion)
}

// Adapter is the uniform send/recv/poll abstraction over a datagram
// provider (§4.1, C1): a socket-based adapter is a drop-in alternative to
// an RDMA provider for testing, and every higher layer programs only
// against this interface.
type Adapter interface {
	// Open establishes one endpoint of the given direction to remote:port.
	Open(remote string, port int, dir Direction) error
	Close() error

	// Start (re)activates sends/receives on the endpoint; Reset tears down
	// in-flight state and leaves the endpoint ready for Start again.
	Start() error
	Reset() error

	// Poll advances the adapter once, returning whether work was done so
	// the poll worker's loop can decide whether to spin or yield.
	Poll() (PollState, error)

	// EnqueueSend submits one packet's SGL as a single wire send; the
	// adapter is responsible for eventually reporting exactly one
	// Completion for it via the registered CompletionSink.
	EnqueueSend(sgl *memsys.SGL, internalDataPtr any) error

	FreeReceiveBuffers(sgl *memsys.SGL)

	// TransmitQueueLevel reports how many sends are outstanding. The tx
	// pipeline does not consult it: its batch size doubles regardless.
	TransmitQueueLevel() int

	SetCompletionSink(CompletionSink)

	Region() *memsys.MRegion
}

// Open/Reset error semantics (§4.1): kFatal (endpoint unusable, caller must
// reset), kAllocationFailed, kNotConnected, kOk — surfaced here as the
// shared status.Code taxonomy rather than a separate adapter-local enum.
var (
	ErrFatal            = status.New(status.Fatal, "adapter fatal error")
	ErrAllocationFailed = status.New(status.AllocationFailed, "adapter allocation failed")
	ErrNotConnected     = status.New(status.NotConnected, "adapter not connected")
)

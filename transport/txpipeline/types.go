// Package txpipeline implements the tx payload pipeline of §4.6 (C6):
// submission, the payload worker's packetizing/enqueuing state machine,
// the completion matcher, and the reset/shutdown flush path.
package txpipeline

import (
	"sync"

	"github.com/mediaconduit/txcore/memsys"
	"github.com/mediaconduit/txcore/transport"
	"github.com/mediaconduit/txcore/transport/packetizer"
)

// Coordinator is the subset of the endpoint manager's contract (§4.4) that
// the payload worker needs: register once at startup, then whenever the
// returned channel fires, block in WaitForCompletion until the state
// change is done.
type Coordinator interface {
	Register(name string) <-chan struct{}
	WaitForCompletion()
}

// StatsRecorder is implemented by the statistics gatherer (C9); the
// pipeline depends on this narrow interface instead of importing stats
// directly.
type StatsRecorder interface {
	RecordPayload(success bool, elapsedNanos int64, maxLatencyMicrosec uint64, bytesTransferred uint64)
}

// PayloadConfig carries the per-submission parameters of §4.6 step 4: the
// bit width of one semantic "unit" (e.g. one pixel component), from which
// group_size_bytes is derived.
type PayloadConfig struct {
	UnitSizeBits    int
	MaxLatencyMicrosec uint64
	PayloadUserData uint64
	ExtraData       []byte
	KeepAlive       bool
	AppCBData       any
}

// AppCallback is invoked exactly once per submitted, non-keep-alive
// payload, carrying its final status and byte count.
type AppCallback func(ps *packetizer.TxPayloadState)

// Worker is the per-connection payload worker (§5): the only goroutine
// that mutates the per-endpoint work-request/packet-SGL pools, except the
// endpoint manager while this worker is parked in WaitForCompletion.
type Worker struct {
	adapter     transport.Adapter
	pz          *packetizer.Packetizer
	region      *memsys.MRegion
	payloadPool *memsys.Pool[packetizer.TxPayloadState]
	sourcePool  *memsys.Pool[memsys.SGL]
	wrPool      *memsys.Pool[packetizer.PacketWorkRequest]
	sglPool     *memsys.Pool[memsys.SGL]

	payloadCh    chan *packetizer.TxPayloadState
	completionCh chan *packetizer.PacketWorkRequest

	coordinator Coordinator
	onComplete  AppCallback
	stats       StatsRecorder

	mu        sync.Mutex
	current   *packetizer.TxPayloadState
	connected bool
	payloadNo uint8
}

type Config struct {
	Adapter       transport.Adapter
	Packetizer    *packetizer.Packetizer
	Region        *memsys.MRegion
	PayloadPool   *memsys.Pool[packetizer.TxPayloadState]
	SourcePool    *memsys.Pool[memsys.SGL]
	WorkReqPool   *memsys.Pool[packetizer.PacketWorkRequest]
	SGLPool       *memsys.Pool[memsys.SGL]
	PayloadChSize int
	CompletionChSize int
	Coordinator   Coordinator
	OnComplete    AppCallback
	Stats         StatsRecorder
}

func New(cfg Config) *Worker {
	if cfg.PayloadChSize <= 0 {
		cfg.PayloadChSize = 64
	}
	if cfg.CompletionChSize <= 0 {
		cfg.CompletionChSize = 256
	}
	w := &Worker{
		adapter:      cfg.Adapter,
		pz:           cfg.Packetizer,
		region:       cfg.Region,
		payloadPool:  cfg.PayloadPool,
		sourcePool:   cfg.SourcePool,
		wrPool:       cfg.WorkReqPool,
		sglPool:      cfg.SGLPool,
		payloadCh:    make(chan *packetizer.TxPayloadState, cfg.PayloadChSize),
		completionCh: make(chan *packetizer.PacketWorkRequest, cfg.CompletionChSize),
		coordinator:  cfg.Coordinator,
		onComplete:   cfg.OnComplete,
		stats:        cfg.Stats,
	}
	if cfg.Adapter != nil {
		cfg.Adapter.SetCompletionSink(w)
	}
	return w
}

func (w *Worker) SetConnected(v bool) {
	w.mu.Lock()
	w.connected = v
	w.mu.Unlock()
}

func (w *Worker) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// GroupSizeBytes picks the smallest pattern of units (1, 2, 4 or 8) that is
// byte-aligned, per §4.6 step 4.
func GroupSizeBytes(unitSizeBits int) int {
	for _, k := range [...]int{1, 2, 4, 8} {
		if (unitSizeBits*k)%8 == 0 {
			return (unitSizeBits * k) / 8
		}
	}
	return unitSizeBits
}

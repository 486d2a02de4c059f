// Package config holds the process-wide tunables that §4 implies but
// leaves as constants scattered across components: pool sizes, the
// per-connection endpoint cap, batch/burst limits, housekeeping tick
// intervals, t-digest cluster bounds and probe retry bounds. It mirrors
// the teacher's cmn.Config/cmn.GCO singleton: a lazily-initialized,
// atomically-swapped pointer that every package reads via Get() and that
// a façade may override wholesale via Set() before any connection opens.
package config

import (
	"sync/atomic"
	"time"
)

// Config is a single struct carrying every tunable; fields are grouped by
// the component that consumes them.
type Config struct {
	// C4 endpoint manager
	MaxEndpointsPerConn int
	QuiesceTimeout       time.Duration

	// C5/C6 packetizer + tx pipeline pools
	PayloadPoolSize    int
	SourceSGLPoolSize  int
	WorkRequestPoolSize int
	PacketSGLPoolSize  int
	PayloadChanSize    int
	CompletionChanSize int
	InitialBatchSize   int
	MaxBatchSize       int

	// C1 adapter / memsys
	TxRegionSlotSize int
	TxRegionSlots    int
	MaxTxSGLEntries  int
	PacketSizeLimit  int

	// C3 probe protocol
	ProbeMaxRetries     int
	ProbeRetryInterval  time.Duration
	ProbePingInterval   time.Duration
	ProbeDedupCapacity  uint

	// C2 control interface
	ControlIdleTeardown time.Duration

	// C8 t-digest
	TDigestMerged   int
	TDigestUnmerged int

	// C9 statistics gatherer
	StatsPeriod time.Duration

	// hk housekeeper
	HKTick time.Duration
}

// Default returns the baseline configuration every connection starts from
// unless overridden by Set.
func Default() Config {
	return Config{
		MaxEndpointsPerConn: 16,
		QuiesceTimeout:      5 * time.Second,

		PayloadPoolSize:     256,
		SourceSGLPoolSize:   256,
		WorkRequestPoolSize: 4096,
		PacketSGLPoolSize:   4096,
		PayloadChanSize:     64,
		CompletionChanSize:  256,
		InitialBatchSize:    1,
		MaxBatchSize:        64,

		TxRegionSlotSize: 4 * 1024,
		TxRegionSlots:    4096,
		MaxTxSGLEntries:  16,
		PacketSizeLimit:  8 * 1024,

		ProbeMaxRetries:    8,
		ProbeRetryInterval: 250 * time.Millisecond,
		ProbePingInterval:  time.Second,
		ProbeDedupCapacity: 4096,

		ControlIdleTeardown: 30 * time.Second,

		TDigestMerged:   200,
		TDigestUnmerged: 50,

		StatsPeriod: 10 * time.Second,

		HKTick: time.Second,
	}
}

var global atomic.Pointer[Config]

func init() {
	c := Default()
	global.Store(&c)
}

// Get returns the current process-wide configuration. Safe for concurrent
// use; the returned value is a snapshot copy.
func Get() Config { return *global.Load() }

// Set installs a new process-wide configuration wholesale, matching the
// teacher's GCO.Put semantics: callers typically do this once, before the
// first adapter/connection is created.
func Set(c Config) { global.Store(&c) }

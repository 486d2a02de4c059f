package control

import (
	"sync"
	"time"

	"github.com/mediaconduit/txcore/cmn/nlog"
	"github.com/mediaconduit/txcore/config"
	"github.com/mediaconduit/txcore/hk"
)

// Collector deactivates control sockets that have carried no probe traffic
// for IdleTeardown, reclaiming their OS-level socket; a subsequent SendProbe
// through the façade's reconnect path transparently redials. Grounded on
// the teacher's transport.collector (transport/collect.go), simplified
// from a min-heap-by-ticks to a flat map scanned once per housekeeping
// tick, since control sockets are orders of magnitude fewer than data
// streams.
type Collector struct {
	mu           sync.Mutex
	conns        map[string]*Conn
	idleTeardown time.Duration
}

func NewCollector(idleTeardown time.Duration) *Collector {
	if idleTeardown <= 0 {
		idleTeardown = config.Get().ControlIdleTeardown
	}
	return &Collector{
		conns:        make(map[string]*Conn, 8),
		idleTeardown: idleTeardown,
	}
}

// Track registers c for idle scanning under epID; Untrack stops tracking
// it (callers remain responsible for Close).
func (col *Collector) Track(epID string, c *Conn) {
	col.mu.Lock()
	col.conns[epID] = c
	col.mu.Unlock()
}

func (col *Collector) Untrack(epID string) {
	col.mu.Lock()
	delete(col.conns, epID)
	col.mu.Unlock()
}

// Start registers this collector's sweep with the shared housekeeper
// instead of owning its own ticker (§3.1 ambient stack: hk package).
func (col *Collector) Start() {
	hk.Reg("control-idle-collector", col.sweep, col.idleTeardown/2)
}

func (col *Collector) Stop() { hk.Unreg("control-idle-collector") }

func (col *Collector) sweep() time.Duration {
	now := time.Now()
	col.mu.Lock()
	idle := make(map[string]*Conn, 4)
	for epID, c := range col.conns {
		if c.IdleFor(now) >= col.idleTeardown {
			idle[epID] = c
		}
	}
	for epID := range idle {
		delete(col.conns, epID)
	}
	col.mu.Unlock()

	for epID, c := range idle {
		nlog.Infof("control: tearing down idle control socket for endpoint %s", epID)
		if err := c.Close(); err != nil {
			nlog.Warningf("control: close idle socket for %s: %v", epID, err)
		}
	}
	return col.idleTeardown / 2
}

package conn

import (
	"sync"

	"github.com/mediaconduit/txcore/cmn/cos"
	"github.com/mediaconduit/txcore/status"
)

// registry is the process-wide, lazily-initialized table of live
// Connections, keyed by a hash of (local-bind, remote, direction). It backs
// the "global singleton" design note (§9): sdk_shutdown refuses to tear
// down the process-wide state while any Connection remains registered.
type registry struct {
	mu   sync.RWMutex
	byID map[uint64]*Connection
}

var (
	regOnce sync.Once
	reg     *registry
)

func defaultRegistry() *registry {
	regOnce.Do(func() { reg = &registry{byID: make(map[uint64]*Connection, 16)} })
	return reg
}

func keyHash(k Key) uint64 { return cos.HashKey64(k.String()) }

// Register adds c to the process-wide registry, failing AdapterDuplicateEntry
// if a Connection with the same (local-bind, remote, direction) is already
// live.
func Register(c *Connection) error {
	r := defaultRegistry()
	h := keyHash(c.Key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[h]; ok {
		return status.New(status.AdapterDuplicateEntry, "connection %s already registered", c.Key)
	}
	r.byID[h] = c
	return nil
}

func Unregister(c *Connection) {
	r := defaultRegistry()
	h := keyHash(c.Key)
	r.mu.Lock()
	delete(r.byID, h)
	r.mu.Unlock()
}

func Lookup(k Key) (*Connection, bool) {
	r := defaultRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[keyHash(k)]
	return c, ok
}

func Count() int {
	r := defaultRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown tears down the process-wide registry state; it returns Fatal if
// any Connection is still registered, matching the "destroying the global
// singleton is only safe once every adapter/connection is destroyed" rule.
func Shutdown() error {
	r := defaultRegistry()
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	if n > 0 {
		return status.New(status.Fatal, "sdk_shutdown: %d connection(s) still registered", n)
	}
	return nil
}

// Package conn implements the Connection/Endpoint data model of §3: a
// Connection is the logical channel between a local process and a remote
// peer, identified by (local-bind, remote, direction) and holding one or
// more Endpoints plus the endpoint manager and stats gatherer they share.
package conn

import (
	"fmt"
	"sync"

	"github.com/mediaconduit/txcore/cmn/cos"
	"github.com/mediaconduit/txcore/config"
	"github.com/mediaconduit/txcore/endpoint"
	"github.com/mediaconduit/txcore/stats"
	"github.com/mediaconduit/txcore/status"
)

// Direction distinguishes a send endpoint from a receive endpoint; a
// Connection is homogeneous (all endpoints share one direction).
type Direction uint8

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "receive"
}

// MaxEndpoints bounds how many endpoints a single Connection may hold
// (spec.md §3: "bounded, e.g. 16"); the live bound is config.Get().
// MaxEndpointsPerConn, defaulting to this value.
const MaxEndpoints = 16

type (
	// Key uniquely identifies a Connection: (local-bind, remote-ip:port,
	// direction).
	Key struct {
		LocalBind string
		Remote    string
		Dir       Direction
	}

	Connection struct {
		Key     Key
		ID      string
		Manager *endpoint.Manager // C4: serializes Reset/Start/Shutdown across this connection's endpoints
		Stats   *stats.Gatherer   // C9: per-endpoint counters and latency digest

		mu        sync.RWMutex
		endpoints map[string]*Endpoint
	}

	Endpoint struct {
		ID          string
		Dir         Direction
		RemoteAddr  string
		StreamID    string // empty when unset
		conn        *Connection
		Recorder    *stats.EndpointRecorder
		GotNewCmd   cos.StopCh // asserted while an endpoint-manager command is in flight
		GotShutdown cos.StopCh
		destroying  bool
		mu          sync.Mutex
	}
)

func (k Key) String() string {
	return fmt.Sprintf("%s<-%s/%s", k.LocalBind, k.Remote, k.Dir)
}

// NewConnection creates a Connection with no connection-status callback;
// use NewConnectionWithStatus to be notified of the Connected/Disconnected
// fold across this connection's endpoints.
func NewConnection(localBind, remote string, dir Direction) *Connection {
	return NewConnectionWithStatus(localBind, remote, dir, nil)
}

// NewConnectionWithStatus is NewConnection plus a connection-level
// Connected/Disconnected callback, invoked by the Manager whenever every
// endpoint's individual status folds to a new connection-wide value.
func NewConnectionWithStatus(localBind, remote string, dir Direction, cb endpoint.ConnStatusCB) *Connection {
	id := cos.GenID()
	c := &Connection{
		Key:       Key{LocalBind: localBind, Remote: remote, Dir: dir},
		ID:        id,
		Manager:   endpoint.New(id, cb),
		Stats:     stats.New(stats.Config{}),
		endpoints: make(map[string]*Endpoint, 4),
	}
	go c.Manager.Run()
	return c
}

// Close stops this connection's endpoint manager, releasing any worker
// still parked in WaitForCompletion. Callers must RemoveEndpoint every
// endpoint first; Close does not itself tear down adapters.
func (c *Connection) Close() {
	c.Manager.Close()
}

// AddEndpoint registers a new Endpoint under streamID, failing with
// AdapterDuplicateEntry if streamID is already taken or ArraySizeExceeded
// once the connection's endpoint cap is reached. The new endpoint is also
// registered with the connection's Manager (ac/fl may be nil until the
// caller has constructed the endpoint's adapter and pipeline worker, in
// which case a later endpoint.Manager.AddEndpoint call completes it).
func (c *Connection) AddEndpoint(dir Direction, remoteAddr, streamID string, ac endpoint.AdapterController, fl endpoint.Flusher) (*Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if streamID != "" {
		if _, ok := c.endpoints[streamID]; ok {
			return nil, status.New(status.AdapterDuplicateEntry, "stream %q already registered", streamID)
		}
	}
	maxEndpoints := config.Get().MaxEndpointsPerConn
	if maxEndpoints <= 0 {
		maxEndpoints = MaxEndpoints
	}
	if len(c.endpoints) >= maxEndpoints {
		return nil, status.New(status.ArraySizeExceeded, "connection %s already holds %d endpoints", c.ID, maxEndpoints)
	}

	ep := &Endpoint{
		ID:         cos.GenID(),
		Dir:        dir,
		RemoteAddr: remoteAddr,
		StreamID:   streamID,
		conn:       c,
	}
	ep.GotNewCmd.Init()
	ep.GotShutdown.Init()
	if c.Stats != nil {
		ep.Recorder = c.Stats.Attach(ep.ID)
	}
	if c.Manager != nil {
		c.Manager.AddEndpoint(ep.ID, ac, fl)
	}

	key := streamID
	if key == "" {
		key = ep.ID
	}
	c.endpoints[key] = ep
	return ep, nil
}

func (c *Connection) RemoveEndpoint(ep *Endpoint) {
	c.mu.Lock()
	key := ep.StreamID
	if key == "" {
		key = ep.ID
	}
	delete(c.endpoints, key)
	c.mu.Unlock()

	if c.Manager != nil {
		c.Manager.RemoveEndpoint(ep.ID)
	}
	if c.Stats != nil {
		c.Stats.Detach(ep.ID)
	}
}

func (c *Connection) Endpoints() []*Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		out = append(out, ep)
	}
	return out
}

func (c *Connection) NumEndpoints() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.endpoints)
}

func (ep *Endpoint) MarkDestroying() {
	ep.mu.Lock()
	ep.destroying = true
	ep.mu.Unlock()
}

func (ep *Endpoint) IsDestroying() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.destroying
}

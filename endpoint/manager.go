// Package endpoint implements the endpoint lifecycle coordinator of §4.4
// (C4): it serializes Reset/Start/Shutdown/Idle state changes for every
// endpoint of a connection across the registered workers that touch that
// endpoint's shared resources, guaranteeing that none of them is mid-access
// while a state change runs.
//
// The original design's hand-rolled event flags (new_command_signal,
// all_threads_waiting_signal, command_done_signal) and atomic wait counter
// are replaced per §9's "signal-based coordination -> explicit task graph"
// note: a buffered channel per registered worker stands in for the
// assertable signal, and a condition variable guarding a plain counter
// stands in for the wait-counter/barrier.
package endpoint

import (
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mediaconduit/txcore/cmn/nlog"
	"github.com/mediaconduit/txcore/status"
)

// Command is one queued state change (§4.4).
type Command uint8

const (
	Idle Command = iota
	Reset
	Start
	Shutdown
)

func (c Command) String() string {
	switch c {
	case Reset:
		return "reset"
	case Start:
		return "start"
	case Shutdown:
		return "shutdown"
	default:
		return "idle"
	}
}

// AdapterController is the subset of transport.Adapter the manager itself
// is allowed to call: never Send/Recv, only the three lifecycle
// operations named in §4.4's first invariant ("the manager never calls
// adapter send/recv directly; it only resets/starts/closes").
type AdapterController interface {
	Start() error
	Reset() error
	Close() error
}

// Flusher is implemented by the tx (and, symmetrically, rx) pipeline: the
// manager calls it during Reset and Shutdown to drain in-flight resources
// before touching the adapter, per §4.4 step 2.
type Flusher interface {
	Flush()
}

// ConnStatusCB delivers the connection-level fold of §4.4's last
// paragraph: Connected iff every endpoint is Connected, carrying the
// negotiated protocol version and remote address of the endpoint whose
// transition triggered the recompute.
type ConnStatusCB func(connID string, connected bool, protocolVersion, remoteAddr string)

type endpointEntry struct {
	id          string
	adapter     AdapterController
	flusher     Flusher
	connected   bool
	protoVer    string
	remoteAddr  string
	destroying  bool
	shutdown    bool // once true, absorbs every further queued command (§4.4 "Shutdown is idempotent")
}

type registration struct {
	name   string
	signal chan struct{} // buffered(1): manager asserts, worker observes and calls WaitForCompletion
}

// Manager coordinates one connection's endpoints. It is safe for
// concurrent use by the payload worker(s), the poll worker, and probe/API
// goroutines that queue commands.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	connID string
	onConn ConnStatusCB

	endpoints map[string]*endpointEntry
	queues    map[string][]Command

	regs    []*registration
	waiting int

	pollWaitingAsserted bool
	roundPending        bool
	roundDone           chan struct{}

	destroyCh chan string // endpoint IDs queued for poll-thread-side destruction (§4.4 last invariant)

	stopped bool
	runDone chan struct{}
}

// New creates a Manager for one connection. cb may be nil if the caller
// does not need connection-level status notifications (e.g. in tests).
func New(connID string, cb ConnStatusCB) *Manager {
	m := &Manager{
		connID:    connID,
		onConn:    cb,
		endpoints: make(map[string]*endpointEntry, 4),
		queues:    make(map[string][]Command, 4),
		roundDone: make(chan struct{}),
		destroyCh: make(chan string, 16),
		runDone:   make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// AddEndpoint registers an endpoint's adapter/flusher pair so future
// commands queued against id take effect on them.
func (m *Manager) AddEndpoint(id string, ac AdapterController, fl Flusher) {
	m.mu.Lock()
	m.endpoints[id] = &endpointEntry{id: id, adapter: ac, flusher: fl}
	m.mu.Unlock()
}

// RemoveEndpoint defers actual teardown to the poll thread via DrainDestroy
// (§4.4's last invariant: "endpoint destroy is deferred to the poll thread
// ... to ensure no poll thread is mid-call on the endpoint's adapter
// handle").
func (m *Manager) RemoveEndpoint(id string) {
	m.mu.Lock()
	if e, ok := m.endpoints[id]; ok {
		e.destroying = true
	}
	m.mu.Unlock()
	m.destroyCh <- id
}

// DrainDestroy is called by the poll worker, never blocked in
// WaitForCompletion, to actually delete endpoint bookkeeping queued by
// RemoveEndpoint.
func (m *Manager) DrainDestroy() {
	for {
		select {
		case id := <-m.destroyCh:
			m.mu.Lock()
			delete(m.endpoints, id)
			delete(m.queues, id)
			m.mu.Unlock()
		default:
			return
		}
	}
}

//
// Coordinator contract (txpipeline.Coordinator / probe workers)
//

// Register is called once by each worker goroutine that touches
// endpoint-owned resources. The returned channel is asserted (one
// non-blocking send) whenever any endpoint's command queue gains an entry.
func (m *Manager) Register(name string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &registration{name: name, signal: make(chan struct{}, 1)}
	m.regs = append(m.regs, r)
	return r.signal
}

// WaitForCompletion blocks until the in-flight state change round
// finishes. Every registered worker (other than the poll worker, which
// uses Poll instead) must call this as soon as it observes its signal
// channel readable.
func (m *Manager) WaitForCompletion() {
	m.mu.Lock()
	m.waiting++
	done := m.roundDone
	if m.waiting >= len(m.regs) {
		m.cond.Broadcast()
	}
	m.mu.Unlock()
	<-done
}

// Poll implements the poll-worker exception of §4.4: it never blocks.
// cursor is the endpoint ID the poll worker last serviced (""  to start);
// Poll returns whether the caller should poll `next` this iteration and
// which endpoint ID to try next, round-robin over registered endpoints.
// The first time a round is pending, the poll worker's contribution to the
// quiesce barrier is counted exactly once, matching "increments an
// internal thread-waiting counter once".
func (m *Manager) Poll(cursor string) (shouldPoll bool, next string) {
	m.mu.Lock()
	next = m.nextEndpointLocked(cursor)

	if m.roundPending && !m.pollWaitingAsserted {
		m.pollWaitingAsserted = true
		m.waiting++
		if m.waiting >= len(m.regs) {
			m.cond.Broadcast()
		}
	}
	blocked := m.roundPending
	m.mu.Unlock()

	if blocked {
		return false, next
	}
	return true, next
}

func (m *Manager) nextEndpointLocked(cursor string) string {
	if len(m.endpoints) == 0 {
		return ""
	}
	ids := make([]string, 0, len(m.endpoints))
	for id := range m.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if cursor == "" {
		return ids[0]
	}
	for i, id := range ids {
		if id == cursor {
			return ids[(i+1)%len(ids)]
		}
	}
	return ids[0]
}

//
// Command queueing
//

func (m *Manager) queue(epID string, cmd Command) {
	m.mu.Lock()
	if e, ok := m.endpoints[epID]; ok && e.shutdown {
		// Shutdown absorbs every further command for this endpoint.
		m.mu.Unlock()
		return
	}
	m.queues[epID] = append(m.queues[epID], cmd)
	m.roundPending = true
	for _, r := range m.regs {
		select {
		case r.signal <- struct{}{}:
		default:
		}
	}
	m.cond.Broadcast()
	m.mu.Unlock()
}

// QueueReset queues a Reset for endpoint id: flush in-flight resources,
// then adapter Reset, then mark Disconnected.
func (m *Manager) QueueReset(id string) { m.queue(id, Reset) }

// QueueStart queues a Start for endpoint id: adapter Start, probe resumes.
func (m *Manager) QueueStart(id string) { m.queue(id, Start) }

// Shutdown queues a Shutdown for endpoint id and marks it so that every
// further command for this endpoint (queued before or after this round
// runs) is silently absorbed, per §4.4's idempotence requirement.
func (m *Manager) Shutdown(id string) {
	m.mu.Lock()
	e, ok := m.endpoints[id]
	if ok && e.shutdown {
		m.mu.Unlock()
		return
	}
	if ok {
		e.shutdown = true
	}
	m.queues[id] = append(m.queues[id], Shutdown)
	m.roundPending = true
	for _, r := range m.regs {
		select {
		case r.signal <- struct{}{}:
		default:
		}
	}
	m.cond.Broadcast()
	m.mu.Unlock()
}

//
// Manager goroutine
//

// Run is the endpoint manager's own goroutine loop (§5: "one endpoint
// manager thread"). It blocks until a round is both pending and every
// registered worker has quiesced, applies every queued command (in arrival
// order for each endpoint; different endpoints' commands run concurrently,
// see applyCommands), then releases the barrier and starts waiting for the
// next round.
// Run returns once Close is called and no round is pending.
func (m *Manager) Run() {
	defer close(m.runDone)
	for {
		m.mu.Lock()
		for !m.stopped && !(m.roundPending && len(m.regs) > 0 && m.waiting >= len(m.regs)) {
			m.cond.Wait()
		}
		if m.stopped && !m.roundPending {
			m.mu.Unlock()
			return
		}
		cmds := m.drainQueuesLocked()
		m.mu.Unlock()

		m.applyCommands(cmds)

		m.mu.Lock()
		close(m.roundDone)
		m.roundDone = make(chan struct{})
		m.waiting = 0
		m.pollWaitingAsserted = false
		m.roundPending = false
		m.mu.Unlock()
	}
}

// Close stops Run once any in-flight round finishes; it does not itself
// queue a Shutdown for any endpoint.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopped = true
	m.cond.Broadcast()
	m.mu.Unlock()
	<-m.runDone
}

type queuedCmd struct {
	epID string
	cmd  Command
}

func (m *Manager) drainQueuesLocked() []queuedCmd {
	var out []queuedCmd
	for epID, q := range m.queues {
		for _, c := range q {
			out = append(out, queuedCmd{epID: epID, cmd: c})
		}
		m.queues[epID] = nil
	}
	return out
}

// applyCommands runs the state-change algorithm of §4.4 step 2, outside
// the manager's lock: every registered worker is parked in
// WaitForCompletion or reporting not-polling, so nothing else touches
// endpoint-owned resources concurrently with this. Commands against
// distinct endpoints are independent (they touch that endpoint's own
// adapter/flusher only), so one goroutine per endpoint runs its ordered
// command sub-sequence concurrently with the others; commands queued
// for the same endpoint stay strictly ordered within that goroutine.
func (m *Manager) applyCommands(cmds []queuedCmd) {
	byEndpoint := make(map[string][]Command, len(cmds))
	order := make([]string, 0, len(cmds))
	for _, qc := range cmds {
		if _, seen := byEndpoint[qc.epID]; !seen {
			order = append(order, qc.epID)
		}
		byEndpoint[qc.epID] = append(byEndpoint[qc.epID], qc.cmd)
	}

	var foldMu sync.Mutex
	foldNeeded := false

	var g errgroup.Group
	for _, epID := range order {
		epID, cs := epID, byEndpoint[epID]
		g.Go(func() error {
			m.mu.Lock()
			e, ok := m.endpoints[epID]
			m.mu.Unlock()
			if !ok {
				return nil
			}
			for _, cmd := range cs {
				if m.applyOne(e, cmd) {
					foldMu.Lock()
					foldNeeded = true
					foldMu.Unlock()
				}
			}
			return nil
		})
	}
	g.Wait() // every goroutine above always returns nil; Wait only joins them

	if foldNeeded {
		m.notifyConnStatus()
	}
}

// applyOne runs a single command against one endpoint's adapter/flusher,
// reporting whether the connection-status fold needs recomputing.
func (m *Manager) applyOne(e *endpointEntry, cmd Command) (foldNeeded bool) {
	switch cmd {
	case Idle:
		// no-op
	case Reset:
		if e.flusher != nil {
			e.flusher.Flush()
		}
		if e.adapter != nil {
			if err := e.adapter.Reset(); err != nil {
				nlog.Warningf("endpoint %s: adapter reset: %v", e.id, err)
			}
		}
		m.mu.Lock()
		e.connected = false
		m.mu.Unlock()
		foldNeeded = true
	case Start:
		if e.adapter != nil {
			if err := e.adapter.Start(); err != nil {
				nlog.Warningf("endpoint %s: adapter start: %v", e.id, err)
			}
		}
		// Connected is asserted later by NotifyConnected once the
		// probe handshake completes, not immediately on Start.
	case Shutdown:
		if e.flusher != nil {
			e.flusher.Flush()
		}
		if e.adapter != nil {
			if err := e.adapter.Close(); err != nil {
				nlog.Warningf("endpoint %s: adapter close: %v", e.id, err)
			}
		}
		m.mu.Lock()
		e.connected = false
		m.mu.Unlock()
		foldNeeded = true
	}
	return foldNeeded
}

//
// Connection-status fold (§4.4 last paragraph)
//

// NotifyConnected is called by the probe subsystem once an endpoint's
// handshake completes, carrying the negotiated protocol version and
// remote address for the connection callback.
func (m *Manager) NotifyConnected(epID, protocolVersion, remoteAddr string) {
	m.mu.Lock()
	e, ok := m.endpoints[epID]
	if ok {
		e.connected = true
		e.protoVer = protocolVersion
		e.remoteAddr = remoteAddr
	}
	m.mu.Unlock()
	if ok {
		m.notifyConnStatus()
	}
}

// NotifyDisconnected is called when the probe subsystem observes the peer
// drop out of Connected state, independent of a local Reset/Shutdown.
func (m *Manager) NotifyDisconnected(epID string) {
	m.mu.Lock()
	e, ok := m.endpoints[epID]
	if ok {
		e.connected = false
	}
	m.mu.Unlock()
	if ok {
		m.notifyConnStatus()
	}
}

func (m *Manager) notifyConnStatus() {
	m.mu.Lock()
	allConnected := len(m.endpoints) > 0
	var protoVer, remoteAddr string
	for _, e := range m.endpoints {
		if !e.connected {
			allConnected = false
		} else {
			protoVer, remoteAddr = e.protoVer, e.remoteAddr
		}
	}
	cb := m.onConn
	connID := m.connID
	m.mu.Unlock()

	// Delivered outside the lock: §5 forbids running user code inside any
	// SDK lock-bearing critical section.
	if cb != nil {
		cb(connID, allConnected, protoVer, remoteAddr)
	}
}

// IsConnected reports whether endpoint id is currently marked connected;
// used by submission paths to return NotConnected immediately (§4.6 step 1)
// without round-tripping through the manager goroutine.
func (m *Manager) IsConnected(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	return ok && e.connected
}

// EnsureRegistered returns an InvalidHandle status.Error if id is not
// registered with this manager (nil otherwise), for callers that need a
// status.Error rather than a bare bool.
func (m *Manager) EnsureRegistered(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return status.New(status.InvalidHandle, "endpoint %q not registered with this manager", id)
	}
	return nil
}

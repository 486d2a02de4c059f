package probe

import (
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"
	"golang.org/x/time/rate"

	"github.com/mediaconduit/txcore/cmn/nlog"
	"github.com/mediaconduit/txcore/config"
)

// State names the per-endpoint handshake states of §4.3 (transmitter
// side); the receiver side mirrors the same states by reacting to inbound
// commands instead of initiating them (see HandleIncoming).
type State uint8

const (
	Disconnected State = iota
	SendReset
	WaitReset
	SendProtocolVersion
	WaitProtocolVersionAck
	Connected
)

func (s State) String() string {
	switch s {
	case SendReset:
		return "send-reset"
	case WaitReset:
		return "wait-reset"
	case SendProtocolVersion:
		return "send-protocol-version"
	case WaitProtocolVersionAck:
		return "wait-protocol-version-ack"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Sender delivers an encoded Header to the peer over the control
// interface (C2); implemented by the control package.
type Sender interface {
	SendProbe(Header) error
}

// MachineConfig configures one endpoint's probe state machine.
type MachineConfig struct {
	EndpointID    string
	LocalVersion  Version
	LocalIP       string
	StreamName    string
	StreamID      int32
	Sender        Sender
	MaxRetries    int
	RetryInterval time.Duration
	PingInterval  time.Duration
	DedupCapacity uint

	// OnConnected fires once, from either the initiator or responder side,
	// when the handshake completes; it carries the negotiated version and
	// the remote address, matching §4.4's connection callback contract.
	OnConnected    func(negotiated Version, remoteAddr string)
	OnDisconnected func()
}

// Machine is the per-endpoint probe protocol state machine (§4.3): it
// drives the transmitter-side handshake (Disconnected -> SendReset ->
// WaitReset -> SendProtocolVersion -> WaitProtocolVersionAck -> Connected
// -> periodic Ping) and, symmetrically, reacts to a peer's handshake via
// HandleIncoming when this endpoint is itself the responder.
type Machine struct {
	cfg MachineConfig

	mu          sync.Mutex
	state       State
	seq         uint16
	remoteAddr  string
	negotiated  Version
	retryCount  int
	pendingCmd  Command
	pendingSeq  uint16
	pendingSent time.Time
	lastPing    time.Time
	connected   bool

	dedup        *cuckoo.Filter
	retryLimiter *rate.Limiter
	pingLimiter  *rate.Limiter
}

// ProbeRetryCount is exported as a metric per §4.3.
func (m *Machine) ProbeRetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

func NewMachine(cfg MachineConfig) *Machine {
	dflt := config.Get()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = dflt.ProbeMaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = dflt.ProbeRetryInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = dflt.ProbePingInterval
	}
	if cfg.DedupCapacity == 0 {
		cfg.DedupCapacity = dflt.ProbeDedupCapacity
	}
	return &Machine{
		cfg:          cfg,
		state:        Disconnected,
		dedup:        cuckoo.NewFilter(cfg.DedupCapacity),
		retryLimiter: rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
		pingLimiter:  rate.NewLimiter(rate.Every(cfg.PingInterval), 1),
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start kicks off the initiator-side handshake: SendReset is the
// instantaneous act of sending, WaitReset is the durable state this
// machine sits in until the peer's ack (or a retry) arrives.
func (m *Machine) Start() {
	m.mu.Lock()
	m.state = SendReset
	m.retryCount = 0
	m.mu.Unlock()
	m.sendPending(CmdReset, true)
	m.mu.Lock()
	m.state = WaitReset
	m.mu.Unlock()
}

func (m *Machine) header(cmd Command, requiresAck bool, seq uint16) Header {
	return Header{
		ProtocolVersion:       m.cfg.LocalVersion,
		Command:               cmd,
		SenderIP:              m.cfg.LocalIP,
		SenderStreamName:      m.cfg.StreamName,
		SenderStreamID:        m.cfg.StreamID,
		ControlPacketNum:      seq,
		RequiresAck:           requiresAck,
	}
}

func (m *Machine) nextSeq() uint16 {
	m.seq++
	return m.seq
}

func (m *Machine) sendPending(cmd Command, requiresAck bool) {
	m.mu.Lock()
	seq := m.nextSeq()
	m.pendingCmd = cmd
	m.pendingSeq = seq
	m.pendingSent = time.Now()
	m.mu.Unlock()

	h := m.header(cmd, requiresAck, seq)
	if m.cfg.Sender != nil {
		if err := m.cfg.Sender.SendProbe(h); err != nil {
			nlog.Warningf("probe %s: send %s: %v", m.cfg.EndpointID, cmd, err)
		}
	}
}

func (m *Machine) sendAck(ackCmd Command, ackSeq uint16) {
	h := Header{
		ProtocolVersion:      m.cfg.LocalVersion,
		Command:              CmdAck,
		SenderIP:             m.cfg.LocalIP,
		SenderStreamName:     m.cfg.StreamName,
		SenderStreamID:       m.cfg.StreamID,
		ControlPacketNum:     m.nextSeqLocked(),
		AckCommand:           ackCmd,
		AckControlPacketNum:  ackSeq,
	}
	if m.cfg.Sender != nil {
		if err := m.cfg.Sender.SendProbe(h); err != nil {
			nlog.Warningf("probe %s: send ack(%s): %v", m.cfg.EndpointID, ackCmd, err)
		}
	}
}

func (m *Machine) nextSeqLocked() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSeq()
}

// Tick drives retries and periodic pings; call it from a housekeeping
// callback (hk.Reg) at a sub-retry-interval cadence.
func (m *Machine) Tick() {
	m.mu.Lock()
	state := m.state
	elapsedDue := state != Connected && state != Disconnected && time.Since(m.pendingSent) >= m.cfg.RetryInterval
	m.mu.Unlock()

	switch state {
	case WaitReset:
		if elapsedDue {
			m.retryAck(CmdReset)
		}
	case WaitProtocolVersionAck:
		if elapsedDue {
			m.retryAck(CmdProtocolVersion)
		}
	case Connected:
		if m.pingLimiter.Allow() {
			m.sendPending(CmdPing, false)
		}
	}
}

// retryAck resends cmd with a fresh control_packet_num, bounded by
// MaxRetries (§4.3: "each retry increments probe_retry_count").
func (m *Machine) retryAck(cmd Command) {
	if !m.retryLimiter.Allow() {
		return
	}
	m.mu.Lock()
	m.retryCount++
	retryCount := m.retryCount
	maxRetries := m.cfg.MaxRetries
	m.mu.Unlock()

	if retryCount > maxRetries {
		nlog.Warningf("probe %s: %s exceeded %d retries, giving up", m.cfg.EndpointID, cmd, maxRetries)
		m.fail()
		return
	}
	m.sendPending(cmd, true)
}

func (m *Machine) fail() {
	m.mu.Lock()
	wasConnected := m.connected
	m.state = Disconnected
	m.connected = false
	m.mu.Unlock()
	if wasConnected && m.cfg.OnDisconnected != nil {
		m.cfg.OnDisconnected()
	}
}

// HandleIncoming processes one decoded, already-checksum-verified Header
// from the peer (§4.3: any decode error is handled upstream by dropping
// the packet silently before this is called). remoteAddr identifies the
// sender for the eventual connection callback.
func (m *Machine) HandleIncoming(h Header, remoteAddr string) {
	if h.Command != CmdAck {
		if m.dedup.Lookup(dedupKey(h.ControlPacketNum)) {
			return // duplicate command, already processed/acked
		}
		m.dedup.InsertUnique(dedupKey(h.ControlPacketNum))
	}

	switch h.Command {
	case CmdAck:
		m.handleAck(h, remoteAddr)
	case CmdReset:
		m.handleReset(h, remoteAddr)
	case CmdProtocolVersion:
		m.handleProtocolVersion(h, remoteAddr)
	case CmdPing:
		if h.RequiresAck {
			m.sendAck(CmdPing, h.ControlPacketNum)
		}
	case CmdConnected:
		if h.RequiresAck {
			m.sendAck(CmdConnected, h.ControlPacketNum)
		}
	default:
		// unknown command: silently dropped per §4.3/§6.
	}
}

func dedupKey(seq uint16) []byte { return []byte{byte(seq >> 8), byte(seq)} }

func (m *Machine) handleReset(h Header, remoteAddr string) {
	m.mu.Lock()
	m.remoteAddr = remoteAddr
	m.mu.Unlock()
	if h.RequiresAck {
		m.sendAck(CmdReset, h.ControlPacketNum)
	}
	m.sendPending(CmdProtocolVersion, true)
	m.mu.Lock()
	m.state = WaitProtocolVersionAck
	m.mu.Unlock()
}

func (m *Machine) handleProtocolVersion(h Header, remoteAddr string) {
	m.mu.Lock()
	m.remoteAddr = remoteAddr
	m.negotiated = negotiate(m.cfg.LocalVersion, h.ProtocolVersion)
	negotiated := m.negotiated
	alreadyConnected := m.connected
	m.connected = true
	m.state = Connected
	m.mu.Unlock()

	if h.RequiresAck {
		m.sendAck(CmdProtocolVersion, h.ControlPacketNum)
	}
	if !alreadyConnected && m.cfg.OnConnected != nil {
		m.cfg.OnConnected(negotiated, remoteAddr)
	}
}

func (m *Machine) handleAck(h Header, remoteAddr string) {
	m.mu.Lock()
	expected := h.AckCommand == m.pendingCmd && h.AckControlPacketNum == m.pendingSeq
	state := m.state
	m.mu.Unlock()
	if !expected {
		return
	}

	switch {
	case h.AckCommand == CmdReset && state == WaitReset:
		m.mu.Lock()
		m.retryCount = 0
		m.mu.Unlock()
		m.sendPending(CmdProtocolVersion, true)
		m.mu.Lock()
		m.state = WaitProtocolVersionAck
		m.mu.Unlock()
	case h.AckCommand == CmdProtocolVersion:
		m.mu.Lock()
		m.remoteAddr = remoteAddr
		negotiated := negotiate(m.cfg.LocalVersion, h.ProtocolVersion)
		m.negotiated = negotiated
		alreadyConnected := m.connected
		m.connected = true
		m.state = Connected
		m.retryCount = 0
		m.mu.Unlock()
		if !alreadyConnected && m.cfg.OnConnected != nil {
			m.cfg.OnConnected(negotiated, remoteAddr)
		}
	}
}

// negotiate picks the lower of each version component, the simplest
// mutually-supported contract between two peers advertising independent
// version triples.
func negotiate(local, remote Version) Version {
	return Version{
		Major: minU16(local.Major, remote.Major),
		Minor: minU16(local.Minor, remote.Minor),
		Probe: minU16(local.Probe, remote.Probe),
	}
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

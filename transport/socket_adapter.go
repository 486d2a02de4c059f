package transport

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mediaconduit/txcore/cmn/cos"
	"github.com/mediaconduit/txcore/cmn/nlog"
	"github.com/mediaconduit/txcore/memsys"
	"github.com/mediaconduit/txcore/status"
)

const (
	dfltHeaderSlotSize = 2 * cos.KiB
	dfltHeaderSlots    = 4096
)

// SocketAdapter is the plain-socket alternative to an RDMA provider named
// in §1/§4.1: for UDP sends, completion is synthesized immediately after
// the syscall returns instead of arriving asynchronously off a provider
// completion queue.
type SocketAdapter struct {
	conn   *net.UDPConn
	region *memsys.MRegion
	sink   CompletionSink

	mu        sync.Mutex
	connected bool
	inFlight  int
}

func NewSocketAdapter(region *memsys.MRegion) *SocketAdapter {
	return &SocketAdapter{region: region}
}

// NewDefaultSocketAdapter allocates its own pinned header region sized for
// typical packet-header traffic, for callers (tests, simple tools) that
// don't already own an MRegion.
func NewDefaultSocketAdapter() (*SocketAdapter, error) {
	region, err := memsys.NewMRegion(dfltHeaderSlotSize, dfltHeaderSlots)
	if err != nil {
		return nil, err
	}
	return NewSocketAdapter(region), nil
}

func (a *SocketAdapter) Region() *memsys.MRegion { return a.region }

func (a *SocketAdapter) SetCompletionSink(s CompletionSink) { a.sink = s }

func (a *SocketAdapter) Open(remote string, port int, _ Direction) error {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remote, strconv.Itoa(port)))
	if err != nil {
		return status.New(status.InvalidParameter, "resolve remote %s: %v", remote, err)
	}

	c, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return status.New(status.Fatal, "dial %s: %v", remote, err)
	}
	a.mu.Lock()
	a.conn = c
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *SocketAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

func (a *SocketAdapter) Start() error {
	a.mu.Lock()
	a.connected = a.conn != nil
	a.mu.Unlock()
	return nil
}

// Reset drops the current in-flight accounting; the caller (endpoint
// manager) is responsible for quiescing workers before calling this so no
// EnqueueSend races the reset.
func (a *SocketAdapter) Reset() error {
	a.mu.Lock()
	a.inFlight = 0
	a.mu.Unlock()
	return nil
}

// Poll is a no-op for the socket adapter: completions are synthesized
// synchronously inside EnqueueSend, so there is never deferred work to
// drain. Real RDMA adapters poll a provider completion queue here.
func (a *SocketAdapter) Poll() (PollState, error) {
	return Idle, nil
}

func (a *SocketAdapter) EnqueueSend(sgl *memsys.SGL, internalDataPtr any) error {
	a.mu.Lock()
	conn, connected := a.conn, a.connected
	a.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	total := 0
	for _, e := range sgl.Entries {
		total += len(e.Buf)
	}
	buf := make([]byte, 0, total)
	for _, e := range sgl.Entries {
		buf = append(buf, e.Buf...)
	}

	n, err := conn.Write(buf)
	cst := CompletionOK
	if err != nil {
		nlog.Warningf("socket adapter send failed: %v", err)
		cst = CompletionFatal
	}
	if a.sink != nil {
		a.sink.OnCompletion(Completion{InternalDataPtr: internalDataPtr, PacketLen: n, Status: cst})
	}
	return nil
}

func (a *SocketAdapter) FreeReceiveBuffers(sgl *memsys.SGL) {
	sgl.Free(a.region)
}

func (a *SocketAdapter) TransmitQueueLevel() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// dfltDialTimeout is a package-private 5-second dial timeout default;
// SocketAdapter.Open does not apply it.
const dfltDialTimeout = 5 * time.Second

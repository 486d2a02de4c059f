// Package control implements the control interface of §4.2 (C2): a
// dedicated, adapter-wrapped socket endpoint carrying only probe traffic
// (§4.3), kept fully independent from the data endpoint so the data path
// can be freely reset without losing control continuity. Outbound sends
// use an ephemeral, OS-assigned source port; idle control sockets are
// deactivated by a shared collector and transparently renewed on next use,
// the same idiom the teacher's transport package uses for its data
// streams (transport/collect.go).
package control

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mediaconduit/txcore/cmn/nlog"
	"github.com/mediaconduit/txcore/probe"
	"github.com/mediaconduit/txcore/status"
)

// Conn is one endpoint's control-channel socket. It implements
// probe.Sender so a probe.Machine can be driven directly over it.
type Conn struct {
	epID   string
	conn   *net.UDPConn
	remote *net.UDPAddr // fixed peer for a Dial'd (initiator-side) socket

	mu           sync.Mutex
	replyTo      *net.UDPAddr // learned peer for a Bind'd (responder-side) socket, set on first inbound packet
	lastActivity time.Time
	closed       bool

	machine *probe.Machine
}

// Dial opens an ephemeral-port UDP socket to remote:port dedicated to
// control traffic for endpoint epID (§4.2: "outbound control sends use an
// ephemeral source port, OS-assigned via bind").
func Dial(epID, remote string, port int) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remote, strconv.Itoa(port)))
	if err != nil {
		return nil, status.New(status.InvalidParameter, "control: resolve remote %s: %v", remote, err)
	}

	laddr := &net.UDPAddr{Port: 0} // OS-assigned ephemeral port
	c, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, status.New(status.Fatal, "control: dial %s: %v", remote, err)
	}
	return &Conn{
		epID:         epID,
		conn:         c,
		remote:       raddr,
		lastActivity: time.Now(),
	}, nil
}

// Bind opens a listening control socket for the receiver side, also on an
// OS-assigned ephemeral port when port == 0.
func Bind(epID string, port int) (*Conn, error) {
	c, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, status.New(status.Fatal, "control: bind: %v", err)
	}
	return &Conn{epID: epID, conn: c, lastActivity: time.Now()}, nil
}

// AttachMachine wires a probe state machine to this socket: outbound
// sends go through SendProbe, inbound decode dispatches to
// machine.HandleIncoming via Serve.
func (c *Conn) AttachMachine(m *probe.Machine) { c.machine = m }

// SendProbe implements probe.Sender by encoding h and writing it to the
// control socket, touching lastActivity so the idle collector won't tear
// this connection down mid-handshake.
func (c *Conn) SendProbe(h probe.Header) error {
	buf := make([]byte, h.EncodedSize())
	n := h.Encode(buf)

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	target := c.remote
	if target == nil {
		target = c.replyTo
	}
	c.mu.Unlock()
	if closed || conn == nil {
		return status.New(status.NotConnected, "control: socket closed")
	}

	var err error
	if c.remote != nil {
		// Dial'd socket: the kernel already knows the peer.
		_, err = conn.Write(buf[:n])
	} else if target != nil {
		_, err = conn.WriteToUDP(buf[:n], target)
	} else {
		return status.New(status.NotConnected, "control: no peer known yet to reply to")
	}
	if err != nil {
		return status.New(status.Fatal, "control: send: %v", err)
	}
	c.touch()
	return nil
}

// LocalAddr exposes the bound/ephemeral local address, used by tests and
// by the façade to advertise this endpoint's control port to the peer.
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Serve reads inbound probe packets until the socket is closed, dispatching
// well-formed ones to the attached machine and silently dropping anything
// that fails to decode (§4.3/§6: bad checksum/size/command all drop).
func (c *Conn) Serve() {
	buf := make([]byte, probe.MaxEncodedSize)
	for {
		n, raddr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			nlog.Warningf("control %s: read: %v", c.epID, err)
			return
		}
		c.touch()
		if c.remote == nil {
			c.mu.Lock()
			c.replyTo = raddr
			c.mu.Unlock()
		}

		h, decErr := probe.Decode(buf[:n])
		if decErr != nil {
			nlog.Warningf("control %s: dropping malformed probe packet from %s: %v", c.epID, raddr, decErr)
			continue
		}
		if c.machine != nil {
			c.machine.HandleIncoming(h, raddr.String())
		}
	}
}

// IdleFor reports how long it has been since any traffic crossed this
// socket, consulted by the idle-teardown Collector.
func (c *Conn) IdleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

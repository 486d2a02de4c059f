package probe_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/mediaconduit/txcore/probe"
)

// pairedSender wires two Machines directly together in-process, standing
// in for the control interface (C2) socket: SendProbe on one side calls
// HandleIncoming on the other.
type pairedSender struct {
	mu   sync.Mutex
	peer *probe.Machine
	drop bool
}

func (s *pairedSender) SendProbe(h probe.Header) error {
	s.mu.Lock()
	drop := s.drop
	peer := s.peer
	s.mu.Unlock()
	if drop || peer == nil {
		return nil
	}
	peer.HandleIncoming(h, "peer-addr")
	return nil
}

var _ = Describe("probe state machine", func() {
	It("completes a full handshake and negotiates the lower version", func() {
		var initConnected, respConnected bool
		var initVer, respVer probe.Version
		var mu sync.Mutex

		initSender := &pairedSender{}
		respSender := &pairedSender{}

		initiator := probe.NewMachine(probe.MachineConfig{
			EndpointID:   "init",
			LocalVersion: probe.Version{Major: 2, Minor: 1, Probe: 0},
			LocalIP:      "10.0.0.1",
			Sender:       initSender,
			OnConnected: func(v probe.Version, _ string) {
				mu.Lock()
				initConnected, initVer = true, v
				mu.Unlock()
			},
		})
		responder := probe.NewMachine(probe.MachineConfig{
			EndpointID:   "resp",
			LocalVersion: probe.Version{Major: 1, Minor: 5, Probe: 2},
			LocalIP:      "10.0.0.2",
			Sender:       respSender,
			OnConnected: func(v probe.Version, _ string) {
				mu.Lock()
				respConnected, respVer = true, v
				mu.Unlock()
			},
		})
		initSender.peer = responder
		respSender.peer = initiator

		initiator.Start()

		Eventually(func() bool {
			mu.Lock()
			defer mu.Unlock()
			return initConnected && respConnected
		}, time.Second).Should(BeTrue())

		Expect(initiator.State()).To(Equal(probe.Connected))
		Expect(responder.State()).To(Equal(probe.Connected))

		mu.Lock()
		defer mu.Unlock()
		Expect(initVer).To(Equal(probe.Version{Major: 1, Minor: 1, Probe: 0}))
		Expect(respVer).To(Equal(initVer))
	})

	It("retries a dropped Reset up to the configured bound and gives up", func() {
		sender := &pairedSender{drop: true}
		m := probe.NewMachine(probe.MachineConfig{
			EndpointID:    "lonely",
			LocalVersion:  probe.Version{Major: 1},
			Sender:        sender,
			MaxRetries:    2,
			RetryInterval: time.Millisecond,
		})
		m.Start()
		Expect(m.State()).To(Equal(probe.WaitReset))

		for i := 0; i < 10; i++ {
			time.Sleep(2 * time.Millisecond)
			m.Tick()
		}

		Eventually(func() int { return m.ProbeRetryCount() }).Should(BeNumerically(">", 0))
		Expect(m.State()).To(Equal(probe.Disconnected))
	})
})

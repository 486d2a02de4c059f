package endpoint_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/mediaconduit/txcore/endpoint"
)

type fakeAdapter struct {
	mu              sync.Mutex
	resetCalls      int
	startCalls      int
	closeCalls      int
	sendObservedDuringReset bool
}

func (f *fakeAdapter) Reset() error { f.mu.Lock(); f.resetCalls++; f.mu.Unlock(); return nil }
func (f *fakeAdapter) Start() error { f.mu.Lock(); f.startCalls++; f.mu.Unlock(); return nil }
func (f *fakeAdapter) Close() error { f.mu.Lock(); f.closeCalls++; f.mu.Unlock(); return nil }

type fakeFlusher struct {
	flushed int32
}

func (f *fakeFlusher) Flush() { f.flushed++ }

var _ = Describe("endpoint manager", func() {
	It("quiesces a registered worker before applying Reset", func() {
		var gotConnected []bool
		mgr := endpoint.New("conn-1", func(_ string, connected bool, _ string, _ string) {
			gotConnected = append(gotConnected, connected)
		})
		ad := &fakeAdapter{}
		fl := &fakeFlusher{}
		mgr.AddEndpoint("ep-1", ad, fl)

		go mgr.Run()
		defer mgr.Close()

		newCmd := mgr.Register("worker")
		workerLoop := make(chan struct{})
		go func() {
			<-newCmd
			mgr.WaitForCompletion()
			close(workerLoop)
		}()

		mgr.NotifyConnected("ep-1", "1.0", "10.0.0.2:9000")
		Eventually(func() bool { return len(gotConnected) > 0 }, time.Second).Should(BeTrue())

		mgr.QueueReset("ep-1")
		Eventually(workerLoop, time.Second).Should(BeClosed())

		Eventually(func() int { ad.mu.Lock(); defer ad.mu.Unlock(); return ad.resetCalls }, time.Second).Should(Equal(1))
		Expect(fl.flushed).To(Equal(int32(1)))
		Expect(mgr.IsConnected("ep-1")).To(BeFalse())
	})

	It("counts the poll worker's contribution without blocking it", func() {
		mgr := endpoint.New("conn-2", nil)
		ad := &fakeAdapter{}
		mgr.AddEndpoint("ep-1", ad, nil)

		go mgr.Run()
		defer mgr.Close()

		// Register one blocking worker and the poll worker (which never
		// calls WaitForCompletion).
		blockingCmd := mgr.Register("payload-worker")
		mgr.Register("poll-worker")

		done := make(chan struct{})
		go func() {
			<-blockingCmd
			mgr.WaitForCompletion()
			close(done)
		}()

		mgr.QueueStart("ep-1")

		// The poll worker reports itself quiesced via Poll without ever
		// blocking; once it has, the round can complete even though it
		// never called WaitForCompletion.
		Eventually(func() bool {
			shouldPoll, _ := mgr.Poll("")
			return !shouldPoll
		}, time.Second).Should(BeTrue())

		Eventually(done, time.Second).Should(BeClosed())
		Eventually(func() int { ad.mu.Lock(); defer ad.mu.Unlock(); return ad.startCalls }, time.Second).Should(Equal(1))
	})

	It("folds per-endpoint status to Connected only when every endpoint is connected", func() {
		var mu sync.Mutex
		var lastConnected bool
		mgr := endpoint.New("conn-3", func(_ string, connected bool, _, _ string) {
			mu.Lock()
			lastConnected = connected
			mu.Unlock()
		})
		mgr.AddEndpoint("ep-1", &fakeAdapter{}, nil)
		mgr.AddEndpoint("ep-2", &fakeAdapter{}, nil)

		mgr.NotifyConnected("ep-1", "1.0", "a")
		mu.Lock()
		Expect(lastConnected).To(BeFalse())
		mu.Unlock()

		mgr.NotifyConnected("ep-2", "1.0", "b")
		mu.Lock()
		Expect(lastConnected).To(BeTrue())
		mu.Unlock()

		mgr.NotifyDisconnected("ep-1")
		mu.Lock()
		Expect(lastConnected).To(BeFalse())
		mu.Unlock()
	})

	It("idempotently absorbs repeated Shutdown for the same endpoint", func() {
		mgr := endpoint.New("conn-4", nil)
		ad := &fakeAdapter{}
		mgr.AddEndpoint("ep-1", ad, nil)
		go mgr.Run()
		defer mgr.Close()

		newCmd := mgr.Register("worker")
		go func() {
			for range newCmd {
				mgr.WaitForCompletion()
			}
		}()

		mgr.Shutdown("ep-1")
		mgr.Shutdown("ep-1")
		mgr.Shutdown("ep-1")

		Eventually(func() int { ad.mu.Lock(); defer ad.mu.Unlock(); return ad.closeCalls }, time.Second).Should(Equal(1))
	})
})

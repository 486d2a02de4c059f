package transport_test

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mediaconduit/txcore/memsys"
	"github.com/mediaconduit/txcore/transport"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []transport.Completion
	done chan struct{}
}

func newRecordingSink() *recordingSink { return &recordingSink{done: make(chan struct{}, 16)} }

func (s *recordingSink) OnCompletion(c transport.Completion) {
	s.mu.Lock()
	s.got = append(s.got, c)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func TestSocketAdapterSendSynthesizesCompletion(t *testing.T) {
	lc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer lc.Close()
	_, portStr, _ := net.SplitHostPort(lc.LocalAddr().String())
	port, _ := strconv.Atoi(portStr)

	region, err := memsys.NewMRegion(128, 4)
	if err != nil {
		t.Fatalf("NewMRegion: %v", err)
	}
	defer region.Close()

	a := transport.NewSocketAdapter(region)
	sink := newRecordingSink()
	a.SetCompletionSink(sink)

	if err := a.Open("127.0.0.1", port, transport.DirSend); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	handle, buf, ok := region.Alloc()
	if !ok {
		t.Fatalf("Alloc: expected ok")
	}
	copy(buf, []byte("hello"))
	sgl := memsys.NewSGL(1)
	sgl.Append(memsys.SGLEntry{Buf: buf[:5], Handle: handle})

	if err := a.EnqueueSend(sgl, "work-request-1"); err != nil {
		t.Fatalf("EnqueueSend: %v", err)
	}

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(sink.got))
	}
	if sink.got[0].Status != transport.CompletionOK {
		t.Fatalf("expected CompletionOK, got %v", sink.got[0].Status)
	}
	if sink.got[0].InternalDataPtr != "work-request-1" {
		t.Fatalf("expected internal data ptr round trip, got %v", sink.got[0].InternalDataPtr)
	}
}

func TestSocketAdapterNotConnected(t *testing.T) {
	region, err := memsys.NewMRegion(128, 1)
	if err != nil {
		t.Fatalf("NewMRegion: %v", err)
	}
	defer region.Close()
	a := transport.NewSocketAdapter(region)

	sgl := memsys.NewSGL(0)
	if err := a.EnqueueSend(sgl, nil); err != transport.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

package txpipeline

import (
	"github.com/mediaconduit/txcore/cmn/mono"
	"github.com/mediaconduit/txcore/cmn/nlog"
	"github.com/mediaconduit/txcore/transport/packetizer"
)

// Run is the payload worker's state machine (§5): Idle while waiting for
// either a new submitted payload or a state-change command, then
// Packetizing/Enqueuing the current payload's packets in growing batches
// until it is exhausted, back to Idle. It returns once payloadCh is closed.
func (w *Worker) Run() {
	newCmd := w.coordinator.Register("payload-worker")

	for {
		w.drainCompletions()

		if w.current == nil {
			select {
			case ps, ok := <-w.payloadCh:
				if !ok {
					return
				}
				w.beginPayload(ps)
			case <-newCmd:
				w.coordinator.WaitForCompletion()
				continue
			}
		}

		w.pumpCurrent(newCmd)
	}
}

// Close stops the worker from accepting further submissions; Run returns
// once every payload already queued has been fully packetized and the
// completions already delivered to the worker have been handled; it does
// not wait for completions still outstanding. Submit calls racing a concurrent Close may panic on the
// closed payloadCh, so callers must stop submitting before calling Close.
func (w *Worker) Close() {
	close(w.payloadCh)
}

func (w *Worker) beginPayload(ps *packetizer.TxPayloadState) {
	ps.PayloadNum = w.payloadNo
	w.payloadNo++
	ps.StartTimeMono = mono.NanoTime()
	w.current = ps
}

// pumpCurrent drives pz.Next against the in-flight payload in batches that
// double on every successful EnqueueSend, per §5's batch-growth rule; it
// returns to Run's top once the payload is exhausted, a command arrives, or
// a pool is momentarily exhausted (ready=false), in which case it waits for
// a completion to free a slot before retrying.
func (w *Worker) pumpCurrent(newCmd <-chan struct{}) {
	batch := 1
	for w.current != nil {
		select {
		case <-newCmd:
			w.coordinator.WaitForCompletion()
			return
		default:
		}

		sent := 0
		for sent < batch {
			wr, ready, last, err := w.pz.Next(w.current)
			if err != nil {
				nlog.Warningf("packetizer: payload %d: %v", w.current.PayloadNum, err)
				w.failCurrent(err)
				return
			}
			if !ready {
				if sent == 0 {
					w.waitForCompletion(newCmd)
				}
				return
			}
			if enqErr := w.adapter.EnqueueSend(wr.SGL, wr); enqErr != nil {
				nlog.Warningf("EnqueueSend: payload %d packet %d: %v",
					wr.Payload.PayloadNum, wr.PacketSequenceNum, enqErr)
				w.freeWorkRequest(wr)
				w.failCurrent(enqErr)
				return
			}
			w.current.PacketsInFlight++
			sent++
			if last {
				w.current.AllPacketsSent = true
				w.current = nil
				return
			}
		}
		if batch < 1<<20 {
			batch *= 2
		}
		w.drainCompletions()
	}
}

// waitForCompletion blocks for exactly one completion or command so a
// pool-exhaustion retry doesn't spin; it is only called when the payload
// worker has no other useful work queued.
func (w *Worker) waitForCompletion(newCmd <-chan struct{}) {
	select {
	case wr := <-w.completionCh:
		w.handleCompletion(wr, nil)
	case <-newCmd:
		w.coordinator.WaitForCompletion()
	}
}

func (w *Worker) drainCompletions() {
	for {
		select {
		case wr := <-w.completionCh:
			w.handleCompletion(wr, nil)
		default:
			return
		}
	}
}

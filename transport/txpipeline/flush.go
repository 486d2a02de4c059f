package txpipeline

import (
	"github.com/mediaconduit/txcore/status"
	"github.com/mediaconduit/txcore/transport/packetizer"
)

// Flush implements the reset/shutdown drain path of §4.6: the endpoint
// manager calls it before resetting or closing the adapter, and it
// guarantees exactly one application callback per payload submitted
// to this worker, including payloads that were fully enqueued but still had
// packets outstanding when Reset fired. It must only be called from the
// payload worker's own goroutine (or with Run already stopped), since it
// touches the pools directly.
func (w *Worker) Flush() {
	w.drainQueued()

	if w.current != nil {
		pending := w.current
		w.current = nil
		w.failPending(pending)
	}

	// Completions already queued are genuine (step 2's adapter Reset hasn't
	// run yet): absorb them first so their payloads account normally before
	// the forced sweep below treats anything still outstanding as
	// abandoned.
	w.drainCompletions()

	w.sweepInUseWorkRequests()
}

// failPending marks a payload that was mid-packetization when Reset fired.
// §7/§4.6 require SendFailed, not NotConnected, for a payload this endpoint
// had already accepted; deliverIfDone only actually fires the callback once
// every packet already enqueued for it has been accounted for by the
// sweep below.
func (w *Worker) failPending(ps *packetizer.TxPayloadState) {
	if ps.Status == status.Ok {
		ps.Status = status.SendFailed
		ps.ErrMsg = "endpoint reset while payload in flight"
	}
	ps.AllPacketsSent = true
	w.deliverIfDone(ps)
}

// drainQueued fails every payload still sitting in payloadCh: none of
// these have had a single packet enqueued yet, so each gets exactly one
// SendFailed callback and its resources are freed immediately.
func (w *Worker) drainQueued() {
	for {
		select {
		case ps := <-w.payloadCh:
			ps.Status = status.SendFailed
			ps.ErrMsg = "endpoint reset before payload could be sent"
			ps.AllPacketsSent = true
			w.deliverIfDone(ps)
		default:
			return
		}
	}
}

// sweepInUseWorkRequests implements §4.6 flush's pool walk: "while the
// work-request pool contains in-use entries, walk them grouped by payload:
// free all packet SGL entries and the work request itself; when the
// payload changes, flag the prior payload with status SendFailed (if not
// already set) and push an application completion message." Any work
// request still checked out here belongs to a packet Reset abandoned
// in-flight — its header/SGL resources are reclaimed unconditionally, and
// its owning payload's in-flight count is walked down to zero so
// deliverIfDone can fire the single guaranteed callback even though the
// adapter itself never completed it. A genuine completion the adapter
// delivers afterwards for the same packet is caught by handleCompletion's
// payload_num guard (§4.6 step 2) once the work request (and possibly its
// payload) has been recycled for later use.
func (w *Worker) sweepInUseWorkRequests() {
	var inUse []*packetizer.PacketWorkRequest
	w.wrPool.PeekInUse(func(wr *packetizer.PacketWorkRequest) {
		inUse = append(inUse, wr)
	})
	if len(inUse) == 0 {
		return
	}

	touched := make(map[*packetizer.TxPayloadState]struct{}, len(inUse))
	for _, wr := range inUse {
		ps := wr.Payload
		w.freeWorkRequest(wr)
		if ps == nil {
			continue
		}
		if ps.PacketsInFlight > 0 {
			ps.PacketsInFlight--
		}
		if _, seen := touched[ps]; !seen {
			touched[ps] = struct{}{}
			if ps.Status == status.Ok {
				ps.Status = status.SendFailed
				ps.ErrMsg = "endpoint reset with packets in flight"
			}
			ps.AllPacketsSent = true
		}
	}
	for ps := range touched {
		w.deliverIfDone(ps)
	}
}

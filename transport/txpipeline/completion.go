package txpipeline

import (
	"github.com/pkg/errors"

	"github.com/mediaconduit/txcore/cmn/mono"
	"github.com/mediaconduit/txcore/cmn/nlog"
	"github.com/mediaconduit/txcore/status"
	"github.com/mediaconduit/txcore/transport"
	"github.com/mediaconduit/txcore/transport/packetizer"
)

// OnCompletion implements transport.CompletionSink. It runs on the
// adapter's poll goroutine, so it does nothing but hand the work request
// off to the payload worker's own goroutine, which is the only writer of
// the payload/work-request pools (§5).
func (w *Worker) OnCompletion(c transport.Completion) {
	wr, ok := c.InternalDataPtr.(*packetizer.PacketWorkRequest)
	if !ok || wr == nil {
		nlog.Warningf("completion sink: unexpected internal data pointer %T", c.InternalDataPtr)
		return
	}
	wr.CompletionStatus = c.Status
	w.completionCh <- wr
}

// handleCompletion runs on the payload worker's own goroutine. It frees the
// packet's header slot and SGL unconditionally, then updates the owning
// payload's in-flight accounting and delivers the application callback at
// most once, exactly when every enqueued packet has completed.
func (w *Worker) handleCompletion(wr *packetizer.PacketWorkRequest, _ error) {
	ps := wr.Payload
	if ps == nil {
		nlog.Warningf("completion for packet %d arrived with no owning payload, dropping", wr.PacketSequenceNum)
		return
	}

	if wr.PayloadNum != ps.PayloadNum {
		// §4.6 step 2: the owning payload's state has moved on to a later
		// submission (it was recycled and reused) since this packet was
		// stamped. Post-reset/post-recycle straggler: log and drop without
		// touching the (unrelated) payload now at ps.
		nlog.Warningf("completion for payload_num %d packet %d dropped: owning state now at payload_num %d",
			wr.PayloadNum, wr.PacketSequenceNum, ps.PayloadNum)
		w.freeWorkRequest(wr)
		return
	}

	switch wr.CompletionStatus {
	case transport.CompletionNotConnected:
		// Endpoint was reset or torn down: silently drop, Flush already
		// owns delivering this payload's callback.
		w.freeWorkRequest(wr)
		return
	case transport.CompletionFatal:
		ps.Status = status.Fatal
		ps.ErrMsg = errors.Wrapf(transport.ErrFatal, "packet %d", wr.PacketSequenceNum).Error()
	default:
		ps.DataBytesTransferred += int64(wr.PayloadBytes)
	}

	w.freeWorkRequest(wr)

	if ps.PacketsInFlight > 0 {
		ps.PacketsInFlight--
	}
	w.deliverIfDone(ps)
}

func (w *Worker) freeWorkRequest(wr *packetizer.PacketWorkRequest) {
	if wr.SGL != nil {
		for _, e := range wr.SGL.Entries {
			if e.Handle >= 0 {
				w.region.Free(e.Handle)
			}
		}
		w.sglPool.Put(wr.SGL)
	}
	w.wrPool.Put(wr)
}

// deliverIfDone delivers the application callback exactly once, when the
// cursor has produced every packet for this payload and every one of them
// has completed. KeepAlive payloads still free resources but never invoke
// the callback (§4.6).
func (w *Worker) deliverIfDone(ps *packetizer.TxPayloadState) {
	if !ps.AllPacketsSent || ps.PacketsInFlight > 0 || ps.CompletionDelivered {
		return
	}
	ps.CompletionDelivered = true

	elapsed := mono.NanoTime() - ps.StartTimeMono
	if w.stats != nil {
		w.stats.RecordPayload(ps.Status.IsOK(), elapsed, ps.MaxLatencyMicrosec, uint64(ps.DataBytesTransferred))
	}
	if !ps.KeepAlive && w.onComplete != nil {
		w.onComplete(ps)
	}

	w.recyclePayload(ps)
}

func (w *Worker) recyclePayload(ps *packetizer.TxPayloadState) {
	if ps.SourceSGL != nil {
		w.sourcePool.Put(ps.SourceSGL)
	}
	w.payloadPool.Put(ps)
}

// failCurrent marks the in-flight payload failed and stops issuing further
// packets for it; any packets already enqueued still drain through
// handleCompletion normally, and deliverIfDone fires the single callback
// once they all do (or immediately, if none were in flight yet).
func (w *Worker) failCurrent(err error) {
	ps := w.current
	w.current = nil
	if ps == nil {
		return
	}
	if st, ok := errors.Cause(err).(*status.Error); ok {
		ps.Status = st.Code
		ps.ErrMsg = st.Msg
	} else {
		ps.Status = status.SendFailed
		ps.ErrMsg = err.Error()
	}
	ps.AllPacketsSent = true
	w.deliverIfDone(ps)
}

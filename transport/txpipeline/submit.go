package txpipeline

import (
	"github.com/mediaconduit/txcore/memsys"
	"github.com/mediaconduit/txcore/status"
	"github.com/mediaconduit/txcore/transport/packetizer"
)

// Submit implements §4.6's submission algorithm. payload_num is
// deliberately left unassigned here (it is assigned on the worker's read
// side in beginPayload) so a QueueFull failure at submission time never
// burns a sequence number.
func (w *Worker) Submit(sourceSGL *memsys.SGL, totalDataSize int64, cfg PayloadConfig) (*packetizer.TxPayloadState, error) {
	if !w.IsConnected() {
		return nil, status.New(status.NotConnected, "endpoint not connected")
	}

	ps, ok := w.payloadPool.Get()
	if !ok {
		return nil, status.New(status.QueueFull, "payload state pool exhausted")
	}

	clone, ok := w.sourcePool.Get()
	if !ok {
		w.payloadPool.Put(ps)
		return nil, status.New(status.AllocationFailed, "source SGL pool exhausted")
	}
	clone.Reset()
	for _, e := range sourceSGL.Entries {
		clone.Append(memsys.SGLEntry{Buf: e.Buf, Handle: -1})
	}
	if clone.TotalSize() != totalDataSize {
		w.sourcePool.Put(clone)
		w.payloadPool.Put(ps)
		return nil, status.New(status.AllocationFailed,
			"source SGL entries sum to %d bytes, total_data_size declared %d", clone.TotalSize(), totalDataSize)
	}

	ps.Reset()
	ps.SourceSGL = clone
	ps.TotalDataSize = totalDataSize
	ps.GroupSizeBytes = GroupSizeBytes(cfg.UnitSizeBits)
	ps.MaxLatencyMicrosec = cfg.MaxLatencyMicrosec
	ps.PayloadUserData = cfg.PayloadUserData
	ps.ExtraData = cfg.ExtraData
	ps.KeepAlive = cfg.KeepAlive
	ps.AppCBData = cfg.AppCBData
	ps.Status = status.Ok

	select {
	case w.payloadCh <- ps:
		return ps, nil
	default:
		w.sourcePool.Put(clone)
		ps.SourceSGL = nil
		w.payloadPool.Put(ps)
		return nil, status.New(status.QueueFull, "payload channel full")
	}
}

// SubmitKeepAlive enqueues a zero-length keep-alive payload (§4.6): its
// completion frees resources normally but the application callback is
// suppressed.
func (w *Worker) SubmitKeepAlive() (*packetizer.TxPayloadState, error) {
	empty := memsys.NewSGL(0)
	return w.Submit(empty, 0, PayloadConfig{KeepAlive: true})
}

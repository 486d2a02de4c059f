package packetizer

import (
	"github.com/mediaconduit/txcore/cmn/nlog"
	"github.com/mediaconduit/txcore/memsys"
	"github.com/mediaconduit/txcore/status"
	"github.com/mediaconduit/txcore/transport"
)

// Packetizer drives the 3-state resumable cursor of §4.5 against a shared
// header region and the packet-SGL/work-request pools the tx pipeline
// owns; it holds no per-payload state itself, so a single Packetizer
// safely serves every payload on a connection (only the payload worker
// ever calls Next, per §5's single-writer pool policy).
type Packetizer struct {
	Region          *memsys.MRegion
	HeaderSGLPool   *memsys.Pool[memsys.SGL]
	WorkReqPool     *memsys.Pool[PacketWorkRequest]
	PacketSizeLimit int
	MaxSGLEntries   int // adapter's per-packet SGL-entry cap, header entry excluded
}

func New(region *memsys.MRegion, sglPool *memsys.Pool[memsys.SGL], wrPool *memsys.Pool[PacketWorkRequest], packetSizeLimit, maxSGLEntries int) *Packetizer {
	return &Packetizer{
		Region:          region,
		HeaderSGLPool:   sglPool,
		WorkReqPool:     wrPool,
		PacketSizeLimit: packetSizeLimit,
		MaxSGLEntries:   maxSGLEntries,
	}
}

// Next builds the next wire packet for ps. ready is false when a pool was
// exhausted; the cursor's position (entry, offset, sequence number) is then
// left unchanged, only its state reads AddingHeader, and the caller retries
// on a later turn. last is true once this packet consumes the final byte of
// the payload's source SGL.
func (pz *Packetizer) Next(ps *TxPayloadState) (wr *PacketWorkRequest, ready, last bool, err error) {
	ps.cur.state = AddingHeader

	wrObj, ok := pz.WorkReqPool.Get()
	if !ok {
		return nil, false, false, nil
	}
	sgl, ok := pz.HeaderSGLPool.Get()
	if !ok {
		pz.WorkReqPool.Put(wrObj)
		return nil, false, false, nil
	}
	sgl.Reset()

	isFirst := ps.cur.nextSeqNum == 0
	var (
		headerSize  int
		payloadType transport.PayloadType
	)
	switch {
	case isFirst:
		headerSize = transport.SizeNumber0Fixed + len(ps.ExtraData)
		payloadType = transport.Number0
	case ps.cur.useDataOffset:
		headerSize = transport.SizeOffsetHdr
		payloadType = transport.DataOffset
	default:
		headerSize = transport.SizeCommonHdr
		payloadType = transport.Data
	}

	handle, buf, ok := pz.Region.Alloc()
	if !ok {
		pz.HeaderSGLPool.Put(sgl)
		pz.WorkReqPool.Put(wrObj)
		return nil, false, false, nil
	}
	if len(buf) < headerSize {
		pz.Region.Free(handle)
		pz.HeaderSGLPool.Put(sgl)
		pz.WorkReqPool.Put(wrObj)
		return nil, false, false, status.New(status.AllocationFailed,
			"header region slot %d bytes too small for %d-byte header", len(buf), headerSize)
	}
	headerBuf := buf[:headerSize]
	sgl.Append(memsys.SGLEntry{Buf: headerBuf, Handle: handle})

	ps.cur.state = AddingEntries

	maxPayloadBytes := pz.PacketSizeLimit - headerSize
	if ps.GroupSizeBytes > 0 {
		if ps.GroupSizeBytes > maxPayloadBytes {
			nlog.Warningf("group_size_bytes %d exceeds max_payload_bytes %d, leaving unaligned",
				ps.GroupSizeBytes, maxPayloadBytes)
		} else {
			maxPayloadBytes = (maxPayloadBytes / ps.GroupSizeBytes) * ps.GroupSizeBytes
		}
	}

	payloadDataOffset := uint32(ps.cur.byteOffset)
	packetBytes := 0
	for packetBytes < maxPayloadBytes &&
		len(sgl.Entries)-1 < pz.MaxSGLEntries &&
		ps.SourceSGL != nil && ps.cur.curEntry < len(ps.SourceSGL.Entries) {

		src := ps.SourceSGL.Entries[ps.cur.curEntry]
		remainInEntry := len(src.Buf) - ps.cur.offsetInEntry
		remainInPacket := maxPayloadBytes - packetBytes
		n := remainInEntry
		if remainInPacket < n {
			n = remainInPacket
		}
		if n <= 0 {
			break
		}

		slice := src.Buf[ps.cur.offsetInEntry : ps.cur.offsetInEntry+n]
		sgl.Append(memsys.SGLEntry{Buf: slice, Handle: -1})
		packetBytes += n
		ps.cur.offsetInEntry += n
		ps.cur.byteOffset += int64(n)
		if ps.cur.offsetInEntry == len(src.Buf) {
			ps.cur.curEntry++
			ps.cur.offsetInEntry = 0
		}
	}

	consumedAll := ps.Done()
	seq := ps.cur.nextSeqNum

	switch payloadType {
	case transport.Number0:
		hdr := transport.Number0Header{
			CommonHeader:       transport.CommonHeader{PayloadType: transport.Number0, PacketSequenceNum: 0, PayloadNum: ps.PayloadNum},
			TotalPayloadSize:   uint32(ps.TotalDataSize),
			MaxLatencyMicrosec: ps.MaxLatencyMicrosec,
			OriginationPTP:     ps.OriginationPTP,
			PayloadUserData:    ps.PayloadUserData,
			ExtraData:          ps.ExtraData,
		}
		hdr.Encode(headerBuf)
	case transport.DataOffset:
		hdr := transport.DataOffsetHeader{
			CommonHeader:      transport.CommonHeader{PayloadType: transport.DataOffset, PacketSequenceNum: seq, PayloadNum: ps.PayloadNum},
			PayloadDataOffset: payloadDataOffset,
		}
		hdr.Encode(headerBuf)
	default:
		ch := transport.CommonHeader{PayloadType: transport.Data, PacketSequenceNum: seq, PayloadNum: ps.PayloadNum}
		ch.Encode(headerBuf)
	}

	wrObj.Payload = ps
	wrObj.HeaderHandle = handle
	wrObj.SGL = sgl
	wrObj.PayloadType = payloadType
	wrObj.PacketSequenceNum = seq
	wrObj.PayloadBytes = packetBytes
	wrObj.PayloadNum = ps.PayloadNum
	wrObj.Next = nil

	ps.cur.nextSeqNum++
	if !consumedAll {
		ps.cur.useDataOffset = true
	}
	ps.cur.state = Inactive

	return wrObj, true, consumedAll, nil
}

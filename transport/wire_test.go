package transport_test

import (
	"bytes"
	"testing"

	"github.com/mediaconduit/txcore/transport"
)

func TestCommonHeaderRoundTrip(t *testing.T) {
	h := transport.CommonHeader{PayloadType: transport.Data, PacketSequenceNum: 42, PayloadNum: 7}
	b := make([]byte, transport.SizeCommonHdr)
	if n := h.Encode(b); n != transport.SizeCommonHdr {
		t.Fatalf("Encode returned %d, want %d", n, transport.SizeCommonHdr)
	}
	got, err := transport.DecodeCommonHeader(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDataOffsetHeaderRoundTrip(t *testing.T) {
	h := transport.DataOffsetHeader{
		CommonHeader:      transport.CommonHeader{PayloadType: transport.DataOffset, PacketSequenceNum: 1, PayloadNum: 3},
		PayloadDataOffset: 980,
	}
	b := make([]byte, transport.SizeOffsetHdr)
	h.Encode(b)
	got, err := transport.DecodeDataOffsetHeader(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestNumber0HeaderRoundTrip(t *testing.T) {
	h := transport.Number0Header{
		CommonHeader:       transport.CommonHeader{PayloadType: transport.Number0, PacketSequenceNum: 0, PayloadNum: 5},
		TotalPayloadSize:   2000,
		MaxLatencyMicrosec: 16666,
		OriginationPTP:     transport.PTPTimestamp{Seconds: 1700000000, Nanoseconds: 123456},
		PayloadUserData:    0xdeadbeef,
		ExtraData:          []byte("hello"),
	}
	b := make([]byte, h.EncodedSize())
	n := h.Encode(b)
	if n != h.EncodedSize() {
		t.Fatalf("Encode returned %d, want %d", n, h.EncodedSize())
	}
	got, err := transport.DecodeNumber0Header(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.CommonHeader != h.CommonHeader || got.TotalPayloadSize != h.TotalPayloadSize ||
		got.MaxLatencyMicrosec != h.MaxLatencyMicrosec || got.OriginationPTP != h.OriginationPTP ||
		got.PayloadUserData != h.PayloadUserData || !bytes.Equal(got.ExtraData, h.ExtraData) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestNumber0HeaderEmptyExtraData(t *testing.T) {
	h := transport.Number0Header{CommonHeader: transport.CommonHeader{PayloadType: transport.Number0}}
	b := make([]byte, h.EncodedSize())
	h.Encode(b)
	got, err := transport.DecodeNumber0Header(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.ExtraData) != 0 {
		t.Fatalf("expected empty ExtraData, got %v", got.ExtraData)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := transport.DecodeCommonHeader([]byte{1, 2}); err == nil {
		t.Fatalf("expected error decoding short common header")
	}
	if _, err := transport.DecodeNumber0Header(make([]byte, transport.SizeNumber0Fixed-1)); err == nil {
		t.Fatalf("expected error decoding short number-0 header")
	}
}

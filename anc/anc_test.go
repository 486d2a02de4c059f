package anc_test

import (
	"reflect"
	"testing"

	"github.com/mediaconduit/txcore/anc"
)

func samplePacket() anc.Packet {
	return anc.Packet{
		IsColorDifferenceChannel: true,
		LineNumber:               42,
		HorizontalOffset:         128,
		HasValidStreamNumber:     true,
		StreamNumber:             3,
		DID:                      0x60,
		SDID:                     0x60,
		UserData:                 []uint8{0x10, 0x20, 0x30, 0xAB, 0xFF},
	}
}

func TestRoundTrip(t *testing.T) {
	pkt := samplePacket()
	buf := anc.Write(pkt)
	if len(buf)%4 != 0 {
		t.Fatalf("packed size %d not a multiple of 4", len(buf))
	}
	if len(buf) != anc.PackedSize(len(pkt.UserData)) {
		t.Fatalf("packed size %d != predicted %d", len(buf), anc.PackedSize(len(pkt.UserData)))
	}

	got, stats, err := anc.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if stats.ChecksumError || stats.ParityErrors != 0 {
		t.Fatalf("unexpected parse errors: %+v", stats)
	}
	if !reflect.DeepEqual(got, pkt) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, pkt)
	}
}

func TestEmptyPacket(t *testing.T) {
	pkt := anc.Packet{DID: 0x41, SDID: 0x05}
	buf := anc.Write(pkt)
	if len(buf) != anc.PackedSize(0) {
		t.Fatalf("packed size %d != predicted %d", len(buf), anc.PackedSize(0))
	}

	got, stats, err := anc.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if stats.ChecksumError || stats.ParityErrors != 0 {
		t.Fatalf("unexpected parse errors: %+v", stats)
	}
	if len(got.UserData) != 0 {
		t.Fatalf("expected empty user data, got %v", got.UserData)
	}
}

func TestCorruptedChecksumDetected(t *testing.T) {
	buf := anc.Write(samplePacket())
	buf[len(buf)-1] ^= 0xFF // flip bits in the trailing checksum word

	_, stats, err := anc.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !stats.ChecksumError {
		t.Fatalf("expected checksum error to be detected")
	}
}

func TestPayloadHeaderRoundTrip(t *testing.T) {
	h := anc.PayloadHeader{AncCount: 7, Kind: anc.Field2}
	buf := make([]byte, anc.SizePayloadHeader)
	h.Encode(buf)

	got, err := anc.DecodePayloadHeader(buf)
	if err != nil {
		t.Fatalf("DecodePayloadHeader: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v want %+v", got, h)
	}
}

func TestDecodePayloadHeaderTooShort(t *testing.T) {
	if _, err := anc.DecodePayloadHeader([]byte{0, 1}); err == nil {
		t.Fatalf("expected error for truncated payload header")
	}
}

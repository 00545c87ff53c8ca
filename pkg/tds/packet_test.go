package tds

import (
	"bytes"
	"testing"
)

func TestBuildPacketsSingleChunkSetsEOM(t *testing.T) {
	payload := []byte("SELECT 1")
	packets := BuildPackets(PacketSQLBatch, payload, DefaultPacketSize)
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(packets))
	}
	hdr, err := ParseHeader(packets[0])
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !hdr.IsEOM() {
		t.Fatalf("expected EOM set on the only packet")
	}
	if int(hdr.Length) != HeaderSize+len(payload) {
		t.Fatalf("length = %d, want %d", hdr.Length, HeaderSize+len(payload))
	}
}

func TestBuildPacketsMultiChunkOnlyLastIsEOM(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 100)
	packets := BuildPackets(PacketSQLBatch, payload, HeaderSize+30)
	if len(packets) < 2 {
		t.Fatalf("expected multiple packets, got %d", len(packets))
	}
	for i, pkt := range packets {
		hdr, err := ParseHeader(pkt)
		if err != nil {
			t.Fatalf("ParseHeader packet %d: %v", i, err)
		}
		isLast := i == len(packets)-1
		if hdr.IsEOM() != isLast {
			t.Fatalf("packet %d EOM = %v, want %v", i, hdr.IsEOM(), isLast)
		}
	}
}

func TestReadMessageReassemblesAcrossPackets(t *testing.T) {
	payload := bytes.Repeat([]byte{0x07}, 50)
	packets := BuildPackets(PacketSQLBatch, payload, HeaderSize+20)

	var wire bytes.Buffer
	for _, p := range packets {
		wire.Write(p)
	}

	pktType, got, gotPackets, err := ReadMessage(&wire)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if pktType != PacketSQLBatch {
		t.Fatalf("pktType = %v, want %v", pktType, PacketSQLBatch)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
	if len(gotPackets) != len(packets) {
		t.Fatalf("packet count = %d, want %d", len(gotPackets), len(packets))
	}
}

func TestAttentionPacketShape(t *testing.T) {
	pkt := BuildAttention()
	hdr, err := ParseHeader(pkt)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.Type != PacketAttention {
		t.Fatalf("type = %v, want Attention", hdr.Type)
	}
	if hdr.Length != HeaderSize {
		t.Fatalf("length = %d, want %d", hdr.Length, HeaderSize)
	}
	if !hdr.IsEOM() {
		t.Fatalf("expected EOM set")
	}
	if !IsAttention(hdr.Type) {
		t.Fatalf("IsAttention should be true")
	}
}

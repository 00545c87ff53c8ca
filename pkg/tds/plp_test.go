package tds

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDecodePLPChunked(t *testing.T) {
	var buf bytes.Buffer
	lenPrefix := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenPrefix, 10)
	buf.Write(lenPrefix)

	chunk1Hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(chunk1Hdr, 4)
	buf.Write(chunk1Hdr)
	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	chunk2Hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(chunk2Hdr, 6)
	buf.Write(chunk2Hdr)
	buf.Write([]byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x01})

	buf.Write(make([]byte, 4)) // terminator

	value, isNull, consumed, err := DecodePLP(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePLP: %v", err)
	}
	if isNull {
		t.Fatalf("expected non-null value")
	}
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x01}
	if !bytes.Equal(value, want) {
		t.Fatalf("value = %x, want %x", value, want)
	}
	if consumed != buf.Len() {
		t.Fatalf("consumed = %d, want %d", consumed, buf.Len())
	}
}

func TestDecodePLPNull(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, plpNullLength)

	value, isNull, consumed, err := DecodePLP(buf)
	if err != nil {
		t.Fatalf("DecodePLP: %v", err)
	}
	if !isNull {
		t.Fatalf("expected null value")
	}
	if value != nil {
		t.Fatalf("expected nil value bytes, got %x", value)
	}
	if consumed != 8 {
		t.Fatalf("consumed = %d, want 8", consumed)
	}
}

func TestEncodeDecodePLPRoundTrip(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog")
	encoded := EncodePLP(original, 7)
	decoded, isNull, _, err := DecodePLP(encoded)
	if err != nil {
		t.Fatalf("DecodePLP: %v", err)
	}
	if isNull {
		t.Fatalf("unexpected null")
	}
	if !bytes.Equal(decoded, original) {
		t.Fatalf("round-trip mismatch: got %q want %q", decoded, original)
	}
}

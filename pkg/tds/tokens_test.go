package tds

import (
	"encoding/binary"
	"testing"
)

func buildEnvChangeDatabase(newDB, oldDB string) []byte {
	newU16 := encodeUTF16LE(newDB)
	oldU16 := encodeUTF16LE(oldDB)

	body := []byte{EnvChangeDatabase}
	body = append(body, byte(len(newU16)/2))
	body = append(body, newU16...)
	body = append(body, byte(len(oldU16)/2))
	body = append(body, oldU16...)

	out := []byte{TokenEnvChange}
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(len(body)))
	out = append(out, lenBuf...)
	out = append(out, body...)
	return out
}

func buildDone(status uint16) []byte {
	out := []byte{TokenDone}
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:2], status)
	out = append(out, buf...)
	return out
}

func TestTokenReaderEnvChangeDatabaseAppliedBeforeDone(t *testing.T) {
	payload := append(buildEnvChangeDatabase("appdb", "master"), buildDone(DoneFinal)...)

	var applied *EnvChangeToken
	reader := NewTokenReader(payload, func(ec EnvChangeToken) {
		cp := ec
		applied = &cp
	})

	tok, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok.Kind != TokenEnvChange {
		t.Fatalf("expected ENVCHANGE token first")
	}
	if applied == nil || applied.NewValue != "appdb" || applied.OldValue != "master" {
		t.Fatalf("onEnvChange not applied correctly: %+v", applied)
	}

	tok2, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok2.Kind != TokenDone {
		t.Fatalf("expected DONE token second")
	}

	tok3, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok3 != nil {
		t.Fatalf("expected end of stream, got %+v", tok3)
	}
}

func TestTokenReaderRoutingEnvChange(t *testing.T) {
	host := "node42.database.windows.net"
	hostU16 := encodeUTF16LE(host)

	inner := []byte{0x00} // protocol
	portBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(portBuf, 11000)
	inner = append(inner, portBuf...)
	hostLenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(hostLenBuf, uint16(len(hostU16)/2))
	inner = append(inner, hostLenBuf...)
	inner = append(inner, hostU16...)

	innerLenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(innerLenBuf, uint16(len(inner)))
	body := []byte{EnvChangeRouting}
	body = append(body, innerLenBuf...)
	body = append(body, inner...)

	payload := []byte{TokenEnvChange}
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(len(body)))
	payload = append(payload, lenBuf...)
	payload = append(payload, body...)

	reader := NewTokenReader(payload, nil)
	tok, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok.EnvChange == nil || tok.EnvChange.Routing == nil {
		t.Fatalf("expected routing envchange")
	}
	if tok.EnvChange.Routing.Host != host || tok.EnvChange.Routing.Port != 11000 {
		t.Fatalf("routing = %+v, want host=%s port=11000", tok.EnvChange.Routing, host)
	}
}

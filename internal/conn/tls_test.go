package conn

import (
	"testing"

	"github.com/sqlstream/tds-go/pkg/tds"
)

func TestNegotiateEncryptionModeOn(t *testing.T) {
	cases := []struct {
		name          string
		serverEnc     byte
		wantWrap      bool
		wantLoginOnly bool
	}{
		{"server off", tds.EncryptOff, false, false},
		{"server on", tds.EncryptOn, true, true},
		{"server not supported but answers on anyway", tds.EncryptNotSup, true, true},
		{"server requires full session encryption", tds.EncryptReq, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrap, loginOnly, cfg := negotiateEncryption(tds.EncryptModeOn, tc.serverEnc, "db.example.com")
			if wrap != tc.wantWrap {
				t.Fatalf("wrap = %v, want %v", wrap, tc.wantWrap)
			}
			if loginOnly != tc.wantLoginOnly {
				t.Fatalf("loginOnly = %v, want %v", loginOnly, tc.wantLoginOnly)
			}
			if cfg == nil || cfg.ServerName != "db.example.com" {
				t.Fatalf("tls config ServerName not set correctly: %+v", cfg)
			}
		})
	}
}

func TestNegotiateEncryptionModeOff(t *testing.T) {
	if wrap, loginOnly, _ := negotiateEncryption(tds.EncryptModeOff, tds.EncryptOff, "h"); wrap || loginOnly {
		t.Fatalf("mode off + server off should not wrap, got wrap=%v loginOnly=%v", wrap, loginOnly)
	}
	if wrap, loginOnly, _ := negotiateEncryption(tds.EncryptModeOff, tds.EncryptReq, "h"); !wrap || loginOnly {
		t.Fatalf("mode off + server req should wrap for the full session, got wrap=%v loginOnly=%v", wrap, loginOnly)
	}
}

func TestNegotiateEncryptionModeStrictAlwaysFullSession(t *testing.T) {
	for _, serverEnc := range []byte{tds.EncryptOff, tds.EncryptOn, tds.EncryptNotSup, tds.EncryptReq} {
		wrap, loginOnly, _ := negotiateEncryption(tds.EncryptModeStrict, serverEnc, "h")
		if !wrap || loginOnly {
			t.Fatalf("strict mode must always wrap the full session regardless of server response %v, got wrap=%v loginOnly=%v", serverEnc, wrap, loginOnly)
		}
	}
}

package tdserr

import "testing"

func TestServerErrorTransientAndTerminalClassification(t *testing.T) {
	deadlock := FromServerToken(1205, 13, 1, "deadlock victim", "srv", "", 0)
	if !deadlock.IsTransient() {
		t.Fatalf("error 1205 should be transient")
	}
	if deadlock.IsTerminal() {
		t.Fatalf("error 1205 should not be terminal")
	}

	fk := FromServerToken(547, 16, 1, "FK violation", "srv", "", 0)
	if fk.IsTransient() {
		t.Fatalf("error 547 should not be transient")
	}
	if !fk.IsTerminal() {
		t.Fatalf("error 547 should be terminal")
	}

	fatal := FromServerToken(99999, 21, 1, "fatal", "srv", "", 0)
	if !fatal.IsTerminal() {
		t.Fatalf("class >= 20 should always be terminal")
	}
}

func TestConnectionKindsAreTransient(t *testing.T) {
	for _, k := range []Kind{KindConnectTimeout, KindTLSTimeout, KindConnectionTimeout, KindConnectionClosed, KindRouting, KindPoolExhausted, KindTransport} {
		e := New(k, "x")
		if !e.IsTransient() {
			t.Fatalf("kind %v should be transient", k)
		}
	}
}

func TestConfigKindIsTerminal(t *testing.T) {
	e := New(KindConfig, "bad config")
	if !e.IsTerminal() {
		t.Fatalf("KindConfig should be terminal")
	}
	if e.IsTransient() {
		t.Fatalf("KindConfig should not be transient")
	}
}

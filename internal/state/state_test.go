package state

import "testing"

func TestIllegalOperationRejectedBeforeWire(t *testing.T) {
	m := New()
	if err := m.Allow(OpQuery); err == nil {
		t.Fatalf("expected Query to be illegal while Disconnected")
	}
}

func TestConnectThenStreamThenResumeToReady(t *testing.T) {
	m := New()
	if err := m.Transition(OpConnect, PreLoginSent); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.Force(Ready)

	if err := m.Transition(OpQuery, Streaming); err != nil {
		t.Fatalf("Query->Streaming: %v", err)
	}
	m.ResumeFromStream()
	if m.Current() != Ready {
		t.Fatalf("expected Ready after stream resume, got %s", m.Current())
	}
}

func TestStreamResumesIntoTransaction(t *testing.T) {
	m := New()
	m.Force(InTransaction)

	if err := m.Transition(OpExecute, Streaming); err != nil {
		t.Fatalf("Execute->Streaming: %v", err)
	}
	m.ResumeFromStream()
	if m.Current() != InTransaction {
		t.Fatalf("expected InTransaction after stream resume, got %s", m.Current())
	}
}

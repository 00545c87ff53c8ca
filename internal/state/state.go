// Package state implements the connection lifecycle state machine: the
// legal-transition and legal-operation gating described for the connection
// component. Dynamic, not type-level, per the design note on why this Go
// implementation checks a state tag rather than encoding states in the type
// system.
package state

import (
	"fmt"
	"sync"
)

// State is one node of the connection lifecycle.
type State int

const (
	Disconnected State = iota
	PreLoginSent
	TLSHandshake
	LoginSent
	Ready
	Streaming
	InTransaction
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case PreLoginSent:
		return "PreLoginSent"
	case TLSHandshake:
		return "TlsHandshake"
	case LoginSent:
		return "LoginSent"
	case Ready:
		return "Ready"
	case Streaming:
		return "Streaming"
	case InTransaction:
		return "InTransaction"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Op identifies an operation attempted on a connection, checked against the
// current State before any bytes go on the wire.
type Op int

const (
	OpConnect Op = iota
	OpReceivePreLoginResponse
	OpUpgradeTLS
	OpAuthenticate
	OpQuery
	OpExecute
	OpPrepare
	OpBeginTransaction
	OpCommit
	OpRollback
	OpSavepoint
	OpDriveStream
	OpClose
	OpCancel
)

// legal maps each state to the set of operations it admits (§4.2).
var legal = map[State]map[Op]bool{
	Disconnected: {OpConnect: true},
	PreLoginSent: {OpReceivePreLoginResponse: true, OpUpgradeTLS: true},
	TLSHandshake: {OpUpgradeTLS: true, OpAuthenticate: true},
	LoginSent:    {OpAuthenticate: true},
	Ready: {
		OpQuery: true, OpExecute: true, OpPrepare: true,
		OpBeginTransaction: true, OpClose: true, OpCancel: true,
	},
	Streaming: {OpDriveStream: true, OpCancel: true},
	InTransaction: {
		OpQuery: true, OpExecute: true, OpPrepare: true,
		OpSavepoint: true, OpCommit: true, OpRollback: true, OpCancel: true,
	},
	Closed: {},
}

// Machine is a mutex-guarded state holder shared by one connection.
type Machine struct {
	mu    sync.Mutex
	state State
	// resumeAfterStream is the state to return to once Streaming drains:
	// Ready or InTransaction depending on what was active beforehand.
	resumeAfterStream State
}

// New returns a Machine starting in Disconnected.
func New() *Machine {
	return &Machine{state: Disconnected, resumeAfterStream: Ready}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Allow checks whether op is legal in the current state without mutating it.
func (m *Machine) Allow(op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowLocked(op)
}

func (m *Machine) allowLocked(op Op) error {
	if ops, ok := legal[m.state]; ok && ops[op] {
		return nil
	}
	return &IllegalOperationError{State: m.state, Op: op}
}

// Transition moves the machine to next, validating that op is legal in the
// current state first. Entering Streaming remembers whether to resume into
// Ready or InTransaction once the stream drains.
func (m *Machine) Transition(op Op, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.allowLocked(op); err != nil {
		return err
	}

	if next == Streaming {
		m.resumeAfterStream = m.state
	}
	m.state = next
	return nil
}

// ResumeFromStream transitions back out of Streaming into whichever state
// (Ready or InTransaction) was active when streaming began.
func (m *Machine) ResumeFromStream() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Streaming {
		m.state = m.resumeAfterStream
	}
}

// Force sets the state unconditionally — used for ENVCHANGE-driven
// transitions (transaction begin/commit/rollback, routing) and terminal
// transitions (Closed) that are not caller-initiated operations.
func (m *Machine) Force(next State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = next
}

// IllegalOperationError reports an operation rejected by the state machine
// before any wire traffic was produced.
type IllegalOperationError struct {
	State State
	Op    Op
}

func (e *IllegalOperationError) Error() string {
	return fmt.Sprintf("operation not legal in state %s", e.State)
}

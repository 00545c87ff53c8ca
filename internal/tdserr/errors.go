// Package tdserr defines the structured error taxonomy this client returns:
// connection/transport/protocol/codec failures, server-raised errors, pool
// and routing signals, each classified as transient or terminal for the
// retry policy in internal/retry.
package tdserr

import (
	"errors"
	"fmt"
)

// Kind identifies the broad category of a Error.
type Kind int

const (
	KindConnectTimeout Kind = iota
	KindTLSTimeout
	KindConnectionTimeout
	KindCommandTimeout
	KindConnectionClosed
	KindAuthentication
	KindTransport
	KindProtocol
	KindCodec
	KindServer
	KindRouting
	KindTooManyRedirects
	KindPoolExhausted
	KindPoolClosed
	KindTransaction
	KindConfig
	KindInvalidIdentifier
)

func (k Kind) String() string {
	switch k {
	case KindConnectTimeout:
		return "ConnectTimeout"
	case KindTLSTimeout:
		return "TlsTimeout"
	case KindConnectionTimeout:
		return "ConnectionTimeout"
	case KindCommandTimeout:
		return "CommandTimeout"
	case KindConnectionClosed:
		return "ConnectionClosed"
	case KindAuthentication:
		return "Authentication"
	case KindTransport:
		return "Transport"
	case KindProtocol:
		return "Protocol"
	case KindCodec:
		return "Codec"
	case KindServer:
		return "Server"
	case KindRouting:
		return "Routing"
	case KindTooManyRedirects:
		return "TooManyRedirects"
	case KindPoolExhausted:
		return "PoolExhausted"
	case KindPoolClosed:
		return "PoolClosed"
	case KindTransaction:
		return "Transaction"
	case KindConfig:
		return "Config"
	case KindInvalidIdentifier:
		return "InvalidIdentifier"
	default:
		return "Unknown"
	}
}

// Error is the structured error type returned across the public surface of
// this client. It carries enough detail for is_transient/is_terminal
// classification without string-matching messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, if any

	// Server-specific detail (Kind == KindServer).
	ServerNumber    int32
	ServerClass     byte
	ServerState     byte
	ServerName      string
	ServerProc      string
	ServerLine      int32

	// Routing detail (Kind == KindRouting).
	Host string
	Port uint16

	// TooManyRedirects detail.
	MaxRedirects int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// transientServerNumbers are SQL Server error numbers considered safe to
// retry at the connection/pool layer (§7).
var transientServerNumbers = map[int32]bool{
	1205: true, 1222: true, 4060: true, 10053: true, 10054: true,
	10928: true, 10929: true, 18456: true, 40143: true, 40197: true,
	40501: true, 40613: true, 49918: true, 49919: true, 49920: true,
	-2: true,
}

// terminalServerNumbers must never be retried regardless of kind.
var terminalServerNumbers = map[int32]bool{
	102: true, 207: true, 208: true, 547: true, 2601: true, 2627: true,
}

// IsTransient reports whether retrying the operation that produced e may
// succeed (§7, §4.9).
func (e *Error) IsTransient() bool {
	switch e.Kind {
	case KindConnectTimeout, KindTLSTimeout, KindConnectionTimeout, KindCommandTimeout,
		KindConnectionClosed, KindRouting, KindPoolExhausted, KindTransport:
		return true
	case KindServer:
		return transientServerNumbers[e.ServerNumber]
	default:
		return false
	}
}

// IsTerminal reports whether the operation must not be retried and, for
// connections, that the connection must not return to a pool (§7, §4.8).
func (e *Error) IsTerminal() bool {
	switch e.Kind {
	case KindConfig, KindInvalidIdentifier, KindPoolClosed:
		return true
	case KindServer:
		if terminalServerNumbers[e.ServerNumber] {
			return true
		}
		return e.ServerClass >= 20
	default:
		return false
	}
}

// Severity returns the server-reported class for Kind == KindServer, or 0
// otherwise.
func (e *Error) Severity() byte {
	if e.Kind == KindServer {
		return e.ServerClass
	}
	return 0
}

// New builds a simple Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// FromServerToken builds a KindServer Error from a decoded ERROR token.
func FromServerToken(number int32, class, state byte, message, server, proc string, line int32) *Error {
	return &Error{
		Kind:         KindServer,
		Msg:          message,
		ServerNumber: number,
		ServerClass:  class,
		ServerState:  state,
		ServerName:   server,
		ServerProc:   proc,
		ServerLine:   line,
	}
}

// Routing builds a KindRouting Error signalling a redirect target.
func Routing(host string, port uint16) *Error {
	return &Error{Kind: KindRouting, Msg: "server requested routing redirect", Host: host, Port: port}
}

// TooManyRedirects builds a KindTooManyRedirects Error.
func TooManyRedirects(max int) *Error {
	return &Error{Kind: KindTooManyRedirects, Msg: fmt.Sprintf("exceeded %d redirects", max), MaxRedirects: max}
}

// PoolExhausted builds a KindPoolExhausted Error.
func PoolExhausted() *Error {
	return &Error{Kind: KindPoolExhausted, Msg: "checkout could not be satisfied before acquire_timeout"}
}

// PoolClosed builds a KindPoolClosed Error.
func PoolClosed() *Error {
	return &Error{Kind: KindPoolClosed, Msg: "pool is closed"}
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// Package conn drives a single physical connection through the TDS
// handshake sequence (PreLogin, optional TLS upgrade, Login7) and exposes
// the request/response primitives (query, exec, cancel) a pool or a
// prepared-statement cache builds on.
package conn

import (
	"time"

	"github.com/sqlstream/tds-go/pkg/tds"
)

// Config holds the fields needed to establish one connection. Unlike the
// bucket model this client descends from, Config takes already-resolved
// fields rather than a DSN string — parsing connection strings is left to
// callers (cmd/tdsbench's flags, a user's own config loader), not this
// package (§6).
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// AppName and HostName populate the Login7 diagnostic fields; both
	// default to sensible values if left empty.
	AppName  string
	HostName string

	EncryptMode tds.EncryptMode

	// PacketSize is the packet_size this client requests in Login7. A
	// packet-size ENVCHANGE from the server is not applied: the connection
	// keeps writing packets of this size.
	PacketSize int

	ConnectTimeout time.Duration
	LoginTimeout   time.Duration

	// Authenticator overrides plain SQL-login credential handling; nil
	// selects SQLAuthenticator built from User/Password.
	Authenticator Authenticator
}

// applyDefaults fills zero-valued fields with this client's defaults.
func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "tds-go"
	}
	if c.HostName == "" {
		c.HostName = "tds-go-client"
	}
	if c.PacketSize <= 0 {
		c.PacketSize = tds.DefaultPacketSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 15 * time.Second
	}
}

// Addr returns the host:port dial target.
func (c *Config) Addr() string {
	return c.Host + ":" + portString(c.Port)
}

func portString(p int) string {
	if p == 0 {
		return "1433"
	}
	digits := make([]byte, 0, 5)
	n := p
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if len(digits) == 0 {
		return "0"
	}
	return string(digits)
}

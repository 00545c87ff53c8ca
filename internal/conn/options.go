package conn

import "time"

// Option mutates a Config; applied in order by Connect before dialing.
type Option func(*Config)

func WithDatabase(name string) Option {
	return func(c *Config) { c.Database = name }
}

func WithAppName(name string) Option {
	return func(c *Config) { c.AppName = name }
}

func WithPacketSize(size int) Option {
	return func(c *Config) { c.PacketSize = size }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

func WithLoginTimeout(d time.Duration) Option {
	return func(c *Config) { c.LoginTimeout = d }
}

func WithAuthenticator(a Authenticator) Option {
	return func(c *Config) { c.Authenticator = a }
}

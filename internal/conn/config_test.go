package conn

import "testing"

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var c Config
	c.applyDefaults()

	if c.AppName == "" || c.HostName == "" {
		t.Fatalf("expected non-empty AppName/HostName defaults")
	}
	if c.PacketSize <= 0 {
		t.Fatalf("expected positive default PacketSize, got %d", c.PacketSize)
	}
	if c.ConnectTimeout <= 0 || c.LoginTimeout <= 0 {
		t.Fatalf("expected positive default timeouts")
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{AppName: "myapp", PacketSize: 8192}
	c.applyDefaults()

	if c.AppName != "myapp" {
		t.Fatalf("AppName overwritten: %s", c.AppName)
	}
	if c.PacketSize != 8192 {
		t.Fatalf("PacketSize overwritten: %d", c.PacketSize)
	}
}

func TestAddrFormatsHostPort(t *testing.T) {
	c := Config{Host: "sql.example.com", Port: 1433}
	if got, want := c.Addr(), "sql.example.com:1433"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}

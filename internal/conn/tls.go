package conn

import (
	"crypto/tls"
	"net"

	"github.com/sqlstream/tds-go/pkg/tds"
)

// negotiateEncryption decides, from this client's requested mode and the
// server's PreLogin response, whether a TLS upgrade follows, whether that
// TLS wrapping should be dropped again once login completes (the "Login
// only" mode of MS-TDS 2.2.6.5 — Login7 travels encrypted, the rest of the
// session in clear), and what TLS config to use. In every mode the PreLogin
// exchange itself happens in clear, before any TLS handshake.
//
// EncryptModeStrict always wraps and is never downgraded after login;
// unlike TDS 8.0 strict encryption, its TLS handshake still follows the
// clear-text PreLogin exchange. EncryptModeOff only wraps if the server
// mandates it (EncryptReq), in which case the server's requirement applies
// to the whole session, not just login. EncryptModeOn is the "Login only"
// case: it wraps for any server answer other than EncryptOff (EncryptNotSup
// included), but
// only keeps the session encrypted past login if the server demanded full
// encryption (EncryptReq); otherwise the caller must unwrap back to the
// raw socket immediately after the login response is read, to avoid
// double-wrapping a session the server never asked to keep encrypted.
func negotiateEncryption(mode tds.EncryptMode, serverEnc byte, host string) (wrap, loginOnly bool, cfg *tls.Config) {
	switch mode {
	case tds.EncryptModeOff:
		return serverEnc == tds.EncryptReq, false, tlsConfig(host)
	case tds.EncryptModeStrict:
		return true, false, tlsConfig(host)
	default:
		wrap = serverEnc != tds.EncryptOff
		loginOnly = wrap && serverEnc != tds.EncryptReq
		return wrap, loginOnly, tlsConfig(host)
	}
}

func tlsConfig(host string) *tls.Config {
	return &tls.Config{ServerName: host}
}

func upgradeTLS(c net.Conn, cfg *tls.Config) (net.Conn, error) {
	tlsConn := tls.Client(c, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

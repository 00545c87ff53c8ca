package conn

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sqlstream/tds-go/internal/state"
	"github.com/sqlstream/tds-go/internal/tdserr"
	"github.com/sqlstream/tds-go/pkg/tds"
)

// Connection drives one physical TCP connection through the TDS handshake
// and request/response cycle. It is single-owner (§5): callers must not
// share a Connection across goroutines except for a concurrent Cancel.
type Connection struct {
	netConn    net.Conn
	state      *state.Machine
	log        logrus.FieldLogger
	cfg        Config
	packetSize int

	writeMu sync.Mutex

	database      string
	txnDescriptor uint64

	// RoutedTo is set when the server signalled a routing ENVCHANGE during
	// login; the caller (pool) reconnects to this target instead.
	RoutedTo *tds.RoutingInfo
}

// Connect dials addr, runs PreLogin/TLS/Login7, and returns a Connection
// in the Ready state. On a routing ENVCHANGE the returned error is nil but
// RoutedTo is set; the caller must discard this Connection and redial the
// new target (§4.2, Azure SQL gateway redirection).
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Connection, error) {
	cfg.applyDefaults()
	for _, opt := range opts {
		opt(&cfg)
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, tdserr.Wrap(tdserr.KindConnectTimeout, "dialing "+cfg.Addr(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	c := &Connection{
		netConn:    netConn,
		state:      state.New(),
		log:        logrus.WithField("addr", cfg.Addr()),
		cfg:        cfg,
		packetSize: cfg.PacketSize,
		database:   cfg.Database,
	}

	if err := c.handshake(ctx); err != nil {
		netConn.Close()
		return nil, err
	}

	_ = netConn.SetDeadline(time.Time{})
	return c, nil
}

func (c *Connection) handshake(ctx context.Context) error {
	if err := c.state.Transition(state.OpConnect, state.PreLoginSent); err != nil {
		return err
	}

	var traceID [36]byte
	_, _ = rand.Read(traceID[:])

	clientPreLogin := tds.NewClientPreLogin(c.cfg.EncryptMode, traceID)
	if err := c.writeMessage(tds.PacketPreLogin, clientPreLogin.Marshal()); err != nil {
		return tdserr.Wrap(tdserr.KindTransport, "writing prelogin", err)
	}

	pktType, payload, _, err := tds.ReadMessage(c.netConn)
	if err != nil {
		return tdserr.Wrap(tdserr.KindTransport, "reading prelogin response", err)
	}
	if pktType != tds.PacketPreLogin {
		return tdserr.New(tdserr.KindProtocol, fmt.Sprintf("expected PRELOGIN response, got %s", pktType))
	}

	serverPreLogin, err := tds.ParsePreLogin(payload)
	if err != nil {
		return tdserr.Wrap(tdserr.KindProtocol, "parsing prelogin response", err)
	}

	if err := c.state.Transition(state.OpUpgradeTLS, state.TLSHandshake); err != nil {
		return err
	}

	wrap, loginOnly, tlsCfg := negotiateEncryption(c.cfg.EncryptMode, serverPreLogin.Encryption(), c.cfg.Host)
	var rawConn net.Conn
	if wrap {
		rawConn = c.netConn
		upgraded, err := upgradeTLS(c.netConn, tlsCfg)
		if err != nil {
			return tdserr.Wrap(tdserr.KindTLSTimeout, "tls handshake", err)
		}
		c.netConn = upgraded
	}

	if err := c.state.Transition(state.OpAuthenticate, state.LoginSent); err != nil {
		return err
	}

	req := &tds.Login7Request{
		TDSVersion:          0x74000004, // TDS 7.4
		PacketSize:          uint32(c.packetSize),
		ClientProgVer:       0x01000000,
		ClientPID:           uint32(1),
		ClientLCID:          0x00000409, // en-US
		HostName:            c.cfg.HostName,
		AppName:             c.cfg.AppName,
		ServerName:          c.cfg.Host,
		ClientInterfaceName: "tds-go",
		Language:            "",
		Database:            c.cfg.Database,
		Extensions:          []tds.LoginFeatureExt{{FeatureID: tds.FeatureExtUTF8Support, Data: []byte{0x01}}},
	}

	auth := c.cfg.Authenticator
	if auth == nil {
		auth = &SQLAuthenticator{User: c.cfg.User, Password: c.cfg.Password}
	}
	if err := auth.Authenticate(req); err != nil {
		return tdserr.Wrap(tdserr.KindAuthentication, "building login7 credentials", err)
	}

	if err := c.writeMessage(tds.PacketLogin7, tds.BuildLogin7(req)); err != nil {
		return tdserr.Wrap(tdserr.KindTransport, "writing login7", err)
	}

	if err := c.readLoginResponse(ctx); err != nil {
		return err
	}

	// "Login only" encryption: Login7 and its response travelled under TLS, but
	// the server never asked to keep the rest of the session encrypted.
	// Drop back to the raw socket so later batches/RPCs go out in clear,
	// matching what was negotiated rather than silently staying wrapped.
	if wrap && loginOnly {
		c.netConn = rawConn
	}
	return nil
}

func (c *Connection) readLoginResponse(ctx context.Context) error {
	pktType, payload, _, err := tds.ReadMessage(c.netConn)
	if err != nil {
		return tdserr.Wrap(tdserr.KindTransport, "reading login7 response", err)
	}
	if pktType != tds.PacketReply {
		return tdserr.New(tdserr.KindProtocol, fmt.Sprintf("expected REPLY after login7, got %s", pktType))
	}

	var loggedIn bool
	tr := tds.NewTokenReader(payload, c.applyEnvChange)
	for {
		tok, err := tr.Next()
		if err != nil {
			return tdserr.Wrap(tdserr.KindProtocol, "decoding login7 response", err)
		}
		if tok == nil {
			break
		}
		switch tok.Kind {
		case tds.TokenLoginAck:
			loggedIn = true
		case tds.TokenError:
			se := tok.Error
			return tdserr.FromServerToken(se.Number, se.Class, se.State, se.Message, se.ServerName, se.ProcName, se.LineNumber)
		case tds.TokenEnvChange:
			if tok.EnvChange.Type == tds.EnvChangeRouting && tok.EnvChange.Routing != nil {
				c.RoutedTo = tok.EnvChange.Routing
			}
		case tds.TokenDone:
			// fall through to loop end
		}
	}

	if c.RoutedTo != nil {
		c.state.Force(state.Disconnected)
		return nil
	}

	if !loggedIn {
		return tdserr.New(tdserr.KindAuthentication, "server did not send LOGINACK")
	}

	c.state.Force(state.Ready)
	return nil
}

// applyEnvChange updates connection-local state (current database, active
// transaction) from an ENVCHANGE token, invoked by TokenReader before the
// token reaches the caller (§5 ordering invariant).
func (c *Connection) applyEnvChange(ec tds.EnvChangeToken) {
	switch ec.Type {
	case tds.EnvChangeDatabase:
		c.database = ec.NewValue
	case tds.EnvChangeBeginTxn:
		c.state.Force(state.InTransaction)
	case tds.EnvChangeCommitTxn, tds.EnvChangeRollbackTxn:
		c.state.Force(state.Ready)
	}
}

func (c *Connection) writeMessage(pktType tds.PacketType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	packets := tds.BuildPackets(pktType, payload, c.packetSize)
	return tds.WritePackets(c.netConn, packets)
}

// Database returns the currently active database, as last updated by an
// ENVCHANGE (may differ from the one requested at login if the server
// redirected it).
func (c *Connection) Database() string { return c.database }

// State returns the connection's current lifecycle state.
func (c *Connection) State() state.State { return c.state.Current() }

// Close tears down the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	c.state.Force(state.Closed)
	return c.netConn.Close()
}

// SendBatch issues a SQL Batch request and returns a TokenReader scoped to
// the full response, transitioning through Streaming for the duration.
func (c *Connection) SendBatch(ctx context.Context, sql string) (*tds.TokenReader, error) {
	if err := c.state.Transition(state.OpQuery, state.Streaming); err != nil {
		return nil, err
	}
	payload := tds.BuildSQLBatch(sql, c.txnDescriptor)
	if err := c.writeMessage(tds.PacketSQLBatch, payload); err != nil {
		c.state.ResumeFromStream()
		return nil, tdserr.Wrap(tdserr.KindTransport, "writing sql batch", err)
	}
	return c.readResponseStream()
}

// SendRPC issues an RPC Request (used for parameterised queries and
// sp_prepare/sp_execute/sp_unprepare) and returns its token stream.
func (c *Connection) SendRPC(ctx context.Context, req *tds.RPCRequest) (*tds.TokenReader, error) {
	if err := c.state.Transition(state.OpExecute, state.Streaming); err != nil {
		return nil, err
	}
	payload := tds.BuildRPCRequest(req)
	if err := c.writeMessage(tds.PacketRPCRequest, payload); err != nil {
		c.state.ResumeFromStream()
		return nil, tdserr.Wrap(tdserr.KindTransport, "writing rpc request", err)
	}
	return c.readResponseStream()
}

// readResponseStream reads the full message (coalescing packets up to the
// terminating DONE's EOM) and returns a TokenReader over it. The state
// machine leaves Streaming as soon as the message has been read, before
// the caller iterates the returned tokens. Large or server-push-style multi-message responses are out
// of scope (§ Non-goals); one SendBatch/SendRPC produces exactly one
// logical message here.
func (c *Connection) readResponseStream() (*tds.TokenReader, error) {
	pktType, payload, _, err := tds.ReadMessage(c.netConn)
	if err != nil {
		c.state.ResumeFromStream()
		return nil, tdserr.Wrap(tdserr.KindTransport, "reading response", err)
	}
	if pktType != tds.PacketReply {
		c.state.ResumeFromStream()
		return nil, tdserr.New(tdserr.KindProtocol, fmt.Sprintf("expected REPLY, got %s", pktType))
	}

	tr := tds.NewTokenReader(payload, c.applyEnvChange)
	c.state.ResumeFromStream()
	return tr, nil
}

package prepared

import (
	"context"
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/sqlstream/tds-go/internal/conn"
	"github.com/sqlstream/tds-go/internal/metrics"
	"github.com/sqlstream/tds-go/internal/tdserr"
	"github.com/sqlstream/tds-go/pkg/tds"
)

// Manager drives the sp_prepare/sp_execute/sp_unprepare lifecycle over one
// connection's Cache, so a caller issuing the same parameterised query
// repeatedly pays the prepare round-trip only on the first call.
type Manager struct {
	conn  *conn.Connection
	cache *Cache
	pool  string // metrics label
	log   logrus.FieldLogger
}

// NewManager builds a Manager over c, with a cache of the given capacity.
func NewManager(c *conn.Connection, capacity int, poolLabel string, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{conn: c, pool: poolLabel, log: log}
	m.cache = NewCache(capacity, log, m.unprepare)
	return m
}

// Execute runs sql with params, preparing it on the server first if this
// (fingerprint, paramSignature) pair has not been seen before on this
// connection, otherwise reusing the cached handle.
func (m *Manager) Execute(ctx context.Context, sql, paramSignature string, params []tds.RPCParam) (*tds.TokenReader, error) {
	key := Key{Fingerprint: Fingerprint(sql), ParameterSignature: paramSignature}

	if handle, ok := m.cache.Lookup(key); ok {
		metrics.PreparedCacheHits.WithLabelValues(m.pool).Inc()
		tr, err := m.conn.SendRPC(ctx, tds.BuildExecuteRPC(handle, params, 0))
		if err != nil {
			return nil, err
		}
		return tr, nil
	}

	metrics.PreparedCacheMisses.WithLabelValues(m.pool).Inc()

	handle, err := m.prepare(ctx, sql, paramSignature)
	if err != nil {
		return nil, err
	}

	m.cache.Store(key, handle)
	metrics.PreparedCacheSize.WithLabelValues(m.pool).Set(float64(m.cache.Len()))

	return m.conn.SendRPC(ctx, tds.BuildExecuteRPC(handle, params, 0))
}

// prepare issues sp_prepare and extracts the returned handle from the
// RETURNVALUE token carrying the @handle OUTPUT parameter.
func (m *Manager) prepare(ctx context.Context, sql, paramDecls string) (tds.PrepareHandle, error) {
	tr, err := m.conn.SendRPC(ctx, tds.BuildPrepareRPC(sql, paramDecls, 0))
	if err != nil {
		return 0, err
	}

	var handle tds.PrepareHandle
	var found bool
	for {
		tok, err := tr.Next()
		if err != nil {
			return 0, err
		}
		if tok == nil {
			break
		}
		switch tok.Kind {
		case tds.TokenReturnValue:
			if len(tok.ReturnValue.Value) >= 4 {
				handle = tds.PrepareHandle(int32(binary.LittleEndian.Uint32(tok.ReturnValue.Value)))
				found = true
			}
		case tds.TokenError:
			se := tok.Error
			return 0, tdserr.FromServerToken(se.Number, se.Class, se.State, se.Message, se.ServerName, se.ProcName, se.LineNumber)
		case tds.TokenRow, tds.TokenNBCRow:
			tok.Row.Release()
		}
	}

	if !found {
		return 0, tdserr.New(tdserr.KindProtocol, "sp_prepare did not return a handle")
	}
	return handle, nil
}

// unprepare issues sp_unprepare best-effort; called by the cache on
// eviction.
func (m *Manager) unprepare(handle tds.PrepareHandle) error {
	ctx := context.Background()
	tr, err := m.conn.SendRPC(ctx, tds.BuildUnprepareRPC(handle, 0))
	if err != nil {
		return err
	}
	for {
		tok, err := tr.Next()
		if err != nil {
			return err
		}
		if tok == nil {
			return nil
		}
		if tok.Kind == tds.TokenRow || tok.Kind == tds.TokenNBCRow {
			tok.Row.Release()
		}
	}
}

// Reset clears the cache without unpreparing — used when the connection
// was just reset via sp_reset_connection, which already discarded every
// handle server-side.
func (m *Manager) Reset() {
	m.cache.Reset()
	metrics.PreparedCacheSize.WithLabelValues(m.pool).Set(0)
}

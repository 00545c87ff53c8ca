package conn

import (
	"github.com/sqlstream/tds-go/internal/state"
	"github.com/sqlstream/tds-go/pkg/tds"
)

// Cancel sends an Attention packet on this connection's own socket to
// interrupt the in-flight request, per §4.6. It is the only operation
// legal while the state machine is Streaming besides driving the stream
// itself, and is safe to call from a goroutine other than the one
// draining the response: writeMu serialises it against the handshake and
// request writers. Cancel does not wait for the server's DONE with the
// ATTN status bit, and nothing in this package consumes that
// acknowledgement: readResponseStream restores the prior state as soon as
// it has read one full response message.
func (c *Connection) Cancel() error {
	if err := c.state.Allow(state.OpCancel); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return tds.WritePackets(c.netConn, [][]byte{tds.BuildAttention()})
}

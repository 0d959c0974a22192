package transport

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weft-protocol/weft-go/pkg/stats"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// Conn is an accepted device connection after a completed hello exchange.
//
// The connection ID is process-unique and stable for the life of the
// connection; the lifecycle layer uses it to tell handles apart. Reads
// happen on the server-owned read loop; Send is safe from any goroutine.
type Conn struct {
	conn     net.Conn
	framer   *Framer
	tlsState tls.ConnectionState
	ctx      context.Context

	connID     string
	deviceID   string
	features   wire.Features
	remoteAddr net.Addr

	logger *slog.Logger
	agency stats.Agency

	// Message delivery
	handlerMu sync.RWMutex
	onMessage func(c *Conn, data []byte)

	// Disconnect hooks, fired once when the read loop exits
	disconnectMu sync.Mutex
	onDisconnect []func()
	disconnected bool

	inboundFiltering atomic.Bool

	queueMu sync.Mutex
	queue   *outboundQueue

	closeCh   chan struct{}
	closeOnce sync.Once
}

// DeviceID returns the device identity derived during the handshake.
func (c *Conn) DeviceID() string {
	return c.deviceID
}

// ConnID returns the process-unique connection identifier.
func (c *Conn) ConnID() string {
	return c.connID
}

// RemoteAddr returns the remote address of the device.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Features returns what was negotiated in the hello exchange.
func (c *Conn) Features() wire.Features {
	return c.features
}

// TLSState returns the TLS connection state.
func (c *Conn) TLSState() tls.ConnectionState {
	return c.tlsState
}

// SetMessageHandler installs the handler for non-control frames.
// Pass nil to drop them.
func (c *Conn) SetMessageHandler(fn func(c *Conn, data []byte)) {
	c.handlerMu.Lock()
	c.onMessage = fn
	c.handlerMu.Unlock()
}

// OnDisconnect registers a hook fired exactly once when the connection's
// read loop exits. Hooks registered after that point fire immediately.
func (c *Conn) OnDisconnect(fn func()) {
	if fn == nil {
		return
	}

	c.disconnectMu.Lock()
	if c.disconnected {
		c.disconnectMu.Unlock()
		fn()
		return
	}
	c.onDisconnect = append(c.onDisconnect, fn)
	c.disconnectMu.Unlock()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// fireDisconnect runs the disconnect hooks exactly once, outside any lock.
func (c *Conn) fireDisconnect() {
	c.disconnectMu.Lock()
	if c.disconnected {
		c.disconnectMu.Unlock()
		return
	}
	c.disconnected = true
	hooks := c.onDisconnect
	c.onDisconnect = nil
	c.disconnectMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// SetInboundFiltering toggles dropping of inbound notification frames.
// Filtered frames are counted, not delivered.
func (c *Conn) SetInboundFiltering(enabled bool) {
	c.inboundFiltering.Store(enabled)
}

// InboundFiltering reports whether notification frames are being dropped.
func (c *Conn) InboundFiltering() bool {
	return c.inboundFiltering.Load()
}

// RegisterOutboundQueue starts barrier batching for outbound frames.
// Sends accumulate and are flushed, followed by a barrier, when limit
// frames are queued or interval elapses. Only one registration may be
// active; closing the returned registration flushes and detaches it.
func (c *Conn) RegisterOutboundQueue(limit int, interval time.Duration) (io.Closer, error) {
	return c.registerQueue(limit, interval)
}

// Send transmits a frame to the device. With an outbound queue registered
// the frame is queued for the next barrier flush; otherwise it is written
// through immediately.
func (c *Conn) Send(data []byte) error {
	c.queueMu.Lock()
	q := c.queue
	c.queueMu.Unlock()

	if q != nil {
		return q.Enqueue(data)
	}
	return c.writeDirect(data)
}

// writeDirect writes a frame bypassing the outbound queue. Used for
// control replies that must not wait on a barrier.
func (c *Conn) writeDirect(data []byte) error {
	return c.framer.WriteFrame(data)
}

// Close closes the connection. The read loop exits and disconnect hooks
// fire as a consequence. Close is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.detachQueue()
		err = c.conn.Close()
	})
	return err
}

// readLoop reads frames until the connection dies. Echo probes are
// answered here; notification frames honor the inbound filter; everything
// else goes to the message handler.
func (c *Conn) readLoop() {
	defer c.fireDisconnect()

	for {
		select {
		case <-c.closeCh:
			return
		case <-c.ctx.Done():
			return
		default:
		}

		data, err := c.framer.ReadFrame()
		if err != nil {
			return
		}

		msgType, err := wire.PeekMessageType(data)
		if err != nil {
			c.logger.Debug("dropping undecodable frame",
				"conn_id", c.connID, "error", err)
			continue
		}

		switch msgType {
		case wire.TypeEcho:
			c.answerEcho(data)

		case wire.TypeNotification:
			if c.inboundFiltering.Load() {
				if c.agency != nil {
					c.agency.Count(stats.NotificationFiltered)
				}
				continue
			}
			c.deliver(data)

		default:
			c.deliver(data)
		}
	}
}

// answerEcho replies to an echo probe, mirroring its ID and payload.
func (c *Conn) answerEcho(data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		return
	}

	reply, err := wire.EncodeEnvelope(&wire.Envelope{
		Type:      wire.TypeEchoAck,
		MessageID: env.MessageID,
		Payload:   env.Payload,
	})
	if err != nil {
		return
	}

	if err := c.writeDirect(reply); err != nil {
		c.logger.Debug("echo reply failed", "conn_id", c.connID, "error", err)
		return
	}
	if c.agency != nil {
		c.agency.Count(stats.EchoReplied)
	}
}

func (c *Conn) deliver(data []byte) {
	c.handlerMu.RLock()
	fn := c.onMessage
	c.handlerMu.RUnlock()

	if fn != nil {
		fn(c, data)
	}
}

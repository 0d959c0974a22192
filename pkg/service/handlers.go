package service

import (
	"time"

	"github.com/weft-protocol/weft-go/pkg/device"
	"github.com/weft-protocol/weft-go/pkg/notify"
	"github.com/weft-protocol/weft-go/pkg/translate"
	"github.com/weft-protocol/weft-go/pkg/transport"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// handleConnection routes a completed handshake into the device manager.
// The controller owns the raw connection on every rejection path; the
// manager never closes a connection it did not admit.
func (c *Controller) handleConnection(conn *transport.Conn) {
	if conn.Features().Auxiliary > 0 {
		if err := c.manager.AttachAuxiliary(conn); err != nil {
			c.logger.Warn("auxiliary channel rejected",
				"device_id", conn.DeviceID(),
				"conn_id", conn.ConnID(),
				"error", err)
			_ = conn.Close()
		}
		return
	}

	ok, err := c.manager.AdmitConnection(conn)
	if err != nil {
		c.logger.Warn("admission failed",
			"device_id", conn.DeviceID(),
			"conn_id", conn.ConnID(),
			"error", err)
		_ = conn.Close()
		return
	}
	if !ok {
		// Duplicate identity. The manager logged the rejection.
		_ = conn.Close()
	}
}

// handleMessage dispatches non-control frames from admitted devices.
func (c *Controller) handleMessage(conn *transport.Conn, data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		c.logger.Debug("dropping undecodable message",
			"device_id", conn.DeviceID(), "error", err)
		return
	}

	switch env.Type {
	case wire.TypeNotification:
		c.handleNotification(conn, env)
	default:
		c.logger.Debug("unhandled message",
			"device_id", conn.DeviceID(), "type", env.Type)
	}
}

// handleNotification runs the payload through the translator registered
// for the connection's negotiated version, then offers it to the device
// session for rate accounting and publication.
func (c *Controller) handleNotification(conn *transport.Conn, env *wire.Envelope) {
	sess, ok := c.manager.Lookup(device.DeviceID(conn.DeviceID()))
	if !ok {
		// The frame raced with session teardown.
		return
	}

	payload := env.Payload
	key := translate.Key{Version: conn.Features().Version, Type: env.Type}
	if tr, ok := c.library.Lookup(key); ok {
		out, err := tr.Translate(payload)
		if err != nil {
			c.logger.Debug("notification translation failed",
				"device_id", conn.DeviceID(), "key", key, "error", err)
			return
		}
		if b, ok := out.([]byte); ok {
			payload = b
		}
	}

	if err := sess.OfferNotification(notify.Event{
		Kind:    notify.KindDeviceNotification,
		Payload: payload,
	}); err != nil {
		c.logger.Debug("notification not forwarded",
			"device_id", conn.DeviceID(), "error", err)
	}
}

// deviceUp is the admission init phase: finalize the session bootstrap,
// announce the device on the bus, and refresh the advertised count.
func (c *Controller) deviceUp(sess *device.Context) error {
	if err := sess.FinalizeBootstrap(); err != nil {
		return err
	}
	c.publish(notify.Event{
		Kind:     notify.KindDeviceAppeared,
		DeviceID: sess.DeviceID().String(),
	})
	c.announceDeviceCount(c.manager.SessionCount())
	return nil
}

// deviceDown runs after a session's teardown flush settled.
func (c *Controller) deviceDown(sess *device.Context) {
	c.publish(notify.Event{
		Kind:     notify.KindDeviceVanished,
		DeviceID: sess.DeviceID().String(),
	})

	// The session is still registered while this handler runs and is
	// retired right after it returns, so the advertised count excludes it.
	n := c.manager.SessionCount() - 1
	if n < 0 {
		n = 0
	}
	c.announceDeviceCount(n)
}

// publish puts a lifecycle event on the bus. Publish failures are not
// the device's problem; they are logged and dropped.
func (c *Controller) publish(ev notify.Event) {
	ev.Time = time.Now()
	if err := c.bus.Publish(ev); err != nil {
		c.logger.Debug("event not published", "kind", ev.Kind, "error", err)
	}
}

// announceDeviceCount pushes a session count into the mDNS announcer,
// if one is running.
func (c *Controller) announceDeviceCount(n int) {
	c.mu.RLock()
	ann := c.announcer
	c.mu.RUnlock()
	if ann != nil {
		ann.SetDeviceCount(n)
	}
}

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/weft-protocol/weft-go/pkg/wire"
)

// Outbound queue errors.
var (
	// ErrQueueRegistered is returned when a connection already has an
	// active outbound queue registration.
	ErrQueueRegistered = errors.New("transport: outbound queue already registered")

	// ErrQueueClosed is returned when enqueueing on a closed queue.
	ErrQueueClosed = errors.New("transport: outbound queue closed")
)

// outboundQueue batches outbound frames and commits them with a trailing
// barrier. A flush happens when the pending count reaches the configured
// limit or when the interval timer fires with frames pending.
type outboundQueue struct {
	mu      sync.Mutex
	conn    *Conn
	limit   int
	pending [][]byte
	nextID  uint32
	closed  bool

	interval time.Duration
	closeCh  chan struct{}
	wg       sync.WaitGroup
}

func newOutboundQueue(c *Conn, limit int, interval time.Duration) *outboundQueue {
	q := &outboundQueue{
		conn:     c,
		limit:    limit,
		interval: interval,
		closeCh:  make(chan struct{}),
	}

	q.wg.Add(1)
	go q.flushLoop()

	return q
}

// Enqueue adds a frame to the pending batch, flushing if the batch has
// reached the limit.
func (q *outboundQueue) Enqueue(data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.pending = append(q.pending, data)
	if len(q.pending) >= q.limit {
		return q.flushLocked()
	}
	return nil
}

// flushLoop flushes pending frames on every interval tick.
func (q *outboundQueue) flushLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.closeCh:
			return
		case <-ticker.C:
			q.mu.Lock()
			if !q.closed && len(q.pending) > 0 {
				if err := q.flushLocked(); err != nil {
					q.conn.logger.Debug("outbound flush failed",
						"conn_id", q.conn.connID, "error", err)
				}
			}
			q.mu.Unlock()
		}
	}
}

// flushLocked writes out all pending frames followed by a barrier frame.
// Callers hold q.mu.
func (q *outboundQueue) flushLocked() error {
	if len(q.pending) == 0 {
		return nil
	}

	for _, data := range q.pending {
		if err := q.conn.writeDirect(data); err != nil {
			q.pending = nil
			return fmt.Errorf("writing queued frame: %w", err)
		}
	}
	q.pending = nil

	q.nextID++
	barrier, err := wire.EncodeEnvelope(&wire.Envelope{
		Type:      wire.TypeBarrier,
		MessageID: q.nextID,
	})
	if err != nil {
		return fmt.Errorf("encoding barrier: %w", err)
	}
	if err := q.conn.writeDirect(barrier); err != nil {
		return fmt.Errorf("writing barrier: %w", err)
	}
	return nil
}

// close stops the flush loop, flushes any remaining frames, and marks the
// queue unusable. Safe to call more than once.
func (q *outboundQueue) close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	err := q.flushLocked()
	q.mu.Unlock()

	close(q.closeCh)
	q.wg.Wait()
	return err
}

// queueRegistration detaches the queue from its connection on Close.
type queueRegistration struct {
	once  sync.Once
	queue *outboundQueue
}

var _ io.Closer = (*queueRegistration)(nil)

func (r *queueRegistration) Close() error {
	var err error
	r.once.Do(func() {
		c := r.queue.conn
		err = r.queue.close()

		c.queueMu.Lock()
		if c.queue == r.queue {
			c.queue = nil
		}
		c.queueMu.Unlock()
	})
	return err
}

// registerQueue attaches a new outbound queue to the connection.
func (c *Conn) registerQueue(limit int, interval time.Duration) (io.Closer, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("transport: queue limit must be positive, got %d", limit)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("transport: queue interval must be positive, got %v", interval)
	}

	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.isClosed() {
		return nil, ErrQueueClosed
	}
	if c.queue != nil {
		return nil, ErrQueueRegistered
	}

	q := newOutboundQueue(c, limit, interval)
	c.queue = q
	return &queueRegistration{queue: q}, nil
}

// detachQueue silently closes any active queue. Called from Conn.Close.
func (c *Conn) detachQueue() {
	c.queueMu.Lock()
	q := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	if q != nil {
		go q.close()
	}
}

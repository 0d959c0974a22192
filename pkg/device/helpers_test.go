package device

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weft-protocol/weft-go/pkg/inventory"
	"github.com/weft-protocol/weft-go/pkg/notify"
	"github.com/weft-protocol/weft-go/pkg/stats"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// fakeConn is a scriptable Connection. Close fires the disconnect hooks
// synchronously, standing in for the transport's read loop exit.
type fakeConn struct {
	deviceID string
	connID   string
	features wire.Features
	addr     net.Addr

	// queueErr, when set, fails RegisterOutboundQueue.
	queueErr error

	// onRegister, when set, runs at the start of RegisterOutboundQueue.
	// Tests use it to interleave work inside an in-flight admission.
	onRegister func()

	mu        sync.Mutex
	hooks     []func()
	fired     bool
	filtering bool
	reg       *fakeReg
	closed    bool
	sent      [][]byte
}

var _ Connection = (*fakeConn)(nil)

func newFakeConn(deviceID, connID string) *fakeConn {
	return &fakeConn{
		deviceID: deviceID,
		connID:   connID,
		features: wire.Features{Version: 1, DeviceName: deviceID},
		addr:     &net.TCPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 9143},
	}
}

func (c *fakeConn) DeviceID() string        { return c.deviceID }
func (c *fakeConn) ConnID() string          { return c.connID }
func (c *fakeConn) RemoteAddr() net.Addr    { return c.addr }
func (c *fakeConn) Features() wire.Features { return c.features }

func (c *fakeConn) OnDisconnect(fn func()) {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		fn()
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *fakeConn) RegisterOutboundQueue(limit int, interval time.Duration) (io.Closer, error) {
	if c.onRegister != nil {
		c.onRegister()
	}
	if c.queueErr != nil {
		return nil, c.queueErr
	}

	reg := &fakeReg{}
	c.mu.Lock()
	c.reg = reg
	c.mu.Unlock()
	return reg, nil
}

func (c *fakeConn) SetInboundFiltering(enabled bool) {
	c.mu.Lock()
	c.filtering = enabled
	c.mu.Unlock()
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.fire()
	return nil
}

// fire runs the disconnect hooks exactly once, like a dying read loop.
func (c *fakeConn) fire() {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) inboundFiltering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filtering
}

func (c *fakeConn) registration() *fakeReg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg
}

// fakeReg is an outbound queue registration that counts closes.
type fakeReg struct {
	mu     sync.Mutex
	closes int
}

func (r *fakeReg) Close() error {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	return nil
}

func (r *fakeReg) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// flushBehavior scripts how stubStore resolves flush handles.
type flushBehavior int

const (
	// flushResolve resolves every flush immediately, with flushErr.
	flushResolve flushBehavior = iota

	// flushHang never resolves a flush; only cancellation unblocks it.
	flushHang
)

// stubStore is a scriptable inventory.Store.
type stubStore struct {
	seedErr   error
	submitErr error
	flushMode flushBehavior
	flushErr  error

	mu          sync.Mutex
	root        *inventory.Record
	devices     map[string]inventory.Record
	submitCalls int
	flushCalls  int
}

var _ inventory.Store = (*stubStore)(nil)

func newStubStore() *stubStore {
	return &stubStore{devices: make(map[string]inventory.Record)}
}

func (s *stubStore) SubmitInitial(rec inventory.Record) error {
	if s.seedErr != nil {
		return s.seedErr
	}
	s.mu.Lock()
	r := rec
	s.root = &r
	s.mu.Unlock()
	return nil
}

func (s *stubStore) SubmitDevice(rec inventory.Record) error {
	s.mu.Lock()
	s.submitCalls++
	s.mu.Unlock()

	if s.submitErr != nil {
		return s.submitErr
	}
	s.mu.Lock()
	s.devices[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *stubStore) UpdateDevice(rec inventory.Record) error {
	s.mu.Lock()
	s.devices[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *stubStore) RemoveDevice(id string) error {
	s.mu.Lock()
	delete(s.devices, id)
	s.mu.Unlock()
	return nil
}

func (s *stubStore) Device(id string) (inventory.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[id]
	return rec, ok, nil
}

func (s *stubStore) Devices() ([]inventory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]inventory.Record, 0, len(s.devices))
	for _, rec := range s.devices {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *stubStore) FlushAndClose(id string) *inventory.Flush {
	s.mu.Lock()
	s.flushCalls++
	mode := s.flushMode
	s.mu.Unlock()

	if mode == flushHang {
		return inventory.NewFlush()
	}
	return inventory.ResolvedFlush(s.flushErr)
}

func (s *stubStore) Close() error { return nil }

func (s *stubStore) rootRecord() (inventory.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return inventory.Record{}, false
	}
	return *s.root, true
}

func (s *stubStore) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls
}

func (s *stubStore) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCalls
}

// countingAgency counts Snapshot calls, to observe the stats poller.
type countingAgency struct {
	stats.Noop
	snapshots atomic.Int32
}

func (a *countingAgency) Snapshot() map[stats.Class]int64 {
	a.snapshots.Add(1)
	return map[stats.Class]int64{}
}

// capturePub records published events.
type capturePub struct {
	err error

	mu     sync.Mutex
	events []notify.Event
}

func (p *capturePub) Publish(ev notify.Event) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *capturePub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *capturePub) last() notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// testManager builds a manager over a stub store with short timings.
func testManager(t *testing.T) (*Manager, *stubStore, *stats.CounterAgency) {
	t.Helper()

	store := newStubStore()
	agency := stats.NewCounterAgency()
	cfg := DefaultConfig()
	cfg.FlushTimeout = 100 * time.Millisecond

	m, err := NewManager(cfg, store, agency)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, store, agency
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

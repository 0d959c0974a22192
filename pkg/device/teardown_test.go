package device

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-protocol/weft-go/pkg/inventory"
	"github.com/weft-protocol/weft-go/pkg/stats"
)

// --- primary disconnect tests ---

func TestDeviceDisconnected_PrimaryTeardown(t *testing.T) {
	m, store, agency := testManager(t)

	var downCalls atomic.Int32
	m.SetTermPhaseHandler(TermPhaseFunc(func(ctx *Context) {
		downCalls.Add(1)
	}))

	conn := newFakeConn("dev-a", "conn-1")
	ok, err := m.AdmitConnection(conn)
	require.NoError(t, err)
	require.True(t, ok)

	conn.fire()

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return m.SessionCount() == 0
	}), "session retired after the flush resolves")

	assert.Equal(t, int32(1), downCalls.Load(), "termination phase ran")
	assert.Equal(t, 1, store.flushCount())
	assert.Equal(t, 1, conn.registration().closeCount())

	snap := agency.Snapshot()
	assert.Equal(t, int64(1), snap[stats.FlushSucceeded])
	assert.Equal(t, int64(1), snap[stats.DeviceDisconnected])
}

func TestDeviceDisconnected_Idempotent(t *testing.T) {
	m, store, agency := testManager(t)

	var downCalls atomic.Int32
	m.SetTermPhaseHandler(TermPhaseFunc(func(ctx *Context) {
		downCalls.Add(1)
	}))

	conn := newFakeConn("dev-a", "conn-1")
	ok, err := m.AdmitConnection(conn)
	require.NoError(t, err)
	require.True(t, ok)

	m.DeviceDisconnected(conn)
	m.DeviceDisconnected(conn)

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return m.SessionCount() == 0
	}))

	assert.Equal(t, int32(1), downCalls.Load(), "one teardown for repeated reports")
	assert.Equal(t, 1, store.flushCount())
	assert.Equal(t, int64(1), agency.Snapshot()[stats.DeviceDisconnected])
}

func TestDeviceDisconnected_WatchdogCancelsHangingFlush(t *testing.T) {
	store := newStubStore()
	store.flushMode = flushHang
	agency := stats.NewCounterAgency()
	cfg := DefaultConfig()
	cfg.FlushTimeout = 50 * time.Millisecond

	m, err := NewManager(cfg, store, agency)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	var downCalls atomic.Int32
	m.SetTermPhaseHandler(TermPhaseFunc(func(ctx *Context) {
		downCalls.Add(1)
	}))

	conn := newFakeConn("dev-a", "conn-1")
	ok, err := m.AdmitConnection(conn)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, _ := m.Lookup("dev-a")

	start := time.Now()
	conn.fire()

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return m.SessionCount() == 0
	}), "watchdog unblocks a hanging flush")
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond,
		"teardown waited for the flush until the timeout")

	fl := ctx.RequestFlush()
	assert.Equal(t, inventory.FlushCancelled, fl.Outcome())
	require.ErrorIs(t, fl.Err(), inventory.ErrFlushCancelled)
	assert.Equal(t, int32(1), downCalls.Load(),
		"termination phase runs even for a cancelled flush")
	assert.Equal(t, int64(1), agency.Snapshot()[stats.FlushCancelled])
}

func TestDeviceDisconnected_FlushFailureStillRetires(t *testing.T) {
	store := newStubStore()
	store.flushErr = errors.New("disk full")
	agency := stats.NewCounterAgency()

	m, err := NewManager(DefaultConfig(), store, agency)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	var downCalls atomic.Int32
	m.SetTermPhaseHandler(TermPhaseFunc(func(ctx *Context) {
		downCalls.Add(1)
	}))

	conn := newFakeConn("dev-a", "conn-1")
	ok, err := m.AdmitConnection(conn)
	require.NoError(t, err)
	require.True(t, ok)

	conn.fire()

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return m.SessionCount() == 0
	}), "flush failure does not block retirement")

	assert.Equal(t, int32(1), downCalls.Load())
	snap := agency.Snapshot()
	assert.Equal(t, int64(1), snap[stats.FlushFailed])
	assert.Equal(t, int64(1), snap[stats.DeviceDisconnected])
}

func TestRetireClosesAuxiliaries(t *testing.T) {
	m, _, _ := testManager(t)

	primary := newFakeConn("dev-a", "conn-1")
	ok, err := m.AdmitConnection(primary)
	require.NoError(t, err)
	require.True(t, ok)

	aux := newFakeConn("dev-a", "conn-2")
	require.NoError(t, m.AttachAuxiliary(aux))

	primary.fire()

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return m.SessionCount() == 0
	}))
	assert.True(t, aux.isClosed(), "teardown closes surviving auxiliaries")
}

// --- stale and auxiliary disconnect tests ---

func TestDeviceDisconnected_UnknownIdentityIsBenign(t *testing.T) {
	m, _, agency := testManager(t)

	m.DeviceDisconnected(newFakeConn("ghost", "conn-9"))

	assert.Equal(t, int64(1), agency.Snapshot()[stats.StaleDisconnect])
	assert.Equal(t, 0, m.SessionCount())
}

func TestDeviceDisconnected_AuxiliaryOnlyDetaches(t *testing.T) {
	m, _, agency := testManager(t)

	primary := newFakeConn("dev-a", "conn-1")
	ok, err := m.AdmitConnection(primary)
	require.NoError(t, err)
	require.True(t, ok)

	aux := newFakeConn("dev-a", "conn-2")
	require.NoError(t, m.AttachAuxiliary(aux))

	aux.fire()

	ctx, exists := m.Lookup("dev-a")
	require.True(t, exists, "session survives auxiliary loss")
	assert.Equal(t, StateActive, ctx.State())
	assert.Empty(t, ctx.Auxiliaries())
	assert.Equal(t, int64(1), agency.Snapshot()[stats.AuxiliaryRemoved])

	// A second report for the same auxiliary is stale and benign.
	m.DeviceDisconnected(aux)
	assert.Equal(t, int64(1), agency.Snapshot()[stats.StaleDisconnect])
	_, exists = m.Lookup("dev-a")
	assert.True(t, exists)
}

func TestDeviceDisconnected_SupersededHandle(t *testing.T) {
	m, _, _ := testManager(t)

	old := newFakeConn("dev-a", "conn-1")
	ok, err := m.AdmitConnection(old)
	require.NoError(t, err)
	require.True(t, ok)

	old.fire()
	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return m.SessionCount() == 0
	}))

	fresh := newFakeConn("dev-a", "conn-2")
	ok, err = m.AdmitConnection(fresh)
	require.NoError(t, err)
	require.True(t, ok, "identity admissible again after teardown")

	// A late report from the old handle must not touch the new session.
	// Handles are told apart by connection ID, not pointer identity.
	m.DeviceDisconnected(old)

	ctx, exists := m.Lookup("dev-a")
	require.True(t, exists)
	assert.Equal(t, StateActive, ctx.State())
	assert.Equal(t, "conn-2", ctx.Primary().ConnID())
}

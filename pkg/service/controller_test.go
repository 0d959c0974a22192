package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-protocol/weft-go/pkg/config"
	"github.com/weft-protocol/weft-go/pkg/inventory"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()

	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.StateDir = t.TempDir()

	ctrl, err := New(cfg, nil)
	require.NoError(t, err)
	return ctrl
}

// --- construction tests ---

func TestNew_WiresStack(t *testing.T) {
	ctrl := newTestController(t)

	assert.Equal(t, StateIdle, ctrl.State())
	assert.NotNil(t, ctrl.Manager())
	assert.NotNil(t, ctrl.Bus())
	assert.NotNil(t, ctrl.Inventory())
	assert.NotNil(t, ctrl.Library())
	assert.NotNil(t, ctrl.Agency())
	assert.Nil(t, ctrl.Addr())
	assert.Equal(t, 0, ctrl.Manager().SessionCount())
}

func TestNew_SeedsInventoryRoot(t *testing.T) {
	ctrl := newTestController(t)

	rec, ok, err := ctrl.Inventory().Device(inventory.RootID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, inventory.RootID, rec.ID)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Quota = -5

	_, err := New(cfg, nil)
	require.ErrorIs(t, err, config.ErrInvalidQuota)
}

// --- lifecycle tests ---

func TestStartStop_Lifecycle(t *testing.T) {
	ctrl := newTestController(t)
	require.Equal(t, StateIdle, ctrl.State())

	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() { _ = ctrl.Stop() })

	assert.Equal(t, StateRunning, ctrl.State())
	require.NotNil(t, ctrl.Addr())

	assert.ErrorIs(t, ctrl.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, ctrl.Stop())
	assert.Equal(t, StateStopped, ctrl.State())

	// Stop stays a no-op and a stopped controller cannot restart.
	assert.NoError(t, ctrl.Stop())
	assert.ErrorIs(t, ctrl.Start(context.Background()), ErrAlreadyStarted)
}

func TestStop_BeforeStartIsNoOp(t *testing.T) {
	ctrl := newTestController(t)

	assert.NoError(t, ctrl.Stop())
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "STARTING", StateStarting.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPING", StateStopping.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

package conn

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/fiscal-bridge/internal/fiscal/protocol"
	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	found      protocol.SerialSettings
	findErr    error
	settings   []protocol.SerialSettings
	settingErr error
	probeErr   error
	commands   []string
	released   int
}

func (f *fakeBridge) Do(ctx context.Context, cmd protocol.Command) (protocol.Result, error) {
	f.commands = append(f.commands, cmd.Name)
	if cmd.Name == "ReadStatus" && f.probeErr != nil {
		return nil, f.probeErr
	}
	return protocol.Result{}, nil
}

func (f *fakeBridge) FindDevice(ctx context.Context) (protocol.SerialSettings, error) {
	return f.found, f.findErr
}

func (f *fakeBridge) SetSettings(ctx context.Context, s protocol.SerialSettings) error {
	f.settings = append(f.settings, s)
	return f.settingErr
}

func (f *fakeBridge) Release(ctx context.Context) error {
	f.released++
	return nil
}

func newTestManager(cfg Config, bridges ...*fakeBridge) *Manager {
	created := 0
	m := NewManagerWithBridge(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), func(Config) Bridge {
		b := bridges[created]
		if created < len(bridges)-1 {
			created++
		}
		return b
	})
	return m
}

func TestManager_ConnectIsNoOpWhenLive(t *testing.T) {
	bridge := &fakeBridge{}
	m := newTestManager(Config{SerialPort: "COM3", BaudRate: 115200}, bridge)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Connect(ctx))

	assert.Len(t, bridge.settings, 1)
	assert.Equal(t, []string{"ReadStatus"}, bridge.commands)
	assert.Equal(t, protocol.SerialSettings{Port: "COM3", BaudRate: 115200, KeepPortOpen: true}, bridge.settings[0])
	assert.True(t, m.State().Connected)
	assert.True(t, m.State().HeadersNeedUpdate)
}

func TestManager_ReconnectAfterDrop(t *testing.T) {
	first := &fakeBridge{}
	second := &fakeBridge{}
	m := newTestManager(Config{SerialPort: "COM3", BaudRate: 9600}, first, second)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	m.State().HeadersNeedUpdate = false
	m.State().Header = &domain.CompanyHeaderSnapshot{Name: "ACME"}

	m.Drop(ctx)
	assert.Equal(t, 1, first.released)
	assert.False(t, m.State().Connected)

	_, err := m.Send(ctx, protocol.ReadStatus())
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.Connect(ctx))
	assert.Len(t, second.settings, 1)
	assert.True(t, m.State().HeadersNeedUpdate, "fresh sessions mark headers stale")
	require.NotNil(t, m.State().Header)
	assert.Equal(t, "ACME", m.State().Header.Name)
}

func TestManager_ConnectFailures(t *testing.T) {
	t.Run("probe failure", func(t *testing.T) {
		bridge := &fakeBridge{probeErr: &protocol.TransportError{Op: "ReadStatus", Err: assert.AnError}}
		m := newTestManager(Config{SerialPort: "COM3"}, bridge)

		err := m.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, protocol.IsTransportError(err))
		assert.False(t, m.State().Connected)
	})

	t.Run("settings failure", func(t *testing.T) {
		bridge := &fakeBridge{settingErr: assert.AnError}
		m := newTestManager(Config{SerialPort: "COM3"}, bridge)

		err := m.Connect(context.Background())
		require.ErrorIs(t, err, assert.AnError)
		assert.False(t, m.State().Connected)
	})

	t.Run("discovery failure", func(t *testing.T) {
		bridge := &fakeBridge{findErr: assert.AnError}
		m := newTestManager(Config{Discover: true}, bridge)

		err := m.Connect(context.Background())
		require.ErrorIs(t, err, assert.AnError)
		assert.Empty(t, bridge.settings)
	})
}

func TestManager_Discovery(t *testing.T) {
	bridge := &fakeBridge{found: protocol.SerialSettings{Port: "COM9", BaudRate: 115200}}
	m := newTestManager(Config{Discover: true, BaudRate: 9600}, bridge)

	require.NoError(t, m.Connect(context.Background()))
	require.Len(t, bridge.settings, 1)
	assert.Equal(t, "COM9", bridge.settings[0].Port)
	assert.Equal(t, 115200, bridge.settings[0].BaudRate)
}

func TestManager_TransportErrorInvalidatesProbe(t *testing.T) {
	bridge := &fakeBridge{}
	m := newTestManager(Config{SerialPort: "COM3"}, bridge)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	bridge.probeErr = &protocol.TransportError{Op: "ReadStatus", Err: assert.AnError}
	_, err := m.Send(ctx, protocol.ReadStatus())
	require.Error(t, err)
	assert.False(t, m.State().ProbeOK)

	// Connect now rebuilds the session instead of short-circuiting
	bridge.probeErr = nil
	require.NoError(t, m.Connect(ctx))
	assert.Len(t, bridge.settings, 2)
}

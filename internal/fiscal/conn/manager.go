// Package conn owns the single session between the agent and the fiscal
// printer bridge.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/fiscal/protocol"
	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// ErrNotConnected is returned by Send before a successful Connect
var ErrNotConnected = errors.New("fiscal printer not connected")

// Bridge is the subset of the bridge client the manager drives
type Bridge interface {
	Do(ctx context.Context, cmd protocol.Command) (protocol.Result, error)
	FindDevice(ctx context.Context) (protocol.SerialSettings, error)
	SetSettings(ctx context.Context, s protocol.SerialSettings) error
	Release(ctx context.Context) error
}

// Config holds connection settings
type Config struct {
	BridgeURL      string
	SerialPort     string
	BaudRate       int
	Discover       bool
	RequestTimeout time.Duration
}

// State is the agent-local view of the printer session. It is only touched
// by the single execution loop.
type State struct {
	Connected         bool
	ProbeOK           bool
	Header            *domain.CompanyHeaderSnapshot
	HeadersNeedUpdate bool
}

// Manager holds at most one live bridge session
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	newBridge func(cfg Config) Bridge
	bridge    Bridge
	state     State
}

// NewManager creates a manager that dials the vendor bridge over HTTP
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return NewManagerWithBridge(cfg, logger, func(c Config) Bridge {
		return protocol.NewClient(c.BridgeURL, c.RequestTimeout)
	})
}

// NewManagerWithBridge creates a manager with a custom session factory
func NewManagerWithBridge(cfg Config, logger *slog.Logger, newBridge func(cfg Config) Bridge) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		newBridge: newBridge,
	}
}

// State returns the session state owned by the manager
func (m *Manager) State() *State {
	return &m.state
}

// Connect (re)establishes the session unless it is already live.
func (m *Manager) Connect(ctx context.Context) error {
	if m.state.Connected && m.state.ProbeOK && m.bridge != nil {
		return nil
	}

	m.logger.Info("Connecting to fiscal printer",
		slog.String("bridge_url", m.cfg.BridgeURL),
		slog.String("serial_port", m.cfg.SerialPort),
		slog.Int("baud_rate", m.cfg.BaudRate),
	)

	bridge := m.newBridge(m.cfg)

	settings := protocol.SerialSettings{
		Port:         m.cfg.SerialPort,
		BaudRate:     m.cfg.BaudRate,
		KeepPortOpen: true,
	}

	if settings.Port == "" && m.cfg.Discover {
		found, err := bridge.FindDevice(ctx)
		if err != nil {
			m.markDisconnected()
			return fmt.Errorf("failed to discover fiscal printer: %w", err)
		}
		m.logger.Info("Fiscal printer discovered",
			slog.String("serial_port", found.Port),
			slog.Int("baud_rate", found.BaudRate),
		)
		settings.Port = found.Port
		if found.BaudRate > 0 {
			settings.BaudRate = found.BaudRate
		}
	}

	if err := bridge.SetSettings(ctx, settings); err != nil {
		m.markDisconnected()
		return fmt.Errorf("failed to bind bridge to %s: %w", settings.Port, err)
	}

	status, err := bridge.Do(ctx, protocol.ReadStatus())
	if err != nil {
		m.markDisconnected()
		return fmt.Errorf("fiscal printer status probe failed: %w", err)
	}

	if status.Flag(protocol.FlagNoPaper) || status.Flag(protocol.FlagPrinterOverheat) {
		m.logger.Warn("Fiscal printer reports a hardware condition",
			slog.Bool("no_paper", status.Flag(protocol.FlagNoPaper)),
			slog.Bool("overheat", status.Flag(protocol.FlagPrinterOverheat)),
		)
	}

	m.bridge = bridge
	m.state.Connected = true
	m.state.ProbeOK = true
	// Device header memory may have been changed while we were away
	m.state.HeadersNeedUpdate = true

	m.logger.Info("Fiscal printer connected",
		slog.String("serial_port", settings.Port),
	)

	return nil
}

// Send issues one command on the live session
func (m *Manager) Send(ctx context.Context, cmd protocol.Command) (protocol.Result, error) {
	if !m.state.Connected || m.bridge == nil {
		return nil, ErrNotConnected
	}

	res, err := m.bridge.Do(ctx, cmd)
	if err != nil && protocol.IsTransportError(err) {
		m.state.ProbeOK = false
	}
	return res, err
}

// Drop releases the session so the next Connect starts fresh. The cached
// header survives.
func (m *Manager) Drop(ctx context.Context) {
	if m.bridge != nil {
		if err := m.bridge.Release(ctx); err != nil {
			m.logger.Debug("Failed to release bridge session",
				slog.String("error", err.Error()),
			)
		}
	}
	m.markDisconnected()
}

func (m *Manager) markDisconnected() {
	m.bridge = nil
	m.state.Connected = false
	m.state.ProbeOK = false
}

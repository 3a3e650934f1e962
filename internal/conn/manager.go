// Package conn owns the single transport session handle and drives its
// lifecycle: pairing, authentication, ready, disconnect, and reconnect.
// All phase transitions flow through the status machine; HTTP handlers
// only ever read defensive snapshots.
package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"wagate/internal/bus"
	"wagate/internal/lock"
	"wagate/internal/status"
)

// ReconnectDelay is the fixed backoff before re-initializing after a
// dropped connection. One retry per disconnect, no ceiling: the process
// is operator-supervised and should keep trying.
const ReconnectDelay = 10 * time.Second

// pairingPNGSize is the pixel size of the rendered pairing image.
const pairingPNGSize = 256

// State is a read-only snapshot of the connection.
type State struct {
	Connected        bool
	PhoneNumber      string
	StartTime        time.Time
	PairingDisplayed bool
}

// PairingArtifact is the transient pairing code plus its rendered image.
type PairingArtifact struct {
	Code string
	PNG  []byte
}

// Manager owns the transport handle and its state machine.
type Manager struct {
	authFolder string
	factory    TransportFactory
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger

	mu           sync.Mutex
	transport    Transport
	connected    bool
	phone        string
	qrDisplayed  bool
	artifact     *PairingArtifact
	initializing bool
	retryPending bool
	retryTimer   *time.Timer

	startTime time.Time

	// Injected for tests.
	reconnectDelay time.Duration
	afterFunc      func(d time.Duration, f func()) *time.Timer
}

// NewManager creates a manager. The factory is invoked on every
// Initialize so logout can swap in a brand-new handle.
func NewManager(authFolder string, factory TransportFactory, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		authFolder:     authFolder,
		factory:        factory,
		machine:        machine,
		bus:            b,
		logger:         logger,
		startTime:      time.Now(),
		reconnectDelay: ReconnectDelay,
		afterFunc:      time.AfterFunc,
	}
}

// Initialize constructs a transport handle and connects it. A call while
// a bootstrap is already in flight, or while connected, is a logged
// no-op. Transport construction or connect failure is fatal to this call
// and moves the phase to ERROR; the caller decides whether to retry or
// exit.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	phase := m.machine.Current()
	if m.initializing || phase == status.Initializing || phase == status.Connected {
		m.mu.Unlock()
		m.logger.Info("initialize skipped, session already active", zap.String("phase", string(phase)))
		return nil
	}
	m.initializing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.initializing = false
		m.mu.Unlock()
	}()

	if err := m.machine.Transition(status.Initializing); err != nil {
		return fmt.Errorf("enter initializing: %w", err)
	}

	// A previous crash can leave a stale lock artifact next to the
	// credential store. Best effort; never fatal.
	lock.ClearStale(m.authFolder)

	t, err := m.factory(ctx)
	if err != nil {
		_ = m.machine.Transition(status.Error)
		return fmt.Errorf("create transport: %w", err)
	}

	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()

	t.Subscribe(m.handleLifecycle)

	if t.IsLoggedIn() {
		m.logger.Info("credentials found, connecting")
		if err := t.Connect(); err != nil {
			_ = m.machine.Transition(status.Error)
			return fmt.Errorf("connect: %w", err)
		}
		return nil
	}

	m.logger.Info("no credentials, starting pairing flow")
	pairCh, err := t.PairingEvents(ctx)
	if err != nil {
		_ = m.machine.Transition(status.Error)
		return fmt.Errorf("pairing channel: %w", err)
	}
	if err := t.Connect(); err != nil {
		_ = m.machine.Transition(status.Error)
		return fmt.Errorf("connect: %w", err)
	}

	go m.consumePairing(pairCh)
	return nil
}

// State returns a defensive copy of the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Connected:        m.connected,
		PhoneNumber:      m.phone,
		StartTime:        m.startTime,
		PairingDisplayed: m.qrDisplayed,
	}
}

// Phase returns the current session phase.
func (m *Manager) Phase() status.Phase {
	return m.machine.Current()
}

// IsReady reports whether the session can dispatch messages.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && m.machine.Current() == status.Connected
}

// PairingArtifact returns a copy of the current pairing artifact, or nil
// once connected (or before a code arrives).
func (m *Manager) PairingArtifact() *PairingArtifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifact == nil {
		return nil
	}
	png := make([]byte, len(m.artifact.PNG))
	copy(png, m.artifact.PNG)
	return &PairingArtifact{Code: m.artifact.Code, PNG: png}
}

// Logout invalidates the session best-effort, resets all state, and
// re-initializes in the background so a fresh pairing code becomes
// available. Teardown errors are logged, never surfaced: logout must
// always leave the manager ready to re-pair.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()

	if t != nil {
		if err := t.Logout(ctx); err != nil {
			m.logger.Warn("transport logout failed, resetting anyway", zap.Error(err))
		}
		t.Disconnect()
	}

	m.cancelRetry()

	m.mu.Lock()
	m.transport = nil
	m.connected = false
	m.phone = ""
	m.artifact = nil
	m.qrDisplayed = false
	m.mu.Unlock()

	m.machine.Reset()

	go func() {
		if err := m.Initialize(context.Background()); err != nil {
			m.logger.Error("re-initialize after logout failed", zap.Error(err))
		}
	}()
	return nil
}

// Destroy disconnects the transport for process shutdown. Errors are
// logged only.
func (m *Manager) Destroy(_ context.Context) {
	m.cancelRetry()
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t != nil {
		t.Disconnect()
	}
	m.logger.Info("connection manager stopped")
}

// SendText dispatches through the current transport handle.
func (m *Manager) SendText(ctx context.Context, address, body string) (string, error) {
	t, err := m.currentTransport()
	if err != nil {
		return "", err
	}
	return t.SendText(ctx, address, body)
}

// SetTyping toggles the composing indicator via the current handle.
func (m *Manager) SetTyping(address string, typing bool) error {
	t, err := m.currentTransport()
	if err != nil {
		return err
	}
	return t.SetTyping(address, typing)
}

// CheckRegistered asks the network whether a number exists.
func (m *Manager) CheckRegistered(ctx context.Context, number string) (bool, error) {
	t, err := m.currentTransport()
	if err != nil {
		return false, err
	}
	return t.CheckRegistered(ctx, number)
}

func (m *Manager) currentTransport() (Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil {
		return nil, fmt.Errorf("transport not initialized")
	}
	return m.transport, nil
}

func (m *Manager) consumePairing(ch <-chan PairingEvent) {
	for evt := range ch {
		switch evt.Kind {
		case "code":
			png, err := qrcode.Encode(evt.Code, qrcode.Medium, pairingPNGSize)
			if err != nil {
				m.logger.Warn("render pairing code failed", zap.Error(err))
				png = nil
			}
			m.mu.Lock()
			m.artifact = &PairingArtifact{Code: evt.Code, PNG: png}
			m.qrDisplayed = true
			m.mu.Unlock()

			if m.machine.Current() != status.WaitingForPairing {
				if err := m.machine.Transition(status.WaitingForPairing); err != nil {
					m.logger.Warn("pairing code in unexpected phase", zap.Error(err))
				}
			}
			m.logger.Info("pairing code available, scan to authorize")
			m.bus.Publish(bus.Event{Kind: "session.pairing_code", Timestamp: time.Now(), Payload: evt.Code})
		case "success":
			if err := m.machine.Transition(status.Authenticated); err != nil {
				m.logger.Warn("authenticated in unexpected phase", zap.Error(err))
			}
			m.logger.Info("pairing accepted")
		case "timeout":
			m.logger.Warn("pairing code expired before being scanned")
			_ = m.machine.Transition(status.Error)
		default:
			detail := evt.Kind
			if evt.Err != nil {
				detail = evt.Err.Error()
			}
			m.logger.Error("pairing failed", zap.String("reason", detail))
			_ = m.machine.Transition(status.AuthFailure)
		}
	}
}

// handleLifecycle applies transport lifecycle events to the state
// machine. It runs on the transport's event goroutine.
func (m *Manager) handleLifecycle(evt LifecycleEvent) {
	switch evt.Kind {
	case LifecycleReady:
		m.mu.Lock()
		m.connected = true
		m.phone = evt.Phone
		m.artifact = nil
		m.qrDisplayed = false
		m.mu.Unlock()

		if err := m.machine.Transition(status.Connected); err != nil {
			m.logger.Warn("ready event in unexpected phase", zap.Error(err))
			return
		}
		m.logger.Info("session connected", zap.String("phone", evt.Phone))
	case LifecycleClosed:
		m.mu.Lock()
		m.connected = false
		m.phone = ""
		m.mu.Unlock()

		if err := m.machine.Transition(status.Disconnected); err != nil {
			// Not connected (e.g. mid-pairing teardown); nothing to do.
			return
		}
		m.logger.Warn("connection lost, scheduling reconnect", zap.Duration("delay", m.reconnectDelay))
		m.scheduleReconnect()
	case LifecycleLoggedOut:
		m.mu.Lock()
		m.connected = false
		m.phone = ""
		m.artifact = nil
		m.mu.Unlock()

		_ = m.machine.Transition(status.AuthFailure)
		m.logger.Error("credentials rejected by the network, operator action required",
			zap.String("reason", evt.Detail))
		m.bus.Publish(bus.Event{Kind: "session.logged_out", Timestamp: time.Now(), Payload: evt.Detail})
	}
}

// scheduleReconnect arms exactly one re-initialize per disconnect.
// Logout and Destroy cancel the armed timer.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.retryPending {
		m.mu.Unlock()
		return
	}
	m.retryPending = true
	m.mu.Unlock()

	timer := m.afterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		if !m.retryPending {
			// Cancelled while the callback was already in flight.
			m.mu.Unlock()
			return
		}
		m.retryPending = false
		m.retryTimer = nil
		m.mu.Unlock()
		if err := m.Initialize(context.Background()); err != nil {
			m.logger.Error("reconnect failed", zap.Error(err))
		}
	})

	m.mu.Lock()
	if m.retryPending {
		m.retryTimer = timer
	}
	m.mu.Unlock()
}

// cancelRetry disarms a pending reconnect so a pre-logout disconnect
// timer cannot fire into the fresh session.
func (m *Manager) cancelRetry() {
	m.mu.Lock()
	timer := m.retryTimer
	m.retryTimer = nil
	m.retryPending = false
	m.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// Package status tracks the lifecycle phase of the WhatsApp session as a
// table-driven state machine, so transition rules can be tested without a
// live transport.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"wagate/internal/bus"
)

// Phase is a session lifecycle phase.
type Phase string

const (
	Idle              Phase = "IDLE"
	Initializing      Phase = "INITIALIZING"
	WaitingForPairing Phase = "WAITING_FOR_PAIRING"
	Authenticated     Phase = "AUTHENTICATED"
	Connected         Phase = "CONNECTED"
	Disconnected      Phase = "DISCONNECTED"
	Error             Phase = "ERROR"
	AuthFailure       Phase = "AUTH_FAILURE"
)

// validTransitions defines allowed phase transitions. The session-ready
// event may arrive from any live phase, so CONNECTED is reachable from
// every non-terminal phase. ERROR and AUTH_FAILURE are terminal until a
// manual restart (re-initialize) or a logout-triggered Reset.
var validTransitions = map[Phase][]Phase{
	Idle:              {Initializing, Connected, Error, AuthFailure},
	Initializing:      {WaitingForPairing, Authenticated, Connected, Error, AuthFailure},
	WaitingForPairing: {Authenticated, Connected, Error, AuthFailure},
	Authenticated:     {Connected, Error, AuthFailure},
	Connected:         {Disconnected, Error, AuthFailure},
	Disconnected:      {Initializing, Connected, Error, AuthFailure},
	Error:             {Initializing},
	AuthFailure:       {Initializing},
}

// Machine tracks and enforces session phase transitions.
type Machine struct {
	mu      sync.RWMutex
	current Phase
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Idle, bus: b}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new phase. Returns an error if the
// transition is not in the table; the phase is left unchanged.
func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.move(to)
	return nil
}

// Reset forces the machine back to Idle from any phase. Used by the
// logout path, which must always leave the session able to re-pair.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Idle {
		return
	}
	m.move(Idle)
}

func (m *Machine) move(to Phase) {
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.phase_changed",
			Timestamp: time.Now(),
			Payload:   PhaseChange{From: from, To: to},
		})
	}
}

// PhaseChange is the payload for phase change events.
type PhaseChange struct {
	From Phase
	To   Phase
}

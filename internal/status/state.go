package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/criptx/internal/bus"
)

// State represents a client session state.
type State string

const (
	Unauthenticated  State = "UNAUTHENTICATED"
	Authenticating   State = "AUTHENTICATING"
	AwaitingRedirect State = "AWAITING_REDIRECT"
	Authenticated    State = "AUTHENTICATED"
)

// Kind tells which admission path produced an Authenticated session.
type Kind string

const (
	KindNone      Kind = ""
	KindDurable   Kind = "durable"
	KindEphemeral Kind = "ephemeral"
	KindBypass    Kind = "bypass"
)

// validTransitions defines allowed state transitions. Bypass and restored
// sessions go straight from Unauthenticated to Authenticated.
var validTransitions = map[State][]State{
	Unauthenticated:  {Authenticating, Authenticated},
	Authenticating:   {AwaitingRedirect, Authenticated, Unauthenticated},
	AwaitingRedirect: {Authenticated, Unauthenticated},
	Authenticated:    {Unauthenticated},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	kind    Kind
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Unauthenticated state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Unauthenticated,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Kind returns the session kind; KindNone unless Authenticated.
func (m *Machine) Kind() Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kind
}

// Transition moves to a non-authenticated state. Use Authenticate to enter
// Authenticated.
func (m *Machine) Transition(to State) error {
	if to == Authenticated {
		return fmt.Errorf("transition to %s requires a session kind", to)
	}
	return m.move(to, KindNone)
}

// Authenticate moves to Authenticated with the given kind.
func (m *Machine) Authenticate(kind Kind) error {
	if kind == KindNone {
		return fmt.Errorf("authenticate: empty session kind")
	}
	return m.move(Authenticated, kind)
}

func (m *Machine) move(to State, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.kind = kind
	m.bus.Emit(bus.KindSessionStatus, StatusChange{From: from, To: to, Kind: kind})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
	Kind Kind
}

package trust

import "styleauth/internal/ensemble"

// Step describes one observed prompt.
type Step struct {
	Decision  ensemble.Decision
	Certainty float64
	// Reached is the confidence after the update, before any lockout reset.
	Reached float64
	State   State
	Status  Status
}

// Locked reports whether this step triggered a lockout.
func (s Step) Locked() bool { return s.Status == Locked }

// Machine is a session's trust state machine. It is not safe for concurrent
// use; each session must have a single writer.
type Machine struct {
	params   Params
	state    State
	prompts  int
	lockouts int
}

// NewMachine returns a machine at baseline.
func NewMachine(p Params) (*Machine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Machine{params: p, state: p.Initial()}, nil
}

// Observe feeds one ensemble outcome into the machine.
func (m *Machine) Observe(d ensemble.Decision, certainty float64) Step {
	next, reached, status := m.params.Transition(m.state, d, certainty)
	m.state = next
	m.prompts++
	if status == Locked {
		m.lockouts++
	}
	return Step{
		Decision:  d,
		Certainty: certainty,
		Reached:   reached,
		State:     next,
		Status:    status,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Params returns the machine's parameters.
func (m *Machine) Params() Params { return m.params }

// Prompts returns how many observations the machine has seen.
func (m *Machine) Prompts() int { return m.prompts }

// Lockouts returns how many lockouts the machine has signalled.
func (m *Machine) Lockouts() int { return m.lockouts }

// Reset returns the machine to baseline and clears its counters.
func (m *Machine) Reset() {
	m.state = m.params.Initial()
	m.prompts = 0
	m.lockouts = 0
}

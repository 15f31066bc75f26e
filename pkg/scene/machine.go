package scene

import (
	"slices"
	"sync"
	"time"
)

// Progress is a point-in-time snapshot of a run, shaped for the dashboard.
type Progress struct {
	SceneID      string   `json:"sceneId"`
	State        string   `json:"state"`
	StateElapsed float64  `json:"stateElapsed"`
	SceneElapsed float64  `json:"sceneElapsed"`
	History      []string `json:"history"`
	Finished     bool     `json:"finished"`
}

// StateVisit is one entry in a run's visit trail.
type StateVisit struct {
	Name      string    `json:"name"`
	EnteredAt time.Time `json:"enteredAt"`
}

// Machine owns the runtime state of one scene run: the current state name,
// the entry clocks and the visit trail. It is a data owner only; action
// execution and transition checks are the runner's job. Mutations stay on
// the runner goroutine, reads are safe from any goroutine.
type Machine struct {
	mu         sync.Mutex
	scene      *Scene
	current    string
	stateStart time.Time
	sceneStart time.Time
	visits     []StateVisit

	now func() time.Time
}

func NewMachine(s *Scene) *Machine {
	return &Machine{scene: s, now: time.Now}
}

// Start stamps the scene clock and enters the initial state.
func (m *Machine) Start() {
	m.mu.Lock()
	m.sceneStart = m.now()
	m.mu.Unlock()
	m.Goto(m.scene.InitialState)
}

// Goto moves the machine to the named state, stamping a visit at entry. A
// self transition restarts the state and counts as a new visit. EndState
// only marks the run finished: it is never recorded as a visit and keeps no
// entry clock.
func (m *Machine) Goto(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == EndState {
		m.current = EndState
		m.stateStart = time.Time{}
		return
	}
	m.current = name
	m.stateStart = m.now()
	m.visits = append(m.visits, StateVisit{Name: name, EnteredAt: m.stateStart})
}

// CurrentState returns the current state name and definition. The state is
// nil before Start and after EndState.
func (m *Machine) CurrentState() (string, *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.scene.States[m.current]
}

func (m *Machine) ElapsedInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateStart.IsZero() {
		return 0
	}
	return m.now().Sub(m.stateStart)
}

func (m *Machine) ElapsedInScene() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sceneStart.IsZero() {
		return 0
	}
	return m.now().Sub(m.sceneStart)
}

func (m *Machine) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == EndState
}

// Visits returns the visit trail so far, one entry per state entered.
func (m *Machine) Visits() []StateVisit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.visits)
}

func (m *Machine) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Progress{
		SceneID:  m.scene.SceneID,
		State:    m.current,
		History:  m.leftStatesLocked(),
		Finished: m.current == EndState,
	}
	if !m.stateStart.IsZero() {
		p.StateElapsed = m.now().Sub(m.stateStart).Seconds()
	}
	if !m.sceneStart.IsZero() {
		p.SceneElapsed = m.now().Sub(m.sceneStart).Seconds()
	}
	return p
}

// leftStatesLocked renders the visit trail for display: states already left,
// or the whole trail once the run has finished.
func (m *Machine) leftStatesLocked() []string {
	visits := m.visits
	if m.current != EndState && len(visits) > 0 {
		visits = visits[:len(visits)-1]
	}
	names := make([]string, len(visits))
	for i, v := range visits {
		names[i] = v.Name
	}
	return names
}

package collect

import (
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-collector/internal/metrics"
	"github.com/sells-group/profile-collector/internal/model"
)

// StateMachine enforces forward-only run state transitions.
type StateMachine struct {
	mu      sync.Mutex
	source  string
	state   model.RunState
	metrics *metrics.Metrics
}

// NewStateMachine starts in idle.
func NewStateMachine(source string, m *metrics.Metrics) *StateMachine {
	m.SetState(source, model.RunStateIdle.Ordinal())
	return &StateMachine{source: source, state: model.RunStateIdle, metrics: m}
}

// State returns the current state.
func (s *StateMachine) State() model.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance moves to the given state. States may be skipped (listing straight
// to done) but never revisited.
func (s *StateMachine) Advance(to model.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if to.Ordinal() < 0 {
		return eris.Errorf("collect: unknown state %q", to)
	}
	if to.Ordinal() <= s.state.Ordinal() {
		return eris.Errorf("collect: invalid transition %s -> %s", s.state, to)
	}

	zap.L().Debug("collect: state change",
		zap.String("source", s.source),
		zap.String("from", string(s.state)),
		zap.String("to", string(to)),
	)
	s.state = to
	s.metrics.SetState(s.source, to.Ordinal())
	return nil
}

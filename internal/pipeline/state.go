package pipeline

import (
	"sync"

	"go.uber.org/zap"
)

// State is a position in the analysis state machine.
type State string

const (
	StatePending            State = "pending"
	StateClassifying        State = "classifying"
	StateRootCauseAnalyzing State = "root_cause_analyzing"
	StateSkippingRootCause  State = "skipping_root_cause"
	StateReporting          State = "reporting"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var allowedTransitions = map[State][]State{
	StatePending:            {StateClassifying},
	StateClassifying:        {StateRootCauseAnalyzing, StateSkippingRootCause},
	StateRootCauseAnalyzing: {StateReporting},
	StateSkippingRootCause:  {StateReporting},
	StateReporting:          {StateCompleted},
}

// CanTransition reports whether the machine may move from one state to
// another. Failed is reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one state change of a single run.
type Transition struct {
	Ref   string // caller-supplied label, usually the image reference
	From  State
	To    State
	Stage Stage // stage that failed, set only for StateFailed
	Err   error
}

// TransitionObserver receives every transition of every run. Implementations
// must be safe for concurrent use when the pipeline runs batches.
type TransitionObserver interface {
	OnTransition(t Transition)
}

// NoopObserver discards transitions.
type NoopObserver struct{}

func (NoopObserver) OnTransition(Transition) {}

// ObserverFunc adapts a function to TransitionObserver.
type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// LogObserver logs transitions at debug and failures at warn.
type LogObserver struct {
	logger *zap.Logger
}

func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger.Named("pipeline")}
}

func (o *LogObserver) OnTransition(t Transition) {
	if t.To == StateFailed {
		o.logger.Warn("analysis failed",
			zap.String("ref", t.Ref),
			zap.String("from", string(t.From)),
			zap.String("stage", string(t.Stage)),
			zap.Error(t.Err),
		)
		return
	}
	o.logger.Debug("state transition",
		zap.String("ref", t.Ref),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
	)
}

// Recorder keeps every transition it sees, in arrival order.
type Recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *Recorder) OnTransition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

// States returns the destination states recorded for ref.
func (r *Recorder) States(ref string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, t := range r.transitions {
		if t.Ref == ref {
			out = append(out, t.To)
		}
	}
	return out
}

type multiObserver []TransitionObserver

func (m multiObserver) OnTransition(t Transition) {
	for _, o := range m {
		o.OnTransition(t)
	}
}

package engine

import (
	"fmt"
	"time"
)

// Phase is a state of the per-request state machine:
//
//	Idle → Validating → Dispatching → (Streaming)* → Completed | Degraded | Failed
//
// Retrying is entered between two attempts of the same sub-call.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseDispatching
	PhaseStreaming
	PhaseRetrying
	PhaseCompleted
	PhaseDegraded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseDispatching:
		return "dispatching"
	case PhaseStreaming:
		return "streaming"
	case PhaseRetrying:
		return "retrying"
	case PhaseCompleted:
		return "completed"
	case PhaseDegraded:
		return "degraded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no transition can follow p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseDegraded || p == PhaseFailed
}

// Transition records entering a phase.
type Transition struct {
	Phase   Phase
	Call    string // sub-call the phase belongs to, if any
	Attempt int
	At      time.Time
}

func (t Transition) String() string {
	s := t.Phase.String()
	if t.Call != "" {
		s += "(" + t.Call
		if t.Attempt > 1 {
			s += fmt.Sprintf(" #%d", t.Attempt)
		}
		s += ")"
	}
	return s
}

// Status is the overall outcome of a request.
type Status int

const (
	StatusCompleted Status = iota + 1
	StatusDegraded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusDegraded:
		return "degraded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) phase() Phase {
	switch s {
	case StatusCompleted:
		return PhaseCompleted
	case StatusDegraded:
		return PhaseDegraded
	default:
		return PhaseFailed
	}
}

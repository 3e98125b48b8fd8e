package poller

import (
	"time"

	"github.com/joshp123/airbridge/plugins/airthings"
)

// State is the last known condition of one device. It is owned by a single
// poller; callers only ever see copies.
type State struct {
	Sample    airthings.Sample
	Faulted   bool
	UpdatedAt time.Time
}

func (s State) Clone() State {
	s.Sample = s.Sample.Clone()
	return s
}

// Phase is the lifecycle position of a poller.
type Phase int

const (
	Idle Phase = iota
	Scheduled
	Polling
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

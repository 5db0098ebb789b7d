package progress

import (
	"time"

	"github.com/ternarybob/menulens/internal/common"
)

// CompletionGate holds back the terminal notification until the progress view has been shown for
// at least the minimum display duration. It schedules at most once per job.
type CompletionGate struct {
	clock      common.Clock
	minDisplay time.Duration

	mountedAt time.Time
	scheduled bool
	pending   common.Timer
}

// NewCompletionGate creates a gate using clock for mount time and delays
func NewCompletionGate(clock common.Clock, minDisplay time.Duration) *CompletionGate {
	if minDisplay < 0 {
		minDisplay = 0
	}
	return &CompletionGate{
		clock:      clock,
		minDisplay: minDisplay,
		mountedAt:  clock.Now(),
	}
}

// Reset cancels any pending notification and records a new mount time
func (g *CompletionGate) Reset() {
	g.Cancel()
	g.mountedAt = g.clock.Now()
	g.scheduled = false
}

// Schedule arms the terminal notification. It returns false if one was already scheduled for
// this job. When the floor has already elapsed the delay is zero, fire is not armed and the
// caller must deliver immediately.
func (g *CompletionGate) Schedule(fire func()) (bool, time.Duration) {
	if g.scheduled {
		return false, 0
	}
	g.scheduled = true

	remaining := g.Remaining()
	if remaining <= 0 {
		return true, 0
	}
	g.pending = g.clock.AfterFunc(remaining, fire)
	return true, remaining
}

// Remaining returns how much of the display floor is left
func (g *CompletionGate) Remaining() time.Duration {
	elapsed := g.clock.Now().Sub(g.mountedAt)
	if remaining := g.minDisplay - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

// Cancel stops a pending notification
func (g *CompletionGate) Cancel() {
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}


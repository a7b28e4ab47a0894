package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// Policy holds the backoff parameters for transient failures
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	GrowthFactor float64
	MaxDelay     time.Duration
	JitterFactor float64 // 0.25 means ±25%
}

// Transition is the retry controller's verdict for one failed attempt
type Transition struct {
	Status domain.TaskStatus // StatusRetrying or StatusFailed
	Delay  time.Duration     // backoff before the next attempt, zero for Failed
}

// Decide is the pure decision function mapping a classified failure to
// the next state transition. attempt is the 1-based number of the
// attempt that just failed: attempt 1 failing with a retryable class
// yields the first retry. Fatal classes and exhausted attempts fail
// unconditionally.
func Decide(class domain.ErrorClass, attempt int, p Policy) Transition {
	if !class.Retryable() {
		return Transition{Status: domain.StatusFailed}
	}
	// attempt executions have happened; the next one must still fit
	if attempt >= p.MaxAttempts {
		return Transition{Status: domain.StatusFailed}
	}
	return Transition{Status: domain.StatusRetrying, Delay: p.delay(attempt)}
}

// delay computes base * growth^(attempt-1) ± jitter, capped at MaxDelay
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.GrowthFactor, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.JitterFactor > 0 {
		// Uniform in [1-j, 1+j]
		d *= 1 + p.JitterFactor*(2*rand.Float64()-1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

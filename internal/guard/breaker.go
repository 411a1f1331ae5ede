package guard

import "time"

// TriggerReason identifies which breaker condition fired.
type TriggerReason string

const (
	TriggerDailyLoss         TriggerReason = "daily_loss_threshold"
	TriggerConsecutiveLosses TriggerReason = "consecutive_losses"
)

// CircuitBreaker halts trading after a daily drawdown or a streak of
// losing trades. It tracks in-memory state only; persistence of trips is
// the caller's responsibility.
type CircuitBreaker struct {
	DailyLossThreshold   float64 // negative percent, e.g. -10.0
	ConsecutiveLossLimit int

	dailyPnLPercent   float64
	consecutiveLosses int
	triggered         bool
	resumeAt          time.Time

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewCircuitBreaker builds a breaker with the given limits.
func NewCircuitBreaker(dailyLossThreshold float64, consecutiveLossLimit int) *CircuitBreaker {
	return &CircuitBreaker{
		DailyLossThreshold:   dailyLossThreshold,
		ConsecutiveLossLimit: consecutiveLossLimit,
		Now:                  time.Now,
	}
}

func (b *CircuitBreaker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// UpdateDailyPnL sets today's portfolio P/L percent. Called once per
// cycle before ShouldTrigger.
func (b *CircuitBreaker) UpdateDailyPnL(pct float64) {
	b.dailyPnLPercent = pct
}

// RecordLoss increments the consecutive-loss streak.
func (b *CircuitBreaker) RecordLoss() {
	b.consecutiveLosses++
}

// RecordWin resets the consecutive-loss streak.
func (b *CircuitBreaker) RecordWin() {
	b.consecutiveLosses = 0
}

// ShouldTrigger reports whether a breaker condition currently holds. The
// daily-loss check takes precedence over the streak check.
func (b *CircuitBreaker) ShouldTrigger() (TriggerReason, bool) {
	if b.dailyPnLPercent <= b.DailyLossThreshold {
		return TriggerDailyLoss, true
	}
	if b.consecutiveLosses >= b.ConsecutiveLossLimit {
		return TriggerConsecutiveLosses, true
	}
	return "", false
}

// Trigger trips the breaker for pauseHours. It does not change the
// trading mode; the caller decides whether a mode switch accompanies the
// trip and persists both together.
func (b *CircuitBreaker) Trigger(pauseHours int) {
	b.triggered = true
	b.resumeAt = b.now().Add(time.Duration(pauseHours) * time.Hour)
}

// CanResume is true when the breaker is not tripped, or the pause window
// has elapsed. It reports elapsed time only; callers must Reset to
// actually re-arm.
func (b *CircuitBreaker) CanResume() bool {
	if !b.triggered {
		return true
	}
	return !b.now().Before(b.resumeAt)
}

// Triggered reports whether the breaker is currently tripped.
func (b *CircuitBreaker) Triggered() bool {
	return b.triggered
}

// ResumeAt returns when a tripped breaker allows resumption.
func (b *CircuitBreaker) ResumeAt() time.Time {
	return b.resumeAt
}

// DailyPnLPercent returns the last value passed to UpdateDailyPnL.
func (b *CircuitBreaker) DailyPnLPercent() float64 {
	return b.dailyPnLPercent
}

// ConsecutiveLosses returns the current losing streak length.
func (b *CircuitBreaker) ConsecutiveLosses() int {
	return b.consecutiveLosses
}

// Reset clears the trip state and the loss streak.
func (b *CircuitBreaker) Reset() {
	b.triggered = false
	b.resumeAt = time.Time{}
	b.consecutiveLosses = 0
}

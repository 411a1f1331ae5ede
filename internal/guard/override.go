package guard

import "time"

// Override is a time-boxed manual relaxation of the position cap. The
// zero value is inactive.
type Override struct {
	Enabled        bool
	ExpiresAt      time.Time
	MaxPositionPct float64
	Reason         string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Timed builds an override that expires hours from now.
func Timed(hours int, maxPct float64, reason string) *Override {
	o := &Override{
		Enabled:        true,
		MaxPositionPct: maxPct,
		Reason:         reason,
		Now:            time.Now,
	}
	o.ExpiresAt = o.now().Add(time.Duration(hours) * time.Hour)
	return o
}

func (o *Override) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// IsActive reports whether the override is enabled and unexpired. This is
// the sole gate; callers never inspect the fields directly. An enabled
// override with no expiry set stays active until cleared.
func (o *Override) IsActive() bool {
	if o == nil || !o.Enabled {
		return false
	}
	if o.ExpiresAt.IsZero() {
		return true
	}
	return o.now().Before(o.ExpiresAt)
}

// Clear hard-resets the override.
func (o *Override) Clear() {
	o.Enabled = false
	o.ExpiresAt = time.Time{}
	o.MaxPositionPct = 0
	o.Reason = ""
}

// EffectiveMaxPosition resolves the position cap: the override's cap while
// active, the guardrail cap otherwise. Recomputed on every call, never
// cached, so expiry takes effect immediately.
func EffectiveMaxPosition(o *Override, guardrailCap float64) float64 {
	if o.IsActive() {
		return o.MaxPositionPct
	}
	return guardrailCap
}

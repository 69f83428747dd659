package quota

import "time"

// Tier constants.
const (
	FreeLimit          = 3
	PremiumLimit       = 100
	SubscriptionPeriod = 30 * 24 * time.Hour
)

// Record is the persisted per-identity usage ledger.
type Record struct {
	Used              int        `json:"used"`
	Limit             int        `json:"limit"`
	IsSubscribed      bool       `json:"isSubscribed"`
	SubscriptionStart *time.Time `json:"subscriptionStart,omitempty"`

	// Identity is empty for the disabled sentinel returned to anonymous callers.
	Identity string `json:"-"`
}

// CanGenerate reports whether the identity may start another generation.
func (r *Record) CanGenerate() bool {
	return r != nil && r.Identity != "" && r.Used < r.Limit
}

// Remaining returns how many generations are left in the current period.
func (r *Record) Remaining() int {
	if r == nil || r.Used >= r.Limit {
		return 0
	}
	return r.Limit - r.Used
}

// Limits configures the tiers.
type Limits struct {
	Free    int
	Premium int
	Period  time.Duration
}

// DefaultLimits returns the standard tier limits.
func DefaultLimits() Limits {
	return Limits{Free: FreeLimit, Premium: PremiumLimit, Period: SubscriptionPeriod}
}

// normalize fills zero values and keeps premium at or above free.
func (l Limits) normalize() Limits {
	d := DefaultLimits()
	if l.Free <= 0 {
		l.Free = d.Free
	}
	if l.Premium <= 0 {
		l.Premium = d.Premium
	}
	if l.Premium < l.Free {
		l.Premium = l.Free
	}
	if l.Period <= 0 {
		l.Period = d.Period
	}
	return l
}

// limitFor derives the limit from the subscription flag, floored at free.
func (l Limits) limitFor(subscribed bool) int {
	limit := l.Free
	if subscribed {
		limit = l.Premium
	}
	return max(limit, l.Free)
}

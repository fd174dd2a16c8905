package types

import "time"

type User struct {
	ChatID    int64
	DateStart time.Time
}

// Subscription is one row of the payment log.
type Subscription struct {
	ID       int64
	UserID   int64
	Server   string
	DatePaid time.Time
}

const (
	SubscriptionPeriod = 30 * 24 * time.Hour
	RenewalGrace       = 3 * 24 * time.Hour
)

// DaysSince counts whole days elapsed from t to now.
func DaysSince(t, now time.Time) int {
	if now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / (24 * time.Hour))
}

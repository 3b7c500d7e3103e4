package domain

import "time"

// DeviceSession is a long-lived device token that is rotated in place.
// The previous token hash is kept only as a short-lived grace alias in the
// TTL store, never here.
type DeviceSession struct {
	ID            string
	UserID        string
	ClientID      string
	DeviceName    string
	TokenHash     string
	RotatedAt     *time.Time
	ExpiresAt     time.Time
	MaxLifetimeAt time.Time
	CreatedAt     time.Time
}

// MaxLifetimeExceeded reports whether the absolute lifetime has elapsed.
func (s DeviceSession) MaxLifetimeExceeded(now time.Time) bool {
	return !now.Before(s.MaxLifetimeAt)
}

// Expired reports whether the rolling expiry has elapsed.
func (s DeviceSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Package service holds the credential and session lifecycle logic: token
// issuance and refresh, device session rotation and WebAuthn ceremonies.
package service

import (
	"context"
	"time"
)

const (
	DefaultAccessTTL     = 60 * time.Minute
	DefaultRefreshTTL    = 30 * 24 * time.Hour
	DefaultGracePeriod   = 300 * time.Second
	DefaultChallengeTTL  = 5 * time.Minute
	DefaultSessionTTL    = 30 * 24 * time.Hour
	DefaultSessionMaxAge = 180 * 24 * time.Hour
	DefaultStoreTimeout  = 3 * time.Second
	DefaultTokenPrefix   = "till_"

	// machineTTLMultiplier scales the access TTL for client-credential tokens.
	machineTTLMultiplier = 24
)

// withStoreTimeout bounds every store round trip made on behalf of one call.
func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

func nowOr(clock func() time.Time) time.Time {
	if clock != nil {
		return clock().UTC()
	}
	return time.Now().UTC()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

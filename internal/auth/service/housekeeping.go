package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/metrics"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
)

// HousekeepingService periodically removes access tokens and device
// sessions that can no longer be used, together with the grace aliases of
// the swept sessions.
type HousekeepingService struct {
	Store    store.Store
	TTL      store.TTLStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	// StoreTimeout bounds each store call of a sweep.
	StoreTimeout time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(st store.Store, ttl store.TTLStore, m *metrics.Metrics, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    st,
		TTL:      ttl,
		Metrics:  m,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress sweep has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one cleanup pass. Each table is independent: a failure in one
// does not stop the others.
func (s *HousekeepingService) Sweep(ctx context.Context) {
	now := nowOr(s.Now)

	var tokens int64
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		tokens, err = s.Store.AccessTokens().DeleteExpired(ctx, now)
		return err
	})
	if err != nil {
		s.Logger.Error("failed to delete expired access tokens", "error", err)
	} else {
		s.Metrics.HousekeepingDeleted("access_tokens", int(tokens))
	}

	var ids []string
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		ids, err = s.Store.DeviceSessions().DeleteExpiredDeviceSessions(ctx, now)
		return err
	})
	if err != nil {
		s.Logger.Error("failed to delete expired device sessions", "error", err)
	} else {
		s.Metrics.HousekeepingDeleted("device_sessions", len(ids))
	}

	if s.TTL != nil {
		for _, id := range ids {
			err := s.withTimeout(ctx, func(ctx context.Context) error {
				return s.TTL.GraceAliases().DeleteGraceAliases(ctx, id)
			})
			if err != nil {
				s.Logger.Warn("failed to delete grace aliases", "session_id", id, "error", err)
			}
		}
	}

	s.Logger.Info("housekeeping sweep completed",
		"access_tokens", tokens,
		"device_sessions", len(ids),
	)
}

func (s *HousekeepingService) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return transient(fn(ctx))
}

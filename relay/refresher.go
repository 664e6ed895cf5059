package relay

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/calls-relay/telemetry"
	"github.com/onnwee/calls-relay/webexapi"
)

// StartRefresher launches a goroutine that periodically sweeps every known
// room and reissues credentials whose remaining lifetime falls within window.
// One user's refresh failure never blocks the others. The goroutine exits
// when ctx is cancelled.
func (s *Service) StartRefresher(ctx context.Context, interval, window time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			s.refreshAll(ctx, window)
		}
	}()
}

func (s *Service) refreshAll(ctx context.Context, window time.Duration) {
	rooms, err := s.store.ListRoomIDs(ctx)
	if err != nil {
		slog.Warn("token refresh sweep: listing rooms failed", slog.Any("err", err))
		return
	}
	for _, roomID := range rooms {
		s.RefreshTokensForRoom(ctx, roomID, window)
	}
}

// RefreshTokensForRoom reissues every refreshable, expiring credential in one
// room, persisting each updated record as it goes.
func (s *Service) RefreshTokensForRoom(ctx context.Context, roomID string, window time.Duration) {
	records, err := s.store.GetAuthorizedUsers(ctx, roomID)
	if err != nil {
		slog.Warn("token refresh sweep: loading room failed", slog.String("room", roomID), slog.Any("err", err))
		return
	}
	refreshed := 0
	for i := range records {
		rec := records[i]
		if !rec.Refreshable(time.Now()) {
			continue
		}
		if window > 0 && time.Until(rec.TokenExpiry) > window {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		bundle, err := s.flow.Refresh(rctx, rec.RefreshToken)
		cancel()
		if err != nil {
			telemetry.TokenRefreshFailures.Inc()
			slog.Warn("token refresh failed",
				slog.String("room", roomID),
				slog.String("person", rec.DisplayName),
				slog.Any("err", err))
			continue
		}
		rec.AccessToken = bundle.AccessToken
		if bundle.RefreshToken != "" {
			rec.RefreshToken = bundle.RefreshToken
		}
		rec.TokenExpiry = webexapi.ComputeExpiry(bundle.ExpiresIn)
		rec.RefreshExpiry = webexapi.ComputeExpiry(bundle.RefreshTokenExpiresIn)
		if err := s.store.Save(ctx, rec); err != nil {
			telemetry.TokenRefreshFailures.Inc()
			slog.Warn("token persist failed",
				slog.String("room", roomID),
				slog.String("person", rec.DisplayName),
				slog.Any("err", err))
			continue
		}
		telemetry.TokensRefreshed.Inc()
		refreshed++
	}
	if refreshed > 0 {
		slog.Info("tokens refreshed", slog.String("room", roomID), slog.Int("count", refreshed))
	}
}

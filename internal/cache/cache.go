package cache

import (
	"context"
	"time"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

// StatsCache holds computed period statistics between ledger changes.
type StatsCache interface {
	Get(ctx context.Context, period string) (*domain.PeriodStats, bool, error)
	Set(ctx context.Context, period string, value *domain.PeriodStats, ttl time.Duration) error
	Invalidate(ctx context.Context, periods ...string) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ string) (*domain.PeriodStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ string, _ *domain.PeriodStats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}

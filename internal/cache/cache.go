package cache

import (
	"context"
	"fmt"
	"time"

	"bizcore/backend/internal/domain"
)

// ProfitCache stores period profit previews. A miss is (nil, false, nil).
type ProfitCache interface {
	Get(ctx context.Context, key string) (*domain.PeriodProfit, bool, error)
	Set(ctx context.Context, key string, value *domain.PeriodProfit, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopProfitCache struct{}

func (NoopProfitCache) Get(_ context.Context, _ string) (*domain.PeriodProfit, bool, error) {
	return nil, false, nil
}

func (NoopProfitCache) Set(_ context.Context, _ string, _ *domain.PeriodProfit, _ time.Duration) error {
	return nil
}

func (NoopProfitCache) Invalidate(_ context.Context) error {
	return nil
}

// PeriodKey is the cache key for a profit preview of [start, end].
func PeriodKey(start time.Time, end time.Time) string {
	return fmt.Sprintf("profit:period:%s:%s", start.Format(domain.DateLayout), end.Format(domain.DateLayout))
}

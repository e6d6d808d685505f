package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bizcore/backend/internal/cache"
	"bizcore/backend/internal/commission"
	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	resolver    *commission.Resolver
	profitCache cache.ProfitCache
	cacheTTL    time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func New(repo store.Repository, resolver *commission.Resolver, profitCache cache.ProfitCache, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	if resolver == nil {
		resolver = commission.NewResolver()
	}
	if profitCache == nil {
		profitCache = cache.NoopProfitCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	return &Service{
		repo:        repo,
		resolver:    resolver,
		profitCache: profitCache,
		cacheTTL:    cacheTTL,
		logger:      logger.With().Str("component", "service").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID int64, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	s.logger.Info().
		Bool("audit", true).
		Str("action", action).
		Str("entity", entityType).
		Int64("entity_id", entityID).
		Str("actor", actor.Username).
		Str("actor_role", actor.Role).
		Str("detail", detail).
		Msg("audit")
}

func (s *Service) invalidateProfitCache(ctx context.Context) {
	if err := s.profitCache.Invalidate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate profit cache")
	}
}

func (s *Service) today() time.Time {
	return dateOnly(s.now())
}

// parseDate reads a YYYY-MM-DD value. An empty value yields fallback.
func parseDate(field string, value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if fallback.IsZero() {
			return time.Time{}, invalid(field, "is required")
		}
		return fallback, nil
	}
	t, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		return time.Time{}, invalid(field, "must be a YYYY-MM-DD date")
	}
	return t, nil
}

func validatePeriod(start time.Time, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return invalid("period", "start and end dates are required")
	}
	if end.Before(start) {
		return invalid("period", "end date is before start date")
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

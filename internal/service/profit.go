package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bizcore/backend/internal/cache"
	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
)

// CalculatePeriod computes profit for [start, end] without persisting it. A
// period with no activity yields a zero-filled result. Results are cached, and a
// write racing the cache fill can leave a preview stale for up to the cache TTL.
func (s *Service) CalculatePeriod(ctx context.Context, start time.Time, end time.Time) (domain.PeriodProfit, error) {
	if err := validatePeriod(start, end); err != nil {
		return domain.PeriodProfit{}, err
	}

	key := cache.PeriodKey(start, end)
	if cached, ok, err := s.profitCache.Get(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("profit cache read failed")
	} else if ok {
		return *cached, nil
	}

	var profit domain.PeriodProfit
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		profit, err = computePeriod(ctx, q, start, end)
		return err
	})
	if err != nil {
		return domain.PeriodProfit{}, fmt.Errorf("calculate period: %w", err)
	}

	if err := s.profitCache.Set(ctx, key, &profit, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("profit cache write failed")
	}
	return profit, nil
}

func computePeriod(ctx context.Context, q store.Queries, start time.Time, end time.Time) (domain.PeriodProfit, error) {
	sales, err := q.SummarizeSales(ctx, start, end)
	if err != nil {
		return domain.PeriodProfit{}, fmt.Errorf("summarize sales: %w", err)
	}
	byType, err := q.SumCostsByType(ctx, start, end)
	if err != nil {
		return domain.PeriodProfit{}, fmt.Errorf("sum costs: %w", err)
	}

	totalCosts := decimal.Zero
	for _, t := range byType {
		totalCosts = totalCosts.Add(t.TotalAmount)
	}
	if byType == nil {
		byType = []domain.CostTypeTotal{}
	}

	return domain.PeriodProfit{
		PeriodStart:  start,
		PeriodEnd:    end,
		SalesCount:   sales.SalesCount,
		TotalRevenue: sales.TotalRevenue.Round(2),
		TotalCOGS:    sales.TotalCOGS.Round(2),
		GrossProfit:  sales.GrossProfit.Round(2),
		TotalCosts:   totalCosts.Round(2),
		NetProfit:    sales.GrossProfit.Sub(totalCosts).Round(2),
		CostsByType:  byType,
	}, nil
}

// CreateWithDistributions persists a draft calculation together with one
// pending distribution per eligible investor. Nothing is kept when the
// distribution step fails. A period without positive net profit is stored
// with no distributions.
func (s *Service) CreateWithDistributions(ctx context.Context, req domain.ProfitCalculationRequest) (domain.ProfitCalculation, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.ProfitCalculation{}, err
	}
	start, err := parseDate("period_start", req.PeriodStart, time.Time{})
	if err != nil {
		return domain.ProfitCalculation{}, err
	}
	end, err := parseDate("period_end", req.PeriodEnd, time.Time{})
	if err != nil {
		return domain.ProfitCalculation{}, err
	}
	if err := validatePeriod(start, end); err != nil {
		return domain.ProfitCalculation{}, err
	}

	var result domain.ProfitCalculation
	err = s.repo.Tx(ctx, func(q store.Queries) error {
		period, err := computePeriod(ctx, q, start, end)
		if err != nil {
			return err
		}
		calc, err := q.CreateProfitCalculation(ctx, domain.ProfitCalculation{
			PeriodStart:  start,
			PeriodEnd:    end,
			TotalRevenue: period.TotalRevenue,
			TotalCOGS:    period.TotalCOGS,
			TotalCosts:   period.TotalCosts,
			GrossProfit:  period.GrossProfit,
			NetProfit:    period.NetProfit,
			Status:       domain.ProfitStatusDraft,
			CalculatedBy: actor.Username,
			Notes:        strings.TrimSpace(req.Notes),
		})
		if err != nil {
			return fmt.Errorf("create calculation: %w", err)
		}

		calc.Distributions = []domain.ProfitDistribution{}
		if !period.NetProfit.IsPositive() {
			result = *calc
			return nil
		}

		plan, err := planDistribution(ctx, q, end, period.NetProfit)
		if err != nil {
			return err
		}

		calc.Distributions = make([]domain.ProfitDistribution, 0, len(plan.Shares))
		for _, share := range plan.Shares {
			share.CalculationID = calc.ID
			share.Status = domain.DistributionStatusPending
			dist, err := q.CreateProfitDistribution(ctx, share)
			if err != nil {
				return fmt.Errorf("create distribution for investor %d: %w", share.InvestorID, err)
			}
			calc.Distributions = append(calc.Distributions, *dist)
		}
		result = *calc
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Time("period_start", start).Time("period_end", end).Msg("profit calculation rolled back")
		return domain.ProfitCalculation{}, err
	}

	s.logAudit(ctx, "profit_calculation_create", "profit_calculation", result.ID, fmt.Sprintf("net=%s,distributions=%d", result.NetProfit.StringFixed(2), len(result.Distributions)))
	return result, nil
}

func (s *Service) GetProfitCalculation(ctx context.Context, id int64) (domain.ProfitCalculation, error) {
	var calc domain.ProfitCalculation
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		calc, err = loadCalculation(ctx, q, id)
		return err
	})
	return calc, err
}

func (s *Service) ListProfitCalculations(ctx context.Context, status string, limit int) ([]domain.ProfitCalculation, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var calcs []domain.ProfitCalculation
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		calcs, err = q.ListProfitCalculations(ctx, status, limit)
		return err
	})
	return calcs, err
}

func (s *Service) FinalizeProfitCalculation(ctx context.Context, id int64) (domain.ProfitCalculation, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ProfitCalculation{}, err
	}

	var calc domain.ProfitCalculation
	err := s.repo.Tx(ctx, func(q store.Queries) error {
		current, err := q.GetProfitCalculationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != domain.ProfitStatusDraft {
			return fmt.Errorf("calculation %d is %s: %w", id, current.Status, ErrInvalidTransition)
		}
		if err := q.UpdateProfitCalculationStatus(ctx, id, domain.ProfitStatusFinalized, s.now()); err != nil {
			return err
		}
		calc, err = loadCalculation(ctx, q, id)
		return err
	})
	if err != nil {
		return domain.ProfitCalculation{}, err
	}

	s.logAudit(ctx, "profit_calculation_finalize", "profit_calculation", id, "")
	return calc, nil
}

func loadCalculation(ctx context.Context, q store.Queries, id int64) (domain.ProfitCalculation, error) {
	calc, err := q.GetProfitCalculation(ctx, id)
	if err != nil {
		return domain.ProfitCalculation{}, err
	}
	dists, err := q.ListProfitDistributions(ctx, id)
	if err != nil {
		return domain.ProfitCalculation{}, err
	}
	calc.Distributions = dists
	return *calc, nil
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
	"bizcore/backend/internal/xid"
)

// CalculateDistribution splits netProfit across investors that are active and
// joined on or before periodEnd, in proportion to their ownership relative to
// the group total.
func (s *Service) CalculateDistribution(ctx context.Context, periodEnd time.Time, netProfit decimal.Decimal) (domain.DistributionPlan, error) {
	if periodEnd.IsZero() {
		return domain.DistributionPlan{}, invalid("period_end", "is required")
	}
	var plan domain.DistributionPlan
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		plan, err = planDistribution(ctx, q, periodEnd, netProfit)
		return err
	})
	return plan, err
}

// planDistribution rounds every share to cents independently. The difference
// between netProfit and the sum of shares is reported, not reassigned.
func planDistribution(ctx context.Context, q store.Queries, periodEnd time.Time, netProfit decimal.Decimal) (domain.DistributionPlan, error) {
	investors, err := q.ListEligibleInvestors(ctx, periodEnd)
	if err != nil {
		return domain.DistributionPlan{}, fmt.Errorf("list eligible investors: %w", err)
	}

	total := decimal.Zero
	for _, inv := range investors {
		total = total.Add(inv.OwnershipPercentage)
	}
	if len(investors) == 0 || !total.IsPositive() {
		return domain.DistributionPlan{}, ErrNoEligibleInvestors
	}

	plan := domain.DistributionPlan{
		PeriodEnd:       periodEnd,
		NetProfit:       netProfit,
		TotalPercentage: total,
		Shares:          make([]domain.ProfitDistribution, 0, len(investors)),
	}
	distributed := decimal.Zero
	for _, inv := range investors {
		share := inv.OwnershipPercentage.Mul(netProfit).Div(total).Round(2)
		distributed = distributed.Add(share)
		plan.Shares = append(plan.Shares, domain.ProfitDistribution{
			InvestorID: inv.ID,
			Amount:     share,
			Percentage: inv.OwnershipPercentage,
			Status:     domain.DistributionStatusPending,
		})
	}
	plan.RoundingRemainder = netProfit.Sub(distributed)
	return plan, nil
}

// ProcessDistributions pays the listed distributions of one calculation and
// credits each investor through the capital ledger. Supplied amounts must
// match the stored shares.
func (s *Service) ProcessDistributions(ctx context.Context, calculationID int64, req domain.ProcessDistributionsRequest) (domain.ProfitCalculation, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ProfitCalculation{}, err
	}
	if calculationID < 1 {
		return domain.ProfitCalculation{}, invalid("calculation_id", "is required")
	}
	if len(req.Payments) == 0 {
		return domain.ProfitCalculation{}, invalid("payments", "at least one payment is required")
	}

	type payment struct {
		domain.DistributionPayment
		date time.Time
	}
	payments := make([]payment, 0, len(req.Payments))
	seen := make(map[int64]struct{}, len(req.Payments))
	for i, p := range req.Payments {
		field := fmt.Sprintf("payments[%d]", i)
		if p.DistributionID < 1 {
			return domain.ProfitCalculation{}, invalid(field, "distribution_id is required")
		}
		if _, dup := seen[p.DistributionID]; dup {
			return domain.ProfitCalculation{}, invalid(field, "distribution listed twice")
		}
		seen[p.DistributionID] = struct{}{}
		if p.Amount.IsNegative() {
			return domain.ProfitCalculation{}, invalid(field, "amount must not be negative")
		}
		date, err := parseDate(field+".payment_date", p.PaymentDate, s.today())
		if err != nil {
			return domain.ProfitCalculation{}, err
		}
		payments = append(payments, payment{DistributionPayment: p, date: date})
	}

	var result domain.ProfitCalculation
	err := s.repo.Tx(ctx, func(q store.Queries) error {
		calc, err := q.GetProfitCalculationForUpdate(ctx, calculationID)
		if err != nil {
			return err
		}
		if calc.Status == domain.ProfitStatusDistributed {
			return fmt.Errorf("calculation %d already distributed: %w", calculationID, ErrInvalidTransition)
		}

		for _, p := range payments {
			dist, err := q.GetProfitDistributionForUpdate(ctx, p.DistributionID)
			if err != nil {
				return fmt.Errorf("distribution %d: %w", p.DistributionID, err)
			}
			if dist.CalculationID != calculationID {
				return fmt.Errorf("distribution %d belongs to calculation %d: %w", dist.ID, dist.CalculationID, ErrInvalidTransition)
			}
			if dist.Status != domain.DistributionStatusPending {
				return fmt.Errorf("distribution %d is %s: %w", dist.ID, dist.Status, ErrInvalidTransition)
			}
			if p.InvestorID != 0 && p.InvestorID != dist.InvestorID {
				return fmt.Errorf("distribution %d is for investor %d, not %d: %w", dist.ID, dist.InvestorID, p.InvestorID, ErrAmountMismatch)
			}
			if !p.Amount.IsZero() && !p.Amount.Equal(dist.Amount) {
				return fmt.Errorf("distribution %d: supplied %s, expected %s: %w", dist.ID, p.Amount.StringFixed(2), dist.Amount.StringFixed(2), ErrAmountMismatch)
			}

			reference := defaultString(p.PaymentReference, xid.Reference("dist", p.date))
			notes := strings.TrimSpace(p.Notes)
			if err := q.MarkDistributionPaid(ctx, dist.ID, p.date, reference, notes); err != nil {
				return fmt.Errorf("mark distribution %d paid: %w", dist.ID, err)
			}
			if dist.Amount.IsPositive() {
				if _, _, err := s.applyCapitalChange(ctx, q, dist.InvestorID, domain.TransactionProfitShare, dist.Amount, p.date, reference, defaultString(notes, fmt.Sprintf("profit share for calculation %d", calculationID))); err != nil {
					return err
				}
			}
		}

		remaining, err := q.ListProfitDistributions(ctx, calculationID)
		if err != nil {
			return err
		}
		pending := 0
		for _, d := range remaining {
			if d.Status == domain.DistributionStatusPending {
				pending++
			}
		}
		switch {
		case pending == 0:
			err = q.UpdateProfitCalculationStatus(ctx, calculationID, domain.ProfitStatusDistributed, s.now())
		case calc.Status == domain.ProfitStatusDraft:
			err = q.UpdateProfitCalculationStatus(ctx, calculationID, domain.ProfitStatusFinalized, s.now())
		}
		if err != nil {
			return fmt.Errorf("advance calculation status: %w", err)
		}

		result, err = loadCalculation(ctx, q, calculationID)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("calculation_id", calculationID).Msg("distribution processing rolled back")
		return domain.ProfitCalculation{}, err
	}

	s.logAudit(ctx, "profit_distribution_process", "profit_calculation", calculationID, fmt.Sprintf("payments=%d,status=%s", len(payments), result.Status))
	return result, nil
}

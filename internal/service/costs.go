package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
)

// maxOccurrences bounds one recurring series.
const maxOccurrences = 5000

func (s *Service) CreateCostCategory(ctx context.Context, req domain.CostCategoryRequest) (domain.CostCategory, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CostCategory{}, err
	}
	name := strings.TrimSpace(req.Name)
	costType := strings.ToLower(strings.TrimSpace(req.Type))
	if name == "" {
		return domain.CostCategory{}, invalid("name", "is required")
	}
	if costType == "" {
		return domain.CostCategory{}, invalid("type", "is required")
	}

	var created *domain.CostCategory
	err := s.repo.Tx(ctx, func(q store.Queries) error {
		var err error
		created, err = q.CreateCostCategory(ctx, domain.CostCategory{
			Name:   name,
			Type:   costType,
			Status: domain.StatusActive,
		})
		return err
	})
	if err != nil {
		return domain.CostCategory{}, err
	}

	s.logAudit(ctx, "cost_category_create", "cost_category", created.ID, fmt.Sprintf("name=%s,type=%s", created.Name, created.Type))
	return *created, nil
}

func (s *Service) ListCostCategories(ctx context.Context) ([]domain.CostCategory, error) {
	var categories []domain.CostCategory
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		categories, err = q.ListCostCategories(ctx)
		return err
	})
	return categories, err
}

// CreateCost stores the base cost and, for a recurring cost with both a type
// and an end date, one row per later occurrence up to and including the end
// date. The series is written in one unit of work.
func (s *Service) CreateCost(ctx context.Context, req domain.CostRequest) (domain.CostResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.CostResponse{}, err
	}
	if req.CategoryID < 1 {
		return domain.CostResponse{}, invalid("category_id", "is required")
	}
	if !req.Amount.IsPositive() {
		return domain.CostResponse{}, invalid("amount", "must be greater than zero")
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return domain.CostResponse{}, invalid("description", "is required")
	}
	costDate, err := parseDate("cost_date", req.CostDate, time.Time{})
	if err != nil {
		return domain.CostResponse{}, err
	}

	base := domain.Cost{
		CategoryID:  req.CategoryID,
		Amount:      req.Amount.Round(2),
		Description: description,
		CostDate:    costDate,
		Recurring:   req.Recurring,
		CreatedBy:   actor.Username,
	}

	var dates []time.Time
	if req.Recurring {
		base.RecurringType = strings.ToLower(strings.TrimSpace(req.RecurringType))
		if base.RecurringType != "" && !validRecurringType(base.RecurringType) {
			return domain.CostResponse{}, invalid("recurring_type", "must be daily, weekly, monthly or yearly")
		}
		if strings.TrimSpace(req.RecurringEndDate) != "" {
			end, err := parseDate("recurring_end_date", req.RecurringEndDate, time.Time{})
			if err != nil {
				return domain.CostResponse{}, err
			}
			base.RecurringEndDate = &end
		}
		if base.RecurringType != "" && base.RecurringEndDate != nil {
			dates = occurrences(costDate, base.RecurringType, *base.RecurringEndDate)
			if len(dates) > maxOccurrences {
				return domain.CostResponse{}, invalid("recurring_end_date", fmt.Sprintf("series exceeds %d occurrences", maxOccurrences))
			}
		}
	}

	resp := domain.CostResponse{Occurrences: make([]domain.Cost, 0, len(dates))}
	err = s.repo.Tx(ctx, func(q store.Queries) error {
		category, err := q.GetCostCategory(ctx, req.CategoryID)
		if err != nil {
			return err
		}
		if category.Status != domain.StatusActive {
			return invalid("category_id", "category is inactive")
		}

		created, err := q.CreateCost(ctx, base)
		if err != nil {
			return fmt.Errorf("create cost: %w", err)
		}
		resp.Cost = *created

		for _, d := range dates {
			occurrence := base
			occurrence.CostDate = d
			occurrence.ParentCostID = &created.ID
			row, err := q.CreateCost(ctx, occurrence)
			if err != nil {
				return fmt.Errorf("create occurrence %s: %w", d.Format(domain.DateLayout), err)
			}
			resp.Occurrences = append(resp.Occurrences, *row)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("category_id", req.CategoryID).Int("occurrences", len(dates)).Msg("create cost rolled back")
		return domain.CostResponse{}, err
	}

	s.invalidateProfitCache(ctx)
	s.logAudit(ctx, "cost_create", "cost", resp.Cost.ID, fmt.Sprintf("amount=%s,occurrences=%d", resp.Cost.Amount.StringFixed(2), len(resp.Occurrences)))
	return resp, nil
}

func (s *Service) ListCosts(ctx context.Context, filter domain.CostFilter) ([]domain.Cost, error) {
	if err := validatePeriod(filter.From, filter.To); err != nil {
		return nil, err
	}
	var costs []domain.Cost
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		costs, err = q.ListCosts(ctx, filter)
		return err
	})
	return costs, err
}

func (s *Service) CostCategorySummary(ctx context.Context, from time.Time, to time.Time) ([]domain.CostCategorySummary, error) {
	if err := validatePeriod(from, to); err != nil {
		return nil, err
	}
	var summary []domain.CostCategorySummary
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		summary, err = q.SummarizeCostsByCategory(ctx, from, to)
		return err
	})
	return summary, err
}

func validRecurringType(t string) bool {
	switch t {
	case domain.RecurringDaily, domain.RecurringWeekly, domain.RecurringMonthly, domain.RecurringYearly:
		return true
	default:
		return false
	}
}

// occurrences lists the dates one interval after anchor up to end inclusive.
// Each date is computed from the anchor so month-end clamping never drifts.
func occurrences(anchor time.Time, recurringType string, end time.Time) []time.Time {
	var dates []time.Time
	for i := 1; i <= maxOccurrences+1; i++ {
		var next time.Time
		switch recurringType {
		case domain.RecurringDaily:
			next = anchor.AddDate(0, 0, i)
		case domain.RecurringWeekly:
			next = anchor.AddDate(0, 0, 7*i)
		case domain.RecurringMonthly:
			next = addMonthsClamped(anchor, i)
		case domain.RecurringYearly:
			next = addMonthsClamped(anchor, 12*i)
		default:
			return nil
		}
		if next.After(end) {
			break
		}
		dates = append(dates, next)
	}
	return dates
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(d, last), 0, 0, 0, 0, time.UTC)
}

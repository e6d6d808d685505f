package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
)

// CalculateForSale resolves commission drafts for an already built sale. Nothing
// is persisted.
func (s *Service) CalculateForSale(ctx context.Context, sale domain.Sale) ([]domain.CommissionCalculation, error) {
	var drafts []domain.CommissionCalculation
	err := s.repo.View(ctx, func(q store.Queries) error {
		user, err := q.GetUser(ctx, sale.UserID)
		if err != nil {
			return err
		}
		drafts, err = s.draftCommissions(ctx, q, *user, sale)
		return err
	})
	return drafts, err
}

func (s *Service) draftCommissions(ctx context.Context, q store.Queries, user domain.User, sale domain.Sale) ([]domain.CommissionCalculation, error) {
	if !user.CommissionEligible {
		return nil, ErrNotCommissionEligible
	}

	matches, err := s.resolver.Resolve(ctx, q, user, sale.Items)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNoApplicableRate
	}

	drafts := make([]domain.CommissionCalculation, 0, len(matches))
	for _, m := range matches {
		drafts = append(drafts, domain.CommissionCalculation{
			SaleID:           sale.ID,
			SaleItemID:       m.Item.ID,
			UserID:           user.ID,
			CommissionRateID: m.RateID,
			RateApplied:      m.Rate,
			SaleAmount:       m.Item.TotalAmount,
			CommissionAmount: m.Amount,
			Status:           domain.CommissionStatusPending,
		})
	}
	return drafts, nil
}

// RecordSale persists a paid sale and its commission drafts in one unit of work.
// A sale whose user is not eligible, or that matches no rate, is still recorded.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleSales)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if req.UserID == 0 {
		req.UserID = actor.UserID
	}
	if actor.Role == domain.RoleSales && req.UserID != actor.UserID {
		return domain.SaleResponse{}, ErrForbidden
	}
	if req.UserID < 1 {
		return domain.SaleResponse{}, invalid("user_id", "is required")
	}
	if len(req.Items) == 0 {
		return domain.SaleResponse{}, invalid("items", "at least one item is required")
	}
	saleDate, err := parseDate("sale_date", req.SaleDate, s.today())
	if err != nil {
		return domain.SaleResponse{}, err
	}

	productIDs := make([]int64, 0, len(req.Items))
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if item.ProductID < 1 {
			return domain.SaleResponse{}, invalid(field, "product_id is required")
		}
		if item.Quantity < 1 {
			return domain.SaleResponse{}, invalid(field, "quantity must be at least 1")
		}
		if item.UnitPrice.IsNegative() || item.UnitCost.IsNegative() {
			return domain.SaleResponse{}, invalid(field, "unit price and cost must not be negative")
		}
		productIDs = append(productIDs, item.ProductID)
	}

	var resp domain.SaleResponse
	err = s.repo.Tx(ctx, func(q store.Queries) error {
		user, err := q.GetUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !user.Active {
			return invalid("user_id", "user is inactive")
		}
		products, err := q.GetProducts(ctx, productIDs)
		if err != nil {
			return err
		}

		sale := domain.Sale{
			UserID:       user.ID,
			CustomerName: strings.TrimSpace(req.CustomerName),
			SaleDate:     saleDate,
			Status:       domain.SaleStatusPaid,
			TotalAmount:  decimal.Zero,
			Items:        make([]domain.SaleItem, 0, len(req.Items)),
		}
		for i, item := range req.Items {
			product, ok := products[item.ProductID]
			if !ok || !product.Active {
				return invalid(fmt.Sprintf("items[%d]", i), "product is unavailable")
			}
			total := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
			sale.Items = append(sale.Items, domain.SaleItem{
				ProductID:   product.ID,
				CategoryID:  product.CategoryID,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				UnitCost:    item.UnitCost,
				TotalAmount: total,
			})
			sale.TotalAmount = sale.TotalAmount.Add(total)
		}

		created, err := q.CreateSale(ctx, sale)
		if err != nil {
			return fmt.Errorf("create sale: %w", err)
		}
		resp.Sale = *created
		resp.Commissions = []domain.CommissionCalculation{}

		drafts, err := s.draftCommissions(ctx, q, *user, *created)
		switch {
		case errors.Is(err, ErrNotCommissionEligible), errors.Is(err, ErrNoApplicableRate):
			s.logger.Debug().Int64("sale_id", created.ID).Str("reason", err.Error()).Msg("sale recorded without commission")
			return nil
		case err != nil:
			return fmt.Errorf("resolve commissions: %w", err)
		}

		saved, err := q.CreateCommissionCalculations(ctx, drafts)
		if err != nil {
			return fmt.Errorf("create commissions: %w", err)
		}
		resp.Commissions = saved
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", req.UserID).Msg("record sale failed")
		return domain.SaleResponse{}, err
	}

	s.invalidateProfitCache(ctx)
	s.logAudit(ctx, "sale_record", "sale", resp.Sale.ID, fmt.Sprintf("total=%s,commissions=%d", resp.Sale.TotalAmount.StringFixed(2), len(resp.Commissions)))
	return resp, nil
}

// ProcessCommissionPayment marks every listed commission paid in one statement.
// Unknown ids abort the whole batch. Paid rows are stamped again.
func (s *Service) ProcessCommissionPayment(ctx context.Context, req domain.CommissionPaymentRequest) (domain.CommissionPaymentResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionPaymentResponse{}, err
	}
	if len(req.IDs) == 0 {
		return domain.CommissionPaymentResponse{}, invalid("ids", "at least one commission id is required")
	}
	paymentDate, err := parseDate("payment_date", req.PaymentDate, s.today())
	if err != nil {
		return domain.CommissionPaymentResponse{}, err
	}

	ids := make([]int64, 0, len(req.IDs))
	seen := make(map[int64]struct{}, len(req.IDs))
	for _, id := range req.IDs {
		if id < 1 {
			return domain.CommissionPaymentResponse{}, invalid("ids", "ids must be positive")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var affected int64
	err = s.repo.Tx(ctx, func(q store.Queries) error {
		n, err := q.MarkCommissionsPaid(ctx, ids, paymentDate, strings.TrimSpace(req.Notes))
		if err != nil {
			return fmt.Errorf("mark commissions paid: %w", err)
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("%d of %d commissions not found: %w", int64(len(ids))-n, len(ids), store.ErrNotFound)
		}
		affected = n
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Int("count", len(ids)).Msg("commission payment rolled back")
		return domain.CommissionPaymentResponse{}, err
	}

	s.logAudit(ctx, "commission_payment", "commission", ids[0], fmt.Sprintf("count=%d,date=%s", affected, paymentDate.Format(domain.DateLayout)))
	return domain.CommissionPaymentResponse{Paid: affected, PaymentDate: paymentDate}, nil
}

func (s *Service) CreateCommissionRate(ctx context.Context, req domain.CommissionRateRequest) (domain.CommissionRate, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionRate{}, err
	}

	rate := domain.CommissionRate{
		Scope:         domain.RateScope(strings.ToLower(strings.TrimSpace(string(req.Scope)))),
		ReferenceID:   req.ReferenceID,
		Rate:          req.Rate,
		MinSaleAmount: req.MinSaleAmount,
		Status:        defaultString(req.Status, domain.StatusActive),
		Description:   strings.TrimSpace(req.Description),
	}
	if err := rate.Validate(); err != nil {
		return domain.CommissionRate{}, invalid("rate", err.Error())
	}

	var created *domain.CommissionRate
	err := s.repo.Tx(ctx, func(q store.Queries) error {
		if rate.Scope == domain.RateScopeProduct {
			products, err := q.GetProducts(ctx, []int64{*rate.ReferenceID})
			if err != nil {
				return err
			}
			if _, ok := products[*rate.ReferenceID]; !ok {
				return invalid("reference_id", "product does not exist")
			}
		}
		var err error
		created, err = q.CreateCommissionRate(ctx, rate)
		return err
	})
	if err != nil {
		return domain.CommissionRate{}, err
	}

	s.logAudit(ctx, "commission_rate_create", "commission_rate", created.ID, fmt.Sprintf("scope=%s,rate=%s", created.Scope, created.Rate.String()))
	return *created, nil
}

// UpdateCommissionRate changes rate, minimum, status and description. Scope
// and reference are fixed once created; deactivation replaces deletion.
func (s *Service) UpdateCommissionRate(ctx context.Context, id int64, req domain.CommissionRateRequest) (domain.CommissionRate, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionRate{}, err
	}
	if id < 1 {
		return domain.CommissionRate{}, invalid("id", "is required")
	}

	var updated *domain.CommissionRate
	err := s.repo.Tx(ctx, func(q store.Queries) error {
		existing, err := q.GetCommissionRate(ctx, id)
		if err != nil {
			return err
		}
		if req.Scope != "" && req.Scope != existing.Scope {
			return invalid("scope", "cannot be changed")
		}
		if req.ReferenceID != nil && (existing.ReferenceID == nil || *req.ReferenceID != *existing.ReferenceID) {
			return invalid("reference_id", "cannot be changed")
		}

		next := *existing
		next.Rate = req.Rate
		next.MinSaleAmount = req.MinSaleAmount
		next.Status = defaultString(req.Status, existing.Status)
		next.Description = strings.TrimSpace(req.Description)
		if err := next.Validate(); err != nil {
			return invalid("rate", err.Error())
		}

		updated, err = q.UpdateCommissionRate(ctx, next)
		return err
	})
	if err != nil {
		return domain.CommissionRate{}, err
	}

	s.logAudit(ctx, "commission_rate_update", "commission_rate", updated.ID, fmt.Sprintf("rate=%s,status=%s", updated.Rate.String(), updated.Status))
	return *updated, nil
}

func (s *Service) ListCommissionRates(ctx context.Context, filter domain.CommissionRateFilter) ([]domain.CommissionRate, error) {
	if filter.Scope != "" && !filter.Scope.Valid() {
		return nil, invalid("scope", "unknown scope")
	}
	var rates []domain.CommissionRate
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		rates, err = q.ListCommissionRates(ctx, filter)
		return err
	})
	return rates, err
}

func (s *Service) ListCommissions(ctx context.Context, filter domain.CommissionFilter) ([]domain.CommissionCalculation, error) {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleSales {
		filter.UserID = actor.UserID
	}
	var calcs []domain.CommissionCalculation
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		calcs, err = q.ListCommissionCalculations(ctx, filter)
		return err
	})
	return calcs, err
}

func (s *Service) CommissionSummary(ctx context.Context, userID int64, from time.Time, to time.Time) (domain.CommissionSummary, error) {
	if err := validatePeriod(from, to); err != nil {
		return domain.CommissionSummary{}, err
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleSales {
		userID = actor.UserID
	}
	var summary domain.CommissionSummary
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		summary, err = q.SummarizeCommissions(ctx, userID, from, to)
		return err
	})
	return summary, err
}

// PreviewSaleCommissions re-runs rate resolution for a stored sale against the
// rates in force now. The stored drafts are left untouched.
func (s *Service) PreviewSaleCommissions(ctx context.Context, saleID int64) ([]domain.CommissionCalculation, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	var drafts []domain.CommissionCalculation
	err := s.repo.View(ctx, func(q store.Queries) error {
		sale, err := q.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		user, err := q.GetUser(ctx, sale.UserID)
		if err != nil {
			return err
		}
		drafts, err = s.draftCommissions(ctx, q, *user, *sale)
		return err
	})
	return drafts, err
}

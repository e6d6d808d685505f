package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
	"bizcore/backend/internal/xid"
)

// RecordTransaction is the only way capital changes outside of profit
// distribution. The balance update and the ledger row share one unit of work.
func (s *Service) RecordTransaction(ctx context.Context, req domain.CapitalTransactionRequest) (domain.CapitalTransactionResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CapitalTransactionResponse{}, err
	}
	if req.InvestorID < 1 {
		return domain.CapitalTransactionResponse{}, invalid("investor_id", "is required")
	}
	txType := domain.TransactionType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	if !txType.Valid() {
		return domain.CapitalTransactionResponse{}, invalid("type", "must be investment, withdrawal, loss or profit_share")
	}
	if !req.Amount.IsPositive() {
		return domain.CapitalTransactionResponse{}, invalid("amount", "must be greater than zero")
	}
	date, err := parseDate("transaction_date", req.TransactionDate, s.today())
	if err != nil {
		return domain.CapitalTransactionResponse{}, err
	}
	reference := defaultString(req.ReferenceNumber, xid.Reference("cap", date))

	var resp domain.CapitalTransactionResponse
	err = s.repo.Tx(ctx, func(q store.Queries) error {
		txn, inv, err := s.applyCapitalChange(ctx, q, req.InvestorID, txType, req.Amount.Round(2), date, reference, strings.TrimSpace(req.Notes))
		if err != nil {
			return err
		}
		resp = domain.CapitalTransactionResponse{Transaction: txn, Investor: inv}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("investor_id", req.InvestorID).Str("type", string(txType)).Msg("capital transaction rolled back")
		return domain.CapitalTransactionResponse{}, err
	}

	s.logAudit(ctx, "capital_transaction", "investor", req.InvestorID, fmt.Sprintf("type=%s,amount=%s,balance=%s", txType, resp.Transaction.Amount.StringFixed(2), resp.Transaction.BalanceAfter.StringFixed(2)))
	return resp, nil
}

// applyCapitalChange locks the investor, moves the balance and appends the
// matching ledger row. It must run inside a write unit of work.
func (s *Service) applyCapitalChange(ctx context.Context, q store.Queries, investorID int64, txType domain.TransactionType, amount decimal.Decimal, date time.Time, reference string, notes string) (domain.CapitalTransaction, domain.Investor, error) {
	inv, err := q.GetInvestorForUpdate(ctx, investorID)
	if err != nil {
		return domain.CapitalTransaction{}, domain.Investor{}, fmt.Errorf("investor %d: %w", investorID, err)
	}

	delta := amount.Mul(decimal.NewFromInt(int64(txType.Sign())))
	balance := inv.CurrentCapital.Add(delta)
	if txType == domain.TransactionWithdrawal && balance.IsNegative() {
		return domain.CapitalTransaction{}, domain.Investor{}, fmt.Errorf("withdraw %s from balance %s: %w", amount.StringFixed(2), inv.CurrentCapital.StringFixed(2), ErrInsufficientCapital)
	}

	now := s.now()
	if err := q.SetInvestorCapital(ctx, inv.ID, balance, now); err != nil {
		return domain.CapitalTransaction{}, domain.Investor{}, fmt.Errorf("update capital: %w", err)
	}
	txn, err := q.CreateCapitalTransaction(ctx, domain.CapitalTransaction{
		InvestorID:      inv.ID,
		Type:            txType,
		Amount:          amount,
		BalanceAfter:    balance,
		TransactionDate: date,
		ReferenceNumber: reference,
		Notes:           notes,
	})
	if err != nil {
		return domain.CapitalTransaction{}, domain.Investor{}, fmt.Errorf("append capital transaction: %w", err)
	}

	inv.CurrentCapital = balance
	inv.UpdatedAt = now
	return *txn, *inv, nil
}

// ValidateOwnership checks that adding newPercentage to the active investors,
// other than excludeID, keeps the total at or below 100. It runs as a write
// unit of work because the sum locks the rows it reads.
func (s *Service) ValidateOwnership(ctx context.Context, newPercentage decimal.Decimal, excludeID int64) error {
	return s.repo.Tx(ctx, func(q store.Queries) error {
		return validateOwnership(ctx, q, newPercentage, excludeID)
	})
}

func validateOwnership(ctx context.Context, q store.Queries, newPercentage decimal.Decimal, excludeID int64) error {
	if newPercentage.IsNegative() || newPercentage.GreaterThan(domain.Hundred) {
		return invalid("ownership_percentage", "must be between 0 and 100")
	}
	allocated, err := q.SumActiveOwnership(ctx, excludeID)
	if err != nil {
		return fmt.Errorf("sum ownership: %w", err)
	}
	if allocated.Add(newPercentage).GreaterThan(domain.Hundred) {
		return &OwnershipError{Allocated: allocated, Requested: newPercentage}
	}
	return nil
}

func (s *Service) CreateInvestor(ctx context.Context, req domain.InvestorCreateRequest) (domain.Investor, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Investor{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Investor{}, invalid("name", "is required")
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.Investor{}, err
	}
	if req.InitialCapital.IsNegative() {
		return domain.Investor{}, invalid("initial_capital", "must not be negative")
	}
	joinDate, err := parseDate("join_date", req.JoinDate, s.today())
	if err != nil {
		return domain.Investor{}, err
	}

	var created *domain.Investor
	err = s.repo.Tx(ctx, func(q store.Queries) error {
		if err := validateOwnership(ctx, q, req.OwnershipPercentage, 0); err != nil {
			return err
		}
		var err error
		created, err = q.CreateInvestor(ctx, domain.Investor{
			Name:                name,
			Email:               email,
			InitialCapital:      req.InitialCapital.Round(2),
			CurrentCapital:      req.InitialCapital.Round(2),
			OwnershipPercentage: req.OwnershipPercentage,
			JoinDate:            joinDate,
			Status:              domain.StatusActive,
		})
		return err
	})
	if err != nil {
		return domain.Investor{}, err
	}

	s.logAudit(ctx, "investor_create", "investor", created.ID, fmt.Sprintf("ownership=%s,capital=%s", created.OwnershipPercentage.String(), created.InitialCapital.StringFixed(2)))
	return *created, nil
}

// UpdateInvestor edits profile, ownership and status. Capital is left to the
// ledger. Reactivation and ownership changes are checked against the ceiling.
func (s *Service) UpdateInvestor(ctx context.Context, id int64, req domain.InvestorUpdateRequest) (domain.Investor, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Investor{}, err
	}

	var updated *domain.Investor
	err := s.repo.Tx(ctx, func(q store.Queries) error {
		existing, err := q.GetInvestorForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next := *existing
		if req.Name != nil {
			next.Name = strings.TrimSpace(*req.Name)
			if next.Name == "" {
				return invalid("name", "is required")
			}
		}
		if req.Email != nil {
			if next.Email, err = normalizeEmail(*req.Email); err != nil {
				return err
			}
		}
		if req.OwnershipPercentage != nil {
			next.OwnershipPercentage = *req.OwnershipPercentage
			if next.OwnershipPercentage.IsNegative() || next.OwnershipPercentage.GreaterThan(domain.Hundred) {
				return invalid("ownership_percentage", "must be between 0 and 100")
			}
		}
		if req.Status != nil {
			next.Status = strings.ToLower(strings.TrimSpace(*req.Status))
			if next.Status != domain.StatusActive && next.Status != domain.StatusInactive {
				return invalid("status", "must be active or inactive")
			}
		}

		if next.Status == domain.StatusActive {
			if err := validateOwnership(ctx, q, next.OwnershipPercentage, id); err != nil {
				return err
			}
		}
		updated, err = q.UpdateInvestor(ctx, next)
		return err
	})
	if err != nil {
		return domain.Investor{}, err
	}

	s.logAudit(ctx, "investor_update", "investor", updated.ID, fmt.Sprintf("ownership=%s,status=%s", updated.OwnershipPercentage.String(), updated.Status))
	return *updated, nil
}

func (s *Service) GetInvestor(ctx context.Context, id int64) (domain.Investor, error) {
	var inv *domain.Investor
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		inv, err = q.GetInvestor(ctx, id)
		return err
	})
	if err != nil {
		return domain.Investor{}, err
	}
	return *inv, nil
}

func (s *Service) ListInvestors(ctx context.Context, status string) ([]domain.Investor, error) {
	var investors []domain.Investor
	err := s.repo.View(ctx, func(q store.Queries) error {
		var err error
		investors, err = q.ListInvestors(ctx, status)
		return err
	})
	return investors, err
}

func (s *Service) ListCapitalTransactions(ctx context.Context, investorID int64, limit int) ([]domain.CapitalTransaction, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var txns []domain.CapitalTransaction
	err := s.repo.View(ctx, func(q store.Queries) error {
		if _, err := q.GetInvestor(ctx, investorID); err != nil {
			return err
		}
		var err error
		txns, err = q.ListCapitalTransactions(ctx, investorID, limit)
		return err
	})
	return txns, err
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", invalid("email", "is not a valid address")
	}
	return strings.ToLower(raw), nil
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"bizcore/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrReadOnly     = errors.New("write attempted in read-only unit of work")
)

// Repository hands out units of work. Tx commits when fn returns nil and
// rolls back otherwise; View runs fn against a read-only snapshot.
type Repository interface {
	Tx(ctx context.Context, fn func(Queries) error) error
	View(ctx context.Context, fn func(Queries) error) error
}

type Queries interface {
	UserQueries
	SaleQueries
	CommissionQueries
	CostQueries
	InvestorQueries
	ProfitQueries
}

type UserQueries interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}

type SaleQueries interface {
	// CreateSale assigns ids to the sale and every item.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	// SummarizeSales covers paid sales with from <= sale_date <= to.
	SummarizeSales(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error)
}

type CommissionQueries interface {
	CreateCommissionRate(ctx context.Context, rate domain.CommissionRate) (*domain.CommissionRate, error)
	UpdateCommissionRate(ctx context.Context, rate domain.CommissionRate) (*domain.CommissionRate, error)
	GetCommissionRate(ctx context.Context, id int64) (*domain.CommissionRate, error)
	ListCommissionRates(ctx context.Context, filter domain.CommissionRateFilter) ([]domain.CommissionRate, error)
	// ListActiveRates returns active rates of one scope. refIDs is ignored for
	// the global scope.
	ListActiveRates(ctx context.Context, scope domain.RateScope, refIDs []int64) ([]domain.CommissionRate, error)

	CreateCommissionCalculations(ctx context.Context, calcs []domain.CommissionCalculation) ([]domain.CommissionCalculation, error)
	// MarkCommissionsPaid stamps every listed row and reports how many rows matched.
	MarkCommissionsPaid(ctx context.Context, ids []int64, paymentDate time.Time, notes string) (int64, error)
	ListCommissionCalculations(ctx context.Context, filter domain.CommissionFilter) ([]domain.CommissionCalculation, error)
	SummarizeCommissions(ctx context.Context, userID int64, from time.Time, to time.Time) (domain.CommissionSummary, error)
}

type CostQueries interface {
	CreateCostCategory(ctx context.Context, category domain.CostCategory) (*domain.CostCategory, error)
	GetCostCategory(ctx context.Context, id int64) (*domain.CostCategory, error)
	ListCostCategories(ctx context.Context) ([]domain.CostCategory, error)
	CreateCost(ctx context.Context, cost domain.Cost) (*domain.Cost, error)
	ListCosts(ctx context.Context, filter domain.CostFilter) ([]domain.Cost, error)
	SummarizeCostsByCategory(ctx context.Context, from time.Time, to time.Time) ([]domain.CostCategorySummary, error)
	SumCostsByType(ctx context.Context, from time.Time, to time.Time) ([]domain.CostTypeTotal, error)
}

type InvestorQueries interface {
	CreateInvestor(ctx context.Context, investor domain.Investor) (*domain.Investor, error)
	UpdateInvestor(ctx context.Context, investor domain.Investor) (*domain.Investor, error)
	GetInvestor(ctx context.Context, id int64) (*domain.Investor, error)
	// GetInvestorForUpdate locks the investor row until the unit of work ends.
	GetInvestorForUpdate(ctx context.Context, id int64) (*domain.Investor, error)
	ListInvestors(ctx context.Context, status string) ([]domain.Investor, error)
	// SumActiveOwnership locks the active investor rows it sums.
	SumActiveOwnership(ctx context.Context, excludeID int64) (decimal.Decimal, error)
	ListEligibleInvestors(ctx context.Context, asOf time.Time) ([]domain.Investor, error)
	SetInvestorCapital(ctx context.Context, id int64, capital decimal.Decimal, at time.Time) error

	CreateCapitalTransaction(ctx context.Context, txn domain.CapitalTransaction) (*domain.CapitalTransaction, error)
	ListCapitalTransactions(ctx context.Context, investorID int64, limit int) ([]domain.CapitalTransaction, error)
}

type ProfitQueries interface {
	CreateProfitCalculation(ctx context.Context, calc domain.ProfitCalculation) (*domain.ProfitCalculation, error)
	GetProfitCalculation(ctx context.Context, id int64) (*domain.ProfitCalculation, error)
	GetProfitCalculationForUpdate(ctx context.Context, id int64) (*domain.ProfitCalculation, error)
	ListProfitCalculations(ctx context.Context, status string, limit int) ([]domain.ProfitCalculation, error)
	UpdateProfitCalculationStatus(ctx context.Context, id int64, status string, at time.Time) error

	CreateProfitDistribution(ctx context.Context, dist domain.ProfitDistribution) (*domain.ProfitDistribution, error)
	ListProfitDistributions(ctx context.Context, calculationID int64) ([]domain.ProfitDistribution, error)
	GetProfitDistributionForUpdate(ctx context.Context, id int64) (*domain.ProfitDistribution, error)
	MarkDistributionPaid(ctx context.Context, id int64, paymentDate time.Time, reference string, notes string) error
}

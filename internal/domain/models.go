package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	UserID   int64
	Username string
	Role     string
}

type User struct {
	ID                    int64           `json:"id"`
	Username              string          `json:"username"`
	PasswordHash          string          `json:"-"`
	Role                  string          `json:"role"`
	CommissionEligible    bool            `json:"commission_eligible"`
	DefaultCommissionRate decimal.Decimal `json:"default_commission_rate"`
	Active                bool            `json:"active"`
	CreatedAt             time.Time       `json:"created_at"`
}

type Product struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CategoryID int64  `json:"category_id"`
	Active     bool   `json:"active"`
}

type Sale struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	CustomerName string          `json:"customer_name,omitempty"`
	SaleDate     time.Time       `json:"sale_date"`
	Status       string          `json:"status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	Items        []SaleItem      `json:"items"`
}

type SaleItem struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	ProductID   int64           `json:"product_id"`
	CategoryID  int64           `json:"category_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type SaleItemRequest struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type SaleRequest struct {
	UserID       int64             `json:"user_id"`
	CustomerName string            `json:"customer_name"`
	SaleDate     string            `json:"sale_date"`
	Items        []SaleItemRequest `json:"items"`
}

type SaleResponse struct {
	Sale        Sale                    `json:"sale"`
	Commissions []CommissionCalculation `json:"commissions"`
}

// SalesSummary aggregates paid sales over a period.
type SalesSummary struct {
	SalesCount   int64           `json:"sales_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalCOGS    decimal.Decimal `json:"total_cogs"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
}

// RateScope is the granularity a commission rate applies at. Global rates carry
// no reference; category and product rates reference the category or product id.
type RateScope string

const (
	RateScopeGlobal   RateScope = "global"
	RateScopeCategory RateScope = "category"
	RateScopeProduct  RateScope = "product"
)

func (s RateScope) Valid() bool {
	switch s {
	case RateScopeGlobal, RateScopeCategory, RateScopeProduct:
		return true
	default:
		return false
	}
}

type CommissionRate struct {
	ID            int64           `json:"id"`
	Scope         RateScope       `json:"scope"`
	ReferenceID   *int64          `json:"reference_id,omitempty"`
	Rate          decimal.Decimal `json:"rate"`
	MinSaleAmount decimal.Decimal `json:"min_sale_amount"`
	Status        string          `json:"status"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks the scope/reference pairing and the rate bounds.
func (r CommissionRate) Validate() error {
	if !r.Scope.Valid() {
		return ErrInvalidRateScope
	}
	if r.Scope == RateScopeGlobal && r.ReferenceID != nil {
		return ErrInvalidRateScope
	}
	if r.Scope != RateScopeGlobal && (r.ReferenceID == nil || *r.ReferenceID < 1) {
		return ErrInvalidRateScope
	}
	if r.Rate.IsNegative() || r.Rate.GreaterThan(Hundred) {
		return ErrInvalidRate
	}
	if r.MinSaleAmount.IsNegative() {
		return ErrInvalidRate
	}
	switch r.Status {
	case StatusActive, StatusInactive:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// Commission returns amount × rate / 100 rounded to cents.
func (r CommissionRate) Commission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.Rate).Div(Hundred).Round(2)
}

func (r CommissionRate) AppliesTo(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(r.MinSaleAmount)
}

type CommissionRateRequest struct {
	Scope         RateScope       `json:"scope"`
	ReferenceID   *int64          `json:"reference_id,omitempty"`
	Rate          decimal.Decimal `json:"rate"`
	MinSaleAmount decimal.Decimal `json:"min_sale_amount"`
	Status        string          `json:"status,omitempty"`
	Description   string          `json:"description"`
}

type CommissionRateFilter struct {
	Scope  RateScope
	Status string
}

type CommissionCalculation struct {
	ID               int64           `json:"id"`
	SaleID           int64           `json:"sale_id"`
	SaleItemID       int64           `json:"sale_item_id"`
	UserID           int64           `json:"user_id"`
	CommissionRateID *int64          `json:"commission_rate_id"`
	RateApplied      decimal.Decimal `json:"rate_applied"`
	SaleAmount       decimal.Decimal `json:"sale_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Status           string          `json:"status"`
	PaymentDate      *time.Time      `json:"payment_date,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type CommissionFilter struct {
	UserID int64
	SaleID int64
	Status string
	From   *time.Time
	To     *time.Time
	Limit  int
}

type CommissionPaymentRequest struct {
	IDs         []int64 `json:"ids"`
	PaymentDate string  `json:"payment_date"`
	Notes       string  `json:"notes"`
}

type CommissionPaymentResponse struct {
	Paid        int64     `json:"paid"`
	PaymentDate time.Time `json:"payment_date"`
}

type CommissionSummary struct {
	UserID        int64           `json:"user_id"`
	PendingCount  int64           `json:"pending_count"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	PaidCount     int64           `json:"paid_count"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	TotalSales    decimal.Decimal `json:"total_sales"`
}

type CostCategory struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type CostCategoryRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Cost struct {
	ID               int64           `json:"id"`
	CategoryID       int64           `json:"category_id"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	CostDate         time.Time       `json:"cost_date"`
	Recurring        bool            `json:"recurring"`
	RecurringType    string          `json:"recurring_type,omitempty"`
	RecurringEndDate *time.Time      `json:"recurring_end_date,omitempty"`
	ParentCostID     *int64          `json:"parent_cost_id,omitempty"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

type CostRequest struct {
	CategoryID       int64           `json:"category_id"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	CostDate         string          `json:"cost_date"`
	Recurring        bool            `json:"recurring"`
	RecurringType    string          `json:"recurring_type,omitempty"`
	RecurringEndDate string          `json:"recurring_end_date,omitempty"`
}

type CostResponse struct {
	Cost        Cost   `json:"cost"`
	Occurrences []Cost `json:"occurrences"`
}

type CostFilter struct {
	From       time.Time
	To         time.Time
	CategoryID int64
	Recurring  *bool
}

type CostCategorySummary struct {
	CategoryID   int64           `json:"category_id"`
	CategoryName string          `json:"category_name"`
	CategoryType string          `json:"category_type"`
	Count        int64           `json:"count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	AvgAmount    decimal.Decimal `json:"avg_amount"`
	FirstDate    *time.Time      `json:"first_date,omitempty"`
	LastDate     *time.Time      `json:"last_date,omitempty"`
}

type CostTypeTotal struct {
	Type        string          `json:"type"`
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// PeriodProfit is the computed, not yet persisted, profit for a date range.
type PeriodProfit struct {
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	SalesCount   int64           `json:"sales_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalCOGS    decimal.Decimal `json:"total_cogs"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	TotalCosts   decimal.Decimal `json:"total_costs"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	CostsByType  []CostTypeTotal `json:"costs_by_type"`
}

type ProfitCalculation struct {
	ID            int64                `json:"id"`
	PeriodStart   time.Time            `json:"period_start"`
	PeriodEnd     time.Time            `json:"period_end"`
	TotalRevenue  decimal.Decimal      `json:"total_revenue"`
	TotalCOGS     decimal.Decimal      `json:"total_cogs"`
	TotalCosts    decimal.Decimal      `json:"total_costs"`
	GrossProfit   decimal.Decimal      `json:"gross_profit"`
	NetProfit     decimal.Decimal      `json:"net_profit"`
	Status        string               `json:"status"`
	CalculatedBy  string               `json:"calculated_by"`
	Notes         string               `json:"notes,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	FinalizedAt   *time.Time           `json:"finalized_at,omitempty"`
	DistributedAt *time.Time           `json:"distributed_at,omitempty"`
	Distributions []ProfitDistribution `json:"distributions,omitempty"`
}

type ProfitCalculationRequest struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Notes       string `json:"notes"`
}

type ProfitDistribution struct {
	ID               int64           `json:"id"`
	CalculationID    int64           `json:"calculation_id"`
	InvestorID       int64           `json:"investor_id"`
	Amount           decimal.Decimal `json:"amount"`
	Percentage       decimal.Decimal `json:"percentage"`
	Status           string          `json:"status"`
	PaymentDate      *time.Time      `json:"payment_date,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// DistributionPlan is the in-memory split of a net profit before persistence.
type DistributionPlan struct {
	PeriodEnd         time.Time            `json:"period_end"`
	NetProfit         decimal.Decimal      `json:"net_profit"`
	TotalPercentage   decimal.Decimal      `json:"total_percentage"`
	Shares            []ProfitDistribution `json:"shares"`
	RoundingRemainder decimal.Decimal      `json:"rounding_remainder"`
}

type DistributionPayment struct {
	DistributionID   int64           `json:"distribution_id"`
	InvestorID       int64           `json:"investor_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentDate      string          `json:"payment_date"`
	PaymentReference string          `json:"payment_reference"`
	Notes            string          `json:"notes"`
}

type ProcessDistributionsRequest struct {
	Payments []DistributionPayment `json:"payments"`
}

type Investor struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Email               string          `json:"email,omitempty"`
	InitialCapital      decimal.Decimal `json:"initial_capital"`
	CurrentCapital      decimal.Decimal `json:"current_capital"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	JoinDate            time.Time       `json:"join_date"`
	Status              string          `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type InvestorCreateRequest struct {
	Name                string          `json:"name"`
	Email               string          `json:"email"`
	InitialCapital      decimal.Decimal `json:"initial_capital"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	JoinDate            string          `json:"join_date"`
}

type InvestorUpdateRequest struct {
	Name                *string          `json:"name,omitempty"`
	Email               *string          `json:"email,omitempty"`
	OwnershipPercentage *decimal.Decimal `json:"ownership_percentage,omitempty"`
	Status              *string          `json:"status,omitempty"`
}

// TransactionType is the kind of a capital ledger entry.
type TransactionType string

const (
	TransactionInvestment  TransactionType = "investment"
	TransactionWithdrawal  TransactionType = "withdrawal"
	TransactionLoss        TransactionType = "loss"
	TransactionProfitShare TransactionType = "profit_share"
)

// Sign is +1 for entries that increase capital and -1 for those that reduce it.
func (t TransactionType) Sign() int {
	switch t {
	case TransactionInvestment, TransactionProfitShare:
		return 1
	case TransactionWithdrawal, TransactionLoss:
		return -1
	default:
		return 0
	}
}

func (t TransactionType) Valid() bool {
	return t.Sign() != 0
}

type CapitalTransaction struct {
	ID              int64           `json:"id"`
	InvestorID      int64           `json:"investor_id"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	TransactionDate time.Time       `json:"transaction_date"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type CapitalTransactionRequest struct {
	InvestorID      int64           `json:"investor_id"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionDate string          `json:"transaction_date"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes"`
}

type CapitalTransactionResponse struct {
	Transaction CapitalTransaction `json:"transaction"`
	Investor    Investor           `json:"investor"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

var Hundred = decimal.NewFromInt(100)

const DateLayout = "2006-01-02"

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

const (
	RoleAdmin = "admin"
	RoleSales = "sales"
)

const (
	SaleStatusPending   = "pending"
	SaleStatusPaid      = "paid"
	SaleStatusCancelled = "cancelled"
)

const (
	CommissionStatusPending = "pending"
	CommissionStatusPaid    = "paid"
)

const (
	RecurringDaily   = "daily"
	RecurringWeekly  = "weekly"
	RecurringMonthly = "monthly"
	RecurringYearly  = "yearly"
)

const (
	ProfitStatusDraft       = "draft"
	ProfitStatusFinalized   = "finalized"
	ProfitStatusDistributed = "distributed"
)

const (
	DistributionStatusPending = "pending"
	DistributionStatusPaid    = "paid"
)

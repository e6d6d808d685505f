package memory

import (
	"cmp"
	"context"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
)

// Store keeps every table in maps. Writers are serialized and work on a
// cloned state that replaces the live one only when the unit of work succeeds.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	seq                 map[string]int64
	users               map[int64]domain.User
	products            map[int64]domain.Product
	sales               map[int64]domain.Sale
	rates               map[int64]domain.CommissionRate
	commissions         map[int64]domain.CommissionCalculation
	costCategories      map[int64]domain.CostCategory
	costs               map[int64]domain.Cost
	investors           map[int64]domain.Investor
	capitalTransactions map[int64]domain.CapitalTransaction
	profitCalculations  map[int64]domain.ProfitCalculation
	distributions       map[int64]domain.ProfitDistribution
}

func newState() *state {
	return &state{
		seq:                 make(map[string]int64),
		users:               make(map[int64]domain.User),
		products:            make(map[int64]domain.Product),
		sales:               make(map[int64]domain.Sale),
		rates:               make(map[int64]domain.CommissionRate),
		commissions:         make(map[int64]domain.CommissionCalculation),
		costCategories:      make(map[int64]domain.CostCategory),
		costs:               make(map[int64]domain.Cost),
		investors:           make(map[int64]domain.Investor),
		capitalTransactions: make(map[int64]domain.CapitalTransaction),
		profitCalculations:  make(map[int64]domain.ProfitCalculation),
		distributions:       make(map[int64]domain.ProfitDistribution),
	}
}

// clone copies every map. Stored values are never mutated in place, so a
// shallow copy of each entry is enough.
func (st *state) clone() *state {
	return &state{
		seq:                 maps.Clone(st.seq),
		users:               maps.Clone(st.users),
		products:            maps.Clone(st.products),
		sales:               maps.Clone(st.sales),
		rates:               maps.Clone(st.rates),
		commissions:         maps.Clone(st.commissions),
		costCategories:      maps.Clone(st.costCategories),
		costs:               maps.Clone(st.costs),
		investors:           maps.Clone(st.investors),
		capitalTransactions: maps.Clone(st.capitalTransactions),
		profitCalculations:  maps.Clone(st.profitCalculations),
		distributions:       maps.Clone(st.distributions),
	}
}

func (st *state) nextID(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) Tx(ctx context.Context, fn func(store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&view{st: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Store) View(ctx context.Context, fn func(store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&view{st: s.state, readOnly: true})
}

// PutUser inserts or replaces a user, assigning an id when none is set.
func (s *Store) PutUser(user domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.ID == 0 {
		user.ID = s.state.nextID("users")
	} else if user.ID > s.state.seq["users"] {
		s.state.seq["users"] = user.ID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.state.users[user.ID] = user
	return user
}

// PutProduct inserts or replaces a product, assigning an id when none is set.
func (s *Store) PutProduct(product domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == 0 {
		product.ID = s.state.nextID("products")
	} else if product.ID > s.state.seq["products"] {
		s.state.seq["products"] = product.ID
	}
	s.state.products[product.ID] = product
	return product
}

// NewSeeded returns a store with dev accounts and a small catalog. Passwords
// come from SEED_ADMIN_PASSWORD and SEED_SALES_PASSWORD with dev defaults.
func NewSeeded() *Store {
	s := New()

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	salesPwd := envOr("SEED_SALES_PASSWORD", "sales123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SALES_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_SALES_PASSWORD to override")
	}

	for _, u := range []struct {
		username string
		password string
		role     string
		eligible bool
		rate     decimal.Decimal
	}{
		{"admin", adminPwd, domain.RoleAdmin, false, decimal.Zero},
		{"sales", salesPwd, domain.RoleSales, true, decimal.NewFromInt(2)},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		s.PutUser(domain.User{
			Username:              u.username,
			PasswordHash:          string(hash),
			Role:                  u.role,
			CommissionEligible:    u.eligible,
			DefaultCommissionRate: u.rate,
			Active:                true,
		})
	}

	for _, p := range []domain.Product{
		{Name: "Office Chair", CategoryID: 1, Active: true},
		{Name: "Standing Desk", CategoryID: 1, Active: true},
		{Name: "Laptop Stand", CategoryID: 2, Active: true},
		{Name: "USB-C Dock", CategoryID: 2, Active: true},
		{Name: "Installation Service", CategoryID: 3, Active: true},
	} {
		s.PutProduct(p)
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// view implements store.Queries over one state snapshot. The caller holds the
// store lock for the lifetime of the view.
type view struct {
	st       *state
	readOnly bool
}

func (v *view) writable() error {
	if v.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (v *view) GetUser(_ context.Context, id int64) (*domain.User, error) {
	user, ok := v.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (v *view) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	for _, user := range v.st.users {
		if user.Username == username {
			return &user, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v *view) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := v.st.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (v *view) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	if _, ok := v.st.users[sale.UserID]; !ok {
		return nil, store.ErrNotFound
	}
	sale.ID = v.st.nextID("sales")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		item.ID = v.st.nextID("sale_items")
		item.SaleID = sale.ID
		items[i] = item
	}
	sale.Items = items
	v.st.sales[sale.ID] = sale
	return cloneSale(sale), nil
}

func (v *view) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	sale, ok := v.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (v *view) SummarizeSales(_ context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{}
	for _, sale := range v.st.sales {
		if sale.Status != domain.SaleStatusPaid || !withinDates(sale.SaleDate, from, to) {
			continue
		}
		summary.SalesCount++
		for _, item := range sale.Items {
			qty := decimal.NewFromInt(int64(item.Quantity))
			summary.TotalRevenue = summary.TotalRevenue.Add(item.UnitPrice.Mul(qty))
			summary.TotalCOGS = summary.TotalCOGS.Add(item.UnitCost.Mul(qty))
		}
	}
	summary.GrossProfit = summary.TotalRevenue.Sub(summary.TotalCOGS)
	return summary, nil
}

func (v *view) CreateCommissionRate(_ context.Context, rate domain.CommissionRate) (*domain.CommissionRate, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rate.ID = v.st.nextID("commission_rates")
	rate.CreatedAt = now
	rate.UpdatedAt = now
	v.st.rates[rate.ID] = rate
	return &rate, nil
}

func (v *view) UpdateCommissionRate(_ context.Context, rate domain.CommissionRate) (*domain.CommissionRate, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	existing, ok := v.st.rates[rate.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	rate.CreatedAt = existing.CreatedAt
	rate.UpdatedAt = time.Now().UTC()
	v.st.rates[rate.ID] = rate
	return &rate, nil
}

func (v *view) GetCommissionRate(_ context.Context, id int64) (*domain.CommissionRate, error) {
	rate, ok := v.st.rates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rate, nil
}

func (v *view) ListCommissionRates(_ context.Context, filter domain.CommissionRateFilter) ([]domain.CommissionRate, error) {
	rates := make([]domain.CommissionRate, 0, len(v.st.rates))
	for _, rate := range v.st.rates {
		if filter.Scope != "" && rate.Scope != filter.Scope {
			continue
		}
		if filter.Status != "" && rate.Status != filter.Status {
			continue
		}
		rates = append(rates, rate)
	}
	slices.SortFunc(rates, func(a, b domain.CommissionRate) int { return cmp.Compare(a.ID, b.ID) })
	return rates, nil
}

func (v *view) ListActiveRates(_ context.Context, scope domain.RateScope, refIDs []int64) ([]domain.CommissionRate, error) {
	rates := make([]domain.CommissionRate, 0)
	for _, rate := range v.st.rates {
		if rate.Status != domain.StatusActive || rate.Scope != scope {
			continue
		}
		if scope != domain.RateScopeGlobal && (rate.ReferenceID == nil || !slices.Contains(refIDs, *rate.ReferenceID)) {
			continue
		}
		rates = append(rates, rate)
	}
	slices.SortFunc(rates, func(a, b domain.CommissionRate) int { return cmp.Compare(a.ID, b.ID) })
	return rates, nil
}

func (v *view) CreateCommissionCalculations(_ context.Context, calcs []domain.CommissionCalculation) ([]domain.CommissionCalculation, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	created := make([]domain.CommissionCalculation, 0, len(calcs))
	for _, calc := range calcs {
		if _, ok := v.st.sales[calc.SaleID]; !ok {
			return nil, store.ErrNotFound
		}
		calc.ID = v.st.nextID("commission_calculations")
		calc.CreatedAt = now
		v.st.commissions[calc.ID] = calc
		created = append(created, calc)
	}
	return created, nil
}

func (v *view) MarkCommissionsPaid(_ context.Context, ids []int64, paymentDate time.Time, notes string) (int64, error) {
	if err := v.writable(); err != nil {
		return 0, err
	}
	affected := int64(0)
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		calc, ok := v.st.commissions[id]
		if !ok {
			continue
		}
		date := paymentDate
		calc.Status = domain.CommissionStatusPaid
		calc.PaymentDate = &date
		calc.Notes = notes
		v.st.commissions[id] = calc
		affected++
	}
	return affected, nil
}

func (v *view) ListCommissionCalculations(_ context.Context, filter domain.CommissionFilter) ([]domain.CommissionCalculation, error) {
	result := make([]domain.CommissionCalculation, 0)
	for _, calc := range v.st.commissions {
		if filter.UserID > 0 && calc.UserID != filter.UserID {
			continue
		}
		if filter.SaleID > 0 && calc.SaleID != filter.SaleID {
			continue
		}
		if filter.Status != "" && calc.Status != filter.Status {
			continue
		}
		if filter.From != nil || filter.To != nil {
			saleDate := v.st.sales[calc.SaleID].SaleDate
			if filter.From != nil && saleDate.Before(*filter.From) {
				continue
			}
			if filter.To != nil && saleDate.After(*filter.To) {
				continue
			}
		}
		result = append(result, calc)
	}
	slices.SortFunc(result, func(a, b domain.CommissionCalculation) int { return cmp.Compare(b.ID, a.ID) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (v *view) SummarizeCommissions(_ context.Context, userID int64, from time.Time, to time.Time) (domain.CommissionSummary, error) {
	summary := domain.CommissionSummary{UserID: userID}
	for _, calc := range v.st.commissions {
		if userID > 0 && calc.UserID != userID {
			continue
		}
		if !withinDates(v.st.sales[calc.SaleID].SaleDate, from, to) {
			continue
		}
		summary.TotalSales = summary.TotalSales.Add(calc.SaleAmount)
		switch calc.Status {
		case domain.CommissionStatusPaid:
			summary.PaidCount++
			summary.PaidAmount = summary.PaidAmount.Add(calc.CommissionAmount)
		default:
			summary.PendingCount++
			summary.PendingAmount = summary.PendingAmount.Add(calc.CommissionAmount)
		}
	}
	return summary, nil
}

func (v *view) CreateCostCategory(_ context.Context, category domain.CostCategory) (*domain.CostCategory, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	for _, existing := range v.st.costCategories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, store.ErrConflict
		}
	}
	category.ID = v.st.nextID("cost_categories")
	category.CreatedAt = time.Now().UTC()
	v.st.costCategories[category.ID] = category
	return &category, nil
}

func (v *view) GetCostCategory(_ context.Context, id int64) (*domain.CostCategory, error) {
	category, ok := v.st.costCategories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (v *view) ListCostCategories(_ context.Context) ([]domain.CostCategory, error) {
	categories := slices.Collect(maps.Values(v.st.costCategories))
	slices.SortFunc(categories, func(a, b domain.CostCategory) int { return cmp.Compare(a.Name, b.Name) })
	return categories, nil
}

func (v *view) CreateCost(_ context.Context, cost domain.Cost) (*domain.Cost, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	if _, ok := v.st.costCategories[cost.CategoryID]; !ok {
		return nil, store.ErrNotFound
	}
	cost.ID = v.st.nextID("costs")
	cost.CreatedAt = time.Now().UTC()
	v.st.costs[cost.ID] = cost
	return &cost, nil
}

func (v *view) ListCosts(_ context.Context, filter domain.CostFilter) ([]domain.Cost, error) {
	result := make([]domain.Cost, 0)
	for _, cost := range v.st.costs {
		if !withinDates(cost.CostDate, filter.From, filter.To) {
			continue
		}
		if filter.CategoryID > 0 && cost.CategoryID != filter.CategoryID {
			continue
		}
		if filter.Recurring != nil && cost.Recurring != *filter.Recurring {
			continue
		}
		result = append(result, cost)
	}
	slices.SortFunc(result, func(a, b domain.Cost) int {
		if c := a.CostDate.Compare(b.CostDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (v *view) SummarizeCostsByCategory(_ context.Context, from time.Time, to time.Time) ([]domain.CostCategorySummary, error) {
	byCategory := make(map[int64]*domain.CostCategorySummary)
	for _, cost := range v.st.costs {
		if !withinDates(cost.CostDate, from, to) {
			continue
		}
		summary, ok := byCategory[cost.CategoryID]
		if !ok {
			category := v.st.costCategories[cost.CategoryID]
			summary = &domain.CostCategorySummary{
				CategoryID:   category.ID,
				CategoryName: category.Name,
				CategoryType: category.Type,
			}
			byCategory[cost.CategoryID] = summary
		}
		summary.Count++
		summary.TotalAmount = summary.TotalAmount.Add(cost.Amount)
		date := cost.CostDate
		if summary.FirstDate == nil || date.Before(*summary.FirstDate) {
			summary.FirstDate = &date
		}
		if summary.LastDate == nil || date.After(*summary.LastDate) {
			summary.LastDate = &date
		}
	}

	result := make([]domain.CostCategorySummary, 0, len(byCategory))
	for _, summary := range byCategory {
		summary.AvgAmount = summary.TotalAmount.Div(decimal.NewFromInt(summary.Count)).Round(2)
		result = append(result, *summary)
	}
	slices.SortFunc(result, func(a, b domain.CostCategorySummary) int {
		if c := b.TotalAmount.Cmp(a.TotalAmount); c != 0 {
			return c
		}
		return cmp.Compare(a.CategoryID, b.CategoryID)
	})
	return result, nil
}

func (v *view) SumCostsByType(_ context.Context, from time.Time, to time.Time) ([]domain.CostTypeTotal, error) {
	byType := make(map[string]*domain.CostTypeTotal)
	for _, cost := range v.st.costs {
		if !withinDates(cost.CostDate, from, to) {
			continue
		}
		costType := v.st.costCategories[cost.CategoryID].Type
		total, ok := byType[costType]
		if !ok {
			total = &domain.CostTypeTotal{Type: costType}
			byType[costType] = total
		}
		total.Count++
		total.TotalAmount = total.TotalAmount.Add(cost.Amount)
	}

	result := make([]domain.CostTypeTotal, 0, len(byType))
	for _, total := range byType {
		result = append(result, *total)
	}
	slices.SortFunc(result, func(a, b domain.CostTypeTotal) int { return cmp.Compare(a.Type, b.Type) })
	return result, nil
}

func (v *view) CreateInvestor(_ context.Context, investor domain.Investor) (*domain.Investor, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	investor.ID = v.st.nextID("investors")
	investor.CreatedAt = now
	investor.UpdatedAt = now
	v.st.investors[investor.ID] = investor
	return &investor, nil
}

func (v *view) UpdateInvestor(_ context.Context, investor domain.Investor) (*domain.Investor, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	existing, ok := v.st.investors[investor.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Name = investor.Name
	existing.Email = investor.Email
	existing.OwnershipPercentage = investor.OwnershipPercentage
	existing.Status = investor.Status
	existing.UpdatedAt = time.Now().UTC()
	v.st.investors[existing.ID] = existing
	return &existing, nil
}

func (v *view) GetInvestor(_ context.Context, id int64) (*domain.Investor, error) {
	investor, ok := v.st.investors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &investor, nil
}

func (v *view) GetInvestorForUpdate(ctx context.Context, id int64) (*domain.Investor, error) {
	return v.GetInvestor(ctx, id)
}

func (v *view) ListInvestors(_ context.Context, status string) ([]domain.Investor, error) {
	result := make([]domain.Investor, 0, len(v.st.investors))
	for _, investor := range v.st.investors {
		if status != "" && investor.Status != status {
			continue
		}
		result = append(result, investor)
	}
	slices.SortFunc(result, func(a, b domain.Investor) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

func (v *view) SumActiveOwnership(_ context.Context, excludeID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, investor := range v.st.investors {
		if investor.Status != domain.StatusActive || investor.ID == excludeID {
			continue
		}
		total = total.Add(investor.OwnershipPercentage)
	}
	return total, nil
}

func (v *view) ListEligibleInvestors(_ context.Context, asOf time.Time) ([]domain.Investor, error) {
	result := make([]domain.Investor, 0)
	for _, investor := range v.st.investors {
		if investor.Status != domain.StatusActive || investor.JoinDate.After(asOf) {
			continue
		}
		result = append(result, investor)
	}
	slices.SortFunc(result, func(a, b domain.Investor) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

func (v *view) SetInvestorCapital(_ context.Context, id int64, capital decimal.Decimal, at time.Time) error {
	if err := v.writable(); err != nil {
		return err
	}
	investor, ok := v.st.investors[id]
	if !ok {
		return store.ErrNotFound
	}
	investor.CurrentCapital = capital
	investor.UpdatedAt = at
	v.st.investors[id] = investor
	return nil
}

func (v *view) CreateCapitalTransaction(_ context.Context, txn domain.CapitalTransaction) (*domain.CapitalTransaction, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	if _, ok := v.st.investors[txn.InvestorID]; !ok {
		return nil, store.ErrNotFound
	}
	txn.ID = v.st.nextID("capital_transactions")
	txn.CreatedAt = time.Now().UTC()
	v.st.capitalTransactions[txn.ID] = txn
	return &txn, nil
}

func (v *view) ListCapitalTransactions(_ context.Context, investorID int64, limit int) ([]domain.CapitalTransaction, error) {
	result := make([]domain.CapitalTransaction, 0)
	for _, txn := range v.st.capitalTransactions {
		if investorID > 0 && txn.InvestorID != investorID {
			continue
		}
		result = append(result, txn)
	}
	slices.SortFunc(result, func(a, b domain.CapitalTransaction) int { return cmp.Compare(b.ID, a.ID) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (v *view) CreateProfitCalculation(_ context.Context, calc domain.ProfitCalculation) (*domain.ProfitCalculation, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	calc.ID = v.st.nextID("profit_calculations")
	calc.CreatedAt = time.Now().UTC()
	calc.Distributions = nil
	v.st.profitCalculations[calc.ID] = calc
	return &calc, nil
}

func (v *view) GetProfitCalculation(_ context.Context, id int64) (*domain.ProfitCalculation, error) {
	calc, ok := v.st.profitCalculations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &calc, nil
}

func (v *view) GetProfitCalculationForUpdate(ctx context.Context, id int64) (*domain.ProfitCalculation, error) {
	return v.GetProfitCalculation(ctx, id)
}

func (v *view) ListProfitCalculations(_ context.Context, status string, limit int) ([]domain.ProfitCalculation, error) {
	result := make([]domain.ProfitCalculation, 0)
	for _, calc := range v.st.profitCalculations {
		if status != "" && calc.Status != status {
			continue
		}
		result = append(result, calc)
	}
	slices.SortFunc(result, func(a, b domain.ProfitCalculation) int { return cmp.Compare(b.ID, a.ID) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (v *view) UpdateProfitCalculationStatus(_ context.Context, id int64, status string, at time.Time) error {
	if err := v.writable(); err != nil {
		return err
	}
	calc, ok := v.st.profitCalculations[id]
	if !ok {
		return store.ErrNotFound
	}
	stamp := at
	calc.Status = status
	switch status {
	case domain.ProfitStatusFinalized:
		calc.FinalizedAt = &stamp
	case domain.ProfitStatusDistributed:
		if calc.FinalizedAt == nil {
			calc.FinalizedAt = &stamp
		}
		calc.DistributedAt = &stamp
	}
	v.st.profitCalculations[id] = calc
	return nil
}

func (v *view) CreateProfitDistribution(_ context.Context, dist domain.ProfitDistribution) (*domain.ProfitDistribution, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	if _, ok := v.st.profitCalculations[dist.CalculationID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := v.st.investors[dist.InvestorID]; !ok {
		return nil, store.ErrNotFound
	}
	dist.ID = v.st.nextID("profit_distributions")
	dist.CreatedAt = time.Now().UTC()
	v.st.distributions[dist.ID] = dist
	return &dist, nil
}

func (v *view) ListProfitDistributions(_ context.Context, calculationID int64) ([]domain.ProfitDistribution, error) {
	result := make([]domain.ProfitDistribution, 0)
	for _, dist := range v.st.distributions {
		if dist.CalculationID == calculationID {
			result = append(result, dist)
		}
	}
	slices.SortFunc(result, func(a, b domain.ProfitDistribution) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

func (v *view) GetProfitDistributionForUpdate(_ context.Context, id int64) (*domain.ProfitDistribution, error) {
	dist, ok := v.st.distributions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &dist, nil
}

func (v *view) MarkDistributionPaid(_ context.Context, id int64, paymentDate time.Time, reference string, notes string) error {
	if err := v.writable(); err != nil {
		return err
	}
	dist, ok := v.st.distributions[id]
	if !ok {
		return store.ErrNotFound
	}
	date := paymentDate
	dist.Status = domain.DistributionStatusPaid
	dist.PaymentDate = &date
	dist.PaymentReference = reference
	dist.Notes = notes
	v.st.distributions[id] = dist
	return nil
}

func withinDates(d time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}

func cloneSale(src domain.Sale) *domain.Sale {
	dst := src
	dst.Items = append([]domain.SaleItem(nil), src.Items...)
	return &dst
}

package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bizcore/backend/internal/cache"
	"bizcore/backend/internal/commission"
	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
	"bizcore/backend/internal/store/memory"
)

const (
	adminID   int64 = 1
	salesID   int64 = 2
	productA  int64 = 1
	productB  int64 = 2
	categoryA int64 = 10
	categoryB int64 = 20
)

func seededStore() *memory.Store {
	repo := memory.New()
	repo.PutUser(domain.User{ID: adminID, Username: "admin", Role: domain.RoleAdmin, Active: true})
	repo.PutUser(domain.User{ID: salesID, Username: "sari", Role: domain.RoleSales, CommissionEligible: true, Active: true})
	repo.PutProduct(domain.Product{ID: productA, Name: "Desk", CategoryID: categoryA, Active: true})
	repo.PutProduct(domain.Product{ID: productB, Name: "Chair", CategoryID: categoryB, Active: true})
	return repo
}

func newServiceWith(repo store.Repository, profitCache cache.ProfitCache) *Service {
	svc := New(repo, commission.NewResolver(), profitCache, time.Minute, zerolog.New(io.Discard))
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC) }
	return svc
}

func newTestService() (*Service, *memory.Store) {
	repo := seededStore()
	return newServiceWith(repo, cache.NoopProfitCache{}), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: adminID, Username: "admin", Role: domain.RoleAdmin})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ref(id int64) *int64 { return &id }

func recordSale(t *testing.T, svc *Service, userID int64, saleDate string, productID int64, qty int, price string, cost string) domain.SaleResponse {
	t.Helper()
	resp, err := svc.RecordSale(adminCtx(), domain.SaleRequest{
		UserID:   userID,
		SaleDate: saleDate,
		Items: []domain.SaleItemRequest{
			{ProductID: productID, Quantity: qty, UnitPrice: dec(price), UnitCost: dec(cost)},
		},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	return resp
}

func createInvestor(t *testing.T, svc *Service, name string, pct string, joinDate string, capital string) domain.Investor {
	t.Helper()
	inv, err := svc.CreateInvestor(adminCtx(), domain.InvestorCreateRequest{
		Name:                name,
		InitialCapital:      dec(capital),
		OwnershipPercentage: dec(pct),
		JoinDate:            joinDate,
	})
	if err != nil {
		t.Fatalf("create investor %s failed: %v", name, err)
	}
	return inv
}

func TestCommissionSaleToPaymentScenario(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.CreateCommissionRate(ctx, domain.CommissionRateRequest{
		Scope:       domain.RateScopeProduct,
		ReferenceID: ref(productA),
		Rate:        dec("5"),
	}); err != nil {
		t.Fatalf("create rate failed: %v", err)
	}

	resp := recordSale(t, svc, salesID, "2024-04-20", productA, 1, "1000", "600")
	if len(resp.Commissions) != 1 {
		t.Fatalf("expected one commission, got %d", len(resp.Commissions))
	}
	c := resp.Commissions[0]
	if !c.SaleAmount.Equal(dec("1000")) || !c.CommissionAmount.Equal(dec("50")) || c.Status != domain.CommissionStatusPending {
		t.Fatalf("unexpected commission draft: %+v", c)
	}

	drafts, err := svc.CalculateForSale(ctx, resp.Sale)
	if err != nil {
		t.Fatalf("calculate for sale failed: %v", err)
	}
	if len(drafts) != 1 || !drafts[0].CommissionAmount.Equal(dec("50")) || drafts[0].ID != 0 {
		t.Fatalf("expected one unsaved draft of 50, got %+v", drafts)
	}

	paid, err := svc.ProcessCommissionPayment(ctx, domain.CommissionPaymentRequest{
		IDs:         []int64{c.ID},
		PaymentDate: "2024-05-01",
		Notes:       "batch #1",
	})
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	if paid.Paid != 1 {
		t.Fatalf("expected 1 paid, got %d", paid.Paid)
	}

	list, err := svc.ListCommissions(ctx, domain.CommissionFilter{SaleID: resp.Sale.ID})
	if err != nil {
		t.Fatalf("list commissions failed: %v", err)
	}
	if len(list) != 1 || list[0].Status != domain.CommissionStatusPaid {
		t.Fatalf("expected paid commission, got %+v", list)
	}
	if list[0].PaymentDate == nil || !list[0].PaymentDate.Equal(date("2024-05-01")) || list[0].Notes != "batch #1" {
		t.Fatalf("unexpected payment stamp: %+v", list[0])
	}
}

func TestProcessCommissionPaymentRollsBackOnUnknownID(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.CreateCommissionRate(ctx, domain.CommissionRateRequest{Scope: domain.RateScopeGlobal, Rate: dec("2")}); err != nil {
		t.Fatalf("create rate failed: %v", err)
	}
	resp := recordSale(t, svc, salesID, "2024-04-20", productB, 2, "250", "100")
	id := resp.Commissions[0].ID

	_, err := svc.ProcessCommissionPayment(ctx, domain.CommissionPaymentRequest{IDs: []int64{id, 9999}, PaymentDate: "2024-05-01"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := svc.ListCommissions(ctx, domain.CommissionFilter{SaleID: resp.Sale.ID})
	if err != nil {
		t.Fatalf("list commissions failed: %v", err)
	}
	if list[0].Status != domain.CommissionStatusPending || list[0].PaymentDate != nil {
		t.Fatalf("batch should have rolled back, got %+v", list[0])
	}
}

func TestProcessCommissionPaymentRestampsPaidRows(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.CreateCommissionRate(ctx, domain.CommissionRateRequest{Scope: domain.RateScopeGlobal, Rate: dec("3")}); err != nil {
		t.Fatalf("create rate failed: %v", err)
	}
	resp := recordSale(t, svc, salesID, "2024-04-20", productA, 1, "100", "50")
	id := resp.Commissions[0].ID

	for _, d := range []string{"2024-05-01", "2024-05-15"} {
		if _, err := svc.ProcessCommissionPayment(ctx, domain.CommissionPaymentRequest{IDs: []int64{id}, PaymentDate: d}); err != nil {
			t.Fatalf("payment on %s failed: %v", d, err)
		}
	}

	summary, err := svc.CommissionSummary(ctx, salesID, date("2024-04-01"), date("2024-04-30"))
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.PaidCount != 1 || summary.PendingCount != 0 || !summary.PaidAmount.Equal(dec("3")) {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRecordSaleWithoutCommissionStillCommits(t *testing.T) {
	svc, repo := newTestService()

	resp := recordSale(t, svc, adminID, "2024-04-20", productA, 3, "10.50", "4")
	if len(resp.Commissions) != 0 {
		t.Fatalf("expected no commissions for ineligible user, got %d", len(resp.Commissions))
	}
	if !resp.Sale.TotalAmount.Equal(dec("31.5")) {
		t.Fatalf("expected total 31.50, got %s", resp.Sale.TotalAmount)
	}

	err := repo.View(context.Background(), func(q store.Queries) error {
		sale, err := q.GetSale(context.Background(), resp.Sale.ID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusPaid || len(sale.Items) != 1 || sale.Items[0].CategoryID != categoryA {
			t.Fatalf("unexpected stored sale: %+v", sale)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load sale failed: %v", err)
	}

	_, err = svc.CalculateForSale(adminCtx(), resp.Sale)
	if !errors.Is(err, ErrNotCommissionEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}
}

func TestRecordSaleRejectsOtherSalesperson(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{UserID: salesID, Username: "sari", Role: domain.RoleSales})

	_, err := svc.RecordSale(ctx, domain.SaleRequest{
		UserID: adminID,
		Items:  []domain.SaleItemRequest{{ProductID: productA, Quantity: 1, UnitPrice: dec("1")}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCommissionRateScopeCannotChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	rate, err := svc.CreateCommissionRate(ctx, domain.CommissionRateRequest{Scope: domain.RateScopeCategory, ReferenceID: ref(categoryA), Rate: dec("4")})
	if err != nil {
		t.Fatalf("create rate failed: %v", err)
	}
	if _, err := svc.UpdateCommissionRate(ctx, rate.ID, domain.CommissionRateRequest{Scope: domain.RateScopeGlobal, Rate: dec("4")}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input on scope change, got %v", err)
	}

	updated, err := svc.UpdateCommissionRate(ctx, rate.ID, domain.CommissionRateRequest{Rate: dec("4"), Status: domain.StatusInactive})
	if err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if updated.Status != domain.StatusInactive || updated.ReferenceID == nil || *updated.ReferenceID != categoryA {
		t.Fatalf("unexpected updated rate: %+v", updated)
	}

	active, err := svc.ListCommissionRates(ctx, domain.CommissionRateFilter{Status: domain.StatusActive})
	if err != nil {
		t.Fatalf("list rates failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active rates, got %d", len(active))
	}
}

func createCategory(t *testing.T, svc *Service, name string, costType string) domain.CostCategory {
	t.Helper()
	category, err := svc.CreateCostCategory(adminCtx(), domain.CostCategoryRequest{Name: name, Type: costType})
	if err != nil {
		t.Fatalf("create category failed: %v", err)
	}
	return category
}

func TestCreateCostExpandsMonthlySeries(t *testing.T) {
	svc, _ := newTestService()
	category := createCategory(t, svc, "Office rent", "rent")

	resp, err := svc.CreateCost(adminCtx(), domain.CostRequest{
		CategoryID:       category.ID,
		Amount:           dec("1500"),
		Description:      "Monthly rent",
		CostDate:         "2024-01-15",
		Recurring:        true,
		RecurringType:    domain.RecurringMonthly,
		RecurringEndDate: "2024-04-15",
	})
	if err != nil {
		t.Fatalf("create cost failed: %v", err)
	}
	if len(resp.Occurrences) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(resp.Occurrences))
	}

	costs, err := svc.ListCosts(adminCtx(), domain.CostFilter{From: date("2024-01-01"), To: date("2024-12-31")})
	if err != nil {
		t.Fatalf("list costs failed: %v", err)
	}
	want := []string{"2024-01-15", "2024-02-15", "2024-03-15", "2024-04-15"}
	if len(costs) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(costs))
	}
	for i, c := range costs {
		if got := c.CostDate.Format(domain.DateLayout); got != want[i] {
			t.Fatalf("row %d: expected %s, got %s", i, want[i], got)
		}
		if i > 0 && (c.ParentCostID == nil || *c.ParentCostID != resp.Cost.ID) {
			t.Fatalf("row %d should point at the base cost", i)
		}
	}
}

func TestOccurrencesClampToMonthEnd(t *testing.T) {
	got := occurrences(date("2024-01-31"), domain.RecurringMonthly, date("2024-04-30"))
	want := []string{"2024-02-29", "2024-03-31", "2024-04-30"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i].Format(domain.DateLayout) != want[i] {
			t.Fatalf("occurrence %d: expected %s, got %s", i, want[i], got[i].Format(domain.DateLayout))
		}
	}

	if n := len(occurrences(date("2024-03-10"), domain.RecurringWeekly, date("2024-03-01"))); n != 0 {
		t.Fatalf("end before start should yield nothing, got %d", n)
	}
	if n := len(occurrences(date("2020-02-29"), domain.RecurringYearly, date("2024-03-01"))); n != 4 {
		t.Fatalf("expected 4 yearly occurrences, got %d", n)
	}
}

type failingQueries struct {
	store.Queries
	calls  *int
	failAt int
}

func (f failingQueries) CreateCost(ctx context.Context, cost domain.Cost) (*domain.Cost, error) {
	*f.calls++
	if *f.calls == f.failAt {
		return nil, errors.New("disk full")
	}
	return f.Queries.CreateCost(ctx, cost)
}

type failingRepo struct {
	*memory.Store
	failAt int
}

func (r failingRepo) Tx(ctx context.Context, fn func(store.Queries) error) error {
	calls := 0
	return r.Store.Tx(ctx, func(q store.Queries) error {
		return fn(failingQueries{Queries: q, calls: &calls, failAt: r.failAt})
	})
}

func TestCreateCostSeriesRollsBackOnFailure(t *testing.T) {
	repo := seededStore()
	svc := newServiceWith(failingRepo{Store: repo, failAt: 3}, nil)
	category := createCategory(t, svc, "Utilities", "utilities")

	_, err := svc.CreateCost(adminCtx(), domain.CostRequest{
		CategoryID:       category.ID,
		Amount:           dec("80"),
		Description:      "Power",
		CostDate:         "2024-01-15",
		Recurring:        true,
		RecurringType:    domain.RecurringMonthly,
		RecurringEndDate: "2024-04-15",
	})
	if err == nil {
		t.Fatalf("expected failure on third insert")
	}

	costs, err := svc.ListCosts(adminCtx(), domain.CostFilter{From: date("2024-01-01"), To: date("2024-12-31")})
	if err != nil {
		t.Fatalf("list costs failed: %v", err)
	}
	if len(costs) != 0 {
		t.Fatalf("expected no rows after rollback, got %d", len(costs))
	}
}

func TestCostCategorySummary(t *testing.T) {
	svc, _ := newTestService()
	rent := createCategory(t, svc, "Rent", "rent")
	ads := createCategory(t, svc, "Ads", "marketing")

	for _, req := range []domain.CostRequest{
		{CategoryID: rent.ID, Amount: dec("1000"), Description: "rent", CostDate: "2024-03-01"},
		{CategoryID: ads.ID, Amount: dec("100"), Description: "ads", CostDate: "2024-03-05"},
		{CategoryID: ads.ID, Amount: dec("50"), Description: "ads", CostDate: "2024-03-20"},
		{CategoryID: ads.ID, Amount: dec("999"), Description: "ads", CostDate: "2024-04-02"},
	} {
		if _, err := svc.CreateCost(adminCtx(), req); err != nil {
			t.Fatalf("create cost failed: %v", err)
		}
	}

	summary, err := svc.CostCategorySummary(adminCtx(), date("2024-03-01"), date("2024-03-31"))
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(summary))
	}
	adsRow := summary[1]
	if adsRow.CategoryID != ads.ID || adsRow.Count != 2 || !adsRow.TotalAmount.Equal(dec("150")) || !adsRow.AvgAmount.Equal(dec("75")) {
		t.Fatalf("unexpected ads summary: %+v", adsRow)
	}
	if adsRow.FirstDate.Format(domain.DateLayout) != "2024-03-05" || adsRow.LastDate.Format(domain.DateLayout) != "2024-03-20" {
		t.Fatalf("unexpected date bounds: %v %v", adsRow.FirstDate, adsRow.LastDate)
	}

	recurring := false
	filtered, err := svc.ListCosts(adminCtx(), domain.CostFilter{From: date("2024-03-01"), To: date("2024-04-30"), CategoryID: ads.ID, Recurring: &recurring})
	if err != nil {
		t.Fatalf("list costs failed: %v", err)
	}
	if len(filtered) != 3 {
		t.Fatalf("expected 3 ad costs, got %d", len(filtered))
	}
}

func TestCalculatePeriod(t *testing.T) {
	svc, _ := newTestService()
	rent := createCategory(t, svc, "Rent", "rent")

	recordSale(t, svc, adminID, "2024-03-10", productA, 2, "500", "300")
	recordSale(t, svc, adminID, "2024-03-12", productB, 1, "200", "50")
	recordSale(t, svc, adminID, "2024-05-01", productB, 1, "9999", "0")
	if _, err := svc.CreateCost(adminCtx(), domain.CostRequest{CategoryID: rent.ID, Amount: dec("150"), Description: "rent", CostDate: "2024-03-01"}); err != nil {
		t.Fatalf("create cost failed: %v", err)
	}

	profit, err := svc.CalculatePeriod(adminCtx(), date("2024-03-01"), date("2024-03-31"))
	if err != nil {
		t.Fatalf("calculate period failed: %v", err)
	}
	if profit.SalesCount != 2 || !profit.TotalRevenue.Equal(dec("1200")) || !profit.TotalCOGS.Equal(dec("650")) {
		t.Fatalf("unexpected sales figures: %+v", profit)
	}
	if !profit.GrossProfit.Equal(dec("550")) || !profit.TotalCosts.Equal(dec("150")) || !profit.NetProfit.Equal(dec("400")) {
		t.Fatalf("unexpected profit figures: %+v", profit)
	}
	if len(profit.CostsByType) != 1 || profit.CostsByType[0].Type != "rent" {
		t.Fatalf("unexpected cost breakdown: %+v", profit.CostsByType)
	}

	empty, err := svc.CalculatePeriod(adminCtx(), date("2023-01-01"), date("2023-01-31"))
	if err != nil {
		t.Fatalf("empty period should not fail: %v", err)
	}
	if !empty.NetProfit.IsZero() || empty.SalesCount != 0 {
		t.Fatalf("expected zero-filled result, got %+v", empty)
	}

	if _, err := svc.CalculatePeriod(adminCtx(), date("2024-03-31"), date("2024-03-01")); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}

type countingCache struct {
	cache.NoopProfitCache
	entries     map[string]domain.PeriodProfit
	hits        int
	invalidated int
}

func (c *countingCache) Get(_ context.Context, key string) (*domain.PeriodProfit, bool, error) {
	p, ok := c.entries[key]
	if ok {
		c.hits++
		return &p, true, nil
	}
	return nil, false, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *domain.PeriodProfit, _ time.Duration) error {
	c.entries[key] = *value
	return nil
}

func (c *countingCache) Invalidate(_ context.Context) error {
	c.invalidated++
	clear(c.entries)
	return nil
}

func TestCalculatePeriodUsesCacheUntilWrite(t *testing.T) {
	pc := &countingCache{entries: map[string]domain.PeriodProfit{}}
	svc := newServiceWith(seededStore(), pc)

	for range 2 {
		if _, err := svc.CalculatePeriod(adminCtx(), date("2024-03-01"), date("2024-03-31")); err != nil {
			t.Fatalf("calculate failed: %v", err)
		}
	}
	if pc.hits != 1 {
		t.Fatalf("expected one cache hit, got %d", pc.hits)
	}

	recordSale(t, svc, adminID, "2024-03-10", productA, 1, "100", "10")
	if pc.invalidated != 1 {
		t.Fatalf("expected invalidation after sale, got %d", pc.invalidated)
	}
	profit, err := svc.CalculatePeriod(adminCtx(), date("2024-03-01"), date("2024-03-31"))
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if !profit.TotalRevenue.Equal(dec("100")) {
		t.Fatalf("expected fresh figures after invalidation, got %s", profit.TotalRevenue)
	}
}

func TestCalculateDistributionSixtyForty(t *testing.T) {
	svc, _ := newTestService()
	a := createInvestor(t, svc, "A", "60", "2024-01-01", "60000")
	b := createInvestor(t, svc, "B", "40", "2024-01-01", "40000")

	plan, err := svc.CalculateDistribution(adminCtx(), date("2024-03-31"), dec("10000"))
	if err != nil {
		t.Fatalf("calculate distribution failed: %v", err)
	}
	if len(plan.Shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(plan.Shares))
	}
	if plan.Shares[0].InvestorID != a.ID || plan.Shares[0].Amount.StringFixed(2) != "6000.00" {
		t.Fatalf("unexpected share for A: %+v", plan.Shares[0])
	}
	if plan.Shares[1].InvestorID != b.ID || plan.Shares[1].Amount.StringFixed(2) != "4000.00" {
		t.Fatalf("unexpected share for B: %+v", plan.Shares[1])
	}
	if !plan.RoundingRemainder.IsZero() || plan.Shares[0].Status != domain.DistributionStatusPending {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestCalculateDistributionIsRelativeAndReportsRemainder(t *testing.T) {
	svc, _ := newTestService()
	createInvestor(t, svc, "A", "20", "2024-01-01", "0")
	createInvestor(t, svc, "B", "20", "2024-01-01", "0")
	createInvestor(t, svc, "C", "20", "2024-01-01", "0")
	createInvestor(t, svc, "Late", "30", "2024-04-01", "0")

	plan, err := svc.CalculateDistribution(adminCtx(), date("2024-03-31"), dec("10"))
	if err != nil {
		t.Fatalf("calculate distribution failed: %v", err)
	}
	if len(plan.Shares) != 3 {
		t.Fatalf("investor joining after period end must be excluded, got %d shares", len(plan.Shares))
	}
	for _, share := range plan.Shares {
		if !share.Amount.Equal(dec("3.33")) {
			t.Fatalf("expected 3.33 each, got %s", share.Amount)
		}
	}
	if !plan.TotalPercentage.Equal(dec("60")) || !plan.RoundingRemainder.Equal(dec("0.01")) {
		t.Fatalf("unexpected totals: pct=%s remainder=%s", plan.TotalPercentage, plan.RoundingRemainder)
	}

	if _, err := svc.CalculateDistribution(adminCtx(), date("2023-12-31"), dec("10")); !errors.Is(err, ErrNoEligibleInvestors) {
		t.Fatalf("expected no eligible investors, got %v", err)
	}
}

func seedProfit(t *testing.T, svc *Service) {
	t.Helper()
	recordSale(t, svc, adminID, "2024-03-10", productA, 1, "12000", "2000")
}

func TestCreateWithDistributionsRollsBackWithoutInvestors(t *testing.T) {
	svc, _ := newTestService()
	seedProfit(t, svc)

	_, err := svc.CreateWithDistributions(adminCtx(), domain.ProfitCalculationRequest{PeriodStart: "2024-03-01", PeriodEnd: "2024-03-31"})
	if !errors.Is(err, ErrNoEligibleInvestors) {
		t.Fatalf("expected no eligible investors, got %v", err)
	}
	calcs, err := svc.ListProfitCalculations(adminCtx(), "", 0)
	if err != nil {
		t.Fatalf("list calculations failed: %v", err)
	}
	if len(calcs) != 0 {
		t.Fatalf("expected no orphaned calculation, got %d", len(calcs))
	}
}

func TestCreateWithDistributionsPersistsLossPeriod(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()
	createInvestor(t, svc, "A", "100", "2024-01-01", "0")
	recordSale(t, svc, adminID, "2024-03-10", productA, 1, "300", "100")
	category := createCategory(t, svc, "Office rent", "rent")
	if _, err := svc.CreateCost(ctx, domain.CostRequest{
		CategoryID:  category.ID,
		Amount:      dec("500"),
		Description: "March rent",
		CostDate:    "2024-03-01",
	}); err != nil {
		t.Fatalf("create cost failed: %v", err)
	}

	calc, err := svc.CreateWithDistributions(ctx, domain.ProfitCalculationRequest{PeriodStart: "2024-03-01", PeriodEnd: "2024-03-31"})
	if err != nil {
		t.Fatalf("loss period must be persisted, got %v", err)
	}
	if !calc.NetProfit.Equal(dec("-300")) || calc.Status != domain.ProfitStatusDraft || len(calc.Distributions) != 0 {
		t.Fatalf("unexpected loss calculation: %+v", calc)
	}

	calcs, err := svc.ListProfitCalculations(ctx, "", 0)
	if err != nil {
		t.Fatalf("list calculations failed: %v", err)
	}
	if len(calcs) != 1 || calcs[0].ID != calc.ID {
		t.Fatalf("expected the loss period in history, got %+v", calcs)
	}

	finalized, err := svc.FinalizeProfitCalculation(ctx, calc.ID)
	if err != nil || finalized.Status != domain.ProfitStatusFinalized {
		t.Fatalf("expected loss period to finalize, got %+v err=%v", finalized, err)
	}
}

func TestProfitDistributionLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()
	a := createInvestor(t, svc, "A", "60", "2024-01-01", "1000")
	b := createInvestor(t, svc, "B", "40", "2024-01-01", "500")
	seedProfit(t, svc)

	calc, err := svc.CreateWithDistributions(ctx, domain.ProfitCalculationRequest{PeriodStart: "2024-03-01", PeriodEnd: "2024-03-31", Notes: "Q1"})
	if err != nil {
		t.Fatalf("create calculation failed: %v", err)
	}
	if calc.Status != domain.ProfitStatusDraft || calc.CalculatedBy != "admin" || !calc.NetProfit.Equal(dec("10000")) {
		t.Fatalf("unexpected calculation: %+v", calc)
	}
	if len(calc.Distributions) != 2 {
		t.Fatalf("expected 2 distributions, got %d", len(calc.Distributions))
	}
	distA, distB := calc.Distributions[0], calc.Distributions[1]

	_, err = svc.ProcessDistributions(ctx, calc.ID, domain.ProcessDistributionsRequest{Payments: []domain.DistributionPayment{
		{DistributionID: distA.ID, Amount: dec("6000")},
		{DistributionID: distB.ID, Amount: dec("4100")},
	}})
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected amount mismatch, got %v", err)
	}
	if inv, _ := svc.GetInvestor(ctx, a.ID); !inv.CurrentCapital.Equal(dec("1000")) {
		t.Fatalf("mismatch must roll back earlier credits, got %s", inv.CurrentCapital)
	}

	_, err = svc.ProcessDistributions(ctx, calc.ID, domain.ProcessDistributionsRequest{Payments: []domain.DistributionPayment{
		{DistributionID: distA.ID, InvestorID: b.ID},
	}})
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected mismatch for wrong investor, got %v", err)
	}

	other, err := svc.CreateWithDistributions(ctx, domain.ProfitCalculationRequest{PeriodStart: "2024-03-01", PeriodEnd: "2024-03-31"})
	if err != nil {
		t.Fatalf("create second calculation failed: %v", err)
	}
	_, err = svc.ProcessDistributions(ctx, calc.ID, domain.ProcessDistributionsRequest{Payments: []domain.DistributionPayment{
		{DistributionID: other.Distributions[0].ID},
	}})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected rejection of a foreign distribution, got %v", err)
	}
	if stored, _ := svc.GetProfitCalculation(ctx, other.ID); stored.Distributions[0].Status != domain.DistributionStatusPending {
		t.Fatalf("foreign distribution must stay pending, got %s", stored.Distributions[0].Status)
	}

	partial, err := svc.ProcessDistributions(ctx, calc.ID, domain.ProcessDistributionsRequest{Payments: []domain.DistributionPayment{
		{DistributionID: distA.ID, Amount: dec("6000"), PaymentDate: "2024-04-05", PaymentReference: "TRF-1"},
	}})
	if err != nil {
		t.Fatalf("partial processing failed: %v", err)
	}
	if partial.Status != domain.ProfitStatusFinalized {
		t.Fatalf("expected finalized after partial payment, got %s", partial.Status)
	}

	_, err = svc.ProcessDistributions(ctx, calc.ID, domain.ProcessDistributionsRequest{Payments: []domain.DistributionPayment{{DistributionID: distA.ID}}})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for paid distribution, got %v", err)
	}

	done, err := svc.ProcessDistributions(ctx, calc.ID, domain.ProcessDistributionsRequest{Payments: []domain.DistributionPayment{
		{DistributionID: distB.ID, PaymentDate: "2024-04-06"},
	}})
	if err != nil {
		t.Fatalf("final processing failed: %v", err)
	}
	if done.Status != domain.ProfitStatusDistributed || done.DistributedAt == nil {
		t.Fatalf("expected distributed, got %+v", done)
	}
	for _, d := range done.Distributions {
		if d.Status != domain.DistributionStatusPaid || d.PaymentReference == "" {
			t.Fatalf("expected paid distribution with reference, got %+v", d)
		}
	}

	invA, _ := svc.GetInvestor(ctx, a.ID)
	invB, _ := svc.GetInvestor(ctx, b.ID)
	if !invA.CurrentCapital.Equal(dec("7000")) || !invB.CurrentCapital.Equal(dec("4500")) {
		t.Fatalf("unexpected balances: A=%s B=%s", invA.CurrentCapital, invB.CurrentCapital)
	}
	txns, err := svc.ListCapitalTransactions(ctx, a.ID, 0)
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(txns) != 1 || txns[0].Type != domain.TransactionProfitShare || txns[0].ReferenceNumber != "TRF-1" || !txns[0].BalanceAfter.Equal(dec("7000")) {
		t.Fatalf("unexpected ledger: %+v", txns)
	}

	if _, err := svc.FinalizeProfitCalculation(ctx, calc.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("distributed calculation must not regress, got %v", err)
	}

	stored, err := svc.GetProfitCalculation(ctx, calc.ID)
	if err != nil {
		t.Fatalf("get calculation failed: %v", err)
	}
	if stored.Status != domain.ProfitStatusDistributed || len(stored.Distributions) != 2 {
		t.Fatalf("unexpected stored calculation: %+v", stored)
	}
	if _, err := svc.GetProfitCalculation(ctx, calc.ID+100); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateInvestorBoundsOwnershipWhenInactive(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()
	inv := createInvestor(t, svc, "A", "30", "2024-01-01", "0")

	inactive := domain.StatusInactive
	for _, raw := range []string{"250", "-5"} {
		pct := dec(raw)
		_, err := svc.UpdateInvestor(ctx, inv.ID, domain.InvestorUpdateRequest{Status: &inactive, OwnershipPercentage: &pct})
		var validation *ValidationError
		if !errors.As(err, &validation) || validation.Field != "ownership_percentage" {
			t.Fatalf("expected ownership validation error for %s, got %v", raw, err)
		}
	}

	stored, err := svc.GetInvestor(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get investor failed: %v", err)
	}
	if !stored.OwnershipPercentage.Equal(dec("30")) || stored.Status != domain.StatusActive {
		t.Fatalf("rejected update must not be stored, got %+v", stored)
	}
}

func TestOwnershipCeiling(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()
	createInvestor(t, svc, "A", "60", "2024-01-01", "0")
	b := createInvestor(t, svc, "B", "40", "2024-01-01", "0")

	_, err := svc.CreateInvestor(ctx, domain.InvestorCreateRequest{Name: "C", OwnershipPercentage: dec("0.01")})
	var ownErr *OwnershipError
	if !errors.As(err, &ownErr) {
		t.Fatalf("expected ownership error, got %v", err)
	}
	if !ownErr.Allocated.Equal(dec("100")) {
		t.Fatalf("expected 100 allocated, got %s", ownErr.Allocated)
	}

	pct := dec("45")
	if _, err := svc.UpdateInvestor(ctx, b.ID, domain.InvestorUpdateRequest{OwnershipPercentage: &pct}); !errors.As(err, &ownErr) {
		t.Fatalf("expected ownership error on update, got %v", err)
	}
	if inv, _ := svc.GetInvestor(ctx, b.ID); !inv.OwnershipPercentage.Equal(dec("40")) {
		t.Fatalf("rejected update must leave investor unchanged, got %s", inv.OwnershipPercentage)
	}

	inactive := domain.StatusInactive
	if _, err := svc.UpdateInvestor(ctx, b.ID, domain.InvestorUpdateRequest{Status: &inactive}); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	createInvestor(t, svc, "C", "40", "2024-01-01", "0")

	active := domain.StatusActive
	if _, err := svc.UpdateInvestor(ctx, b.ID, domain.InvestorUpdateRequest{Status: &active}); !errors.As(err, &ownErr) {
		t.Fatalf("reactivation over the ceiling must fail, got %v", err)
	}
	if err := svc.ValidateOwnership(ctx, dec("0"), 0); err != nil {
		t.Fatalf("zero percentage should fit, got %v", err)
	}
}

func TestCapitalLedgerConsistency(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()
	inv := createInvestor(t, svc, "A", "50", "2024-01-01", "1000")

	steps := []struct {
		txType domain.TransactionType
		amount string
		want   string
	}{
		{domain.TransactionInvestment, "500", "1500"},
		{domain.TransactionWithdrawal, "200", "1300"},
		{domain.TransactionLoss, "100.25", "1199.75"},
		{domain.TransactionProfitShare, "0.25", "1200"},
	}
	for _, step := range steps {
		resp, err := svc.RecordTransaction(ctx, domain.CapitalTransactionRequest{
			InvestorID:      inv.ID,
			Type:            step.txType,
			Amount:          dec(step.amount),
			TransactionDate: "2024-02-01",
		})
		if err != nil {
			t.Fatalf("%s failed: %v", step.txType, err)
		}
		if !resp.Investor.CurrentCapital.Equal(dec(step.want)) || !resp.Transaction.BalanceAfter.Equal(dec(step.want)) {
			t.Fatalf("%s: expected balance %s, got %s", step.txType, step.want, resp.Investor.CurrentCapital)
		}
		if resp.Transaction.ReferenceNumber == "" {
			t.Fatalf("expected generated reference")
		}
	}

	_, err := svc.RecordTransaction(ctx, domain.CapitalTransactionRequest{InvestorID: inv.ID, Type: domain.TransactionWithdrawal, Amount: dec("5000")})
	if !errors.Is(err, ErrInsufficientCapital) {
		t.Fatalf("expected insufficient capital, got %v", err)
	}

	current, err := svc.GetInvestor(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get investor failed: %v", err)
	}
	txns, err := svc.ListCapitalTransactions(ctx, inv.ID, 0)
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(txns) != len(steps) {
		t.Fatalf("expected %d ledger rows, got %d", len(steps), len(txns))
	}
	balance := current.InitialCapital
	for _, txn := range txns {
		balance = balance.Add(txn.Amount.Mul(decimal.NewFromInt(int64(txn.Type.Sign()))))
	}
	if !balance.Equal(current.CurrentCapital) {
		t.Fatalf("ledger sum %s does not match balance %s", balance, current.CurrentCapital)
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	svc, _ := newTestService()
	inv := createInvestor(t, svc, "A", "10", "2024-01-01", "0")

	cases := []domain.CapitalTransactionRequest{
		{InvestorID: inv.ID, Type: "dividend", Amount: dec("1")},
		{InvestorID: inv.ID, Type: domain.TransactionInvestment, Amount: dec("0")},
		{InvestorID: inv.ID, Type: domain.TransactionInvestment, Amount: dec("1"), TransactionDate: "01/02/2024"},
	}
	for i, req := range cases {
		if _, err := svc.RecordTransaction(adminCtx(), req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}

	if _, err := svc.RecordTransaction(adminCtx(), domain.CapitalTransactionRequest{InvestorID: 999, Type: domain.TransactionInvestment, Amount: dec("1")}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.RecordTransaction(context.Background(), domain.CapitalTransactionRequest{InvestorID: inv.ID, Type: domain.TransactionInvestment, Amount: dec("1")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without actor, got %v", err)
	}
}

func TestPreviewSaleCommissionsUsesCurrentRates(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.CreateCommissionRate(ctx, domain.CommissionRateRequest{Scope: domain.RateScopeGlobal, Rate: dec("1")}); err != nil {
		t.Fatalf("create global rate failed: %v", err)
	}
	resp := recordSale(t, svc, salesID, "2024-05-02", productB, 2, "100", "40")
	if len(resp.Commissions) != 1 || !resp.Commissions[0].CommissionAmount.Equal(dec("2")) {
		t.Fatalf("expected stored commission of 2, got %+v", resp.Commissions)
	}

	if _, err := svc.CreateCommissionRate(ctx, domain.CommissionRateRequest{Scope: domain.RateScopeCategory, ReferenceID: ref(categoryB), Rate: dec("4")}); err != nil {
		t.Fatalf("create category rate failed: %v", err)
	}
	drafts, err := svc.PreviewSaleCommissions(ctx, resp.Sale.ID)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(drafts) != 1 || !drafts[0].CommissionAmount.Equal(dec("8")) {
		t.Fatalf("expected preview at the category rate, got %+v", drafts)
	}

	stored, err := svc.ListCommissions(ctx, domain.CommissionFilter{SaleID: resp.Sale.ID})
	if err != nil {
		t.Fatalf("list commissions failed: %v", err)
	}
	if len(stored) != 1 || !stored[0].CommissionAmount.Equal(dec("2")) {
		t.Fatalf("expected stored commission untouched, got %+v", stored)
	}

	salesCtx := WithActor(context.Background(), domain.Actor{UserID: salesID, Username: "sari", Role: domain.RoleSales})
	if _, err := svc.PreviewSaleCommissions(salesCtx, resp.Sale.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for sales actor, got %v", err)
	}
}

package commission

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/shopspring/decimal"

	"bizcore/backend/internal/domain"
)

type fakeRates struct {
	rates []domain.CommissionRate
	calls map[domain.RateScope]int
	err   error
}

func (f *fakeRates) ListActiveRates(_ context.Context, scope domain.RateScope, refIDs []int64) ([]domain.CommissionRate, error) {
	if f.calls == nil {
		f.calls = map[domain.RateScope]int{}
	}
	f.calls[scope]++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.CommissionRate
	for _, r := range f.rates {
		if r.Scope != scope || r.Status != domain.StatusActive {
			continue
		}
		if scope != domain.RateScopeGlobal && !slices.Contains(refIDs, *r.ReferenceID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func ref(id int64) *int64 { return &id }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rate(id int64, scope domain.RateScope, refID *int64, pct string, minAmount string) domain.CommissionRate {
	return domain.CommissionRate{
		ID:            id,
		Scope:         scope,
		ReferenceID:   refID,
		Rate:          dec(pct),
		MinSaleAmount: dec(minAmount),
		Status:        domain.StatusActive,
	}
}

func item(productID, categoryID int64, amount string) domain.SaleItem {
	return domain.SaleItem{ID: productID * 10, ProductID: productID, CategoryID: categoryID, TotalAmount: dec(amount)}
}

func TestResolveProductRateBeatsCategoryAndGlobal(t *testing.T) {
	src := &fakeRates{rates: []domain.CommissionRate{
		rate(1, domain.RateScopeGlobal, nil, "10", "0"),
		rate(2, domain.RateScopeCategory, ref(7), "8", "0"),
		rate(3, domain.RateScopeProduct, ref(42), "3", "0"),
	}}

	matches, err := NewResolver().Resolve(context.Background(), src, domain.User{}, []domain.SaleItem{item(42, 7, "1000")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if rateID(matches[0].RateID) != 3 || !matches[0].Amount.Equal(dec("30")) {
		t.Fatalf("expected product rate 3 yielding 30, got id=%d amount=%s", rateID(matches[0].RateID), matches[0].Amount)
	}
	if src.calls[domain.RateScopeCategory] != 0 || src.calls[domain.RateScopeGlobal] != 0 {
		t.Fatalf("lower tiers should not be read when every item has a product rate: %v", src.calls)
	}
}

func TestResolveFallsBackPerItem(t *testing.T) {
	src := &fakeRates{rates: []domain.CommissionRate{
		rate(1, domain.RateScopeGlobal, nil, "5", "0"),
		rate(2, domain.RateScopeCategory, ref(7), "4", "0"),
		rate(3, domain.RateScopeProduct, ref(42), "3", "0"),
	}}
	items := []domain.SaleItem{item(42, 7, "100"), item(43, 7, "100"), item(44, 9, "100")}

	matches, err := NewResolver().Resolve(context.Background(), src, domain.User{}, items)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []int64{3, 2, 1}
	if len(matches) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), len(matches))
	}
	for i, m := range matches {
		if rateID(m.RateID) != want[i] {
			t.Fatalf("item %d: expected rate %d, got %d", i, want[i], rateID(m.RateID))
		}
	}
	if src.calls[domain.RateScopeCategory] != 1 || src.calls[domain.RateScopeGlobal] != 1 {
		t.Fatalf("expected one batched read per tier, got %v", src.calls)
	}
}

func TestResolveUnmetMinimumDoesNotFallThrough(t *testing.T) {
	src := &fakeRates{rates: []domain.CommissionRate{
		rate(1, domain.RateScopeGlobal, nil, "5", "0"),
		rate(2, domain.RateScopeProduct, ref(42), "3", "500"),
	}}

	matches, err := NewResolver().Resolve(context.Background(), src, domain.User{DefaultCommissionRate: dec("2")}, []domain.SaleItem{item(42, 7, "100")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no match when the product tier minimum is unmet, got %+v", matches)
	}
}

func TestResolvePicksHighestYieldAndBreaksTiesOnLowerID(t *testing.T) {
	src := &fakeRates{rates: []domain.CommissionRate{
		rate(5, domain.RateScopeGlobal, nil, "4", "0"),
		rate(2, domain.RateScopeGlobal, nil, "6", "0"),
		rate(9, domain.RateScopeGlobal, nil, "6", "0"),
		rate(3, domain.RateScopeGlobal, nil, "10", "5000"),
	}}

	matches, err := NewResolver().Resolve(context.Background(), src, domain.User{}, []domain.SaleItem{item(1, 1, "1000")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 1 || rateID(matches[0].RateID) != 2 {
		t.Fatalf("expected global rate 2, got %+v", matches)
	}
	if !matches[0].Amount.Equal(dec("60")) {
		t.Fatalf("expected commission 60, got %s", matches[0].Amount)
	}
}

func TestResolveUsesUserDefaultWhenNoRates(t *testing.T) {
	src := &fakeRates{}

	matches, err := NewResolver().Resolve(context.Background(), src, domain.User{DefaultCommissionRate: dec("2.5")}, []domain.SaleItem{item(1, 1, "333.33")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected default-rate match, got %d", len(matches))
	}
	if matches[0].RateID != nil {
		t.Fatalf("default rate should carry no rate id")
	}
	if !matches[0].Amount.Equal(dec("8.33")) {
		t.Fatalf("expected 8.33, got %s", matches[0].Amount)
	}

	none, err := NewResolver().Resolve(context.Background(), src, domain.User{}, []domain.SaleItem{item(1, 1, "100")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no match without rates or default, got %d", len(none))
	}
}

func TestResolvePropagatesSourceErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewResolver().Resolve(context.Background(), &fakeRates{err: boom}, domain.User{}, []domain.SaleItem{item(1, 1, "1")})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestCommissionRateValidate(t *testing.T) {
	cases := []struct {
		name string
		rate domain.CommissionRate
		ok   bool
	}{
		{"global without ref", rate(0, domain.RateScopeGlobal, nil, "5", "0"), true},
		{"global with ref", rate(0, domain.RateScopeGlobal, ref(1), "5", "0"), false},
		{"product without ref", rate(0, domain.RateScopeProduct, nil, "5", "0"), false},
		{"category with ref", rate(0, domain.RateScopeCategory, ref(3), "5", "0"), true},
		{"rate above 100", rate(0, domain.RateScopeGlobal, nil, "100.01", "0"), false},
		{"negative minimum", rate(0, domain.RateScopeGlobal, nil, "1", "-1"), false},
		{"unknown scope", rate(0, domain.RateScope("team"), nil, "1", "0"), false},
	}
	for _, tc := range cases {
		err := tc.rate.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: expected ok=%t, got %v", tc.name, tc.ok, err)
		}
	}
}

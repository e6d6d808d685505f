package commission

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"bizcore/backend/internal/domain"
)

// RateSource is the read side the resolver needs. store.Queries satisfies it.
type RateSource interface {
	ListActiveRates(ctx context.Context, scope domain.RateScope, refIDs []int64) ([]domain.CommissionRate, error)
}

// Match is the rate chosen for one line item.
type Match struct {
	Item   domain.SaleItem
	RateID *int64
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// Resolver picks one commission rate per line item. Product rates win over
// category rates, category over global, global over the user default. Within
// the winning tier the candidate yielding the largest commission is used.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns a match for every item that has an applicable rate. Items
// without one are left out. Each tier is read at most once per sale.
func (r *Resolver) Resolve(ctx context.Context, src RateSource, user domain.User, items []domain.SaleItem) ([]Match, error) {
	if len(items) == 0 {
		return nil, nil
	}

	productRates, err := src.ListActiveRates(ctx, domain.RateScopeProduct, distinct(items, func(it domain.SaleItem) int64 { return it.ProductID }))
	if err != nil {
		return nil, fmt.Errorf("load product rates: %w", err)
	}

	tiers := make([][]domain.CommissionRate, len(items))
	pending := make([]int, 0, len(items))
	for i, item := range items {
		tiers[i] = filterByRef(productRates, item.ProductID)
		if len(tiers[i]) == 0 {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		categories := make([]domain.SaleItem, 0, len(pending))
		for _, i := range pending {
			categories = append(categories, items[i])
		}
		categoryRates, err := src.ListActiveRates(ctx, domain.RateScopeCategory, distinct(categories, func(it domain.SaleItem) int64 { return it.CategoryID }))
		if err != nil {
			return nil, fmt.Errorf("load category rates: %w", err)
		}
		remaining := pending[:0]
		for _, i := range pending {
			tiers[i] = filterByRef(categoryRates, items[i].CategoryID)
			if len(tiers[i]) == 0 {
				remaining = append(remaining, i)
			}
		}
		pending = remaining
	}

	if len(pending) > 0 {
		globalRates, err := src.ListActiveRates(ctx, domain.RateScopeGlobal, nil)
		if err != nil {
			return nil, fmt.Errorf("load global rates: %w", err)
		}
		for _, i := range pending {
			tiers[i] = globalRates
		}
	}

	matches := make([]Match, 0, len(items))
	for i, item := range items {
		candidates := tiers[i]
		if len(candidates) == 0 && user.DefaultCommissionRate.IsPositive() {
			candidates = []domain.CommissionRate{{
				Scope:         domain.RateScopeGlobal,
				Rate:          user.DefaultCommissionRate,
				MinSaleAmount: decimal.Zero,
				Status:        domain.StatusActive,
			}}
		}
		if match, ok := best(item, candidates); ok {
			matches = append(matches, match)
		}
	}
	return matches, nil
}

// best filters candidates by minimum sale amount and keeps the highest
// commission. Ties go to the lower rate id; the synthesized default has id 0.
func best(item domain.SaleItem, candidates []domain.CommissionRate) (Match, bool) {
	var (
		chosen Match
		found  bool
	)
	for _, rate := range candidates {
		if !rate.AppliesTo(item.TotalAmount) {
			continue
		}
		amount := rate.Commission(item.TotalAmount)
		if found {
			c := amount.Cmp(chosen.Amount)
			if c < 0 || (c == 0 && rate.ID >= rateID(chosen.RateID)) {
				continue
			}
		}
		chosen = Match{Item: item, Rate: rate.Rate, Amount: amount}
		if rate.ID > 0 {
			id := rate.ID
			chosen.RateID = &id
		}
		found = true
	}
	return chosen, found
}

func rateID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func filterByRef(rates []domain.CommissionRate, ref int64) []domain.CommissionRate {
	var out []domain.CommissionRate
	for _, rate := range rates {
		if rate.ReferenceID != nil && *rate.ReferenceID == ref {
			out = append(out, rate)
		}
	}
	return out
}

func distinct(items []domain.SaleItem, key func(domain.SaleItem) int64) []int64 {
	seen := make(map[int64]struct{}, len(items))
	out := make([]int64, 0, len(items))
	for _, item := range items {
		k := key(item)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

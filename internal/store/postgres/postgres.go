package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Tx(ctx context.Context, fn func(store.Queries) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = pgTx.Rollback()
	}()

	if err := fn(&queries{db: pgTx}); err != nil {
		return retryable(err)
	}
	return retryable(pgTx.Commit())
}

func (s *Store) View(ctx context.Context, fn func(store.Queries) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() {
		_ = pgTx.Rollback()
	}()

	if err := fn(&queries{db: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit()
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// queries implements store.Queries on one transaction.
type queries struct {
	db dbtx
}

const userColumns = `id, username, password_hash, role, commission_eligible, default_commission_rate, active, created_at`

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CommissionEligible, &u.DefaultCommissionRate, &u.Active, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (q *queries) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *queries) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = lower($1)`, username))
}

func (q *queries) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, category_id, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make(map[int64]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Active); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	return products, rows.Err()
}

func (q *queries) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO sales (user_id, customer_name, sale_date, status, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, created_at
	`, sale.UserID, nullIfEmpty(sale.CustomerName), sale.SaleDate, sale.Status, sale.TotalAmount).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}

	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		item.SaleID = sale.ID
		err := q.db.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, category_id, quantity, unit_price, unit_cost, total_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, item.SaleID, item.ProductID, item.CategoryID, item.Quantity, item.UnitPrice, item.UnitCost, item.TotalAmount).Scan(&item.ID)
		if err != nil {
			return nil, classify(err)
		}
		items[i] = item
	}
	sale.Items = items
	return &sale, nil
}

func (q *queries) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	var customer sql.NullString
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, customer_name, sale_date, status, total_amount, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.UserID, &customer, &sale.SaleDate, &sale.Status, &sale.TotalAmount, &sale.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	sale.CustomerName = customer.String

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, category_id, quantity, unit_price, unit_cost, total_amount
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Items = make([]domain.SaleItem, 0, 4)
	for rows.Next() {
		var it domain.SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.CategoryID, &it.Quantity, &it.UnitPrice, &it.UnitCost, &it.TotalAmount); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (q *queries) SummarizeSales(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	var summary domain.SalesSummary
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT s.id),
			COALESCE(SUM(si.unit_price * si.quantity), 0),
			COALESCE(SUM(si.unit_cost * si.quantity), 0)
		FROM sales s
		LEFT JOIN sale_items si ON si.sale_id = s.id
		WHERE s.status = 'paid' AND s.sale_date BETWEEN $1 AND $2
	`, from, to).Scan(&summary.SalesCount, &summary.TotalRevenue, &summary.TotalCOGS)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	summary.GrossProfit = summary.TotalRevenue.Sub(summary.TotalCOGS)
	return summary, nil
}

const rateColumns = `id, scope, reference_id, rate, min_sale_amount, status, COALESCE(description, ''), created_at, updated_at`

func scanRate(row scanner) (*domain.CommissionRate, error) {
	var r domain.CommissionRate
	var ref sql.NullInt64
	if err := row.Scan(&r.ID, &r.Scope, &ref, &r.Rate, &r.MinSaleAmount, &r.Status, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	if ref.Valid {
		id := ref.Int64
		r.ReferenceID = &id
	}
	return &r, nil
}

func (q *queries) listRates(ctx context.Context, query string, args ...any) ([]domain.CommissionRate, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make([]domain.CommissionRate, 0, 8)
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, *r)
	}
	return rates, rows.Err()
}

func (q *queries) CreateCommissionRate(ctx context.Context, rate domain.CommissionRate) (*domain.CommissionRate, error) {
	return scanRate(q.db.QueryRowContext(ctx, `
		INSERT INTO commission_rates (scope, reference_id, rate, min_sale_amount, status, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+rateColumns,
		rate.Scope, nullInt64(rate.ReferenceID), rate.Rate, rate.MinSaleAmount, rate.Status, nullIfEmpty(rate.Description)))
}

func (q *queries) UpdateCommissionRate(ctx context.Context, rate domain.CommissionRate) (*domain.CommissionRate, error) {
	return scanRate(q.db.QueryRowContext(ctx, `
		UPDATE commission_rates
		SET rate = $2, min_sale_amount = $3, status = $4, description = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+rateColumns,
		rate.ID, rate.Rate, rate.MinSaleAmount, rate.Status, nullIfEmpty(rate.Description)))
}

func (q *queries) GetCommissionRate(ctx context.Context, id int64) (*domain.CommissionRate, error) {
	return scanRate(q.db.QueryRowContext(ctx, `SELECT `+rateColumns+` FROM commission_rates WHERE id = $1`, id))
}

func (q *queries) ListCommissionRates(ctx context.Context, filter domain.CommissionRateFilter) ([]domain.CommissionRate, error) {
	return q.listRates(ctx, `
		SELECT `+rateColumns+`
		FROM commission_rates
		WHERE ($1 = '' OR scope = $1) AND ($2 = '' OR status = $2)
		ORDER BY id
	`, string(filter.Scope), filter.Status)
}

func (q *queries) ListActiveRates(ctx context.Context, scope domain.RateScope, refIDs []int64) ([]domain.CommissionRate, error) {
	if scope == domain.RateScopeGlobal {
		return q.listRates(ctx, `
			SELECT `+rateColumns+`
			FROM commission_rates
			WHERE status = 'active' AND scope = 'global'
			ORDER BY id
		`)
	}
	return q.listRates(ctx, `
		SELECT `+rateColumns+`
		FROM commission_rates
		WHERE status = 'active' AND scope = $1 AND reference_id = ANY($2)
		ORDER BY id
	`, string(scope), refIDs)
}

const commissionColumns = `c.id, c.sale_id, c.sale_item_id, c.user_id, c.commission_rate_id, c.rate_applied, c.sale_amount,
	c.commission_amount, c.status, c.payment_date, COALESCE(c.notes, ''), c.created_at`

func scanCommission(row scanner) (*domain.CommissionCalculation, error) {
	var c domain.CommissionCalculation
	var rateID sql.NullInt64
	var paymentDate sql.NullTime
	if err := row.Scan(&c.ID, &c.SaleID, &c.SaleItemID, &c.UserID, &rateID, &c.RateApplied, &c.SaleAmount,
		&c.CommissionAmount, &c.Status, &paymentDate, &c.Notes, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	if rateID.Valid {
		id := rateID.Int64
		c.CommissionRateID = &id
	}
	c.PaymentDate = timePtr(paymentDate)
	return &c, nil
}

func (q *queries) CreateCommissionCalculations(ctx context.Context, calcs []domain.CommissionCalculation) ([]domain.CommissionCalculation, error) {
	created := make([]domain.CommissionCalculation, 0, len(calcs))
	for _, calc := range calcs {
		err := q.db.QueryRowContext(ctx, `
			INSERT INTO commission_calculations (
				sale_id, sale_item_id, user_id, commission_rate_id, rate_applied,
				sale_amount, commission_amount, status, notes, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			RETURNING id, created_at
		`, calc.SaleID, calc.SaleItemID, calc.UserID, nullInt64(calc.CommissionRateID), calc.RateApplied,
			calc.SaleAmount, calc.CommissionAmount, calc.Status, nullIfEmpty(calc.Notes)).Scan(&calc.ID, &calc.CreatedAt)
		if err != nil {
			return nil, classify(err)
		}
		created = append(created, calc)
	}
	return created, nil
}

func (q *queries) MarkCommissionsPaid(ctx context.Context, ids []int64, paymentDate time.Time, notes string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE commission_calculations
		SET status = 'paid', payment_date = $2, notes = $3
		WHERE id = ANY($1)
	`, ids, paymentDate, nullIfEmpty(notes))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *queries) ListCommissionCalculations(ctx context.Context, filter domain.CommissionFilter) ([]domain.CommissionCalculation, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+commissionColumns+`
		FROM commission_calculations c
		JOIN sales s ON s.id = c.sale_id
		WHERE ($1 = 0 OR c.user_id = $1)
			AND ($2 = 0 OR c.sale_id = $2)
			AND ($3 = '' OR c.status = $3)
			AND ($4::date IS NULL OR s.sale_date >= $4)
			AND ($5::date IS NULL OR s.sale_date <= $5)
		ORDER BY c.id DESC
		LIMIT $6
	`, filter.UserID, filter.SaleID, filter.Status, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calcs := make([]domain.CommissionCalculation, 0, limit)
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, *c)
	}
	return calcs, rows.Err()
}

func (q *queries) SummarizeCommissions(ctx context.Context, userID int64, from time.Time, to time.Time) (domain.CommissionSummary, error) {
	summary := domain.CommissionSummary{UserID: userID}
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE c.status = 'pending'),
			COALESCE(SUM(c.commission_amount) FILTER (WHERE c.status = 'pending'), 0),
			COUNT(*) FILTER (WHERE c.status = 'paid'),
			COALESCE(SUM(c.commission_amount) FILTER (WHERE c.status = 'paid'), 0),
			COALESCE(SUM(c.sale_amount), 0)
		FROM commission_calculations c
		JOIN sales s ON s.id = c.sale_id
		WHERE ($1 = 0 OR c.user_id = $1) AND s.sale_date BETWEEN $2 AND $3
	`, userID, from, to).Scan(&summary.PendingCount, &summary.PendingAmount, &summary.PaidCount, &summary.PaidAmount, &summary.TotalSales)
	if err != nil {
		return domain.CommissionSummary{}, err
	}
	return summary, nil
}

func scanCostCategory(row scanner) (*domain.CostCategory, error) {
	var c domain.CostCategory
	if err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Status, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (q *queries) CreateCostCategory(ctx context.Context, category domain.CostCategory) (*domain.CostCategory, error) {
	created, err := scanCostCategory(q.db.QueryRowContext(ctx, `
		INSERT INTO cost_categories (name, type, status, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, name, type, status, created_at
	`, category.Name, category.Type, category.Status))
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

func (q *queries) GetCostCategory(ctx context.Context, id int64) (*domain.CostCategory, error) {
	return scanCostCategory(q.db.QueryRowContext(ctx, `
		SELECT id, name, type, status, created_at FROM cost_categories WHERE id = $1
	`, id))
}

func (q *queries) ListCostCategories(ctx context.Context) ([]domain.CostCategory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, type, status, created_at FROM cost_categories ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.CostCategory, 0, 16)
	for rows.Next() {
		c, err := scanCostCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

const costColumns = `id, category_id, amount, description, cost_date, recurring, COALESCE(recurring_type, ''),
	recurring_end_date, parent_cost_id, created_by, created_at`

func scanCost(row scanner) (*domain.Cost, error) {
	var c domain.Cost
	var endDate sql.NullTime
	var parent sql.NullInt64
	if err := row.Scan(&c.ID, &c.CategoryID, &c.Amount, &c.Description, &c.CostDate, &c.Recurring, &c.RecurringType,
		&endDate, &parent, &c.CreatedBy, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	c.RecurringEndDate = timePtr(endDate)
	if parent.Valid {
		id := parent.Int64
		c.ParentCostID = &id
	}
	return &c, nil
}

func (q *queries) CreateCost(ctx context.Context, cost domain.Cost) (*domain.Cost, error) {
	created, err := scanCost(q.db.QueryRowContext(ctx, `
		INSERT INTO costs (
			category_id, amount, description, cost_date, recurring, recurring_type,
			recurring_end_date, parent_cost_id, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING `+costColumns,
		cost.CategoryID, cost.Amount, cost.Description, cost.CostDate, cost.Recurring, nullIfEmpty(cost.RecurringType),
		nullDate(cost.RecurringEndDate), nullInt64(cost.ParentCostID), cost.CreatedBy))
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

func (q *queries) ListCosts(ctx context.Context, filter domain.CostFilter) ([]domain.Cost, error) {
	var recurring any
	if filter.Recurring != nil {
		recurring = *filter.Recurring
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+costColumns+`
		FROM costs
		WHERE cost_date BETWEEN $1 AND $2
			AND ($3 = 0 OR category_id = $3)
			AND ($4::boolean IS NULL OR recurring = $4)
		ORDER BY cost_date, id
	`, filter.From, filter.To, filter.CategoryID, recurring)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	costs := make([]domain.Cost, 0, 32)
	for rows.Next() {
		c, err := scanCost(rows)
		if err != nil {
			return nil, err
		}
		costs = append(costs, *c)
	}
	return costs, rows.Err()
}

func (q *queries) SummarizeCostsByCategory(ctx context.Context, from time.Time, to time.Time) ([]domain.CostCategorySummary, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT cc.id, cc.name, cc.type, COUNT(c.id), COALESCE(SUM(c.amount), 0),
			COALESCE(ROUND(AVG(c.amount), 2), 0), MIN(c.cost_date), MAX(c.cost_date)
		FROM costs c
		JOIN cost_categories cc ON cc.id = c.category_id
		WHERE c.cost_date BETWEEN $1 AND $2
		GROUP BY cc.id, cc.name, cc.type
		ORDER BY SUM(c.amount) DESC, cc.id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CostCategorySummary, 0, 16)
	for rows.Next() {
		var s domain.CostCategorySummary
		var first, last sql.NullTime
		if err := rows.Scan(&s.CategoryID, &s.CategoryName, &s.CategoryType, &s.Count, &s.TotalAmount, &s.AvgAmount, &first, &last); err != nil {
			return nil, err
		}
		s.FirstDate = timePtr(first)
		s.LastDate = timePtr(last)
		result = append(result, s)
	}
	return result, rows.Err()
}

func (q *queries) SumCostsByType(ctx context.Context, from time.Time, to time.Time) ([]domain.CostTypeTotal, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT cc.type, COUNT(c.id), COALESCE(SUM(c.amount), 0)
		FROM costs c
		JOIN cost_categories cc ON cc.id = c.category_id
		WHERE c.cost_date BETWEEN $1 AND $2
		GROUP BY cc.type
		ORDER BY cc.type
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.CostTypeTotal, 0, 8)
	for rows.Next() {
		var t domain.CostTypeTotal
		if err := rows.Scan(&t.Type, &t.Count, &t.TotalAmount); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

const investorColumns = `id, name, COALESCE(email, ''), initial_capital, current_capital, ownership_percentage,
	join_date, status, created_at, updated_at`

func scanInvestor(row scanner) (*domain.Investor, error) {
	var inv domain.Investor
	if err := row.Scan(&inv.ID, &inv.Name, &inv.Email, &inv.InitialCapital, &inv.CurrentCapital, &inv.OwnershipPercentage,
		&inv.JoinDate, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (q *queries) listInvestors(ctx context.Context, query string, args ...any) ([]domain.Investor, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	investors := make([]domain.Investor, 0, 8)
	for rows.Next() {
		inv, err := scanInvestor(rows)
		if err != nil {
			return nil, err
		}
		investors = append(investors, *inv)
	}
	return investors, rows.Err()
}

func (q *queries) CreateInvestor(ctx context.Context, investor domain.Investor) (*domain.Investor, error) {
	return scanInvestor(q.db.QueryRowContext(ctx, `
		INSERT INTO investors (
			name, email, initial_capital, current_capital, ownership_percentage,
			join_date, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+investorColumns,
		investor.Name, nullIfEmpty(investor.Email), investor.InitialCapital, investor.CurrentCapital,
		investor.OwnershipPercentage, investor.JoinDate, investor.Status))
}

func (q *queries) UpdateInvestor(ctx context.Context, investor domain.Investor) (*domain.Investor, error) {
	return scanInvestor(q.db.QueryRowContext(ctx, `
		UPDATE investors
		SET name = $2, email = $3, ownership_percentage = $4, status = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+investorColumns,
		investor.ID, investor.Name, nullIfEmpty(investor.Email), investor.OwnershipPercentage, investor.Status))
}

func (q *queries) GetInvestor(ctx context.Context, id int64) (*domain.Investor, error) {
	return scanInvestor(q.db.QueryRowContext(ctx, `SELECT `+investorColumns+` FROM investors WHERE id = $1`, id))
}

func (q *queries) GetInvestorForUpdate(ctx context.Context, id int64) (*domain.Investor, error) {
	return scanInvestor(q.db.QueryRowContext(ctx, `SELECT `+investorColumns+` FROM investors WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) ListInvestors(ctx context.Context, status string) ([]domain.Investor, error) {
	return q.listInvestors(ctx, `
		SELECT `+investorColumns+`
		FROM investors
		WHERE ($1 = '' OR status = $1)
		ORDER BY id
	`, status)
}

func (q *queries) SumActiveOwnership(ctx context.Context, excludeID int64) (decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT ownership_percentage
		FROM investors
		WHERE status = 'active' AND id <> $1
		FOR UPDATE
	`, excludeID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var pct decimal.Decimal
		if err := rows.Scan(&pct); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(pct)
	}
	return total, rows.Err()
}

func (q *queries) ListEligibleInvestors(ctx context.Context, asOf time.Time) ([]domain.Investor, error) {
	return q.listInvestors(ctx, `
		SELECT `+investorColumns+`
		FROM investors
		WHERE status = 'active' AND join_date <= $1
		ORDER BY id
	`, asOf)
}

func (q *queries) SetInvestorCapital(ctx context.Context, id int64, capital decimal.Decimal, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE investors SET current_capital = $2, updated_at = $3 WHERE id = $1
	`, id, capital, at)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const capitalColumns = `id, investor_id, type, amount, balance_after, transaction_date, reference_number, COALESCE(notes, ''), created_at`

func scanCapitalTransaction(row scanner) (*domain.CapitalTransaction, error) {
	var t domain.CapitalTransaction
	if err := row.Scan(&t.ID, &t.InvestorID, &t.Type, &t.Amount, &t.BalanceAfter, &t.TransactionDate, &t.ReferenceNumber, &t.Notes, &t.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (q *queries) CreateCapitalTransaction(ctx context.Context, txn domain.CapitalTransaction) (*domain.CapitalTransaction, error) {
	created, err := scanCapitalTransaction(q.db.QueryRowContext(ctx, `
		INSERT INTO capital_transactions (
			investor_id, type, amount, balance_after, transaction_date, reference_number, notes, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING `+capitalColumns,
		txn.InvestorID, string(txn.Type), txn.Amount, txn.BalanceAfter, txn.TransactionDate, txn.ReferenceNumber, nullIfEmpty(txn.Notes)))
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

func (q *queries) ListCapitalTransactions(ctx context.Context, investorID int64, limit int) ([]domain.CapitalTransaction, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+capitalColumns+`
		FROM capital_transactions
		WHERE ($1 = 0 OR investor_id = $1)
		ORDER BY id DESC
		LIMIT $2
	`, investorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.CapitalTransaction, 0, limit)
	for rows.Next() {
		t, err := scanCapitalTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

const profitColumns = `id, period_start, period_end, total_revenue, total_cogs, total_costs, gross_profit, net_profit,
	status, calculated_by, COALESCE(notes, ''), created_at, finalized_at, distributed_at`

func scanProfitCalculation(row scanner) (*domain.ProfitCalculation, error) {
	var c domain.ProfitCalculation
	var finalized, distributed sql.NullTime
	if err := row.Scan(&c.ID, &c.PeriodStart, &c.PeriodEnd, &c.TotalRevenue, &c.TotalCOGS, &c.TotalCosts, &c.GrossProfit, &c.NetProfit,
		&c.Status, &c.CalculatedBy, &c.Notes, &c.CreatedAt, &finalized, &distributed); err != nil {
		return nil, notFound(err)
	}
	c.FinalizedAt = timePtr(finalized)
	c.DistributedAt = timePtr(distributed)
	return &c, nil
}

func (q *queries) CreateProfitCalculation(ctx context.Context, calc domain.ProfitCalculation) (*domain.ProfitCalculation, error) {
	return scanProfitCalculation(q.db.QueryRowContext(ctx, `
		INSERT INTO profit_calculations (
			period_start, period_end, total_revenue, total_cogs, total_costs, gross_profit, net_profit,
			status, calculated_by, notes, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING `+profitColumns,
		calc.PeriodStart, calc.PeriodEnd, calc.TotalRevenue, calc.TotalCOGS, calc.TotalCosts, calc.GrossProfit, calc.NetProfit,
		calc.Status, calc.CalculatedBy, nullIfEmpty(calc.Notes)))
}

func (q *queries) GetProfitCalculation(ctx context.Context, id int64) (*domain.ProfitCalculation, error) {
	return scanProfitCalculation(q.db.QueryRowContext(ctx, `SELECT `+profitColumns+` FROM profit_calculations WHERE id = $1`, id))
}

func (q *queries) GetProfitCalculationForUpdate(ctx context.Context, id int64) (*domain.ProfitCalculation, error) {
	return scanProfitCalculation(q.db.QueryRowContext(ctx, `SELECT `+profitColumns+` FROM profit_calculations WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) ListProfitCalculations(ctx context.Context, status string, limit int) ([]domain.ProfitCalculation, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+profitColumns+`
		FROM profit_calculations
		WHERE ($1 = '' OR status = $1)
		ORDER BY id DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calcs := make([]domain.ProfitCalculation, 0, limit)
	for rows.Next() {
		c, err := scanProfitCalculation(rows)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, *c)
	}
	return calcs, rows.Err()
}

func (q *queries) UpdateProfitCalculationStatus(ctx context.Context, id int64, status string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE profit_calculations
		SET status = $2::text,
			finalized_at = CASE WHEN $2::text IN ('finalized', 'distributed') THEN COALESCE(finalized_at, $3) ELSE finalized_at END,
			distributed_at = CASE WHEN $2::text = 'distributed' THEN $3 ELSE distributed_at END
		WHERE id = $1
	`, id, status, at)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const distributionColumns = `id, calculation_id, investor_id, amount, percentage, status, payment_date,
	COALESCE(payment_reference, ''), COALESCE(notes, ''), created_at`

func scanDistribution(row scanner) (*domain.ProfitDistribution, error) {
	var d domain.ProfitDistribution
	var paymentDate sql.NullTime
	if err := row.Scan(&d.ID, &d.CalculationID, &d.InvestorID, &d.Amount, &d.Percentage, &d.Status, &paymentDate,
		&d.PaymentReference, &d.Notes, &d.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	d.PaymentDate = timePtr(paymentDate)
	return &d, nil
}

func (q *queries) CreateProfitDistribution(ctx context.Context, dist domain.ProfitDistribution) (*domain.ProfitDistribution, error) {
	created, err := scanDistribution(q.db.QueryRowContext(ctx, `
		INSERT INTO profit_distributions (calculation_id, investor_id, amount, percentage, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+distributionColumns,
		dist.CalculationID, dist.InvestorID, dist.Amount, dist.Percentage, dist.Status, nullIfEmpty(dist.Notes)))
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

func (q *queries) ListProfitDistributions(ctx context.Context, calculationID int64) ([]domain.ProfitDistribution, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+distributionColumns+`
		FROM profit_distributions
		WHERE calculation_id = $1
		ORDER BY id
	`, calculationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dists := make([]domain.ProfitDistribution, 0, 8)
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		dists = append(dists, *d)
	}
	return dists, rows.Err()
}

func (q *queries) GetProfitDistributionForUpdate(ctx context.Context, id int64) (*domain.ProfitDistribution, error) {
	return scanDistribution(q.db.QueryRowContext(ctx, `SELECT `+distributionColumns+` FROM profit_distributions WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) MarkDistributionPaid(ctx context.Context, id int64, paymentDate time.Time, reference string, notes string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE profit_distributions
		SET status = 'paid', payment_date = $2, payment_reference = $3, notes = $4
		WHERE id = $1
	`, id, paymentDate, nullIfEmpty(reference), nullIfEmpty(notes))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// classify maps constraint violations onto store sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrNotFound)
		case "23514":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrInvalidInput)
		}
	}
	return notFound(err)
}

// retryable reports serialization failures and deadlocks as conflicts so the
// caller can retry the whole unit of work.
func retryable(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}
	return err
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	y, m, d := val.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bizcore/backend/internal/domain"
	"bizcore/backend/internal/service"
	"bizcore/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger zerolog.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        logger.With().Str("component", "httpapi").Logger(),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	admin := []string{domain.RoleAdmin}
	staff := []string{domain.RoleAdmin, domain.RoleSales}

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/auth/login", a.handleLogin).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/sales", a.requireAuth(a.handleRecordSale, staff...)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sales/{id:[0-9]+}/commission-preview", a.requireAuth(a.handleCommissionPreview, admin...)).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/commission-rates", a.requireAuth(a.handleListCommissionRates, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/commission-rates", a.requireAuth(a.handleCreateCommissionRate, admin...)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/commission-rates/{id:[0-9]+}", a.requireAuth(a.handleUpdateCommissionRate, admin...)).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/commissions", a.requireAuth(a.handleListCommissions, staff...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/commissions/summary", a.requireAuth(a.handleCommissionSummary, staff...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/commissions/payments", a.requireAuth(a.handleCommissionPayment, admin...)).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/cost-categories", a.requireAuth(a.handleListCostCategories, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/cost-categories", a.requireAuth(a.handleCreateCostCategory, admin...)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/costs", a.requireAuth(a.handleListCosts, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/costs", a.requireAuth(a.handleCreateCost, admin...)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/costs/summary", a.requireAuth(a.handleCostSummary, admin...)).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/profit/period", a.requireAuth(a.handleProfitPeriod, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/profit/distribution-preview", a.requireAuth(a.handleDistributionPreview, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/profit/calculations", a.requireAuth(a.handleListProfitCalculations, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/profit/calculations", a.requireAuth(a.handleCreateProfitCalculation, admin...)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/profit/calculations/{id:[0-9]+}", a.requireAuth(a.handleGetProfitCalculation, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/profit/calculations/{id:[0-9]+}/finalize", a.requireAuth(a.handleFinalizeProfitCalculation, admin...)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/profit/calculations/{id:[0-9]+}/distributions/process", a.requireAuth(a.handleProcessDistributions, admin...)).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/investors", a.requireAuth(a.handleListInvestors, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/investors", a.requireAuth(a.handleCreateInvestor, admin...)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/investors/ownership/validate", a.requireAuth(a.handleValidateOwnership, admin...)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/investors/{id:[0-9]+}", a.requireAuth(a.handleGetInvestor, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/investors/{id:[0-9]+}", a.requireAuth(a.handleUpdateInvestor, admin...)).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/investors/{id:[0-9]+}/transactions", a.requireAuth(a.handleListCapitalTransactions, admin...)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/investors/{id:[0-9]+}/transactions", a.requireAuth(a.handleRecordCapitalTransaction, admin...)).Methods(http.MethodPost)

	return a.withMiddleware(r)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveAccount) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.RecordSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCommissionPreview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	drafts, err := a.service.PreviewSaleCommissions(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commissions": drafts})
}

func (a *API) handleListCommissionRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rates, err := a.service.ListCommissionRates(r.Context(), domain.CommissionRateFilter{
		Scope:  domain.RateScope(strings.TrimSpace(q.Get("scope"))),
		Status: strings.TrimSpace(q.Get("status")),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": rates})
}

func (a *API) handleCreateCommissionRate(w http.ResponseWriter, r *http.Request) {
	var req domain.CommissionRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := a.service.CreateCommissionRate(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rate": rate})
}

func (a *API) handleUpdateCommissionRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.CommissionRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := a.service.UpdateCommissionRate(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rate": rate})
}

func (a *API) handleListCommissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CommissionFilter{
		Status: strings.TrimSpace(q.Get("status")),
		Limit:  parsePositiveLimit(q.Get("limit"), 100, 500),
	}
	var err error
	if filter.UserID, err = queryInt64(q, "user_id"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.SaleID, err = queryInt64(q, "sale_id"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.From, err = queryDate(q, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.To, err = queryDate(q, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	calcs, err := a.service.ListCommissions(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commissions": calcs})
}

func (a *API) handleCommissionSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := queryInt64(q, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, to, err := queryPeriod(q, "from", "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.CommissionSummary(r.Context(), userID, from, to)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (a *API) handleCommissionPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.CommissionPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ProcessCommissionPayment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListCostCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.ListCostCategories(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (a *API) handleCreateCostCategory(w http.ResponseWriter, r *http.Request) {
	var req domain.CostCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	category, err := a.service.CreateCostCategory(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"category": category})
}

func (a *API) handleListCosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := queryPeriod(q, "from", "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	filter := domain.CostFilter{From: from, To: to}
	if filter.CategoryID, err = queryInt64(q, "category_id"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if raw := strings.TrimSpace(q.Get("recurring")); raw != "" {
		recurring, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("recurring must be true or false"))
			return
		}
		filter.Recurring = &recurring
	}

	costs, err := a.service.ListCosts(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"costs": costs})
}

func (a *API) handleCreateCost(w http.ResponseWriter, r *http.Request) {
	var req domain.CostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreateCost(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryPeriod(r.URL.Query(), "from", "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.CostCategorySummary(r.Context(), from, to)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": summary})
}

func (a *API) handleProfitPeriod(w http.ResponseWriter, r *http.Request) {
	start, end, err := queryPeriod(r.URL.Query(), "start", "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	profit, err := a.service.CalculatePeriod(r.Context(), start, end)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profit": profit})
}

func (a *API) handleDistributionPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	periodEnd, err := queryDate(q, "period_end")
	if err != nil || periodEnd == nil {
		writeError(w, http.StatusBadRequest, errors.New("period_end must be a YYYY-MM-DD date"))
		return
	}
	netProfit, err := decimal.NewFromString(strings.TrimSpace(q.Get("net_profit")))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("net_profit must be a decimal amount"))
		return
	}
	plan, err := a.service.CalculateDistribution(r.Context(), *periodEnd, netProfit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

func (a *API) handleListProfitCalculations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	calcs, err := a.service.ListProfitCalculations(r.Context(), strings.TrimSpace(q.Get("status")), parsePositiveLimit(q.Get("limit"), 50, 200))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calculations": calcs})
}

func (a *API) handleCreateProfitCalculation(w http.ResponseWriter, r *http.Request) {
	var req domain.ProfitCalculationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	calc, err := a.service.CreateWithDistributions(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"calculation": calc})
}

func (a *API) handleGetProfitCalculation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	calc, err := a.service.GetProfitCalculation(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calculation": calc})
}

func (a *API) handleFinalizeProfitCalculation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	calc, err := a.service.FinalizeProfitCalculation(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calculation": calc})
}

func (a *API) handleProcessDistributions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.ProcessDistributionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	calc, err := a.service.ProcessDistributions(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calculation": calc})
}

func (a *API) handleListInvestors(w http.ResponseWriter, r *http.Request) {
	investors, err := a.service.ListInvestors(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"investors": investors})
}

func (a *API) handleCreateInvestor(w http.ResponseWriter, r *http.Request) {
	var req domain.InvestorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	investor, err := a.service.CreateInvestor(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"investor": investor})
}

type ownershipCheckRequest struct {
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	ExcludeInvestorID   int64           `json:"exclude_investor_id"`
}

func (a *API) handleValidateOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownershipCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.ValidateOwnership(r.Context(), req.OwnershipPercentage, req.ExcludeInvestorID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleGetInvestor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	investor, err := a.service.GetInvestor(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"investor": investor})
}

func (a *API) handleUpdateInvestor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.InvestorUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	investor, err := a.service.UpdateInvestor(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"investor": investor})
}

func (a *API) handleListCapitalTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txns, err := a.service.ListCapitalTransactions(r.Context(), id, parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (a *API) handleRecordCapitalTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.CapitalTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.InvestorID != 0 && req.InvestorID != id {
		writeError(w, http.StatusBadRequest, errors.New("investor_id does not match path"))
		return
	}
	req.InvestorID = id

	resp, err := a.service.RecordTransaction(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}).Handler(logged)
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": validation.Error(),
			"field": validation.Field,
		})
	case errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, service.ErrNotCommissionEligible),
		errors.Is(err, service.ErrNoApplicableRate):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrInsufficientCapital),
		errors.Is(err, service.ErrNoEligibleInvestors):
		writeError(w, http.StatusConflict, err)
	default:
		a.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func queryInt64(q url.Values, key string) (int64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return v, nil
}

func queryDate(q url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a YYYY-MM-DD date", key)
	}
	return &t, nil
}

func queryPeriod(q url.Values, startKey string, endKey string) (time.Time, time.Time, error) {
	start, err := queryDate(q, startKey)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := queryDate(q, endKey)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start == nil || end == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%s and %s are required", startKey, endKey)
	}
	return *start, *end, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides 5xx details from clients; 4xx messages are user-facing.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

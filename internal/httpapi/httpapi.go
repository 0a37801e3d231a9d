package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/reconcile"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/service"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/store"
)

type API struct {
	service        *service.Service
	monitor        *service.Monitor
	auth           *AuthManager
	allowedOrigins []string
	loginLimiter   *clientLimiter
	pinLimiter     *clientLimiter
	logger         *zap.Logger
}

func New(svc *service.Service, monitor *service.Monitor, auth *AuthManager, allowedOrigins []string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:        svc,
		monitor:        monitor,
		auth:           auth,
		allowedOrigins: allowedOrigins,
		loginLimiter:   newClientLimiter(rate.Every(12*time.Second), 5),
		pinLimiter:     newClientLimiter(rate.Every(7500*time.Millisecond), 8),
		logger:         logger,
	}
}

// clientLimiter keeps one token bucket per client address. Buckets idle long
// enough to refill completely are swept.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	limiters  map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	idleTTL := time.Minute
	if limit > 0 && limit != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idleTTL {
			idleTTL = refill
		}
	}
	return &clientLimiter{
		limit:    limit,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	l.sweep(now)
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// sweep runs at most once per idleTTL. Callers hold l.mu.
func (l *clientLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.idleTTL)
	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
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
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleManager))

			r.Get("/periods/{date}/stats", a.handlePeriodStats)
			r.Post("/periods/{date}/preview", a.handlePreview)
			r.Post("/periods/{date}/close", a.handleCloseDay)

			r.Get("/reports", a.handleListReports)
			r.Get("/reports/{date}", a.handleGetReport)

			r.Get("/orders", a.handleListOrders)
			r.Post("/orders", a.handleRecordOrder)
			r.Post("/orders/combined-payment", a.handleCombinedPayment)
			r.Get("/orders/{id}", a.handleGetOrder)
			r.Post("/orders/{id}/complete", a.handleCompleteOrder)
			r.Post("/orders/{id}/pay", a.handleQuickPay)
			r.Post("/orders/{id}/settle-change", a.handleSettleChange)
			r.Post("/orders/{id}/apply-credit", a.handleApplyCredit)

			r.Post("/expenses", a.handleRecordExpense)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleManager))

			r.Post("/reports/{date}/adjustments", a.handleReportAdjustment)
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
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
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) period(w http.ResponseWriter, r *http.Request) (domain.Period, bool) {
	period, err := a.service.Period(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return domain.Period{}, false
	}
	return period, true
}

// handlePeriodStats serves the live snapshot when the monitor watches the
// requested period and falls back to an on-demand aggregation otherwise.
func (a *API) handlePeriodStats(w http.ResponseWriter, r *http.Request) {
	period, ok := a.period(w, r)
	if !ok {
		return
	}
	if a.monitor != nil {
		if stats := a.monitor.Stats(); stats != nil && stats.Period == period.Key {
			writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "live": true})
			return
		}
	}

	stats, err := a.service.Stats(r.Context(), period)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "live": false})
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	period, ok := a.period(w, r)
	if !ok {
		return
	}
	var req domain.CountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	preview, err := a.service.PreviewReconciliation(r.Context(), period, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleCloseDay(w http.ResponseWriter, r *http.Request) {
	period, ok := a.period(w, r)
	if !ok {
		return
	}
	var req domain.CountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := a.service.CloseDay(r.Context(), period, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"report": report})
}

func (a *API) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 31, 366)
	reports, err := a.service.ListReports(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	period, ok := a.period(w, r)
	if !ok {
		return
	}
	detail, err := a.service.GetReport(r.Context(), period.Key)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleReportAdjustment(w http.ResponseWriter, r *http.Request) {
	period, ok := a.period(w, r)
	if !ok {
		return
	}
	var req domain.ReportAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	adjustment, err := a.service.AddReportAdjustment(r.Context(), period.Key, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adjustment": adjustment})
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ListOrders(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if status := strings.TrimSpace(r.URL.Query().Get("payment_status")); status != "" {
		filtered := orders[:0]
		for _, order := range orders {
			if strings.EqualFold(order.PaymentStatus, status) {
				filtered = append(filtered, order)
			}
		}
		orders = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleRecordOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PardonDeficit && !a.allowPIN(w, r) {
		return
	}

	order, err := a.service.RecordOrder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (a *API) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.MarkCompleted(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleQuickPay(w http.ResponseWriter, r *http.Request) {
	var req domain.QuickPayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.service.QuickPay(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleSettleChange(w http.ResponseWriter, r *http.Request) {
	var req domain.SettleChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.service.SettleChange(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleApplyCredit(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplyCreditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.ApplyCredit(r.Context(), chi.URLParam(r, "id"), req.TargetOrderIDs)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCombinedPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.CombinedPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PardonDeficit && !a.allowPIN(w, r) {
		return
	}

	orders, err := a.service.CombinedPayment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	var req domain.ExpenseCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	expense, err := a.service.RecordExpense(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	period := a.service.Today()
	if date := strings.TrimSpace(r.URL.Query().Get("date")); date != "" {
		parsed, err := a.service.Period(date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		period = parsed
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 1000)

	logs, err := a.service.ListAuditLogs(r.Context(), period, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period.Key, "audit_logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// allowPIN throttles manager PIN guesses per client.
func (a *API) allowPIN(w http.ResponseWriter, r *http.Request) bool {
	if a.pinLimiter.Allow(clientKey(r)) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
	return false
}

// writeServiceError maps domain failures to status codes. Anything
// unrecognised is treated as a ledger outage the client may retry.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidCount), errors.Is(err, store.ErrInvalidTransaction):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrStatsNotReady),
		errors.Is(err, store.ErrPeriodClosed),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, service.ErrNoCredit):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrManagerApproval):
		writeError(w, http.StatusForbidden, err)
	default:
		a.logger.Error("ledger operation failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "ledger temporarily unavailable, please retry",
		})
	}
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
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

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

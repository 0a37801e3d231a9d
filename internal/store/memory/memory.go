package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	orders          map[string]domain.Order
	expenses        []domain.MiscExpense
	reportsByPeriod map[string]domain.ReconciliationReport
	adjustments     []domain.ReportAdjustment
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		orders:          make(map[string]domain.Order),
		expenses:        make([]domain.MiscExpense, 0, 64),
		reportsByPeriod: make(map[string]domain.ReconciliationReport),
		adjustments:     make([]domain.ReportAdjustment, 0, 8),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store holding the dev/demo operator accounts.
// Credentials are read from SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD;
// when unset, dev defaults are used and a warning is logged. These accounts
// are never used in production, where DATABASE_URL selects PostgreSQL.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(logger)
	return s
}

func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		fullName string
		password string
		role     string
	}{
		{"manager", "Shift Manager", managerPwd, domain.RoleManager},
		{"cashier", "Front Cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			FullName:  u.fullName,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		orders = append(orders, cloneOrder(order))
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return orders, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneOrder(order)
	return &dup, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" || order.CreatedAt.IsZero() {
		return nil, store.ErrInvalidTransaction
	}
	if !order.CheckBalance() {
		return nil, fmt.Errorf("%w: balance mismatch on order %s", store.ErrInvalidTransaction, order.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, store.ErrConflict
	}
	s.orders[order.ID] = cloneOrder(order)
	dup := cloneOrder(order)
	return &dup, nil
}

func (s *Store) UpdateOrders(_ context.Context, ids []string, fn store.OrderMutation) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := make(map[string]*domain.Order, len(ids))
	for _, id := range ids {
		order, ok := s.orders[id]
		if !ok {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
		}
		dup := cloneOrder(order)
		working[id] = &dup
	}

	if err := fn(working); err != nil {
		return nil, err
	}
	if err := store.CheckOrders(working); err != nil {
		return nil, err
	}

	updated := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		order := working[id]
		s.orders[id] = cloneOrder(*order)
		updated = append(updated, cloneOrder(*order))
	}
	return updated, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.MiscExpense) (*domain.MiscExpense, error) {
	if strings.TrimSpace(expense.ID) == "" || expense.At.IsZero() || !expense.Amount.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expenses = append(s.expenses, expense)
	return &expense, nil
}

func (s *Store) ListExpenses(_ context.Context, from time.Time, to time.Time) ([]domain.MiscExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.MiscExpense, 0, len(s.expenses))
	for _, expense := range s.expenses {
		if !from.IsZero() && expense.At.Before(from) {
			continue
		}
		if !to.IsZero() && !expense.At.Before(to) {
			continue
		}
		result = append(result, expense)
	}
	slices.SortFunc(result, func(a, b domain.MiscExpense) int {
		return a.At.Compare(b.At)
	})
	return result, nil
}

func (s *Store) CreateReport(_ context.Context, report domain.ReconciliationReport, closure store.Closure) (*domain.ReconciliationReport, error) {
	if report.Period == "" || report.Period != closure.Period.Key {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reportsByPeriod[report.Period]; exists {
		return nil, store.ErrPeriodClosed
	}

	annotated := make([]string, 0)
	for id, order := range s.orders {
		if !closure.Period.Contains(order.CreatedAt) || !order.BalanceDue.IsNegative() {
			continue
		}
		deducted := closure.Deducted
		stampedAt := closure.At
		order.ChangeSetAside = &deducted
		order.ChangeSetAsidePeriod = closure.Period.Key
		order.ChangeSetAsideAt = &stampedAt
		s.orders[id] = order
		annotated = append(annotated, id)
	}
	slices.Sort(annotated)

	report.AnnotatedOrderIDs = annotated
	report.ChangeOwedSetAside = closure.Deducted
	s.reportsByPeriod[report.Period] = cloneReport(report)
	return &report, nil
}

func (s *Store) GetReport(_ context.Context, period string) (*domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reportsByPeriod[period]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneReport(report)
	return &dup, nil
}

func (s *Store) ListReports(_ context.Context, limit int) ([]domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]domain.ReconciliationReport, 0, len(s.reportsByPeriod))
	for _, report := range s.reportsByPeriod {
		reports = append(reports, cloneReport(report))
	}
	slices.SortFunc(reports, func(a, b domain.ReconciliationReport) int {
		return cmp.Compare(b.Period, a.Period)
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

func (s *Store) CreateReportAdjustment(_ context.Context, adjustment domain.ReportAdjustment) (*domain.ReportAdjustment, error) {
	if strings.TrimSpace(adjustment.ID) == "" || strings.TrimSpace(adjustment.Reason) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reportsByPeriod[adjustment.Period]; !ok {
		return nil, store.ErrNotFound
	}
	s.adjustments = append(s.adjustments, adjustment)
	return &adjustment, nil
}

func (s *Store) ListReportAdjustments(_ context.Context, period string) ([]domain.ReportAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ReportAdjustment, 0)
	for _, adjustment := range s.adjustments {
		if adjustment.Period == period {
			result = append(result, adjustment)
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" || entry.Action == "" {
		return store.ErrInvalidTransaction
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 || limit > 500 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || (!to.IsZero() && !entry.CreatedAt.Before(to)) {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.PaymentHistory = slices.Clone(src.PaymentHistory)
	dup.ChangeHistory = slices.Clone(src.ChangeHistory)
	dup.CreditNotes = slices.Clone(src.CreditNotes)
	if src.PaymentBreakdown != nil {
		breakdown := *src.PaymentBreakdown
		dup.PaymentBreakdown = &breakdown
	}
	dup.LastPaymentAt = cloneTime(src.LastPaymentAt)
	dup.SettledOn = cloneTime(src.SettledOn)
	dup.ChangeSetAsideAt = cloneTime(src.ChangeSetAsideAt)
	if src.ChangeSetAside != nil {
		flag := *src.ChangeSetAside
		dup.ChangeSetAside = &flag
	}
	return dup
}

func cloneReport(src domain.ReconciliationReport) domain.ReconciliationReport {
	dup := src
	dup.AnnotatedOrderIDs = slices.Clone(src.AnnotatedOrderIDs)
	return dup
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	dup := *src
	return &dup
}

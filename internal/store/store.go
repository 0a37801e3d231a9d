package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrPeriodClosed       = errors.New("period already closed")
	ErrConflict           = errors.New("conflicting update")
)

// OrderMutation edits the locked orders in place. Returning an error aborts
// the whole update.
type OrderMutation func(orders map[string]*domain.Order) error

// Closure describes the annotation stamped on every order created in the
// period that still owes change when the report is written.
type Closure struct {
	Period   domain.Period
	Deducted bool
	At       time.Time
}

type Repository interface {
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	// UpdateOrders applies fn to all ids atomically. Every order must still
	// satisfy its balance invariant afterwards or nothing is written.
	UpdateOrders(ctx context.Context, ids []string, fn OrderMutation) ([]domain.Order, error)
	CreateExpense(ctx context.Context, expense domain.MiscExpense) (*domain.MiscExpense, error)
	ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.MiscExpense, error)
	// CreateReport inserts the report only if its period has none yet and
	// stamps the closure annotation in the same transaction.
	CreateReport(ctx context.Context, report domain.ReconciliationReport, closure Closure) (*domain.ReconciliationReport, error)
	GetReport(ctx context.Context, period string) (*domain.ReconciliationReport, error)
	ListReports(ctx context.Context, limit int) ([]domain.ReconciliationReport, error)
	CreateReportAdjustment(ctx context.Context, adjustment domain.ReportAdjustment) (*domain.ReportAdjustment, error)
	ListReportAdjustments(ctx context.Context, period string) ([]domain.ReportAdjustment, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// CheckOrders verifies the balance invariant on every order.
func CheckOrders(orders map[string]*domain.Order) error {
	for id, order := range orders {
		if !order.CheckBalance() {
			return fmt.Errorf("%w: balance mismatch on order %s", ErrInvalidTransaction, id)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/store"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
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

	return &Store{db: db, logger: logger}, nil
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const orderColumns = `
	id, simplified_id, tag, order_type, status, cashier_id, cashier_name, notes, schema_version,
	items, total, reward_discount, pardoned_amount, amount_paid, change_given, balance_due,
	payment_status, payment_method, payment_history, change_history, payment_breakdown,
	last_payment_amount, created_at, last_payment_at, settled_on,
	change_set_aside, change_set_aside_period, change_set_aside_at, credit_notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order          domain.Order
		itemsRaw       []byte
		historyRaw     []byte
		changesRaw     []byte
		breakdownRaw   []byte
		creditNotesRaw []byte
		lastPaymentAt  sql.NullTime
		settledOn      sql.NullTime
		setAside       sql.NullBool
		setAsidePeriod sql.NullString
		setAsideAt     sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.SimplifiedID, &order.Tag, &order.OrderType, &order.Status,
		&order.CashierID, &order.CashierName, &order.Notes, &order.SchemaVersion,
		&itemsRaw, &order.Total, &order.RewardDiscount, &order.PardonedAmount,
		&order.AmountPaid, &order.ChangeGiven, &order.BalanceDue,
		&order.PaymentStatus, &order.PaymentMethod, &historyRaw, &changesRaw, &breakdownRaw,
		&order.LastPaymentAmount, &order.CreatedAt, &lastPaymentAt, &settledOn,
		&setAside, &setAsidePeriod, &setAsideAt, &creditNotesRaw,
	)
	if err != nil {
		return domain.Order{}, err
	}

	if err := json.Unmarshal(itemsRaw, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode items of %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(historyRaw, &order.PaymentHistory); err != nil {
		return domain.Order{}, fmt.Errorf("decode payment history of %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(changesRaw, &order.ChangeHistory); err != nil {
		return domain.Order{}, fmt.Errorf("decode change history of %s: %w", order.ID, err)
	}
	if len(breakdownRaw) > 0 {
		var breakdown domain.PaymentBreakdown
		if err := json.Unmarshal(breakdownRaw, &breakdown); err != nil {
			return domain.Order{}, fmt.Errorf("decode payment breakdown of %s: %w", order.ID, err)
		}
		order.PaymentBreakdown = &breakdown
	}
	_ = json.Unmarshal(creditNotesRaw, &order.CreditNotes)

	order.CreatedAt = order.CreatedAt.UTC()
	order.LastPaymentAt = timePtr(lastPaymentAt)
	order.SettledOn = timePtr(settledOn)
	order.ChangeSetAsideAt = timePtr(setAsideAt)
	if setAside.Valid {
		flag := setAside.Bool
		order.ChangeSetAside = &flag
	}
	order.ChangeSetAsidePeriod = setAsidePeriod.String
	return order, nil
}

type orderJSON struct {
	items, history, changes, breakdown, creditNotes []byte
}

func encodeOrder(order domain.Order) (orderJSON, error) {
	var (
		out orderJSON
		err error
	)
	if order.Items == nil {
		order.Items = []domain.LineItem{}
	}
	if order.PaymentHistory == nil {
		order.PaymentHistory = []domain.PaymentEvent{}
	}
	if order.ChangeHistory == nil {
		order.ChangeHistory = []domain.ChangeEvent{}
	}
	if order.CreditNotes == nil {
		order.CreditNotes = []string{}
	}
	if out.items, err = json.Marshal(order.Items); err != nil {
		return out, err
	}
	if out.history, err = json.Marshal(order.PaymentHistory); err != nil {
		return out, err
	}
	if out.changes, err = json.Marshal(order.ChangeHistory); err != nil {
		return out, err
	}
	if out.creditNotes, err = json.Marshal(order.CreditNotes); err != nil {
		return out, err
	}
	if order.PaymentBreakdown != nil {
		if out.breakdown, err = json.Marshal(order.PaymentBreakdown); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 256)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" || order.CreatedAt.IsZero() {
		return nil, store.ErrInvalidTransaction
	}
	if !order.CheckBalance() {
		return nil, fmt.Errorf("%w: balance mismatch on order %s", store.ErrInvalidTransaction, order.ID)
	}
	encoded, err := encodeOrder(order)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)
	`, order.ID, order.SimplifiedID, order.Tag, order.OrderType, order.Status,
		order.CashierID, order.CashierName, order.Notes, order.SchemaVersion,
		encoded.items, order.Total, order.RewardDiscount, order.PardonedAmount,
		order.AmountPaid, order.ChangeGiven, order.BalanceDue,
		order.PaymentStatus, order.PaymentMethod, encoded.history, encoded.changes, nullJSON(encoded.breakdown),
		order.LastPaymentAmount, order.CreatedAt, nullTime(order.LastPaymentAt), nullTime(order.SettledOn),
		nullBool(order.ChangeSetAside), nullIfEmpty(order.ChangeSetAsidePeriod), nullTime(order.ChangeSetAsideAt), encoded.creditNotes)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	saved := order
	return &saved, nil
}

// UpdateOrders locks the rows in id order so concurrent multi-order updates
// cannot deadlock each other.
func (s *Store) UpdateOrders(ctx context.Context, ids []string, fn store.OrderMutation) ([]domain.Order, error) {
	locked := append([]string(nil), ids...)
	sort.Strings(locked)

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rows, err := pgTx.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ANY($1) ORDER BY id FOR UPDATE`, locked)
	if err != nil {
		return nil, err
	}
	working := make(map[string]*domain.Order, len(locked))
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		working[order.ID] = &order
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, id := range locked {
		if _, ok := working[id]; !ok {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
		}
	}

	if err := fn(working); err != nil {
		return nil, err
	}
	if err := store.CheckOrders(working); err != nil {
		return nil, err
	}

	for _, id := range locked {
		if err := updateOrder(ctx, pgTx, *working[id]); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	updated := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		updated = append(updated, *working[id])
	}
	return updated, nil
}

func updateOrder(ctx context.Context, pgTx *sql.Tx, order domain.Order) error {
	encoded, err := encodeOrder(order)
	if err != nil {
		return err
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, notes = $3, items = $4, total = $5, reward_discount = $6, pardoned_amount = $7,
			amount_paid = $8, change_given = $9, balance_due = $10, payment_status = $11, payment_method = $12,
			payment_history = $13, change_history = $14, last_payment_amount = $15, last_payment_at = $16,
			settled_on = $17, credit_notes = $18
		WHERE id = $1
	`, order.ID, order.Status, order.Notes, encoded.items, order.Total, order.RewardDiscount, order.PardonedAmount,
		order.AmountPaid, order.ChangeGiven, order.BalanceDue, order.PaymentStatus, order.PaymentMethod,
		encoded.history, encoded.changes, order.LastPaymentAmount, nullTime(order.LastPaymentAt),
		nullTime(order.SettledOn), encoded.creditNotes)
	if err != nil {
		if isSerializationFailure(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.MiscExpense) (*domain.MiscExpense, error) {
	if expense.ID == "" {
		expense.ID = xid.New("expense")
	}
	if expense.At.IsZero() || !expense.Amount.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO misc_expenses (id, purpose, amount, source, spent_at, cashier_id, cashier_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.Purpose, expense.Amount, expense.Source, expense.At, expense.CashierID, expense.CashierName)
	if err != nil {
		return nil, err
	}
	saved := expense
	return &saved, nil
}

func (s *Store) ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.MiscExpense, error) {
	query := `
		SELECT id, purpose, amount, source, spent_at, cashier_id, cashier_name
		FROM misc_expenses
		WHERE ($1::timestamptz IS NULL OR spent_at >= $1)
			AND ($2::timestamptz IS NULL OR spent_at < $2)
		ORDER BY spent_at ASC`
	rows, err := s.db.QueryContext(ctx, query, nullTime(timeArg(from)), nullTime(timeArg(to)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.MiscExpense, 0, 32)
	for rows.Next() {
		var expense domain.MiscExpense
		if err := rows.Scan(&expense.ID, &expense.Purpose, &expense.Amount, &expense.Source, &expense.At, &expense.CashierID, &expense.CashierName); err != nil {
			return nil, err
		}
		expense.At = expense.At.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

// CreateReport relies on the period primary key: a second closure of the
// same day fails the insert and rolls back its annotations.
func (s *Store) CreateReport(ctx context.Context, report domain.ReconciliationReport, closure store.Closure) (*domain.ReconciliationReport, error) {
	if report.Period == "" || report.Period != closure.Period.Key {
		return nil, store.ErrInvalidTransaction
	}
	if report.ID == "" {
		report.ID = xid.New("report")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rows, err := pgTx.QueryContext(ctx, `
		UPDATE orders
		SET change_set_aside = $3, change_set_aside_period = $4, change_set_aside_at = $5
		WHERE created_at >= $1 AND created_at < $2 AND balance_due < 0
		RETURNING id
	`, closure.Period.Start, closure.Period.End, closure.Deducted, closure.Period.Key, closure.At)
	if err != nil {
		return nil, mapTxError(err)
	}
	annotated := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		annotated = append(annotated, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapTxError(err)
	}
	_ = rows.Close()
	sort.Strings(annotated)

	report.AnnotatedOrderIDs = annotated
	report.ChangeOwedSetAside = closure.Deducted
	snapshot, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (
			period, id, status, total_discrepancy, operator_id, change_owed_set_aside, snapshot, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, report.Period, report.ID, report.Status, report.TotalDiscrepancy, report.OperatorID,
		report.ChangeOwedSetAside, snapshot, report.CreatedAt)
	if err != nil {
		return nil, mapTxError(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	s.logger.Info("period closed",
		zap.String("period", report.Period),
		zap.Int("annotated_orders", len(annotated)),
	)
	return &report, nil
}

func (s *Store) GetReport(ctx context.Context, period string) (*domain.ReconciliationReport, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM reconciliation_reports WHERE period = $1`, period).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var report domain.ReconciliationReport
	if err := json.Unmarshal(snapshot, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", period, err)
	}
	return &report, nil
}

func (s *Store) ListReports(ctx context.Context, limit int) ([]domain.ReconciliationReport, error) {
	if limit < 1 {
		limit = 31
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot
		FROM reconciliation_reports
		ORDER BY period DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.ReconciliationReport, 0, limit)
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		var report domain.ReconciliationReport
		if err := json.Unmarshal(snapshot, &report); err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (s *Store) CreateReportAdjustment(ctx context.Context, adjustment domain.ReportAdjustment) (*domain.ReportAdjustment, error) {
	if adjustment.ID == "" {
		adjustment.ID = xid.New("adjustment")
	}
	if strings.TrimSpace(adjustment.Reason) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_adjustments (id, period, amount, reason, operator_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, adjustment.ID, adjustment.Period, adjustment.Amount, adjustment.Reason, adjustment.OperatorID, adjustment.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := adjustment
	return &saved, nil
}

func (s *Store) ListReportAdjustments(ctx context.Context, period string) ([]domain.ReportAdjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period, amount, reason, operator_id, created_at
		FROM report_adjustments
		WHERE period = $1
		ORDER BY created_at ASC
	`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adjustments := make([]domain.ReportAdjustment, 0, 4)
	for rows.Next() {
		var adjustment domain.ReportAdjustment
		if err := rows.Scan(&adjustment.ID, &adjustment.Period, &adjustment.Amount, &adjustment.Reason, &adjustment.OperatorID, &adjustment.CreatedAt); err != nil {
			return nil, err
		}
		adjustment.CreatedAt = adjustment.CreatedAt.UTC()
		adjustments = append(adjustments, adjustment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, full_name, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.FullName, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, full_name, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.FullName, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapTxError(err error) error {
	switch {
	case isUniqueViolation(err):
		return store.ErrPeriodClosed
	case isSerializationFailure(err):
		return store.ErrConflict
	default:
		return err
	}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func isSerializationFailure(err error) bool {
	return pgCode(err) == "40001"
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullBool(val *bool) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullJSON(val []byte) any {
	if len(val) == 0 {
		return nil
	}
	return val
}

func timeArg(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

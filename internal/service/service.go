package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/cache"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/notify"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/reconcile"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/store"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/xid"
)

var (
	ErrStatsNotReady   = errors.New("period statistics are not ready")
	ErrNoCredit        = errors.New("order has no change owed")
	ErrManagerApproval = errors.New("manager approval required")
	ErrForbidden       = errors.New("manager role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// PINVerifier approves actions that need a manager, such as pardoning a
// deficit.
type PINVerifier interface {
	ValidateManagerPIN(pin string) bool
}

type Options struct {
	Cache    cache.StatsCache
	Bus      notify.Bus
	Logger   *zap.Logger
	Location *time.Location
	StatsTTL time.Duration
	Approver PINVerifier
	Clock    func() time.Time
}

type Service struct {
	repo     store.Repository
	cache    cache.StatsCache
	bus      notify.Bus
	logger   *zap.Logger
	loc      *time.Location
	statsTTL time.Duration
	approver PINVerifier
	now      func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopStatsCache{}
	}
	if opts.Bus == nil {
		opts.Bus = notify.NewLocalBus()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:     repo,
		cache:    opts.Cache,
		bus:      opts.Bus,
		logger:   opts.Logger,
		loc:      opts.Location,
		statsTTL: opts.StatsTTL,
		approver: opts.Approver,
		now:      func() time.Time { return opts.Clock().UTC() },
	}
}

func (s *Service) Bus() notify.Bus {
	return s.bus
}

// Period resolves a YYYY-MM-DD key in the business time zone.
func (s *Service) Period(key string) (domain.Period, error) {
	period, err := domain.ParsePeriod(strings.TrimSpace(key), s.loc)
	if err != nil {
		return domain.Period{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	return period, nil
}

// Today is the business day containing the service clock's current time.
func (s *Service) Today() domain.Period {
	return domain.PeriodOf(s.now(), s.loc)
}

// Stats returns the statistics of a period, served from cache while no
// ledger change has invalidated them.
func (s *Service) Stats(ctx context.Context, period domain.Period) (domain.PeriodStats, error) {
	cached, ok, err := s.cache.Get(ctx, period.Key)
	if err != nil {
		s.logger.Warn("stats cache read failed", zap.String("period", period.Key), zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	stats, err := s.aggregate(ctx, period)
	if err != nil {
		return domain.PeriodStats{}, err
	}
	if err := s.cache.Set(ctx, period.Key, &stats, s.statsTTL); err != nil {
		s.logger.Warn("stats cache write failed", zap.String("period", period.Key), zap.Error(err))
	}
	return stats, nil
}

// aggregate reads the ledger in full before deriving anything; pre-period
// orders matter for collections and carried balances.
func (s *Service) aggregate(ctx context.Context, period domain.Period) (domain.PeriodStats, error) {
	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return domain.PeriodStats{}, fmt.Errorf("list orders: %w", err)
	}
	expenses, err := s.repo.ListExpenses(ctx, period.Start, period.End)
	if err != nil {
		return domain.PeriodStats{}, fmt.Errorf("list expenses: %w", err)
	}
	return reconcile.Aggregate(orders, expenses, period, s.logger), nil
}

func (s *Service) PreviewReconciliation(ctx context.Context, period domain.Period, req domain.CountRequest) (domain.ReconciliationPreview, error) {
	count, err := reconcile.ParseCashCount(req.Denominations)
	if err != nil {
		return domain.ReconciliationPreview{}, err
	}
	stats, err := s.Stats(ctx, period)
	if err != nil {
		return domain.ReconciliationPreview{}, err
	}
	result, err := reconcile.Reconcile(stats, count, req.MomoEntries, req.DeductCustomerChange)
	if err != nil {
		return domain.ReconciliationPreview{}, err
	}
	return domain.ReconciliationPreview{Stats: stats, Result: result}, nil
}

type FinalizeInput struct {
	Period               domain.Period
	Stats                *domain.PeriodStats
	Count                reconcile.CashCount
	MomoEntries          []decimal.Decimal
	Result               domain.ReconciliationResult
	Notes                string
	DeductCustomerChange bool
	Operator             domain.Actor
}

// Finalize writes the period's report and stamps the closure annotation on
// orders still owing change. A period can be finalized once.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (domain.ReconciliationReport, error) {
	if in.Stats == nil {
		return domain.ReconciliationReport{}, ErrStatsNotReady
	}
	if strings.TrimSpace(in.Operator.Username) == "" {
		return domain.ReconciliationReport{}, fmt.Errorf("%w: operator required", store.ErrInvalidTransaction)
	}
	if in.Stats.Period != in.Period.Key {
		return domain.ReconciliationReport{}, fmt.Errorf("%w: statistics belong to %s", store.ErrInvalidTransaction, in.Stats.Period)
	}

	if in.Count != nil && !domain.WithinEpsilon(in.Count.Total(), in.Result.TotalCountedCash) {
		return domain.ReconciliationReport{}, fmt.Errorf("%w: counted cash does not match the denominations", reconcile.ErrInvalidCount)
	}

	now := s.now()
	report := buildReport(in, now)
	saved, err := s.repo.CreateReport(ctx, report, store.Closure{
		Period:   in.Period,
		Deducted: in.DeductCustomerChange,
		At:       now,
	})
	if errors.Is(err, store.ErrConflict) {
		// A serialization conflict means a concurrent closure won the race.
		if _, getErr := s.repo.GetReport(ctx, in.Period.Key); getErr == nil {
			err = store.ErrPeriodClosed
		}
	}
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	s.afterChange(ctx, domain.ChangeKindReport, saved.Period, in.Period.Start)
	s.logAudit(ctx, "period_close", "report", saved.Period, fmt.Sprintf(
		"status=%s,total_discrepancy=%s,deduct_change=%t,annotated=%d",
		saved.Status, saved.TotalDiscrepancy.StringFixed(2), saved.ChangeOwedSetAside, len(saved.AnnotatedOrderIDs),
	))
	s.logger.Info("reconciliation report saved",
		zap.String("period", saved.Period),
		zap.String("status", saved.Status),
		zap.String("operator", saved.OperatorID),
	)
	return *saved, nil
}

func buildReport(in FinalizeInput, now time.Time) domain.ReconciliationReport {
	stats, result := in.Stats, in.Result
	return domain.ReconciliationReport{
		ID:                      xid.New("report"),
		Period:                  in.Period.Key,
		CreatedAt:               now,
		SchemaVersion:           domain.CurrentSchemaVersion,
		TotalSales:              stats.TotalSales,
		CashSales:               stats.CashSales,
		MomoSales:               stats.MomoSales,
		MiscCashExpenses:        stats.MiscCashExpenses,
		MiscMomoExpenses:        stats.MiscMomoExpenses,
		SettledUnpaidCash:       stats.SettledUnpaidCash,
		SettledUnpaidMomo:       stats.SettledUnpaidMomo,
		PreviousDaysChangeGiven: stats.PreviousDaysChangeGiven,
		ChangeOwedForPeriod:     stats.ChangeOwedForPeriod,
		TotalRewardDiscount:     stats.TotalRewardDiscount,
		TotalPardonedAmount:     stats.TotalPardonedAmount,
		NetRevenue:              stats.NetRevenue,
		ExpectedCash:            result.ExpectedCash,
		ExpectedMomo:            result.ExpectedMomo,
		TotalExpectedRevenue:    result.TotalExpected(),
		CountedCash:             result.TotalCountedCash,
		CountedMomo:             result.TotalCountedMomo,
		TotalCountedRevenue:     result.TotalCounted(),
		CashDiscrepancy:         result.CashDiscrepancy,
		MomoDiscrepancy:         result.MomoDiscrepancy,
		TotalDiscrepancy:        result.TotalDiscrepancy,
		Status:                  domain.Classify(result.TotalDiscrepancy),
		Notes:                   strings.TrimSpace(in.Notes),
		OperatorID:              in.Operator.Username,
		OperatorName:            in.Operator.Name,
		ChangeOwedSetAside:      in.DeductCustomerChange,
	}
}

// CloseDay aggregates the period afresh, reconciles the operator's count and
// finalizes the result.
func (s *Service) CloseDay(ctx context.Context, period domain.Period, req domain.CountRequest) (domain.ReconciliationReport, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ReconciliationReport{}, fmt.Errorf("%w: operator required", store.ErrInvalidTransaction)
	}
	if closed, err := s.IsClosed(ctx, period.Key); err != nil {
		return domain.ReconciliationReport{}, err
	} else if closed {
		return domain.ReconciliationReport{}, store.ErrPeriodClosed
	}

	count, err := reconcile.ParseCashCount(req.Denominations)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	if err := reconcile.ValidateMomoEntries(req.MomoEntries); err != nil {
		return domain.ReconciliationReport{}, err
	}

	stats, err := s.aggregate(ctx, period)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	result, err := reconcile.Reconcile(stats, count, req.MomoEntries, req.DeductCustomerChange)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	return s.Finalize(ctx, FinalizeInput{
		Period:               period,
		Stats:                &stats,
		Count:                count,
		MomoEntries:          req.MomoEntries,
		Result:               result,
		Notes:                req.Notes,
		DeductCustomerChange: req.DeductCustomerChange,
		Operator:             actor,
	})
}

func (s *Service) IsClosed(ctx context.Context, period string) (bool, error) {
	_, err := s.repo.GetReport(ctx, period)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) ListReports(ctx context.Context, limit int) ([]domain.ReconciliationReport, error) {
	if limit < 1 || limit > 366 {
		limit = 31
	}
	return s.repo.ListReports(ctx, limit)
}

func (s *Service) GetReport(ctx context.Context, period string) (domain.ReportDetail, error) {
	report, err := s.repo.GetReport(ctx, period)
	if err != nil {
		return domain.ReportDetail{}, err
	}
	adjustments, err := s.repo.ListReportAdjustments(ctx, period)
	if err != nil {
		return domain.ReportDetail{}, err
	}
	return domain.ReportDetail{Report: *report, Adjustments: adjustments}, nil
}

// AddReportAdjustment records a correction against a closed period. The
// report itself is never rewritten.
func (s *Service) AddReportAdjustment(ctx context.Context, period string, req domain.ReportAdjustmentRequest) (domain.ReportAdjustment, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleManager {
		return domain.ReportAdjustment{}, ErrForbidden
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" || req.Amount.IsZero() {
		return domain.ReportAdjustment{}, fmt.Errorf("%w: amount and reason are required", store.ErrInvalidTransaction)
	}

	saved, err := s.repo.CreateReportAdjustment(ctx, domain.ReportAdjustment{
		ID:         xid.New("adjustment"),
		Period:     period,
		Amount:     req.Amount,
		Reason:     reason,
		OperatorID: actor.Username,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.ReportAdjustment{}, err
	}
	s.logAudit(ctx, "report_adjust", "report", period, fmt.Sprintf("amount=%s,reason=%s", saved.Amount.StringFixed(2), reason))
	return *saved, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, period domain.Period, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleManager {
		return nil, ErrForbidden
	}
	return s.repo.ListAuditLogs(ctx, period.Start, period.End, limit)
}

// afterChange drops cached statistics for every period from since through
// today and tells watchers to recompute. Carried balances and closure
// annotations reach into every later period.
func (s *Service) afterChange(ctx context.Context, kind string, entityID string, since time.Time) {
	periods := s.periodsSince(since)
	if err := s.cache.Invalidate(ctx, periods...); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Strings("periods", periods), zap.Error(err))
	}
	change := domain.LedgerChange{Kind: kind, EntityID: entityID, At: s.now()}
	if err := s.bus.Publish(ctx, change); err != nil {
		s.logger.Warn("ledger change publish failed", zap.String("kind", kind), zap.String("entity_id", entityID), zap.Error(err))
	}
}

// maxInvalidationDays bounds how far back a change clears cached statistics;
// older entries expire with the stats TTL.
const maxInvalidationDays = 366

func (s *Service) periodsSince(since time.Time) []string {
	today := s.Today()
	first := domain.PeriodOf(since, s.loc)
	if first.Start.After(today.Start) {
		return []string{today.Key, first.Key}
	}
	start := first.Start
	if floor := today.Start.AddDate(0, 0, -maxInvalidationDays); start.Before(floor) {
		start = floor
	}
	keys := []string{today.Key}
	for day := start; day.Before(today.Start); day = day.AddDate(0, 0, 1) {
		keys = append(keys, day.Format(domain.PeriodLayout))
	}
	return keys
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

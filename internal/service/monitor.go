package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

// Monitor keeps the statistics of one period current by recomputing them
// whenever the ledger changes. Readers see the last complete snapshot.
type Monitor struct {
	svc    *Service
	logger *zap.Logger

	period atomic.Pointer[domain.Period]
	stats  atomic.Pointer[domain.PeriodStats]
	ready  chan struct{}
	once   atomic.Bool
}

func NewMonitor(svc *Service, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{svc: svc, logger: logger, ready: make(chan struct{})}
}

// Watch blocks until ctx is done. It subscribes before the first
// aggregation so no change between the two is missed.
func (m *Monitor) Watch(ctx context.Context, period domain.Period) error {
	changes, err := m.svc.Bus().Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to ledger changes: %w", err)
	}
	if current := m.stats.Load(); current != nil && current.Period != period.Key {
		m.stats.Store(nil)
	}
	m.period.Store(&period)

	m.recompute(ctx, period)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			m.logger.Debug("ledger changed; recomputing period stats",
				zap.String("period", period.Key),
				zap.String("kind", change.Kind),
				zap.String("entity_id", change.EntityID),
			)
			m.drain(changes)
			m.recompute(ctx, period)
		}
	}
}

// drain collapses a burst of pending changes into one recomputation.
func (m *Monitor) drain(changes <-chan domain.LedgerChange) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (m *Monitor) recompute(ctx context.Context, period domain.Period) {
	stats, err := m.svc.aggregate(ctx, period)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("period stats recomputation failed", zap.String("period", period.Key), zap.Error(err))
		}
		return
	}
	m.stats.Store(&stats)
	if m.once.CompareAndSwap(false, true) {
		close(m.ready)
	}
}

// Stats returns the latest snapshot, or nil before the first aggregation
// completes.
func (m *Monitor) Stats() *domain.PeriodStats {
	return m.stats.Load()
}

// Period returns the watched period, or false before Watch starts.
func (m *Monitor) Period() (domain.Period, bool) {
	p := m.period.Load()
	if p == nil {
		return domain.Period{}, false
	}
	return *p, true
}

// Ready is closed once the first snapshot is available.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

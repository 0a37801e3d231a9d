// Package reconcile derives period statistics from the ledger and compares
// them with an operator's physical count. Everything here is pure: the same
// records and period always produce the same result.
package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/payment"
)

type placement int

const (
	placementSkip placement = iota
	placementBefore
	placementIn
	placementAfter
)

func place(order domain.Order, period domain.Period) placement {
	switch {
	case order.CreatedAt.IsZero():
		return placementSkip
	case order.CreatedAt.Before(period.Start):
		return placementBefore
	case order.CreatedAt.Before(period.End):
		return placementIn
	default:
		return placementAfter
	}
}

// Aggregate computes the statistics of one business day. Orders created
// before the period still contribute collections, carried debt and change
// paid out during the period; orders created after it are ignored.
func Aggregate(orders []domain.Order, expenses []domain.MiscExpense, period domain.Period, logger *zap.Logger) domain.PeriodStats {
	if logger == nil {
		logger = zap.NewNop()
	}

	stats := domain.PeriodStats{
		Period:           period.Key,
		WindowStart:      period.Start,
		WindowEnd:        period.End,
		ItemStats:        map[string]domain.ItemStat{},
		OrderIDs:         []string{},
		ActivityOrderIDs: []string{},
	}

	for _, order := range orders {
		switch place(order, period) {
		case placementSkip:
			stats.SkippedRecords++
			logger.Warn("order skipped: missing creation time", zap.String("order_id", order.ID))
		case placementIn:
			addCurrentOrder(&stats, order, period, logger)
		case placementBefore:
			addCarriedOrder(&stats, order, period, logger)
		}
	}

	for _, expense := range expenses {
		if expense.At.IsZero() {
			stats.SkippedRecords++
			logger.Warn("expense skipped: missing timestamp", zap.String("expense_id", expense.ID))
			continue
		}
		if !period.Contains(expense.At) {
			continue
		}
		switch expense.Source {
		case domain.ExpenseSourceMomo:
			stats.MiscMomoExpenses = stats.MiscMomoExpenses.Add(expense.Amount)
		default:
			stats.MiscCashExpenses = stats.MiscCashExpenses.Add(expense.Amount)
		}
	}

	stats.AllTimeUnpaidOrdersValue = stats.TodayUnpaidOrdersValue.Add(stats.PreviousUnpaidOrdersValue)
	stats.PreviousDaysChangeGiven = stats.PreviousDaysChangeGivenFromSales
	stats.NetRevenue = stats.CashSales.Add(stats.MomoSales).
		Sub(stats.MiscCashExpenses.Add(stats.MiscMomoExpenses)).
		Sub(stats.TotalRewardDiscount)

	sort.Strings(stats.OrderIDs)
	sort.Strings(stats.ActivityOrderIDs)
	return stats
}

func addCurrentOrder(stats *domain.PeriodStats, order domain.Order, period domain.Period, logger *zap.Logger) {
	stats.OrderIDs = append(stats.OrderIDs, order.ID)
	stats.ActivityOrderIDs = append(stats.ActivityOrderIDs, order.ID)

	if order.Status == domain.OrderStatusCompleted {
		stats.TotalSales = stats.TotalSales.Add(order.NetTotal())
		for _, item := range order.Items {
			stat := stats.ItemStats[item.Name]
			stat.Count += item.Quantity
			stat.TotalValue = stat.TotalValue.Add(item.Value())
			stats.ItemStats[item.Name] = stat
			stats.TotalItemsSold += item.Quantity
		}
	}
	stats.TotalPardonedAmount = stats.TotalPardonedAmount.Add(order.PardonedAmount)
	stats.TotalRewardDiscount = stats.TotalRewardDiscount.Add(order.RewardDiscount)

	cash, momo := tenderedInPeriod(stats, order, period, logger)
	recognizedMomo := decimal.Min(domain.MinZero(order.NetTotal()), momo)
	recognizedCash := decimal.Min(domain.MinZero(order.NetTotal().Sub(recognizedMomo)), cash)
	stats.CashSales = stats.CashSales.Add(recognizedCash)
	stats.MomoSales = stats.MomoSales.Add(recognizedMomo)

	switch {
	case order.BalanceDue.IsPositive():
		stats.TodayUnpaidOrdersValue = stats.TodayUnpaidOrdersValue.Add(order.BalanceDue)
	case order.BalanceDue.IsNegative():
		stats.ChangeOwedForPeriod = stats.ChangeOwedForPeriod.Add(order.BalanceDue.Neg())
	}
}

func addCarriedOrder(stats *domain.PeriodStats, order domain.Order, period domain.Period, logger *zap.Logger) {
	cash, momo := tenderedInPeriod(stats, order, period, logger)
	collected := cash.Add(momo)
	if collected.IsPositive() {
		stats.SettledUnpaidCash = stats.SettledUnpaidCash.Add(cash)
		stats.SettledUnpaidMomo = stats.SettledUnpaidMomo.Add(momo)
		stats.SettledUnpaidOrdersValue = stats.SettledUnpaidOrdersValue.Add(collected)
	}

	paidOut := decimal.Zero
	for _, event := range payment.ChangePayouts(order) {
		if event.At.IsZero() {
			stats.SkippedRecords++
			logger.Warn("change payout skipped: missing timestamp", zap.String("order_id", order.ID), zap.String("amount", event.Amount.String()))
			continue
		}
		if period.Contains(event.At) {
			paidOut = paidOut.Add(event.Amount)
		}
	}
	if paidOut.IsPositive() {
		if order.ChangeDeducted() {
			stats.PreviousDaysChangeGivenFromSetAside = stats.PreviousDaysChangeGivenFromSetAside.Add(paidOut)
		} else {
			stats.PreviousDaysChangeGivenFromSales = stats.PreviousDaysChangeGivenFromSales.Add(paidOut)
		}
	}

	if collected.IsPositive() || paidOut.IsPositive() {
		stats.ActivityOrderIDs = append(stats.ActivityOrderIDs, order.ID)
	}

	switch order.PaymentStatus {
	case domain.PaymentStatusUnpaid, domain.PaymentStatusPartiallyPaid:
		if order.BalanceDue.IsPositive() {
			stats.PreviousUnpaidOrdersValue = stats.PreviousUnpaidOrdersValue.Add(order.BalanceDue)
		}
	}
}

// tenderedInPeriod sums the order's payments that fall inside the period,
// split into the cash and momo till buckets. Payments without a timestamp
// count as skipped records.
func tenderedInPeriod(stats *domain.PeriodStats, order domain.Order, period domain.Period, logger *zap.Logger) (cash, momo decimal.Decimal) {
	for _, event := range payment.Payments(order) {
		if event.At.IsZero() {
			stats.SkippedRecords++
			logger.Warn("payment skipped: missing timestamp", zap.String("order_id", order.ID), zap.String("amount", event.Amount.String()))
			continue
		}
		if !period.Contains(event.At) {
			continue
		}
		switch payment.Tender(event.Method) {
		case payment.TenderCash:
			cash = cash.Add(event.Amount)
		case payment.TenderMomo:
			momo = momo.Add(event.Amount)
		}
	}
	return cash, momo
}

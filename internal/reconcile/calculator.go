package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

// Reconcile compares the physical count with the figures expected from the
// period statistics. When deductCustomerChange is set, cash put aside for
// change owed on the period's orders is taken out of the counted pool.
func Reconcile(stats domain.PeriodStats, count CashCount, momoEntries []decimal.Decimal, deductCustomerChange bool) (domain.ReconciliationResult, error) {
	if err := count.Validate(); err != nil {
		return domain.ReconciliationResult{}, err
	}
	if err := ValidateMomoEntries(momoEntries); err != nil {
		return domain.ReconciliationResult{}, err
	}

	countedMomo := decimal.Zero
	for _, entry := range momoEntries {
		countedMomo = countedMomo.Add(entry)
	}

	result := domain.ReconciliationResult{
		TotalCountedCash: count.Total(),
		TotalCountedMomo: countedMomo,
		ExpectedCash: stats.CashSales.
			Add(stats.SettledUnpaidCash).
			Sub(stats.MiscCashExpenses).
			Sub(stats.PreviousDaysChangeGiven),
		ExpectedMomo: stats.MomoSales.
			Add(stats.SettledUnpaidMomo).
			Sub(stats.MiscMomoExpenses),
	}
	if deductCustomerChange {
		result.ChangeDeducted = stats.ChangeOwedForPeriod
	}
	result.AvailableCash = result.TotalCountedCash.Sub(result.ChangeDeducted)

	result.CashDiscrepancy = result.AvailableCash.Sub(result.ExpectedCash)
	result.MomoDiscrepancy = result.TotalCountedMomo.Sub(result.ExpectedMomo)
	result.TotalDiscrepancy = result.CashDiscrepancy.Add(result.MomoDiscrepancy)
	result.CashStatus = domain.Classify(result.CashDiscrepancy)
	result.MomoStatus = domain.Classify(result.MomoDiscrepancy)
	result.TotalStatus = domain.Classify(result.TotalDiscrepancy)
	return result, nil
}

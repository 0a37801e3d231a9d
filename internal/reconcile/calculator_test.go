package reconcile

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

func TestReconcileCountsAndDeductsChange(t *testing.T) {
	stats := domain.PeriodStats{
		CashSales:           money("60"),
		MomoSales:           money("37.5"),
		ChangeOwedForPeriod: money("5"),
	}

	result, err := Reconcile(stats, CashCount{20: 3, 10: 1}, []decimal.Decimal{money("15"), money("22.5")}, true)
	require.NoError(t, err)

	assertMoney(t, "70", result.TotalCountedCash, "counted cash")
	assertMoney(t, "37.5", result.TotalCountedMomo, "counted momo")
	assertMoney(t, "5", result.ChangeDeducted, "change deducted")
	assertMoney(t, "65", result.AvailableCash, "available cash")
	assertMoney(t, "5", result.CashDiscrepancy, "cash discrepancy")
	assert.Equal(t, domain.StatusSurplus, result.CashStatus)
	assert.Equal(t, domain.StatusBalanced, result.MomoStatus)

	kept, err := Reconcile(stats, CashCount{20: 3, 10: 1}, nil, false)
	require.NoError(t, err)
	assertMoney(t, "70", kept.AvailableCash, "available cash without deduction")
	assertMoney(t, "0", kept.ChangeDeducted, "change deducted")
}

func TestReconcileExpectedFigures(t *testing.T) {
	stats := domain.PeriodStats{
		CashSales:               money("300"),
		MomoSales:               money("120"),
		SettledUnpaidCash:       money("50"),
		SettledUnpaidMomo:       money("30"),
		MiscCashExpenses:        money("25"),
		MiscMomoExpenses:        money("10"),
		PreviousDaysChangeGiven: money("5"),
	}

	result, err := Reconcile(stats, CashCount{200: 1, 100: 1, 10: 2}, []decimal.Decimal{money("140")}, false)
	require.NoError(t, err)

	assertMoney(t, "320", result.ExpectedCash, "expected cash")
	assertMoney(t, "140", result.ExpectedMomo, "expected momo")
	assertMoney(t, "460", result.TotalExpected(), "total expected")
	assertMoney(t, "460", result.TotalCounted(), "total counted")
	assert.Equal(t, domain.StatusBalanced, result.TotalStatus)
}

func TestReconcileDiscrepancyBoundary(t *testing.T) {
	tests := []struct {
		name     string
		momo     string
		expected string
	}{
		{name: "within tolerance over", momo: "100.009", expected: domain.StatusBalanced},
		{name: "within tolerance under", momo: "99.991", expected: domain.StatusBalanced},
		{name: "surplus", momo: "100.011", expected: domain.StatusSurplus},
		{name: "deficit", momo: "99.989", expected: domain.StatusDeficit},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stats := domain.PeriodStats{MomoSales: money("100")}
			result, err := Reconcile(stats, nil, []decimal.Decimal{money(tc.momo)}, false)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result.MomoStatus)
		})
	}
}

func TestReconcileRejectsInvalidCounts(t *testing.T) {
	_, err := Reconcile(domain.PeriodStats{}, CashCount{3: 1}, nil, false)
	assert.True(t, errors.Is(err, ErrInvalidCount))

	_, err = Reconcile(domain.PeriodStats{}, CashCount{10: -1}, nil, false)
	assert.True(t, errors.Is(err, ErrInvalidCount))

	_, err = Reconcile(domain.PeriodStats{}, CashCount{200: MaxQuantity + 1}, nil, false)
	assert.True(t, errors.Is(err, ErrInvalidCount))

	_, err = Reconcile(domain.PeriodStats{}, nil, []decimal.Decimal{money("0")}, false)
	assert.True(t, errors.Is(err, ErrInvalidCount))
}

func TestParseCashCount(t *testing.T) {
	count, err := ParseCashCount(map[string]string{"20": "3", "10": " 1 ", "5": ""})
	require.NoError(t, err)
	assert.Equal(t, CashCount{20: 3, 10: 1}, count)
	assert.Equal(t, []int{20, 10}, count.Keys())
	assertMoney(t, "70", count.Total(), "total")

	for name, raw := range map[string]map[string]string{
		"not a number":        {"20": "three"},
		"fractional quantity": {"20": "1.5"},
		"negative":            {"50": "-2"},
		"unknown note":        {"25": "1"},
		"overflowing count":   {"200": "46116860184273880"},
		"above limit":         {"200": "1000001"},
		"limit split by keys": {"200": "600000", " 200": "600000"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCashCount(raw)
			assert.ErrorIs(t, err, ErrInvalidCount)
		})
	}

	count, err = ParseCashCount(map[string]string{"200": "1000000"})
	require.NoError(t, err)
	assertMoney(t, "200000000", count.Total(), "total at limit")
}

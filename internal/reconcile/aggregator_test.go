package reconcile

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

var accra = time.FixedZone("GMT", 0)

func testPeriod(t *testing.T) domain.Period {
	t.Helper()
	period, err := domain.ParsePeriod("2024-03-10", accra)
	require.NoError(t, err)
	return period
}

func at(hour int) time.Time {
	return time.Date(2024, 3, 10, hour, 0, 0, 0, accra)
}

func yesterday(hour int) time.Time {
	return time.Date(2024, 3, 9, hour, 0, 0, 0, accra)
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, money(want).Equal(got), "%s: expected %s, got %s", field, want, got)
}

func paidOrder(id string, total string, method string, paid string, when time.Time) domain.Order {
	order := domain.Order{
		ID:            id,
		Status:        domain.OrderStatusCompleted,
		Total:         money(total),
		SchemaVersion: domain.CurrentSchemaVersion,
		CreatedAt:     when,
		BalanceDue:    money(total),
		PaymentMethod: method,
		Items:         []domain.LineItem{{Name: "Jollof", UnitPrice: money(total), Quantity: 1}},
	}
	if money(paid).IsPositive() {
		order.AddPayment(domain.PaymentEvent{Amount: money(paid), Method: method, At: when})
	}
	order.DerivePaymentStatus()
	return order
}

func TestAggregateSameDayCashSale(t *testing.T) {
	period := testPeriod(t)
	order := paidOrder("o-1", "100", domain.PaymentMethodCash, "100", at(9))

	stats := Aggregate([]domain.Order{order}, nil, period, zap.NewNop())

	assertMoney(t, "100", stats.TotalSales, "total sales")
	assertMoney(t, "100", stats.CashSales, "cash sales")
	assertMoney(t, "0", stats.MomoSales, "momo sales")
	assertMoney(t, "0", order.BalanceDue, "balance due")
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, 1, stats.TotalItemsSold)
	assert.Equal(t, []string{"o-1"}, stats.OrderIDs)
}

func TestAggregateCollectsCarriedDebt(t *testing.T) {
	period := testPeriod(t)
	order := paidOrder("o-1", "50", domain.PaymentMethodUnpaid, "0", yesterday(18))
	order.AddPayment(domain.PaymentEvent{Amount: money("50"), Method: domain.PaymentMethodCash, At: at(10)})
	order.DerivePaymentStatus()

	stats := Aggregate([]domain.Order{order}, nil, period, nil)

	assertMoney(t, "50", stats.SettledUnpaidCash, "settled cash")
	assertMoney(t, "50", stats.SettledUnpaidOrdersValue, "settled value")
	assertMoney(t, "0", stats.PreviousUnpaidOrdersValue, "previous unpaid")
	assertMoney(t, "0", stats.CashSales, "cash sales")
	assert.Empty(t, stats.OrderIDs)
	assert.Equal(t, []string{"o-1"}, stats.ActivityOrderIDs)

	result, err := Reconcile(stats, CashCount{50: 1}, nil, false)
	require.NoError(t, err)
	assertMoney(t, "50", result.ExpectedCash, "expected cash")
	assert.Equal(t, domain.StatusBalanced, result.CashStatus)
}

func TestAggregateCapsOverpaymentAtNetTotal(t *testing.T) {
	period := testPeriod(t)
	order := paidOrder("o-1", "20", domain.PaymentMethodCash, "25", at(12))

	stats := Aggregate([]domain.Order{order}, nil, period, nil)

	assertMoney(t, "-5", order.BalanceDue, "balance due")
	assertMoney(t, "5", stats.ChangeOwedForPeriod, "change owed")
	assertMoney(t, "20", stats.CashSales, "cash sales")
}

func TestAggregateSplitTenderNeverExceedsNetTotal(t *testing.T) {
	period := testPeriod(t)
	order := paidOrder("o-1", "60", domain.PaymentMethodSplit, "0", at(12))
	order.RewardDiscount = money("10")
	order.BalanceDue = money("50")
	order.AddPayment(domain.PaymentEvent{Amount: money("30"), Method: domain.PaymentMethodMomo, At: at(12)})
	order.AddPayment(domain.PaymentEvent{Amount: money("40"), Method: domain.PaymentMethodCash, At: at(12)})
	require.True(t, order.CheckBalance())

	stats := Aggregate([]domain.Order{order}, nil, period, nil)

	assertMoney(t, "30", stats.MomoSales, "momo sales")
	assertMoney(t, "20", stats.CashSales, "cash sales")
	assert.True(t, stats.CashSales.Add(stats.MomoSales).LessThanOrEqual(order.NetTotal()))
	assertMoney(t, "50", stats.TotalSales, "total sales")
	assertMoney(t, "10", stats.TotalRewardDiscount, "reward discount")
	assertMoney(t, "40", stats.NetRevenue, "net revenue")
}

func TestAggregateCardCountsAsMomo(t *testing.T) {
	period := testPeriod(t)
	order := paidOrder("o-1", "35", domain.PaymentMethodCard, "35", at(13))

	stats := Aggregate([]domain.Order{order}, nil, period, nil)

	assertMoney(t, "35", stats.MomoSales, "momo sales")
	assertMoney(t, "0", stats.CashSales, "cash sales")
}

func TestAggregatePreviousDaysChangeRespectsClosureAnnotation(t *testing.T) {
	period := testPeriod(t)
	deducted, kept := true, false

	fromSetAside := paidOrder("o-1", "20", domain.PaymentMethodCash, "25", yesterday(12))
	fromSetAside.ChangeSetAside = &deducted
	fromSetAside.ChangeHistory = []domain.ChangeEvent{{Amount: money("5"), At: at(9)}}

	fromSales := paidOrder("o-2", "30", domain.PaymentMethodCash, "40", yesterday(13))
	fromSales.ChangeSetAside = &kept
	fromSales.ChangeHistory = []domain.ChangeEvent{{Amount: money("10"), At: at(10)}}

	stats := Aggregate([]domain.Order{fromSetAside, fromSales}, nil, period, nil)

	assertMoney(t, "5", stats.PreviousDaysChangeGivenFromSetAside, "from set aside")
	assertMoney(t, "10", stats.PreviousDaysChangeGivenFromSales, "from sales")
	assertMoney(t, "10", stats.PreviousDaysChangeGiven, "previous days change")
	assert.Equal(t, []string{"o-1", "o-2"}, stats.ActivityOrderIDs)
}

func TestAggregateLegacyShapes(t *testing.T) {
	period := testPeriod(t)
	lastPaid := at(11)
	settled := at(11)

	sameDay := domain.Order{
		ID:            "legacy-1",
		Status:        domain.OrderStatusCompleted,
		SchemaVersion: 1,
		Total:         money("40"),
		AmountPaid:    money("50"),
		ChangeGiven:   money("10"),
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPaid,
		CreatedAt:     at(8),
	}
	breakdown := domain.Order{
		ID:               "legacy-2",
		Status:           domain.OrderStatusCompleted,
		SchemaVersion:    1,
		Total:            money("70"),
		AmountPaid:       money("70"),
		PaymentMethod:    domain.PaymentMethodSplit,
		PaymentStatus:    domain.PaymentStatusPaid,
		PaymentBreakdown: &domain.PaymentBreakdown{Cash: money("30"), Momo: money("40")},
		CreatedAt:        at(9),
	}
	collected := domain.Order{
		ID:                "legacy-3",
		Status:            domain.OrderStatusCompleted,
		SchemaVersion:     1,
		Total:             money("60"),
		AmountPaid:        money("60"),
		PaymentMethod:     domain.PaymentMethodMomo,
		PaymentStatus:     domain.PaymentStatusPaid,
		LastPaymentAmount: money("25"),
		LastPaymentAt:     &lastPaid,
		CreatedAt:         yesterday(15),
	}
	changePaid := domain.Order{
		ID:             "legacy-4",
		Status:         domain.OrderStatusCompleted,
		SchemaVersion:  1,
		Total:          money("15"),
		AmountPaid:     money("20"),
		ChangeGiven:    money("5"),
		PardonedAmount: money("1"),
		PaymentMethod:  domain.PaymentMethodCash,
		PaymentStatus:  domain.PaymentStatusPaid,
		SettledOn:      &settled,
		CreatedAt:      yesterday(16),
	}

	stats := Aggregate([]domain.Order{sameDay, breakdown, collected, changePaid}, nil, period, nil)

	assertMoney(t, "70", stats.CashSales, "cash sales")
	assertMoney(t, "40", stats.MomoSales, "momo sales")
	assertMoney(t, "25", stats.SettledUnpaidMomo, "settled momo")
	assertMoney(t, "0", stats.SettledUnpaidCash, "settled cash")
	assertMoney(t, "4", stats.PreviousDaysChangeGiven, "previous days change")
}

func TestAggregateSkipsRecordsWithoutTimestamps(t *testing.T) {
	period := testPeriod(t)
	orders := []domain.Order{
		paidOrder("o-1", "10", domain.PaymentMethodCash, "10", at(9)),
		{ID: "broken", Total: money("99"), Status: domain.OrderStatusCompleted},
	}
	expenses := []domain.MiscExpense{
		{ID: "e-1", Amount: money("3"), Source: domain.ExpenseSourceCash, At: at(10)},
		{ID: "e-2", Amount: money("4"), Source: domain.ExpenseSourceMomo, At: at(11)},
		{ID: "e-3", Amount: money("8"), Source: domain.ExpenseSourceCash},
		{ID: "e-4", Amount: money("9"), Source: domain.ExpenseSourceCash, At: yesterday(10)},
	}

	stats := Aggregate(orders, expenses, period, nil)

	assert.Equal(t, 2, stats.SkippedRecords)
	assertMoney(t, "10", stats.TotalSales, "total sales")
	assertMoney(t, "3", stats.MiscCashExpenses, "misc cash")
	assertMoney(t, "4", stats.MiscMomoExpenses, "misc momo")
	assertMoney(t, "3", stats.NetRevenue, "net revenue")
}

func TestAggregateSkipsEventsWithoutTimestamps(t *testing.T) {
	period := testPeriod(t)
	current := paidOrder("o-1", "20", domain.PaymentMethodCash, "20", at(9))
	current.PaymentHistory = append(current.PaymentHistory, domain.PaymentEvent{Amount: money("5"), Method: domain.PaymentMethodCash})
	carried := paidOrder("o-2", "10", domain.PaymentMethodCash, "15", yesterday(9))
	carried.ChangeHistory = []domain.ChangeEvent{{Amount: money("5")}}

	core, logs := observer.New(zapcore.WarnLevel)
	stats := Aggregate([]domain.Order{current, carried}, nil, period, zap.New(core))

	assert.Equal(t, 2, stats.SkippedRecords)
	assertMoney(t, "20", stats.CashSales, "cash sales")
	assertMoney(t, "0", stats.PreviousDaysChangeGiven, "previous days change")
	assert.Equal(t, 1, logs.FilterMessage("payment skipped: missing timestamp").Len())
	assert.Equal(t, 1, logs.FilterMessage("change payout skipped: missing timestamp").Len())
}

func TestAggregateUnpaidCarryover(t *testing.T) {
	period := testPeriod(t)
	old := paidOrder("o-1", "80", domain.PaymentMethodCash, "30", yesterday(10))
	today := paidOrder("o-2", "45", domain.PaymentMethodUnpaid, "0", at(14))
	tomorrow := paidOrder("o-3", "500", domain.PaymentMethodUnpaid, "0", at(23).Add(2*time.Hour))

	stats := Aggregate([]domain.Order{old, today, tomorrow}, nil, period, nil)

	assertMoney(t, "50", stats.PreviousUnpaidOrdersValue, "previous unpaid")
	assertMoney(t, "45", stats.TodayUnpaidOrdersValue, "today unpaid")
	assertMoney(t, "95", stats.AllTimeUnpaidOrdersValue, "all time unpaid")
	assert.Equal(t, []string{"o-2"}, stats.OrderIDs)
}

func TestAggregateIsIndependentOfInputOrder(t *testing.T) {
	period := testPeriod(t)
	orders := []domain.Order{
		paidOrder("o-1", "100", domain.PaymentMethodCash, "100", at(9)),
		paidOrder("o-2", "20", domain.PaymentMethodCash, "25", at(10)),
		paidOrder("o-3", "33.33", domain.PaymentMethodMomo, "33.33", at(11)),
		paidOrder("o-4", "50", domain.PaymentMethodUnpaid, "0", yesterday(9)),
		paidOrder("o-5", "12.5", domain.PaymentMethodCard, "12.5", at(15)),
	}
	expenses := []domain.MiscExpense{
		{ID: "e-1", Amount: money("2.5"), Source: domain.ExpenseSourceCash, At: at(12)},
		{ID: "e-2", Amount: money("7"), Source: domain.ExpenseSourceMomo, At: at(13)},
	}

	want := snapshot(t, Aggregate(orders, expenses, period, nil))
	assert.JSONEq(t, want, snapshot(t, Aggregate(orders, expenses, period, nil)))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := append([]domain.Order(nil), orders...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.JSONEq(t, want, snapshot(t, Aggregate(shuffled, expenses, period, nil)))
	}
}

func snapshot(t *testing.T, stats domain.PeriodStats) string {
	t.Helper()
	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	return string(raw)
}

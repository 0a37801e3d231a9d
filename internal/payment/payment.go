// Package payment turns both stored payment shapes into one stream of
// payment and change events. Records written by this service carry a
// normalized event list; older records only carry a single method with a
// cumulative amount, or a cash/momo breakdown.
package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

const (
	TenderCash = "cash"
	TenderMomo = "momo"
)

// Ledger exposes an order's payments and change payouts independent of how
// they were stored.
type Ledger interface {
	Payments(order domain.Order) []domain.PaymentEvent
	ChangePayouts(order domain.Order) []domain.ChangeEvent
}

// For picks the adapter matching the order's schema.
func For(order domain.Order) Ledger {
	if order.SchemaVersion >= domain.CurrentSchemaVersion || len(order.PaymentHistory) > 0 {
		return Normalized{}
	}
	return Legacy{}
}

// Upgrade rewrites a legacy order's payments and change payouts as event
// lists and moves it to the current schema. It reports whether anything
// changed; current orders are left alone.
func Upgrade(order *domain.Order) bool {
	if _, legacy := For(*order).(Legacy); !legacy {
		return false
	}
	payments := Legacy{}.Payments(*order)
	payouts := Legacy{}.ChangePayouts(*order)
	order.PaymentHistory = payments
	order.ChangeHistory = append(payouts, order.ChangeHistory...)
	order.SchemaVersion = domain.CurrentSchemaVersion
	return true
}

func Payments(order domain.Order) []domain.PaymentEvent {
	return For(order).Payments(order)
}

func ChangePayouts(order domain.Order) []domain.ChangeEvent {
	return For(order).ChangePayouts(order)
}

// Tender maps a stored payment method to the till bucket it is reconciled
// against. Card settles electronically with momo; credit transfers move
// change that is held as cash. Unknown methods return "".
func Tender(method string) string {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCredit:
		return TenderCash
	case domain.PaymentMethodMomo, domain.PaymentMethodCard:
		return TenderMomo
	default:
		return ""
	}
}

type Normalized struct{}

func (Normalized) Payments(order domain.Order) []domain.PaymentEvent {
	events := make([]domain.PaymentEvent, 0, len(order.PaymentHistory))
	for _, event := range order.PaymentHistory {
		if !event.Amount.IsPositive() {
			continue
		}
		events = append(events, event)
	}
	return events
}

func (Normalized) ChangePayouts(order domain.Order) []domain.ChangeEvent {
	events := make([]domain.ChangeEvent, 0, len(order.ChangeHistory))
	for _, event := range order.ChangeHistory {
		if !event.Amount.IsPositive() {
			continue
		}
		events = append(events, event)
	}
	return events
}

// Legacy reconstructs events from cumulative fields. The most recent payment
// (LastPaymentAmount at LastPaymentAt) is split off so that a debt collected
// on a later day is attributed to that day.
type Legacy struct{}

func (Legacy) Payments(order domain.Order) []domain.PaymentEvent {
	buckets := legacyBuckets(order)
	if len(buckets) == 0 {
		return nil
	}

	// Without a known last amount the cumulative total stays at creation
	// time rather than being guessed onto a later day.
	events := make([]domain.PaymentEvent, 0, 3)
	last := order.LastPaymentAmount
	if order.LastPaymentAt != nil && last.IsPositive() && !order.LastPaymentAt.Equal(order.CreatedAt) {
		paidAt := *order.LastPaymentAt
		method := inferLastMethod(order, buckets, last)
		if method != "" {
			taken := decimal.Min(last, buckets[method])
			buckets[method] = buckets[method].Sub(taken)
			last = taken
		}
		events = append(events, bucketEvents(buckets, order.CreatedAt)...)
		if last.IsPositive() {
			events = append(events, domain.PaymentEvent{Amount: last, Method: method, At: paidAt})
		}
		return events
	}

	return bucketEvents(buckets, order.CreatedAt)
}

func (Legacy) ChangePayouts(order domain.Order) []domain.ChangeEvent {
	if order.SettledOn == nil {
		return nil
	}
	amount := order.ChangeGiven.Sub(order.PardonedAmount)
	if !amount.IsPositive() {
		return nil
	}
	return []domain.ChangeEvent{{Amount: amount, At: *order.SettledOn}}
}

var bucketOrder = []string{domain.PaymentMethodCash, domain.PaymentMethodMomo, domain.PaymentMethodCard}

func legacyBuckets(order domain.Order) map[string]decimal.Decimal {
	buckets := map[string]decimal.Decimal{}
	if order.PaymentBreakdown != nil {
		if order.PaymentBreakdown.Cash.IsPositive() {
			buckets[domain.PaymentMethodCash] = order.PaymentBreakdown.Cash
		}
		if order.PaymentBreakdown.Momo.IsPositive() {
			buckets[domain.PaymentMethodMomo] = order.PaymentBreakdown.Momo
		}
		return buckets
	}

	switch order.PaymentMethod {
	case domain.PaymentMethodCash, domain.PaymentMethodMomo, domain.PaymentMethodCard:
		net := order.AmountPaid.Sub(order.ChangeGiven)
		if net.IsPositive() {
			buckets[order.PaymentMethod] = net
		}
	}
	return buckets
}

func inferLastMethod(order domain.Order, buckets map[string]decimal.Decimal, last decimal.Decimal) string {
	if len(buckets) == 1 {
		for method := range buckets {
			return method
		}
	}
	switch order.PaymentMethod {
	case domain.PaymentMethodCash, domain.PaymentMethodMomo, domain.PaymentMethodCard:
		if _, ok := buckets[order.PaymentMethod]; ok {
			return order.PaymentMethod
		}
	}
	for _, method := range bucketOrder {
		amount, ok := buckets[method]
		if ok && domain.WithinEpsilon(amount, last) {
			return method
		}
	}
	return ""
}

func bucketEvents(buckets map[string]decimal.Decimal, at time.Time) []domain.PaymentEvent {
	events := make([]domain.PaymentEvent, 0, len(buckets))
	for _, method := range bucketOrder {
		amount, ok := buckets[method]
		if !ok || !amount.IsPositive() {
			continue
		}
		events = append(events, domain.PaymentEvent{Amount: amount, Method: method, At: at})
	}
	return events
}

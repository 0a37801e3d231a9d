package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/payment"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/store"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/xid"
)

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// RecordOrder ingests a sale from the point of sale together with its first
// payment, if any.
func (s *Service) RecordOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	if len(req.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order needs at least one item", store.ErrInvalidTransaction)
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" || item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return domain.Order{}, fmt.Errorf("%w: invalid line item %q", store.ErrInvalidTransaction, item.Name)
		}
	}
	if req.RewardDiscount.IsNegative() || req.AmountPaid.IsNegative() || req.ChangeGiven.IsNegative() {
		return domain.Order{}, fmt.Errorf("%w: amounts must not be negative", store.ErrInvalidTransaction)
	}

	actor, _ := ActorFromContext(ctx)
	now := s.now()
	order := domain.Order{
		ID:             xid.New("order"),
		SimplifiedID:   strings.TrimSpace(req.SimplifiedID),
		Tag:            strings.TrimSpace(req.Tag),
		OrderType:      strings.TrimSpace(req.OrderType),
		Notes:          strings.TrimSpace(req.Notes),
		CashierID:      actor.Username,
		CashierName:    actor.Name,
		Items:          req.Items,
		RewardDiscount: req.RewardDiscount,
		CreatedAt:      now,
	}
	order.Normalize()
	if order.SimplifiedID == "" {
		order.SimplifiedID = simplifiedID(order.ID)
	}
	if order.RewardDiscount.GreaterThan(order.Total) {
		return domain.Order{}, fmt.Errorf("%w: reward discount exceeds total", store.ErrInvalidTransaction)
	}
	order.BalanceDue = order.NetTotal()

	if req.AmountPaid.IsPositive() {
		method, err := singleTender(req.PaymentMethod)
		if err != nil {
			return domain.Order{}, err
		}
		order.AddPayment(domain.PaymentEvent{Amount: req.AmountPaid, Method: method, At: now})
		order.PaymentMethod = method
	}
	if err := giveChange(&order, req.ChangeGiven, now); err != nil {
		return domain.Order{}, err
	}
	if req.PardonDeficit {
		if err := s.pardon(&order, req.ManagerPIN); err != nil {
			return domain.Order{}, err
		}
	}
	settle(&order, now)

	saved, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	s.afterChange(ctx, domain.ChangeKindOrder, saved.ID, saved.CreatedAt)
	s.logAudit(ctx, "order_record", "order", saved.ID, fmt.Sprintf("total=%s,paid=%s,method=%s",
		saved.Total.StringFixed(2), saved.AmountPaid.StringFixed(2), saved.PaymentMethod))
	return *saved, nil
}

func (s *Service) MarkCompleted(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	updated, err := s.updateOrders(ctx, []string{orderID}, func(orders map[string]*domain.Order) error {
		order := orders[orderID]
		if order.Status == domain.OrderStatusCompleted {
			return fmt.Errorf("%w: order already completed", store.ErrInvalidTransaction)
		}
		order.Status = domain.OrderStatusCompleted
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	order := updated[0]
	s.afterChange(ctx, domain.ChangeKindOrder, order.ID, order.CreatedAt)
	return order, nil
}

// QuickPay collects an outstanding balance. Any overpayment becomes change
// owed, less whatever change is handed over immediately.
func (s *Service) QuickPay(ctx context.Context, orderID string, req domain.QuickPayRequest) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	method, err := singleTender(req.Method)
	if err != nil {
		return domain.Order{}, err
	}
	if !req.Amount.IsPositive() || req.ChangeGiven.IsNegative() {
		return domain.Order{}, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidTransaction)
	}

	now := s.now()
	updated, err := s.updateOrders(ctx, []string{orderID}, func(orders map[string]*domain.Order) error {
		order := orders[orderID]
		if !order.BalanceDue.GreaterThan(domain.Epsilon) {
			return fmt.Errorf("%w: order has no balance due", store.ErrInvalidTransaction)
		}
		order.AddPayment(domain.PaymentEvent{Amount: req.Amount, Method: method, At: now})
		order.PaymentMethod = mergeMethod(order.PaymentMethod, method)
		if err := giveChange(order, req.ChangeGiven, now); err != nil {
			return err
		}
		settle(order, now)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	order := updated[0]
	s.afterChange(ctx, domain.ChangeKindOrder, order.ID, order.CreatedAt)
	s.logAudit(ctx, "order_pay", "order", order.ID, fmt.Sprintf("amount=%s,method=%s", req.Amount.StringFixed(2), method))
	return order, nil
}

// CombinedPayment settles several orders with one tender. Orders are paid
// smallest balance first, cash before momo; overpayment and handed-over
// change land on the last order.
func (s *Service) CombinedPayment(ctx context.Context, req domain.CombinedPaymentRequest) ([]domain.Order, error) {
	ids := dedupe(req.OrderIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no orders selected", store.ErrInvalidTransaction)
	}
	if req.Cash.IsNegative() || req.Momo.IsNegative() || req.ChangeGiven.IsNegative() {
		return nil, fmt.Errorf("%w: amounts must not be negative", store.ErrInvalidTransaction)
	}
	if !req.Cash.Add(req.Momo).IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidTransaction)
	}
	if req.PardonDeficit && !s.approve(req.ManagerPIN) {
		return nil, ErrManagerApproval
	}

	now := s.now()
	updated, err := s.updateOrders(ctx, ids, func(orders map[string]*domain.Order) error {
		sorted := sortByBalance(orders)
		for _, order := range sorted {
			if !order.BalanceDue.GreaterThan(domain.Epsilon) {
				return fmt.Errorf("%w: order %s has no balance due", store.ErrInvalidTransaction, order.ID)
			}
		}

		cashLeft, momoLeft := req.Cash, req.Momo
		for i, order := range sorted {
			last := i == len(sorted)-1
			due := order.BalanceDue

			cash := decimal.Min(cashLeft, due)
			if last {
				cash = cashLeft
			}
			if cash.IsPositive() {
				order.AddPayment(domain.PaymentEvent{Amount: cash, Method: domain.PaymentMethodCash, At: now})
				order.PaymentMethod = mergeMethod(order.PaymentMethod, domain.PaymentMethodCash)
				cashLeft = cashLeft.Sub(cash)
			}

			momo := decimal.Min(momoLeft, domain.MinZero(order.BalanceDue))
			if last {
				momo = momoLeft
			}
			if momo.IsPositive() {
				order.AddPayment(domain.PaymentEvent{Amount: momo, Method: domain.PaymentMethodMomo, At: now})
				order.PaymentMethod = mergeMethod(order.PaymentMethod, domain.PaymentMethodMomo)
				momoLeft = momoLeft.Sub(momo)
			}

			if last {
				if err := giveChange(order, req.ChangeGiven, now); err != nil {
					return err
				}
			}
			if req.PardonDeficit && order.BalanceDue.IsPositive() {
				order.PardonedAmount = order.PardonedAmount.Add(order.BalanceDue)
				order.BalanceDue = decimal.Zero
			}
			settle(order, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, domain.ChangeKindOrder, strings.Join(ids, ","), earliestCreated(updated, now))
	s.logAudit(ctx, "order_combined_pay", "order", strings.Join(ids, ","), fmt.Sprintf("cash=%s,momo=%s,pardon=%t",
		req.Cash.StringFixed(2), req.Momo.StringFixed(2), req.PardonDeficit))
	return updated, nil
}

// SettleChange hands change owed back to the customer.
func (s *Service) SettleChange(ctx context.Context, orderID string, req domain.SettleChangeRequest) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if !req.Amount.IsPositive() {
		return domain.Order{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidTransaction)
	}

	now := s.now()
	updated, err := s.updateOrders(ctx, []string{orderID}, func(orders map[string]*domain.Order) error {
		order := orders[orderID]
		if !order.BalanceDue.IsNegative() {
			return ErrNoCredit
		}
		if err := giveChange(order, req.Amount, now); err != nil {
			return err
		}
		settle(order, now)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	order := updated[0]
	s.afterChange(ctx, domain.ChangeKindOrder, order.ID, order.CreatedAt)
	s.logAudit(ctx, "order_settle_change", "order", order.ID, "amount="+req.Amount.StringFixed(2))
	return order, nil
}

// ApplyCredit redirects the change owed on source to the balances of the
// targets, smallest balance first. Credit that no target needs stays on the
// source as change still owed.
func (s *Service) ApplyCredit(ctx context.Context, sourceID string, targetIDs []string) (domain.CreditTransferResult, error) {
	sourceID = strings.TrimSpace(sourceID)
	targets := dedupe(targetIDs)
	if sourceID == "" || len(targets) == 0 {
		return domain.CreditTransferResult{}, fmt.Errorf("%w: source and at least one target are required", store.ErrInvalidTransaction)
	}
	if slices.Contains(targets, sourceID) {
		return domain.CreditTransferResult{}, fmt.Errorf("%w: an order cannot pay itself", store.ErrInvalidTransaction)
	}

	now := s.now()
	var result domain.CreditTransferResult
	ids := append([]string{sourceID}, targets...)
	updated, err := s.updateOrders(ctx, ids, func(orders map[string]*domain.Order) error {
		source := orders[sourceID]
		if !source.BalanceDue.IsNegative() {
			return ErrNoCredit
		}
		credit := source.BalanceDue.Neg()
		remaining := credit

		payees := make(map[string]*domain.Order, len(targets))
		for _, id := range targets {
			payees[id] = orders[id]
		}
		for _, target := range sortByBalance(payees) {
			if !remaining.IsPositive() {
				break
			}
			if !target.BalanceDue.IsPositive() {
				continue
			}
			applied := decimal.Min(remaining, target.BalanceDue)
			target.AddPayment(domain.PaymentEvent{
				Amount:        applied,
				Method:        domain.PaymentMethodCredit,
				At:            now,
				SourceOrderID: sourceID,
			})
			target.CreditNotes = append(target.CreditNotes, fmt.Sprintf("%s credit from %s", applied.StringFixed(2), sourceLabel(source)))
			settle(target, now)
			remaining = remaining.Sub(applied)
		}

		used := credit.Sub(remaining)
		if !used.IsPositive() {
			return fmt.Errorf("%w: no target has a balance due", store.ErrInvalidTransaction)
		}
		source.AmountPaid = source.AmountPaid.Sub(used)
		source.BalanceDue = remaining.Neg()
		source.PaymentStatus = domain.PaymentStatusPaid
		source.CreditNotes = append(source.CreditNotes, fmt.Sprintf("%s transferred to other orders", used.StringFixed(2)))
		if remaining.IsZero() && source.SettledOn == nil {
			settledOn := now
			source.SettledOn = &settledOn
		}

		result.Applied = used
		result.Leftover = remaining
		return nil
	})
	if err != nil {
		return domain.CreditTransferResult{}, err
	}

	result.Source = updated[0]
	result.Targets = updated[1:]
	slices.SortFunc(result.Targets, func(a, b domain.Order) int { return cmp.Compare(a.ID, b.ID) })

	s.afterChange(ctx, domain.ChangeKindOrder, sourceID, earliestCreated(updated, now))
	s.logAudit(ctx, "order_apply_credit", "order", sourceID, fmt.Sprintf("applied=%s,leftover=%s,targets=%s",
		result.Applied.StringFixed(2), result.Leftover.StringFixed(2), strings.Join(targets, ",")))
	return result, nil
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.MiscExpense, error) {
	purpose := strings.TrimSpace(req.Purpose)
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if purpose == "" || !req.Amount.IsPositive() {
		return domain.MiscExpense{}, fmt.Errorf("%w: purpose and a positive amount are required", store.ErrInvalidTransaction)
	}
	if source != domain.ExpenseSourceCash && source != domain.ExpenseSourceMomo {
		return domain.MiscExpense{}, fmt.Errorf("%w: expense source must be cash or momo", store.ErrInvalidTransaction)
	}

	actor, _ := ActorFromContext(ctx)
	saved, err := s.repo.CreateExpense(ctx, domain.MiscExpense{
		ID:          xid.New("expense"),
		Purpose:     purpose,
		Amount:      req.Amount,
		Source:      source,
		At:          s.now(),
		CashierID:   actor.Username,
		CashierName: actor.Name,
	})
	if err != nil {
		return domain.MiscExpense{}, err
	}
	s.afterChange(ctx, domain.ChangeKindExpense, saved.ID, saved.At)
	s.logAudit(ctx, "expense_record", "expense", saved.ID, fmt.Sprintf("amount=%s,source=%s", saved.Amount.StringFixed(2), source))
	return *saved, nil
}

func (s *Service) pardon(order *domain.Order, pin string) error {
	if !order.BalanceDue.IsPositive() {
		return nil
	}
	if !s.approve(pin) {
		return ErrManagerApproval
	}
	order.PardonedAmount = order.PardonedAmount.Add(order.BalanceDue)
	order.BalanceDue = decimal.Zero
	return nil
}

func (s *Service) approve(pin string) bool {
	return s.approver != nil && s.approver.ValidateManagerPIN(pin)
}

// updateOrders runs fn inside one atomic store update. Legacy orders are
// rewritten as event lists first so new events extend their history.
func (s *Service) updateOrders(ctx context.Context, ids []string, fn store.OrderMutation) ([]domain.Order, error) {
	return s.repo.UpdateOrders(ctx, ids, func(orders map[string]*domain.Order) error {
		for _, order := range orders {
			if payment.Upgrade(order) {
				s.logger.Debug("upgraded legacy order payments", zap.String("order_id", order.ID))
			}
		}
		return fn(orders)
	})
}

func earliestCreated(orders []domain.Order, fallback time.Time) time.Time {
	earliest := fallback
	for _, order := range orders {
		if !order.CreatedAt.IsZero() && order.CreatedAt.Before(earliest) {
			earliest = order.CreatedAt
		}
	}
	return earliest
}

// giveChange records change handed to the customer. It cannot exceed the
// change currently owed.
func giveChange(order *domain.Order, amount decimal.Decimal, at time.Time) error {
	if !amount.IsPositive() {
		return nil
	}
	if amount.Sub(order.ChangeOwed()).GreaterThanOrEqual(domain.Epsilon) {
		return fmt.Errorf("%w: change %s exceeds change owed %s", store.ErrInvalidTransaction,
			amount.StringFixed(2), order.ChangeOwed().StringFixed(2))
	}
	order.ChangeGiven = order.ChangeGiven.Add(amount)
	order.BalanceDue = order.BalanceDue.Add(amount)
	order.ChangeHistory = append(order.ChangeHistory, domain.ChangeEvent{Amount: amount, At: at})
	return nil
}

// settle derives the payment status and stamps SettledOn once nothing is
// owed either way.
func settle(order *domain.Order, at time.Time) {
	order.DerivePaymentStatus()
	if order.SettledOn == nil && order.BalanceDue.Abs().LessThan(domain.Epsilon) && order.AmountPaid.IsPositive() {
		settledOn := at
		order.SettledOn = &settledOn
	}
}

func singleTender(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodMomo, domain.PaymentMethodCard:
		return method, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, method)
	}
}

func mergeMethod(current string, added string) string {
	switch current {
	case "", domain.PaymentMethodUnpaid, added:
		return added
	default:
		return domain.PaymentMethodSplit
	}
}

func sortByBalance(orders map[string]*domain.Order) []*domain.Order {
	sorted := make([]*domain.Order, 0, len(orders))
	for _, order := range orders {
		sorted = append(sorted, order)
	}
	slices.SortFunc(sorted, func(a, b *domain.Order) int {
		if c := a.BalanceDue.Cmp(b.BalanceDue); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sorted
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func simplifiedID(id string) string {
	trimmed := strings.TrimPrefix(id, "order-")
	if len(trimmed) > 6 {
		trimmed = trimmed[:6]
	}
	return strings.ToUpper(trimmed)
}

func sourceLabel(order *domain.Order) string {
	if order.SimplifiedID != "" {
		return order.SimplifiedID
	}
	return order.ID
}

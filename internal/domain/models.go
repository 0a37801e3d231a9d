package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (i LineItem) Value() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// PaymentEvent is one tender received against an order. SourceOrderID is set
// when the amount was redirected from another order's change.
type PaymentEvent struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	At            time.Time       `json:"at"`
	SourceOrderID string          `json:"source_order_id,omitempty"`
}

// ChangeEvent is cash handed back to a customer against change owed.
type ChangeEvent struct {
	Amount decimal.Decimal `json:"amount"`
	At     time.Time       `json:"at"`
}

type PaymentBreakdown struct {
	Cash decimal.Decimal `json:"cash"`
	Momo decimal.Decimal `json:"momo"`
}

type Order struct {
	ID            string `json:"id"`
	SimplifiedID  string `json:"simplified_id"`
	Tag           string `json:"tag,omitempty"`
	OrderType     string `json:"order_type"`
	Status        string `json:"status"`
	CashierID     string `json:"cashier_id"`
	CashierName   string `json:"cashier_name"`
	Notes         string `json:"notes,omitempty"`
	SchemaVersion int    `json:"schema_version"`

	Items          []LineItem      `json:"items"`
	Total          decimal.Decimal `json:"total"`
	RewardDiscount decimal.Decimal `json:"reward_discount"`
	PardonedAmount decimal.Decimal `json:"pardoned_amount"`

	AmountPaid    decimal.Decimal `json:"amount_paid"`
	ChangeGiven   decimal.Decimal `json:"change_given"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`

	PaymentHistory []PaymentEvent `json:"payment_history,omitempty"`
	ChangeHistory  []ChangeEvent  `json:"change_history,omitempty"`

	// Legacy single-payment fields, read only for SchemaVersion 1 records.
	PaymentBreakdown  *PaymentBreakdown `json:"payment_breakdown,omitempty"`
	LastPaymentAmount decimal.Decimal   `json:"last_payment_amount"`

	CreatedAt     time.Time  `json:"created_at"`
	LastPaymentAt *time.Time `json:"last_payment_at,omitempty"`
	SettledOn     *time.Time `json:"settled_on,omitempty"`

	ChangeSetAside       *bool      `json:"change_set_aside,omitempty"`
	ChangeSetAsidePeriod string     `json:"change_set_aside_period,omitempty"`
	ChangeSetAsideAt     *time.Time `json:"change_set_aside_at,omitempty"`

	CreditNotes []string `json:"credit_notes,omitempty"`
}

// NetTotal is the amount the customer is expected to pay before any pardon.
func (o Order) NetTotal() decimal.Decimal {
	return o.Total.Sub(o.RewardDiscount)
}

// ExpectedBalance recomputes the balance from the payment fields.
func (o Order) ExpectedBalance() decimal.Decimal {
	return o.NetTotal().Sub(o.PardonedAmount).Sub(o.AmountPaid.Sub(o.ChangeGiven))
}

// CheckBalance reports whether BalanceDue agrees with the payment fields.
func (o Order) CheckBalance() bool {
	return WithinEpsilon(o.BalanceDue, o.ExpectedBalance())
}

func (o Order) ChangeOwed() decimal.Decimal {
	if o.BalanceDue.IsNegative() {
		return o.BalanceDue.Neg()
	}
	return decimal.Zero
}

// ChangeDeducted reports whether a closure set this order's change aside
// from the reconciled cash pool.
func (o Order) ChangeDeducted() bool {
	return o.ChangeSetAside != nil && *o.ChangeSetAside
}

// DerivePaymentStatus sets PaymentStatus from BalanceDue and AmountPaid.
func (o *Order) DerivePaymentStatus() {
	switch {
	case o.BalanceDue.LessThanOrEqual(Epsilon):
		o.PaymentStatus = PaymentStatusPaid
	case o.AmountPaid.GreaterThan(decimal.Zero):
		o.PaymentStatus = PaymentStatusPartiallyPaid
	default:
		o.PaymentStatus = PaymentStatusUnpaid
	}
}

func (o *Order) AddPayment(event PaymentEvent) {
	o.AmountPaid = o.AmountPaid.Add(event.Amount)
	o.BalanceDue = o.BalanceDue.Sub(event.Amount)
	o.PaymentHistory = append(o.PaymentHistory, event)
	at := event.At
	o.LastPaymentAt = &at
	o.LastPaymentAmount = event.Amount
}

// Normalize applies ingestion defaults once so calculations never see
// missing optional fields.
func (o *Order) Normalize() {
	if o.OrderType == "" {
		o.OrderType = OrderTypeDineIn
	}
	if o.Status == "" {
		o.Status = OrderStatusPending
	}
	if o.SchemaVersion == 0 {
		o.SchemaVersion = CurrentSchemaVersion
	}
	if o.PaymentMethod == "" {
		o.PaymentMethod = PaymentMethodUnpaid
	}
	if o.Total.IsZero() && len(o.Items) > 0 {
		total := decimal.Zero
		for _, item := range o.Items {
			total = total.Add(item.Value())
		}
		o.Total = total
	}
	if o.Items == nil {
		o.Items = []LineItem{}
	}
	if !o.CreatedAt.IsZero() {
		o.CreatedAt = o.CreatedAt.UTC()
	}
}

type MiscExpense struct {
	ID          string          `json:"id"`
	Purpose     string          `json:"purpose"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	At          time.Time       `json:"at"`
	CashierID   string          `json:"cashier_id"`
	CashierName string          `json:"cashier_name"`
}

type ItemStat struct {
	Count      int             `json:"count"`
	TotalValue decimal.Decimal `json:"total_value"`
}

type PeriodStats struct {
	Period      string    `json:"period"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalItemsSold   int             `json:"total_items_sold"`
	CashSales        decimal.Decimal `json:"cash_sales"`
	MomoSales        decimal.Decimal `json:"momo_sales"`
	MiscCashExpenses decimal.Decimal `json:"misc_cash_expenses"`
	MiscMomoExpenses decimal.Decimal `json:"misc_momo_expenses"`
	NetRevenue       decimal.Decimal `json:"net_revenue"`

	TodayUnpaidOrdersValue    decimal.Decimal `json:"today_unpaid_orders_value"`
	PreviousUnpaidOrdersValue decimal.Decimal `json:"previous_unpaid_orders_value"`
	AllTimeUnpaidOrdersValue  decimal.Decimal `json:"all_time_unpaid_orders_value"`

	TotalPardonedAmount decimal.Decimal `json:"total_pardoned_amount"`
	ChangeOwedForPeriod decimal.Decimal `json:"change_owed_for_period"`

	SettledUnpaidOrdersValue decimal.Decimal `json:"settled_unpaid_orders_value"`
	SettledUnpaidCash        decimal.Decimal `json:"settled_unpaid_cash"`
	SettledUnpaidMomo        decimal.Decimal `json:"settled_unpaid_momo"`

	PreviousDaysChangeGiven             decimal.Decimal `json:"previous_days_change_given"`
	PreviousDaysChangeGivenFromSales    decimal.Decimal `json:"previous_days_change_given_from_sales"`
	PreviousDaysChangeGivenFromSetAside decimal.Decimal `json:"previous_days_change_given_from_set_aside"`

	TotalRewardDiscount decimal.Decimal     `json:"total_reward_discount"`
	ItemStats           map[string]ItemStat `json:"item_stats"`

	OrderIDs         []string `json:"order_ids"`
	ActivityOrderIDs []string `json:"activity_order_ids"`
	SkippedRecords   int      `json:"skipped_records"`
}

type ReconciliationResult struct {
	TotalCountedCash decimal.Decimal `json:"total_counted_cash"`
	TotalCountedMomo decimal.Decimal `json:"total_counted_momo"`
	ExpectedCash     decimal.Decimal `json:"expected_cash"`
	ExpectedMomo     decimal.Decimal `json:"expected_momo"`
	AvailableCash    decimal.Decimal `json:"available_cash"`
	ChangeDeducted   decimal.Decimal `json:"change_deducted"`
	CashDiscrepancy  decimal.Decimal `json:"cash_discrepancy"`
	MomoDiscrepancy  decimal.Decimal `json:"momo_discrepancy"`
	TotalDiscrepancy decimal.Decimal `json:"total_discrepancy"`
	CashStatus       string          `json:"cash_status"`
	MomoStatus       string          `json:"momo_status"`
	TotalStatus      string          `json:"total_status"`
}

func (r ReconciliationResult) TotalExpected() decimal.Decimal {
	return r.ExpectedCash.Add(r.ExpectedMomo)
}

func (r ReconciliationResult) TotalCounted() decimal.Decimal {
	return r.TotalCountedCash.Add(r.TotalCountedMomo)
}

type ReconciliationReport struct {
	ID            string    `json:"id"`
	Period        string    `json:"period"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`

	TotalSales              decimal.Decimal `json:"total_sales"`
	CashSales               decimal.Decimal `json:"cash_sales"`
	MomoSales               decimal.Decimal `json:"momo_sales"`
	MiscCashExpenses        decimal.Decimal `json:"misc_cash_expenses"`
	MiscMomoExpenses        decimal.Decimal `json:"misc_momo_expenses"`
	SettledUnpaidCash       decimal.Decimal `json:"settled_unpaid_cash"`
	SettledUnpaidMomo       decimal.Decimal `json:"settled_unpaid_momo"`
	PreviousDaysChangeGiven decimal.Decimal `json:"previous_days_change_given"`
	ChangeOwedForPeriod     decimal.Decimal `json:"change_owed_for_period"`
	TotalRewardDiscount     decimal.Decimal `json:"total_reward_discount"`
	TotalPardonedAmount     decimal.Decimal `json:"total_pardoned_amount"`
	NetRevenue              decimal.Decimal `json:"net_revenue"`

	ExpectedCash         decimal.Decimal `json:"expected_cash"`
	ExpectedMomo         decimal.Decimal `json:"expected_momo"`
	TotalExpectedRevenue decimal.Decimal `json:"total_expected_revenue"`
	CountedCash          decimal.Decimal `json:"counted_cash"`
	CountedMomo          decimal.Decimal `json:"counted_momo"`
	TotalCountedRevenue  decimal.Decimal `json:"total_counted_revenue"`
	CashDiscrepancy      decimal.Decimal `json:"cash_discrepancy"`
	MomoDiscrepancy      decimal.Decimal `json:"momo_discrepancy"`
	TotalDiscrepancy     decimal.Decimal `json:"total_discrepancy"`
	Status               string          `json:"status"`

	Notes              string   `json:"notes"`
	OperatorID         string   `json:"operator_id"`
	OperatorName       string   `json:"operator_name"`
	ChangeOwedSetAside bool     `json:"change_owed_set_aside"`
	AnnotatedOrderIDs  []string `json:"annotated_order_ids"`
}

// ReportAdjustment corrects a closed period without touching its report.
type ReportAdjustment struct {
	ID         string          `json:"id"`
	Period     string          `json:"period"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	OperatorID string          `json:"operator_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// LedgerChange is published after every committed ledger mutation.
type LedgerChange struct {
	Kind     string    `json:"kind"`
	EntityID string    `json:"entity_id"`
	At       time.Time `json:"at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Name     string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	FullName  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const CurrentSchemaVersion = 2

const (
	OrderStatusPending   = "Pending"
	OrderStatusCompleted = "Completed"
)

const (
	OrderTypeDineIn   = "Dine-In"
	OrderTypeTakeout  = "Takeout"
	OrderTypeDelivery = "Delivery"
)

const (
	PaymentStatusPaid          = "Paid"
	PaymentStatusUnpaid        = "Unpaid"
	PaymentStatusPartiallyPaid = "Partially Paid"
)

const (
	PaymentMethodCash   = "cash"
	PaymentMethodMomo   = "momo"
	PaymentMethodCard   = "card"
	PaymentMethodSplit  = "split"
	PaymentMethodCredit = "credit"
	PaymentMethodUnpaid = "Unpaid"
)

const (
	ExpenseSourceCash = "cash"
	ExpenseSourceMomo = "momo"
)

const (
	StatusBalanced = "Balanced"
	StatusSurplus  = "Surplus"
	StatusDeficit  = "Deficit"
)

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
)

const (
	ChangeKindOrder   = "order"
	ChangeKindExpense = "expense"
	ChangeKindReport  = "report"
)

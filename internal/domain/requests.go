package domain

import "github.com/shopspring/decimal"

type OrderCreateRequest struct {
	SimplifiedID   string          `json:"simplified_id"`
	Tag            string          `json:"tag"`
	OrderType      string          `json:"order_type"`
	Notes          string          `json:"notes"`
	Items          []LineItem      `json:"items"`
	RewardDiscount decimal.Decimal `json:"reward_discount"`
	PaymentMethod  string          `json:"payment_method"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	PardonDeficit  bool            `json:"pardon_deficit"`
	ManagerPIN     string          `json:"manager_pin"`
}

type QuickPayRequest struct {
	Method      string          `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	ChangeGiven decimal.Decimal `json:"change_given"`
}

type CombinedPaymentRequest struct {
	OrderIDs      []string        `json:"order_ids"`
	Cash          decimal.Decimal `json:"cash"`
	Momo          decimal.Decimal `json:"momo"`
	ChangeGiven   decimal.Decimal `json:"change_given"`
	PardonDeficit bool            `json:"pardon_deficit"`
	ManagerPIN    string          `json:"manager_pin"`
}

type SettleChangeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type ApplyCreditRequest struct {
	TargetOrderIDs []string `json:"target_order_ids"`
}

// CreditTransferResult describes how one order's change was redirected.
type CreditTransferResult struct {
	Source   Order           `json:"source"`
	Targets  []Order         `json:"targets"`
	Applied  decimal.Decimal `json:"applied"`
	Leftover decimal.Decimal `json:"leftover"`
}

type ExpenseCreateRequest struct {
	Purpose string          `json:"purpose"`
	Amount  decimal.Decimal `json:"amount"`
	Source  string          `json:"source"`
}

// CountRequest is the operator's physical count. Denominations maps a note
// value to the quantity as typed by the operator.
type CountRequest struct {
	Denominations        map[string]string `json:"denominations"`
	MomoEntries          []decimal.Decimal `json:"momo_entries"`
	DeductCustomerChange bool              `json:"deduct_customer_change"`
	Notes                string            `json:"notes"`
}

type ReconciliationPreview struct {
	Stats  PeriodStats          `json:"stats"`
	Result ReconciliationResult `json:"result"`
}

type ReportAdjustmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type ReportDetail struct {
	Report      ReconciliationReport `json:"report"`
	Adjustments []ReportAdjustment   `json:"adjustments"`
}

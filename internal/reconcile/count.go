package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidCount = errors.New("invalid physical count")

// Denominations are the cash notes and coins an operator counts, largest first.
var Denominations = []int{200, 100, 50, 20, 10, 5, 2, 1}

// MaxQuantity bounds the notes or coins counted for one denomination.
const MaxQuantity = 1_000_000

// CashCount maps a denomination to the number of notes or coins counted.
type CashCount map[int]int

func (c CashCount) Total() decimal.Decimal {
	total := decimal.Zero
	for denomination, quantity := range c {
		total = total.Add(decimal.NewFromInt(int64(denomination)).Mul(decimal.NewFromInt(int64(quantity))))
	}
	return total
}

func (c CashCount) Validate() error {
	for denomination, quantity := range c {
		if !isDenomination(denomination) {
			return fmt.Errorf("%w: unknown denomination %d", ErrInvalidCount, denomination)
		}
		if quantity < 0 {
			return fmt.Errorf("%w: negative quantity for %d", ErrInvalidCount, denomination)
		}
		if quantity > MaxQuantity {
			return fmt.Errorf("%w: quantity for %d exceeds %d", ErrInvalidCount, denomination, MaxQuantity)
		}
	}
	return nil
}

// Keys returns the counted denominations in display order.
func (c CashCount) Keys() []int {
	keys := make([]int, 0, len(c))
	for denomination := range c {
		keys = append(keys, denomination)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))
	return keys
}

// ParseCashCount converts operator input keyed by denomination into a
// CashCount. Blank quantities count as zero.
func ParseCashCount(raw map[string]string) (CashCount, error) {
	count := make(CashCount, len(raw))
	for key, value := range raw {
		denomination, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || !isDenomination(denomination) {
			return nil, fmt.Errorf("%w: unknown denomination %q", ErrInvalidCount, key)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		quantity, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q for %d is not a whole number", ErrInvalidCount, value, denomination)
		}
		if quantity < 0 {
			return nil, fmt.Errorf("%w: negative quantity for %d", ErrInvalidCount, denomination)
		}
		if quantity > MaxQuantity-count[denomination] {
			return nil, fmt.Errorf("%w: quantity for %d exceeds %d", ErrInvalidCount, denomination, MaxQuantity)
		}
		count[denomination] += quantity
	}
	return count, nil
}

func ValidateMomoEntries(entries []decimal.Decimal) error {
	for i, entry := range entries {
		if !entry.IsPositive() {
			return fmt.Errorf("%w: momo entry %d must be positive", ErrInvalidCount, i+1)
		}
	}
	return nil
}

func isDenomination(value int) bool {
	for _, denomination := range Denominations {
		if denomination == value {
			return true
		}
	}
	return false
}

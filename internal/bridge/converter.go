// Package bridge handles the boundary between the external stablecoin
// settlement payments and ledger cents.
package bridge

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultExternalDecimals matches the settlement stablecoin (6 decimals).
const DefaultExternalDecimals = 6

// LedgerDecimals is fixed: ledger balances are integer cents.
const LedgerDecimals = 2

// Converter translates between the external payment's smallest unit and
// ledger cents with a fixed linear factor declared at configuration time.
type Converter struct {
	externalDecimals int32
}

func NewConverter(externalDecimals int) (*Converter, error) {
	if externalDecimals < LedgerDecimals || externalDecimals > 18 {
		return nil, fmt.Errorf("unsupported external decimals: %d", externalDecimals)
	}
	return &Converter{externalDecimals: int32(externalDecimals)}, nil
}

// ToLedgerCents converts an amount in the external token's smallest unit
// into ledger cents, truncating any sub-cent dust toward zero.
func (c *Converter) ToLedgerCents(externalAmount int64) int64 {
	return decimal.New(externalAmount, -c.externalDecimals).
		Shift(LedgerDecimals).
		IntPart()
}

// ToExternalUnits converts ledger cents into the external token's smallest
// unit. Exact: the ledger is always the coarser precision.
func (c *Converter) ToExternalUnits(cents int64) int64 {
	return decimal.New(cents, -LedgerDecimals).
		Shift(c.externalDecimals).
		IntPart()
}

// DebtInExternalUnits returns the external payment that would clear a
// (negative) ledger balance. Zero for non-negative balances.
func (c *Converter) DebtInExternalUnits(balance int64) int64 {
	if balance >= 0 {
		return 0
	}
	return c.ToExternalUnits(-balance)
}

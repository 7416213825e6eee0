package core_test

import (
	"errors"
	"testing"

	"GridLedger/internal/core"
	"GridLedger/internal/event"
	"GridLedger/internal/state"

	"github.com/google/uuid"
)

// indebtedCore builds the standard fixture and puts member b 16650 cents
// in debt: b consumes the whole 1000-unit pool, burning its own 667 free
// and buying a's 333 at price 50.
func indebtedCore(t *testing.T) (c *core.Core, a, b uuid.UUID) {
	t.Helper()
	c, a, b = twoMemberCore(t)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})
	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 2, Quantity: 1000})
	return c, a, b
}

func TestSettlement_PartialRepayment(t *testing.T) {
	c, _, b := indebtedCore(t)

	if err := settle(c, b, 100_000_000, 10000); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if got := c.CashCreditBalance(b); got != -6650 {
		t.Errorf("b balance: got %d, want -6650", got)
	}
	if got := c.SettledBalance(); got != -10000 {
		t.Errorf("settled aggregate: got %d, want -10000", got)
	}
	assertZeroSum(t, c)
}

func TestSettlement_FullRepayment(t *testing.T) {
	c, _, b := indebtedCore(t)

	if err := settle(c, b, 166_500_000, 16650); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if got := c.CashCreditBalance(b); got != 0 {
		t.Errorf("b balance: got %d, want 0", got)
	}
	// A cleared debtor holds no tokens either way.
	if got := c.TokenBalance(b); got != 0 {
		t.Errorf("b tokens: got %d, want 0", got)
	}
	assertZeroSum(t, c)
}

func TestSettlement_NoDebtRejected(t *testing.T) {
	c, a, _ := indebtedCore(t)

	// a is in credit, there is nothing to settle.
	if err := settle(c, a, 1_000_000, 100); !errors.Is(err, core.ErrNoDebt) {
		t.Errorf("got %v, want ErrNoDebt", err)
	}
}

func TestSettlement_ExceedingDebtRejected(t *testing.T) {
	c, _, b := indebtedCore(t)

	err := settle(c, b, 166_510_000, 16651)
	if !errors.Is(err, core.ErrSettlementExceedsDebt) {
		t.Fatalf("got %v, want ErrSettlementExceedsDebt", err)
	}
	if got := c.CashCreditBalance(b); got != -16650 {
		t.Errorf("b balance after rejection: got %d, want -16650", got)
	}
	if got := c.SettledBalance(); got != 0 {
		t.Errorf("settled aggregate after rejection: got %d, want 0", got)
	}
}

func TestSettlement_RejectsNonPositiveAmounts(t *testing.T) {
	c, _, b := indebtedCore(t)

	if err := settle(c, b, 1_000_000, 0); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero cents: got %v, want ErrInvalidAmount", err)
	}
	if err := settle(c, b, 0, 100); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero external amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestSettlement_UnknownDebtorRejected(t *testing.T) {
	c, _, _ := indebtedCore(t)

	err := settle(c, uuid.New(), 1_000_000, 100)
	if !errors.Is(err, state.ErrUnknownMember) {
		t.Errorf("got %v, want ErrUnknownMember", err)
	}
}

func TestSettlement_DebtIsNeverTokenized(t *testing.T) {
	c, _, b := indebtedCore(t)

	if got := c.TokenBalance(b); got != 0 {
		t.Fatalf("b tokens while in debt: got %d, want 0", got)
	}

	// Partial repayment leaves b in debt, still no tokens.
	if err := settle(c, b, 100_000_000, 10000); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := c.TokenBalance(b); got != 0 {
		t.Errorf("b tokens after partial settlement: got %d, want 0", got)
	}
}

package core_test

import (
	"errors"
	"testing"

	"GridLedger/internal/core"
	"GridLedger/internal/event"
	"GridLedger/internal/state"

	"github.com/google/uuid"
)

func setExportDevice(t *testing.T, c *core.Core, id uint64) {
	t.Helper()
	mustProcess(t, c, &event.ExportDeviceSet{
		RequestID: uuid.New(),
		DeviceID:  id,
		Sequence:  event.SourceSequenceNone,
		Timestamp: testTime,
	})
}

func setExportPrice(t *testing.T, c *core.Core, price int64) {
	t.Helper()
	mustProcess(t, c, &event.ExportPriceSet{
		RequestID: uuid.New(),
		Price:     price,
		Sequence:  event.SourceSequenceNone,
		Timestamp: testTime,
	})
}

// addCommunity registers a zero-share community member owning deviceID and
// designates it as the community device.
func addCommunity(t *testing.T, c *core.Core, deviceID uint64) uuid.UUID {
	t.Helper()
	community := uuid.New()
	addMember(t, c, community, []uint64{deviceID}, 0)
	mustProcess(t, c, &event.CommunityDeviceSet{
		RequestID: uuid.New(),
		DeviceID:  deviceID,
		Sequence:  event.SourceSequenceNone,
		Timestamp: testTime,
	})
	return community
}

// ============================================================================
// Test: market phase
// ============================================================================

func TestConsumption_MarketPhasePaysBatchOwners(t *testing.T) {
	c, a, b := twoMemberCore(t)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	// No community device: b burns its own 667 free in the self phase,
	// then buys a's 333 on the market.
	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 2, Quantity: 1000})

	if got := c.CashCreditBalance(a); got != 16650 {
		t.Errorf("a balance: got %d, want 16650 (333 * 50)", got)
	}
	if got := c.CashCreditBalance(b); got != -16650 {
		t.Errorf("b balance: got %d, want -16650", got)
	}
	if got := c.TotalUnconsumedEnergy(); got != 0 {
		t.Errorf("pool: got %d, want 0", got)
	}
	if got := c.CollectiveConsumption(); got != 1000 {
		t.Errorf("collective consumption: got %d, want 1000", got)
	}
	assertZeroSum(t, c)
}

func TestConsumption_SelfConsumptionIsFreeWithoutCommunity(t *testing.T) {
	c, a, b := twoMemberCore(t)
	mustDistribute(t, c, 0,
		event.SourceInput{SourceID: 1, Price: 10, Quantity: 1000},
		event.SourceInput{SourceID: 2, Price: 100, Quantity: 1000},
	)

	// b owns 667 at each price level. Consuming exactly that total burns
	// only b's own batches, across both levels, and moves no cash.
	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 2, Quantity: 1334})

	if got := c.CashCreditBalance(a); got != 0 {
		t.Errorf("a balance: got %d, want 0", got)
	}
	if got := c.CashCreditBalance(b); got != 0 {
		t.Errorf("b balance: got %d, want 0", got)
	}
	if got := c.TotalUnconsumedEnergy(); got != 666 {
		t.Errorf("pool: got %d, want 666 (a's batches untouched)", got)
	}
	assertZeroSum(t, c)
}

func TestConsumption_CheapestBatchesFirst(t *testing.T) {
	c, a, b := twoMemberCore(t)
	mustDistribute(t, c, 0,
		event.SourceInput{SourceID: 1, Price: 80, Quantity: 1000},
		event.SourceInput{SourceID: 2, Price: 20, Quantity: 1000},
	)

	// a consumes 800: its own 666 across both levels burn free, the
	// remaining 134 are bought on the market cheapest-first from b's
	// 20-priced batch.
	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 1, Quantity: 800})

	if got := c.CashCreditBalance(b); got != 2680 {
		t.Errorf("b balance: got %d, want 2680 (134 * 20)", got)
	}
	if got := c.CashCreditBalance(a); got != -2680 {
		t.Errorf("a balance: got %d, want -2680", got)
	}
	assertZeroSum(t, c)
}

func TestConsumption_InsufficientEnergyIsAtomic(t *testing.T) {
	c, a, b := twoMemberCore(t)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	err := consume(c,
		event.ConsumptionRequest{DeviceID: 1, Quantity: 500},
		event.ConsumptionRequest{DeviceID: 2, Quantity: 501},
	)
	if !errors.Is(err, core.ErrInsufficientEnergy) {
		t.Fatalf("got %v, want ErrInsufficientEnergy", err)
	}

	// The whole call is rejected: no draws, no transfers.
	if got := c.TotalUnconsumedEnergy(); got != 1000 {
		t.Errorf("pool after rejection: got %d, want 1000", got)
	}
	if c.CashCreditBalance(a) != 0 || c.CashCreditBalance(b) != 0 {
		t.Error("balances changed by rejected call")
	}
	if got := c.CollectiveConsumption(); got != 0 {
		t.Errorf("collective consumption after rejection: got %d, want 0", got)
	}
}

func TestConsumption_MultiRequestExactDrain(t *testing.T) {
	c, _, _ := twoMemberCore(t)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 300000})

	mustConsume(t, c,
		event.ConsumptionRequest{DeviceID: 1, Quantity: 100000},
		event.ConsumptionRequest{DeviceID: 2, Quantity: 80000},
		event.ConsumptionRequest{DeviceID: 2, Quantity: 120000},
	)

	if got := c.TotalUnconsumedEnergy(); got != 0 {
		t.Errorf("pool: got %d, want 0", got)
	}
	if got := c.CollectiveConsumption(); got != 300000 {
		t.Errorf("collective consumption: got %d, want 300000", got)
	}
	assertZeroSum(t, c)
}

func TestConsumption_UnknownDeviceRejected(t *testing.T) {
	c, _, _ := twoMemberCore(t)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	err := consume(c, event.ConsumptionRequest{DeviceID: 99, Quantity: 10})
	if !errors.Is(err, state.ErrUnknownDevice) {
		t.Errorf("got %v, want ErrUnknownDevice", err)
	}
}

func TestConsumption_RejectsNonPositiveQuantity(t *testing.T) {
	c, _, _ := twoMemberCore(t)

	if err := consume(c, event.ConsumptionRequest{DeviceID: 1, Quantity: 0}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero quantity: got %v, want ErrInvalidAmount", err)
	}
	if err := consume(c); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("empty call: got %v, want ErrInvalidAmount", err)
	}
}

// ============================================================================
// Test: self phase
// ============================================================================

func TestConsumption_SelfPhaseFundsCommunity(t *testing.T) {
	c, a, b := twoMemberCore(t)
	community := addCommunity(t, c, 9)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	// b consumes 400 entirely from its own 667: self-consumption funds the
	// community account at the batch price.
	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 2, Quantity: 400})

	if got := c.CashCreditBalance(community); got != 20000 {
		t.Errorf("community balance: got %d, want 20000 (400 * 50)", got)
	}
	if got := c.CashCreditBalance(b); got != -20000 {
		t.Errorf("b balance: got %d, want -20000", got)
	}
	if got := c.CashCreditBalance(a); got != 0 {
		t.Errorf("a balance: got %d, want 0 (a's batch untouched)", got)
	}
	assertZeroSum(t, c)
}

func TestConsumption_SelfThenMarket(t *testing.T) {
	c, a, b := twoMemberCore(t)
	community := addCommunity(t, c, 9)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	// b consumes 700: 667 own (funds community), 33 from a's batch (market).
	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 2, Quantity: 700})

	if got := c.CashCreditBalance(community); got != 33350 {
		t.Errorf("community balance: got %d, want 33350 (667 * 50)", got)
	}
	if got := c.CashCreditBalance(a); got != 1650 {
		t.Errorf("a balance: got %d, want 1650 (33 * 50)", got)
	}
	if got := c.CashCreditBalance(b); got != -35000 {
		t.Errorf("b balance: got %d, want -35000", got)
	}
	assertZeroSum(t, c)
}

// ============================================================================
// Test: import batches
// ============================================================================

func TestConsumption_ImportPurchaseCreditsAggregate(t *testing.T) {
	c, _, b := twoMemberCore(t)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 20, Quantity: 500, IsImport: true})

	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 2, Quantity: 200})

	if got := c.ImportCashCreditBalance(); got != 4000 {
		t.Errorf("import aggregate: got %d, want 4000 (200 * 20)", got)
	}
	if got := c.CashCreditBalance(b); got != -4000 {
		t.Errorf("b balance: got %d, want -4000", got)
	}
	assertZeroSum(t, c)
}

// ============================================================================
// Test: export
// ============================================================================

func TestConsumption_ExportCreditsOwnersAtExportPrice(t *testing.T) {
	c, a, b := twoMemberCore(t)
	setExportDevice(t, c, 100)
	setExportPrice(t, c, 30)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 100, Quantity: 1000})

	if got := c.CashCreditBalance(a); got != 9990 {
		t.Errorf("a balance: got %d, want 9990 (333 * 30)", got)
	}
	if got := c.CashCreditBalance(b); got != 20010 {
		t.Errorf("b balance: got %d, want 20010 (667 * 30)", got)
	}
	if got := c.ExportCashCreditBalance(); got != -30000 {
		t.Errorf("export aggregate: got %d, want -30000", got)
	}
	if got := c.TotalUnconsumedEnergy(); got != 0 {
		t.Errorf("pool: got %d, want 0", got)
	}
	assertZeroSum(t, c)
}

func TestConsumption_ExportPartialFillIsNotAnError(t *testing.T) {
	c, _, _ := twoMemberCore(t)
	setExportDevice(t, c, 100)
	setExportPrice(t, c, 30)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	// Export asks for more than the pool holds: it drains what exists.
	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 100, Quantity: 5000})

	if got := c.TotalUnconsumedEnergy(); got != 0 {
		t.Errorf("pool: got %d, want 0", got)
	}
	if got := c.ExportCashCreditBalance(); got != -30000 {
		t.Errorf("export aggregate: got %d, want -30000", got)
	}
	assertZeroSum(t, c)
}

func TestConsumption_ExportFallsBackToBatchPrice(t *testing.T) {
	c, a, b := twoMemberCore(t)
	setExportDevice(t, c, 100)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	mustConsume(t, c, event.ConsumptionRequest{DeviceID: 100, Quantity: 1000})

	if got := c.CashCreditBalance(a); got != 16650 {
		t.Errorf("a balance: got %d, want 16650 (333 * 50)", got)
	}
	if got := c.CashCreditBalance(b); got != 33350 {
		t.Errorf("b balance: got %d, want 33350 (667 * 50)", got)
	}
	assertZeroSum(t, c)
}

func TestConsumption_ExportRunsBeforeMemberRequests(t *testing.T) {
	c, a, b := twoMemberCore(t)
	setExportDevice(t, c, 100)
	setExportPrice(t, c, 30)
	mustDistribute(t, c, 0, event.SourceInput{SourceID: 1, Price: 50, Quantity: 1000})

	// Export is listed last but runs first: it takes a's 333 and 67 of b's
	// at the export price; b's member request then consumes 600 of b's own
	// remaining batch, which moves no cash.
	mustConsume(t, c,
		event.ConsumptionRequest{DeviceID: 2, Quantity: 600},
		event.ConsumptionRequest{DeviceID: 100, Quantity: 400},
	)

	if got := c.CashCreditBalance(a); got != 9990 {
		t.Errorf("a balance: got %d, want 9990 (333 exported at 30)", got)
	}
	if got := c.CashCreditBalance(b); got != 2010 {
		t.Errorf("b balance: got %d, want 2010 (67 exported at 30)", got)
	}
	if got := c.ExportCashCreditBalance(); got != -12000 {
		t.Errorf("export aggregate: got %d, want -12000", got)
	}
	if got := c.TotalUnconsumedEnergy(); got != 0 {
		t.Errorf("pool: got %d, want 0", got)
	}
	assertZeroSum(t, c)
}

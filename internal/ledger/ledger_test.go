package ledger_test

import (
	"testing"

	"GridLedger/internal/ledger"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_MemberPath(t *testing.T) {
	addr := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewMemberAccountKey(addr)

	path := key.AccountPath()
	expected := "member:550e8400-e29b-41d4-a716-446655440000"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_AggregatePaths(t *testing.T) {
	cases := []struct {
		kind ledger.AggregateKind
		want string
	}{
		{ledger.AggregateExport, "aggregate:export"},
		{ledger.AggregateImport, "aggregate:import"},
		{ledger.AggregateSettled, "aggregate:settled"},
	}
	for _, tc := range cases {
		got := ledger.NewAggregateAccountKey(tc.kind).AccountPath()
		if got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewMemberAccountKey(uuid.New()),
		ledger.NewAggregateAccountKey(ledger.AggregateExport),
		ledger.NewAggregateAccountKey(ledger.AggregateImport),
		ledger.NewAggregateAccountKey(ledger.AggregateSettled),
	}
	for _, key := range keys {
		parsed, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Fatalf("parse %q: %v", key.AccountPath(), err)
		}
		if parsed != key {
			t.Errorf("round trip of %q: got %+v, want %+v", key.AccountPath(), parsed, key)
		}
	}
}

func TestParseAccountPath_Invalid(t *testing.T) {
	for _, path := range []string{"", "member:not-a-uuid", "aggregate:bogus", "something:else"} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("expected error for %q", path)
		}
	}
}

// ============================================================================
// Test: Batch
// ============================================================================

func TestBatch_AddDropsSelfTransfers(t *testing.T) {
	addr := uuid.New()
	batch := ledger.NewBatch("evt-1", 0, 0)

	batch.Add(ledger.NewMemberAccountKey(addr), ledger.NewMemberAccountKey(addr),
		100, ledger.TransferMarketPurchase)

	if len(batch.Transfers) != 0 {
		t.Errorf("self-transfer should be dropped, got %d transfers", len(batch.Transfers))
	}
}

func TestBatch_AddDropsZeroAmounts(t *testing.T) {
	batch := ledger.NewBatch("evt-1", 0, 0)

	batch.Add(ledger.NewMemberAccountKey(uuid.New()), ledger.NewMemberAccountKey(uuid.New()),
		0, ledger.TransferMarketPurchase)

	if len(batch.Transfers) != 0 {
		t.Errorf("zero-amount transfer should be dropped, got %d transfers", len(batch.Transfers))
	}
}

func TestBatch_ValidateRejectsNegativeAmount(t *testing.T) {
	batch := ledger.NewBatch("evt-1", 0, 0)
	batch.Add(ledger.NewMemberAccountKey(uuid.New()), ledger.NewMemberAccountKey(uuid.New()),
		500, ledger.TransferMarketPurchase)
	batch.Transfers[0].Amount = -500

	if err := batch.Validate(); err == nil {
		t.Error("expected validation error for negative amount")
	}
}

func TestBatch_ValidateEmptyIsOK(t *testing.T) {
	batch := ledger.NewBatch("evt-1", 0, 0)
	if err := batch.Validate(); err != nil {
		t.Errorf("empty batch should validate, got %v", err)
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if got := bt.MemberBalance(uuid.New()); got != 0 {
		t.Errorf("initial balance should be 0, got %d", got)
	}
}

func TestBalanceTracker_ApplyBatchZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	seller := uuid.New()
	buyer := uuid.New()

	batch := ledger.NewBatch("evt-1", 0, 0)
	batch.Add(ledger.NewMemberAccountKey(seller), ledger.NewMemberAccountKey(buyer),
		16650, ledger.TransferMarketPurchase)

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply batch: %v", err)
	}

	if got := bt.MemberBalance(seller); got != 16650 {
		t.Errorf("seller balance: got %d, want 16650", got)
	}
	if got := bt.MemberBalance(buyer); got != -16650 {
		t.Errorf("buyer balance: got %d, want -16650", got)
	}
	if got := bt.ComputeGlobalBalance(); got != 0 {
		t.Errorf("global balance: got %d, want 0", got)
	}
}

func TestBalanceTracker_SnapshotRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	member := uuid.New()

	batch := ledger.NewBatch("evt-1", 0, 0)
	batch.Add(ledger.NewMemberAccountKey(member),
		ledger.NewAggregateAccountKey(ledger.AggregateExport),
		777, ledger.TransferExportCredit)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply batch: %v", err)
	}

	restored := ledger.NewBalanceTracker()
	if err := restored.Restore(bt.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := restored.MemberBalance(member); got != 777 {
		t.Errorf("restored member balance: got %d, want 777", got)
	}
	if got := restored.AggregateBalance(ledger.AggregateExport); got != -777 {
		t.Errorf("restored export balance: got %d, want -777", got)
	}
}

// ============================================================================
// Test: TokenSupply
// ============================================================================

func TestTokenSupply_MirrorsPositiveBalance(t *testing.T) {
	ts := ledger.NewTokenSupply()
	addr := uuid.New()

	minted, burned := ts.Sync(addr, 500)
	if minted != 500 || burned != 0 {
		t.Errorf("sync to 500: minted=%d burned=%d, want 500/0", minted, burned)
	}
	if got := ts.TokenBalance(addr); got != 500 {
		t.Errorf("token balance: got %d, want 500", got)
	}
}

func TestTokenSupply_DebtIsNotTokenized(t *testing.T) {
	ts := ledger.NewTokenSupply()
	addr := uuid.New()

	ts.Sync(addr, 500)
	minted, burned := ts.Sync(addr, -300)
	if minted != 0 || burned != 500 {
		t.Errorf("sync to -300: minted=%d burned=%d, want 0/500", minted, burned)
	}
	if got := ts.TokenBalance(addr); got != 0 {
		t.Errorf("token balance after debt: got %d, want 0", got)
	}
}

func TestTokenSupply_TotalSupply(t *testing.T) {
	ts := ledger.NewTokenSupply()
	a, b := uuid.New(), uuid.New()

	ts.Sync(a, 100)
	ts.Sync(b, 250)
	ts.Sync(a, 50) // burn 50

	if got := ts.TotalSupply(); got != 300 {
		t.Errorf("total supply: got %d, want 300", got)
	}
}

func TestTokenSupply_SnapshotRestore(t *testing.T) {
	ts := ledger.NewTokenSupply()
	addr := uuid.New()
	ts.Sync(addr, 42)

	restored := ledger.NewTokenSupply()
	if err := restored.Restore(ts.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := restored.TokenBalance(addr); got != 42 {
		t.Errorf("restored token balance: got %d, want 42", got)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_ZeroSumHolds(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	ts := ledger.NewTokenSupply()
	v := ledger.NewInvariantValidator(bt, ts)

	batch := ledger.NewBatch("evt-1", 0, 0)
	batch.Add(ledger.NewMemberAccountKey(uuid.New()),
		ledger.NewAggregateAccountKey(ledger.AggregateImport),
		900, ledger.TransferImportPurchase)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply batch: %v", err)
	}

	ok, residual := v.VerifyZeroSum()
	if !ok || residual != 0 {
		t.Errorf("zero-sum: ok=%v residual=%d, want true/0", ok, residual)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
}

package state_test

import (
	"errors"
	"testing"

	"GridLedger/internal/state"
)

func TestBattery_Configure(t *testing.T) {
	b := state.NewBattery()
	if err := b.Configure(40, 5000); err != nil {
		t.Fatalf("configure: %v", err)
	}

	info := b.Info()
	if !info.Configured || info.Price != 40 || info.MaxCapacity != 5000 || info.CurrentState != 0 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestBattery_ConfigureIsOneShot(t *testing.T) {
	b := state.NewBattery()
	if err := b.Configure(40, 5000); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := b.Configure(50, 6000); !errors.Is(err, state.ErrAlreadyConfigured) {
		t.Errorf("got %v, want ErrAlreadyConfigured", err)
	}
}

func TestBattery_ConfigureRejectsInvalid(t *testing.T) {
	cases := []struct {
		price, capacity int64
	}{
		{-1, 5000},
		{40, 0},
		{40, -100},
	}
	for _, tc := range cases {
		b := state.NewBattery()
		if err := b.Configure(tc.price, tc.capacity); !errors.Is(err, state.ErrInvalidBatteryState) {
			t.Errorf("Configure(%d, %d): got %v, want ErrInvalidBatteryState", tc.price, tc.capacity, err)
		}
	}
}

func TestBattery_PlanDelta(t *testing.T) {
	b := state.NewBattery()
	if err := b.Configure(40, 5000); err != nil {
		t.Fatalf("configure: %v", err)
	}

	delta, err := b.PlanDelta(300)
	if err != nil || delta != 300 {
		t.Errorf("charge: delta=%d err=%v, want 300/nil", delta, err)
	}
	b.SetState(300)

	delta, err = b.PlanDelta(100)
	if err != nil || delta != -200 {
		t.Errorf("discharge: delta=%d err=%v, want -200/nil", delta, err)
	}
}

func TestBattery_PlanDeltaRangeChecks(t *testing.T) {
	b := state.NewBattery()
	if err := b.Configure(40, 5000); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if _, err := b.PlanDelta(-1); !errors.Is(err, state.ErrInvalidBatteryState) {
		t.Errorf("negative state: got %v, want ErrInvalidBatteryState", err)
	}
	if _, err := b.PlanDelta(5001); !errors.Is(err, state.ErrInvalidBatteryState) {
		t.Errorf("over capacity: got %v, want ErrInvalidBatteryState", err)
	}
}

func TestBattery_UnconfiguredAcceptsOnlyZero(t *testing.T) {
	b := state.NewBattery()

	if delta, err := b.PlanDelta(0); err != nil || delta != 0 {
		t.Errorf("zero on unconfigured: delta=%d err=%v, want 0/nil", delta, err)
	}
	if _, err := b.PlanDelta(100); !errors.Is(err, state.ErrInvalidBatteryState) {
		t.Errorf("non-zero on unconfigured: got %v, want ErrInvalidBatteryState", err)
	}
}

func TestBattery_DrainKeepsConfiguration(t *testing.T) {
	b := state.NewBattery()
	if err := b.Configure(40, 5000); err != nil {
		t.Fatalf("configure: %v", err)
	}
	b.SetState(2000)

	b.Drain()

	info := b.Info()
	if info.CurrentState != 0 {
		t.Errorf("charge after drain: got %d, want 0", info.CurrentState)
	}
	if !info.Configured || info.Price != 40 || info.MaxCapacity != 5000 {
		t.Errorf("configuration lost on drain: %+v", info)
	}
}

func TestBattery_Restore(t *testing.T) {
	b := state.NewBattery()
	b.Restore(state.BatteryInfo{CurrentState: 150, Price: 40, MaxCapacity: 5000, Configured: true})

	delta, err := b.PlanDelta(200)
	if err != nil || delta != 50 {
		t.Errorf("after restore: delta=%d err=%v, want 50/nil", delta, err)
	}
}

package state

import "fmt"

// Battery is the single shared buffer. It holds no batches of its own; the
// allocation engine converts state deltas into pool mutations.
type Battery struct {
	currentState int64 // watt-hours
	price        int64 // cents per unit, paid on discharge
	maxCapacity  int64
	configured   bool
}

func NewBattery() *Battery {
	return &Battery{}
}

// Configure sets price and capacity. One-shot: reconfiguration is rejected.
func (b *Battery) Configure(price, maxCapacity int64) error {
	if b.configured {
		return ErrAlreadyConfigured
	}
	if price < 0 || maxCapacity <= 0 {
		return fmt.Errorf("%w: price=%d capacity=%d", ErrInvalidBatteryState, price, maxCapacity)
	}
	b.price = price
	b.maxCapacity = maxCapacity
	b.configured = true
	return nil
}

// BatteryInfo is the read view of the battery.
type BatteryInfo struct {
	CurrentState int64 `json:"current_state"`
	Price        int64 `json:"price"`
	MaxCapacity  int64 `json:"max_capacity"`
	Configured   bool  `json:"configured"`
}

// Info returns the current battery state.
func (b *Battery) Info() BatteryInfo {
	return BatteryInfo{
		CurrentState: b.currentState,
		Price:        b.price,
		MaxCapacity:  b.maxCapacity,
		Configured:   b.configured,
	}
}

// PlanDelta validates a requested new state and returns the signed delta
// (positive = charge, negative = discharge) without mutating anything.
// An unconfigured battery only accepts newState == 0.
func (b *Battery) PlanDelta(newState int64) (int64, error) {
	if !b.configured {
		if newState == 0 && b.currentState == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: battery not configured", ErrInvalidBatteryState)
	}
	if newState < 0 || newState > b.maxCapacity {
		return 0, fmt.Errorf("%w: requested state %d outside [0, %d]",
			ErrInvalidBatteryState, newState, b.maxCapacity)
	}
	return newState - b.currentState, nil
}

// SetState commits a new state. Callers must have validated via PlanDelta.
func (b *Battery) SetState(newState int64) {
	b.currentState = newState
}

// Drain zeroes the charge but keeps configuration. Emergency-reset path only.
func (b *Battery) Drain() {
	b.currentState = 0
}

// Restore replaces battery state from a snapshot.
func (b *Battery) Restore(info BatteryInfo) {
	b.currentState = info.CurrentState
	b.price = info.Price
	b.maxCapacity = info.MaxCapacity
	b.configured = info.Configured
}

package event

import (
	"time"

	"github.com/google/uuid"
)

// SourceInput is one priced energy source in a distribution call.
type SourceInput struct {
	SourceID uint64
	Price    int64 // cents per unit
	Quantity int64 // watt-hours
	IsImport bool
}

// EnergyDistributed allocates the given sources into the batch pool and
// moves the battery to NewBatteryState. No cash balances change.
type EnergyDistributed struct {
	DistributionID  uuid.UUID
	Sources         []SourceInput
	NewBatteryState int64
	Sequence        int64
	Timestamp       time.Time
}

func (e *EnergyDistributed) IdempotencyKey() string { return e.DistributionID.String() }
func (e *EnergyDistributed) EventType() EventType   { return EventTypeEnergyDistributed }
func (e *EnergyDistributed) SourceSequence() int64  { return e.Sequence }

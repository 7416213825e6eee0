package event

import (
	"time"

	"github.com/google/uuid"
)

// ConsumptionRequest is one device's demand within a consumption call.
type ConsumptionRequest struct {
	DeviceID uint64
	Quantity int64 // watt-hours
}

// EnergyConsumed settles a batch of consumption requests against the pool.
// All requests succeed or the whole event fails with no mutation.
type EnergyConsumed struct {
	ConsumptionID uuid.UUID
	Requests      []ConsumptionRequest
	Sequence      int64
	Timestamp     time.Time
}

func (e *EnergyConsumed) IdempotencyKey() string { return e.ConsumptionID.String() }
func (e *EnergyConsumed) EventType() EventType   { return EventTypeEnergyConsumed }
func (e *EnergyConsumed) SourceSequence() int64  { return e.Sequence }

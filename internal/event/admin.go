package event

import (
	"time"

	"github.com/google/uuid"
)

// MemberAdded registers a member with its devices and ownership share.
// OwnershipBps == 0 registers a pseudo-account (e.g. the community fund).
type MemberAdded struct {
	RequestID    uuid.UUID
	MemberAddr   uuid.UUID
	DeviceIDs    []uint64
	OwnershipBps int64
	Sequence     int64
	Timestamp    time.Time
}

func (e *MemberAdded) IdempotencyKey() string { return e.RequestID.String() }
func (e *MemberAdded) EventType() EventType   { return EventTypeMemberAdded }
func (e *MemberAdded) SourceSequence() int64  { return e.Sequence }

// MemberRemoved deactivates a member and releases its devices.
type MemberRemoved struct {
	RequestID  uuid.UUID
	MemberAddr uuid.UUID
	Sequence   int64
	Timestamp  time.Time
}

func (e *MemberRemoved) IdempotencyKey() string { return e.RequestID.String() }
func (e *MemberRemoved) EventType() EventType   { return EventTypeMemberRemoved }
func (e *MemberRemoved) SourceSequence() int64  { return e.Sequence }

// CommunityDeviceSet designates the community pseudo-account's device.
type CommunityDeviceSet struct {
	RequestID uuid.UUID
	DeviceID  uint64
	Sequence  int64
	Timestamp time.Time
}

func (e *CommunityDeviceSet) IdempotencyKey() string { return e.RequestID.String() }
func (e *CommunityDeviceSet) EventType() EventType   { return EventTypeCommunityDeviceSet }
func (e *CommunityDeviceSet) SourceSequence() int64  { return e.Sequence }

// ExportDeviceSet designates the grid-export pseudo-device.
type ExportDeviceSet struct {
	RequestID uuid.UUID
	DeviceID  uint64
	Sequence  int64
	Timestamp time.Time
}

func (e *ExportDeviceSet) IdempotencyKey() string { return e.RequestID.String() }
func (e *ExportDeviceSet) EventType() EventType   { return EventTypeExportDeviceSet }
func (e *ExportDeviceSet) SourceSequence() int64  { return e.Sequence }

// ExportPriceSet sets the per-unit price credited on export (cents).
type ExportPriceSet struct {
	RequestID uuid.UUID
	Price     int64
	Sequence  int64
	Timestamp time.Time
}

func (e *ExportPriceSet) IdempotencyKey() string { return e.RequestID.String() }
func (e *ExportPriceSet) EventType() EventType   { return EventTypeExportPriceSet }
func (e *ExportPriceSet) SourceSequence() int64  { return e.Sequence }

// BatteryConfigured sets battery price and capacity. One-shot.
type BatteryConfigured struct {
	RequestID   uuid.UUID
	Price       int64
	MaxCapacity int64
	Sequence    int64
	Timestamp   time.Time
}

func (e *BatteryConfigured) IdempotencyKey() string { return e.RequestID.String() }
func (e *BatteryConfigured) EventType() EventType   { return EventTypeBatteryConfigured }
func (e *BatteryConfigured) SourceSequence() int64  { return e.Sequence }

// EmergencyReset force-clears balances, token supply, pool and battery
// charge. Last-resort recovery; registry and battery configuration survive.
type EmergencyReset struct {
	RequestID uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (e *EmergencyReset) IdempotencyKey() string { return e.RequestID.String() }
func (e *EmergencyReset) EventType() EventType   { return EventTypeEmergencyReset }
func (e *EmergencyReset) SourceSequence() int64  { return e.Sequence }

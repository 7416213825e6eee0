package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"GridLedger/internal/event"

	"github.com/google/uuid"
)

// Wire formats for NATS ingestion payloads (snake_case JSON).

type sourceWire struct {
	SourceID uint64 `json:"source_id"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	IsImport bool   `json:"is_import"`
}

type distributeWire struct {
	DistributionID  string       `json:"distribution_id"`
	Sources         []sourceWire `json:"sources"`
	NewBatteryState int64        `json:"new_battery_state"`
	Sequence        int64        `json:"sequence"`
	Timestamp       time.Time    `json:"timestamp"`
}

type consumeRequestWire struct {
	DeviceID uint64 `json:"device_id"`
	Quantity int64  `json:"quantity"`
}

type consumeWire struct {
	ConsumptionID string               `json:"consumption_id"`
	Requests      []consumeRequestWire `json:"requests"`
	Sequence      int64                `json:"sequence"`
	Timestamp     time.Time            `json:"timestamp"`
}

type settleWire struct {
	SettlementID   string    `json:"settlement_id"`
	Debtor         string    `json:"debtor"`
	ExternalAmount int64     `json:"external_amount"`
	LedgerCents    int64     `json:"ledger_cents"`
	Sequence       int64     `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
}

// ParseRawEvent decodes a NATS payload into a typed event.
func ParseRawEvent(et event.EventType, data []byte) (event.Event, error) {
	switch et {
	case event.EventTypeEnergyDistributed:
		var w distributeWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode distribute: %w", err)
		}
		id, err := uuid.Parse(w.DistributionID)
		if err != nil {
			return nil, fmt.Errorf("distribution_id: %w", err)
		}
		evt := &event.EnergyDistributed{
			DistributionID:  id,
			NewBatteryState: w.NewBatteryState,
			Sequence:        w.Sequence,
			Timestamp:       w.Timestamp,
		}
		for _, s := range w.Sources {
			evt.Sources = append(evt.Sources, event.SourceInput{
				SourceID: s.SourceID,
				Price:    s.Price,
				Quantity: s.Quantity,
				IsImport: s.IsImport,
			})
		}
		return evt, nil

	case event.EventTypeEnergyConsumed:
		var w consumeWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode consume: %w", err)
		}
		id, err := uuid.Parse(w.ConsumptionID)
		if err != nil {
			return nil, fmt.Errorf("consumption_id: %w", err)
		}
		evt := &event.EnergyConsumed{
			ConsumptionID: id,
			Sequence:      w.Sequence,
			Timestamp:     w.Timestamp,
		}
		for _, r := range w.Requests {
			evt.Requests = append(evt.Requests, event.ConsumptionRequest{
				DeviceID: r.DeviceID,
				Quantity: r.Quantity,
			})
		}
		return evt, nil

	case event.EventTypeDebtSettled:
		var w settleWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode settle: %w", err)
		}
		id, err := uuid.Parse(w.SettlementID)
		if err != nil {
			return nil, fmt.Errorf("settlement_id: %w", err)
		}
		debtor, err := uuid.Parse(w.Debtor)
		if err != nil {
			return nil, fmt.Errorf("debtor: %w", err)
		}
		return &event.DebtSettled{
			SettlementID:   id,
			Debtor:         debtor,
			ExternalAmount: w.ExternalAmount,
			LedgerCents:    w.LedgerCents,
			Sequence:       w.Sequence,
			Timestamp:      w.Timestamp,
		}, nil

	default:
		return nil, fmt.Errorf("no parser for event type %s", et)
	}
}

// ParseStored decodes an event-log payload (written by the core as the
// marshalled typed event) back into its typed form for replay.
func ParseStored(et event.EventType, payload []byte) (event.Event, error) {
	var evt event.Event
	switch et {
	case event.EventTypeMemberAdded:
		evt = &event.MemberAdded{}
	case event.EventTypeMemberRemoved:
		evt = &event.MemberRemoved{}
	case event.EventTypeCommunityDeviceSet:
		evt = &event.CommunityDeviceSet{}
	case event.EventTypeExportDeviceSet:
		evt = &event.ExportDeviceSet{}
	case event.EventTypeExportPriceSet:
		evt = &event.ExportPriceSet{}
	case event.EventTypeBatteryConfigured:
		evt = &event.BatteryConfigured{}
	case event.EventTypeEnergyDistributed:
		evt = &event.EnergyDistributed{}
	case event.EventTypeEnergyConsumed:
		evt = &event.EnergyConsumed{}
	case event.EventTypeDebtSettled:
		evt = &event.DebtSettled{}
	case event.EventTypeEmergencyReset:
		evt = &event.EmergencyReset{}
	default:
		return nil, fmt.Errorf("no stored decoder for event type %s", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode stored %s: %w", et, err)
	}
	return evt, nil
}

// EventTypeFromName maps the persisted event_type column back to the enum.
func EventTypeFromName(name string) (event.EventType, error) {
	for et := event.EventTypeMemberAdded; et <= event.EventTypeEmergencyReset; et++ {
		if et.String() == name {
			return et, nil
		}
	}
	return event.EventTypeUnknown, fmt.Errorf("unknown event type %q", name)
}

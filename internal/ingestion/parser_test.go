package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"GridLedger/internal/event"
	"GridLedger/internal/ingestion"

	"github.com/google/uuid"
)

func TestParseRawEvent_Distribute(t *testing.T) {
	id := uuid.New()
	payload := []byte(`{
		"distribution_id": "` + id.String() + `",
		"sources": [
			{"source_id": 1, "price": 50, "quantity": 1000},
			{"source_id": 2, "price": 90, "quantity": 500, "is_import": true}
		],
		"new_battery_state": 200,
		"sequence": 7,
		"timestamp": "2026-08-28T12:00:00Z"
	}`)

	evt, err := ingestion.ParseRawEvent(event.EventTypeEnergyDistributed, payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d, ok := evt.(*event.EnergyDistributed)
	if !ok {
		t.Fatalf("got %T, want *event.EnergyDistributed", evt)
	}
	if d.DistributionID != id || d.NewBatteryState != 200 || d.Sequence != 7 {
		t.Errorf("unexpected header fields: %+v", d)
	}
	if len(d.Sources) != 2 {
		t.Fatalf("sources: got %d, want 2", len(d.Sources))
	}
	if d.Sources[0].IsImport || !d.Sources[1].IsImport {
		t.Errorf("import flags: got %v/%v, want false/true",
			d.Sources[0].IsImport, d.Sources[1].IsImport)
	}
	if d.Sources[1].SourceID != 2 || d.Sources[1].Price != 90 || d.Sources[1].Quantity != 500 {
		t.Errorf("source 2: %+v", d.Sources[1])
	}
}

func TestParseRawEvent_Consume(t *testing.T) {
	id := uuid.New()
	payload := []byte(`{
		"consumption_id": "` + id.String() + `",
		"requests": [{"device_id": 2, "quantity": 400}],
		"sequence": 3,
		"timestamp": "2026-08-28T12:00:00Z"
	}`)

	evt, err := ingestion.ParseRawEvent(event.EventTypeEnergyConsumed, payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cns, ok := evt.(*event.EnergyConsumed)
	if !ok {
		t.Fatalf("got %T, want *event.EnergyConsumed", evt)
	}
	if cns.ConsumptionID != id || cns.Sequence != 3 {
		t.Errorf("unexpected header fields: %+v", cns)
	}
	if len(cns.Requests) != 1 || cns.Requests[0].DeviceID != 2 || cns.Requests[0].Quantity != 400 {
		t.Errorf("requests: %+v", cns.Requests)
	}
}

func TestParseRawEvent_Settle(t *testing.T) {
	id, debtor := uuid.New(), uuid.New()
	payload := []byte(`{
		"settlement_id": "` + id.String() + `",
		"debtor": "` + debtor.String() + `",
		"external_amount": 100000000,
		"ledger_cents": 10000,
		"sequence": 11,
		"timestamp": "2026-08-28T12:00:00Z"
	}`)

	evt, err := ingestion.ParseRawEvent(event.EventTypeDebtSettled, payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, ok := evt.(*event.DebtSettled)
	if !ok {
		t.Fatalf("got %T, want *event.DebtSettled", evt)
	}
	if s.SettlementID != id || s.Debtor != debtor {
		t.Errorf("ids: %+v", s)
	}
	if s.ExternalAmount != 100000000 || s.LedgerCents != 10000 {
		t.Errorf("amounts: external=%d cents=%d", s.ExternalAmount, s.LedgerCents)
	}
}

func TestParseRawEvent_Errors(t *testing.T) {
	if _, err := ingestion.ParseRawEvent(event.EventTypeEnergyDistributed, []byte(`{not json`)); err == nil {
		t.Error("malformed JSON: expected error")
	}
	if _, err := ingestion.ParseRawEvent(event.EventTypeEnergyDistributed,
		[]byte(`{"distribution_id": "not-a-uuid", "sources": []}`)); err == nil {
		t.Error("bad UUID: expected error")
	}
	if _, err := ingestion.ParseRawEvent(event.EventTypeDebtSettled,
		[]byte(`{"settlement_id": "`+uuid.NewString()+`", "debtor": "nope"}`)); err == nil {
		t.Error("bad debtor UUID: expected error")
	}
	if _, err := ingestion.ParseRawEvent(event.EventTypeMemberAdded, []byte(`{}`)); err == nil {
		t.Error("unsupported raw type: expected error")
	}
}

func TestParseStored_RoundTrip(t *testing.T) {
	orig := &event.MemberAdded{
		RequestID:    uuid.New(),
		MemberAddr:   uuid.New(),
		DeviceIDs:    []uint64{1, 2},
		OwnershipBps: 3333,
		Sequence:     event.SourceSequenceNone,
		Timestamp:    time.Unix(1700000000, 0).UTC(),
	}
	payload, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	evt, err := ingestion.ParseStored(event.EventTypeMemberAdded, payload)
	if err != nil {
		t.Fatalf("parse stored: %v", err)
	}
	got, ok := evt.(*event.MemberAdded)
	if !ok {
		t.Fatalf("got %T, want *event.MemberAdded", evt)
	}
	if got.RequestID != orig.RequestID || got.MemberAddr != orig.MemberAddr ||
		got.OwnershipBps != orig.OwnershipBps || !got.Timestamp.Equal(orig.Timestamp) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, orig)
	}
	if len(got.DeviceIDs) != 2 || got.DeviceIDs[0] != 1 || got.DeviceIDs[1] != 2 {
		t.Errorf("device IDs: %v", got.DeviceIDs)
	}
}

func TestParseStored_UnknownType(t *testing.T) {
	if _, err := ingestion.ParseStored(event.EventTypeUnknown, []byte(`{}`)); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestEventTypeFromName(t *testing.T) {
	for et := event.EventTypeMemberAdded; et <= event.EventTypeEmergencyReset; et++ {
		got, err := ingestion.EventTypeFromName(et.String())
		if err != nil || got != et {
			t.Errorf("round trip %s: got %v, %v", et, got, err)
		}
	}
	if _, err := ingestion.EventTypeFromName("no_such_event"); err == nil {
		t.Error("expected error for unknown name")
	}
}

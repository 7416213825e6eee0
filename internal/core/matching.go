package core

import (
	"fmt"

	"GridLedger/internal/event"
	"GridLedger/internal/ledger"
	"GridLedger/internal/state"

	"github.com/google/uuid"
)

// consumptionPlan stages everything a consumption call will do, so the call
// can fail at any point without touching live state: pool draws keyed by
// batch ID, and the cash transfers they imply.
type consumptionPlan struct {
	pool  *state.Pool
	draws map[uint64]int64
	batch *ledger.Batch
	total int64
}

func newConsumptionPlan(pool *state.Pool, batch *ledger.Batch) *consumptionPlan {
	return &consumptionPlan{
		pool:  pool,
		draws: make(map[uint64]int64),
		batch: batch,
	}
}

// remaining returns a batch's quantity net of already-planned draws.
func (p *consumptionPlan) remaining(b *state.Batch) int64 {
	return b.Quantity - p.draws[b.ID]
}

func (p *consumptionPlan) draw(b *state.Batch, qty int64) {
	p.draws[b.ID] += qty
	p.total += qty
}

// applyConsumption settles a batch of consumption requests against the pool.
// Export requests are processed first; the rest follow in call order, each
// through the self phase and then the market phase. A non-export shortfall
// fails the entire call with ErrInsufficientEnergy and no mutation.
func (c *Core) applyConsumption(e *event.EnergyConsumed) (*ledger.Batch, error) {
	if len(e.Requests) == 0 {
		return nil, fmt.Errorf("%w: no consumption requests", ErrInvalidAmount)
	}
	for _, req := range e.Requests {
		if req.Quantity <= 0 {
			return nil, fmt.Errorf("%w: device %d quantity %d", ErrInvalidAmount, req.DeviceID, req.Quantity)
		}
	}

	batch := ledger.NewBatch(e.IdempotencyKey(), c.sequence, e.Timestamp.UnixMicro())
	plan := newConsumptionPlan(c.pool, batch)

	exportDevice := c.registry.ExportDeviceID()

	// Export first: unclaimed surplus is captured before member demand
	// drains the pool.
	for _, req := range e.Requests {
		if exportDevice != 0 && req.DeviceID == exportDevice {
			c.planExport(plan, req.Quantity)
		}
	}

	for _, req := range e.Requests {
		if exportDevice != 0 && req.DeviceID == exportDevice {
			continue
		}
		if err := c.planMemberRequest(plan, req); err != nil {
			return nil, err
		}
	}

	if err := batch.Validate(); err != nil {
		return nil, err
	}

	// Commit: decrement the pool, then post the transfers.
	if err := c.pool.ApplyDraws(plan.draws); err != nil {
		// Unreachable: draws were planned against live quantities.
		return nil, fmt.Errorf("apply draws: %w", err)
	}
	if err := c.balances.ApplyBatch(batch); err != nil {
		return nil, fmt.Errorf("apply transfers: %w", err)
	}
	c.collectiveConsumption += plan.total
	if c.metrics != nil {
		c.metrics.EnergyConsumed.Add(float64(plan.total))
	}
	return batch, nil
}

// planMemberRequest stages one non-export request: self phase over the
// member's own batches, then market phase over the whole pool, both
// ascending by price with FIFO tie-break.
func (c *Core) planMemberRequest(plan *consumptionPlan, req event.ConsumptionRequest) error {
	owner, ok := c.registry.DeviceOwner(req.DeviceID)
	if !ok {
		return fmt.Errorf("%w: %d", state.ErrUnknownDevice, req.DeviceID)
	}
	consumerAcct := ledger.NewMemberAccountKey(owner)

	need := req.Quantity

	// Self phase: the member's own batches are always consumed first. With
	// a community account configured every self-consumed unit funds it at
	// the batch price; without one, self-consumption moves no cash.
	communityAddr, hasCommunity := c.registry.CommunityAddr()
	plan.pool.Scan(func(b *state.Batch) bool {
		if need == 0 {
			return false
		}
		if !ownedBy(b.Owner, owner) {
			return true
		}
		avail := plan.remaining(b)
		if avail == 0 {
			return true
		}
		take := min64(need, avail)
		plan.draw(b, take)
		need -= take
		if hasCommunity {
			plan.batch.Add(ledger.NewMemberAccountKey(communityAddr), consumerAcct,
				take*b.Price, ledger.TransferSelfConsumption)
		}
		return true
	})

	// Market phase: any remaining demand, cheapest first, any owner.
	plan.pool.Scan(func(b *state.Batch) bool {
		if need == 0 {
			return false
		}
		avail := plan.remaining(b)
		if avail == 0 {
			return true
		}
		take := min64(need, avail)
		plan.draw(b, take)
		need -= take

		amount := take * b.Price
		switch b.Owner.Kind {
		case state.OwnerImport:
			plan.batch.Add(ledger.NewAggregateAccountKey(ledger.AggregateImport),
				consumerAcct, amount, ledger.TransferImportPurchase)
		default:
			plan.batch.Add(ledger.NewMemberAccountKey(b.Owner.Addr),
				consumerAcct, amount, ledger.TransferMarketPurchase)
		}
		return true
	})

	if need > 0 {
		return fmt.Errorf("%w: device %d short %d", ErrInsufficientEnergy, req.DeviceID, need)
	}
	return nil
}

// planExport stages an export request: drain the pool ascending by price up
// to the requested quantity, crediting each batch's original owner at the
// configured export price (batch price when unset). Export may partially
// fill — it drains whatever the pool holds.
func (c *Core) planExport(plan *consumptionPlan, quantity int64) {
	exportPrice := c.registry.ExportPrice()
	exportAcct := ledger.NewAggregateAccountKey(ledger.AggregateExport)

	need := quantity
	plan.pool.Scan(func(b *state.Batch) bool {
		if need == 0 {
			return false
		}
		avail := plan.remaining(b)
		if avail == 0 {
			return true
		}
		take := min64(need, avail)
		plan.draw(b, take)
		need -= take

		unitPrice := exportPrice
		if unitPrice == 0 {
			unitPrice = b.Price
		}
		amount := take * unitPrice

		var ownerAcct ledger.AccountKey
		switch b.Owner.Kind {
		case state.OwnerImport:
			ownerAcct = ledger.NewAggregateAccountKey(ledger.AggregateImport)
		default:
			ownerAcct = ledger.NewMemberAccountKey(b.Owner.Addr)
		}
		plan.batch.Add(ownerAcct, exportAcct, amount, ledger.TransferExportCredit)
		return true
	})
}

// ownedBy reports whether a batch belongs to the given member for the
// purposes of the self phase. Community-owned batches count as the
// community member's own.
func ownedBy(o state.Owner, addr uuid.UUID) bool {
	switch o.Kind {
	case state.OwnerMember, state.OwnerCommunity:
		return o.Addr == addr
	default:
		return false
	}
}

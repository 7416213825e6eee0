package core

import (
	"fmt"

	"GridLedger/internal/event"
	"GridLedger/internal/state"
)

// plannedBatch is one pool append computed during distribution planning.
type plannedBatch struct {
	owner    state.Owner
	price    int64
	quantity int64
}

// applyDistribution turns a distribution event into pool appends and a
// battery state change. No cash balances move here.
//
// The whole call is planned against read-only state first; the pool and
// battery are mutated only after every validation has passed, so a failed
// call leaves no trace.
func (c *Core) applyDistribution(e *event.EnergyDistributed) error {
	for _, src := range e.Sources {
		if src.Quantity <= 0 {
			return fmt.Errorf("%w: source %d quantity %d", ErrInvalidAmount, src.SourceID, src.Quantity)
		}
		if src.Price < 0 {
			return fmt.Errorf("%w: source %d price %d", ErrInvalidAmount, src.SourceID, src.Price)
		}
	}
	if len(e.Sources) == 0 && e.NewBatteryState == c.battery.Info().CurrentState {
		return fmt.Errorf("%w: no sources and no battery change", ErrInvalidAmount)
	}

	// Allocation splits local production across the full ownership circle,
	// so distribution demands exactly 10000 bps of active shares.
	if c.registry.TotalActiveBps() != state.TotalBps {
		return ErrInvalidOwnership
	}

	delta, err := c.battery.PlanDelta(e.NewBatteryState)
	if err != nil {
		return err
	}

	var planned []plannedBatch

	// Import sources pass through untouched by the battery delta: one
	// import-owned batch per source.
	var localTotal int64
	for _, src := range e.Sources {
		if src.IsImport {
			planned = append(planned, plannedBatch{
				owner:    state.ImportOwner(),
				price:    src.Price,
				quantity: src.Quantity,
			})
			continue
		}
		localTotal += src.Quantity
	}

	// A charge (delta > 0) is absorbed from local production before the
	// proportional split, drawn from local sources in their listed order.
	charge := int64(0)
	if delta > 0 {
		if localTotal < delta {
			return fmt.Errorf("%w: charge of %d exceeds local production %d",
				state.ErrInvalidBatteryState, delta, localTotal)
		}
		charge = delta
	}

	members := c.registry.ActiveMembers()
	remainderTo := lastAllocatedMember(members)

	for _, src := range e.Sources {
		if src.IsImport {
			continue
		}
		qty := src.Quantity
		if charge > 0 {
			drawn := min64(charge, qty)
			qty -= drawn
			charge -= drawn
		}
		if qty == 0 {
			continue
		}

		// Proportional split: floor(qty*bps/10000) per member, remainder to
		// the last active member with a non-zero share.
		allocated := int64(0)
		for _, m := range members {
			if m.OwnershipBps == 0 {
				continue
			}
			share := qty * m.OwnershipBps / state.TotalBps
			if m == remainderTo {
				share = qty - allocated
			}
			allocated += share
			if share > 0 {
				planned = append(planned, plannedBatch{
					owner:    state.MemberOwner(m.Addr),
					price:    src.Price,
					quantity: share,
				})
			}
		}
	}

	// A discharge (delta < 0) injects one community-owned batch at the
	// battery price.
	if delta < 0 {
		communityAddr, ok := c.registry.CommunityAddr()
		if !ok {
			return ErrNoCommunityAccount
		}
		planned = append(planned, plannedBatch{
			owner:    state.CommunityOwner(communityAddr),
			price:    c.battery.Info().Price,
			quantity: -delta,
		})
	}

	// Commit.
	for _, pb := range planned {
		c.pool.Append(pb.owner, pb.price, pb.quantity)
	}
	c.battery.SetState(e.NewBatteryState)

	if c.metrics != nil {
		var added int64
		for _, pb := range planned {
			added += pb.quantity
		}
		c.metrics.EnergyDistributed.Add(float64(added))
	}
	return nil
}

// lastAllocatedMember returns the last active member in registration order
// with a non-zero share; it receives the division remainder.
func lastAllocatedMember(members []*state.Member) *state.Member {
	for i := len(members) - 1; i >= 0; i-- {
		if members[i].OwnershipBps > 0 {
			return members[i]
		}
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

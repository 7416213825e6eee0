package state

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// OwnerKind is the closed set of batch owners. Modeling the import sentinel
// and the community fund as explicit variants avoids magic-address checks.
type OwnerKind uint8

const (
	OwnerMember OwnerKind = iota
	OwnerCommunity
	OwnerImport
)

// Owner identifies who is credited when a batch is consumed.
// Addr is set for OwnerMember and OwnerCommunity (the community fund's
// member address); it is zero for OwnerImport.
type Owner struct {
	Kind OwnerKind
	Addr uuid.UUID
}

func MemberOwner(addr uuid.UUID) Owner    { return Owner{Kind: OwnerMember, Addr: addr} }
func CommunityOwner(addr uuid.UUID) Owner { return Owner{Kind: OwnerCommunity, Addr: addr} }
func ImportOwner() Owner                  { return Owner{Kind: OwnerImport} }

func (o Owner) String() string {
	switch o.Kind {
	case OwnerMember:
		return fmt.Sprintf("member:%s", o.Addr)
	case OwnerCommunity:
		return fmt.Sprintf("community:%s", o.Addr)
	case OwnerImport:
		return "import"
	}
	return "unknown"
}

// Batch is a priced, owned quantity of energy awaiting consumption.
// Batches are only ever shrunk, never split across owners.
type Batch struct {
	ID       uint64 // insertion sequence, unique within the pool
	Owner    Owner
	Price    int64 // cents per unit
	Quantity int64 // watt-hours, always >= 0
}

// priceLevel holds batches of one price in FIFO order. Consumed batches are
// skipped via the head index and compacted lazily, so scans cost is
// proportional to live batches.
type priceLevel struct {
	price   int64
	batches []*Batch
	head    int
}

func (pl *priceLevel) live() int { return len(pl.batches) - pl.head }

func (pl *priceLevel) compact() {
	// Drop fully consumed batches from the front.
	for pl.head < len(pl.batches) && pl.batches[pl.head].Quantity == 0 {
		pl.batches[pl.head] = nil
		pl.head++
	}
	if pl.head > len(pl.batches)/2 && pl.head > 32 {
		pl.batches = append([]*Batch(nil), pl.batches[pl.head:]...)
		pl.head = 0
	}
}

// Pool is the ordered collection of energy batches: ascending by price,
// FIFO within a price level.
type Pool struct {
	levels []*priceLevel // sorted ascending by price
	byID   map[uint64]*Batch
	nextID uint64
	total  int64
}

func NewPool() *Pool {
	return &Pool{
		byID:   make(map[uint64]*Batch),
		nextID: 1,
	}
}

// Append adds a batch to the pool. Zero-quantity batches are ignored.
func (p *Pool) Append(owner Owner, price, quantity int64) {
	if quantity <= 0 {
		return
	}
	b := &Batch{
		ID:       p.nextID,
		Owner:    owner,
		Price:    price,
		Quantity: quantity,
	}
	p.nextID++
	p.byID[b.ID] = b
	p.total += quantity

	idx := sort.Search(len(p.levels), func(i int) bool { return p.levels[i].price >= price })
	if idx < len(p.levels) && p.levels[idx].price == price {
		p.levels[idx].batches = append(p.levels[idx].batches, b)
		return
	}
	level := &priceLevel{price: price, batches: []*Batch{b}}
	p.levels = append(p.levels, nil)
	copy(p.levels[idx+1:], p.levels[idx:])
	p.levels[idx] = level
}

// TotalQuantity returns the sum of all live batch quantities.
func (p *Pool) TotalQuantity() int64 {
	return p.total
}

// Len returns the number of live batches.
func (p *Pool) Len() int {
	return len(p.byID)
}

// Scan visits live batches ascending by price, FIFO within a level, until
// fn returns false.
func (p *Pool) Scan(fn func(b *Batch) bool) {
	for _, level := range p.levels {
		for i := level.head; i < len(level.batches); i++ {
			b := level.batches[i]
			if b == nil || b.Quantity == 0 {
				continue
			}
			if !fn(b) {
				return
			}
		}
	}
}

// Get returns a live batch by ID.
func (p *Pool) Get(id uint64) (*Batch, bool) {
	b, ok := p.byID[id]
	return b, ok
}

// ApplyDraws decrements batch quantities by the planned draws and removes
// emptied batches. Draws must not exceed the batch quantity.
func (p *Pool) ApplyDraws(draws map[uint64]int64) error {
	for id, qty := range draws {
		b, ok := p.byID[id]
		if !ok {
			return fmt.Errorf("draw against unknown batch %d", id)
		}
		if qty < 0 || qty > b.Quantity {
			return fmt.Errorf("draw %d exceeds batch %d quantity %d", qty, id, b.Quantity)
		}
		b.Quantity -= qty
		p.total -= qty
		if b.Quantity == 0 {
			delete(p.byID, id)
		}
	}
	for _, level := range p.levels {
		level.compact()
	}
	p.dropEmptyLevels()
	return nil
}

func (p *Pool) dropEmptyLevels() {
	live := p.levels[:0]
	for _, level := range p.levels {
		if level.live() > 0 {
			live = append(live, level)
		}
	}
	p.levels = live
}

// Reset wipes the pool. Only the emergency-reset path uses this.
func (p *Pool) Reset() {
	p.levels = nil
	p.byID = make(map[uint64]*Batch)
	p.total = 0
}

// --- Snapshot / Restore ---

// BatchSnapshot is the serializable form of a batch.
type BatchSnapshot struct {
	ID        uint64 `json:"id"`
	OwnerKind uint8  `json:"owner_kind"`
	OwnerAddr string `json:"owner_addr,omitempty"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

// PoolSnapshot captures live batches in scan order plus the ID counter.
type PoolSnapshot struct {
	Batches []BatchSnapshot `json:"batches"`
	NextID  uint64          `json:"next_id"`
}

// Snapshot captures the pool in deterministic scan order.
func (p *Pool) Snapshot() PoolSnapshot {
	snap := PoolSnapshot{NextID: p.nextID}
	p.Scan(func(b *Batch) bool {
		bs := BatchSnapshot{
			ID:        b.ID,
			OwnerKind: uint8(b.Owner.Kind),
			Price:     b.Price,
			Quantity:  b.Quantity,
		}
		if b.Owner.Kind != OwnerImport {
			bs.OwnerAddr = b.Owner.Addr.String()
		}
		snap.Batches = append(snap.Batches, bs)
		return true
	})
	return snap
}

// Restore replaces pool contents from a snapshot. FIFO order within a price
// level follows batch ID order, which Snapshot preserves.
func (p *Pool) Restore(snap PoolSnapshot) error {
	p.Reset()
	for _, bs := range snap.Batches {
		owner := Owner{Kind: OwnerKind(bs.OwnerKind)}
		if owner.Kind != OwnerImport {
			addr, err := uuid.Parse(bs.OwnerAddr)
			if err != nil {
				return fmt.Errorf("invalid batch owner %q: %w", bs.OwnerAddr, err)
			}
			owner.Addr = addr
		}
		b := &Batch{ID: bs.ID, Owner: owner, Price: bs.Price, Quantity: bs.Quantity}
		p.byID[b.ID] = b
		p.total += b.Quantity

		idx := sort.Search(len(p.levels), func(i int) bool { return p.levels[i].price >= b.Price })
		if idx < len(p.levels) && p.levels[idx].price == b.Price {
			p.levels[idx].batches = append(p.levels[idx].batches, b)
		} else {
			level := &priceLevel{price: b.Price, batches: []*Batch{b}}
			p.levels = append(p.levels, nil)
			copy(p.levels[idx+1:], p.levels[idx:])
			p.levels[idx] = level
		}
	}
	if snap.NextID > 0 {
		p.nextID = snap.NextID
	} else {
		p.nextID = 1
	}
	return nil
}

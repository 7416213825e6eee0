package core

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"GridLedger/internal/event"
	"GridLedger/internal/ledger"
	"GridLedger/internal/observability"
	"GridLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CoreOutput is what the core emits per processed event: the sealed
// envelope plus the balanced transfers it produced. The orchestrator
// bridges this to the persistence and projection workers.
type CoreOutput struct {
	Envelope  event.EventEnvelope
	Transfers []ledger.Transfer
}

// Config carries the core's wiring.
type Config struct {
	IdempotencyCapacity int
	DBChecker           DBIdempotencyChecker
	Metrics             *observability.Metrics
	Logger              zerolog.Logger

	// PersistChan receives every processed event; sends BLOCK so the core
	// stalls rather than lose an event. Nil disables emission (tests).
	PersistChan chan<- CoreOutput

	// ProjectionChan is best-effort; sends never block. Nil disables.
	ProjectionChan chan<- CoreOutput
}

// Core is the deterministic single-writer engine. All mutating operations
// flow through ProcessEvent, which is serialized; read methods take a
// shared lock and observe only committed state.
type Core struct {
	mu sync.RWMutex

	sequence int64
	hasher   *StateHasher

	balances *ledger.BalanceTracker
	tokens   *ledger.TokenSupply
	valid    *ledger.InvariantValidator

	registry *state.Registry
	battery  *state.Battery
	pool     *state.Pool

	// Cumulative consumed quantity across all successful consumption calls.
	collectiveConsumption int64

	idempotency  *IdempotencyChecker
	seqValidator *SequenceValidator

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewCore(cfg Config) *Core {
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 100000
	}

	balances := ledger.NewBalanceTracker()
	tokens := ledger.NewTokenSupply()

	return &Core{
		hasher:         NewStateHasher(),
		balances:       balances,
		tokens:         tokens,
		valid:          ledger.NewInvariantValidator(balances, tokens),
		registry:       state.NewRegistry(),
		battery:        state.NewBattery(),
		pool:           state.NewPool(),
		idempotency:    NewIdempotencyChecker(capacity, cfg.DBChecker),
		seqValidator:   NewSequenceValidator(),
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}
}

// partitionFor groups event types into upstream ordering partitions.
func partitionFor(et event.EventType) string {
	switch et {
	case event.EventTypeEnergyDistributed:
		return "distribution"
	case event.EventTypeEnergyConsumed:
		return "consumption"
	case event.EventTypeDebtSettled:
		return "bridge"
	default:
		return "admin"
	}
}

// ProcessEvent runs one event through the full pipeline:
// idempotency check → sequence validation → dispatch (plan-then-apply) →
// token sync → zero-sum check → state hash → emit.
// On error nothing is mutated and nothing is emitted.
func (c *Core) ProcessEvent(evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(evt, false)
}

// ReplayEvent feeds an event-log row back through the pipeline during
// recovery. The idempotency gate is bypassed: a replayed event is by
// definition already in the event log, which is exactly what both dedup
// tiers detect, so running it through ProcessEvent would skip it and lose
// its state. The key is still marked afterwards so post-recovery
// redeliveries dedup normally.
func (c *Core) ReplayEvent(evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(evt, true)
}

func (c *Core) process(evt event.Event, replay bool) error {
	start := time.Now()
	et := evt.EventType()
	key := evt.IdempotencyKey()

	if !replay && c.idempotency.IsDuplicate(et.String(), key) {
		if c.metrics != nil {
			c.metrics.DuplicatesTotal.WithLabelValues(et.String()).Inc()
		}
		c.logger.Debug().Str("event_type", et.String()).Str("key", key).
			Msg("duplicate event skipped")
		return nil
	}

	if ss := evt.SourceSequence(); ss != event.SourceSequenceNone {
		if err := c.seqValidator.ValidateSequence(partitionFor(et), ss, false); err != nil {
			c.recordResult(et, "sequence_error", start)
			return err
		}
	}

	batch, ts, err := c.dispatch(evt)
	if err != nil {
		c.recordResult(et, "rejected", start)
		return err
	}

	// Mirror token supply for every member account the batch touched.
	if batch != nil {
		c.syncTokens(batch)
	}

	// The zero-sum property must hold after every mutating call. Transfers
	// are balanced by construction, so a failure here is a defect.
	if err := c.valid.ValidateGlobalBalance(); err != nil {
		c.recordResult(et, "invariant_violation", start)
		c.logger.Error().Err(err).Int64("sequence", c.sequence).
			Msg("zero-sum invariant violated")
		return fmt.Errorf("invariant violation after %s: %w", et, err)
	}

	seq := c.sequence
	c.sequence++

	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(seq, c.stateDigest())

	c.idempotency.MarkProcessed(et.String(), key)

	payload, err := json.Marshal(evt)
	if err != nil {
		// Payload marshalling of our own wire structs cannot fail; log and
		// persist an empty payload rather than halt the ledger.
		c.logger.Error().Err(err).Msg("payload marshal failed")
		payload = []byte("{}")
	}

	out := CoreOutput{
		Envelope: event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: key,
			EventType:      et,
			Timestamp:      ts,
			SourceSequence: evt.SourceSequence(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
	}
	if batch != nil {
		out.Transfers = batch.Transfers
		for i := range out.Transfers {
			out.Transfers[i].Sequence = seq
		}
	}

	c.emit(out)
	c.updateGauges()
	c.recordResult(et, "applied", start)

	c.logger.Info().
		Str("event_type", et.String()).
		Int64("sequence", seq).
		Int("transfers", len(out.Transfers)).
		Msg("event applied")

	return nil
}

// dispatch routes the event to its handler. Handlers either return an
// error without mutating anything, or mutate fully and return the applied
// transfer batch (nil when the event moves no cash).
func (c *Core) dispatch(evt event.Event) (*ledger.Batch, time.Time, error) {
	switch e := evt.(type) {
	case *event.MemberAdded:
		return nil, e.Timestamp, c.registry.AddMember(e.MemberAddr, e.DeviceIDs, e.OwnershipBps)
	case *event.MemberRemoved:
		return nil, e.Timestamp, c.registry.RemoveMember(e.MemberAddr)
	case *event.CommunityDeviceSet:
		return nil, e.Timestamp, c.registry.SetCommunityDeviceID(e.DeviceID)
	case *event.ExportDeviceSet:
		return nil, e.Timestamp, c.registry.SetExportDeviceID(e.DeviceID)
	case *event.ExportPriceSet:
		c.registry.SetExportPrice(e.Price)
		return nil, e.Timestamp, nil
	case *event.BatteryConfigured:
		return nil, e.Timestamp, c.battery.Configure(e.Price, e.MaxCapacity)
	case *event.EnergyDistributed:
		return nil, e.Timestamp, c.applyDistribution(e)
	case *event.EnergyConsumed:
		batch, err := c.applyConsumption(e)
		return batch, e.Timestamp, err
	case *event.DebtSettled:
		batch, err := c.applySettlement(e)
		return batch, e.Timestamp, err
	case *event.EmergencyReset:
		c.applyEmergencyReset()
		return nil, e.Timestamp, nil
	default:
		return nil, time.Time{}, fmt.Errorf("unhandled event type %T", evt)
	}
}

// applyEmergencyReset force-clears balances, tokens, pool, consumption
// counters and battery charge. Registry and battery configuration survive.
func (c *Core) applyEmergencyReset() {
	c.balances.Reset()
	c.tokens.Reset()
	c.pool.Reset()
	c.battery.Drain()
	c.collectiveConsumption = 0
}

// syncTokens re-mirrors the token supply for member accounts touched by a
// transfer batch.
func (c *Core) syncTokens(batch *ledger.Batch) {
	seen := make(map[uuid.UUID]struct{}, len(batch.Transfers)*2)
	for _, t := range batch.Transfers {
		for _, acct := range [2]ledger.AccountKey{t.DebitAccount, t.CreditAccount} {
			if acct.Scope != ledger.AccountScopeMember {
				continue
			}
			addr := acct.MemberAddr()
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			c.tokens.Sync(addr, c.balances.MemberBalance(addr))
		}
	}
}

// stateDigest serializes the full ledger state deterministically.
func (c *Core) stateDigest() []byte {
	type digestState struct {
		Balances map[string]int64       `json:"balances"`
		Order    []string               `json:"order"`
		Tokens   map[string]int64       `json:"tokens"`
		Battery  state.BatteryInfo      `json:"battery"`
		Pool     state.PoolSnapshot     `json:"pool"`
		Registry state.RegistrySnapshot `json:"registry"`
		Consumed int64                  `json:"consumed"`
	}
	ds := digestState{
		Balances: c.balances.Snapshot(),
		Order:    c.balances.SortedPaths(),
		Tokens:   c.tokens.Snapshot(),
		Battery:  c.battery.Info(),
		Pool:     c.pool.Snapshot(),
		Registry: c.registry.Snapshot(),
		Consumed: c.collectiveConsumption,
	}
	// Maps serialize with sorted keys under encoding/json, so this is
	// deterministic for identical state.
	data, err := json.Marshal(ds)
	if err != nil {
		c.logger.Error().Err(err).Msg("state digest marshal failed")
		return nil
	}
	return data
}

func (c *Core) emit(out CoreOutput) {
	if c.persistChan != nil {
		c.persistChan <- out
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDropped.Inc()
			}
		}
	}
}

func (c *Core) recordResult(et event.EventType, result string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.EventsProcessed.WithLabelValues(et.String(), result).Inc()
	c.metrics.ProcessDuration.WithLabelValues(et.String()).Observe(time.Since(start).Seconds())
}

func (c *Core) updateGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.PoolQuantity.Set(float64(c.pool.TotalQuantity()))
	c.metrics.PoolBatches.Set(float64(c.pool.Len()))
	c.metrics.BatteryState.Set(float64(c.battery.Info().CurrentState))
	c.metrics.TokenSupply.Set(float64(c.tokens.TotalSupply()))
	_, residual := c.valid.VerifyZeroSum()
	c.metrics.ZeroSumResidual.Set(float64(residual))
}

// --- Read API (point-in-time snapshots of committed state) ---

// CashCreditBalance returns a member's signed balance in cents.
func (c *Core) CashCreditBalance(addr uuid.UUID) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances.MemberBalance(addr)
}

// TokenBalance returns a member's positive-balance token holding.
func (c *Core) TokenBalance(addr uuid.UUID) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.TokenBalance(addr)
}

// ExportCashCreditBalance returns the export aggregate.
func (c *Core) ExportCashCreditBalance() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances.AggregateBalance(ledger.AggregateExport)
}

// ImportCashCreditBalance returns the import aggregate.
func (c *Core) ImportCashCreditBalance() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances.AggregateBalance(ledger.AggregateImport)
}

// SettledBalance returns the settled aggregate (negative once debt has
// been settled through the bridge).
func (c *Core) SettledBalance() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances.AggregateBalance(ledger.AggregateSettled)
}

// VerifyZeroSum reports whether all signed balances sum to zero.
func (c *Core) VerifyZeroSum() (bool, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valid.VerifyZeroSum()
}

// TotalUnconsumedEnergy returns the live pool quantity.
func (c *Core) TotalUnconsumedEnergy() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool.TotalQuantity()
}

// CollectiveConsumption returns cumulative consumed quantity.
func (c *Core) CollectiveConsumption() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectiveConsumption
}

// BatteryInfo returns the battery's read view.
func (c *Core) BatteryInfo() state.BatteryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.battery.Info()
}

// PoolContents returns the pool in scan order.
func (c *Core) PoolContents() state.PoolSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool.Snapshot()
}

// MemberView is the read shape for registry queries.
type MemberView struct {
	Addr         uuid.UUID `json:"addr"`
	OwnershipBps int64     `json:"ownership_bps"`
	Devices      []uint64  `json:"devices"`
}

// Members returns active members in registration order.
func (c *Core) Members() []MemberView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := c.registry.ActiveMembers()
	out := make([]MemberView, 0, len(members))
	for _, m := range members {
		out = append(out, MemberView{
			Addr:         m.Addr,
			OwnershipBps: m.OwnershipBps,
			Devices:      append([]uint64(nil), m.Devices...),
		})
	}
	return out
}

// IsMember reports whether addr is an active member.
func (c *Core) IsMember(addr uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.IsMember(addr)
}

// Sequence returns the next sequence the core will assign.
func (c *Core) Sequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// WarmIdempotency preloads composite event_type:key strings into the LRU,
// typically from the event log on startup.
func (c *Core) WarmIdempotency(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// --- Snapshot / Restore ---

// SnapshotState is the full serializable core state.
type SnapshotState struct {
	Sequence              int64                  `json:"sequence"`
	StateHash             [32]byte               `json:"state_hash"`
	Balances              map[string]int64       `json:"balances"`
	Tokens                map[string]int64       `json:"tokens"`
	Registry              state.RegistrySnapshot `json:"registry"`
	Battery               state.BatteryInfo      `json:"battery"`
	Pool                  state.PoolSnapshot     `json:"pool"`
	ExpectedSequences     map[string]int64       `json:"expected_sequences"`
	IdempotencyKeys       []string               `json:"idempotency_keys"`
	CollectiveConsumption int64                  `json:"collective_consumption"`
}

// CreateSnapshotState captures the current state for periodic snapshots.
func (c *Core) CreateSnapshotState() SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SnapshotState{
		Sequence:              c.sequence,
		StateHash:             c.hasher.GetPrevHash(),
		Balances:              c.balances.Snapshot(),
		Tokens:                c.tokens.Snapshot(),
		Registry:              c.registry.Snapshot(),
		Battery:               c.battery.Info(),
		Pool:                  c.pool.Snapshot(),
		ExpectedSequences:     c.seqValidator.Snapshot(),
		IdempotencyKeys:       c.idempotency.lru.Keys(),
		CollectiveConsumption: c.collectiveConsumption,
	}
}

// RestoreFromSnapshot replaces all state from a snapshot. Used on startup
// before replaying the event-log tail.
func (c *Core) RestoreFromSnapshot(snap SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.balances.Restore(snap.Balances); err != nil {
		return fmt.Errorf("restore balances: %w", err)
	}
	if err := c.tokens.Restore(snap.Tokens); err != nil {
		return fmt.Errorf("restore tokens: %w", err)
	}
	if err := c.registry.Restore(snap.Registry); err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}
	c.battery.Restore(snap.Battery)
	if err := c.pool.Restore(snap.Pool); err != nil {
		return fmt.Errorf("restore pool: %w", err)
	}
	for partition, seq := range snap.ExpectedSequences {
		c.seqValidator.SetExpectedSequence(partition, seq)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	c.sequence = snap.Sequence
	c.hasher.SetPrevHash(snap.StateHash)
	c.collectiveConsumption = snap.CollectiveConsumption

	if err := c.valid.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("snapshot is not zero-sum: %w", err)
	}
	return nil
}

// Package core is the single-threaded transaction processor. It owns the
// protocol state and turns each accepted transaction into a hashed, ordered
// output for persistence and projections.
package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"OptionLedger/internal/errs"
	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/options"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// DefaultLRUCapacity bounds the in-memory idempotency cache.
const DefaultLRUCapacity = 1_000_000

// globalCheckInterval is how often the zero-sum check over every asset runs.
const globalCheckInterval = 1000

// DeterministicCore is the single-threaded transaction processor.
// ProcessEvent must be called from one goroutine; the read accessors may be
// called concurrently.
type DeterministicCore struct {
	mu sync.RWMutex

	sequence          int64
	lastTimestamp     int64
	hasher            *StateHasher
	protocol          *Protocol
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything produced by one applied transaction.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	Logs       []receipt.Log
	Options    []options.Option
	Tranches   []TrancheUpdate
	Pools      []pool.Stats
	Balances   []BalanceUpdate
	StateDelta []byte
}

// TrancheUpdate is the post-transaction state of one tranche.
type TrancheUpdate struct {
	Pool    common.Address
	Tranche pool.Tranche
}

// BalanceUpdate is a holder's balance after the transaction.
type BalanceUpdate struct {
	Owner   common.Address
	Asset   ledger.AssetID
	Balance *big.Int
}

// Result tells the submitter what happened to a transaction.
type Result struct {
	Sequence  int64
	StateHash [32]byte
	Duplicate bool
	// Ignored is set for price updates older than the applied one.
	Ignored bool
	Logs    []receipt.Log
}

func NewDeterministicCore(
	protocol *Protocol,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	logger := observability.NewLogger("core")
	return &DeterministicCore{
		hasher:            NewStateHasher(),
		protocol:          protocol,
		idempotency:       NewIdempotencyChecker(DefaultLRUCapacity, dbChecker, metrics, logger),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline. A returned error means the
// transaction was rejected and the state is exactly as before.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (Result, error) {
	start := time.Now()
	eventType := evt.EventType().String()

	c.mu.Lock()
	output, res, err := c.apply(evt, false)
	c.mu.Unlock()

	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, errs.CategoryOf(err).String()).Inc()
		}
		return res, err
	}
	if output == nil {
		if c.metrics != nil {
			reason := "duplicate"
			if res.Ignored {
				reason = "stale_price"
			}
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
		}
		return res, nil
	}

	// Persistence: blocking send, the core stalls until the persistence
	// worker drains so no applied transaction is lost.
	if c.persistChan != nil {
		c.persistChan <- *output
	}
	// Projections: non-blocking send, dropped outputs are rebuilt from the log.
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(res.Sequence))
		c.recordDomainMetrics(output)
	}
	return res, nil
}

// Replay re-applies a transaction read back from the event log. Idempotency
// lookups are skipped (the log itself would report a duplicate) and nothing
// is emitted. The resulting sequence and state hash must match the log.
func (c *DeterministicCore) Replay(evt event.Event, sequence int64, stateHash [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sequence != c.sequence {
		return fmt.Errorf("replay out of order: log has %d, core expects %d", sequence, c.sequence)
	}
	output, _, err := c.apply(evt, true)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", sequence, err)
	}
	if output == nil {
		return fmt.Errorf("replay seq %d: transaction was not applied", sequence)
	}
	if output.Envelope.StateHash != stateHash {
		return fmt.Errorf("replay seq %d: state hash mismatch, log %x, computed %x",
			sequence, stateHash, output.Envelope.StateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// apply runs under the write lock. A nil output with a nil error means the
// transaction was a duplicate or a stale price update.
func (c *DeterministicCore) apply(evt event.Event, replay bool) (*CoreOutput, Result, error) {
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := !replay && c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Ordering
	priceEvt, isPrice := evt.(*event.PriceUpdate)
	partition := senderPartition(evt.Sender())
	if isPrice {
		if isDuplicate {
			return nil, Result{Duplicate: true}, nil
		}
		if !c.sequenceValidator.AcceptPrice(priceEvt.PriceSequence) {
			return nil, Result{Ignored: true}, nil
		}
	} else {
		if err := c.sequenceValidator.CheckSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
			return nil, Result{}, err
		}
		if isDuplicate {
			return nil, Result{Duplicate: true}, nil
		}
	}

	// Step 3: Block time never moves backwards
	timestamp := evt.BlockTime()
	if timestamp < 0 || timestamp < c.lastTimestamp {
		return nil, Result{}, fmt.Errorf("%w: %d after %d", ErrTimeRegression, timestamp, c.lastTimestamp)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, Result{}, fmt.Errorf("%w: encode %s: %v", ErrUnknownTransaction, eventType, err)
	}

	// Step 4: Dispatch inside a ledger batch; a rejection reverses every journal
	p := c.protocol
	p.tokens.Begin(idempotencyKey, c.sequence, timestamp)
	eff, err := c.dispatchEvent(evt)
	if err != nil {
		p.tokens.Discard()
		p.recorder.Discard()
		return nil, Result{}, err
	}
	batch := p.tokens.Commit()
	logs := p.recorder.Take()

	// Step 5: Post-checks
	if err := p.tokens.Validator().ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch for %s: %v", eventType, err))
	}
	if err := p.tokens.Validator().ValidateHoldersNonNegative(batch); err != nil {
		panic(fmt.Sprintf("FATAL: negative holder balance after %s: %v", eventType, err))
	}
	if c.sequence > 0 && c.sequence%globalCheckInterval == 0 {
		if err := p.tokens.Validator().ValidateGlobalBalance(); err != nil {
			panic(fmt.Sprintf("FATAL: zero-sum violated at seq %d: %v", c.sequence, err))
		}
	}

	// Step 6: Commit ordering state
	if isPrice {
		c.sequenceValidator.Advance(PricePartition, priceEvt.PriceSequence)
	} else {
		c.sequenceValidator.Advance(partition, evt.SourceSequence())
	}
	c.lastTimestamp = timestamp

	// Step 7: Hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(payload, batch, logs)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Sender:         evt.Sender(),
		Timestamp:      timestamp,
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := &CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		Logs:       logs,
		StateDelta: stateDigest,
	}
	if !replay {
		c.collectEffects(output, eff)
	}
	res := Result{Sequence: c.sequence, StateHash: stateHash, Logs: logs}

	c.sequence++
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	return output, res, nil
}

// collectEffects copies the touched entities into the output for projections.
func (c *DeterministicCore) collectEffects(out *CoreOutput, eff effects) {
	p := c.protocol
	for _, id := range eff.options {
		if o, err := p.engine.Option(id); err == nil {
			out.Options = append(out.Options, o)
		}
	}
	for _, ref := range eff.tranches {
		if pl, ok := p.pools[ref.Pool]; ok {
			if t, err := pl.Tranche(ref.ID); err == nil {
				out.Tranches = append(out.Tranches, TrancheUpdate{Pool: ref.Pool, Tranche: t})
			}
		}
	}
	for _, addr := range p.poolAddresses() {
		out.Pools = append(out.Pools, p.pools[addr].Stats())
	}
	out.Balances = holderBalances(p.tokens, out.Batch)
}

// holderBalances lists the post-transaction balance of every holder account
// the batch touched, ordered by account path.
func holderBalances(tokens *ledger.TokenLedger, batch *ledger.Batch) []BalanceUpdate {
	if batch == nil {
		return nil
	}
	seen := make(map[ledger.AccountKey]bool)
	var keys []ledger.AccountKey
	for _, j := range batch.Journals {
		for _, k := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if k.Scope != ledger.AccountScopeHolder || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].AccountPath() < keys[j].AccountPath() })
	out := make([]BalanceUpdate, 0, len(keys))
	for _, k := range keys {
		out = append(out, BalanceUpdate{Owner: k.Owner, Asset: k.AssetID, Balance: tokens.BalanceOf(k.Owner, k.AssetID)})
	}
	return out
}

// computeStateDigest creates canonical bytes for the state hash: the
// transaction payload, every touched balance after the transaction, and the
// emitted logs.
func (c *DeterministicCore) computeStateDigest(payload []byte, batch *ledger.Batch, logs []receipt.Log) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(payload)+len(accounts)*96+len(logs)*128)
	digest = appendBytes(digest, payload)

	tracker := c.protocol.tokens.Tracker()
	for _, key := range accounts {
		digest = appendBytes(digest, []byte(key.AccountPath()))
		digest = appendBigInt(digest, tracker.GetBalance(key))
	}

	for _, l := range logs {
		digest = append(digest, l.Source.Bytes()...)
		topic := receipt.Topic(l.Event)
		digest = append(digest, topic.Bytes()...)
		body, err := json.Marshal(l.Event)
		if err != nil {
			panic(fmt.Sprintf("FATAL: cannot encode %s log: %v", l.Event.EventName(), err))
		}
		digest = appendBytes(digest, body)
	}
	return digest
}

func appendBytes(buf, b []byte) []byte {
	n := uint32(len(b))
	buf = append(buf, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	return append(buf, b...)
}

// appendBigInt writes a sign byte followed by the length-prefixed magnitude.
func appendBigInt(buf []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	buf = append(buf, sign)
	return appendBytes(buf, v.Bytes())
}

func (c *DeterministicCore) recordDomainMetrics(out *CoreOutput) {
	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	for _, l := range out.Logs {
		c.metrics.CoreProtocolEvents.WithLabelValues(l.Event.EventName()).Inc()
		var id uint64
		outcome := ""
		switch e := l.Event.(type) {
		case receipt.Create:
			id, outcome = e.OptionID, "created"
		case receipt.Exercise:
			id, outcome = e.OptionID, "exercised"
		case receipt.Expire:
			id, outcome = e.OptionID, "expired"
		default:
			continue
		}
		for _, o := range out.Options {
			if o.ID != id {
				continue
			}
			if outcome == "created" {
				c.metrics.OptionsCreated.WithLabelValues(o.Type.String()).Inc()
			} else {
				c.metrics.OptionsSettled.WithLabelValues(o.Type.String(), outcome).Inc()
			}
		}
	}
	if out.Envelope.EventType == event.EventTypePriceUpdate {
		if price, err := c.Price(); err == nil {
			f, _ := new(big.Float).SetInt(price).Float64()
			c.metrics.OraclePrice.Set(f)
		}
	}
	for _, s := range out.Pools {
		label := s.Address.Hex()
		balance, _ := new(big.Float).SetInt(s.TotalBalance).Float64()
		locked, _ := new(big.Float).SetInt(s.LockedAmount).Float64()
		c.metrics.PoolTotalBalance.WithLabelValues(label).Set(balance)
		c.metrics.PoolLockedAmount.WithLabelValues(label).Set(locked)
		c.metrics.PoolTranches.WithLabelValues(label).Set(float64(s.Tranches))
		if balance > 0 {
			c.metrics.PoolUtilization.WithLabelValues(label).Set(locked / balance)
		}
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState is the serializable core state.
type SnapshotState struct {
	Sequence        int64            `json:"sequence"` // last applied sequence, -1 if none
	StateHash       common.Hash      `json:"state_hash"`
	LastTimestamp   int64            `json:"last_timestamp"`
	Protocol        ProtocolState    `json:"protocol"`
	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       common.Hash(c.hasher.GetPrevHash()),
		LastTimestamp:   c.lastTimestamp,
		Protocol:        c.protocol.Export(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot replaces the core's in-memory state with snap.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	protocol, err := RestoreProtocol(snap.Protocol)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.protocol = protocol
	c.sequence = snap.Sequence + 1
	c.lastTimestamp = snap.LastTimestamp
	c.hasher.SetPrevHash([32]byte(snap.StateHash))
	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence to be assigned.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

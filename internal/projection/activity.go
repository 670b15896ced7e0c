package projection

import (
	"sync"

	"OptionLedger/internal/core"

	"github.com/ethereum/go-ethereum/common"
)

// ActivityEntry is one applied transaction as seen by an account.
type ActivityEntry struct {
	Sequence  int64          `json:"sequence"`
	TxID      string         `json:"tx_id"`
	EventType string         `json:"event_type"`
	Sender    common.Address `json:"sender"`
	Events    []string       `json:"events"`
	OptionIDs []uint64       `json:"option_ids,omitempty"`
	BlockTime int64          `json:"block_time"`
}

// ActivityFeed keeps the most recent applied transactions in memory for the
// per-account activity endpoint. It is bounded and lost on restart; the
// durable history is event_log.transactions.
type ActivityFeed struct {
	mu       sync.RWMutex
	entries  []ActivityEntry
	next     int
	full     bool
	capacity int
}

func NewActivityFeed(capacity int) *ActivityFeed {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &ActivityFeed{entries: make([]ActivityEntry, capacity), capacity: capacity}
}

// Record appends one output, overwriting the oldest entry when full.
func (f *ActivityFeed) Record(out core.CoreOutput) {
	env := out.Envelope
	entry := ActivityEntry{
		Sequence:  env.Sequence,
		TxID:      env.IdempotencyKey,
		EventType: env.EventType.String(),
		Sender:    env.Sender,
		BlockTime: env.Timestamp,
	}
	for _, l := range out.Logs {
		entry.Events = append(entry.Events, l.Event.EventName())
	}
	for _, o := range out.Options {
		entry.OptionIDs = append(entry.OptionIDs, o.ID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[f.next] = entry
	f.next = (f.next + 1) % f.capacity
	if f.next == 0 {
		f.full = true
	}
}

// QueryBySender returns up to limit entries sent by account, newest first.
func (f *ActivityFeed) QueryBySender(account common.Address, limit int) []ActivityEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.next
	if f.full {
		n = f.capacity
	}
	result := make([]ActivityEntry, 0)
	for i := 0; i < n && len(result) < limit; i++ {
		idx := (f.next - 1 - i + f.capacity) % f.capacity
		if f.entries[idx].Sender == account {
			result = append(result, f.entries[idx])
		}
	}
	return result
}

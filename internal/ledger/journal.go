package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeMint
	JournalTypeProvide
	JournalTypeWithdraw
	JournalTypePremium
	JournalTypeSettlementFee
	JournalTypeHedgeFee
	JournalTypePayout
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeMint:
		return "mint"
	case JournalTypeProvide:
		return "provide"
	case JournalTypeWithdraw:
		return "withdraw"
	case JournalTypePremium:
		return "premium"
	case JournalTypeSettlementFee:
		return "settlement_fee"
	case JournalTypeHedgeFee:
		return "hedge_fee"
	case JournalTypePayout:
		return "payout"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Deterministic: derived from the batch and entry index
	BatchID       uuid.UUID   // Groups the entries of one transaction
	EventRef      string      // Idempotency key of source transaction
	Sequence      int64       // Global transaction sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        *big.Int    // Smallest-unit amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Block time of the transaction (unix seconds)
}

// Batch represents all journal entries produced by one transaction
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry is a balanced transfer by construction, so the batch
// only needs per-entry checks.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %v", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

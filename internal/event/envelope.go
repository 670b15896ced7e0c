package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType discriminator for transaction payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeProvide
	EventTypeWithdraw
	EventTypeTransferTranche
	EventTypeApproveTranche
	EventTypeCreateOption
	EventTypeExerciseOption
	EventTypeUnlockOption
	EventTypeApproveOption
	EventTypeTransferOption
	EventTypePriceUpdate
	EventTypeMint
	EventTypeTokenTransfer
	EventTypeTokenApprove
	EventTypeSetLockupPeriod
	EventTypeSetHedgePool
	EventTypeSetHedgeFeeRate
	EventTypeSetImpliedVolRate
	EventTypeSetSettlementFeeRecipients
	EventTypeSetPools
	EventTypeGrantRole
	EventTypeRevokeRole
	EventTypeTransferPoolsOwnership
)

var eventTypeNames = map[EventType]string{
	EventTypeProvide:                    "Provide",
	EventTypeWithdraw:                   "Withdraw",
	EventTypeTransferTranche:            "TransferTranche",
	EventTypeApproveTranche:             "ApproveTranche",
	EventTypeCreateOption:               "CreateOption",
	EventTypeExerciseOption:             "ExerciseOption",
	EventTypeUnlockOption:               "UnlockOption",
	EventTypeApproveOption:              "ApproveOption",
	EventTypeTransferOption:             "TransferOption",
	EventTypePriceUpdate:                "PriceUpdate",
	EventTypeMint:                       "Mint",
	EventTypeTokenTransfer:              "TokenTransfer",
	EventTypeTokenApprove:               "TokenApprove",
	EventTypeSetLockupPeriod:            "SetLockupPeriod",
	EventTypeSetHedgePool:               "SetHedgePool",
	EventTypeSetHedgeFeeRate:            "SetHedgeFeeRate",
	EventTypeSetImpliedVolRate:          "SetImpliedVolRate",
	EventTypeSetSettlementFeeRecipients: "SetSettlementFeeRecipients",
	EventTypeSetPools:                   "SetPools",
	EventTypeGrantRole:                  "GrantRole",
	EventTypeRevokeRole:                 "RevokeRole",
	EventTypeTransferPoolsOwnership:     "TransferPoolsOwnership",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// EventEnvelope wraps every applied transaction in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Principal that signed the transaction
	Sender common.Address

	// Block time of the transaction (unix seconds, NOT wall-clock)
	Timestamp int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded transaction
	Payload []byte

	// SHA-256 of state AFTER applying this transaction
	StateHash [32]byte

	// Previous transaction's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all transaction payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Sender returns the principal the transaction acts for
	Sender() common.Address

	// SourceSequence returns the sender's nonce
	SourceSequence() int64

	// BlockTime returns the caller-supplied current time
	BlockTime() int64
}

// Header carries the fields every transaction shares.
type Header struct {
	TxID  uuid.UUID      `json:"tx_id"`
	From  common.Address `json:"sender"`
	Nonce int64          `json:"nonce"`
	Time  int64          `json:"timestamp"`
}

func (h Header) IdempotencyKey() string { return h.TxID.String() }
func (h Header) Sender() common.Address { return h.From }
func (h Header) SourceSequence() int64  { return h.Nonce }
func (h Header) BlockTime() int64       { return h.Time }

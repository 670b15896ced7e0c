package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"OptionLedger/internal/errs"
	"OptionLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	ErrUnknownType = errs.Input("ingestion: unknown transaction type")
	ErrMalformed   = errs.Input("ingestion: malformed transaction")
)

// newTx returns an empty transaction of type et. The JSON wire format of a
// transaction is the JSON encoding of these structs, which is also what the
// event log stores as payload.
func newTx(et event.EventType) event.Event {
	switch et {
	case event.EventTypeProvide:
		return &event.Provide{}
	case event.EventTypeWithdraw:
		return &event.Withdraw{}
	case event.EventTypeTransferTranche:
		return &event.TransferTranche{}
	case event.EventTypeApproveTranche:
		return &event.ApproveTranche{}
	case event.EventTypeCreateOption:
		return &event.CreateOption{}
	case event.EventTypeExerciseOption:
		return &event.ExerciseOption{}
	case event.EventTypeUnlockOption:
		return &event.UnlockOption{}
	case event.EventTypeApproveOption:
		return &event.ApproveOption{}
	case event.EventTypeTransferOption:
		return &event.TransferOption{}
	case event.EventTypePriceUpdate:
		return &event.PriceUpdate{}
	case event.EventTypeMint:
		return &event.Mint{}
	case event.EventTypeTokenTransfer:
		return &event.TokenTransfer{}
	case event.EventTypeTokenApprove:
		return &event.TokenApprove{}
	case event.EventTypeSetLockupPeriod:
		return &event.SetLockupPeriod{}
	case event.EventTypeSetHedgePool:
		return &event.SetHedgePool{}
	case event.EventTypeSetHedgeFeeRate:
		return &event.SetHedgeFeeRate{}
	case event.EventTypeSetImpliedVolRate:
		return &event.SetImpliedVolRate{}
	case event.EventTypeSetSettlementFeeRecipients:
		return &event.SetSettlementFeeRecipients{}
	case event.EventTypeSetPools:
		return &event.SetPools{}
	case event.EventTypeGrantRole:
		return &event.GrantRole{}
	case event.EventTypeRevokeRole:
		return &event.RevokeRole{}
	case event.EventTypeTransferPoolsOwnership:
		return &event.TransferPoolsOwnership{}
	}
	return nil
}

// ParseTx decodes a transaction of the named type. Unknown fields are
// rejected so a typo never silently defaults a value.
func ParseTx(eventType string, data []byte) (event.Event, error) {
	et, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
	tx := newTx(et)
	if tx == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(tx); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformed, eventType, err)
	}
	if err := validateTx(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// DecodePayload reads back a payload stored in the event log. The log only
// holds transactions the core accepted, so only decoding can fail.
func DecodePayload(eventType string, payload []byte) (event.Event, error) {
	et, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
	tx := newTx(et)
	if tx == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
	if err := json.Unmarshal(payload, tx); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return tx, nil
}

// validateTx checks the shape of a transaction. Domain rules (balances,
// roles, periods) are the core's job.
func validateTx(tx event.Event) error {
	if _, isPrice := tx.(*event.PriceUpdate); !isPrice {
		if id, err := uuid.Parse(tx.IdempotencyKey()); err != nil || id == uuid.Nil {
			return fmt.Errorf("%w: tx_id must be a non-nil uuid", ErrMalformed)
		}
	}
	if tx.Sender() == (common.Address{}) {
		return fmt.Errorf("%w: missing sender", ErrMalformed)
	}
	if tx.SourceSequence() < 0 {
		return fmt.Errorf("%w: negative nonce", ErrMalformed)
	}
	if tx.BlockTime() < 0 {
		return fmt.Errorf("%w: negative timestamp", ErrMalformed)
	}

	var amounts []*big.Int
	switch t := tx.(type) {
	case *event.Provide:
		amounts = []*big.Int{t.Amount}
	case *event.CreateOption:
		amounts = []*big.Int{t.Amount}
	case *event.PriceUpdate:
		amounts = []*big.Int{t.Price}
	case *event.Mint:
		amounts = []*big.Int{t.Amount}
	case *event.TokenTransfer:
		amounts = []*big.Int{t.Amount}
	case *event.TokenApprove:
		amounts = []*big.Int{t.Amount}
	case *event.SetImpliedVolRate:
		amounts = t.Rates[:]
	}
	for _, a := range amounts {
		if a == nil {
			return fmt.Errorf("%w: missing amount in %s", ErrMalformed, tx.EventType())
		}
	}
	return nil
}

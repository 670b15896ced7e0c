package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CreateOption buys an option for Holder, paid by the sender.
// Holder defaults to the sender when zero.
type CreateOption struct {
	Header
	Holder     common.Address `json:"holder"`
	Period     uint64         `json:"period"`
	Amount     *big.Int       `json:"amount"`
	Strike     *big.Int       `json:"strike"`
	OptionType uint8          `json:"option_type"`
}

func (*CreateOption) EventType() EventType { return EventTypeCreateOption }

type ExerciseOption struct {
	Header
	OptionID uint64 `json:"option_id"`
}

func (*ExerciseOption) EventType() EventType { return EventTypeExerciseOption }

type UnlockOption struct {
	Header
	OptionID uint64 `json:"option_id"`
}

func (*UnlockOption) EventType() EventType { return EventTypeUnlockOption }

type ApproveOption struct {
	Header
	OptionID uint64         `json:"option_id"`
	Operator common.Address `json:"operator"`
}

func (*ApproveOption) EventType() EventType { return EventTypeApproveOption }

type TransferOption struct {
	Header
	OptionID uint64         `json:"option_id"`
	To       common.Address `json:"to"`
}

func (*TransferOption) EventType() EventType { return EventTypeTransferOption }

type SetImpliedVolRate struct {
	Header
	Rates [3]*big.Int `json:"rates"`
}

func (*SetImpliedVolRate) EventType() EventType { return EventTypeSetImpliedVolRate }

type SetSettlementFeeRecipients struct {
	Header
	PutRecipient  common.Address `json:"put_recipient"`
	CallRecipient common.Address `json:"call_recipient"`
}

func (*SetSettlementFeeRecipients) EventType() EventType {
	return EventTypeSetSettlementFeeRecipients
}

type SetPools struct {
	Header
	PutPool  common.Address `json:"put_pool"`
	CallPool common.Address `json:"call_pool"`
}

func (*SetPools) EventType() EventType { return EventTypeSetPools }

type TransferPoolsOwnership struct {
	Header
}

func (*TransferPoolsOwnership) EventType() EventType { return EventTypeTransferPoolsOwnership }

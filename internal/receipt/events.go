// Package receipt defines the events the protocol emits for external indexers.
package receipt

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	NameProvide  = "Provide"
	NameWithdraw = "Withdraw"
	NameProfit   = "Profit"
	NameLoss     = "Loss"
	NameCreate   = "Create"
	NameExercise = "Exercise"
	NameExpire   = "Expire"
)

// Event is one indexer-facing event.
type Event interface {
	EventName() string
	// Signature is the canonical ABI-style signature hashed into the topic.
	Signature() string
}

// Topic returns keccak256(signature), the identifier indexers filter on.
func Topic(e Event) common.Hash {
	return crypto.Keccak256Hash([]byte(e.Signature()))
}

type Provide struct {
	Owner  common.Address `json:"owner"`
	Amount *big.Int       `json:"amount"`
	Share  *big.Int       `json:"share"`
	Hedged bool           `json:"hedged"`
}

func (Provide) EventName() string { return NameProvide }
func (Provide) Signature() string { return "Provide(address,uint256,uint256,bool)" }

type Withdraw struct {
	Owner     common.Address `json:"owner"`
	TrancheID uint64         `json:"tranche_id"`
}

func (Withdraw) EventName() string { return NameWithdraw }
func (Withdraw) Signature() string { return "Withdraw(address,uint256)" }

// Profit reports the part of a lock the pool kept.
type Profit struct {
	LockedID uint64   `json:"locked_id"`
	Amount   *big.Int `json:"amount"`
	Extra    *big.Int `json:"extra"`
}

func (Profit) EventName() string { return NameProfit }
func (Profit) Signature() string { return "Profit(uint256,uint256,uint256)" }

// Loss reports a lock paid out in full.
type Loss struct {
	LockedID uint64   `json:"locked_id"`
	Amount   *big.Int `json:"amount"`
	Extra    *big.Int `json:"extra"`
}

func (Loss) EventName() string { return NameLoss }
func (Loss) Signature() string { return "Loss(uint256,uint256,uint256)" }

type Create struct {
	OptionID      uint64         `json:"option_id"`
	Holder        common.Address `json:"holder"`
	SettlementFee *big.Int       `json:"settlement_fee"`
	Premium       *big.Int       `json:"premium"`
}

func (Create) EventName() string { return NameCreate }
func (Create) Signature() string { return "Create(uint256,address,uint256,uint256)" }

type Exercise struct {
	OptionID uint64   `json:"option_id"`
	Profit   *big.Int `json:"profit"`
}

func (Exercise) EventName() string { return NameExercise }
func (Exercise) Signature() string { return "Exercise(uint256,uint256)" }

type Expire struct {
	OptionID uint64 `json:"option_id"`
}

func (Expire) EventName() string { return NameExpire }
func (Expire) Signature() string { return "Expire(uint256)" }

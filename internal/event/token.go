package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mint issues tokens. Only the configured minter may send it.
type Mint struct {
	Header
	Asset  string         `json:"asset"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (*Mint) EventType() EventType { return EventTypeMint }

type TokenTransfer struct {
	Header
	Asset  string         `json:"asset"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (*TokenTransfer) EventType() EventType { return EventTypeTokenTransfer }

type TokenApprove struct {
	Header
	Asset   string         `json:"asset"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

func (*TokenApprove) EventType() EventType { return EventTypeTokenApprove }

package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Provide deposits Amount into Pool, paid by the sender. The tranche is
// minted to Account, or to the sender when Account is absent.
type Provide struct {
	Header
	Pool     common.Address  `json:"pool"`
	Account  *common.Address `json:"account,omitempty"`
	Amount   *big.Int        `json:"amount"`
	Hedged   bool            `json:"hedged"`
	MinShare *big.Int        `json:"min_share"`
}

func (*Provide) EventType() EventType { return EventTypeProvide }

// Withdraw closes a tranche. WithoutHedge skips the hedge pool top-up of a
// hedged tranche that lost value.
type Withdraw struct {
	Header
	Pool         common.Address `json:"pool"`
	TrancheID    uint64         `json:"tranche_id"`
	WithoutHedge bool           `json:"without_hedge,omitempty"`
}

func (*Withdraw) EventType() EventType { return EventTypeWithdraw }

type TransferTranche struct {
	Header
	Pool      common.Address `json:"pool"`
	TrancheID uint64         `json:"tranche_id"`
	To        common.Address `json:"to"`
}

func (*TransferTranche) EventType() EventType { return EventTypeTransferTranche }

type ApproveTranche struct {
	Header
	Pool      common.Address `json:"pool"`
	TrancheID uint64         `json:"tranche_id"`
	Operator  common.Address `json:"operator"`
}

func (*ApproveTranche) EventType() EventType { return EventTypeApproveTranche }

type SetLockupPeriod struct {
	Header
	Pool   common.Address `json:"pool"`
	Period uint64         `json:"period"`
}

func (*SetLockupPeriod) EventType() EventType { return EventTypeSetLockupPeriod }

type SetHedgePool struct {
	Header
	Pool      common.Address `json:"pool"`
	HedgePool common.Address `json:"hedge_pool"`
}

func (*SetHedgePool) EventType() EventType { return EventTypeSetHedgePool }

type SetHedgeFeeRate struct {
	Header
	Pool common.Address `json:"pool"`
	Rate uint64         `json:"rate"`
}

func (*SetHedgeFeeRate) EventType() EventType { return EventTypeSetHedgeFeeRate }

// GrantRole and RevokeRole edit a pool's role table. Role is "admin" or "options_engine".
type GrantRole struct {
	Header
	Pool    common.Address `json:"pool"`
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
}

func (*GrantRole) EventType() EventType { return EventTypeGrantRole }

type RevokeRole struct {
	Header
	Pool    common.Address `json:"pool"`
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
}

func (*RevokeRole) EventType() EventType { return EventTypeRevokeRole }

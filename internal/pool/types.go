package pool

import (
	"math/big"

	"OptionLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	Day                 = 24 * 60 * 60
	DefaultLockupPeriod = 14 * Day
	MaxLockupPeriod     = 60 * Day
	DefaultHedgeFeeRate = 80

	// Locked collateral may not exceed MaxUtilizationNum/MaxUtilizationDen of the balance.
	MaxUtilizationNum = 8
	MaxUtilizationDen = 10
)

// InitialRate is the share-per-token rate used while the share supply is zero.
var InitialRate = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

type TrancheState uint8

const (
	TrancheInvalid TrancheState = iota
	TrancheOpen
	TrancheClosed
)

func (s TrancheState) String() string {
	switch s {
	case TrancheOpen:
		return "open"
	case TrancheClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Tranche is one liquidity deposit.
type Tranche struct {
	ID        uint64         `json:"id"`
	Owner     common.Address `json:"owner"`
	Approved  common.Address `json:"approved"`
	State     TrancheState   `json:"state"`
	Share     *big.Int       `json:"share"`
	Amount    *big.Int       `json:"amount"`
	Hedged    bool           `json:"hedged"`
	CreatedAt uint64         `json:"created_at"`
}

func (t *Tranche) clone() Tranche {
	c := *t
	c.Share = new(big.Int).Set(t.Share)
	c.Amount = new(big.Int).Set(t.Amount)
	return c
}

// LockedLiquidity is collateral committed to one option.
type LockedLiquidity struct {
	ID             uint64   `json:"id"`
	Amount         *big.Int `json:"amount"`
	HedgePremium   *big.Int `json:"hedge_premium"`
	UnhedgePremium *big.Int `json:"unhedge_premium"`
	Locked         bool     `json:"locked"`
}

func (l *LockedLiquidity) clone() LockedLiquidity {
	c := *l
	c.Amount = new(big.Int).Set(l.Amount)
	c.HedgePremium = new(big.Int).Set(l.HedgePremium)
	c.UnhedgePremium = new(big.Int).Set(l.UnhedgePremium)
	return c
}

// TokenLedger is the slice of the token ledger a pool moves funds through.
type TokenLedger interface {
	BalanceOf(owner common.Address, asset ledger.AssetID) *big.Int
	Transfer(from, to common.Address, asset ledger.AssetID, amount *big.Int, jt ledger.JournalType) error
	Allowance(owner, spender common.Address, asset ledger.AssetID) *big.Int
	TransferFrom(spender, from, to common.Address, asset ledger.AssetID, amount *big.Int) error
}

// Config wires a new pool.
type Config struct {
	// Address is the pool's own token account.
	Address common.Address
	Asset   ledger.AssetID
	// Admin receives the Admin role and is the initial hedge pool.
	Admin common.Address
}

// Stats is a read-only view of the pool aggregates.
type Stats struct {
	Address          common.Address `json:"address"`
	Asset            ledger.AssetID `json:"asset"`
	TotalBalance     *big.Int       `json:"total_balance"`
	LockedAmount     *big.Int       `json:"locked_amount"`
	AvailableBalance *big.Int       `json:"available_balance"`
	TotalShare       *big.Int       `json:"total_share"`
	HedgedShare      *big.Int       `json:"hedged_share"`
	UnhedgedShare    *big.Int       `json:"unhedged_share"`
	HedgedBalance    *big.Int       `json:"hedged_balance"`
	UnhedgedBalance  *big.Int       `json:"unhedged_balance"`
	HedgeFeeRate     uint64         `json:"hedge_fee_rate"`
	HedgePool        common.Address `json:"hedge_pool"`
	LockupPeriod     uint64         `json:"lockup_period"`
	Tranches         int            `json:"tranches"`
	Locks            int            `json:"locks"`
}

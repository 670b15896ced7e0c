package options

import (
	"math/big"

	"OptionLedger/internal/access"
	"OptionLedger/internal/errs"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/pricing"

	"github.com/ethereum/go-ethereum/common"
)

type OptionType = pricing.OptionType

const (
	Put  = pricing.OptionTypePut
	Call = pricing.OptionTypeCall
)

const (
	Day             = 24 * 60 * 60
	MinPeriod       = Day
	MaxPeriod       = 12 * 7 * Day
	BootstrapWindow = 90 * Day
)

type State uint8

const (
	StateInactive State = iota
	StateActive
	StateExercised
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExercised:
		return "exercised"
	case StateExpired:
		return "expired"
	default:
		return "inactive"
	}
}

var (
	ErrInvalidOptionType  = pricing.ErrInvalidOptionType
	ErrInvalidAmount      = errs.Input("options: amount must be a positive uint256")
	ErrPeriodTooShort     = errs.Input("options: period is too short")
	ErrPeriodTooLong      = errs.Input("options: period is too long")
	ErrZeroAddress        = errs.Input("options: zero address")
	ErrPayerIsPool        = errs.Input("options: the pool cannot buy its own options")
	ErrNilPool            = errs.Input("options: pool is required")
	ErrPoolAssetMismatch  = errs.Input("options: pool holds the wrong asset for its option type")
	ErrNotApproved        = errs.Auth("options: caller is not the holder or approved")
	ErrNotHolder          = errs.Auth("options: caller is not the holder")
	ErrAmountTooSmall     = errs.Invariant("options: collateral rounds to zero")
	ErrInsufficientFunds  = errs.Invariant("options: buyer cannot pay premium and fee")
	ErrPoolNotSet         = errs.Invariant("options: no pool for option type")
	ErrRecipientNotSet    = errs.Invariant("options: no settlement fee recipient for option type")
	ErrCalculatorNotSet   = errs.Invariant("options: price calculator not configured")
	ErrBootstrapClosed    = errs.Invariant("options: pool ownership window has closed")
	ErrNotFound           = errs.Stale("options: option not found")
	ErrExpired            = errs.Stale("options: option has expired")
	ErrNotYetExpired      = errs.Stale("options: option has not expired yet")
	ErrWrongState         = errs.Stale("options: option is not active")
	ErrAlreadyTransferred = errs.Stale("options: pool ownership already transferred")
)

// Option is one purchased contract.
type Option struct {
	ID                uint64         `json:"id"`
	State             State          `json:"state"`
	Holder            common.Address `json:"holder"`
	Approved          common.Address `json:"approved"`
	Strike            *big.Int       `json:"strike"`
	Amount            *big.Int       `json:"amount"`
	Type              OptionType     `json:"option_type"`
	Expiration        uint64         `json:"expiration"`
	CreatedAt         uint64         `json:"created_at"`
	Pool              common.Address `json:"pool"`
	LockedLiquidityID uint64         `json:"locked_liquidity_id"`
	SettlementFee     *big.Int       `json:"settlement_fee"`
	Premium           *big.Int       `json:"premium"`
}

func (o *Option) clone() Option {
	c := *o
	c.Strike = new(big.Int).Set(o.Strike)
	c.Amount = new(big.Int).Set(o.Amount)
	c.SettlementFee = new(big.Int).Set(o.SettlementFee)
	c.Premium = new(big.Int).Set(o.Premium)
	return c
}

// CollateralPool is the part of a pool the engine drives.
type CollateralPool interface {
	Address() common.Address
	Asset() ledger.AssetID
	LockedAmount() *big.Int
	TotalBalance() *big.Int
	CheckLock(caller common.Address, premium, amount *big.Int) error
	Lock(caller common.Address, premium, amount *big.Int) (uint64, error)
	Unlock(caller common.Address, id uint64) error
	Send(caller common.Address, id uint64, to common.Address, amount *big.Int) (*big.Int, error)
	SetHedgeFeeRate(caller common.Address, rate uint64) error
	SetLockupPeriod(caller common.Address, period uint64) error
	SetHedgePool(caller, hedgePool common.Address) error
	GrantRole(caller common.Address, role access.Role, who common.Address) error
	RevokeRole(caller common.Address, role access.Role, who common.Address) error
	TransferAdmin(caller, newAdmin common.Address) error
	HasRole(role access.Role, who common.Address) bool
}

// FeeCalculator quotes (settlementFee, premium).
type FeeCalculator interface {
	Fees(period uint64, amount, strike *big.Int, t OptionType) (*big.Int, *big.Int, error)
}

type TokenLedger interface {
	BalanceOf(owner common.Address, asset ledger.AssetID) *big.Int
	Transfer(from, to common.Address, asset ledger.AssetID, amount *big.Int, jt ledger.JournalType) error
}

type Config struct {
	// Address is the engine's principal; pools grant it the OptionsEngine role.
	Address     common.Address
	Owner       common.Address
	BaseAsset   ledger.Asset
	StableAsset ledger.Asset
	CreatedAt   uint64
}

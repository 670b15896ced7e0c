// Package pricing quotes option premiums and settlement fees.
//
// Only at-the-money options are priced. The premium model is a Strategy so
// the volatility surface can be swapped without touching the engine; the
// default TieredVol picks one of three implied-vol rates by pool utilization.
package pricing

import (
	"math/big"

	"OptionLedger/internal/errs"
)

type OptionType uint8

const (
	OptionTypeInvalid OptionType = iota
	OptionTypePut
	OptionTypeCall
)

func (t OptionType) String() string {
	switch t {
	case OptionTypePut:
		return "put"
	case OptionTypeCall:
		return "call"
	default:
		return "invalid"
	}
}

func (t OptionType) Valid() bool {
	return t == OptionTypePut || t == OptionTypeCall
}

var (
	ErrInvalidOptionType   = errs.Input("pricing: invalid option type")
	ErrInvalidAmount       = errs.Input("pricing: amount must be a positive uint256")
	ErrInvalidVolRate      = errs.Input("pricing: implied vol rates must be positive")
	ErrStrikeNotATM        = errs.Stale("pricing: only at-the-money options are supported")
	ErrPoolEmpty           = errs.Invariant("pricing: the pool is empty")
	ErrPoolNotSet          = errs.Invariant("pricing: no pool configured for option type")
	ErrUnsupportedStrategy = errs.Invariant("pricing: strategy has no adjustable vol rates")
)

// Utilization bands in the 1e8 scale: [0, Low) is the low tier, [Low, High)
// the mid tier and everything above the high tier.
var (
	UtilizationScale         = big.NewInt(100_000_000)
	LowUtilizationThreshold  = big.NewInt(40_000_000)
	HighUtilizationThreshold = big.NewInt(70_000_000)
)

// SettlementFeePercent is charged on notional regardless of the vol tier.
const SettlementFeePercent = 1

// PoolStats is what the calculator reads from a collateral pool.
type PoolStats interface {
	LockedAmount() *big.Int
	TotalBalance() *big.Int
}

// PoolResolver returns the pool that settles a given option type.
type PoolResolver interface {
	PoolFor(t OptionType) (PoolStats, bool)
}

// Quote carries everything a Strategy may price on.
type Quote struct {
	Type           OptionType
	Period         uint64
	Amount         *big.Int
	Price          *big.Int
	Utilization    *big.Int
	BaseDecimals   uint8
	StableDecimals uint8
}

// Strategy turns a quote into a premium, in settlement-token units.
type Strategy interface {
	Name() string
	Premium(q Quote) (*big.Int, error)
}

package pricing

import (
	"fmt"
	"math/big"

	"OptionLedger/internal/access"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
)

// Calculator is the read-only fee quoter consulted by the options engine.
type Calculator struct {
	oracle   oracle.PriceOracle
	pools    PoolResolver
	strategy Strategy
	roles    *access.Table

	baseDecimals   uint8
	stableDecimals uint8
}

type Config struct {
	Admin          common.Address
	BaseDecimals   uint8
	StableDecimals uint8
}

func NewCalculator(cfg Config, o oracle.PriceOracle, pools PoolResolver, strategy Strategy) *Calculator {
	return &Calculator{
		oracle:         o,
		pools:          pools,
		strategy:       strategy,
		roles:          access.NewTable(cfg.Admin),
		baseDecimals:   cfg.BaseDecimals,
		stableDecimals: cfg.StableDecimals,
	}
}

func (c *Calculator) Strategy() Strategy { return c.strategy }

// SetPools rebinds the pool resolver, e.g. after the engine swaps pools.
func (c *Calculator) SetPools(pools PoolResolver) { c.pools = pools }

// Fees returns (settlementFee, premium) in the settlement token of the
// option type. It never mutates state.
func (c *Calculator) Fees(period uint64, amount, strike *big.Int, t OptionType) (*big.Int, *big.Int, error) {
	if !t.Valid() {
		return nil, nil, ErrInvalidOptionType
	}
	if err := fpmath.CheckUint256(amount); err != nil || amount.Sign() == 0 {
		return nil, nil, ErrInvalidAmount
	}
	price, err := c.oracle.CurrentPrice()
	if err != nil {
		return nil, nil, fmt.Errorf("read price: %w", err)
	}
	if strike == nil || strike.Cmp(price) != 0 {
		return nil, nil, fmt.Errorf("%w: strike %v, price %s", ErrStrikeNotATM, strike, price)
	}

	utilization, err := c.Utilization(t)
	if err != nil {
		return nil, nil, err
	}

	premium, err := c.strategy.Premium(Quote{
		Type:           t,
		Period:         period,
		Amount:         amount,
		Price:          price,
		Utilization:    utilization,
		BaseDecimals:   c.baseDecimals,
		StableDecimals: c.stableDecimals,
	})
	if err != nil {
		return nil, nil, err
	}
	return c.settlementFee(amount, price, t), premium, nil
}

// Utilization is lockedAmount * 1e8 / totalBalance of the pool backing t.
func (c *Calculator) Utilization(t OptionType) (*big.Int, error) {
	if c.pools == nil {
		return nil, ErrPoolNotSet
	}
	p, ok := c.pools.PoolFor(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotSet, t)
	}
	total := p.TotalBalance()
	if total.Sign() == 0 {
		return nil, ErrPoolEmpty
	}
	return fpmath.MulDiv(p.LockedAmount(), UtilizationScale, total), nil
}

func (c *Calculator) settlementFee(amount, price *big.Int, t OptionType) *big.Int {
	pct := big.NewInt(SettlementFeePercent)
	if t == OptionTypeCall {
		return fpmath.MulDiv(amount, pct, big.NewInt(100))
	}
	// amount * price / 1e8 / 100, not rescaled between token decimals
	num := fpmath.Product(amount, price, pct)
	den := fpmath.Product(fpmath.PriceScale, big.NewInt(100))
	return fpmath.Quo(num, den)
}

// SetImpliedVolRate replaces the three tier rates. Admin only.
func (c *Calculator) SetImpliedVolRate(caller common.Address, rates [3]*big.Int) error {
	if err := c.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	tv, ok := c.strategy.(*TieredVol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedStrategy, c.strategy.Name())
	}
	return tv.SetRates(rates)
}

func (c *Calculator) TransferAdmin(caller, newAdmin common.Address) error {
	return c.roles.TransferAdmin(caller, newAdmin)
}

func (c *Calculator) Admins() []common.Address {
	return c.roles.Members(access.RoleAdmin)
}

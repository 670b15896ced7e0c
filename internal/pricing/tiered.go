package pricing

import (
	"fmt"
	"math/big"

	fpmath "OptionLedger/internal/math"
)

// DefaultVolRates are the low, mid and high tier implied-vol rates. An idle
// pool prices at the low rate.
var DefaultVolRates = [3]*big.Int{big.NewInt(10000), big.NewInt(15000), big.NewInt(20000)}

// TieredVol prices premium as amount * iv(tier) * sqrt(period), rescaled to
// the settlement token.
type TieredVol struct {
	rates [3]*big.Int
}

func NewTieredVol(rates [3]*big.Int) (*TieredVol, error) {
	tv := &TieredVol{}
	if err := tv.SetRates(rates); err != nil {
		return nil, err
	}
	return tv, nil
}

func (tv *TieredVol) Name() string { return "tiered_vol" }

func (tv *TieredVol) SetRates(rates [3]*big.Int) error {
	for i, r := range rates {
		if r == nil || r.Sign() <= 0 || fpmath.CheckUint256(r) != nil {
			return fmt.Errorf("%w: tier %d", ErrInvalidVolRate, i)
		}
	}
	for i, r := range rates {
		tv.rates[i] = new(big.Int).Set(r)
	}
	return nil
}

func (tv *TieredVol) Rates() [3]*big.Int {
	var out [3]*big.Int
	for i, r := range tv.rates {
		out[i] = new(big.Int).Set(r)
	}
	return out
}

// Tier maps a utilization (1e8 scale) to 0, 1 or 2.
func Tier(utilization *big.Int) int {
	switch {
	case utilization.Cmp(LowUtilizationThreshold) < 0:
		return 0
	case utilization.Cmp(HighUtilizationThreshold) < 0:
		return 1
	default:
		return 2
	}
}

func (tv *TieredVol) Premium(q Quote) (*big.Int, error) {
	iv := tv.rates[Tier(q.Utilization)]
	sqrtPeriod := fpmath.Sqrt(new(big.Int).SetUint64(q.Period))

	switch q.Type {
	case OptionTypeCall:
		num := fpmath.Product(q.Amount, iv, sqrtPeriod)
		return fpmath.Quo(num, fpmath.ModifierScale), nil
	case OptionTypePut:
		// base-token notional moved to stable decimals, no price factor
		num := fpmath.Product(q.Amount, iv, sqrtPeriod, fpmath.Pow10(q.StableDecimals))
		den := fpmath.Product(fpmath.ModifierScale, fpmath.Pow10(q.BaseDecimals))
		return fpmath.Quo(num, den), nil
	default:
		return nil, ErrInvalidOptionType
	}
}

package pricing

import (
	"fmt"
	"math/big"

	"OptionLedger/internal/access"
	"OptionLedger/internal/oracle"
)

// CalculatorState is the serializable form of a Calculator. Only the tiered
// strategy carries state of its own.
type CalculatorState struct {
	Roles          access.Grants `json:"roles"`
	Strategy       string        `json:"strategy"`
	VolRates       []*big.Int    `json:"vol_rates,omitempty"`
	BaseDecimals   uint8         `json:"base_decimals"`
	StableDecimals uint8         `json:"stable_decimals"`
}

func (c *Calculator) Export() CalculatorState {
	st := CalculatorState{
		Roles:          c.roles.Export(),
		Strategy:       c.strategy.Name(),
		BaseDecimals:   c.baseDecimals,
		StableDecimals: c.stableDecimals,
	}
	if tv, ok := c.strategy.(*TieredVol); ok {
		rates := tv.Rates()
		st.VolRates = rates[:]
	}
	return st
}

// RestoreCalculator rebuilds a calculator. The pool resolver is bound later
// with SetPools because the engine is restored after the calculator.
func RestoreCalculator(st CalculatorState, o oracle.PriceOracle) (*Calculator, error) {
	if st.Strategy != "tiered_vol" || len(st.VolRates) != 3 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStrategy, st.Strategy)
	}
	tv, err := NewTieredVol([3]*big.Int{st.VolRates[0], st.VolRates[1], st.VolRates[2]})
	if err != nil {
		return nil, err
	}
	return &Calculator{
		oracle:         o,
		strategy:       tv,
		roles:          access.Restore(st.Roles),
		baseDecimals:   st.BaseDecimals,
		stableDecimals: st.StableDecimals,
	}, nil
}

package pricing_test

import (
	"math/big"
	"testing"

	"OptionLedger/internal/access"
	"OptionLedger/internal/oracle"
	"OptionLedger/internal/pricing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	admin = common.HexToAddress("0xad")
	price = big.NewInt(5_000_000_000_000) // 50000e8
)

type stubPool struct {
	locked, total int64
}

func (s stubPool) LockedAmount() *big.Int { return big.NewInt(s.locked) }
func (s stubPool) TotalBalance() *big.Int { return big.NewInt(s.total) }

type stubPools map[pricing.OptionType]pricing.PoolStats

func (s stubPools) PoolFor(t pricing.OptionType) (pricing.PoolStats, bool) {
	p, ok := s[t]
	return p, ok
}

func newCalculator(t *testing.T, callUtil, putUtil stubPool) *pricing.Calculator {
	t.Helper()
	tv, err := pricing.NewTieredVol(pricing.DefaultVolRates)
	require.NoError(t, err)
	pools := stubPools{pricing.OptionTypeCall: callUtil, pricing.OptionTypePut: putUtil}
	cfg := pricing.Config{Admin: admin, BaseDecimals: 8, StableDecimals: 6}
	return pricing.NewCalculator(cfg, oracle.Fixed{Price: price}, pools, tv)
}

func TestTier(t *testing.T) {
	tests := []struct {
		util int64
		want int
	}{
		{0, 0},
		{39_999_999, 0},
		{40_000_000, 1},
		{69_999_999, 1},
		{70_000_000, 2},
		{80_000_000, 2},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, pricing.Tier(big.NewInt(tt.util)), "utilization %d", tt.util)
	}
}

func TestFees_ReferenceQuotes(t *testing.T) {
	// Empty 100000-unit base pool and 1e12-unit stable pool at 50000e8.
	tests := []struct {
		name    string
		typ     pricing.OptionType
		fee     int64
		premium int64
	}{
		{"call", pricing.OptionTypeCall, 1, 7},
		{"put", pricing.OptionTypePut, 50000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCalculator(t, stubPool{0, 100000}, stubPool{0, 1_000_000_000_000})

			fee, premium, err := c.Fees(604800, big.NewInt(100), price, tt.typ)
			require.NoError(t, err)
			require.Equal(t, tt.fee, fee.Int64())
			require.Equal(t, tt.premium, premium.Int64())
		})
	}
}

func TestFees_IdlePoolPricesAtLowRate(t *testing.T) {
	c := newCalculator(t, stubPool{0, 100000}, stubPool{0, 1})

	fee, premium, err := c.Fees(604800, big.NewInt(100), price, pricing.OptionTypeCall)
	require.NoError(t, err)
	// 100 * 10000 * 777 / 1e8 = 7.77, truncated.
	require.Equal(t, int64(7), premium.Int64())
	require.Equal(t, int64(1), fee.Int64())
}

func TestFees_CallMidTier(t *testing.T) {
	c := newCalculator(t, stubPool{50000, 100000}, stubPool{0, 1})

	fee, premium, err := c.Fees(604800, big.NewInt(100), price, pricing.OptionTypeCall)
	require.NoError(t, err)
	// 100 * 15000 * 777 / 1e8 = 11.655
	require.Equal(t, int64(11), premium.Int64())
	require.Equal(t, int64(1), fee.Int64())

	// 15 base units (8 decimals) over 7 days at the mid tier.
	_, premium, err = c.Fees(604800, big.NewInt(1_500_000_000), price, pricing.OptionTypeCall)
	require.NoError(t, err)
	require.Equal(t, int64(174_825_000), premium.Int64())
}

func TestFees_CallHighTier(t *testing.T) {
	c := newCalculator(t, stubPool{75000, 100000}, stubPool{0, 1})

	_, premium, err := c.Fees(604800, big.NewInt(100_000_000), price, pricing.OptionTypeCall)
	require.NoError(t, err)
	// 1e8 * 20000 * 777 / 1e8
	require.Equal(t, int64(15_540_000), premium.Int64())
}

func TestFees_PutRescalesToStable(t *testing.T) {
	c := newCalculator(t, stubPool{0, 1}, stubPool{0, 1_000_000_000_000})

	fee, premium, err := c.Fees(604800, big.NewInt(100_000_000), price, pricing.OptionTypePut)
	require.NoError(t, err)
	// 1e8 * 50000e8 / 1e8 / 100
	require.Equal(t, int64(50_000_000_000), fee.Int64())
	// 1e8 * 10000 * 777 * 1e6 / (1e8 * 1e8)
	require.Equal(t, int64(77_700), premium.Int64())
}

func TestFees_Rejections(t *testing.T) {
	c := newCalculator(t, stubPool{0, 100000}, stubPool{0, 0})

	_, _, err := c.Fees(604800, big.NewInt(100), big.NewInt(1), pricing.OptionTypeCall)
	require.ErrorIs(t, err, pricing.ErrStrikeNotATM)

	_, _, err = c.Fees(604800, big.NewInt(100), price, pricing.OptionType(3))
	require.ErrorIs(t, err, pricing.ErrInvalidOptionType)

	_, _, err = c.Fees(604800, big.NewInt(0), price, pricing.OptionTypeCall)
	require.ErrorIs(t, err, pricing.ErrInvalidAmount)

	_, _, err = c.Fees(604800, big.NewInt(100), price, pricing.OptionTypePut)
	require.ErrorIs(t, err, pricing.ErrPoolEmpty)
}

func TestFees_NoPrice(t *testing.T) {
	tv, _ := pricing.NewTieredVol(pricing.DefaultVolRates)
	c := pricing.NewCalculator(pricing.Config{Admin: admin}, oracle.Fixed{}, stubPools{}, tv)

	_, _, err := c.Fees(604800, big.NewInt(1), price, pricing.OptionTypeCall)
	require.ErrorIs(t, err, oracle.ErrNoPrice)
}

func TestSetImpliedVolRate(t *testing.T) {
	c := newCalculator(t, stubPool{0, 100000}, stubPool{0, 1})
	rates := [3]*big.Int{big.NewInt(18000), big.NewInt(20000), big.NewInt(40000)}

	err := c.SetImpliedVolRate(common.HexToAddress("0xbeef"), rates)
	require.ErrorIs(t, err, access.ErrMissingRole)

	require.NoError(t, c.SetImpliedVolRate(admin, rates))
	_, premium, err := c.Fees(604800, big.NewInt(100), price, pricing.OptionTypeCall)
	require.NoError(t, err)
	// 100 * 18000 * 777 / 1e8 = 13.986
	require.Equal(t, int64(13), premium.Int64())

	bad := [3]*big.Int{big.NewInt(1), big.NewInt(0), big.NewInt(1)}
	require.ErrorIs(t, c.SetImpliedVolRate(admin, bad), pricing.ErrInvalidVolRate)
}

package oracle_test

import (
	"math/big"
	"testing"

	"OptionLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestFeed_Update(t *testing.T) {
	feeder := common.HexToAddress("0xfeed")
	f := oracle.NewFeed(feeder)

	_, err := f.CurrentPrice()
	require.ErrorIs(t, err, oracle.ErrNoPrice)

	require.ErrorIs(t, f.Update(common.HexToAddress("0xbad"), big.NewInt(1), 1), oracle.ErrNotFeeder)
	require.ErrorIs(t, f.Update(feeder, big.NewInt(0), 1), oracle.ErrInvalidPrice)

	require.NoError(t, f.Update(feeder, big.NewInt(5_000_000_000_000), 42))
	p, err := f.CurrentPrice()
	require.NoError(t, err)
	require.Equal(t, "5000000000000", p.String())
	require.Equal(t, int64(42), f.UpdatedAt())

	restored := oracle.RestoreFeed(f.Export())
	p2, err := restored.CurrentPrice()
	require.NoError(t, err)
	require.Zero(t, p.Cmp(p2))
}

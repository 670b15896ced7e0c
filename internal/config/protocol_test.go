package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"OptionLedger/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const validYAML = `
assets:
  base: {symbol: WBTC, decimals: 8}
  stable: {symbol: USDC, decimals: 6}
oracle:
  feeder: "0x00000000000000000000000000000000000000f1"
  initial_price: "5000000000000"
pools:
  put:
    address: "0x0000000000000000000000000000000000001001"
    admin: "0x00000000000000000000000000000000000000a1"
  call:
    address: "0x0000000000000000000000000000000000001002"
    admin: "0x00000000000000000000000000000000000000a1"
    hedge_fee_rate: 0
engine:
  address: "0x0000000000000000000000000000000000002001"
  owner: "0x00000000000000000000000000000000000000a1"
  put_fee_recipient: "0x0000000000000000000000000000000000003001"
  call_fee_recipient: "0x0000000000000000000000000000000000003001"
calculator:
  vol_rates: ["9000", "10000", "20000"]
minter: "0x00000000000000000000000000000000000000a1"
mints:
  - {asset: USDC, to: "0x00000000000000000000000000000000000000b1", amount: "1000"}
`

func TestParseProtocol(t *testing.T) {
	cfg, err := config.ParseProtocol([]byte(validYAML))
	require.NoError(t, err)

	require.Equal(t, "WBTC", cfg.Assets.Base.Symbol)
	require.Equal(t, uint8(6), cfg.Assets.Stable.Decimals)
	require.Equal(t, common.HexToAddress("0x1001"), config.Address(cfg.Pools.Put.Address))
	require.Nil(t, cfg.Pools.Put.HedgeFeeRate)
	require.NotNil(t, cfg.Pools.Call.HedgeFeeRate)
	require.Equal(t, uint64(0), *cfg.Pools.Call.HedgeFeeRate)
	// calculator admin falls back to the engine owner
	require.Equal(t, cfg.Engine.Owner, cfg.Calculator.Admin)

	rates, ok := cfg.Calculator.Rates()
	require.True(t, ok)
	require.Equal(t, int64(20000), rates[2].Int64())
	require.Equal(t, int64(5_000_000_000_000), config.Amount(cfg.Oracle.InitialPrice).Int64())
}

func TestParseProtocol_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		new     string
		wantErr string
	}{
		{"bad feeder", `feeder: "0x00000000000000000000000000000000000000f1"`, `feeder: "nope"`, "oracle.feeder"},
		{"same pools", `"0x0000000000000000000000000000000000001002"`, `"0x0000000000000000000000000000000000001001"`, "distinct"},
		{"two tiers", `["9000", "10000", "20000"]`, `["9000", "10000"]`, "want 3 tiers"},
		{"unknown mint asset", `{asset: USDC,`, `{asset: DAI,`, "unknown asset"},
		{"negative mint", `amount: "1000"`, `amount: "-1"`, "mints[0].amount"},
		{"zero owner", `owner: "0x00000000000000000000000000000000000000a1"`, `owner: "0x0000000000000000000000000000000000000000"`, "zero address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(validYAML, tt.old, tt.new, 1)
			require.NotEqual(t, validYAML, doc)
			_, err := config.ParseProtocol([]byte(doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadProtocol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := config.LoadProtocol(path)
	require.NoError(t, err)
	require.Len(t, cfg.Mints, 1)

	_, err = config.LoadProtocol(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(validYAML+"\nunknown_key: 1\n"), 0o600))
	_, err = config.LoadProtocol(path)
	require.Error(t, err)
}

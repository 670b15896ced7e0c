package testutil

import (
	"math/big"
	"testing"

	"OptionLedger/internal/config"
	"OptionLedger/internal/core"
	"OptionLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Well-known principals of the test deployment.
var (
	Owner    = common.HexToAddress("0x00000000000000000000000000000000000ad000")
	Engine   = common.HexToAddress("0x000000000000000000000000000000000000e000")
	PutPool  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	CallPool = common.HexToAddress("0x0000000000000000000000000000000000001002")
	Feeder   = common.HexToAddress("0x000000000000000000000000000000000000feed")
	Staking  = common.HexToAddress("0x0000000000000000000000000000000000005001")
	LP       = common.HexToAddress("0x00000000000000000000000000000000000001a0")
	Alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

// Genesis is the block time the test deployment was created at.
const Genesis = int64(1_700_000_000)

// ATMPrice is the initial oracle price, 50000 with 8 decimals.
var ATMPrice = big.NewInt(5_000_000_000_000)

// ProtocolConfig is a WBTC/USDC deployment with funded LP and Alice accounts.
func ProtocolConfig() config.Protocol {
	return config.Protocol{
		Assets: config.AssetsConfig{
			Base:   config.AssetConfig{Symbol: "WBTC", Decimals: 8},
			Stable: config.AssetConfig{Symbol: "USDC", Decimals: 6},
		},
		Oracle: config.OracleConfig{Feeder: Feeder.Hex(), InitialPrice: ATMPrice.String()},
		Pools: config.PoolsConfig{
			Put:  config.PoolConfig{Address: PutPool.Hex(), Admin: Owner.Hex()},
			Call: config.PoolConfig{Address: CallPool.Hex(), Admin: Owner.Hex()},
		},
		Engine: config.EngineConfig{
			Address:          Engine.Hex(),
			Owner:            Owner.Hex(),
			CreatedAt:        uint64(Genesis),
			PutFeeRecipient:  Staking.Hex(),
			CallFeeRecipient: Staking.Hex(),
		},
		Minter: Owner.Hex(),
		Mints: []config.MintConfig{
			{Asset: "USDC", To: LP.Hex(), Amount: "1000000"},
			{Asset: "WBTC", To: LP.Hex(), Amount: "1000000"},
			{Asset: "USDC", To: Alice.Hex(), Amount: "1000"},
			{Asset: "WBTC", To: Alice.Hex(), Amount: "100000000"},
		},
	}
}

// NewCore bootstraps ProtocolConfig behind a core with buffered output
// channels and no Postgres dedup tier.
func NewCore(t *testing.T) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	protocol, err := core.Bootstrap(ProtocolConfig())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1024)
	return core.NewDeterministicCore(protocol, persistCh, projCh, nil, nil), persistCh, projCh
}

// Header builds a transaction header with a fresh tx id.
func Header(from common.Address, nonce, ts int64) event.Header {
	return event.Header{TxID: uuid.New(), From: from, Nonce: nonce, Time: ts}
}

// SeedAndSell provides liquidity to both pools and sells Alice one put.
// Returns the transactions in submission order.
func SeedAndSell() []event.Event {
	return []event.Event{
		&event.Provide{Header: Header(LP, 0, Genesis), Pool: PutPool, Amount: big.NewInt(1_000_000), Hedged: true},
		&event.Provide{Header: Header(LP, 1, Genesis), Pool: CallPool, Amount: big.NewInt(1_000_000)},
		&event.CreateOption{Header: Header(Alice, 0, Genesis+10), Period: 1_209_600, Amount: big.NewInt(1), OptionType: 1},
	}
}

// Drain empties ch without blocking.
func Drain(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

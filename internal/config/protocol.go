// Package config loads the genesis parameters of the protocol.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Protocol is the genesis description of a deployment: which tokens exist,
// who administers the pools and the engine, and the initial mints.
type Protocol struct {
	Assets     AssetsConfig     `yaml:"assets"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Pools      PoolsConfig      `yaml:"pools"`
	Engine     EngineConfig     `yaml:"engine"`
	Calculator CalculatorConfig `yaml:"calculator"`
	Minter     string           `yaml:"minter"`
	Mints      []MintConfig     `yaml:"mints"`
}

type AssetConfig struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// AssetsConfig names the underlying (base) and the quote (stable) token.
type AssetsConfig struct {
	Base   AssetConfig `yaml:"base"`
	Stable AssetConfig `yaml:"stable"`
}

type OracleConfig struct {
	Feeder       string `yaml:"feeder"`
	InitialPrice string `yaml:"initial_price"`
}

// PoolConfig describes one collateral pool. Zero values keep the pool defaults.
type PoolConfig struct {
	Address      string  `yaml:"address"`
	Admin        string  `yaml:"admin"`
	LockupPeriod uint64  `yaml:"lockup_period"`
	HedgeFeeRate *uint64 `yaml:"hedge_fee_rate"`
	HedgePool    string  `yaml:"hedge_pool"`
}

type PoolsConfig struct {
	Put  PoolConfig `yaml:"put"`
	Call PoolConfig `yaml:"call"`
}

type EngineConfig struct {
	Address          string `yaml:"address"`
	Owner            string `yaml:"owner"`
	CreatedAt        uint64 `yaml:"created_at"`
	PutFeeRecipient  string `yaml:"put_fee_recipient"`
	CallFeeRecipient string `yaml:"call_fee_recipient"`
}

type CalculatorConfig struct {
	Admin    string   `yaml:"admin"`
	VolRates []string `yaml:"vol_rates"`
}

// MintConfig is an initial token grant, in smallest units.
type MintConfig struct {
	Asset  string `yaml:"asset"`
	To     string `yaml:"to"`
	Amount string `yaml:"amount"`
}

// LoadProtocol reads the YAML genesis file from disk and validates it.
func LoadProtocol(path string) (Protocol, error) {
	if path == "" {
		return Protocol{}, fmt.Errorf("protocol config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Protocol{}, fmt.Errorf("open protocol config: %w", err)
	}
	defer file.Close()

	var cfg Protocol
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Protocol{}, fmt.Errorf("decode protocol config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Protocol{}, err
	}
	return cfg, nil
}

// ParseProtocol decodes YAML bytes; used by tests and embedded defaults.
func ParseProtocol(data []byte) (Protocol, error) {
	var cfg Protocol
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Protocol{}, fmt.Errorf("decode protocol config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Protocol{}, err
	}
	return cfg, nil
}

func (cfg *Protocol) normalize() {
	trim := func(s *string) { *s = strings.TrimSpace(*s) }
	trim(&cfg.Assets.Base.Symbol)
	trim(&cfg.Assets.Stable.Symbol)
	trim(&cfg.Oracle.Feeder)
	trim(&cfg.Oracle.InitialPrice)
	for _, p := range []*PoolConfig{&cfg.Pools.Put, &cfg.Pools.Call} {
		trim(&p.Address)
		trim(&p.Admin)
		trim(&p.HedgePool)
	}
	trim(&cfg.Engine.Address)
	trim(&cfg.Engine.Owner)
	trim(&cfg.Engine.PutFeeRecipient)
	trim(&cfg.Engine.CallFeeRecipient)
	trim(&cfg.Calculator.Admin)
	trim(&cfg.Minter)
	if cfg.Calculator.Admin == "" {
		cfg.Calculator.Admin = cfg.Engine.Owner
	}
	for i := range cfg.Mints {
		trim(&cfg.Mints[i].Asset)
		trim(&cfg.Mints[i].To)
		trim(&cfg.Mints[i].Amount)
	}
}

// Validate checks addresses, amounts and cross references.
func (cfg Protocol) Validate() error {
	if cfg.Assets.Base.Symbol == "" || cfg.Assets.Stable.Symbol == "" {
		return fmt.Errorf("assets: base and stable symbols are required")
	}
	if cfg.Assets.Base.Symbol == cfg.Assets.Stable.Symbol {
		return fmt.Errorf("assets: base and stable must differ")
	}
	if err := requireAddress("oracle.feeder", cfg.Oracle.Feeder); err != nil {
		return err
	}
	if cfg.Oracle.InitialPrice != "" {
		if _, err := fpmath.ParseAmount(cfg.Oracle.InitialPrice); err != nil {
			return fmt.Errorf("oracle.initial_price: %w", err)
		}
	}
	for name, p := range map[string]PoolConfig{"put": cfg.Pools.Put, "call": cfg.Pools.Call} {
		if err := requireAddress("pools."+name+".address", p.Address); err != nil {
			return err
		}
		if err := requireAddress("pools."+name+".admin", p.Admin); err != nil {
			return err
		}
		if p.HedgePool != "" {
			if err := requireAddress("pools."+name+".hedge_pool", p.HedgePool); err != nil {
				return err
			}
		}
	}
	if cfg.Pools.Put.Address == cfg.Pools.Call.Address {
		return fmt.Errorf("pools: put and call pools must have distinct addresses")
	}
	for field, v := range map[string]string{
		"engine.address":            cfg.Engine.Address,
		"engine.owner":              cfg.Engine.Owner,
		"engine.put_fee_recipient":  cfg.Engine.PutFeeRecipient,
		"engine.call_fee_recipient": cfg.Engine.CallFeeRecipient,
		"calculator.admin":          cfg.Calculator.Admin,
		"minter":                    cfg.Minter,
	} {
		if err := requireAddress(field, v); err != nil {
			return err
		}
	}
	if n := len(cfg.Calculator.VolRates); n != 0 && n != 3 {
		return fmt.Errorf("calculator.vol_rates: want 3 tiers, got %d", n)
	}
	for i, r := range cfg.Calculator.VolRates {
		if _, err := fpmath.ParseAmount(r); err != nil {
			return fmt.Errorf("calculator.vol_rates[%d]: %w", i, err)
		}
	}
	for i, m := range cfg.Mints {
		if m.Asset != cfg.Assets.Base.Symbol && m.Asset != cfg.Assets.Stable.Symbol {
			return fmt.Errorf("mints[%d]: unknown asset %q", i, m.Asset)
		}
		if err := requireAddress(fmt.Sprintf("mints[%d].to", i), m.To); err != nil {
			return err
		}
		if _, err := fpmath.ParseAmount(m.Amount); err != nil {
			return fmt.Errorf("mints[%d].amount: %w", i, err)
		}
	}
	return nil
}

func requireAddress(field, v string) error {
	if !common.IsHexAddress(v) {
		return fmt.Errorf("%s: invalid address %q", field, v)
	}
	if common.HexToAddress(v) == (common.Address{}) {
		return fmt.Errorf("%s: zero address", field)
	}
	return nil
}

// Address converts a validated hex string. Empty yields the zero address.
func Address(v string) common.Address {
	return common.HexToAddress(v)
}

// Amount converts a validated integer string. Empty yields nil.
func Amount(v string) *big.Int {
	if v == "" {
		return nil
	}
	out, err := fpmath.ParseAmount(v)
	if err != nil {
		return nil
	}
	return out
}

// Rates returns the configured tiers, or nil to keep the defaults.
func (c CalculatorConfig) Rates() ([3]*big.Int, bool) {
	var out [3]*big.Int
	if len(c.VolRates) != 3 {
		return out, false
	}
	for i, r := range c.VolRates {
		out[i] = Amount(r)
	}
	return out, true
}

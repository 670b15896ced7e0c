package core

import (
	"fmt"
	"sort"

	"OptionLedger/internal/access"
	"OptionLedger/internal/config"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/options"
	"OptionLedger/internal/oracle"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/pricing"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol is the complete in-memory protocol state: the token ledger, the
// price feed, both collateral pools, the calculator and the options engine.
// All of them emit into one recorder, drained after every transaction.
type Protocol struct {
	tokens   *ledger.TokenLedger
	feed     *oracle.Feed
	pools    map[common.Address]*pool.Pool
	calc     *pricing.Calculator
	engine   *options.Engine
	recorder *receipt.Recorder

	minter common.Address
	base   ledger.Asset
	stable ledger.Asset
}

// Bootstrap builds the genesis state described by cfg. It performs the same
// wiring a deployment script would: pools, calculator, engine role grants,
// fee recipients and initial mints.
func Bootstrap(cfg config.Protocol) (*Protocol, error) {
	rec := receipt.NewRecorder()
	tokens := ledger.NewTokenLedger()

	base, err := tokens.RegisterAsset(cfg.Assets.Base.Symbol, cfg.Assets.Base.Decimals)
	if err != nil {
		return nil, fmt.Errorf("register base asset: %w", err)
	}
	stable, err := tokens.RegisterAsset(cfg.Assets.Stable.Symbol, cfg.Assets.Stable.Decimals)
	if err != nil {
		return nil, fmt.Errorf("register stable asset: %w", err)
	}

	feeder := config.Address(cfg.Oracle.Feeder)
	feed := oracle.NewFeed(feeder)
	if price := config.Amount(cfg.Oracle.InitialPrice); price != nil {
		if err := feed.Update(feeder, price, int64(cfg.Engine.CreatedAt)); err != nil {
			return nil, fmt.Errorf("initial price: %w", err)
		}
	}

	engineAddr := config.Address(cfg.Engine.Address)
	owner := config.Address(cfg.Engine.Owner)

	putPool, err := newPool(cfg.Pools.Put, stable.ID, engineAddr, tokens, rec)
	if err != nil {
		return nil, fmt.Errorf("put pool: %w", err)
	}
	callPool, err := newPool(cfg.Pools.Call, base.ID, engineAddr, tokens, rec)
	if err != nil {
		return nil, fmt.Errorf("call pool: %w", err)
	}

	engine := options.New(options.Config{
		Address:     engineAddr,
		Owner:       owner,
		BaseAsset:   base,
		StableAsset: stable,
		CreatedAt:   cfg.Engine.CreatedAt,
	}, tokens, feed, rec)

	rates := pricing.DefaultVolRates
	if custom, ok := cfg.Calculator.Rates(); ok {
		rates = custom
	}
	strategy, err := pricing.NewTieredVol(rates)
	if err != nil {
		return nil, fmt.Errorf("vol rates: %w", err)
	}
	calc := pricing.NewCalculator(pricing.Config{
		Admin:          config.Address(cfg.Calculator.Admin),
		BaseDecimals:   base.Decimals,
		StableDecimals: stable.Decimals,
	}, feed, engine, strategy)

	if err := engine.SetPriceCalculator(owner, calc); err != nil {
		return nil, fmt.Errorf("set calculator: %w", err)
	}
	if err := engine.SetPools(owner, putPool, callPool); err != nil {
		return nil, fmt.Errorf("set pools: %w", err)
	}
	if err := engine.SetSettlementFeeRecipients(owner,
		config.Address(cfg.Engine.PutFeeRecipient), config.Address(cfg.Engine.CallFeeRecipient)); err != nil {
		return nil, fmt.Errorf("set fee recipients: %w", err)
	}

	for i, m := range cfg.Mints {
		asset, _ := tokens.Asset(m.Asset)
		if err := tokens.Mint(config.Address(m.To), asset.ID, config.Amount(m.Amount)); err != nil {
			return nil, fmt.Errorf("mint %d: %w", i, err)
		}
	}
	rec.Discard()

	return &Protocol{
		tokens:   tokens,
		feed:     feed,
		pools:    map[common.Address]*pool.Pool{putPool.Address(): putPool, callPool.Address(): callPool},
		calc:     calc,
		engine:   engine,
		recorder: rec,
		minter:   config.Address(cfg.Minter),
		base:     base,
		stable:   stable,
	}, nil
}

func newPool(cfg config.PoolConfig, asset ledger.AssetID, engine common.Address, tokens *ledger.TokenLedger, rec *receipt.Recorder) (*pool.Pool, error) {
	admin := config.Address(cfg.Admin)
	p := pool.New(pool.Config{Address: config.Address(cfg.Address), Asset: asset, Admin: admin}, tokens, rec)

	if err := p.GrantRole(admin, access.RoleOptionsEngine, engine); err != nil {
		return nil, err
	}
	if cfg.LockupPeriod != 0 {
		if err := p.SetLockupPeriod(admin, cfg.LockupPeriod); err != nil {
			return nil, err
		}
	}
	if cfg.HedgeFeeRate != nil {
		if err := p.SetHedgeFeeRate(admin, *cfg.HedgeFeeRate); err != nil {
			return nil, err
		}
	}
	if cfg.HedgePool != "" {
		if err := p.SetHedgePool(admin, config.Address(cfg.HedgePool)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Protocol) pool(addr common.Address) (*pool.Pool, error) {
	pl, ok := p.pools[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, addr.Hex())
	}
	return pl, nil
}

func (p *Protocol) asset(symbol string) (ledger.Asset, error) {
	a, ok := p.tokens.Asset(symbol)
	if !ok {
		return ledger.Asset{}, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	return a, nil
}

// poolAddresses returns pool addresses in a stable order.
func (p *Protocol) poolAddresses() []common.Address {
	out := make([]common.Address, 0, len(p.pools))
	for addr := range p.pools {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// optionTypeOf reports which option type the engine currently settles in pool.
func (p *Protocol) optionTypeOf(addr common.Address) (options.OptionType, bool) {
	for _, t := range []options.OptionType{options.Put, options.Call} {
		if cp, ok := p.engine.Pool(t); ok && cp.Address() == addr {
			return t, true
		}
	}
	return 0, false
}

// --- Snapshot support ---

// ProtocolState is the serializable protocol state.
type ProtocolState struct {
	Minter      common.Address          `json:"minter"`
	BaseAsset   ledger.Asset            `json:"base_asset"`
	StableAsset ledger.Asset            `json:"stable_asset"`
	Ledger      ledger.LedgerState      `json:"ledger"`
	Feed        oracle.FeedState        `json:"feed"`
	Pools       []pool.State            `json:"pools"`
	Calculator  pricing.CalculatorState `json:"calculator"`
	Engine      options.EngineState     `json:"engine"`
}

func (p *Protocol) Export() ProtocolState {
	st := ProtocolState{
		Minter:      p.minter,
		BaseAsset:   p.base,
		StableAsset: p.stable,
		Ledger:      p.tokens.Export(),
		Feed:        p.feed.Export(),
		Calculator:  p.calc.Export(),
		Engine:      p.engine.Export(),
	}
	for _, addr := range p.poolAddresses() {
		st.Pools = append(st.Pools, p.pools[addr].Export())
	}
	return st
}

// RestoreProtocol rebuilds the protocol from an exported state.
func RestoreProtocol(st ProtocolState) (*Protocol, error) {
	rec := receipt.NewRecorder()
	tokens := ledger.NewTokenLedger()
	tokens.Restore(st.Ledger)
	feed := oracle.RestoreFeed(st.Feed)

	pools := make(map[common.Address]*pool.Pool, len(st.Pools))
	collateral := make(map[common.Address]options.CollateralPool, len(st.Pools))
	for _, ps := range st.Pools {
		pl := pool.Restore(ps, tokens, rec)
		pools[pl.Address()] = pl
		collateral[pl.Address()] = pl
	}

	calc, err := pricing.RestoreCalculator(st.Calculator, feed)
	if err != nil {
		return nil, fmt.Errorf("restore calculator: %w", err)
	}
	engine := options.Restore(st.Engine, tokens, feed, rec, collateral)
	calc.SetPools(engine)
	engine.AttachCalculator(calc)

	return &Protocol{
		tokens:   tokens,
		feed:     feed,
		pools:    pools,
		calc:     calc,
		engine:   engine,
		recorder: rec,
		minter:   st.Minter,
		base:     st.BaseAsset,
		stable:   st.StableAsset,
	}, nil
}

package core

import (
	"math/big"
	"sort"

	"OptionLedger/internal/ledger"
	"OptionLedger/internal/options"
	"OptionLedger/internal/pool"

	"github.com/ethereum/go-ethereum/common"
)

// Read accessors. Each takes the read lock, so they observe state between
// transactions and never a half-applied one.

func (c *DeterministicCore) Pools() []pool.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.protocol
	out := make([]pool.Stats, 0, len(p.pools))
	for _, addr := range p.poolAddresses() {
		out = append(out, p.pools[addr].Stats())
	}
	return out
}

func (c *DeterministicCore) PoolStats(addr common.Address) (pool.Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pl, err := c.protocol.pool(addr)
	if err != nil {
		return pool.Stats{}, err
	}
	return pl.Stats(), nil
}

// TrancheView is a tranche together with its current redemption value.
type TrancheView struct {
	pool.Tranche
	Value *big.Int `json:"value"`
}

func (c *DeterministicCore) Tranche(addr common.Address, id uint64) (TrancheView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pl, err := c.protocol.pool(addr)
	if err != nil {
		return TrancheView{}, err
	}
	t, err := pl.Tranche(id)
	if err != nil {
		return TrancheView{}, err
	}
	value := new(big.Int)
	if t.State == pool.TrancheOpen {
		if value, err = pl.TrancheValue(id); err != nil {
			return TrancheView{}, err
		}
	}
	return TrancheView{Tranche: t, Value: value}, nil
}

func (c *DeterministicCore) LockedLiquidity(addr common.Address, id uint64) (pool.LockedLiquidity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pl, err := c.protocol.pool(addr)
	if err != nil {
		return pool.LockedLiquidity{}, err
	}
	return pl.LockedLiquidity(id)
}

func (c *DeterministicCore) ShareOf(addr, owner common.Address) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pl, err := c.protocol.pool(addr)
	if err != nil {
		return nil, err
	}
	return pl.ShareOf(owner), nil
}

func (c *DeterministicCore) Option(id uint64) (options.Option, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocol.engine.Option(id)
}

func (c *DeterministicCore) OptionsOf(holder common.Address) []options.Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocol.engine.OptionsOf(holder)
}

// Quote returns (settlementFee, premium) for an at-the-money option. A nil or
// zero strike is taken as the current price.
func (c *DeterministicCore) Quote(t options.OptionType, period uint64, amount, strike *big.Int) (*big.Int, *big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.protocol
	if strike == nil || strike.Sign() == 0 {
		price, err := p.feed.CurrentPrice()
		if err != nil {
			return nil, nil, err
		}
		strike = price
	}
	return p.calc.Fees(period, amount, strike, t)
}

func (c *DeterministicCore) Price() (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocol.feed.CurrentPrice()
}

func (c *DeterministicCore) Assets() []ledger.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocol.tokens.Assets()
}

// BalanceOf returns owner's balance of the asset with the given symbol.
func (c *DeterministicCore) BalanceOf(owner common.Address, symbol string) (*big.Int, ledger.Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, err := c.protocol.asset(symbol)
	if err != nil {
		return nil, ledger.Asset{}, err
	}
	return c.protocol.tokens.BalanceOf(owner, a.ID), a, nil
}

// EngineInfo describes the options engine configuration.
type EngineInfo struct {
	Address                   common.Address   `json:"address"`
	Owners                    []common.Address `json:"owners"`
	CreatedAt                 uint64           `json:"created_at"`
	PutPool                   common.Address   `json:"put_pool"`
	CallPool                  common.Address   `json:"call_pool"`
	PutFeeRecipient           common.Address   `json:"put_fee_recipient"`
	CallFeeRecipient          common.Address   `json:"call_fee_recipient"`
	OptionCount               int              `json:"option_count"`
	PoolsOwnershipTransferred bool             `json:"pools_ownership_transferred"`
}

func (c *DeterministicCore) Engine() EngineInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.protocol.engine
	info := EngineInfo{
		Address:                   e.Address(),
		Owners:                    e.Owners(),
		CreatedAt:                 e.CreatedAt(),
		OptionCount:               e.Count(),
		PoolsOwnershipTransferred: e.PoolsOwnershipTransferred(),
	}
	if p, ok := e.Pool(options.Put); ok {
		info.PutPool = p.Address()
	}
	if p, ok := e.Pool(options.Call); ok {
		info.CallPool = p.Address()
	}
	info.PutFeeRecipient, _ = e.FeeRecipient(options.Put)
	info.CallFeeRecipient, _ = e.FeeRecipient(options.Call)
	return info
}

// Expired returns active options past expiration at now, the candidates for
// an UnlockOption sweep.
func (c *DeterministicCore) Expired(now uint64) []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []uint64
	e := c.protocol.engine
	for id := 0; id < e.Count(); id++ {
		o, err := e.Option(uint64(id))
		if err != nil {
			break
		}
		if o.State == options.StateActive && now > o.Expiration {
			out = append(out, o.ID)
		}
	}
	return out
}

// ProjectionState is the full read-model view of the core at one sequence.
// The projection worker loads it when it has missed outputs.
type ProjectionState struct {
	// Sequence is the last applied sequence, -1 before the first transaction.
	Sequence int64
	Balances []BalanceUpdate
	Pools    []pool.Stats
	Tranches []TrancheUpdate
	Options  []options.Option
}

func (c *DeterministicCore) ProjectionState() ProjectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.protocol
	st := ProjectionState{Sequence: c.sequence - 1}

	for key, bal := range p.tokens.Tracker().Snapshot() {
		if key.Scope != ledger.AccountScopeHolder {
			continue
		}
		st.Balances = append(st.Balances, BalanceUpdate{Owner: key.Owner, Asset: key.AssetID, Balance: bal})
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		a, b := st.Balances[i], st.Balances[j]
		if a.Owner != b.Owner {
			return a.Owner.Cmp(b.Owner) < 0
		}
		return a.Asset < b.Asset
	})

	for _, addr := range p.poolAddresses() {
		pl := p.pools[addr]
		stats := pl.Stats()
		st.Pools = append(st.Pools, stats)
		for id := 0; id < stats.Tranches; id++ {
			if t, err := pl.Tranche(uint64(id)); err == nil {
				st.Tranches = append(st.Tranches, TrancheUpdate{Pool: addr, Tranche: t})
			}
		}
	}
	for id := 0; id < p.engine.Count(); id++ {
		if o, err := p.engine.Option(uint64(id)); err == nil {
			st.Options = append(st.Options, o)
		}
	}
	return st
}

// Supply returns the circulating supply of each asset: everything drawn
// from the issuance account.
func (c *DeterministicCore) Supply() map[ledger.AssetID]*big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[ledger.AssetID]*big.Int)
	tracker := c.protocol.tokens.Tracker()
	for _, a := range c.protocol.tokens.Assets() {
		out[a.ID] = new(big.Int).Neg(tracker.GetBalance(ledger.NewIssuanceKey(a.ID)))
	}
	return out
}

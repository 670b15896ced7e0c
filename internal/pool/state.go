package pool

import (
	"math/big"

	"OptionLedger/internal/access"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
)

// State is the serializable form of a pool, used by snapshots.
type State struct {
	Address       common.Address    `json:"address"`
	Asset         ledger.AssetID    `json:"asset"`
	Roles         access.Grants     `json:"roles"`
	Tranches      []Tranche         `json:"tranches"`
	Locks         []LockedLiquidity `json:"locks"`
	TotalBalance  *big.Int          `json:"total_balance"`
	LockedAmount  *big.Int          `json:"locked_amount"`
	HedgedShare   *big.Int          `json:"hedged_share"`
	UnhedgedShare *big.Int          `json:"unhedged_share"`
	HedgeFeeRate  uint64            `json:"hedge_fee_rate"`
	HedgePool     common.Address    `json:"hedge_pool"`
	LockupPeriod  uint64            `json:"lockup_period"`
}

func (p *Pool) Export() State {
	st := State{
		Address:       p.address,
		Asset:         p.asset,
		Roles:         p.roles.Export(),
		Tranches:      make([]Tranche, 0, len(p.tranches)),
		Locks:         make([]LockedLiquidity, 0, len(p.locks)),
		TotalBalance:  fpmath.Clone(p.totalBalance),
		LockedAmount:  fpmath.Clone(p.lockedAmount),
		HedgedShare:   fpmath.Clone(p.hedgedShare),
		UnhedgedShare: fpmath.Clone(p.unhedgedShare),
		HedgeFeeRate:  p.hedgeFeeRate,
		HedgePool:     p.hedgePool,
		LockupPeriod:  p.lockupPeriod,
	}
	for _, t := range p.tranches {
		st.Tranches = append(st.Tranches, t.clone())
	}
	for _, l := range p.locks {
		st.Locks = append(st.Locks, l.clone())
	}
	return st
}

// Restore rebuilds a pool from an exported State.
func Restore(st State, tokens TokenLedger, emitter receipt.Emitter) *Pool {
	if emitter == nil {
		emitter = receipt.Nop{}
	}
	p := &Pool{
		address:       st.Address,
		asset:         st.Asset,
		tokens:        tokens,
		roles:         access.Restore(st.Roles),
		emitter:       emitter,
		totalBalance:  fpmath.Clone(st.TotalBalance),
		lockedAmount:  fpmath.Clone(st.LockedAmount),
		hedgedShare:   fpmath.Clone(st.HedgedShare),
		unhedgedShare: fpmath.Clone(st.UnhedgedShare),
		hedgeFeeRate:  st.HedgeFeeRate,
		hedgePool:     st.HedgePool,
		lockupPeriod:  st.LockupPeriod,
	}
	for i := range st.Tranches {
		t := st.Tranches[i].clone()
		p.tranches = append(p.tranches, &t)
	}
	for i := range st.Locks {
		l := st.Locks[i].clone()
		p.locks = append(p.locks, &l)
	}
	return p
}

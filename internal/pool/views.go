package pool

import (
	"math/big"

	"OptionLedger/internal/access"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

func (p *Pool) Address() common.Address { return p.address }
func (p *Pool) Asset() ledger.AssetID   { return p.asset }

func (p *Pool) TotalBalance() *big.Int { return fpmath.Clone(p.totalBalance) }
func (p *Pool) LockedAmount() *big.Int { return fpmath.Clone(p.lockedAmount) }
func (p *Pool) TotalShare() *big.Int   { return p.totalShare() }

// AvailableBalance is the part of the balance not committed to live options.
func (p *Pool) AvailableBalance() *big.Int {
	return fpmath.Sub(p.totalBalance, p.lockedAmount)
}

func (p *Pool) HedgedBalance() *big.Int {
	return p.balanceOfShares(p.hedgedShare)
}

func (p *Pool) UnhedgedBalance() *big.Int {
	return p.balanceOfShares(p.unhedgedShare)
}

func (p *Pool) balanceOfShares(share *big.Int) *big.Int {
	supply := p.totalShare()
	if supply.Sign() == 0 {
		return new(big.Int)
	}
	return fpmath.MulDiv(p.totalBalance, share, supply)
}

// Tranche returns a copy of the tranche, open or closed.
func (p *Pool) Tranche(id uint64) (Tranche, error) {
	if id >= uint64(len(p.tranches)) {
		return Tranche{}, ErrNotFound
	}
	return p.tranches[id].clone(), nil
}

// TrancheValue is what the tranche would redeem for right now.
func (p *Pool) TrancheValue(id uint64) (*big.Int, error) {
	t, err := p.openTranche(id)
	if err != nil {
		return nil, err
	}
	return p.balanceOfShares(t.Share), nil
}

// ShareOf sums the shares of all open tranches owned by owner.
func (p *Pool) ShareOf(owner common.Address) *big.Int {
	total := new(big.Int)
	for _, t := range p.tranches {
		if t.State == TrancheOpen && t.Owner == owner {
			total.Add(total, t.Share)
		}
	}
	return total
}

func (p *Pool) LockedLiquidity(id uint64) (LockedLiquidity, error) {
	if id >= uint64(len(p.locks)) {
		return LockedLiquidity{}, ErrUnknownLock
	}
	return p.locks[id].clone(), nil
}

func (p *Pool) Stats() Stats {
	return Stats{
		Address:          p.address,
		Asset:            p.asset,
		TotalBalance:     p.TotalBalance(),
		LockedAmount:     p.LockedAmount(),
		AvailableBalance: p.AvailableBalance(),
		TotalShare:       p.totalShare(),
		HedgedShare:      fpmath.Clone(p.hedgedShare),
		UnhedgedShare:    fpmath.Clone(p.unhedgedShare),
		HedgedBalance:    p.HedgedBalance(),
		UnhedgedBalance:  p.UnhedgedBalance(),
		HedgeFeeRate:     p.hedgeFeeRate,
		HedgePool:        p.hedgePool,
		LockupPeriod:     p.lockupPeriod,
		Tranches:         len(p.tranches),
		Locks:            len(p.locks),
	}
}

// Roles lists the principals holding role.
func (p *Pool) Roles(role access.Role) []common.Address {
	return p.roles.Members(role)
}

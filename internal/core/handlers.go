package core

import (
	"fmt"
	"math/big"

	"OptionLedger/internal/access"
	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/options"
	"OptionLedger/internal/pool"

	"github.com/ethereum/go-ethereum/common"
)

// effects names the entities a transaction touched so projections can be
// refreshed without diffing the whole state.
type effects struct {
	options  []uint64
	tranches []trancheRef
	// settled is "exercised" or "expired" when an option reached a terminal state.
	settled string
}

type trancheRef struct {
	Pool common.Address
	ID   uint64
}

func checkAmount(v *big.Int) error {
	if err := fpmath.CheckUint256(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (effects, error) {
	now := uint64(evt.BlockTime())
	sender := evt.Sender()
	p := c.protocol

	switch e := evt.(type) {
	// --- Pool ---
	case *event.Provide:
		pl, err := p.pool(e.Pool)
		if err != nil {
			return effects{}, err
		}
		account := sender
		if e.Account != nil {
			account = *e.Account
		}
		id, err := pl.ProvideFrom(sender, account, e.Amount, e.Hedged, e.MinShare, now)
		if err != nil {
			return effects{}, err
		}
		return effects{tranches: []trancheRef{{e.Pool, id}}}, nil

	case *event.Withdraw:
		pl, err := p.pool(e.Pool)
		if err != nil {
			return effects{}, err
		}
		withdraw := pl.Withdraw
		if e.WithoutHedge {
			withdraw = pl.WithdrawWithoutHedge
		}
		if _, err := withdraw(sender, e.TrancheID, now); err != nil {
			return effects{}, err
		}
		return effects{tranches: []trancheRef{{e.Pool, e.TrancheID}}}, nil

	case *event.TransferTranche:
		pl, err := p.pool(e.Pool)
		if err != nil {
			return effects{}, err
		}
		if err := pl.TransferTranche(sender, e.TrancheID, e.To); err != nil {
			return effects{}, err
		}
		return effects{tranches: []trancheRef{{e.Pool, e.TrancheID}}}, nil

	case *event.ApproveTranche:
		pl, err := p.pool(e.Pool)
		if err != nil {
			return effects{}, err
		}
		if err := pl.ApproveTranche(sender, e.TrancheID, e.Operator); err != nil {
			return effects{}, err
		}
		return effects{tranches: []trancheRef{{e.Pool, e.TrancheID}}}, nil

	// --- Options ---
	case *event.CreateOption:
		holder := e.Holder
		if holder == (common.Address{}) {
			holder = sender
		}
		id, err := p.engine.CreateFor(sender, holder, e.Period, e.Amount, e.Strike, options.OptionType(e.OptionType), now)
		if err != nil {
			return effects{}, err
		}
		return effects{options: []uint64{id}}, nil

	case *event.ExerciseOption:
		if _, err := p.engine.Exercise(sender, e.OptionID, now); err != nil {
			return effects{}, err
		}
		return effects{options: []uint64{e.OptionID}, settled: "exercised"}, nil

	case *event.UnlockOption:
		if err := p.engine.Unlock(e.OptionID, now); err != nil {
			return effects{}, err
		}
		return effects{options: []uint64{e.OptionID}, settled: "expired"}, nil

	case *event.ApproveOption:
		if err := p.engine.Approve(sender, e.OptionID, e.Operator); err != nil {
			return effects{}, err
		}
		return effects{options: []uint64{e.OptionID}}, nil

	case *event.TransferOption:
		if err := p.engine.TransferOption(sender, e.OptionID, e.To); err != nil {
			return effects{}, err
		}
		return effects{options: []uint64{e.OptionID}}, nil

	// --- Oracle & tokens ---
	case *event.PriceUpdate:
		return effects{}, p.feed.Update(sender, e.Price, e.BlockTime())

	case *event.Mint:
		if sender != p.minter {
			return effects{}, fmt.Errorf("%w: %s", ErrNotMinter, sender.Hex())
		}
		asset, err := p.asset(e.Asset)
		if err != nil {
			return effects{}, err
		}
		if err := checkAmount(e.Amount); err != nil {
			return effects{}, err
		}
		return effects{}, p.tokens.Mint(e.To, asset.ID, e.Amount)

	case *event.TokenTransfer:
		asset, err := p.asset(e.Asset)
		if err != nil {
			return effects{}, err
		}
		if err := checkAmount(e.Amount); err != nil {
			return effects{}, err
		}
		return effects{}, p.tokens.Transfer(sender, e.To, asset.ID, e.Amount, ledger.JournalTypeTransfer)

	case *event.TokenApprove:
		asset, err := p.asset(e.Asset)
		if err != nil {
			return effects{}, err
		}
		if err := checkAmount(e.Amount); err != nil {
			return effects{}, err
		}
		return effects{}, p.tokens.Approve(sender, e.Spender, asset.ID, e.Amount)

	// --- Administration ---
	case *event.SetLockupPeriod:
		r, err := p.adminRoute(sender, e.Pool)
		if err != nil {
			return effects{}, err
		}
		if r.viaEngine {
			return effects{}, p.engine.SetLockupPeriod(sender, r.typ, e.Period)
		}
		return effects{}, r.pool.SetLockupPeriod(sender, e.Period)

	case *event.SetHedgePool:
		r, err := p.adminRoute(sender, e.Pool)
		if err != nil {
			return effects{}, err
		}
		if r.viaEngine {
			return effects{}, p.engine.SetHedgePool(sender, r.typ, e.HedgePool)
		}
		return effects{}, r.pool.SetHedgePool(sender, e.HedgePool)

	case *event.SetHedgeFeeRate:
		r, err := p.adminRoute(sender, e.Pool)
		if err != nil {
			return effects{}, err
		}
		if r.viaEngine {
			return effects{}, p.engine.SetHedgeFeeRate(sender, r.typ, e.Rate)
		}
		return effects{}, r.pool.SetHedgeFeeRate(sender, e.Rate)

	case *event.SetImpliedVolRate:
		return effects{}, p.calc.SetImpliedVolRate(sender, e.Rates)

	case *event.SetSettlementFeeRecipients:
		return effects{}, p.engine.SetSettlementFeeRecipients(sender, e.PutRecipient, e.CallRecipient)

	case *event.SetPools:
		put, err := p.pool(e.PutPool)
		if err != nil {
			return effects{}, err
		}
		call, err := p.pool(e.CallPool)
		if err != nil {
			return effects{}, err
		}
		return effects{}, p.engine.SetPools(sender, put, call)

	case *event.GrantRole:
		r, err := p.adminRoute(sender, e.Pool)
		if err != nil {
			return effects{}, err
		}
		role, err := access.ParseRole(e.Role)
		if err != nil {
			return effects{}, err
		}
		if r.viaEngine {
			return effects{}, p.engine.GrantPoolRole(sender, r.typ, role, e.Account)
		}
		return effects{}, r.pool.GrantRole(sender, role, e.Account)

	case *event.RevokeRole:
		r, err := p.adminRoute(sender, e.Pool)
		if err != nil {
			return effects{}, err
		}
		role, err := access.ParseRole(e.Role)
		if err != nil {
			return effects{}, err
		}
		if r.viaEngine {
			return effects{}, p.engine.RevokePoolRole(sender, r.typ, role, e.Account)
		}
		return effects{}, r.pool.RevokeRole(sender, role, e.Account)

	case *event.TransferPoolsOwnership:
		return effects{}, p.engine.TransferPoolsOwnership(sender, now)

	default:
		return effects{}, fmt.Errorf("%w: %T", ErrUnknownTransaction, evt)
	}
}

type adminRoute struct {
	pool      *pool.Pool
	typ       options.OptionType
	viaEngine bool
}

// adminRoute sends pool administration straight to the pool when the sender
// administers it, and through the engine once the engine has taken the pool
// over. The engine checks its own owner role before forwarding.
func (p *Protocol) adminRoute(sender, addr common.Address) (adminRoute, error) {
	pl, err := p.pool(addr)
	if err != nil {
		return adminRoute{}, err
	}
	r := adminRoute{pool: pl}
	if pl.HasRole(access.RoleAdmin, sender) {
		return r, nil
	}
	if t, ok := p.optionTypeOf(addr); ok && pl.HasRole(access.RoleAdmin, p.engine.Address()) {
		r.typ, r.viaEngine = t, true
	}
	return r, nil
}

package options

import (
	"fmt"

	"OptionLedger/internal/access"
	"OptionLedger/internal/pricing"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) SetPriceCalculator(caller common.Address, calc FeeCalculator) error {
	if err := e.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	e.calc = calc
	return nil
}

// SetPools installs the put (stable asset) and call (base asset) pools.
// Options already sold keep settling against the pool that locked them.
func (e *Engine) SetPools(caller common.Address, put, call CollateralPool) error {
	if err := e.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if put == nil || call == nil {
		return ErrNilPool
	}
	if put.Asset() != e.stable.ID {
		return fmt.Errorf("%w: put pool %s", ErrPoolAssetMismatch, put.Address().Hex())
	}
	if call.Asset() != e.base.ID {
		return fmt.Errorf("%w: call pool %s", ErrPoolAssetMismatch, call.Address().Hex())
	}
	e.pools[Put] = put
	e.pools[Call] = call
	e.known[put.Address()] = put
	e.known[call.Address()] = call
	return nil
}

func (e *Engine) SetSettlementFeeRecipients(caller, put, call common.Address) error {
	if err := e.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if put == (common.Address{}) || call == (common.Address{}) {
		return ErrZeroAddress
	}
	e.recipients[Put] = put
	e.recipients[Call] = call
	return nil
}

// The pool forwarders below act on the pool of type t with the engine as
// caller. The engine must already be that pool's admin, which
// TransferPoolsOwnership arranges.

func (e *Engine) SetHedgeFeeRate(caller common.Address, t OptionType, rate uint64) error {
	pool, err := e.administeredPool(caller, t)
	if err != nil {
		return err
	}
	return pool.SetHedgeFeeRate(e.address, rate)
}

func (e *Engine) SetLockupPeriod(caller common.Address, t OptionType, period uint64) error {
	pool, err := e.administeredPool(caller, t)
	if err != nil {
		return err
	}
	return pool.SetLockupPeriod(e.address, period)
}

func (e *Engine) SetHedgePool(caller common.Address, t OptionType, hedgePool common.Address) error {
	pool, err := e.administeredPool(caller, t)
	if err != nil {
		return err
	}
	return pool.SetHedgePool(e.address, hedgePool)
}

// GrantPoolRole and RevokePoolRole edit the role table of the pool of type
// t, e.g. to retire an options engine that should no longer lock collateral.
func (e *Engine) GrantPoolRole(caller common.Address, t OptionType, role access.Role, who common.Address) error {
	pool, err := e.administeredPool(caller, t)
	if err != nil {
		return err
	}
	return pool.GrantRole(e.address, role, who)
}

func (e *Engine) RevokePoolRole(caller common.Address, t OptionType, role access.Role, who common.Address) error {
	pool, err := e.administeredPool(caller, t)
	if err != nil {
		return err
	}
	return pool.RevokeRole(e.address, role, who)
}

func (e *Engine) administeredPool(caller common.Address, t OptionType) (CollateralPool, error) {
	if err := e.roles.Require(access.RoleAdmin, caller); err != nil {
		return nil, err
	}
	pool, ok := e.pools[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotSet, t)
	}
	return pool, nil
}

// TransferPoolsOwnership hands the admin role of both pools from the owner to
// the engine. Allowed once, during the bootstrap window after deployment.
func (e *Engine) TransferPoolsOwnership(caller common.Address, now uint64) error {
	if err := e.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if now >= e.createdAt+BootstrapWindow {
		return ErrBootstrapClosed
	}
	if e.ownershipMigrated {
		return ErrAlreadyTransferred
	}
	if len(e.pools) < 2 {
		return ErrPoolNotSet
	}
	targets := e.distinctPools()
	for _, p := range targets {
		if !p.HasRole(access.RoleAdmin, caller) {
			return fmt.Errorf("%w: %s on pool %s", access.ErrMissingRole, access.RoleAdmin, p.Address().Hex())
		}
	}
	for _, p := range targets {
		if err := p.TransferAdmin(caller, e.address); err != nil {
			panic(fmt.Sprintf("FATAL: pool admin transfer failed after validation: %v", err))
		}
	}
	e.ownershipMigrated = true
	return nil
}

func (e *Engine) distinctPools() []CollateralPool {
	var out []CollateralPool
	seen := make(map[common.Address]bool)
	for _, t := range []OptionType{Put, Call} {
		p, ok := e.pools[t]
		if !ok || seen[p.Address()] {
			continue
		}
		seen[p.Address()] = true
		out = append(out, p)
	}
	return out
}

// PoolFor lets the price calculator read the utilization of the pool that
// backs t.
func (e *Engine) PoolFor(t OptionType) (pricing.PoolStats, bool) {
	p, ok := e.pools[t]
	if !ok {
		return nil, false
	}
	return p, true
}

package options

import (
	"OptionLedger/internal/access"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) Address() common.Address { return e.address }
func (e *Engine) CreatedAt() uint64       { return e.createdAt }
func (e *Engine) Count() int              { return len(e.options) }

func (e *Engine) Owners() []common.Address { return e.roles.Members(access.RoleAdmin) }

func (e *Engine) Option(id uint64) (Option, error) {
	o, err := e.get(id)
	if err != nil {
		return Option{}, err
	}
	return o.clone(), nil
}

// OptionsOf lists the options currently held by holder, in id order.
func (e *Engine) OptionsOf(holder common.Address) []Option {
	var out []Option
	for _, o := range e.options {
		if o.Holder == holder {
			out = append(out, o.clone())
		}
	}
	return out
}

func (e *Engine) Pool(t OptionType) (CollateralPool, bool) {
	p, ok := e.pools[t]
	return p, ok
}

func (e *Engine) FeeRecipient(t OptionType) (common.Address, bool) {
	r, ok := e.recipients[t]
	return r, ok
}

func (e *Engine) PoolsOwnershipTransferred() bool { return e.ownershipMigrated }

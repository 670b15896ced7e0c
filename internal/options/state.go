package options

import (
	"sort"

	"OptionLedger/internal/access"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/oracle"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
)

// EngineState is the serializable form of the engine. Pools and the calculator are
// referenced, not embedded; their own state is snapshotted separately.
type EngineState struct {
	Address           common.Address   `json:"address"`
	BaseAsset         ledger.Asset     `json:"base_asset"`
	StableAsset       ledger.Asset     `json:"stable_asset"`
	CreatedAt         uint64           `json:"created_at"`
	Roles             access.Grants    `json:"roles"`
	PutPool           common.Address   `json:"put_pool"`
	CallPool          common.Address   `json:"call_pool"`
	KnownPools        []common.Address `json:"known_pools"`
	PutFeeRecipient   common.Address   `json:"put_fee_recipient"`
	CallFeeRecipient  common.Address   `json:"call_fee_recipient"`
	OwnershipMigrated bool             `json:"ownership_migrated"`
	Options           []Option         `json:"options"`
}

func (e *Engine) Export() EngineState {
	st := EngineState{
		Address:           e.address,
		BaseAsset:         e.base,
		StableAsset:       e.stable,
		CreatedAt:         e.createdAt,
		Roles:             e.roles.Export(),
		PutFeeRecipient:   e.recipients[Put],
		CallFeeRecipient:  e.recipients[Call],
		OwnershipMigrated: e.ownershipMigrated,
		Options:           make([]Option, 0, len(e.options)),
	}
	if p, ok := e.pools[Put]; ok {
		st.PutPool = p.Address()
	}
	if p, ok := e.pools[Call]; ok {
		st.CallPool = p.Address()
	}
	for addr := range e.known {
		st.KnownPools = append(st.KnownPools, addr)
	}
	sort.Slice(st.KnownPools, func(i, j int) bool { return st.KnownPools[i].Hex() < st.KnownPools[j].Hex() })
	for _, o := range e.options {
		st.Options = append(st.Options, o.clone())
	}
	return st
}

// Restore rebuilds an engine from st. pools must resolve every address the
// engine has settled against. The calculator is attached afterwards.
func Restore(st EngineState, tokens TokenLedger, o oracle.PriceOracle, emitter receipt.Emitter, pools map[common.Address]CollateralPool) *Engine {
	if emitter == nil {
		emitter = receipt.Nop{}
	}
	e := &Engine{
		address:           st.Address,
		base:              st.BaseAsset,
		stable:            st.StableAsset,
		createdAt:         st.CreatedAt,
		roles:             access.Restore(st.Roles),
		tokens:            tokens,
		oracle:            o,
		emitter:           emitter,
		pools:             make(map[OptionType]CollateralPool),
		known:             make(map[common.Address]CollateralPool),
		recipients:        make(map[OptionType]common.Address),
		ownershipMigrated: st.OwnershipMigrated,
	}
	for _, addr := range st.KnownPools {
		if p, ok := pools[addr]; ok {
			e.known[addr] = p
		}
	}
	if p, ok := pools[st.PutPool]; ok {
		e.pools[Put] = p
	}
	if p, ok := pools[st.CallPool]; ok {
		e.pools[Call] = p
	}
	if st.PutFeeRecipient != (common.Address{}) {
		e.recipients[Put] = st.PutFeeRecipient
	}
	if st.CallFeeRecipient != (common.Address{}) {
		e.recipients[Call] = st.CallFeeRecipient
	}
	for i := range st.Options {
		opt := st.Options[i].clone()
		e.options = append(e.options, &opt)
	}
	return e
}

// AttachCalculator installs the fee calculator without a role check. Used on
// bootstrap and restore only.
func (e *Engine) AttachCalculator(calc FeeCalculator) { e.calc = calc }

// Package options is the option lifecycle state machine. It sells puts and
// calls against two collateral pools and settles them on exercise or expiry.
package options

import (
	"fmt"
	"math/big"

	"OptionLedger/internal/access"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/oracle"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
)

// Engine owns the options book. It is not safe for concurrent use; the core
// serializes every call.
type Engine struct {
	address   common.Address
	base      ledger.Asset
	stable    ledger.Asset
	createdAt uint64

	roles   *access.Table
	tokens  TokenLedger
	oracle  oracle.PriceOracle
	calc    FeeCalculator
	emitter receipt.Emitter

	pools      map[OptionType]CollateralPool
	known      map[common.Address]CollateralPool
	recipients map[OptionType]common.Address

	options           []*Option
	ownershipMigrated bool
}

func New(cfg Config, tokens TokenLedger, o oracle.PriceOracle, emitter receipt.Emitter) *Engine {
	if emitter == nil {
		emitter = receipt.Nop{}
	}
	return &Engine{
		address:    cfg.Address,
		base:       cfg.BaseAsset,
		stable:     cfg.StableAsset,
		createdAt:  cfg.CreatedAt,
		roles:      access.NewTable(cfg.Owner),
		tokens:     tokens,
		oracle:     o,
		emitter:    emitter,
		pools:      make(map[OptionType]CollateralPool),
		known:      make(map[common.Address]CollateralPool),
		recipients: make(map[OptionType]common.Address),
	}
}

// settlementAsset is the token premiums, fees and payoffs are paid in.
func (e *Engine) settlementAsset(t OptionType) ledger.Asset {
	if t == Put {
		return e.stable
	}
	return e.base
}

// Collateral is what the pool must lock so the worst-case payoff is covered.
func (e *Engine) Collateral(t OptionType, amount, strike *big.Int) *big.Int {
	if t == Call {
		return new(big.Int).Set(amount)
	}
	num := fpmath.Product(amount, strike, fpmath.Pow10(e.stable.Decimals))
	den := fpmath.Product(fpmath.PriceScale, fpmath.Pow10(e.base.Decimals))
	return fpmath.Quo(num, den)
}

// Payoff is the in-the-money value of an option at price, floored at zero.
func (e *Engine) Payoff(t OptionType, amount, strike, price *big.Int) *big.Int {
	switch t {
	case Put:
		if strike.Cmp(price) <= 0 {
			return new(big.Int)
		}
		num := fpmath.Product(fpmath.Sub(strike, price), amount, fpmath.Pow10(e.stable.Decimals))
		den := fpmath.Product(fpmath.PriceScale, fpmath.Pow10(e.base.Decimals))
		return fpmath.Quo(num, den)
	case Call:
		if price.Cmp(strike) <= 0 || price.Sign() == 0 {
			return new(big.Int)
		}
		return fpmath.MulDiv(fpmath.Sub(price, strike), amount, price)
	}
	return new(big.Int)
}

func checkPeriod(period uint64) error {
	if period < MinPeriod {
		return fmt.Errorf("%w: %d", ErrPeriodTooShort, period)
	}
	if period > MaxPeriod {
		return fmt.Errorf("%w: %d", ErrPeriodTooLong, period)
	}
	return nil
}

// CreateFor sells an option to holder, paid for by payer. A zero strike means
// at the money. Every check runs before the first transfer so a rejection
// leaves nothing behind.
func (e *Engine) CreateFor(payer, holder common.Address, period uint64, amount, strike *big.Int, t OptionType, now uint64) (uint64, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidOptionType, t)
	}
	if err := checkPeriod(period); err != nil {
		return 0, err
	}
	if err := fpmath.CheckUint256(amount); err != nil || amount.Sign() == 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if holder == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	if strike == nil || strike.Sign() == 0 {
		price, err := e.oracle.CurrentPrice()
		if err != nil {
			return 0, fmt.Errorf("read price: %w", err)
		}
		strike = price
	}
	if err := fpmath.CheckUint256(strike); err != nil {
		return 0, fmt.Errorf("%w: strike: %v", ErrInvalidAmount, err)
	}

	pool, ok := e.pools[t]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotSet, t)
	}
	recipient, ok := e.recipients[t]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRecipientNotSet, t)
	}
	if payer == pool.Address() {
		return 0, ErrPayerIsPool
	}
	if e.calc == nil {
		return 0, ErrCalculatorNotSet
	}

	fee, premium, err := e.calc.Fees(period, amount, strike, t)
	if err != nil {
		return 0, fmt.Errorf("quote: %w", err)
	}
	collateral := e.Collateral(t, amount, strike)
	if collateral.Sign() == 0 {
		return 0, ErrAmountTooSmall
	}
	asset := e.settlementAsset(t)
	total := fpmath.Add(fee, premium)
	if bal := e.tokens.BalanceOf(payer, asset.ID); bal.Cmp(total) < 0 {
		return 0, fmt.Errorf("%w: has %s, needs %s", ErrInsufficientFunds, bal, total)
	}
	if err := pool.CheckLock(e.address, premium, collateral); err != nil {
		return 0, fmt.Errorf("lock collateral: %w", err)
	}

	if err := e.tokens.Transfer(payer, pool.Address(), asset.ID, premium, ledger.JournalTypePremium); err != nil {
		panic(fmt.Sprintf("FATAL: premium transfer failed after validation: %v", err))
	}
	lockID, err := pool.Lock(e.address, premium, collateral)
	if err != nil {
		panic(fmt.Sprintf("FATAL: lock failed after CheckLock: %v", err))
	}
	if err := e.tokens.Transfer(payer, recipient, asset.ID, fee, ledger.JournalTypeSettlementFee); err != nil {
		panic(fmt.Sprintf("FATAL: settlement fee transfer failed after validation: %v", err))
	}

	id := uint64(len(e.options))
	e.options = append(e.options, &Option{
		ID:                id,
		State:             StateActive,
		Holder:            holder,
		Strike:            new(big.Int).Set(strike),
		Amount:            new(big.Int).Set(amount),
		Type:              t,
		Expiration:        now + period,
		CreatedAt:         now,
		Pool:              pool.Address(),
		LockedLiquidityID: lockID,
		SettlementFee:     fee,
		Premium:           premium,
	})

	e.emitter.Emit(e.address, receipt.Create{OptionID: id, Holder: holder, SettlementFee: fee, Premium: premium})
	return id, nil
}

func (e *Engine) get(id uint64) (*Option, error) {
	if id >= uint64(len(e.options)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e.options[id], nil
}

func (o *Option) canOperate(who common.Address) bool {
	return who == o.Holder || (o.Approved != (common.Address{}) && who == o.Approved)
}

// Exercise settles an active option at the current oracle price and pays the
// holder. Returns the payoff that was computed.
func (e *Engine) Exercise(caller common.Address, id uint64, now uint64) (*big.Int, error) {
	o, err := e.get(id)
	if err != nil {
		return nil, err
	}
	if !o.canOperate(caller) {
		return nil, fmt.Errorf("%w: option %d", ErrNotApproved, id)
	}
	if now > o.Expiration {
		return nil, fmt.Errorf("%w: option %d at %d", ErrExpired, id, o.Expiration)
	}
	if o.State != StateActive {
		return nil, fmt.Errorf("%w: option %d is %s", ErrWrongState, id, o.State)
	}
	pool, ok := e.known[o.Pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotSet, o.Pool.Hex())
	}
	price, err := e.oracle.CurrentPrice()
	if err != nil {
		return nil, fmt.Errorf("read price: %w", err)
	}

	payoff := e.Payoff(o.Type, o.Amount, o.Strike, price)
	if _, err := pool.Send(e.address, o.LockedLiquidityID, o.Holder, payoff); err != nil {
		return nil, fmt.Errorf("settle option %d: %w", id, err)
	}
	o.State = StateExercised

	e.emitter.Emit(e.address, receipt.Exercise{OptionID: id, Profit: payoff})
	return payoff, nil
}

// Unlock expires an option after its expiration and returns its collateral to
// the pool. Anyone may call it.
func (e *Engine) Unlock(id uint64, now uint64) error {
	o, err := e.get(id)
	if err != nil {
		return err
	}
	if now <= o.Expiration {
		return fmt.Errorf("%w: option %d until %d", ErrNotYetExpired, id, o.Expiration)
	}
	if o.State != StateActive {
		return fmt.Errorf("%w: option %d is %s", ErrWrongState, id, o.State)
	}
	pool, ok := e.known[o.Pool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotSet, o.Pool.Hex())
	}
	if err := pool.Unlock(e.address, o.LockedLiquidityID); err != nil {
		return fmt.Errorf("unlock option %d: %w", id, err)
	}
	o.State = StateExpired

	e.emitter.Emit(e.address, receipt.Expire{OptionID: id})
	return nil
}

// Approve lets operator exercise or transfer the option. The zero address
// clears the approval.
func (e *Engine) Approve(caller common.Address, id uint64, operator common.Address) error {
	o, err := e.get(id)
	if err != nil {
		return err
	}
	if caller != o.Holder {
		return fmt.Errorf("%w: option %d", ErrNotHolder, id)
	}
	o.Approved = operator
	return nil
}

func (e *Engine) TransferOption(caller common.Address, id uint64, to common.Address) error {
	o, err := e.get(id)
	if err != nil {
		return err
	}
	if !o.canOperate(caller) {
		return fmt.Errorf("%w: option %d", ErrNotApproved, id)
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	o.Holder = to
	o.Approved = common.Address{}
	return nil
}

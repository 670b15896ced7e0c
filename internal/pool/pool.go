// Package pool implements the share-based collateral pool that backs options.
package pool

import (
	"fmt"
	"math/big"

	"OptionLedger/internal/access"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
)

var hundred = big.NewInt(100)

// Pool holds one asset on behalf of its tranches and commits part of it as
// collateral for live options. Every mutating method validates fully before
// touching state, so a returned error always means nothing changed.
type Pool struct {
	address common.Address
	asset   ledger.AssetID
	tokens  TokenLedger
	roles   *access.Table
	emitter receipt.Emitter

	tranches []*Tranche
	locks    []*LockedLiquidity

	totalBalance  *big.Int
	lockedAmount  *big.Int
	hedgedShare   *big.Int
	unhedgedShare *big.Int

	hedgeFeeRate uint64
	hedgePool    common.Address
	lockupPeriod uint64

	entered bool
}

func New(cfg Config, tokens TokenLedger, emitter receipt.Emitter) *Pool {
	if emitter == nil {
		emitter = receipt.Nop{}
	}
	return &Pool{
		address:       cfg.Address,
		asset:         cfg.Asset,
		tokens:        tokens,
		roles:         access.NewTable(cfg.Admin),
		emitter:       emitter,
		totalBalance:  new(big.Int),
		lockedAmount:  new(big.Int),
		hedgedShare:   new(big.Int),
		unhedgedShare: new(big.Int),
		hedgeFeeRate:  DefaultHedgeFeeRate,
		hedgePool:     cfg.Admin,
		lockupPeriod:  DefaultLockupPeriod,
	}
}

func (p *Pool) enter() error {
	if p.entered {
		return ErrReentrant
	}
	p.entered = true
	return nil
}

func (p *Pool) exit() { p.entered = false }

// pay sends funds out of the pool after the state change is complete.
// Callers have already proven the pool holds enough.
func (p *Pool) pay(to common.Address, amount *big.Int, jt ledger.JournalType) {
	if amount.Sign() == 0 {
		return
	}
	if err := p.tokens.Transfer(p.address, to, p.asset, amount, jt); err != nil {
		panic(fmt.Sprintf("FATAL: pool %s cannot pay %s to %s: %v", p.address.Hex(), amount, to.Hex(), err))
	}
}

func (p *Pool) totalShare() *big.Int {
	return new(big.Int).Add(p.hedgedShare, p.unhedgedShare)
}

// Provide deposits amount from depositor and mints a new tranche.
func (p *Pool) Provide(depositor common.Address, amount *big.Int, hedged bool, minShare *big.Int, now uint64) (uint64, error) {
	return p.ProvideFrom(depositor, depositor, amount, hedged, minShare, now)
}

// ProvideFrom takes amount from payer and mints the tranche to account.
func (p *Pool) ProvideFrom(payer, account common.Address, amount *big.Int, hedged bool, minShare *big.Int, now uint64) (uint64, error) {
	if err := p.enter(); err != nil {
		return 0, err
	}
	defer p.exit()

	if err := fpmath.CheckUint256(amount); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if account == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	if minShare == nil {
		minShare = new(big.Int)
	}

	share, err := p.shareFor(amount)
	if err != nil {
		return 0, err
	}
	if share.Sign() == 0 {
		return 0, ErrAmountTooSmall
	}
	if share.Cmp(minShare) < 0 {
		return 0, fmt.Errorf("%w: share %s below minimum %s", ErrMintLimitExceeded, share, minShare)
	}
	if have := p.tokens.BalanceOf(payer, p.asset); have.Cmp(amount) < 0 {
		return 0, fmt.Errorf("%w: has %s, needs %s", ErrInsufficientFunds, have, amount)
	}

	id := uint64(len(p.tranches))
	p.tranches = append(p.tranches, &Tranche{
		ID:        id,
		Owner:     account,
		State:     TrancheOpen,
		Share:     share,
		Amount:    new(big.Int).Set(amount),
		Hedged:    hedged,
		CreatedAt: now,
	})
	if hedged {
		p.hedgedShare.Add(p.hedgedShare, share)
	} else {
		p.unhedgedShare.Add(p.unhedgedShare, share)
	}
	p.totalBalance.Add(p.totalBalance, amount)

	if err := p.tokens.Transfer(payer, p.address, p.asset, amount, ledger.JournalTypeProvide); err != nil {
		panic(fmt.Sprintf("FATAL: provide transfer failed after balance check: %v", err))
	}

	p.emitter.Emit(p.address, receipt.Provide{
		Owner:  account,
		Amount: new(big.Int).Set(amount),
		Share:  new(big.Int).Set(share),
		Hedged: hedged,
	})
	return id, nil
}

// shareFor prices a deposit at the current share rate, rounding down.
func (p *Pool) shareFor(amount *big.Int) (*big.Int, error) {
	supply := p.totalShare()
	if supply.Sign() == 0 {
		return new(big.Int).Mul(amount, InitialRate), nil
	}
	if p.totalBalance.Sign() == 0 {
		return nil, ErrPoolInsolvent
	}
	return fpmath.MulDiv(amount, supply, p.totalBalance), nil
}

// Withdraw closes a tranche after its lockup and pays its pro-rata value to
// the owner. A hedged tranche worth less than it deposited is topped up to
// its deposit from the hedge pool, which must have approved the pool.
func (p *Pool) Withdraw(caller common.Address, trancheID uint64, now uint64) (*big.Int, error) {
	return p.withdraw(caller, trancheID, now, true)
}

// WithdrawWithoutHedge closes a tranche at its pro-rata value and never
// touches the hedge pool.
func (p *Pool) WithdrawWithoutHedge(caller common.Address, trancheID uint64, now uint64) (*big.Int, error) {
	return p.withdraw(caller, trancheID, now, false)
}

func (p *Pool) withdraw(caller common.Address, trancheID uint64, now uint64, hedge bool) (*big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	t, err := p.openTranche(trancheID)
	if err != nil {
		return nil, err
	}
	if caller != t.Owner && caller != t.Approved {
		return nil, ErrNotOwner
	}
	if now < t.CreatedAt+p.lockupPeriod {
		return nil, fmt.Errorf("%w: unlocks at %d", ErrLocked, t.CreatedAt+p.lockupPeriod)
	}

	payout := fpmath.MulDiv(t.Share, p.totalBalance, p.totalShare())
	remaining := new(big.Int).Sub(p.totalBalance, payout)
	if remaining.Cmp(p.lockedAmount) < 0 {
		return nil, fmt.Errorf("%w: %s locked, %s would remain", ErrInsufficientLiquidity, p.lockedAmount, remaining)
	}
	cover := new(big.Int)
	if hedge && t.Hedged && payout.Cmp(t.Amount) < 0 {
		cover.Sub(t.Amount, payout)
		if err := p.checkCover(cover); err != nil {
			return nil, err
		}
	}

	t.State = TrancheClosed
	t.Approved = common.Address{}
	if t.Hedged {
		p.hedgedShare.Sub(p.hedgedShare, t.Share)
	} else {
		p.unhedgedShare.Sub(p.unhedgedShare, t.Share)
	}
	p.totalBalance = remaining

	p.pay(t.Owner, payout, ledger.JournalTypeWithdraw)
	if cover.Sign() > 0 {
		if err := p.tokens.TransferFrom(p.address, p.hedgePool, t.Owner, p.asset, cover); err != nil {
			panic(fmt.Sprintf("FATAL: hedge cover failed after validation: %v", err))
		}
	}
	p.emitter.Emit(p.address, receipt.Withdraw{Owner: t.Owner, TrancheID: t.ID})
	return fpmath.Add(payout, cover), nil
}

func (p *Pool) checkCover(cover *big.Int) error {
	if allowed := p.tokens.Allowance(p.hedgePool, p.address, p.asset); allowed.Cmp(cover) < 0 {
		return fmt.Errorf("%w: needs %s, approved %s", ErrHedgeUnavailable, cover, allowed)
	}
	if have := p.tokens.BalanceOf(p.hedgePool, p.asset); have.Cmp(cover) < 0 {
		return fmt.Errorf("%w: needs %s, holds %s", ErrHedgeUnavailable, cover, have)
	}
	return nil
}

func (p *Pool) openTranche(id uint64) (*Tranche, error) {
	if id >= uint64(len(p.tranches)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	t := p.tranches[id]
	if t.State != TrancheOpen {
		return nil, fmt.Errorf("%w: %d", ErrTrancheClosed, id)
	}
	return t, nil
}

type lockPlan struct {
	hedgedPortion *big.Int
	hedgeFee      *big.Int
	newLocked     *big.Int
	newBalance    *big.Int
}

func (p *Pool) planLock(caller common.Address, premium, amount *big.Int) (*lockPlan, error) {
	if err := p.roles.Require(access.RoleOptionsEngine, caller); err != nil {
		return nil, err
	}
	if err := fpmath.CheckUint256(premium); err != nil {
		return nil, fmt.Errorf("%w: premium: %v", ErrInvalidAmount, err)
	}
	if err := fpmath.CheckUint256(amount); err != nil || amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: lock amount %v", ErrInvalidAmount, amount)
	}

	plan := &lockPlan{hedgedPortion: new(big.Int)}
	if supply := p.totalShare(); supply.Sign() > 0 {
		plan.hedgedPortion = fpmath.MulDiv(premium, p.hedgedShare, supply)
	}
	plan.hedgeFee = fpmath.MulDiv(plan.hedgedPortion, new(big.Int).SetUint64(p.hedgeFeeRate), hundred)
	plan.newLocked = fpmath.Add(p.lockedAmount, amount)
	plan.newBalance = fpmath.Sub(fpmath.Add(p.totalBalance, premium), plan.hedgeFee)
	if !withinUtilization(plan.newLocked, plan.newBalance) {
		return nil, fmt.Errorf("%w: %s of %s", ErrInsufficientCollateral, plan.newLocked, plan.newBalance)
	}
	return plan, nil
}

// CheckLock reports whether Lock would succeed once the premium has arrived.
func (p *Pool) CheckLock(caller common.Address, premium, amount *big.Int) error {
	_, err := p.planLock(caller, premium, amount)
	return err
}

// Lock commits amount of collateral to a new option and books its premium.
// The premium must already sit in the pool's token account. Returns the
// locked-liquidity id.
func (p *Pool) Lock(caller common.Address, premium, amount *big.Int) (uint64, error) {
	if err := p.enter(); err != nil {
		return 0, err
	}
	defer p.exit()

	plan, err := p.planLock(caller, premium, amount)
	if err != nil {
		return 0, err
	}
	held := p.tokens.BalanceOf(p.address, p.asset)
	if held.Cmp(fpmath.Add(p.totalBalance, premium)) < 0 {
		return 0, fmt.Errorf("%w: holds %s, books %s", ErrPremiumNotReceived, held, p.totalBalance)
	}

	id := uint64(len(p.locks))
	p.locks = append(p.locks, &LockedLiquidity{
		ID:             id,
		Amount:         new(big.Int).Set(amount),
		HedgePremium:   fpmath.Sub(plan.hedgedPortion, plan.hedgeFee),
		UnhedgePremium: fpmath.Sub(premium, plan.hedgedPortion),
		Locked:         true,
	})
	p.lockedAmount = plan.newLocked
	p.totalBalance = plan.newBalance

	p.pay(p.hedgePool, plan.hedgeFee, ledger.JournalTypeHedgeFee)
	return id, nil
}

func withinUtilization(locked, balance *big.Int) bool {
	lhs := new(big.Int).Mul(locked, big.NewInt(MaxUtilizationDen))
	rhs := new(big.Int).Mul(balance, big.NewInt(MaxUtilizationNum))
	return lhs.Cmp(rhs) <= 0
}

func (p *Pool) activeLock(id uint64) (*LockedLiquidity, error) {
	if id >= uint64(len(p.locks)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLock, id)
	}
	ll := p.locks[id]
	if !ll.Locked {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyUnlocked, id)
	}
	return ll, nil
}

// Unlock releases an expired option's collateral back to the pool.
func (p *Pool) Unlock(caller common.Address, id uint64) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if err := p.roles.Require(access.RoleOptionsEngine, caller); err != nil {
		return err
	}
	ll, err := p.activeLock(id)
	if err != nil {
		return err
	}

	ll.Locked = false
	p.lockedAmount.Sub(p.lockedAmount, ll.Amount)

	p.emitter.Emit(p.address, receipt.Profit{LockedID: id, Amount: new(big.Int), Extra: new(big.Int)})
	return nil
}

// Send settles an exercised option: pays min(amount, locked) to `to` and
// releases the lock. Whatever is not paid stays in the pool as profit.
func (p *Pool) Send(caller common.Address, id uint64, to common.Address, amount *big.Int) (*big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	if err := p.roles.Require(access.RoleOptionsEngine, caller); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if err := fpmath.CheckUint256(amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	ll, err := p.activeLock(id)
	if err != nil {
		return nil, err
	}

	locked := ll.Amount
	var (
		paid *big.Int
		evt  receipt.Event
	)
	if amount.Cmp(locked) >= 0 {
		paid = new(big.Int).Set(locked)
		evt = receipt.Loss{LockedID: id, Amount: new(big.Int).Set(locked), Extra: new(big.Int)}
	} else {
		paid = new(big.Int).Set(amount)
		evt = receipt.Profit{LockedID: id, Amount: fpmath.Sub(locked, amount), Extra: new(big.Int)}
	}

	ll.Locked = false
	p.lockedAmount.Sub(p.lockedAmount, locked)
	p.totalBalance.Sub(p.totalBalance, paid)

	p.pay(to, paid, ledger.JournalTypePayout)
	p.emitter.Emit(p.address, evt)
	return paid, nil
}

// ApproveTranche lets operator withdraw or transfer the tranche. Owner only.
func (p *Pool) ApproveTranche(caller common.Address, trancheID uint64, operator common.Address) error {
	t, err := p.openTranche(trancheID)
	if err != nil {
		return err
	}
	if caller != t.Owner {
		return ErrNotOwner
	}
	t.Approved = operator
	return nil
}

// TransferTranche hands ownership to `to` and clears any approval.
func (p *Pool) TransferTranche(caller common.Address, trancheID uint64, to common.Address) error {
	t, err := p.openTranche(trancheID)
	if err != nil {
		return err
	}
	if caller != t.Owner && caller != t.Approved {
		return ErrNotOwner
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.Owner = to
	t.Approved = common.Address{}
	return nil
}

// --- Admin ---

func (p *Pool) SetLockupPeriod(caller common.Address, period uint64) error {
	if err := p.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if period > MaxLockupPeriod {
		return fmt.Errorf("%w: %d > %d", ErrLockupTooLong, period, MaxLockupPeriod)
	}
	p.lockupPeriod = period
	return nil
}

func (p *Pool) SetHedgePool(caller, hedgePool common.Address) error {
	if err := p.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if hedgePool == (common.Address{}) {
		return ErrZeroAddress
	}
	p.hedgePool = hedgePool
	return nil
}

func (p *Pool) SetHedgeFeeRate(caller common.Address, rate uint64) error {
	if err := p.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if rate > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidFeeRate, rate)
	}
	p.hedgeFeeRate = rate
	return nil
}

func (p *Pool) GrantRole(caller common.Address, role access.Role, who common.Address) error {
	return p.roles.Grant(caller, role, who)
}

func (p *Pool) RevokeRole(caller common.Address, role access.Role, who common.Address) error {
	return p.roles.Revoke(caller, role, who)
}

func (p *Pool) TransferAdmin(caller, newAdmin common.Address) error {
	return p.roles.TransferAdmin(caller, newAdmin)
}

func (p *Pool) HasRole(role access.Role, who common.Address) bool {
	return p.roles.Has(role, who)
}

package options_test

import (
	"math/big"
	"testing"

	"OptionLedger/internal/access"
	"OptionLedger/internal/errs"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/options"
	"OptionLedger/internal/oracle"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/pricing"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	owner      = common.HexToAddress("0x00000000000000000000000000000000000ad000")
	engineAddr = common.HexToAddress("0x000000000000000000000000000000000000e000")
	putPool    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	callPool   = common.HexToAddress("0x0000000000000000000000000000000000001002")
	feeder     = common.HexToAddress("0x000000000000000000000000000000000000feed")
	stakingPut = common.HexToAddress("0x0000000000000000000000000000000000005001")
	stakingCal = common.HexToAddress("0x0000000000000000000000000000000000005002")
	lp         = common.HexToAddress("0x00000000000000000000000000000000000001a0")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol      = common.HexToAddress("0x0000000000000000000000000000000000000ca1")
)

const (
	t0      = uint64(1_700_000_000)
	week    = uint64(7 * options.Day)
	twoWeek = uint64(1_209_600)
)

var atm = big.NewInt(5_000_000_000_000) // 50000e8

type fixture struct {
	tokens *ledger.TokenLedger
	wbtc   ledger.Asset
	usdc   ledger.Asset
	feed   *oracle.Feed
	put    *pool.Pool
	call   *pool.Pool
	engine *options.Engine
	rec    *receipt.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens := ledger.NewTokenLedger()
	wbtc, err := tokens.RegisterAsset("WBTC", 8)
	require.NoError(t, err)
	usdc, err := tokens.RegisterAsset("USDC", 6)
	require.NoError(t, err)

	feed := oracle.NewFeed(feeder)
	require.NoError(t, feed.Update(feeder, atm, int64(t0)))

	rec := receipt.NewRecorder()
	put := pool.New(pool.Config{Address: putPool, Asset: usdc.ID, Admin: owner}, tokens, rec)
	call := pool.New(pool.Config{Address: callPool, Asset: wbtc.ID, Admin: owner}, tokens, rec)
	require.NoError(t, put.GrantRole(owner, access.RoleOptionsEngine, engineAddr))
	require.NoError(t, call.GrantRole(owner, access.RoleOptionsEngine, engineAddr))

	eng := options.New(options.Config{
		Address:     engineAddr,
		Owner:       owner,
		BaseAsset:   wbtc,
		StableAsset: usdc,
		CreatedAt:   t0,
	}, tokens, feed, rec)

	tv, err := pricing.NewTieredVol(pricing.DefaultVolRates)
	require.NoError(t, err)
	calc := pricing.NewCalculator(pricing.Config{Admin: owner, BaseDecimals: 8, StableDecimals: 6}, feed, eng, tv)

	require.NoError(t, eng.SetPools(owner, put, call))
	require.NoError(t, eng.SetSettlementFeeRecipients(owner, stakingPut, stakingCal))
	require.NoError(t, eng.SetPriceCalculator(owner, calc))

	require.NoError(t, tokens.Mint(lp, usdc.ID, big.NewInt(1_000_000)))
	require.NoError(t, tokens.Mint(lp, wbtc.ID, big.NewInt(1_000_000)))
	_, err = put.Provide(lp, big.NewInt(1_000_000), true, nil, t0)
	require.NoError(t, err)
	_, err = call.Provide(lp, big.NewInt(1_000_000), false, nil, t0)
	require.NoError(t, err)

	for _, who := range []common.Address{alice, bob} {
		require.NoError(t, tokens.Mint(who, usdc.ID, big.NewInt(1_000)))
		require.NoError(t, tokens.Mint(who, wbtc.ID, big.NewInt(100_000_000)))
	}
	rec.Discard()

	return &fixture{tokens: tokens, wbtc: wbtc, usdc: usdc, feed: feed, put: put, call: call, engine: eng, rec: rec}
}

func (f *fixture) balance(who common.Address, a ledger.Asset) int64 {
	return f.tokens.BalanceOf(who, a.ID).Int64()
}

func (f *fixture) requireConserved(t *testing.T) {
	t.Helper()
	for _, p := range []*pool.Pool{f.put, f.call} {
		held := f.tokens.BalanceOf(p.Address(), p.Asset())
		require.Zero(t, held.Cmp(p.TotalBalance()), "pool %s holds %s, books %s", p.Address().Hex(), held, p.TotalBalance())
	}
}

// ===== Test: Create =====

func TestCreate_PutAtTheMoney(t *testing.T) {
	f := newFixture(t)

	id, err := f.engine.CreateFor(alice, alice, twoWeek, big.NewInt(1), atm, options.Put, t0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)

	opt, err := f.engine.Option(id)
	require.NoError(t, err)
	require.Equal(t, options.StateActive, opt.State)
	require.Zero(t, opt.Strike.Cmp(atm))
	require.Equal(t, uint64(0), opt.LockedLiquidityID)
	require.Equal(t, t0+twoWeek, opt.Expiration)
	require.Equal(t, putPool, opt.Pool)
	require.Equal(t, int64(500), opt.SettlementFee.Int64())
	require.Zero(t, opt.Premium.Sign())

	require.Equal(t, int64(500), f.put.LockedAmount().Int64())
	require.Equal(t, int64(1_000-500), f.balance(alice, f.usdc))
	require.Equal(t, int64(500), f.balance(stakingPut, f.usdc))
	f.requireConserved(t)

	logs := f.rec.Take()
	require.Len(t, logs, 1)
	require.Equal(t, engineAddr, logs[0].Source)
	create, ok := logs[0].Event.(receipt.Create)
	require.True(t, ok)
	require.Equal(t, uint64(0), create.OptionID)
	require.Equal(t, alice, create.Holder)
}

func TestCreate_ZeroStrikeUsesOraclePrice(t *testing.T) {
	f := newFixture(t)

	id, err := f.engine.CreateFor(alice, bob, week, big.NewInt(100_000), nil, options.Call, t0)
	require.NoError(t, err)

	opt, err := f.engine.Option(id)
	require.NoError(t, err)
	require.Zero(t, opt.Strike.Cmp(atm))
	require.Equal(t, bob, opt.Holder)
	// 100000 * 10000 * 777 / 1e8
	require.Equal(t, int64(7_770), opt.Premium.Int64())
	require.Equal(t, int64(1_000), opt.SettlementFee.Int64())
	require.Equal(t, int64(100_000), f.call.LockedAmount().Int64())
	require.Equal(t, int64(100_000_000-8_770), f.balance(alice, f.wbtc))
	f.requireConserved(t)
}

func TestCreate_RejectionsLeaveNoTrace(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	tests := []struct {
		name     string
		payer    common.Address
		holder   common.Address
		period   uint64
		amount   *big.Int
		strike   *big.Int
		typ      options.OptionType
		err      error
		category errs.Category
	}{
		{"invalid type", alice, alice, week, big.NewInt(1), atm, 0, options.ErrInvalidOptionType, errs.CategoryInputValidation},
		{"unknown type", alice, alice, week, big.NewInt(1), atm, 3, options.ErrInvalidOptionType, errs.CategoryInputValidation},
		{"period too short", alice, alice, options.MinPeriod - 1, big.NewInt(1), atm, options.Put, options.ErrPeriodTooShort, errs.CategoryInputValidation},
		{"period too long", alice, alice, options.MaxPeriod + 1, big.NewInt(1), atm, options.Put, options.ErrPeriodTooLong, errs.CategoryInputValidation},
		{"zero amount", alice, alice, week, big.NewInt(0), atm, options.Call, options.ErrInvalidAmount, errs.CategoryInputValidation},
		{"overflowing amount", alice, alice, week, tooBig, atm, options.Call, options.ErrInvalidAmount, errs.CategoryInputValidation},
		{"zero holder", alice, common.Address{}, week, big.NewInt(1), atm, options.Call, options.ErrZeroAddress, errs.CategoryInputValidation},
		{"strike off the money", alice, alice, week, big.NewInt(1), big.NewInt(1), options.Put, pricing.ErrStrikeNotATM, errs.CategoryStaleState},
		{"payer cannot pay", carol, carol, week, big.NewInt(100_000), atm, options.Call, options.ErrInsufficientFunds, errs.CategoryInvariantViolation},
		{"utilization cap", alice, alice, week, big.NewInt(900_000), atm, options.Call, pool.ErrInsufficientCollateral, errs.CategoryInvariantViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			usdcBefore := f.balance(tt.payer, f.usdc)
			wbtcBefore := f.balance(tt.payer, f.wbtc)

			_, err := f.engine.CreateFor(tt.payer, tt.holder, tt.period, tt.amount, tt.strike, tt.typ, t0)
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, tt.category, errs.CategoryOf(err))

			require.Equal(t, 0, f.engine.Count())
			require.Equal(t, usdcBefore, f.balance(tt.payer, f.usdc))
			require.Equal(t, wbtcBefore, f.balance(tt.payer, f.wbtc))
			require.Zero(t, f.put.LockedAmount().Sign())
			require.Zero(t, f.call.LockedAmount().Sign())
			require.Empty(t, f.rec.Logs())
			f.requireConserved(t)
		})
	}
}

func TestCreate_NeedsPoolsAndRecipients(t *testing.T) {
	tokens := ledger.NewTokenLedger()
	wbtc, _ := tokens.RegisterAsset("WBTC", 8)
	usdc, _ := tokens.RegisterAsset("USDC", 6)
	eng := options.New(options.Config{Address: engineAddr, Owner: owner, BaseAsset: wbtc, StableAsset: usdc, CreatedAt: t0},
		tokens, oracle.Fixed{Price: atm}, nil)

	_, err := eng.CreateFor(alice, alice, week, big.NewInt(1), atm, options.Call, t0)
	require.ErrorIs(t, err, options.ErrPoolNotSet)
}

// ===== Test: Unlock =====

func TestUnlock_AfterExpiry(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateFor(alice, alice, twoWeek, big.NewInt(1), atm, options.Put, t0)
	require.NoError(t, err)
	f.rec.Discard()

	err = f.engine.Unlock(id, t0+twoWeek)
	require.ErrorIs(t, err, options.ErrNotYetExpired)

	require.NoError(t, f.engine.Unlock(id, t0+twoWeek+1))
	opt, err := f.engine.Option(id)
	require.NoError(t, err)
	require.Equal(t, options.StateExpired, opt.State)
	require.Zero(t, f.put.LockedAmount().Sign())

	logs := f.rec.Take()
	require.Len(t, logs, 2)
	profit, ok := logs[0].Event.(receipt.Profit)
	require.True(t, ok)
	require.Equal(t, uint64(0), profit.LockedID)
	require.Zero(t, profit.Amount.Sign())
	require.Equal(t, receipt.Expire{OptionID: 0}, logs[1].Event)

	err = f.engine.Unlock(id, t0+twoWeek+2)
	require.ErrorIs(t, err, options.ErrWrongState)
	f.requireConserved(t)
}

func TestUnlock_UnknownOption(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Unlock(7, t0)
	require.ErrorIs(t, err, options.ErrNotFound)
	require.Equal(t, errs.CategoryStaleState, errs.CategoryOf(err))
}

// ===== Test: Exercise =====

func TestExercise_CallInTheMoney(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateFor(alice, alice, week, big.NewInt(100_000), atm, options.Call, t0)
	require.NoError(t, err)
	f.rec.Discard()

	require.NoError(t, f.feed.Update(feeder, big.NewInt(6_000_000_000_000), int64(t0+100)))
	before := f.balance(alice, f.wbtc)

	payoff, err := f.engine.Exercise(alice, id, t0+100)
	require.NoError(t, err)
	// (60000e8 - 50000e8) * 100000 / 60000e8
	require.Equal(t, int64(16_666), payoff.Int64())
	require.Equal(t, before+16_666, f.balance(alice, f.wbtc))
	require.Zero(t, f.call.LockedAmount().Sign())

	opt, _ := f.engine.Option(id)
	require.Equal(t, options.StateExercised, opt.State)

	logs := f.rec.Take()
	require.Len(t, logs, 2)
	profit, ok := logs[0].Event.(receipt.Profit)
	require.True(t, ok)
	require.Equal(t, int64(83_334), profit.Amount.Int64())
	ex, ok := logs[1].Event.(receipt.Exercise)
	require.True(t, ok)
	require.Equal(t, int64(16_666), ex.Profit.Int64())
	f.requireConserved(t)
}

func TestExercise_PutInTheMoney(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateFor(alice, alice, twoWeek, big.NewInt(1), atm, options.Put, t0)
	require.NoError(t, err)

	require.NoError(t, f.feed.Update(feeder, big.NewInt(4_000_000_000_000), int64(t0+100)))
	before := f.balance(alice, f.usdc)

	payoff, err := f.engine.Exercise(alice, id, t0+100)
	require.NoError(t, err)
	// (50000e8 - 40000e8) * 1 * 1e6 / (1e8 * 1e8)
	require.Equal(t, int64(100), payoff.Int64())
	require.Equal(t, before+100, f.balance(alice, f.usdc))
	f.requireConserved(t)
}

func TestExercise_OutOfTheMoneyPaysNothing(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateFor(alice, alice, twoWeek, big.NewInt(1), atm, options.Put, t0)
	require.NoError(t, err)
	f.rec.Discard()

	require.NoError(t, f.feed.Update(feeder, big.NewInt(6_000_000_000_000), int64(t0+100)))
	before := f.balance(alice, f.usdc)

	payoff, err := f.engine.Exercise(alice, id, t0+100)
	require.NoError(t, err)
	require.Zero(t, payoff.Sign())
	require.Equal(t, before, f.balance(alice, f.usdc))

	logs := f.rec.Take()
	profit, ok := logs[0].Event.(receipt.Profit)
	require.True(t, ok)
	require.Equal(t, int64(500), profit.Amount.Int64())
}

func TestExercise_Rejections(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateFor(alice, alice, week, big.NewInt(100_000), atm, options.Call, t0)
	require.NoError(t, err)

	_, err = f.engine.Exercise(bob, id, t0+1)
	require.ErrorIs(t, err, options.ErrNotApproved)
	require.Equal(t, errs.CategoryAuthorization, errs.CategoryOf(err))

	_, err = f.engine.Exercise(alice, id, t0+week+1)
	require.ErrorIs(t, err, options.ErrExpired)

	_, err = f.engine.Exercise(alice, 42, t0+1)
	require.ErrorIs(t, err, options.ErrNotFound)

	_, err = f.engine.Exercise(alice, id, t0+week)
	require.NoError(t, err)

	_, err = f.engine.Exercise(alice, id, t0+week)
	require.ErrorIs(t, err, options.ErrWrongState)

	err = f.engine.Unlock(id, t0+week+1)
	require.ErrorIs(t, err, options.ErrWrongState)
}

// ===== Test: Ownership =====

func TestApprovedOperatorExercisesForHolder(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateFor(alice, alice, week, big.NewInt(100_000), atm, options.Call, t0)
	require.NoError(t, err)

	require.ErrorIs(t, f.engine.Approve(bob, id, bob), options.ErrNotHolder)
	require.NoError(t, f.engine.Approve(alice, id, bob))

	require.NoError(t, f.feed.Update(feeder, big.NewInt(6_000_000_000_000), int64(t0+100)))
	aliceBefore := f.balance(alice, f.wbtc)
	bobBefore := f.balance(bob, f.wbtc)

	_, err = f.engine.Exercise(bob, id, t0+100)
	require.NoError(t, err)
	require.Equal(t, aliceBefore+16_666, f.balance(alice, f.wbtc))
	require.Equal(t, bobBefore, f.balance(bob, f.wbtc))
}

func TestTransferOption(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateFor(alice, alice, week, big.NewInt(100_000), atm, options.Call, t0)
	require.NoError(t, err)

	require.ErrorIs(t, f.engine.TransferOption(bob, id, bob), options.ErrNotApproved)
	require.ErrorIs(t, f.engine.TransferOption(alice, id, common.Address{}), options.ErrZeroAddress)
	require.NoError(t, f.engine.TransferOption(alice, id, bob))

	require.Len(t, f.engine.OptionsOf(bob), 1)
	require.Empty(t, f.engine.OptionsOf(alice))

	_, err = f.engine.Exercise(alice, id, t0+1)
	require.ErrorIs(t, err, options.ErrNotApproved)
	_, err = f.engine.Exercise(bob, id, t0+1)
	require.NoError(t, err)
}

// ===== Test: Admin =====

func TestAdmin_OwnerOnly(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.engine.SetPools(alice, f.put, f.call), access.ErrMissingRole)
	require.ErrorIs(t, f.engine.SetSettlementFeeRecipients(alice, alice, alice), access.ErrMissingRole)
	require.ErrorIs(t, f.engine.SetPriceCalculator(alice, nil), access.ErrMissingRole)
	require.ErrorIs(t, f.engine.TransferPoolsOwnership(alice, t0), access.ErrMissingRole)
}

func TestSetPools_AssetMismatch(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SetPools(owner, f.call, f.put)
	require.ErrorIs(t, err, options.ErrPoolAssetMismatch)
	require.ErrorIs(t, f.engine.SetPools(owner, nil, f.call), options.ErrNilPool)

	p, ok := f.engine.Pool(options.Put)
	require.True(t, ok)
	require.Equal(t, putPool, p.Address())
}

func TestSetSettlementFeeRecipients_RejectsZero(t *testing.T) {
	f := newFixture(t)
	err := f.engine.SetSettlementFeeRecipients(owner, common.Address{}, stakingCal)
	require.ErrorIs(t, err, options.ErrZeroAddress)

	r, _ := f.engine.FeeRecipient(options.Put)
	require.Equal(t, stakingPut, r)
}

func TestTransferPoolsOwnership(t *testing.T) {
	f := newFixture(t)

	err := f.engine.TransferPoolsOwnership(owner, t0+options.BootstrapWindow)
	require.ErrorIs(t, err, options.ErrBootstrapClosed)

	require.NoError(t, f.engine.TransferPoolsOwnership(owner, t0+options.Day))
	for _, p := range []*pool.Pool{f.put, f.call} {
		require.True(t, p.HasRole(access.RoleAdmin, engineAddr))
		require.False(t, p.HasRole(access.RoleAdmin, owner))
	}
	require.True(t, f.engine.PoolsOwnershipTransferred())

	err = f.engine.TransferPoolsOwnership(owner, t0+2*options.Day)
	require.ErrorIs(t, err, options.ErrAlreadyTransferred)

	require.NoError(t, f.engine.SetHedgeFeeRate(owner, options.Put, 50))
	require.Equal(t, uint64(50), f.put.Stats().HedgeFeeRate)
}

func TestTransferPoolsOwnership_RequiresPoolAdmin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.call.TransferAdmin(owner, bob))

	err := f.engine.TransferPoolsOwnership(owner, t0+options.Day)
	require.ErrorIs(t, err, access.ErrMissingRole)
	require.True(t, f.put.HasRole(access.RoleAdmin, owner))
	require.False(t, f.engine.PoolsOwnershipTransferred())
}

func TestPoolForwarders_AfterMigration(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.TransferPoolsOwnership(owner, t0+options.Day))

	// the owner lost direct access to the pools
	require.ErrorIs(t, f.put.SetLockupPeriod(owner, options.Day), access.ErrMissingRole)
	require.ErrorIs(t, f.put.SetHedgePool(owner, bob), access.ErrMissingRole)
	require.ErrorIs(t, f.put.RevokeRole(owner, access.RoleOptionsEngine, engineAddr), access.ErrMissingRole)

	require.NoError(t, f.engine.SetLockupPeriod(owner, options.Put, options.Day))
	require.Equal(t, uint64(options.Day), f.put.Stats().LockupPeriod)
	require.ErrorIs(t, f.engine.SetLockupPeriod(owner, options.Put, 61*options.Day), pool.ErrLockupTooLong)

	require.NoError(t, f.engine.SetHedgePool(owner, options.Call, bob))
	require.Equal(t, bob, f.call.Stats().HedgePool)
	require.ErrorIs(t, f.engine.SetHedgePool(owner, options.Call, common.Address{}), pool.ErrZeroAddress)

	require.NoError(t, f.engine.GrantPoolRole(owner, options.Put, access.RoleOptionsEngine, carol))
	require.True(t, f.put.HasRole(access.RoleOptionsEngine, carol))
	require.False(t, f.call.HasRole(access.RoleOptionsEngine, carol))
}

func TestRevokePoolRole_RetiresEngine(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.TransferPoolsOwnership(owner, t0+options.Day))

	require.NoError(t, f.engine.RevokePoolRole(owner, options.Put, access.RoleOptionsEngine, engineAddr))
	require.False(t, f.put.HasRole(access.RoleOptionsEngine, engineAddr))

	_, err := f.engine.CreateFor(alice, alice, twoWeek, big.NewInt(1), atm, options.Put, t0)
	require.ErrorIs(t, err, access.ErrMissingRole)
	require.Equal(t, int64(1_000), f.balance(alice, f.usdc))

	// calls still lock against the other pool
	_, err = f.engine.CreateFor(alice, alice, week, big.NewInt(100_000), atm, options.Call, t0)
	require.NoError(t, err)
}

func TestPoolForwarders_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.TransferPoolsOwnership(owner, t0+options.Day))

	require.ErrorIs(t, f.engine.SetLockupPeriod(alice, options.Put, options.Day), access.ErrMissingRole)
	require.ErrorIs(t, f.engine.SetHedgePool(alice, options.Put, alice), access.ErrMissingRole)
	require.ErrorIs(t, f.engine.GrantPoolRole(alice, options.Put, access.RoleOptionsEngine, alice), access.ErrMissingRole)
	require.ErrorIs(t, f.engine.RevokePoolRole(alice, options.Put, access.RoleOptionsEngine, engineAddr), access.ErrMissingRole)
	require.True(t, f.put.HasRole(access.RoleOptionsEngine, engineAddr))
	require.Equal(t, uint64(pool.DefaultLockupPeriod), f.put.Stats().LockupPeriod)
}

// ===== Test: Snapshot =====

func TestExportRestore(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateFor(alice, alice, twoWeek, big.NewInt(1), atm, options.Put, t0)
	require.NoError(t, err)

	st := f.engine.Export()
	restored := options.Restore(st, f.tokens, f.feed, f.rec, map[common.Address]options.CollateralPool{
		putPool:  f.put,
		callPool: f.call,
	})

	want, _ := f.engine.Option(id)
	got, err := restored.Option(id)
	require.NoError(t, err)
	require.Equal(t, want.Holder, got.Holder)
	require.Zero(t, want.Premium.Cmp(got.Premium))
	require.Equal(t, want.Expiration, got.Expiration)

	require.NoError(t, restored.Unlock(id, t0+twoWeek+1))
	require.Zero(t, f.put.LockedAmount().Sign())
}

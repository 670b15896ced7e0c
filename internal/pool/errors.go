package pool

import "OptionLedger/internal/errs"

var (
	ErrInvalidAmount          = errs.Input("pool: amount must be a positive uint256")
	ErrZeroAddress            = errs.Input("pool: zero address")
	ErrLockupTooLong          = errs.Input("pool: lockup period is too long")
	ErrInvalidFeeRate         = errs.Input("pool: hedge fee rate above 100")
	ErrNotOwner               = errs.Auth("pool: caller is not the tranche owner or approved")
	ErrAmountTooSmall         = errs.Invariant("pool: amount is too small")
	ErrMintLimitExceeded      = errs.Invariant("pool: mint limit exceeded")
	ErrInsufficientCollateral = errs.Invariant("pool: not enough collateral to lock")
	ErrInsufficientLiquidity  = errs.Invariant("pool: withdrawal would leave locked liquidity uncovered")
	ErrInsufficientFunds      = errs.Invariant("pool: depositor balance too low")
	ErrPremiumNotReceived     = errs.Invariant("pool: premium has not been received")
	ErrPoolInsolvent          = errs.Invariant("pool: pool has shares but no balance")
	ErrHedgeUnavailable       = errs.Invariant("pool: hedge pool cannot cover the tranche loss")
	ErrLocked                 = errs.Invariant("pool: tranche is still in its lockup period")
	ErrReentrant              = errs.Invariant("pool: reentrant call")
	ErrNotFound               = errs.Stale("pool: tranche not found")
	ErrTrancheClosed          = errs.Stale("pool: tranche is closed")
	ErrUnknownLock            = errs.Stale("pool: locked liquidity not found")
	ErrAlreadyUnlocked        = errs.Stale("pool: locked liquidity has already been unlocked")
)

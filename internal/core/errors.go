package core

import "OptionLedger/internal/errs"

var (
	ErrUnknownTransaction = errs.Input("core: unknown transaction type")
	ErrUnknownPool        = errs.Input("core: unknown pool")
	ErrUnknownAsset       = errs.Input("core: unknown asset")
	ErrInvalidAmount      = errs.Input("core: amount must be a positive uint256")
	ErrNotMinter          = errs.Auth("core: sender is not the minter")
	ErrNonceTooLow        = errs.Stale("core: nonce already used")
	ErrNonceGap           = errs.Stale("core: nonce gap")
	ErrTimeRegression     = errs.Stale("core: block time moved backwards")
)

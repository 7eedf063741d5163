package protocol

import "errors"

// Closed error taxonomy. Every public operation validates all preconditions
// before issuing any mutation; the first failing check aborts the whole
// operation and returns one of these, leaving state untouched. Callers match
// with errors.Is; wrapped context never changes the kind.
var (
	ErrNotAuthorized                 = errors.New("not authorized")
	ErrVaultNotFound                 = errors.New("vault not found")
	ErrInsufficientCollateral        = errors.New("insufficient collateral")
	ErrVaultUndercollateralized      = errors.New("vault undercollateralized")
	ErrLiquidationNotAllowed         = errors.New("liquidation not allowed")
	ErrInvalidAmount                 = errors.New("invalid amount")
	ErrOraclePriceStale              = errors.New("oracle price stale")
	ErrMinimumCollateralRatio        = errors.New("below minimum collateral ratio")
	ErrVaultAlreadyExists            = errors.New("vault already exists")
	ErrInsufficientStablecoinBalance = errors.New("insufficient stablecoin balance")
	ErrTransferFailed                = errors.New("transfer failed")

	// ErrArithmeticRange is the explicit error return for arithmetic domain
	// violations (overflow, underflow, division by zero). The source
	// environment traps these as fatal aborts with no partial effects; here
	// they surface as ordinary errors before any mutation lands.
	ErrArithmeticRange = errors.New("arithmetic range")
)

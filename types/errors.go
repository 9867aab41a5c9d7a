package types

import (
	"cosmossdk.io/errors"
)

// Codespace is the error namespace for every registered AMM error.
const Codespace = "amm"

// AMM error classes. Every public operation fails with one of these, wrapped with context.
var (
	ErrInvalidParameter      = errors.Register(Codespace, 2, "invalid parameter")
	ErrWrongFeeConfiguration = errors.Register(Codespace, 3, "wrong fee configuration")
	ErrEmptyReserves         = errors.Register(Codespace, 4, "empty reserves")
	ErrEmptyShareSupply      = errors.Register(Codespace, 5, "empty share supply")
	ErrOverflow              = errors.Register(Codespace, 6, "operation overflow")
	ErrComputation           = errors.Register(Codespace, 7, "computation error")
	ErrPermissionDenied      = errors.Register(Codespace, 8, "permission denied")
	ErrInsufficientBalance   = errors.Register(Codespace, 9, "insufficient balance")
	ErrNotRegistered         = errors.Register(Codespace, 10, "not registered")
	ErrFrozen                = errors.Register(Codespace, 11, "pool is frozen")
	ErrSlippageExceeded      = errors.Register(Codespace, 12, "slippage exceeded")
	ErrNotFound              = errors.Register(Codespace, 13, "not found")
	ErrDuplicate             = errors.Register(Codespace, 14, "duplicate")
	ErrDeprecated            = errors.Register(Codespace, 15, "deprecated")
	ErrNotImplemented        = errors.Register(Codespace, 16, "not implemented")
)

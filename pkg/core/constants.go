package core

import "errors"

// Errors
var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidSliceSize = errors.New("invalid slice size")
	ErrOrderNotFound    = errors.New("order not found")
	ErrInvalidState     = errors.New("invalid state for operation")
	ErrInvalidRevision  = errors.New("revised quantity below filled quantity")
	ErrNoLiquidity      = errors.New("no liquidity")
	ErrDuplicateEntry   = errors.New("entry exists")
	ErrStaleFill        = errors.New("stale fill sequence")
)

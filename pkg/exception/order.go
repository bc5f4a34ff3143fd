package exception

import "github.com/yanun0323/errors"

// Protocol invariant violations. The store and the broker have diverged when
// one of these surfaces, nothing is recovered locally.
var (
	ErrMissingOriginalOrder = errors.New("order: cancel or change order without original order")
	ErrUnknownFillOrder     = errors.New("order: fill for unknown broker order")
	ErrRunawayCancel        = errors.New("order: cancel limit exceeded")
)

var (
	ErrOrderNotFound      = errors.New("order: not found")
	ErrOrderZeroBrokerID  = errors.New("order: zero broker order id")
	ErrOrderInvalidConfig = errors.New("order: invalid config")
	ErrInvalidRecency     = errors.New("position: recency must be greater than zero")
	ErrNilHandler         = errors.New("order: nil physical order handler")
)

package service

import "errors"

// ErrEmptyOrderBook indicates the upstream order book has no asks or bids,
// so no market-clearable price exists.
var ErrEmptyOrderBook = errors.New("no orders available in the order book")

// BadRequestError carries the reason a caller-supplied input was rejected.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return e.Reason
}

func badRequest(reason string) error {
	return &BadRequestError{Reason: reason}
}

package marketdata

import "errors"

var (
	ErrPairNotFound     = errors.New("pair not found")
	ErrPairDisabled     = errors.New("pair disabled")
	ErrQuoteUnavailable = errors.New("quote unavailable")
)

package ledger

import "errors"

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrPositionNotFound   = errors.New("position not found")
	ErrAlreadyClosed      = errors.New("position already closed")
	ErrInvalidVolume      = errors.New("invalid volume")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidStops       = errors.New("invalid stop loss or take profit")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidBalance     = errors.New("invalid initial balance")
)

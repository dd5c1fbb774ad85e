package models

import "errors"

var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidBar       = errors.New("invalid bar (high < low)")
	ErrInvalidVolume    = errors.New("invalid volume")
	ErrOutOfOrderBar    = errors.New("bar is not after the last processed bar")
	ErrSymbolMismatch   = errors.New("bar symbol does not match the engine symbol")
	ErrNoCheckpoint     = errors.New("no checkpoint found")
)

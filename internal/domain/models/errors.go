package models

import "errors"

var (
	// ErrConfiguration marks invalid parameters detected at construction time.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoActiveSleeves is returned when no sleeve produced weights.
	ErrNoActiveSleeves = errors.New("no active sleeves")
	// ErrMarketDataGap is returned when history is empty at the pipeline boundary.
	ErrMarketDataGap = errors.New("market data gap")
)

package shared

import (
	"fmt"
	"strings"
)

const (
	// standardPipSize is the pip size for most currency pairs.
	standardPipSize = 0.0001
	// jpyPipSize is the pip size for JPY quoted pairs.
	jpyPipSize = 0.01
)

// Instrument represents a tradable currency pair.
type Instrument struct {
	// Symbol is the canonical instrument symbol, eg. EUR_USD.
	Symbol string
	// PipSize is the smallest quoted price increment for the instrument.
	PipSize float64
}

// NewInstrument initializes an instrument from the provided canonical symbol.
func NewInstrument(symbol string) (Instrument, error) {
	base, quote, ok := strings.Cut(symbol, "_")
	if !ok || len(base) != 3 || len(quote) != 3 {
		return Instrument{}, fmt.Errorf("malformed instrument symbol: %s", symbol)
	}

	pipSize := standardPipSize
	if quote == "JPY" {
		pipSize = jpyPipSize
	}

	return Instrument{
		Symbol:  symbol,
		PipSize: pipSize,
	}, nil
}

package shared

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestCandlestickValidate(t *testing.T) {
	tests := []struct {
		name    string
		candle  Candlestick
		wantErr bool
	}{
		{
			name: "valid bullish candle",
			candle: Candlestick{
				Open:  1.1000,
				Close: 1.1050,
				High:  1.1060,
				Low:   1.0990,
			},
			wantErr: false,
		},
		{
			name: "valid marubozu",
			candle: Candlestick{
				Open:  1.1000,
				Close: 1.1050,
				High:  1.1050,
				Low:   1.1000,
			},
			wantErr: false,
		},
		{
			name: "low above body low",
			candle: Candlestick{
				Open:  1.1000,
				Close: 1.1050,
				High:  1.1060,
				Low:   1.1010,
			},
			wantErr: true,
		},
		{
			name: "high below body high",
			candle: Candlestick{
				Open:  1.1000,
				Close: 1.1050,
				High:  1.1040,
				Low:   1.0990,
			},
			wantErr: true,
		},
		{
			name: "negative volume",
			candle: Candlestick{
				Open:   1.1000,
				Close:  1.1050,
				High:   1.1060,
				Low:    1.0990,
				Volume: -1,
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		err := test.candle.Validate()
		if test.wantErr && err == nil {
			t.Errorf("%s: expected an error, got none", test.name)
		}
		if !test.wantErr && err != nil {
			t.Errorf("%s: expected no error, got %v", test.name, err)
		}
	}
}

func TestTrueRange(t *testing.T) {
	candle := Candlestick{High: 1.1060, Low: 1.0990}

	// Expected values are computed from the candle fields so both sides take
	// the same floating point path.

	// Previous close inside the bar range, true range is high minus low.
	assert.Equal(t, candle.TrueRange(1.1000), candle.High-candle.Low)

	// Previous close below the bar, the gap dominates.
	assert.Equal(t, candle.TrueRange(1.0900), candle.High-1.0900)

	// Previous close above the bar, the gap dominates.
	assert.Equal(t, candle.TrueRange(1.1100), 1.1100-candle.Low)
}

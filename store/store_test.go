package store

import (
	"testing"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

func TestRowSignal(t *testing.T) {
	barOpenTime := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	createdOn := time.Date(2024, 6, 3, 12, 0, 1, 0, time.UTC)

	row := map[string]any{
		"id":               "sig-1",
		"strategyid":       "ma-cross-EUR_USD-H4",
		"instrument":       "EUR_USD",
		"timeframe":        "H4",
		"direction":        "SHORT",
		"entryprice":       1.0790,
		"stoploss":         1.0808,
		"takeprofit":       1.0754,
		"atr":              0.0012,
		"emergencylevel":   float64(2),
		"sizemultiplier":   0.6,
		"baropentime":      float64(barOpenTime.Unix()),
		"createdon":        float64(createdOn.Unix()),
		"fingerprint":      "abc123",
		"status":           float64(shared.StatusDelivered),
		"suppressedreason": "",
	}

	signal, err := rowSignal(row)
	assert.NoError(t, err)

	want := shared.Signal{
		ID:                     "sig-1",
		StrategyID:             "ma-cross-EUR_USD-H4",
		Instrument:             "EUR_USD",
		Timeframe:              shared.FourHour,
		Direction:              shared.Short,
		EntryPrice:             1.0790,
		StopLoss:               1.0808,
		TakeProfit:             1.0754,
		ATRAtSignal:            0.0012,
		EmergencyLevelAtSignal: shared.LevelElevated,
		PositionSizeMultiplier: 0.6,
		BarOpenTime:            barOpenTime,
		CreatedOn:              createdOn,
		Fingerprint:            "abc123",
		Status:                 shared.StatusDelivered,
		SuppressedReason:       "",
	}

	if diff := cmp.Diff(want, signal); diff != "" {
		t.Errorf("row signal mismatch (-want +got):\n%s", diff)
	}
}

func TestRowSignalRejectsUnknownTimeframe(t *testing.T) {
	_, err := rowSignal(map[string]any{"timeframe": "M1"})
	assert.Error(t, err)
}

func TestColumnCoercions(t *testing.T) {
	// Integer columns surface as float64 or int64 depending on the driver.
	assert.Equal(t, asFloat(float64(1.5)), 1.5)
	assert.Equal(t, asFloat(int64(7)), 7.0)
	assert.Equal(t, asFloat(7), 7.0)
	assert.Equal(t, asFloat(nil), 0.0)
	assert.Equal(t, asFloat("7"), 0.0)

	assert.Equal(t, asString("x"), "x")
	assert.Equal(t, asString(nil), "")
}

func TestRowsSignals(t *testing.T) {
	logger := zerolog.Nop()
	s := &Store{cfg: &Config{Logger: &logger}}

	barOpenTime := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	results := []rqlitehttp.QueryResultAssoc{
		{
			Rows: []map[string]any{
				{
					"id":          "sig-1",
					"instrument":  "EUR_USD",
					"timeframe":   "H4",
					"direction":   "LONG",
					"baropentime": float64(barOpenTime.Unix()),
					"status":      float64(shared.StatusNew),
				},
				// Unparseable rows are skipped rather than failing the read.
				{
					"id":        "sig-2",
					"timeframe": "M1",
				},
			},
		},
	}

	signals := s.rowsSignals(results)
	assert.Equal(t, len(signals), 1)
	assert.Equal(t, signals[0].ID, "sig-1")
	assert.Equal(t, signals[0].Timeframe, shared.FourHour)
	assert.Equal(t, signals[0].BarOpenTime, barOpenTime)
	assert.Equal(t, signals[0].Status, shared.StatusNew)
}

func TestConfigValidate(t *testing.T) {
	var cfg Config
	assert.Error(t, cfg.Validate())

	cfg.Endpoint = "http://localhost:4001"
	assert.Error(t, cfg.Validate())
}

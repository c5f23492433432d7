package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/fxsignal/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createSignalsTableSQL = "CREATE TABLE IF NOT EXISTS signals (id TEXT PRIMARY KEY, strategyid TEXT, " +
		"instrument TEXT, timeframe TEXT, direction TEXT, entryprice REAL, stoploss REAL, " +
		"takeprofit REAL, atr REAL, emergencylevel INTEGER, sizemultiplier REAL, " +
		"baropentime INTEGER, createdon INTEGER, fingerprint TEXT, status INTEGER, suppressedreason TEXT)"
	createCandlesTableSQL = "CREATE TABLE IF NOT EXISTS candles (instrument TEXT, timeframe TEXT, " +
		"opentime INTEGER, open REAL, high REAL, low REAL, close REAL, volume REAL, " +
		"PRIMARY KEY (instrument, timeframe, opentime))"
	createDeliveryAttemptsTableSQL = "CREATE TABLE IF NOT EXISTS delivery_attempts (signalid TEXT, " +
		"channelid TEXT, attemptnumber INTEGER, scheduledon INTEGER, laststatus INTEGER, " +
		"lasterror TEXT, nextretryon INTEGER)"
	createPortfolioStateTableSQL = "CREATE TABLE IF NOT EXISTS portfolio_state (id INTEGER PRIMARY KEY, " +
		"initialvalue REAL, currentvalue REAL, peakvalue REAL, drawdown REAL, updatedon INTEGER)"
	createEmergencyTransitionsTableSQL = "CREATE TABLE IF NOT EXISTS emergency_transitions " +
		"(fromlevel INTEGER, tolevel INTEGER, drawdown REAL, createdon INTEGER)"
	createStressEventsTableSQL = "CREATE TABLE IF NOT EXISTS stress_events (instrument TEXT, " +
		"timeframe TEXT, severity REAL, kind TEXT, detectedon INTEGER)"

	appendSignalSQL = "INSERT INTO signals(id, strategyid, instrument, timeframe, direction, " +
		"entryprice, stoploss, takeprofit, atr, emergencylevel, sizemultiplier, baropentime, " +
		"createdon, fingerprint, status, suppressedreason) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	listSignalsSQL          = "SELECT * FROM signals WHERE createdon >= ? ORDER BY createdon ASC LIMIT ?"
	pendingSignalsSQL       = "SELECT * FROM signals WHERE status = ? ORDER BY createdon ASC"
	updateSignalStatusSQL   = "UPDATE signals SET status = ?, suppressedreason = ? WHERE id = ?"
	persistCandleSQL        = "INSERT OR REPLACE INTO candles(instrument, timeframe, opentime, open, high, low, close, volume) VALUES(?,?,?,?,?,?,?,?)"
	recordDeliveryAttemptSQL = "INSERT INTO delivery_attempts(signalid, channelid, attemptnumber, " +
		"scheduledon, laststatus, lasterror, nextretryon) VALUES(?,?,?,?,?,?,?)"
	persistPortfolioStateSQL = "INSERT OR REPLACE INTO portfolio_state(id, initialvalue, currentvalue, " +
		"peakvalue, drawdown, updatedon) VALUES(1,?,?,?,?,?)"
	persistEmergencyTransitionSQL = "INSERT INTO emergency_transitions(fromlevel, tolevel, drawdown, createdon) VALUES(?,?,?,?)"
	persistStressEventSQL         = "INSERT INTO stress_events(instrument, timeframe, severity, kind, detectedon) VALUES(?,?,?,?,?)"
)

// AppendOutcome represents the tagged result of appending a signal.
type AppendOutcome int

const (
	// AppendOk indicates the signal was durably appended.
	AppendOk AppendOutcome = iota
	// AppendDuplicate indicates the signal id already exists, treated as
	// success by idempotent callers.
	AppendDuplicate
	// AppendTransient indicates a retryable storage error.
	AppendTransient
	// AppendFatal indicates an unrecoverable storage error.
	AppendFatal
)

// SignalStorer defines the requirements for durable signal persistence.
type SignalStorer interface {
	// AppendSignal atomically appends the provided signal, the commit point
	// making it visible to consumers.
	AppendSignal(ctx context.Context, signal *shared.Signal) (AppendOutcome, error)
	// ListSignals returns persisted signals created at or after the provided
	// time, ordered by creation time ascending.
	ListSignals(ctx context.Context, since time.Time, limit int) ([]shared.Signal, error)
	// UpdateSignalStatus advances the status of the identified signal.
	UpdateSignalStatus(ctx context.Context, id string, status shared.SignalStatus, reason string) error
	// PendingSignals returns signals still awaiting delivery.
	PendingSignals(ctx context.Context) ([]shared.Signal, error)
	// RecordDeliveryAttempt records a webhook delivery attempt.
	RecordDeliveryAttempt(ctx context.Context, attempt *shared.DeliveryAttempt) error
}

// Config represents the configuration for the store.
type Config struct {
	// Endpoint represents the store connection endpoint.
	Endpoint string
	// User is the store user.
	User string
	// Pass is the store user pass.
	Pass string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Endpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("store endpoint cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Store represents the durable signal store.
type Store struct {
	cfg    *Config
	client *rqlitehttp.Client
}

// Ensure the store implements the SignalStorer interface.
var _ SignalStorer = (*Store)(nil)

// NewStore initializes a new store connection and bootstraps the schema.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating store client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	s := &Store{
		cfg:    cfg,
		client: client,
	}

	err = s.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping store: %w", err)
	}

	return s, nil
}

// bootstrap initializes the store schema.
func (s *Store) bootstrap(ctx context.Context) error {
	_, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createSignalsTableSQL},
		{SQL: createCandlesTableSQL},
		{SQL: createDeliveryAttemptsTableSQL},
		{SQL: createPortfolioStateTableSQL},
		{SQL: createEmergencyTransitionsTableSQL},
		{SQL: createStressEventsTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// AppendSignal atomically appends the provided signal. A unique key conflict
// on the signal id reports AppendDuplicate which callers treat as success.
func (s *Store) AppendSignal(ctx context.Context, signal *shared.Signal) (AppendOutcome, error) {
	resp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: appendSignalSQL,
			PositionalParams: []any{signal.ID, signal.StrategyID, signal.Instrument,
				signal.Timeframe.String(), signal.Direction.String(), signal.EntryPrice,
				signal.StopLoss, signal.TakeProfit, signal.ATRAtSignal,
				int(signal.EmergencyLevelAtSignal), signal.PositionSizeMultiplier,
				signal.BarOpenTime.UTC().Unix(), signal.CreatedOn.UTC().Unix(),
				signal.Fingerprint, int(signal.Status), signal.SuppressedReason},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		// Connectivity errors are retryable.
		return AppendTransient, fmt.Errorf("appending signal %s: %w", signal.ID, err)
	}

	has, _, errStr := resp.HasError()
	if has {
		if strings.Contains(errStr, "UNIQUE constraint failed") {
			return AppendDuplicate, nil
		}

		s.cfg.Logger.Error().Msgf("appending signal: %s -> %s", errStr, spew.Sdump(signal))
		return AppendFatal, fmt.Errorf("appending signal %s: %s", signal.ID, errStr)
	}

	return AppendOk, nil
}

// rowSignal converts an associative result row into a signal.
func rowSignal(row map[string]any) (shared.Signal, error) {
	timeframe, err := shared.ParseTimeframe(asString(row["timeframe"]))
	if err != nil {
		return shared.Signal{}, err
	}

	direction := shared.Long
	if asString(row["direction"]) == shared.Short.String() {
		direction = shared.Short
	}

	return shared.Signal{
		ID:                     asString(row["id"]),
		StrategyID:             asString(row["strategyid"]),
		Instrument:             asString(row["instrument"]),
		Timeframe:              timeframe,
		Direction:              direction,
		EntryPrice:             asFloat(row["entryprice"]),
		StopLoss:               asFloat(row["stoploss"]),
		TakeProfit:             asFloat(row["takeprofit"]),
		ATRAtSignal:            asFloat(row["atr"]),
		EmergencyLevelAtSignal: shared.EmergencyLevel(asFloat(row["emergencylevel"])),
		PositionSizeMultiplier: asFloat(row["sizemultiplier"]),
		BarOpenTime:            time.Unix(int64(asFloat(row["baropentime"])), 0).UTC(),
		CreatedOn:              time.Unix(int64(asFloat(row["createdon"])), 0).UTC(),
		Fingerprint:            asString(row["fingerprint"]),
		Status:                 shared.SignalStatus(asFloat(row["status"])),
		SuppressedReason:       asString(row["suppressedreason"]),
	}, nil
}

// asString coerces a result column into a string.
func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat coerces a result column into a float.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// rowsSignals converts associative query results into signals, skipping rows
// that fail conversion.
func (s *Store) rowsSignals(results []rqlitehttp.QueryResultAssoc) []shared.Signal {
	signals := make([]shared.Signal, 0)
	for _, result := range results {
		for idx := range result.Rows {
			signal, err := rowSignal(result.Rows[idx])
			if err != nil {
				s.cfg.Logger.Error().Msgf("converting signal row: %v -> %s", err,
					spew.Sdump(result.Rows[idx]))
				continue
			}

			signals = append(signals, signal)
		}
	}

	return signals
}

// querySignals runs the provided query and converts the rows into signals.
// Results are requested in associative form so rows carry column names.
func (s *Store) querySignals(ctx context.Context, sql string, params ...any) ([]shared.Signal, error) {
	resp, err := s.client.Query(ctx, rqlitehttp.SQLStatements{
		{SQL: sql, PositionalParams: params},
	}, &rqlitehttp.QueryOptions{Associative: true})
	if err != nil {
		return nil, err
	}

	return s.rowsSignals(resp.GetQueryResultsAssoc()), nil
}

// ListSignals returns persisted signals created at or after the provided
// time, ordered by creation time ascending.
func (s *Store) ListSignals(ctx context.Context, since time.Time, limit int) ([]shared.Signal, error) {
	return s.querySignals(ctx, listSignalsSQL, since.UTC().Unix(), limit)
}

// PendingSignals returns signals still awaiting delivery.
func (s *Store) PendingSignals(ctx context.Context) ([]shared.Signal, error) {
	return s.querySignals(ctx, pendingSignalsSQL, int(shared.StatusNew))
}

// UpdateSignalStatus advances the status of the identified signal.
func (s *Store) UpdateSignalStatus(ctx context.Context, id string, status shared.SignalStatus, reason string) error {
	resp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL:              updateSignalStatusSQL,
			PositionalParams: []any{int(status), reason, id},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("updating signal %s status: %w", id, err)
	}

	has, _, errStr := resp.HasError()
	if has {
		return fmt.Errorf("updating signal %s status: %s", id, errStr)
	}

	return nil
}

// PersistCandle stores the provided complete candle for audit and warm restarts.
func (s *Store) PersistCandle(ctx context.Context, candle *shared.Candlestick) error {
	_, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistCandleSQL,
			PositionalParams: []any{candle.Instrument, candle.Timeframe.String(),
				candle.OpenTime.UTC().Unix(), candle.Open, candle.High, candle.Low,
				candle.Close, candle.Volume},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("persisting candle: %w", err)
	}

	return nil
}

// RecordDeliveryAttempt records a webhook delivery attempt.
func (s *Store) RecordDeliveryAttempt(ctx context.Context, attempt *shared.DeliveryAttempt) error {
	_, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: recordDeliveryAttemptSQL,
			PositionalParams: []any{attempt.SignalID, attempt.ChannelID, attempt.AttemptNumber,
				attempt.ScheduledOn.UTC().Unix(), attempt.LastStatus, attempt.LastError,
				attempt.NextRetryOn.UTC().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("recording delivery attempt: %w", err)
	}

	return nil
}

// PersistPortfolioState stores the single row portfolio state.
func (s *Store) PersistPortfolioState(ctx context.Context, state *shared.PortfolioState) error {
	_, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistPortfolioStateSQL,
			PositionalParams: []any{state.InitialValue, state.CurrentValue, state.PeakValue,
				state.Drawdown, state.UpdatedOn.UTC().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("persisting portfolio state: %w", err)
	}

	return nil
}

// PersistEmergencyTransition stores an emergency level transition.
func (s *Store) PersistEmergencyTransition(ctx context.Context, transition *shared.EmergencyTransition) error {
	_, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistEmergencyTransitionSQL,
			PositionalParams: []any{int(transition.From), int(transition.To),
				transition.Drawdown, transition.CreatedOn.UTC().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("persisting emergency transition: %w", err)
	}

	return nil
}

// PersistStressEvent stores a detected stress event.
func (s *Store) PersistStressEvent(ctx context.Context, event *shared.StressEvent) error {
	_, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistStressEventSQL,
			PositionalParams: []any{event.Instrument, event.Timeframe.String(), event.Severity,
				event.Kind.String(), event.DetectedOn.UTC().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("persisting stress event: %w", err)
	}

	return nil
}

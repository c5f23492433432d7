package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/dnldd/fxsignal/shared"
	"github.com/dnldd/fxsignal/strategy"
	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"
)

// Default strategy parameters applied when no strategy config file is provided.
const (
	defaultFastPeriod        = 10
	defaultSlowPeriod        = 20
	defaultATRPeriod         = 14
	defaultStopLossATRMult   = 1.5
	defaultTakeProfitATRMult = 3.0
	defaultMinATRPips        = 2
	defaultMinRiskReward     = 1.5
)

// Config is the configuration struct for the service.
type Config struct {
	// Instruments represents the tracked instrument symbols.
	Instruments []string
	// Timeframes represents the tracked bar widths.
	Timeframes []string
	// BrokerAPIKey is the broker bearer token.
	BrokerAPIKey string
	// BrokerAccountID is the broker account id.
	BrokerAccountID string
	// StoreConnection is the durable store connection endpoint.
	StoreConnection string
	// StoreUser is the store user.
	StoreUser string
	// StorePass is the store user pass.
	StorePass string
	// WebhookURLs are the delivery channel endpoints.
	WebhookURLs []string
	// PortfolioInitialValue seeds the portfolio state.
	PortfolioInitialValue float64
	// EmergencyEnabled toggles the emergency risk framework.
	EmergencyEnabled bool
	// StrategyConfigPath is an optional path to a strategy config file.
	StrategyConfigPath string

	registeredFlags map[string]bool
}

// Validate asserts the config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Instruments) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no instruments provided for the signal service"))
	}
	for idx := range cfg.Instruments {
		if _, err := shared.NewInstrument(cfg.Instruments[idx]); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if len(cfg.Timeframes) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no timeframes provided for the signal service"))
	}
	for idx := range cfg.Timeframes {
		if _, err := shared.ParseTimeframe(cfg.Timeframes[idx]); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if cfg.BrokerAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("broker api key cannot be an empty string"))
	}
	if cfg.StoreConnection == "" {
		errs = errors.Join(errs, fmt.Errorf("store connection cannot be an empty string"))
	}
	if len(cfg.WebhookURLs) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no webhook urls provided for the signal service"))
	}
	if cfg.PortfolioInitialValue <= 0 {
		errs = errors.Join(errs, fmt.Errorf("portfolio initial value must be positive, got %f",
			cfg.PortfolioInitialValue))
	}

	return errs
}

// ParsedTimeframes returns the configured timeframes as their enum values.
func (cfg *Config) ParsedTimeframes() ([]shared.Timeframe, error) {
	timeframes := make([]shared.Timeframe, 0, len(cfg.Timeframes))
	for idx := range cfg.Timeframes {
		timeframe, err := shared.ParseTimeframe(cfg.Timeframes[idx])
		if err != nil {
			return nil, err
		}
		timeframes = append(timeframes, timeframe)
	}

	return timeframes, nil
}

// defaultStrategies generates a moving average crossover strategy per tracked
// instrument and timeframe.
func (cfg *Config) defaultStrategies() ([]strategy.Config, error) {
	timeframes, err := cfg.ParsedTimeframes()
	if err != nil {
		return nil, err
	}

	strategies := make([]strategy.Config, 0, len(cfg.Instruments)*len(timeframes))
	for _, symbol := range cfg.Instruments {
		instrument, err := shared.NewInstrument(symbol)
		if err != nil {
			return nil, err
		}

		for _, timeframe := range timeframes {
			strategies = append(strategies, strategy.Config{
				ID:                fmt.Sprintf("ma-cross-%s-%s", symbol, timeframe.String()),
				Instrument:        symbol,
				Timeframe:         timeframe,
				FastPeriod:        defaultFastPeriod,
				SlowPeriod:        defaultSlowPeriod,
				ATRPeriod:         defaultATRPeriod,
				StopLossATRMult:   defaultStopLossATRMult,
				TakeProfitATRMult: defaultTakeProfitATRMult,
				MinATR:            defaultMinATRPips * instrument.PipSize,
				MinRiskReward:     defaultMinRiskReward,
			})
		}
	}

	return strategies, nil
}

// LoadStrategies returns the configured strategies, reading the strategy
// config file when one is provided and falling back to per instrument and
// timeframe defaults otherwise.
func (cfg *Config) LoadStrategies() ([]strategy.Config, error) {
	if cfg.StrategyConfigPath == "" {
		return cfg.defaultStrategies()
	}

	data, err := os.ReadFile(cfg.StrategyConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading strategy config file: %w", err)
	}

	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("strategy config file must contain an array of strategies")
	}

	entries := parsed.Array()
	strategies := make([]strategy.Config, 0, len(entries))
	for idx := range entries {
		entry := entries[idx]

		timeframe, err := shared.ParseTimeframe(entry.Get("timeframe").String())
		if err != nil {
			return nil, fmt.Errorf("parsing strategy %d: %w", idx, err)
		}

		strategies = append(strategies, strategy.Config{
			ID:                entry.Get("id").String(),
			Instrument:        entry.Get("instrument").String(),
			Timeframe:         timeframe,
			FastPeriod:        int(entry.Get("fast_period").Int()),
			SlowPeriod:        int(entry.Get("slow_period").Int()),
			ATRPeriod:         int(entry.Get("atr_period").Int()),
			StopLossATRMult:   entry.Get("stop_loss_atr_mult").Float(),
			TakeProfitATRMult: entry.Get("take_profit_atr_mult").Float(),
			MinATR:            entry.Get("min_atr").Float(),
			MinRiskReward:     entry.Get("min_risk_reward").Float(),
		})
	}

	return strategies, nil
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Float64:
		var def float64
		if defValue != "" {
			def, _ = strconv.ParseFloat(defValue, 64)
		}
		flag.Float64Var(value.(*float64), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	err = cfg.registerFlag("INSTRUMENTS", &cfg.Instruments, "the tracked instruments")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("TIMEFRAMES", &cfg.Timeframes, "the tracked timeframes")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("BROKER_API_KEY", &cfg.BrokerAPIKey, "the broker api key")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("BROKER_ACCOUNT_ID", &cfg.BrokerAccountID, "the broker account id")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("STORE_CONNECTION", &cfg.StoreConnection, "the store connection endpoint")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("STORE_USER", &cfg.StoreUser, "the store user")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("STORE_PASS", &cfg.StorePass, "the store user pass")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("WEBHOOK_URLS", &cfg.WebhookURLs, "the delivery channel endpoints")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("PORTFOLIO_INITIAL_VALUE", &cfg.PortfolioInitialValue, "the initial portfolio value")
	if err != nil {
		return err
	}
	// The emergency framework is on unless explicitly disabled.
	if os.Getenv("EMERGENCY_ENABLED") == "" {
		os.Setenv("EMERGENCY_ENABLED", "true")
	}
	err = cfg.registerFlag("EMERGENCY_ENABLED", &cfg.EmergencyEnabled, "the emergency risk framework toggle")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("STRATEGY_CONFIG", &cfg.StrategyConfigPath, "the strategy config file path")
	if err != nil {
		return err
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}

package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	polygonws "github.com/polygon-io/client-go/websocket"
	"github.com/rxtech-lab/argo-live/internal/broker/alpaca"
	"github.com/rxtech-lab/argo-live/internal/version"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment selects the broker endpoints.
type Environment string

const (
	EnvironmentTest Environment = "test"
	EnvironmentLive Environment = "live"
)

// Environment variables that override secrets from the file.
const (
	EnvBrokerKeyID     = "ARGO_BROKER_KEY_ID"
	EnvBrokerSecretKey = "ARGO_BROKER_SECRET_KEY"
	EnvPolygonAPIKey   = "POLYGON_API_KEY"
)

// BrokerConfig holds the broker connection settings. Empty URLs are derived
// from the environment.
type BrokerConfig struct {
	BaseURL     string `yaml:"base_url" json:"base_url" jsonschema:"description=Broker REST base URL"`
	StreamURL   string `yaml:"stream_url" json:"stream_url" jsonschema:"description=Broker trade_updates websocket URL"`
	KeyID       string `yaml:"key_id" json:"key_id" jsonschema:"description=Broker API key id" validate:"required"`
	SecretKey   string `yaml:"secret_key" json:"secret_key" jsonschema:"description=Broker API secret key" validate:"required"`
	ReadRetries int    `yaml:"read_retries" json:"read_retries" jsonschema:"description=Retries of idempotent reads on transient errors,default=3" validate:"gte=0"`
}

// MarketDataConfig holds the raw market stream settings.
type MarketDataConfig struct {
	APIKey string `yaml:"api_key" json:"api_key" jsonschema:"description=Polygon API key" validate:"required"`
	Feed   string `yaml:"feed" json:"feed" jsonschema:"description=Polygon feed,enum=realtime,enum=delayed,default=realtime" validate:"oneof=realtime delayed"`
}

// ControlConfig locates the single-instance lock and the control socket.
type ControlConfig struct {
	LockPath   string `yaml:"lock_path" json:"lock_path" jsonschema:"description=Single-instance lock file"`
	SocketPath string `yaml:"socket_path" json:"socket_path" jsonschema:"description=Unix socket of the control server"`
}

// Config is the live core configuration.
type Config struct {
	Version     string      `yaml:"version" json:"version" jsonschema:"description=Engine version this file was written for"`
	Environment Environment `yaml:"environment" json:"environment" jsonschema:"description=Broker environment,enum=test,enum=live" validate:"required,oneof=test live"`
	Symbols     []string    `yaml:"symbols" json:"symbols" jsonschema:"description=Symbol roster" validate:"required,min=1,dive,required,uppercase"`
	User        string      `yaml:"user" json:"user" jsonschema:"description=User stamped on persisted trades,default=default" validate:"required"`
	DataDir     string      `yaml:"data_dir" json:"data_dir" jsonschema:"description=Root of the session run folders" validate:"required"`
	// DatabasePath defaults to live.duckdb under DataDir.
	DatabasePath     string `yaml:"database_path" json:"database_path" jsonschema:"description=DuckDB file of the repositories"`
	CatalogPath      string `yaml:"catalog_path" json:"catalog_path" jsonschema:"description=Path of viable_strategies.json" validate:"required"`
	LogLevel         string `yaml:"log_level" json:"log_level" jsonschema:"description=Log level,enum=debug,enum=info,enum=warn,enum=error,default=info" validate:"oneof=debug info warn error"`
	ExchangeTimezone string `yaml:"exchange_timezone" json:"exchange_timezone" jsonschema:"description=Exchange time zone,default=America/New_York" validate:"required"`

	PremarketOpenDurationMinutes int     `yaml:"premarket_open_duration_minutes" json:"premarket_open_duration_minutes" jsonschema:"description=Minutes before the open when the session is prepared,default=30" validate:"gte=0"`
	PostFillDelaySeconds         float64 `yaml:"post_fill_delay_seconds" json:"post_fill_delay_seconds" jsonschema:"description=Delay before a filled symbol is released,default=60" validate:"gte=0"`
	DaysToSettle                 int     `yaml:"days_to_settle" json:"days_to_settle" jsonschema:"description=Business days until a trade settles,default=1" validate:"gte=0"`

	CombinedBuyThreshold  float64 `yaml:"combined_buy_threshold" json:"combined_buy_threshold" jsonschema:"description=Combined vote above which a symbol buys,default=0.6" validate:"gte=0,lte=1"`
	CombinedSellThreshold float64 `yaml:"combined_sell_threshold" json:"combined_sell_threshold" jsonschema:"description=Combined vote above which a symbol closes,default=0.6" validate:"gte=0,lte=1"`
	ViabilityThreshold    float64 `yaml:"viability_threshold" json:"viability_threshold" jsonschema:"description=Minimum viability score of a catalog entry,default=0.5"`

	OrderSizing      string  `yaml:"order_sizing" json:"order_sizing" jsonschema:"description=Order sizing mode,enum=qty,enum=notional,default=qty" validate:"oneof=qty notional"`
	Fractional       bool    `yaml:"fractional" json:"fractional" jsonschema:"description=Allow fractional quantities"`
	MinOrderNotional float64 `yaml:"min_order_notional" json:"min_order_notional" jsonschema:"description=Deltas worth less are skipped,default=1" validate:"gte=0"`
	MaxSubmitPerTick int     `yaml:"max_submit_per_tick" json:"max_submit_per_tick" jsonschema:"description=Submissions per weights tick (0 is unbounded)" validate:"gte=0"`

	ReorderWindow      time.Duration `yaml:"reorder_window" json:"reorder_window" jsonschema:"description=Order event reorder window,default=100ms" validate:"gte=0"`
	SettleWindow       time.Duration `yaml:"settle_window" json:"settle_window" jsonschema:"description=Wait for in-flight orders at close,default=30s" validate:"gte=0"`
	GracefulStopBudget time.Duration `yaml:"graceful_stop_budget" json:"graceful_stop_budget" jsonschema:"description=Upper bound of a session teardown,default=2m" validate:"gt=0"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay" json:"reconnect_delay" jsonschema:"description=First reconnect backoff,default=1s" validate:"gt=0"`
	ReconnectDelayMax  time.Duration `yaml:"reconnect_delay_max" json:"reconnect_delay_max" jsonschema:"description=Reconnect backoff cap,default=1m" validate:"gtefield=ReconnectDelay"`
	KeepAliveTimeout   time.Duration `yaml:"keep_alive_timeout" json:"keep_alive_timeout" jsonschema:"description=Longest market data silence during a session,default=2m" validate:"gte=0"`
	HTTPTimeout        time.Duration `yaml:"http_timeout" json:"http_timeout" jsonschema:"description=Timeout of every broker REST call,default=10s" validate:"gt=0"`
	RosterBatchWindow  time.Duration `yaml:"roster_batch_window" json:"roster_batch_window" jsonschema:"description=How long a signal roster waits for slow symbols,default=5s" validate:"gte=0"`
	WarnThrottle       time.Duration `yaml:"warn_throttle" json:"warn_throttle" jsonschema:"description=Interval of repeated warnings,default=30s" validate:"gte=0"`

	BarWindow       int `yaml:"bar_window" json:"bar_window" jsonschema:"description=Bars kept per symbol by the enricher,default=300" validate:"gt=0"`
	PortfolioWindow int `yaml:"portfolio_window" json:"portfolio_window" jsonschema:"description=Returns matrix depth of portfolio strategies,default=60" validate:"gt=0"`
	SignalBuffer    int `yaml:"signal_buffer" json:"signal_buffer" jsonschema:"description=Enriched rows handed to each signal strategy,default=250" validate:"gt=0"`
	DBRetryAttempts int `yaml:"db_retry_attempts" json:"db_retry_attempts" jsonschema:"description=Retries of a failing database write,default=3" validate:"gte=0"`
	// MaxRowsPerFile is read by the offline data stage only.
	MaxRowsPerFile int `yaml:"max_rows_per_file" json:"max_rows_per_file" jsonschema:"description=Rows per file of the offline data stage,default=1000000" validate:"gte=0"`

	Dashboard bool `yaml:"dashboard" json:"dashboard" jsonschema:"description=Show the terminal dashboard"`

	Broker     BrokerConfig     `yaml:"broker" json:"broker"`
	MarketData MarketDataConfig `yaml:"market_data" json:"market_data"`
	Control    ControlConfig    `yaml:"control" json:"control"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		Version:                      version.Version,
		Environment:                  EnvironmentTest,
		User:                         "default",
		DataDir:                      "data",
		CatalogPath:                  "viable_strategies.json",
		LogLevel:                     "info",
		ExchangeTimezone:             "America/New_York",
		PremarketOpenDurationMinutes: 30,
		PostFillDelaySeconds:         60,
		DaysToSettle:                 1,
		CombinedBuyThreshold:         0.6,
		CombinedSellThreshold:        0.6,
		ViabilityThreshold:           0.5,
		OrderSizing:                  "qty",
		MinOrderNotional:             1,
		ReorderWindow:                100 * time.Millisecond,
		SettleWindow:                 30 * time.Second,
		GracefulStopBudget:           2 * time.Minute,
		ReconnectDelay:               time.Second,
		ReconnectDelayMax:            time.Minute,
		KeepAliveTimeout:             2 * time.Minute,
		HTTPTimeout:                  10 * time.Second,
		RosterBatchWindow:            5 * time.Second,
		WarnThrottle:                 30 * time.Second,
		BarWindow:                    300,
		PortfolioWindow:              60,
		SignalBuffer:                 250,
		DBRetryAttempts:              3,
		MaxRowsPerFile:               1_000_000,
		Broker: BrokerConfig{
			ReadRetries: 3,
		},
		MarketData: MarketDataConfig{
			Feed: "realtime",
		},
	}
}

// Load reads path over the defaults, applies the environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	for i, symbol := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(symbol))
	}

	return cfg, nil
}

// ApplyEnv overrides secrets with the variables lookup finds.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBrokerKeyID); ok && v != "" {
		c.Broker.KeyID = v
	}

	if v, ok := lookup(EnvBrokerSecretKey); ok && v != "" {
		c.Broker.SecretKey = v
	}

	if v, ok := lookup(EnvPolygonAPIKey); ok && v != "" {
		c.MarketData.APIKey = v
	}
}

// Validate checks field constraints, the time zone and the version gate.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	if _, err := time.LoadLocation(c.ExchangeTimezone); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidTimezone, err, "unknown exchange timezone %s", c.ExchangeTimezone)
	}

	seen := make(map[string]bool, len(c.Symbols))
	for _, symbol := range c.Symbols {
		if seen[symbol] {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "duplicate symbol %s", symbol)
		}

		seen[symbol] = true
	}

	return c.CheckVersion(version.Version)
}

// CheckVersion fails when the file was written for an incompatible engine.
// An empty version skips the check.
func (c *Config) CheckVersion(engineVersion string) error {
	if c.Version == "" {
		return nil
	}

	if err := version.CheckVersionCompatibility(engineVersion, c.Version); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidVersion, "config version is not compatible with the engine", err)
	}

	return nil
}

// BrokerURLs returns the REST and stream URLs, derived from the environment
// when not set explicitly.
func (c *Config) BrokerURLs() (baseURL, streamURL string) {
	baseURL, streamURL = alpaca.PaperBaseURL, alpaca.PaperStreamURL
	if c.Environment == EnvironmentLive {
		baseURL, streamURL = alpaca.LiveBaseURL, alpaca.LiveStreamURL
	}

	if c.Broker.BaseURL != "" {
		baseURL = c.Broker.BaseURL
	}

	if c.Broker.StreamURL != "" {
		streamURL = c.Broker.StreamURL
	}

	return baseURL, streamURL
}

// Feed returns the polygon feed.
func (c *Config) Feed() polygonws.Feed {
	if c.MarketData.Feed == "delayed" {
		return polygonws.Delayed
	}

	return polygonws.RealTime
}

// Location returns the exchange time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ExchangeTimezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

func (c *Config) PostFillDelay() time.Duration {
	return time.Duration(c.PostFillDelaySeconds * float64(time.Second))
}

func (c *Config) PremarketDuration() time.Duration {
	return time.Duration(c.PremarketOpenDurationMinutes) * time.Minute
}

// DBPath returns the repository database file.
func (c *Config) DBPath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}

	return filepath.Join(c.DataDir, "live.duckdb")
}

// LockPath returns the single-instance lock file.
func (c *Config) LockPath() string {
	if c.Control.LockPath != "" {
		return c.Control.LockPath
	}

	return filepath.Join(c.DataDir, "argo-live.lock")
}

// SocketPath returns the control socket.
func (c *Config) SocketPath() string {
	if c.Control.SocketPath != "" {
		return c.Control.SocketPath
	}

	return filepath.Join(c.DataDir, "argo-live.sock")
}

// Schema returns the JSON schema of Config.
func Schema() (string, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	schema := r.Reflect(&Config{}) //nolint:exhaustruct // empty config for schema generation

	data, err := json.Marshal(schema)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to build config schema", err)
	}

	return string(data), nil
}

// Package config provides configuration loading and management for the application.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Log      LogConfig      `mapstructure:"log"`
	Otel     OtelConfig     `mapstructure:"otel"`
	Status   StatusConfig   `mapstructure:"status"`
	Display  DisplayConfig  `mapstructure:"display"`

	// RunMode is "daemon" or "once"
	RunMode string `mapstructure:"run_mode"`
}

// LedgerConfig configures the connection to the ledger node
type LedgerConfig struct {
	// Endpoint is the node's JSON-RPC URL (ws, wss, http or https)
	Endpoint string `mapstructure:"endpoint"`

	// PageSize bounds how many storage keys are listed or fetched per call
	PageSize int `mapstructure:"page_size"`

	// RateLimit caps RPC calls per second; 0 disables the limiter
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// HTTPRetryMax is the transport-level retry count for http(s) endpoints
	HTTPRetryMax int `mapstructure:"http_retry_max"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// AccountIDLength is the AccountId width in bytes: 32, or 20 on EVM-unified chains
	AccountIDLength int `mapstructure:"account_id_length"`
}

// MaxPageSize is the largest key page a Substrate node serves
const MaxPageSize = 1000

// InfluxConfig configures the time-series sink
type InfluxConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Org     string        `mapstructure:"org"`
	Bucket  string        `mapstructure:"bucket"`
	HostTag string        `mapstructure:"host_tag"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PostgresConfig configures the optional relational source
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	AccountsTable  string `mapstructure:"accounts_table"`
	ActivityColumn string `mapstructure:"activity_column"`

	CounterTable       string `mapstructure:"counter_table"`
	CounterKeyColumn   string `mapstructure:"counter_key_column"`
	CounterValueColumn string `mapstructure:"counter_value_column"`
	CounterKey         string `mapstructure:"counter_key"`

	// ActiveWindow is the trailing window for the active account count
	ActiveWindow time.Duration `mapstructure:"active_window"`
}

// ScheduleConfig configures the resilient scheduler
type ScheduleConfig struct {
	Period            time.Duration `mapstructure:"period"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`

	// TickTimeout bounds one tick; 0 means no bound
	TickTimeout time.Duration `mapstructure:"tick_timeout"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OtelConfig configures tracing
type OtelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// StatusConfig configures the status HTTP server
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// DisplayConfig configures operator console output
type DisplayConfig struct {
	Symbol string `mapstructure:"symbol"`
}

// Run modes
const (
	RunModeDaemon = "daemon"
	RunModeOnce   = "once"
)

// Enabled reports whether a relational backend is configured
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// ConnString renders a pgx connection URL from the discrete settings
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{p.SSLMode}}.Encode()
	}
	return u.String()
}

// Load merges defaults, an optional config file, environment variables and
// command-line flags (in increasing priority) into a Config.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if f := flags.Lookup("once"); f != nil && f.Changed {
			v.Set("run_mode", RunModeOnce)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.RunMode = strings.ToLower(strings.TrimSpace(cfg.RunMode))

	return &cfg, nil
}

// setDefaults registers a default for every key so AutomaticEnv can resolve it
func setDefaults(v *viper.Viper) {
	v.SetDefault("run_mode", RunModeDaemon)

	v.SetDefault("ledger.endpoint", "")
	v.SetDefault("ledger.page_size", 1000)
	v.SetDefault("ledger.rate_limit", 0.0)
	v.SetDefault("ledger.rate_burst", 1)
	v.SetDefault("ledger.http_retry_max", 0)
	v.SetDefault("ledger.dial_timeout", "30s")
	v.SetDefault("ledger.account_id_length", 32)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
	v.SetDefault("influx.host_tag", "")
	v.SetDefault("influx.timeout", "10s")

	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.accounts_table", "accounts")
	v.SetDefault("postgres.activity_column", "last_transaction_at")
	v.SetDefault("postgres.counter_table", "counters")
	v.SetDefault("postgres.counter_key_column", "name")
	v.SetDefault("postgres.counter_value_column", "value")
	v.SetDefault("postgres.counter_key", "transaction_info_count")
	v.SetDefault("postgres.active_window", "72h")

	v.SetDefault("schedule.period", "600s")
	v.SetDefault("schedule.connect_retry_delay", "10s")
	v.SetDefault("schedule.tick_timeout", "0s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("status.addr", ":8080")
	v.SetDefault("display.symbol", "ATLA")
}

// Validate reports every missing or malformed required setting in one error
func (c *Config) Validate() error {
	var errs []error
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	require("ledger.endpoint", c.Ledger.Endpoint)
	require("influx.url", c.Influx.URL)
	require("influx.token", c.Influx.Token)
	require("influx.org", c.Influx.Org)
	require("influx.bucket", c.Influx.Bucket)
	require("influx.host_tag", c.Influx.HostTag)

	if c.Ledger.Endpoint != "" {
		u, err := url.Parse(c.Ledger.Endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("ledger.endpoint: %w", err))
		} else {
			switch u.Scheme {
			case "ws", "wss", "http", "https":
			default:
				errs = append(errs, fmt.Errorf("ledger.endpoint: unsupported scheme %q", u.Scheme))
			}
		}
	}
	if c.Ledger.PageSize <= 0 || c.Ledger.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("ledger.page_size must be between 1 and %d", MaxPageSize))
	}
	switch c.Ledger.AccountIDLength {
	case 20, 32:
	default:
		errs = append(errs, fmt.Errorf("ledger.account_id_length must be 20 or 32, got %d", c.Ledger.AccountIDLength))
	}
	if c.Influx.Timeout < time.Second {
		errs = append(errs, errors.New("influx.timeout must be at least 1s"))
	}

	if c.Postgres.Enabled() {
		require("postgres.user", c.Postgres.User)
		require("postgres.database", c.Postgres.Database)
		if c.Postgres.ActiveWindow <= 0 {
			errs = append(errs, errors.New("postgres.active_window must be positive"))
		}
	} else if c.Postgres.User != "" || c.Postgres.Password != "" || c.Postgres.Database != "" {
		errs = append(errs, errors.New("postgres.host is required when other postgres settings are present"))
	}

	if c.Schedule.Period < time.Second {
		errs = append(errs, errors.New("schedule.period must be at least 1s"))
	}
	if c.Schedule.ConnectRetryDelay <= 0 {
		errs = append(errs, errors.New("schedule.connect_retry_delay must be positive"))
	}

	switch c.RunMode {
	case RunModeDaemon, RunModeOnce:
	default:
		errs = append(errs, fmt.Errorf("run_mode: unknown mode %q", c.RunMode))
	}

	return errors.Join(errs...)
}

// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/quant-signals/internal/regime"
	"github.com/amirphl/quant-signals/internal/risk"
)

/*
YAML config example:
app:
  mode: live
  log_level: info
db:
  conn_str: "postgres://..."
universe: ["EURUSD=X", "GC=F", "BTC-USD"]
scheduler:
  cadence: 5m
  dedup_window: 4h
telegram:
  chat_id: "-100123"
risk:
  max_risk_percent: 2.0
...
*/

var validate = validator.New()

type Config struct {
	App struct {
		Mode        string `yaml:"mode" default:"live" validate:"oneof=live once backtest"`
		LogLevel    string `yaml:"log_level" default:"info"`
		LogFormat   string `yaml:"log_format" default:"json" validate:"oneof=json console"`
		MetricsAddr string `yaml:"metrics_addr" default:":9108"`
	} `yaml:"app"`

	DB struct {
		Driver  string `yaml:"driver" default:"postgres" validate:"oneof=postgres memory"`
		ConnStr string `yaml:"conn_str" validate:"required_if=Driver postgres"`
		MaxOpen int    `yaml:"max_open" default:"10" validate:"gt=0"`
		MaxIdle int    `yaml:"max_idle" default:"5" validate:"gte=0"`
	} `yaml:"db"`

	Universe []string `yaml:"universe" default:"[\"EURUSD=X\",\"GBPUSD=X\",\"AUDUSD=X\",\"USDCAD=X\",\"NZDUSD=X\",\"USDJPY=X\",\"GBPJPY=X\",\"GC=F\",\"CL=F\",\"BTC-USD\",\"^GSPC\",\"^IXIC\"]" validate:"min=1,dive,required"`
	Policies []string `yaml:"policies" default:"[\"intraday_quant_m5\",\"swing_quant_h1\",\"session_clock_v1\",\"advanced_patterns_v23\"]" validate:"min=1"`

	Macro struct {
		DXY       string `yaml:"dxy" default:"DX-Y.NYB"`
		TNX       string `yaml:"tnx" default:"^TNX"`
		EMAPeriod int    `yaml:"ema_period" default:"20" validate:"gt=0"`
	} `yaml:"macro"`

	Scheduler struct {
		Cadence          string        `yaml:"cadence" default:"5m" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
		Buffer           time.Duration `yaml:"buffer" default:"30s"`
		MinWait          time.Duration `yaml:"min_wait" default:"60s"`
		Backoff          time.Duration `yaml:"backoff" default:"60s"`
		Pacing           time.Duration `yaml:"pacing" default:"2s"`
		DedupWindow      time.Duration `yaml:"dedup_window" default:"4h" validate:"gt=0"`
		DedupGranularity float64       `yaml:"dedup_granularity" default:"1" validate:"gt=0"`
		HistoryBars      int           `yaml:"history_bars" default:"300" validate:"gte=200"`
		FetchTimeout     time.Duration `yaml:"fetch_timeout" default:"30s"`
		FetchParallelism int           `yaml:"fetch_parallelism" default:"8" validate:"gt=0"`
		Balance          float64       `yaml:"balance" default:"10000" validate:"gt=0"`
	} `yaml:"scheduler"`

	Tracker struct {
		Interval time.Duration `yaml:"interval" default:"2m" validate:"gt=0"`
		Mute     bool          `yaml:"mute"` // no resolution notices
	} `yaml:"tracker"`

	Telegram struct {
		Token      string        `yaml:"token"`
		ChatID     string        `yaml:"chat_id"`
		ProxyURL   string        `yaml:"proxy_url"`
		Retries    int           `yaml:"retries" default:"1" validate:"gte=1"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"5s"`
	} `yaml:"telegram"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PriceKey string `yaml:"price_key" default:"prices:last"`
		NewsKey  string `yaml:"news_key" default:"news:calendar"`
		MaxBars  int    `yaml:"max_bars" default:"1000" validate:"gt=0"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic" default:"bridge.signals"`
	} `yaml:"kafka"`

	Export struct {
		Path   string        `yaml:"path" default:"bridge_signals.json"`
		Limit  int           `yaml:"limit" default:"50" validate:"gt=0"`
		MaxAge time.Duration `yaml:"max_age" default:"24h"`
	} `yaml:"export"`

	Backtest struct {
		Data   []BacktestData `yaml:"data" validate:"dive"`
		Out    string         `yaml:"out" default:"backtest_trades.csv"`
		Warmup int            `yaml:"warmup" default:"200" validate:"gt=0"`
		Window int            `yaml:"window" default:"300" validate:"gt=0"`
	} `yaml:"backtest"`

	Risk   risk.Config   `yaml:"risk"`
	Regime regime.Config `yaml:"regime"`
}

// BacktestData is one CSV file of historical bars.
type BacktestData struct {
	Instrument string `yaml:"instrument" validate:"required"`
	Timeframe  string `yaml:"timeframe" validate:"required,oneof=1m 5m 15m 30m 1h 4h 1d"`
	Path       string `yaml:"path" validate:"required"`
}

// Load reads path (optional), applies defaults and environment overrides,
// then validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	c.applyEnv()
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		c.DB.ConnStr = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("UNIVERSE"); v != "" {
		c.Universe = strings.Split(v, ",")
	}
}

// LoadFromArgs parses -config, -mode and -once from args and loads the file.
func LoadFromArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("quant-signals", flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to YAML config file")
	mode := fs.String("mode", "", "Mode: live, once or backtest (overrides app.mode)")
	once := fs.Bool("once", false, "Run a single cycle and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c, err := Load(*configFile)
	if err != nil {
		return nil, err
	}
	if *mode != "" {
		c.App.Mode = *mode
	}
	if *once {
		c.App.Mode = ModeOnce
	}
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// MustLoadConfig loads from os.Args and exits on failure.
func MustLoadConfig() *Config {
	c, err := LoadFromArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	return c
}

const (
	ModeLive     = "live"
	ModeOnce     = "once"
	ModeBacktest = "backtest"
)

// Once reports whether a single cycle should run.
func (c *Config) Once() bool { return c.App.Mode == ModeOnce }

package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"FinAlloc/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Mode        string `yaml:"mode" default:"backtest" validate:"oneof=backtest live serve"`
	Logger      struct {
		Level      string `yaml:"level" default:"info"`
		Format     string `yaml:"format" default:"json"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Digest     struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"finalloc.alerts"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"digest"`
	} `yaml:"logger"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SubmitRPS       float64       `yaml:"submit_rps" default:"1"`
		SubmitBurst     float64       `yaml:"submit_burst" default:"5"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Data       DataConfig       `yaml:"data"`
	Costs      CostsConfig      `yaml:"costs"`
	Portfolio  PortfolioConfig  `yaml:"portfolio"`
	Regime     RegimeConfig     `yaml:"regime"`
	Governance GovernanceConfig `yaml:"governance"`
	Sleeves    Sleeves          `yaml:"sleeves"`
	Backtest   struct {
		InitialEquity float64 `yaml:"initial_equity" default:"1000000" validate:"gt=0"`
		Start         string  `yaml:"start"`
		End           string  `yaml:"end"`
		PublishTrades bool    `yaml:"publish_trades"`
	} `yaml:"backtest"`
	Live  LiveConfig `yaml:"live"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Topics       struct {
			Orders    string `yaml:"orders" default:"finalloc.orders"`
			Trades    string `yaml:"trades" default:"finalloc.trades"`
			Snapshots string `yaml:"snapshots" default:"finalloc.snapshots"`
			Bars      string `yaml:"bars" default:"finalloc.bars"`
			Account   string `yaml:"account" default:"finalloc.account"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"finalloc"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"finalloc.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finalloc"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"finalloc"`
	} `yaml:"redis"`
	Queue struct {
		Name       string        `yaml:"name" default:"backtests"`
		Workers    int           `yaml:"workers" default:"2"`
		MaxRetries int           `yaml:"max_retries" default:"1"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
		ResultTTL  time.Duration `yaml:"result_ttl" default:"24h"`
	} `yaml:"queue"`
	Finnhub struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		MaxRPS         int           `yaml:"max_rps" default:"200"`
	} `yaml:"finnhub"`
}

type DataConfig struct {
	Source           string   `yaml:"source" default:"csv" validate:"oneof=csv clickhouse"`
	CSVDir           string   `yaml:"csv_dir" default:"data/prices"`
	UniverseFile     string   `yaml:"universe_file"`
	FundamentalsFile string   `yaml:"fundamentals_file"`
	Symbols          []string `yaml:"symbols"`
	HistoryDays      int      `yaml:"history_days" default:"504" validate:"gte=30"`
	Cache            struct {
		Type     string        `yaml:"type" default:"memory" validate:"oneof=none memory redis layered"`
		Capacity int           `yaml:"capacity" default:"64" validate:"gte=1"`
		TTL      time.Duration `yaml:"ttl" default:"15m"`
	} `yaml:"cache"`
}

type CostsConfig struct {
	SpreadBps      float64 `yaml:"spread_bps" default:"2.0" validate:"gte=0"`
	ImpactK        float64 `yaml:"impact_k" default:"0.9" validate:"gte=0"`
	BorrowBpsMonth float64 `yaml:"borrow_bps_month" default:"30" validate:"gte=0"`
	CommissionBps  float64 `yaml:"commission_bps" default:"0.5" validate:"gte=0"`
	TimingBps      float64 `yaml:"timing_slippage_bps" default:"1.0" validate:"gte=0"`
	MinTradeBps    float64 `yaml:"min_trade_bps" default:"5" validate:"gte=0"`
	MaxTradeBps    float64 `yaml:"max_trade_bps" default:"50" validate:"gtefield=MinTradeBps"`
	PortfolioValue float64 `yaml:"portfolio_value" default:"1000000" validate:"gt=0"`
}

// BorrowDaily converts the monthly borrow fee to a per-day rate.
func (c CostsConfig) BorrowDaily() float64 { return c.BorrowBpsMonth / 1e4 / 21 }

type PortfolioConfig struct {
	TargetVolAnn  float64 `yaml:"target_vol_ann" default:"0.10" validate:"gt=0"`
	MaxNameWeight float64 `yaml:"max_name_weight" default:"0.02" validate:"gt=0,lte=1"`
	BetaNeutral   bool    `yaml:"beta_neutral" default:"true"`
	BetaLimit     float64 `yaml:"beta_limit" default:"0.05" validate:"gte=0"`
	SectorNeutral bool    `yaml:"sector_neutral" default:"true"`
	Sizing        string  `yaml:"sizing" default:"inverse_vol" validate:"oneof=inverse_vol erc"`
}

type RegimeConfig struct {
	BreadthThresholds map[string]float64            `yaml:"breadth_thresholds"`
	BaseAllocations   map[string]map[string]float64 `yaml:"base_allocations"`
	BreadthWindow     int                           `yaml:"breadth_window" default:"200" validate:"gte=2"`
	VolWindow         int                           `yaml:"vol_window" default:"20" validate:"gte=2"`
	CorrWindow        int                           `yaml:"corr_window" default:"60" validate:"gte=2"`
	DispersionWindow  int                           `yaml:"dispersion_window" default:"20" validate:"gte=1"`
}

type GovernanceConfig struct {
	DDCut        float64 `yaml:"dd_cut" default:"0.12" validate:"gte=0"`
	LossSigmaCut float64 `yaml:"loss_sigma_cut" default:"3" validate:"gte=0"`
}

// SleeveID names one entry of the fixed sleeve roster.
type SleeveID string

const (
	SleeveTSMom       SleeveID = "A_tsmom"
	SleeveCarry       SleeveID = "B_carry"
	SleeveXSecQV      SleeveID = "C_xsec_qv"
	SleeveIntradayRev SleeveID = "D_intraday_rev"
	SleeveVolPremia   SleeveID = "E_vol_premia"
)

// SleeveBase is shared by every sleeve.
type SleeveBase struct {
	Enabled    bool    `yaml:"enabled"`
	Rebalance  string  `yaml:"rebalance_frequency" default:"M" validate:"oneof=D W M"`
	RiskBudget float64 `yaml:"risk_budget" validate:"gte=0,lte=1"`
}

type TimeframeConfig struct {
	Months int     `yaml:"months" validate:"gte=1"`
	Weight float64 `yaml:"weight" validate:"gte=0,lte=1"`
}

type MomentumSleeveConfig struct {
	SleeveBase         `yaml:",inline"`
	Timeframes         []TimeframeConfig `yaml:"timeframes"`
	LookbackMonths     int               `yaml:"lookback_mom_months"`
	SkipRecentMonth    bool              `yaml:"skip_recent_month" default:"true"`
	QualityFilter      bool              `yaml:"quality_filter" default:"true"`
	QVFields           []string          `yaml:"qv_fields"`
	MomentumWeight     float64           `yaml:"momentum_weight" default:"0.65" validate:"gte=0,lte=1"`
	TopQuantile        float64           `yaml:"top_quantile" default:"0.2" validate:"gt=0,lte=0.5"`
	BottomQuantile     float64           `yaml:"bottom_quantile" default:"0.2" validate:"gt=0,lte=0.5"`
	LookaheadGuardDays int               `yaml:"lookahead_guard_days" default:"5" validate:"gte=0"`
}

type MeanReversionSleeveConfig struct {
	SleeveBase           `yaml:",inline"`
	Lookback             int     `yaml:"lookback" default:"20" validate:"gte=2"`
	ZEntry               float64 `yaml:"z_entry" default:"2.0" validate:"gt=0"`
	MinObs               int     `yaml:"min_obs" default:"10" validate:"gte=2"`
	TrendWindow          int     `yaml:"trend_window" default:"50" validate:"gte=2"`
	GapWeight            float64 `yaml:"gap_weight" default:"0.5" validate:"gte=0,lte=1"`
	VolScaling           bool    `yaml:"vol_scaling" default:"true"`
	Exit                 string  `yaml:"exit" default:"next_open" validate:"oneof=next_open next_close"`
	VWAPWeight           float64 `yaml:"vwap_weight" validate:"gte=0,lte=1"`
	VWAPZEntry           float64 `yaml:"vwap_z_entry" default:"1.5" validate:"gt=0"`
	EarningsBlackoutDays int     `yaml:"earnings_blackout_days" default:"2" validate:"gte=0"`
	MinDollarVol         float64 `yaml:"min_dollar_vol" default:"5000000" validate:"gte=0"`
}

// Sleeves is the explicit roster. A, B and E are recognised but have no
// generator, so enabling them is rejected by Validate.
type Sleeves struct {
	TSMom       SleeveBase                `yaml:"A_tsmom"`
	Carry       SleeveBase                `yaml:"B_carry"`
	XSecQV      MomentumSleeveConfig      `yaml:"C_xsec_qv"`
	IntradayRev MeanReversionSleeveConfig `yaml:"D_intraday_rev"`
	VolPremia   SleeveBase                `yaml:"E_vol_premia"`
}

type RosterEntry struct {
	ID   SleeveID
	Base SleeveBase
}

// Roster lists every sleeve in declaration order with its shared settings.
func (s *Sleeves) Roster() []RosterEntry {
	return []RosterEntry{
		{SleeveTSMom, s.TSMom},
		{SleeveCarry, s.Carry},
		{SleeveXSecQV, s.XSecQV.SleeveBase},
		{SleeveIntradayRev, s.IntradayRev.SleeveBase},
		{SleeveVolPremia, s.VolPremia},
	}
}

// Enabled returns the IDs of enabled sleeves in declaration order.
func (s *Sleeves) Enabled() []SleeveID {
	var out []SleeveID
	for _, e := range s.Roster() {
		if e.Base.Enabled {
			out = append(out, e.ID)
		}
	}
	return out
}

type LiveConfig struct {
	Broker         string        `yaml:"broker" default:"paper" validate:"oneof=paper gateway"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"60s"`
	PaperStartCash float64       `yaml:"paper_start_cash" default:"100000" validate:"gt=0"`
	StopLossPLPC   float64       `yaml:"stop_loss_plpc"`
	TakeProfitPLPC float64       `yaml:"take_profit_plpc"`
	PnLLog         string        `yaml:"pnl_log" default:"logs/live_pnl.csv"`
	Gateway        struct {
		KeyEnv           string        `yaml:"key_env" default:"BROKER_API_KEY"`
		SecretEnv        string        `yaml:"secret_env" default:"BROKER_API_SECRET"`
		MaxParticipation float64       `yaml:"max_participation" default:"0.05" validate:"gt=0,lte=1"`
		AccountWait      time.Duration `yaml:"account_wait" default:"5s"`
	} `yaml:"gateway"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	_ = setDefaults(&c)
	applyDerivedDefaults(&c)
	return &c
}

// Load reads and parses a YAML configuration file. Defaults are applied
// before parsing so explicit zero values in the file are kept.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := setDefaults(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDerivedDefaults(&c)

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("FINALLOC_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Data.Symbols = util.SplitList(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LIVE_BROKER"); v != "" {
		c.Live.Broker = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func setDefaults(c *Config) error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	c.Sleeves.XSecQV.Enabled = true
	c.Sleeves.IntradayRev.Enabled = true
	c.Sleeves.XSecQV.RiskBudget = 0.85
	c.Sleeves.IntradayRev.RiskBudget = 0.15
	c.Sleeves.IntradayRev.Rebalance = "D"
	c.Sleeves.XSecQV.QVFields = []string{"roa", "gross_margin", "accruals", "earnings_yield"}
	return nil
}

// applyDerivedDefaults fills values whose default depends on other fields.
func applyDerivedDefaults(c *Config) {
	if len(c.Sleeves.XSecQV.Timeframes) == 0 {
		if n := c.Sleeves.XSecQV.LookbackMonths; n > 0 {
			c.Sleeves.XSecQV.Timeframes = []TimeframeConfig{{Months: n, Weight: 1}}
		} else {
			c.Sleeves.XSecQV.Timeframes = []TimeframeConfig{{Months: 3, Weight: 0.25}, {Months: 6, Weight: 0.35}, {Months: 12, Weight: 0.40}}
		}
	}
	if c.Regime.BreadthThresholds == nil {
		c.Regime.BreadthThresholds = map[string]float64{"risk_off": 0.45, "risk_on": 0.60}
	}
	if c.Regime.BaseAllocations == nil {
		c.Regime.BaseAllocations = map[string]map[string]float64{
			"risk_off": {string(SleeveXSecQV): 0.6, string(SleeveIntradayRev): 0.4},
			"risk_on":  {string(SleeveXSecQV): 0.8, string(SleeveIntradayRev): 0.2},
			"neutral":  {string(SleeveXSecQV): 0.7, string(SleeveIntradayRev): 0.3},
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Data.Source == "csv" && c.Data.CSVDir == "" {
		return fmt.Errorf("data.csv_dir is required for csv source")
	}
	if c.Data.Source == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required for clickhouse source")
	}

	var sum float64
	for _, tf := range c.Sleeves.XSecQV.Timeframes {
		sum += tf.Weight
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("sleeves.C_xsec_qv.timeframes weights must sum to 1, got %.6f", sum)
	}

	off, okOff := c.Regime.BreadthThresholds["risk_off"]
	on, okOn := c.Regime.BreadthThresholds["risk_on"]
	if !okOff || !okOn {
		return fmt.Errorf("regime.breadth_thresholds requires risk_off and risk_on")
	}
	if off >= on {
		return fmt.Errorf("regime.breadth_thresholds risk_off (%.3f) must be below risk_on (%.3f)", off, on)
	}

	for _, e := range c.Sleeves.Roster() {
		switch e.ID {
		case SleeveXSecQV, SleeveIntradayRev:
		default:
			if e.Base.Enabled {
				return fmt.Errorf("sleeve %s has no signal generator and cannot be enabled", e.ID)
			}
		}
	}

	if (c.Mode == "live" || c.Mode == "serve") && c.Live.Broker == "gateway" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required for the gateway broker")
	}
	if c.Finnhub.Enabled && c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required when finnhub is enabled")
	}
	return nil
}

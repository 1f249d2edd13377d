package config

// Config is the main configuration carrier for sentinel.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Database DatabaseConfig `mapstructure:"database"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Learner  LearnerConfig  `mapstructure:"learner"`
	Adaptive AdaptiveConfig `mapstructure:"adaptive"`
	Profile  ProfileConfig  `mapstructure:"profile"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type ExchangeConfig struct {
	RESTBaseURL    string `mapstructure:"rest_base_url"`
	APIKey         string `mapstructure:"api_key"`
	APISecret      string `mapstructure:"api_secret"`
	Testnet        bool   `mapstructure:"testnet"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ProxyURL       string `mapstructure:"proxy_url"`

	BreakerThreshold      int `mapstructure:"breaker_threshold"`
	BreakerTimeoutSeconds int `mapstructure:"breaker_timeout_seconds"`
}

type DatabaseConfig struct {
	Path      string `mapstructure:"path"`
	AuditPath string `mapstructure:"audit_path"`
}

type MonitorConfig struct {
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	Symbols         []string `mapstructure:"symbols"`
	LookbackCandles int      `mapstructure:"lookback_candles"`
	KlineInterval   string   `mapstructure:"kline_interval"`
}

// RiskConfig carries every threshold the decision rule chain consults.
// The balance-fallback thresholds are deliberately configuration, not
// constants: they implicitly assume a typical position size.
type RiskConfig struct {
	MaxStopDistancePct     float64 `mapstructure:"max_stop_distance_pct"`
	LiqThresholdIsolated   float64 `mapstructure:"liq_threshold_isolated"`
	LiqThresholdCross      float64 `mapstructure:"liq_threshold_cross"`
	CrossMarginPenalty     float64 `mapstructure:"cross_margin_penalty"`
	CrossMarginMultiplier  float64 `mapstructure:"cross_margin_multiplier"`
	CrossBalanceRatioLimit float64 `mapstructure:"cross_balance_ratio_limit"`
	FundingExtreme         float64 `mapstructure:"funding_extreme"`
	ATRExpansionPct        float64 `mapstructure:"atr_expansion_pct"`
	RSIOverbought          float64 `mapstructure:"rsi_overbought"`
	RSIOversold            float64 `mapstructure:"rsi_oversold"`

	BalanceFallbackProfitPct float64 `mapstructure:"balance_fallback_profit_pct"`
	BalanceFallbackRelief    float64 `mapstructure:"balance_fallback_relief"`
	BalanceFallbackPenalty   float64 `mapstructure:"balance_fallback_penalty"`
}

type ExecutorConfig struct {
	MinConfidence      float64  `mapstructure:"min_confidence"`
	MaxDailyExecutions int      `mapstructure:"max_daily_executions"`
	CooldownSeconds    int      `mapstructure:"cooldown_seconds"`
	ReduceFraction     float64  `mapstructure:"reduce_fraction"`
	MaxRetries         int      `mapstructure:"max_retries"`
	RetryDelaySeconds  int      `mapstructure:"retry_delay_seconds"`
	AllowedSymbols     []string `mapstructure:"allowed_symbols"`
}

type QueueConfig struct {
	Capacity           int `mapstructure:"capacity"`
	MaxRetries         int `mapstructure:"max_retries"`
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds"`
}

type LearnerConfig struct {
	MinConfluence   int     `mapstructure:"min_confluence"`
	LookbackCandles int     `mapstructure:"lookback_candles"`
	ATRTakeProfit   float64 `mapstructure:"atr_tp_mult"`
	ATRStopLoss     float64 `mapstructure:"atr_sl_mult"`
}

type AdaptiveConfig struct {
	LookbackHours      int     `mapstructure:"lookback_hours"`
	LossRateThreshold  float64 `mapstructure:"loss_rate_threshold"`
	AvgRewardFloor     float64 `mapstructure:"avg_reward_floor"`
	ConcentrationShare float64 `mapstructure:"concentration_share"`
	MinSampleSize      int     `mapstructure:"min_sample_size"`
}

type ProfileConfig struct {
	Path string `mapstructure:"path"`
}

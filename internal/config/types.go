package config

// Config 是 rebal 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Backtest BacktestConfig `toml:"backtest"`
	Sweep    SweepConfig    `toml:"sweep"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	LogPath       string `toml:"log_path"`
	HTTPAddr      string `toml:"http_addr"`
	ServeHTTP     bool   `toml:"serve_http"`
	OutputDir     string `toml:"output_dir"`
	DBPath        string `toml:"db_path"`
	MaxConcurrent int    `toml:"max_concurrent"`
	RunTimeoutSec int    `toml:"run_timeout_seconds"`
}

// DataConfig 描述收益率序列的来源（外部协作方，已做过质量清洗）。
type DataConfig struct {
	ReturnsCSV string `toml:"returns_csv"`
	DateFormat string `toml:"date_format"`
}

// BacktestConfig 是所有回测共享的参数。
type BacktestConfig struct {
	WindowDays int     `toml:"window_days"` // 估计窗口长度（交易日）
	MaxWeight  float64 `toml:"max_weight"`  // 单资产仓位上限
	CostBps    float64 `toml:"cost_bps"`    // 每单位换手的交易成本（bp）
	MinAssets  int     `toml:"min_assets"`
}

// SweepConfig 枚举参数网格，展开为互相独立的回测任务。
type SweepConfig struct {
	Estimators  []string  `toml:"estimators"`
	Strategies  []string  `toml:"strategies"`
	Alphas      []float64 `toml:"alphas"`
	Policies    []string  `toml:"policies"`
	Bands       []float64 `toml:"bands"`
	Lambdas     []float64 `toml:"lambdas"`
	ProfilePath string    `toml:"profile_path"` // 可选：从 YAML profile 覆盖网格
}

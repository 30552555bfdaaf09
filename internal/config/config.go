package config

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if cfg.Sweep.ProfilePath != "" {
		profile, err := LoadSweepProfile(resolveRelative(abs, cfg.Sweep.ProfilePath))
		if err != nil {
			return nil, err
		}
		cfg.Sweep.merge(profile)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveRelative(cfgPath, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(cfgPath), p)
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9992"
	}
	if c.App.OutputDir == "" {
		c.App.OutputDir = "out"
	}
	if c.App.DBPath == "" {
		c.App.DBPath = filepath.Join(c.App.OutputDir, "rebal.db")
	}
	if c.App.MaxConcurrent <= 0 {
		c.App.MaxConcurrent = runtime.NumCPU()
	}
	if c.App.RunTimeoutSec <= 0 {
		c.App.RunTimeoutSec = 600
	}
	if c.Data.DateFormat == "" {
		c.Data.DateFormat = "2006-01-02"
	}
	if c.Backtest.WindowDays <= 0 {
		c.Backtest.WindowDays = 252
	}
	if c.Backtest.MaxWeight <= 0 {
		c.Backtest.MaxWeight = 0.2
	}
	if c.Backtest.MinAssets <= 0 {
		c.Backtest.MinAssets = 1
	}
	if len(c.Sweep.Estimators) == 0 {
		c.Sweep.Estimators = []string{"baseline"}
	}
	if len(c.Sweep.Strategies) == 0 {
		c.Sweep.Strategies = []string{"variance"}
	}
	if len(c.Sweep.Alphas) == 0 {
		c.Sweep.Alphas = []float64{0.95}
	}
	if len(c.Sweep.Policies) == 0 {
		c.Sweep.Policies = []string{"fixed"}
	}
	if len(c.Sweep.Bands) == 0 {
		c.Sweep.Bands = []float64{0.02}
	}
	if len(c.Sweep.Lambdas) == 0 {
		c.Sweep.Lambdas = []float64{0}
	}
}

func (s *SweepConfig) merge(p *SweepProfile) {
	if p == nil {
		return
	}
	if len(p.Estimators) > 0 {
		s.Estimators = p.Estimators
	}
	if len(p.Strategies) > 0 {
		s.Strategies = p.Strategies
	}
	if len(p.Alphas) > 0 {
		s.Alphas = p.Alphas
	}
	if len(p.Policies) > 0 {
		s.Policies = p.Policies
	}
	if len(p.Bands) > 0 {
		s.Bands = p.Bands
	}
	if len(p.Lambdas) > 0 {
		s.Lambdas = p.Lambdas
	}
}

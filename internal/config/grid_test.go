package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sweepConfig() *Config {
	cfg := &Config{}
	cfg.App.RunTimeoutSec = 60
	cfg.Backtest.WindowDays = 252
	cfg.Backtest.MaxWeight = 0.2
	cfg.Backtest.CostBps = 10
	cfg.Sweep = SweepConfig{
		Estimators: []string{"baseline", "huber"},
		Strategies: []string{"cvar", "variance"},
		Alphas:     []float64{0.9, 0.95},
		Policies:   []string{"fixed", "band"},
		Bands:      []float64{0.02},
		Lambdas:    []float64{0, 0.5},
	}
	return cfg
}

func TestExpandGridCollapsesInapplicableDims(t *testing.T) {
	specs, err := ExpandGrid(sweepConfig())
	require.NoError(t, err)

	// cvar: 2 est × 2 alpha × (fixed + band·1) × 2 lambda = 16
	// variance（alpha 折叠）: 2 est × (fixed + band·1) × 2 lambda = 8
	assert.Len(t, specs, 24)

	seen := make(map[RunKey]bool)
	for _, spec := range specs {
		assert.False(t, seen[spec.Key], "duplicate key %s", spec.Key)
		seen[spec.Key] = true
		if spec.Key.Strategy == StrategyVariance {
			assert.Equal(t, 0.0, spec.Key.Alpha)
		}
		if spec.Key.Policy == PolicyFixed {
			assert.Equal(t, 0.0, spec.Key.Band)
		}
		assert.Equal(t, 252, spec.WindowDays)
		assert.Equal(t, 60, spec.TimeoutSec)
	}
}

func TestExpandGridRejectsUnknownIdentifiers(t *testing.T) {
	t.Run("estimator", func(t *testing.T) {
		cfg := sweepConfig()
		cfg.Sweep.Estimators = []string{"baseline", "ledoit"}
		_, err := ExpandGrid(cfg)
		assert.ErrorContains(t, err, "unknown estimator")
	})
	t.Run("strategy", func(t *testing.T) {
		cfg := sweepConfig()
		cfg.Sweep.Strategies = []string{"sharpe"}
		_, err := ExpandGrid(cfg)
		assert.ErrorContains(t, err, "unknown strategy")
	})
	t.Run("policy", func(t *testing.T) {
		cfg := sweepConfig()
		cfg.Sweep.Policies = []string{"weekly"}
		_, err := ExpandGrid(cfg)
		assert.ErrorContains(t, err, "unknown rebalance policy")
	})
}

func TestParseAliases(t *testing.T) {
	e, err := ParseEstimator(" OAS ")
	require.NoError(t, err)
	assert.Equal(t, EstimatorBaseline, e)

	s, err := ParseStrategy("min_variance")
	require.NoError(t, err)
	assert.Equal(t, StrategyVariance, s)

	p, err := ParsePolicy("tolerance_band")
	require.NoError(t, err)
	assert.Equal(t, PolicyBand, p)
}

func TestRunKeyString(t *testing.T) {
	cvarKey := RunKey{Estimator: EstimatorHuber, Strategy: StrategyCVaR, Alpha: 0.95, Policy: PolicyBand, Band: 0.02, Lambda: 0.5}
	assert.Equal(t, "huber/cvar/a=0.95/band/b=0.02/l=0.5", cvarKey.String())

	varKey := RunKey{Estimator: EstimatorTyler, Strategy: StrategyVariance, Policy: PolicyFixed, Lambda: 2}
	assert.Equal(t, "tyler/variance/fixed/l=2", varKey.String())
}

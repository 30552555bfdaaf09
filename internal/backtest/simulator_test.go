package backtest

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"rebal/internal/config"
	"rebal/internal/series"
)

// makeSeries 生成连续自然日（跨月）的合成收益序列。
func makeSeries(t *testing.T, days, p int, fill func(day, asset int) float64) *series.Series {
	t.Helper()
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, days)
	rets := mat.NewDense(days, p, nil)
	assets := make([]string, p)
	for j := 0; j < p; j++ {
		assets[j] = string(rune('A' + j))
	}
	for i := 0; i < days; i++ {
		dates[i] = start.AddDate(0, 0, i)
		for j := 0; j < p; j++ {
			rets.Set(i, j, fill(i, j))
		}
	}
	s, err := series.New(dates, assets, rets)
	require.NoError(t, err)
	return s
}

func noisyFill(seed int64) func(int, int) float64 {
	rng := rand.New(rand.NewSource(seed))
	return func(int, int) float64 { return rng.NormFloat64() * 0.005 }
}

func baseSpec(window int) config.RunSpec {
	return config.RunSpec{
		Key: config.RunKey{
			Estimator: config.EstimatorBaseline,
			Strategy:  config.StrategyVariance,
			Policy:    config.PolicyFixed,
		},
		WindowDays: window,
		MaxWeight:  1,
	}
}

func TestRunRejectsShortSample(t *testing.T) {
	data := makeSeries(t, 30, 2, noisyFill(1))
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	_, err = sim.Run(context.Background(), baseSpec(60))
	require.Error(t, err)
	assert.ErrorIs(t, err, series.ErrData)
}

func TestUniformStartEarnsMarketReturn(t *testing.T) {
	// 两资产每天恒定 +0.1%：均匀初始持仓在首次调仓前每天都应
	// 吃到这 0.1%，财富逐日复利而不是停在 1。
	const c = 0.001
	data := makeSeries(t, 120, 2, func(int, int) float64 { return c })
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	run, err := sim.Run(context.Background(), baseSpec(40))
	require.NoError(t, err)
	require.Equal(t, RunStatusDone, run.Status)

	require.NotEmpty(t, run.Curve)
	assert.Equal(t, 1.0, run.Curve[0].Wealth)
	for i, pt := range run.Curve {
		assert.InDelta(t, c, pt.Return, 1e-15)
		if i > 0 {
			assert.Greater(t, pt.Wealth, run.Curve[i-1].Wealth)
		}
	}
}

func TestFirstRebalanceIgnoresTurnoverPenalty(t *testing.T) {
	// 资产 1 明显更波动，最小方差解必然偏离均匀权重。巨大的配置 λ
	// 在首次调仓时生效值为 0，不能把首仓锁在均匀初值上。
	rng := rand.New(rand.NewSource(3))
	data := makeSeries(t, 120, 2, func(_, asset int) float64 {
		v := rng.NormFloat64()
		if asset == 1 {
			return v * 0.012
		}
		return v * 0.004
	})
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	spec := baseSpec(40)
	spec.Key.Lambda = 1e9
	run, err := sim.Run(context.Background(), spec)
	require.NoError(t, err)

	var first *RebalanceEvent
	for i := range run.Events {
		if run.Events[i].Executed {
			first = &run.Events[i]
			break
		}
	}
	require.NotNil(t, first)
	var sum float64
	for _, w := range first.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, first.Target[0], first.Target[1], "低波动资产应获得超配")
	assert.InDelta(t, l1Distance([]float64{0.5, 0.5}, first.Target), first.Turnover, 1e-9)
	assert.Greater(t, first.Turnover, 0.05)
}

func TestTurnoverMeasuredAgainstStrategicWeights(t *testing.T) {
	// 固定策略下每次执行的换手都是相邻两个战略目标的 L1 距离，
	// 日内漂移后的持仓不参与换手计量。
	rng := rand.New(rand.NewSource(9))
	data := makeSeries(t, 150, 2, func(_, asset int) float64 {
		v := rng.NormFloat64()
		if asset == 1 {
			return v*0.010 + 0.0005
		}
		return v * 0.004
	})
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	run, err := sim.Run(context.Background(), baseSpec(40))
	require.NoError(t, err)

	var exec []RebalanceEvent
	for _, ev := range run.Events {
		if ev.Executed {
			exec = append(exec, ev)
		}
	}
	require.GreaterOrEqual(t, len(exec), 2)
	assert.InDelta(t, l1Distance([]float64{0.5, 0.5}, exec[0].Target), exec[0].Turnover, 1e-9)
	for k := 1; k < len(exec); k++ {
		assert.InDelta(t, l1Distance(exec[k-1].Target, exec[k].Target), exec[k].Turnover, 1e-9)
	}
}

func TestRebalanceCostHitsWealth(t *testing.T) {
	// 零收益序列 + 微小噪声做窗口，成本是财富唯一的变动来源。
	data := makeSeries(t, 120, 2, noisyFill(4))
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	spec := baseSpec(40)
	spec.CostBps = 50
	run, err := sim.Run(context.Background(), spec)
	require.NoError(t, err)

	var paid float64
	for _, ev := range run.Events {
		paid += ev.Cost
		if ev.Executed {
			assert.InDelta(t, spec.CostBps/1e4*ev.Turnover, ev.Cost, 1e-12)
		} else {
			assert.Equal(t, 0.0, ev.Cost)
		}
	}
	assert.Greater(t, paid, 0.0)
	assert.InDelta(t, paid, run.Stats.TotalCost, 1e-12)
}

func TestBandPolicySkipsSmallDeviations(t *testing.T) {
	// 两个资产收益完全相同：每期最优目标恰为均匀权重，与均匀的战略
	// 初始权重零距离。band 规则对首次调仓同样生效，因此整条回测
	// 一次都不应执行。
	data := makeSeries(t, 150, 2, func(day, asset int) float64 {
		rng := rand.New(rand.NewSource(int64(day)))
		return rng.NormFloat64() * 0.004
	})
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	spec := baseSpec(40)
	spec.Key.Policy = config.PolicyBand
	spec.Key.Band = 0.05
	run, err := sim.Run(context.Background(), spec)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(run.Events), 2)
	for _, ev := range run.Events {
		assert.False(t, ev.Executed)
		assert.Equal(t, 0.0, ev.Turnover)
	}
	assert.Equal(t, 0.0, run.Stats.TotalTurnover)
}

func TestBandPolicyTriggersOnStrategicDeviation(t *testing.T) {
	// 窄 band 下首个目标就超出均匀权重的容忍域，必须执行。
	rng := rand.New(rand.NewSource(11))
	data := makeSeries(t, 120, 2, func(_, asset int) float64 {
		v := rng.NormFloat64()
		if asset == 1 {
			return v * 0.012
		}
		return v * 0.004
	})
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	spec := baseSpec(40)
	spec.Key.Policy = config.PolicyBand
	spec.Key.Band = 0.01
	run, err := sim.Run(context.Background(), spec)
	require.NoError(t, err)

	executed := 0
	for _, ev := range run.Events {
		if ev.Executed {
			executed++
		}
	}
	assert.Greater(t, executed, 0)
}

func TestFixedPolicyAlwaysExecutes(t *testing.T) {
	data := makeSeries(t, 150, 2, noisyFill(6))
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	run, err := sim.Run(context.Background(), baseSpec(40))
	require.NoError(t, err)

	sawSolution := false
	for _, ev := range run.Events {
		if ev.Target != nil {
			sawSolution = true
			assert.True(t, ev.Executed)
		}
	}
	assert.True(t, sawSolution)
}

func TestInfeasibleCapNeverTrades(t *testing.T) {
	data := makeSeries(t, 120, 3, noisyFill(7))
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	spec := baseSpec(40)
	spec.MaxWeight = 0.2 // 3 × 0.2 < 1，每期求解都失败
	run, err := sim.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, RunStatusDone, run.Status)

	// 求解失败只是跳过调仓，初始均匀持仓继续随市场漂移生息。
	for _, ev := range run.Events {
		assert.False(t, ev.Executed)
		assert.Nil(t, ev.Target)
	}
	assert.Equal(t, 0, run.Stats.Rebalances)
	assert.Equal(t, 0.0, run.Stats.TotalCost)
	assert.Greater(t, run.Stats.FinalWealth, 0.0)
}

func TestDriftRenormalizes(t *testing.T) {
	sim := &Simulator{}
	data := makeSeries(t, 3, 2, func(day, asset int) float64 {
		if asset == 0 {
			return 0.10
		}
		return -0.05
	})
	sim.data = data

	st := &simState{weights: []float64{0.5, 0.5}}
	sim.drift(st, 0)
	// 0.5·1.1 与 0.5·0.95 归一化。
	assert.InDelta(t, 0.55/(0.55+0.475), st.weights[0], 1e-12)
	assert.InDelta(t, 0.475/(0.55+0.475), st.weights[1], 1e-12)
	assert.InDelta(t, 1.0, st.weights[0]+st.weights[1], 1e-12)
}

func TestRunCancellation(t *testing.T) {
	data := makeSeries(t, 200, 3, noisyFill(8))
	sim, err := NewSimulator(data)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Run(ctx, baseSpec(40))
	assert.ErrorIs(t, err, context.Canceled)
}

package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"rebal/internal/config"
	"rebal/internal/estimator"
	"rebal/internal/logger"
	"rebal/internal/optimizer"
	"rebal/internal/series"
)

// Simulator 将同一份收益序列推演为各参数组合的资金曲线。
// 数据只读，可被多个 goroutine 并发使用。
type Simulator struct {
	data *series.Series
}

func NewSimulator(data *series.Series) (*Simulator, error) {
	if data == nil {
		return nil, fmt.Errorf("series 不能为空")
	}
	return &Simulator{data: data}, nil
}

// simState 是逐日推演的可变状态。weights 是当前真实持仓，随每日收益
// 漂移；wStrategic 是最近一次执行调仓设定的战略权重，只在执行时更新，
// 作为换手基准与 band 触发的比较对象。两者从均匀权重出发，在两次调仓
// 之间因漂移而分离。rebalanced 显式标记首次调仓是否已执行，不从权重
// 取值反推。
type simState struct {
	value      float64
	peak       float64
	weights    []float64
	wStrategic []float64
	rebalanced bool
}

// Run 执行一条参数组合的完整回测。模拟从首个拥有完整估计窗口的
// 交易日开始，估计窗口为 [t−window, t)，不含决策日当天。
func (s *Simulator) Run(ctx context.Context, spec config.RunSpec) (Run, error) {
	n := s.data.Len()
	p := s.data.NumAssets()
	if n <= spec.WindowDays {
		return Run{}, fmt.Errorf("样本 %d 天不足以支撑 %d 天估计窗口: %w", n, spec.WindowDays, series.ErrData)
	}

	run := Run{
		ID:        uuid.NewString(),
		Key:       spec.Key,
		Label:     spec.Key.String(),
		Status:    RunStatusRunning,
		Spec:      spec,
		Assets:    s.data.Assets(),
		CreatedAt: time.Now(),
	}
	uniform := make([]float64, p)
	for i := range uniform {
		uniform[i] = 1 / float64(p)
	}
	st := &simState{
		value:      1,
		peak:       1,
		weights:    cloneWeights(uniform),
		wStrategic: uniform,
	}

	for t := spec.WindowDays; t < n; t++ {
		select {
		case <-ctx.Done():
			run.Status = RunStatusFailed
			run.Message = ctx.Err().Error()
			return run, ctx.Err()
		default:
		}

		if s.data.IsMonthEnd(t) {
			run.Events = append(run.Events, s.rebalance(spec, t, st))
		}

		entering := st.value
		ret := s.dayReturn(st.weights, t)
		st.value *= 1 + ret
		if st.value > st.peak {
			st.peak = st.value
		}
		drawdown := 0.0
		if st.peak > 0 {
			drawdown = (st.peak - st.value) / st.peak
		}
		run.Curve = append(run.Curve, CurvePoint{
			Date:     s.data.Date(t),
			Wealth:   entering,
			Return:   ret,
			Drawdown: drawdown,
		})

		s.drift(st, t)
	}

	run.Stats = summarize(run, st.value)
	run.Status = RunStatusDone
	run.CompletedAt = time.Now()
	logger.Infof("[backtest] run %s 完成: wealth=%.4f sharpe=%.2f maxDD=%.2f%% rebalances=%d",
		run.Label, run.Stats.FinalWealth, run.Stats.Sharpe, run.Stats.MaxDrawdownPct*100, run.Stats.Rebalances)
	return run, nil
}

// rebalance 处理一个调仓日：估计 → 求解 → 按策略决定是否执行。
// 估计或求解失败都不中断回测，当期继续持有原权重。
func (s *Simulator) rebalance(spec config.RunSpec, t int, st *simState) RebalanceEvent {
	ev := RebalanceEvent{Date: s.data.Date(t), Weights: cloneWeights(st.weights)}

	window, err := s.data.Window(t, spec.WindowDays)
	if err != nil {
		logger.Warnf("[backtest] %s %s 取估计窗口失败: %v", spec.Key, ev.Date.Format("2006-01-02"), err)
		return ev
	}
	mom, err := estimator.Estimate(window, spec.Key.Estimator)
	if err != nil {
		logger.Warnf("[backtest] %s %s 估计失败，保持现有持仓: %v", spec.Key, ev.Date.Format("2006-01-02"), err)
		return ev
	}
	ev.Shrinkage = mom.Shrinkage

	// 换手基准始终是战略权重。首次调仓从无信息量的均匀初值出发，
	// λ 生效值强制为 0，避免惩罚项把解锁死在均匀权重上。
	lambda := 0.0
	if st.rebalanced {
		lambda = spec.Key.Lambda
	}
	req := optimizer.Request{
		Strategy:  spec.Key.Strategy,
		Alpha:     spec.Key.Alpha,
		Prev:      cloneWeights(st.wStrategic),
		Lambda:    lambda,
		MaxWeight: spec.MaxWeight,
	}
	switch spec.Key.Strategy {
	case config.StrategyCVaR:
		req.Scenarios = window
	default:
		req.Cov = mom.Cov
	}
	target, obj := optimizer.Optimize(req)
	if math.IsInf(obj, 1) {
		// 求解失败已由 optimizer 记录 warning，本期按未触发处理。
		return ev
	}
	ev.Target = target
	ev.Objective = obj

	if spec.Key.Policy == config.PolicyBand &&
		maxAbsDiff(st.wStrategic, target) <= spec.Key.Band {
		return ev
	}

	to := l1Distance(st.wStrategic, target)
	cost := spec.CostBps / 1e4 * to
	st.value *= 1 - cost
	st.wStrategic = cloneWeights(target)
	st.weights = cloneWeights(target)
	st.rebalanced = true

	ev.Executed = true
	ev.Turnover = to
	ev.Cost = cost
	ev.Weights = cloneWeights(target)
	return ev
}

// dayReturn 计算当日组合收益 w·r_t。
func (s *Simulator) dayReturn(weights []float64, t int) float64 {
	row := s.data.Row(t)
	var ret float64
	for i, w := range weights {
		ret += w * row[i]
	}
	return ret
}

// drift 按当日各资产收益漂移持仓权重并归一化。组合总值已在主循环
// 更新，这里只维护权重比例。
func (s *Simulator) drift(st *simState, t int) {
	row := s.data.Row(t)
	var sum float64
	for i := range st.weights {
		st.weights[i] *= 1 + row[i]
		sum += st.weights[i]
	}
	if sum <= 0 {
		return
	}
	for i := range st.weights {
		st.weights[i] /= sum
	}
}

func cloneWeights(w []float64) []float64 {
	out := make([]float64, len(w))
	copy(out, w)
	return out
}

func l1Distance(a, b []float64) float64 {
	var d float64
	for i := range a {
		d += math.Abs(a[i] - b[i])
	}
	return d
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return m
}

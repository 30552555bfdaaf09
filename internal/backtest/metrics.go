package backtest

import (
	"math"
	"sort"
	"time"
)

const tradingDaysPerYear = 252

// summarize 从资金曲线与调仓记录汇总指标。实现端 VaR/CVaR 用
// 回测日收益的经验分布计算，置信水平取本条组合的 α（最小方差
// 组合无 α 时取 0.95）。
func summarize(run Run, finalValue float64) RunStats {
	stats := RunStats{
		FinalWealth: finalValue,
		TotalReturn: finalValue - 1,
		Days:        len(run.Curve),
		FinishedAt:  time.Now(),
	}
	for _, ev := range run.Events {
		if ev.Executed {
			stats.Rebalances++
			stats.TotalTurnover += ev.Turnover
			stats.TotalCost += ev.Cost
		} else {
			stats.Skipped++
		}
	}
	if len(run.Curve) == 0 {
		return stats
	}

	rets := make([]float64, len(run.Curve))
	var sum float64
	maxDD := 0.0
	for i, pt := range run.Curve {
		rets[i] = pt.Return
		sum += pt.Return
		if pt.Drawdown > maxDD {
			maxDD = pt.Drawdown
		}
	}
	stats.MaxDrawdownPct = maxDD

	nf := float64(len(rets))
	mean := sum / nf
	var variance float64
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	if len(rets) > 1 {
		variance /= nf - 1
	}
	vol := math.Sqrt(variance)

	stats.AnnualizedReturn = mean * tradingDaysPerYear
	stats.AnnualizedVol = vol * math.Sqrt(tradingDaysPerYear)
	if stats.AnnualizedVol > 0 {
		stats.Sharpe = stats.AnnualizedReturn / stats.AnnualizedVol
	}

	alpha := run.Key.Alpha
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.95
	}
	stats.RealizedVaR, stats.RealizedCVaR = tailRisk(rets, alpha)
	return stats
}

// tailRisk 返回日收益经验分布在置信水平 α 下的 VaR 与 CVaR，
// 约定损失为正数。
func tailRisk(rets []float64, alpha float64) (float64, float64) {
	sorted := make([]float64, len(rets))
	copy(sorted, rets)
	sort.Float64s(sorted)

	// 最差 (1−α) 分位之外的样本构成尾部。
	k := int(math.Ceil((1 - alpha) * float64(len(sorted))))
	if k < 1 {
		k = 1
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	varLoss := -sorted[k-1]
	var tailSum float64
	for i := 0; i < k; i++ {
		tailSum += -sorted[i]
	}
	return varLoss, tailSum / float64(k)
}

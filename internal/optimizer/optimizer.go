package optimizer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"rebal/internal/config"
	"rebal/internal/logger"
)

// Request 描述一次约束凸优化：目标族、置信水平（仅尾部风险）、
// 上期权重与换手惩罚、单资产上限，以及 Σ 或情景收益矩阵。
type Request struct {
	Strategy  config.Strategy
	Alpha     float64       // 尾部风险置信水平，仅 cvar 使用
	Scenarios mat.Matrix    // T×p 情景收益矩阵，仅 cvar 使用
	Cov       *mat.SymDense // p×p 协方差，仅 variance 使用
	Prev      []float64     // 上期权重；为空表示无换手惩罚基准
	Lambda    float64       // 换手惩罚系数 λ
	MaxWeight float64       // 单资产仓位上限
}

// Optimize 求解并返回 (权重, 目标值)。求解失败不抛错：返回全零权重
// 与 +Inf 目标值并记录 warning，由模拟器把它当作“本期无可用目标”。
// 瞬时的非最优状态不应中断整段多年回测。
func Optimize(req Request) ([]float64, float64) {
	switch req.Strategy {
	case config.StrategyCVaR:
		return solveCVaR(req)
	case config.StrategyVariance:
		return solveMinVariance(req)
	default:
		logger.Warnf("[optimizer] 未知目标族 %v，返回空目标", req.Strategy)
		return infeasible(req.dim())
	}
}

func (r Request) dim() int {
	if r.Cov != nil {
		p, _ := r.Cov.Dims()
		return p
	}
	if r.Scenarios != nil {
		_, p := r.Scenarios.Dims()
		return p
	}
	return 0
}

// infeasible 是求解失败的哨兵输出：全零权重 + 无穷目标值。
func infeasible(p int) ([]float64, float64) {
	return make([]float64, p), math.Inf(1)
}

// cleanWeights 把数值噪声压回可行域：截断到 [0, maxWeight]，再归一化。
func cleanWeights(w []float64, maxWeight float64) []float64 {
	out := make([]float64, len(w))
	var sum float64
	for i, v := range w {
		if v < 0 {
			v = 0
		}
		if v > maxWeight {
			v = maxWeight
		}
		out[i] = v
		sum += v
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// turnover 返回两个权重向量的 L1 距离。
func turnover(a, b []float64) float64 {
	var t float64
	for i := range a {
		t += math.Abs(a[i] - b[i])
	}
	return t
}

package optimizer

import (
	"math"

	"rebal/internal/logger"
)

const (
	minvarMaxSweeps  = 500
	minvarImproveEps = 1e-14
)

// solveMinVariance 求解带 L1 换手惩罚的最小方差组合：
//
//	min wᵗΣw + λ·‖w − prev‖₁  s.t. Σ w = 1, 0 ≤ w ≤ maxWeight
//
// 成对坐标下降：每步在 (i, j) 上做转移 w_i += δ, w_j −= δ，预算约束
// 自动保持。单步一维子问题是分段二次函数，极小值只可能落在区间端点、
// 绝对值折点或某段的驻点上，全部闭式枚举，因此 λ 足够大时能精确停在
// prev 而非近似逼近。
func solveMinVariance(req Request) ([]float64, float64) {
	p, _ := req.Cov.Dims()
	if p == 0 {
		return infeasible(0)
	}
	if req.MaxWeight*float64(p) < 1-1e-12 {
		logger.Warnf("[optimizer] variance: 上限 %.4f × %d 资产无法满足预算约束", req.MaxWeight, p)
		return infeasible(p)
	}
	penalize := req.Lambda > 0 && len(req.Prev) == p
	if p == 1 {
		w := []float64{1}
		return w, objective(req, w, penalize)
	}

	w := startPoint(req, penalize)

	// 梯度缓存 g = 2Σw，每次成对转移后增量更新。
	g := make([]float64, p)
	for i := 0; i < p; i++ {
		var s float64
		for j := 0; j < p; j++ {
			s += req.Cov.At(i, j) * w[j]
		}
		g[i] = 2 * s
	}

	sweeps := minvarMaxSweeps
	for sweep := 1; sweep <= minvarMaxSweeps; sweep++ {
		improved := false
		for i := 0; i < p; i++ {
			for j := i + 1; j < p; j++ {
				if delta := bestShift(req, w, g, i, j, penalize); delta != 0 {
					applyShift(req, w, g, i, j, delta)
					improved = true
				}
			}
		}
		if !improved {
			sweeps = sweep
			break
		}
		if sweep == minvarMaxSweeps {
			logger.Warnf("[optimizer] variance 坐标下降达到扫描上限 %d", minvarMaxSweeps)
		}
	}
	logger.Debugf("[optimizer] variance: p=%d sweeps=%d lambda=%.3f", p, sweeps, req.Lambda)
	return w, objective(req, w, penalize)
}

// startPoint 选可行初值：有上期权重则从它出发（缺口按比例补齐），
// 否则等权。
func startPoint(req Request, penalize bool) []float64 {
	p, _ := req.Cov.Dims()
	w := make([]float64, p)
	if len(req.Prev) == p {
		var sum float64
		for i, v := range req.Prev {
			if v < 0 {
				v = 0
			}
			if v > req.MaxWeight {
				v = req.MaxWeight
			}
			w[i] = v
			sum += v
		}
		if sum > 1e-12 {
			ok := true
			for i := range w {
				w[i] /= sum
				if w[i] > req.MaxWeight+1e-12 {
					ok = false
				}
			}
			if ok {
				return w
			}
		}
	}
	for i := range w {
		w[i] = 1 / float64(p)
	}
	return w
}

// bestShift 在 (i, j) 对上求最优转移量 δ。返回 0 表示无足量改进。
// 目标增量 Δf(δ) = a·δ² + b·δ + λ·(|w_i+δ−p_i| − |w_i−p_i| + |w_j−δ−p_j| − |w_j−p_j|)，
// a = Σii+Σjj−2Σij ≥ 0，b = g_i − g_j。
func bestShift(req Request, w, g []float64, i, j int, penalize bool) float64 {
	lo := math.Max(-w[i], w[j]-req.MaxWeight)
	hi := math.Min(req.MaxWeight-w[i], w[j])
	if hi-lo < 1e-15 {
		return 0
	}

	a := req.Cov.At(i, i) + req.Cov.At(j, j) - 2*req.Cov.At(i, j)
	b := g[i] - g[j]

	cand := make([]float64, 0, 8)
	cand = append(cand, lo, hi)
	if penalize {
		// 绝对值折点：w_i+δ = p_i 与 w_j−δ = p_j。
		if d := req.Prev[i] - w[i]; d > lo && d < hi {
			cand = append(cand, d)
		}
		if d := w[j] - req.Prev[j]; d > lo && d < hi {
			cand = append(cand, d)
		}
		if a > 0 {
			for _, s1 := range []float64{-1, 1} {
				for _, s2 := range []float64{-1, 1} {
					d := -(b + req.Lambda*s1 - req.Lambda*s2) / (2 * a)
					if d > lo && d < hi {
						cand = append(cand, d)
					}
				}
			}
		}
	} else if a > 0 {
		if d := -b / (2 * a); d > lo && d < hi {
			cand = append(cand, d)
		}
	}

	best := 0.0
	bestDf := 0.0
	for _, d := range cand {
		df := a*d*d + b*d
		if penalize {
			df += req.Lambda * (math.Abs(w[i]+d-req.Prev[i]) - math.Abs(w[i]-req.Prev[i]) +
				math.Abs(w[j]-d-req.Prev[j]) - math.Abs(w[j]-req.Prev[j]))
		}
		if df < bestDf {
			bestDf = df
			best = d
		}
	}
	if bestDf > -minvarImproveEps {
		return 0
	}
	return best
}

func applyShift(req Request, w, g []float64, i, j int, delta float64) {
	w[i] += delta
	w[j] -= delta
	p := len(w)
	for k := 0; k < p; k++ {
		g[k] += 2 * delta * (req.Cov.At(k, i) - req.Cov.At(k, j))
	}
}

func objective(req Request, w []float64, penalize bool) float64 {
	p := len(w)
	var quad float64
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			quad += w[i] * req.Cov.At(i, j) * w[j]
		}
	}
	if penalize {
		quad += req.Lambda * turnover(w, req.Prev)
	}
	return quad
}

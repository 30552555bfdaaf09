package optimizer

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"rebal/internal/logger"
)

const simplexTol = 1e-10

// solveCVaR 求解 Rockafellar–Uryasev 线性化的情景 CVaR 优化：
//
//	min ζ + 1/((1−α)T)·Σ_t u_t + λ·Σ_i z_i
//	s.t. u_t ≥ −(r_t·w) − ζ, u_t ≥ 0
//	     z_i ≥ |w_i − prev_i|
//	     Σ w = 1, 0 ≤ w ≤ maxWeight
//
// 变量排布为 [w(p), ζ, u(T), z(p)]，经 lp.Convert 转标准形后用单纯形求解。
func solveCVaR(req Request) ([]float64, float64) {
	t, p := req.Scenarios.Dims()
	if t == 0 || p == 0 {
		logger.Warnf("[optimizer] cvar: 空情景矩阵")
		return infeasible(p)
	}
	penalize := req.Lambda > 0 && len(req.Prev) == p

	nz := 0
	if penalize {
		nz = p
	}
	nVar := p + 1 + t + nz
	idxZeta := p
	idxU := p + 1
	idxZ := p + 1 + t

	c := make([]float64, nVar)
	c[idxZeta] = 1
	uCoef := 1 / ((1 - req.Alpha) * float64(t))
	for k := 0; k < t; k++ {
		c[idxU+k] = uCoef
	}
	for i := 0; i < nz; i++ {
		c[idxZ+i] = req.Lambda
	}

	// 不等式 G·x ≤ h：权重上下界、u 非负、情景约束、换手绝对值展开。
	nIneq := 2*p + 2*t + 2*nz
	g := mat.NewDense(nIneq, nVar, nil)
	h := make([]float64, nIneq)
	row := 0
	for i := 0; i < p; i++ { // −w_i ≤ 0
		g.Set(row, i, -1)
		row++
	}
	for i := 0; i < p; i++ { // w_i ≤ maxWeight
		g.Set(row, i, 1)
		h[row] = req.MaxWeight
		row++
	}
	for k := 0; k < t; k++ { // −u_t ≤ 0
		g.Set(row, idxU+k, -1)
		row++
	}
	for k := 0; k < t; k++ { // −r_t·w − ζ − u_t ≤ 0
		for i := 0; i < p; i++ {
			g.Set(row, i, -req.Scenarios.At(k, i))
		}
		g.Set(row, idxZeta, -1)
		g.Set(row, idxU+k, -1)
		row++
	}
	for i := 0; i < nz; i++ { // w_i − z_i ≤ prev_i
		g.Set(row, i, 1)
		g.Set(row, idxZ+i, -1)
		h[row] = req.Prev[i]
		row++
	}
	for i := 0; i < nz; i++ { // −w_i − z_i ≤ −prev_i
		g.Set(row, i, -1)
		g.Set(row, idxZ+i, -1)
		h[row] = -req.Prev[i]
		row++
	}

	// 等式 A·x = b：预算约束 Σ w = 1。
	a := mat.NewDense(1, nVar, nil)
	for i := 0; i < p; i++ {
		a.Set(0, i, 1)
	}
	b := []float64{1}

	cStd, aStd, bStd := lp.Convert(c, g, h, a, b)
	opt, xStd, err := lp.Simplex(cStd, aStd, bStd, simplexTol, nil)
	if err != nil {
		logger.Warnf("[optimizer] cvar 单纯形求解失败 (p=%d T=%d alpha=%.2f): %v", p, t, req.Alpha, err)
		return infeasible(p)
	}

	// Convert 把每个自由变量拆成 x⁺−x⁻，前 nVar 个是正部，随后 nVar 个是负部。
	w := make([]float64, p)
	for i := 0; i < p; i++ {
		w[i] = xStd[i] - xStd[nVar+i]
	}
	return cleanWeights(w, req.MaxWeight), opt
}

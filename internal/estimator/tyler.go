package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"rebal/internal/logger"
)

const (
	tylerTol     = 1e-6
	tylerMaxIter = 500
	tylerDelta   = 0.1 // 形状矩阵与尺度化单位阵的固定混合权重
)

// estimateTyler：中位数中心化 + Tyler 形状矩阵不动点 + 固定收缩。
func estimateTyler(window mat.Matrix) (Moments, error) {
	n, p := window.Dims()
	med := make([]float64, p)
	for j := 0; j < p; j++ {
		med[j] = median(column(window, j))
	}
	x := centered(window, med)

	var s0 mat.SymDense
	s0.SymOuterK(1/float64(n), x.T())
	var tr0 float64
	for i := 0; i < p; i++ {
		tr0 += s0.At(i, i)
	}
	if tr0 <= 0 {
		return Moments{}, fmt.Errorf("tyler: degenerate sample covariance: %w", ErrNumerical)
	}
	varScale := tr0 / float64(p) // 样本方差尺度（对角均值）

	// 初值：迹归一化到 p 的样本协方差。
	sigma := mat.NewSymDense(p, nil)
	sigma.ScaleSym(float64(p)/tr0, &s0)

	iters := tylerMaxIter
	converged := false
	for k := 1; k <= tylerMaxIter; k++ {
		next, rel, err := tylerStep(x, sigma)
		if err != nil {
			return Moments{}, err
		}
		sigma = next
		if rel < tylerTol {
			iters = k
			converged = true
			break
		}
	}
	if !converged {
		// 软失败：返回最后一次迭代值，继续回测。
		logger.Warnf("[estimator] tyler 不动点 %d 次迭代未收敛，使用最后一次迭代值", tylerMaxIter)
	}
	logger.Debugf("[estimator] tyler: p=%d T=%d iters=%d delta=%.2f", p, n, iters, tylerDelta)

	// 形状矩阵恢复到数据方差尺度，再向尺度化单位阵混合。
	cov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := (1 - tylerDelta) * sigma.At(i, j) * varScale
			if i == j {
				v += tylerDelta * varScale
			}
			cov.SetSym(i, j, v)
		}
	}
	return Moments{
		Mean:       mat.NewVecDense(p, med),
		Cov:        cov,
		Shrinkage:  tylerDelta,
		Iterations: iters,
	}, nil
}

// tylerStep 执行一次不动点迭代：Σ' = (p/n)·Σ_i x_i x_iᵗ/(x_iᵗ Σ⁻¹ x_i)，
// 再把迹重新归一化到 p。返回下一个迭代值与相对 Frobenius 变化量。
// Σ 奇异时加一小倍单位阵重试一次，仍奇异则上报数值错误。
func tylerStep(x *mat.Dense, sigma *mat.SymDense) (*mat.SymDense, float64, error) {
	n, p := x.Dims()
	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		reg := mat.NewSymDense(p, nil)
		reg.CopySym(sigma)
		for i := 0; i < p; i++ {
			reg.SetSym(i, i, reg.At(i, i)+1e-8)
		}
		logger.Warnf("[estimator] tyler: Σ 奇异，加 1e-8·I 正则后重试")
		if ok := chol.Factorize(reg); !ok {
			return nil, 0, fmt.Errorf("tyler: covariance singular after regularization: %w", ErrNumerical)
		}
	}

	next := mat.NewSymDense(p, nil)
	xi := mat.NewVecDense(p, nil)
	sol := mat.NewVecDense(p, nil)
	used := 0
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			xi.SetVec(j, x.At(i, j))
		}
		if err := chol.SolveVecTo(sol, xi); err != nil {
			return nil, 0, fmt.Errorf("tyler: solve failed: %w", ErrNumerical)
		}
		q := mat.Dot(xi, sol)
		if q < 1e-24 {
			// 全零样本不携带方向信息，跳过。
			continue
		}
		next.SymRankOne(next, 1/q, xi)
		used++
	}
	if used == 0 {
		return nil, 0, fmt.Errorf("tyler: no informative samples: %w", ErrNumerical)
	}
	next.ScaleSym(float64(p)/float64(n), next)

	var tr float64
	for i := 0; i < p; i++ {
		tr += next.At(i, i)
	}
	if tr <= 0 {
		return nil, 0, fmt.Errorf("tyler: nonpositive trace: %w", ErrNumerical)
	}
	next.ScaleSym(float64(p)/tr, next)

	// 相对变化量 ‖Σ'−Σ‖F/‖Σ‖F
	var diff2, base2 float64
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			d := next.At(i, j) - sigma.At(i, j)
			diff2 += d * d
			b := sigma.At(i, j)
			base2 += b * b
		}
	}
	rel := 0.0
	if base2 > 0 {
		rel = math.Sqrt(diff2) / math.Sqrt(base2)
	}
	return next, rel, nil
}

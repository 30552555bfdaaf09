package estimator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"rebal/internal/config"
)

// ErrNumerical 表示数值层面无法继续（样本不足、矩阵奇异且正则化无效）。
var ErrNumerical = errors.New("numerical failure")

// Moments 是一次估计的输出：均值向量 + 协方差矩阵。
// 每个调仓日基于当期窗口生成一次，生成后不再修改。
type Moments struct {
	Mean       *mat.VecDense
	Cov        *mat.SymDense
	Shrinkage  float64 // 收缩强度 ρ∈[0,1]（应用收缩时）
	Iterations int     // 迭代估计器实际使用的迭代次数
}

// Estimate 按指定策略从收益窗口估计均值与协方差。
// 窗口行数 T 不大于资产数 p 时无法收缩/求逆，按数值错误处理。
func Estimate(window mat.Matrix, policy config.Estimator) (Moments, error) {
	n, p := window.Dims()
	if p < 1 {
		return Moments{}, fmt.Errorf("window has no assets: %w", ErrNumerical)
	}
	if n <= p {
		return Moments{}, fmt.Errorf("window too short: T=%d <= p=%d: %w", n, p, ErrNumerical)
	}
	switch policy {
	case config.EstimatorBaseline:
		return estimateBaseline(window)
	case config.EstimatorHuber:
		return estimateHuber(window)
	case config.EstimatorTyler:
		return estimateTyler(window)
	default:
		return Moments{}, fmt.Errorf("unknown estimator policy %v", policy)
	}
}

// column 拷贝第 j 列。
func column(m mat.Matrix, j int) []float64 {
	n, _ := m.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = m.At(i, j)
	}
	return out
}

// centered 返回按 center 逐列平移后的副本。
func centered(m mat.Matrix, center []float64) *mat.Dense {
	n, p := m.Dims()
	out := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			out.Set(i, j, m.At(i, j)-center[j])
		}
	}
	return out
}

package estimator

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"rebal/internal/logger"
)

const (
	huberK       = 1.345 // 95% 高斯效率
	huberTol     = 1e-6
	huberMaxIter = 100
	madScale     = 1.4826 // MAD → σ 的一致性因子
)

// estimateHuber：逐资产 Huber 加权均值，再在残差上做 OAS。
func estimateHuber(window mat.Matrix) (Moments, error) {
	n, p := window.Dims()
	mean := make([]float64, p)
	maxIters := 0
	for j := 0; j < p; j++ {
		mu, iters := huberMean(column(window, j))
		mean[j] = mu
		if iters > maxIters {
			maxIters = iters
		}
	}
	resid := centered(window, mean)
	cov, rho := oasFromResiduals(resid)
	logger.Debugf("[estimator] huber: p=%d T=%d rho=%.4f iters=%d", p, n, rho, maxIters)
	return Moments{
		Mean:       mat.NewVecDense(p, mean),
		Cov:        cov,
		Shrinkage:  rho,
		Iterations: maxIters,
	}, nil
}

// huberMean 迭代重加权求稳健均值。σ 数值上为零时直接返回中位数。
func huberMean(x []float64) (float64, int) {
	med := median(x)
	sigma := madScale * mad(x, med)
	if sigma < 1e-12 {
		return med, 0
	}
	mu := med
	for iter := 1; iter <= huberMaxIter; iter++ {
		next, done := huberStep(x, mu, sigma)
		mu = next
		if done {
			return mu, iter
		}
	}
	logger.Warnf("[estimator] huber mean 达到迭代上限 %d，返回最后一次迭代值", huberMaxIter)
	return mu, huberMaxIter
}

// huberStep 是一次纯函数迭代：给定当前均值返回下一个均值与收敛标志。
func huberStep(x []float64, mu, sigma float64) (float64, bool) {
	var wsum, wxsum float64
	for _, v := range x {
		z := (v - mu) / sigma
		w := 1.0
		if az := math.Abs(z); az > huberK {
			w = huberK / az
		}
		wsum += w
		wxsum += w * v
	}
	if wsum == 0 {
		return mu, true
	}
	next := wxsum / wsum
	return next, math.Abs(next-mu) < huberTol
}

func median(x []float64) float64 {
	tmp := make([]float64, len(x))
	copy(tmp, x)
	sort.Float64s(tmp)
	n := len(tmp)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return tmp[n/2]
	}
	return 0.5 * (tmp[n/2-1] + tmp[n/2])
}

func mad(x []float64, med float64) float64 {
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - med)
	}
	return median(dev)
}

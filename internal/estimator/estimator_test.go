package estimator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"rebal/internal/config"
)

func randomWindow(t *testing.T, n, p int, seed int64) *mat.Dense {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n*p)
	for i := range data {
		data[i] = rng.NormFloat64() * 0.01
	}
	return mat.NewDense(n, p, data)
}

func TestEstimateRejectsShortWindow(t *testing.T) {
	window := randomWindow(t, 5, 5, 1)
	_, err := Estimate(window, config.EstimatorBaseline)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNumerical)
}

func TestBaselineOAS(t *testing.T) {
	window := randomWindow(t, 260, 8, 2)
	mom, err := Estimate(window, config.EstimatorBaseline)
	require.NoError(t, err)

	t.Run("shrinkage in unit interval", func(t *testing.T) {
		assert.GreaterOrEqual(t, mom.Shrinkage, 0.0)
		assert.LessOrEqual(t, mom.Shrinkage, 1.0)
	})

	t.Run("covariance symmetric and positive semidefinite", func(t *testing.T) {
		p, _ := mom.Cov.Dims()
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				assert.InDelta(t, mom.Cov.At(i, j), mom.Cov.At(j, i), 1e-12)
			}
		}
		var eig mat.EigenSym
		require.True(t, eig.Factorize(mom.Cov, false))
		for _, v := range eig.Values(nil) {
			assert.GreaterOrEqual(t, v, -1e-8)
		}
	})

	t.Run("mean matches sample mean", func(t *testing.T) {
		n, p := window.Dims()
		for j := 0; j < p; j++ {
			var sum float64
			for i := 0; i < n; i++ {
				sum += window.At(i, j)
			}
			assert.InDelta(t, sum/float64(n), mom.Mean.AtVec(j), 1e-12)
		}
	})
}

func TestOASDegenerateSample(t *testing.T) {
	// 所有残差相同：frob² == tr²/p²·p²，分母为 0，ρ 取 1，
	// 协方差退化为尺度化单位阵。
	n, p := 50, 4
	data := make([]float64, n*p)
	resid := mat.NewDense(n, p, data) // 全零残差
	cov, rho := oasFromResiduals(resid)
	assert.Equal(t, 1.0, rho)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			assert.Equal(t, 0.0, cov.At(i, j))
		}
	}
}

func TestHuberMeanResistsOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	x := make([]float64, 100)
	for i := range x {
		x[i] = 0.001 + rng.NormFloat64()*0.005
	}
	x[0] = 5.0 // 单点污染
	mu, iters := huberMean(x)
	assert.Less(t, math.Abs(mu-0.001), 0.01,
		"huber mean should stay near the bulk, got %v", mu)
	assert.Greater(t, iters, 0)

	var sum float64
	for _, v := range x {
		sum += v
	}
	sampleMean := sum / float64(len(x))
	assert.Less(t, math.Abs(mu-0.001), math.Abs(sampleMean-0.001))
}

func TestHuberMeanZeroMAD(t *testing.T) {
	x := []float64{0.02, 0.02, 0.02, 0.02, 7.0}
	mu, iters := huberMean(x)
	assert.Equal(t, 0.02, mu)
	assert.Equal(t, 0, iters)
}

func TestHuberStepConvergedFlag(t *testing.T) {
	x := []float64{0.01, 0.012, 0.008, 0.011}
	mu := median(x)
	next, done := huberStep(x, mu, 0.01)
	if done {
		assert.InDelta(t, mu, next, huberTol)
	}
}

func TestTylerShape(t *testing.T) {
	window := randomWindow(t, 300, 6, 3)
	mom, err := Estimate(window, config.EstimatorTyler)
	require.NoError(t, err)

	t.Run("fixed shrinkage toward scaled identity", func(t *testing.T) {
		assert.Equal(t, tylerDelta, mom.Shrinkage)
	})

	t.Run("mean is columnwise median", func(t *testing.T) {
		_, p := window.Dims()
		for j := 0; j < p; j++ {
			assert.InDelta(t, median(column(window, j)), mom.Mean.AtVec(j), 1e-12)
		}
	})

	t.Run("covariance positive definite", func(t *testing.T) {
		var chol mat.Cholesky
		assert.True(t, chol.Factorize(mom.Cov))
	})
}

func TestTylerStepTraceNormalized(t *testing.T) {
	window := randomWindow(t, 200, 5, 4)
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
	sigma := mat.NewSymDense(p, nil)
	sigma.ScaleSym(float64(p)/tr0, &s0)

	// 每次迭代输出的迹都应归一化到 p。
	for k := 0; k < 10; k++ {
		next, rel, err := tylerStep(x, sigma)
		require.NoError(t, err)
		var tr float64
		for i := 0; i < p; i++ {
			tr += next.At(i, i)
		}
		assert.InDelta(t, float64(p), tr, 1e-9)
		assert.GreaterOrEqual(t, rel, 0.0)
		sigma = next
	}
}

func TestTylerHeavyTailStability(t *testing.T) {
	// 重尾样本：少量行整体放大 50 倍。逐样本归一化让 Tyler 的
	// 相关结构对这种径向污染几乎免疫，样本协方差则会被带偏。
	window := randomWindow(t, 300, 4, 5)
	heavy := mat.DenseCopyOf(window)
	for i := 0; i < 6; i++ {
		for j := 0; j < 4; j++ {
			heavy.Set(i*50, j, heavy.At(i*50, j)*50)
		}
	}
	cleanTyler, err := Estimate(window, config.EstimatorTyler)
	require.NoError(t, err)
	dirtyTyler, err := Estimate(heavy, config.EstimatorTyler)
	require.NoError(t, err)
	cleanBase, err := Estimate(window, config.EstimatorBaseline)
	require.NoError(t, err)
	dirtyBase, err := Estimate(heavy, config.EstimatorBaseline)
	require.NoError(t, err)

	corrDiff := func(a, b *mat.SymDense) float64 {
		p, _ := a.Dims()
		var d float64
		for i := 0; i < p; i++ {
			for j := i + 1; j < p; j++ {
				ca := a.At(i, j) / math.Sqrt(a.At(i, i)*a.At(j, j))
				cb := b.At(i, j) / math.Sqrt(b.At(i, i)*b.At(j, j))
				d += math.Abs(ca - cb)
			}
		}
		return d
	}
	assert.Less(t, corrDiff(cleanTyler.Cov, dirtyTyler.Cov), corrDiff(cleanBase.Cov, dirtyBase.Cov))
}

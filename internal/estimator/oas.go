package estimator

import (
	"gonum.org/v1/gonum/mat"

	"rebal/internal/logger"
)

// estimateBaseline：样本均值 + OAS 收缩协方差。
func estimateBaseline(window mat.Matrix) (Moments, error) {
	n, p := window.Dims()
	mean := make([]float64, p)
	for j := 0; j < p; j++ {
		col := column(window, j)
		var sum float64
		for _, v := range col {
			sum += v
		}
		mean[j] = sum / float64(n)
	}
	resid := centered(window, mean)
	cov, rho := oasFromResiduals(resid)
	logger.Debugf("[estimator] baseline oas: p=%d T=%d rho=%.4f", p, n, rho)
	return Moments{
		Mean:      mat.NewVecDense(p, mean),
		Cov:       cov,
		Shrinkage: rho,
	}, nil
}

// oasFromResiduals 在已中心化的残差上计算 OAS 收缩协方差。
// 不做二次中心化，供 Huber/Tyler 路径直接复用。
func oasFromResiduals(resid *mat.Dense) (*mat.SymDense, float64) {
	n, p := resid.Dims()
	var s mat.SymDense
	s.SymOuterK(1/float64(n), resid.T())

	var tr, frob2 float64
	for i := 0; i < p; i++ {
		tr += s.At(i, i)
		for j := 0; j < p; j++ {
			v := s.At(i, j)
			frob2 += v * v
		}
	}
	pf := float64(p)
	nf := float64(n)
	num := (1-2/pf)*frob2 + tr*tr/pf
	den := (nf + 1 - 2/pf) * (frob2 - tr*tr/(pf*pf))
	rho := 1.0
	if den > 0 {
		rho = num / den
	}
	if rho < 0 {
		rho = 0
	}
	if rho > 1 {
		rho = 1
	}

	tau := tr / pf
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := (1 - rho) * s.At(i, j)
			if i == j {
				v += rho * tau
			}
			out.SetSym(i, j, v)
		}
	}
	return out, rho
}

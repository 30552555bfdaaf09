package series

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ErrData 表示数据量不足以支撑回测（致命，终止对应任务）。
var ErrData = errors.New("insufficient data")

// Series 是日期对齐的日收益率序列：T 行（交易日）× p 列（资产）。
// 载入后不再修改；窗口切片只返回只读视图。
type Series struct {
	dates  []time.Time
	assets []string
	rets   *mat.Dense
}

func New(dates []time.Time, assets []string, rets *mat.Dense) (*Series, error) {
	if rets == nil {
		return nil, fmt.Errorf("returns matrix cannot be nil")
	}
	r, c := rets.Dims()
	if r != len(dates) {
		return nil, fmt.Errorf("dates (%d) and return rows (%d) mismatch", len(dates), r)
	}
	if c != len(assets) {
		return nil, fmt.Errorf("assets (%d) and return columns (%d) mismatch", len(assets), c)
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("dates must be strictly increasing (row %d)", i)
		}
	}
	return &Series{dates: dates, assets: assets, rets: rets}, nil
}

func (s *Series) Len() int       { return len(s.dates) }
func (s *Series) NumAssets() int { return len(s.assets) }

func (s *Series) Assets() []string {
	out := make([]string, len(s.assets))
	copy(out, s.assets)
	return out
}

func (s *Series) Date(i int) time.Time { return s.dates[i] }

// Row 返回第 i 个交易日的各资产收益率（副本）。
func (s *Series) Row(i int) []float64 {
	out := make([]float64, s.NumAssets())
	mat.Row(out, i, s.rets)
	return out
}

// Window 返回以 end 为界（不含 end 当日）的 n 行尾随窗口视图。
// 决策日当天的收益不进入估计窗口，避免前视。
func (s *Series) Window(end, n int) (mat.Matrix, error) {
	if n <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}
	if end-n < 0 || end > s.Len() {
		return nil, fmt.Errorf("window [%d,%d) out of range: %w", end-n, end, ErrData)
	}
	return s.rets.Slice(end-n, end, 0, s.NumAssets()), nil
}

// IsMonthEnd 判断第 i 个交易日是否当月最后一个交易日。
func (s *Series) IsMonthEnd(i int) bool {
	if i < 0 || i >= len(s.dates) {
		return false
	}
	if i == len(s.dates)-1 {
		return true
	}
	y1, m1, _ := s.dates[i].Date()
	y2, m2, _ := s.dates[i+1].Date()
	return y1 != y2 || m1 != m2
}

// CheckUniverse 校验资产数量满足下限，不满足视为 DataError。
func (s *Series) CheckUniverse(minAssets int) error {
	if minAssets < 1 {
		minAssets = 1
	}
	if s.NumAssets() < minAssets {
		return fmt.Errorf("universe has %d assets, need at least %d: %w", s.NumAssets(), minAssets, ErrData)
	}
	return nil
}

package backtest

import (
	"encoding/json"
	"time"

	"rebal/internal/config"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RebalanceEvent 记录一个调仓日的完整决策：目标权重、是否执行、
// 换手与成本。未执行（带宽未触发或求解失败）时 Executed=false，
// Weights 为当日继续持有的权重。
type RebalanceEvent struct {
	Date      time.Time `json:"date"`
	Executed  bool      `json:"executed"`
	Turnover  float64   `json:"turnover"`
	Cost      float64   `json:"cost"`
	Objective float64   `json:"objective"`
	Shrinkage float64   `json:"shrinkage"`
	Target    []float64 `json:"target,omitempty"`
	Weights   []float64 `json:"weights"`
}

// CurvePoint 是资金曲线上的一天：入场财富、当日组合收益、回撤。
type CurvePoint struct {
	Date     time.Time `json:"date"`
	Wealth   float64   `json:"wealth"`
	Return   float64   `json:"return"`
	Drawdown float64   `json:"drawdown"`
}

// RunStats 汇总一次回测的收益与风控指标。
type RunStats struct {
	FinalWealth      float64   `json:"final_wealth"`
	TotalReturn      float64   `json:"total_return"`
	AnnualizedReturn float64   `json:"annualized_return"`
	AnnualizedVol    float64   `json:"annualized_vol"`
	Sharpe           float64   `json:"sharpe"`
	MaxDrawdownPct   float64   `json:"max_drawdown_pct"`
	RealizedVaR      float64   `json:"realized_var"`
	RealizedCVaR     float64   `json:"realized_cvar"`
	TotalTurnover    float64   `json:"total_turnover"`
	TotalCost        float64   `json:"total_cost"`
	Rebalances       int       `json:"rebalances"`
	Skipped          int       `json:"skipped"`
	Days             int       `json:"days"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Run 表示一条参数组合的完整回测结果。生成后不再修改，
// 扫描结束统一按 RunKey 汇入结果集。
type Run struct {
	ID          string           `json:"id"`
	Key         config.RunKey    `json:"key"`
	Label       string           `json:"label"`
	Status      string           `json:"status"`
	Spec        config.RunSpec   `json:"spec"`
	Assets      []string         `json:"assets"`
	Stats       RunStats         `json:"stats"`
	Events      []RebalanceEvent `json:"events"`
	Curve       []CurvePoint     `json:"curve"`
	Message     string           `json:"message"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}

// MarshalSpec 返回参数快照 JSON，便于重放。
func (r Run) MarshalSpec() ([]byte, error) {
	return json.Marshal(r.Spec)
}

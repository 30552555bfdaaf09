package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rebal/internal/backtest"
	"rebal/internal/config"
	"rebal/internal/logger"
)

// Writer 把扫描结果落成 CSV 与 HTML 报表。
type Writer struct {
	dir string
}

func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("report dir 不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{dir: dir}, nil
}

// WriteAll 输出汇总表、每条 run 的权重表与资金曲线，以及对比图。
func (w *Writer) WriteAll(runs map[config.RunKey]*backtest.Run) error {
	ordered := sortRuns(runs)
	if err := w.writeSummary(ordered); err != nil {
		return err
	}
	for _, run := range ordered {
		if run.Status != backtest.RunStatusDone {
			continue
		}
		if err := w.writeWeights(run); err != nil {
			return err
		}
		if err := w.writeCurve(run); err != nil {
			return err
		}
	}
	if err := w.renderCharts(ordered); err != nil {
		return err
	}
	logger.Infof("[report] %d 条结果已写入 %s", len(ordered), w.dir)
	return nil
}

// sortRuns 按夏普降序排列，失败的 run 排在末尾。
func sortRuns(runs map[config.RunKey]*backtest.Run) []*backtest.Run {
	out := make([]*backtest.Run, 0, len(runs))
	for _, r := range runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status == backtest.RunStatusDone
		}
		if out[i].Stats.Sharpe != out[j].Stats.Sharpe {
			return out[i].Stats.Sharpe > out[j].Stats.Sharpe
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func (w *Writer) writeSummary(runs []*backtest.Run) error {
	f, err := os.Create(filepath.Join(w.dir, "summary.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	cw := csv.NewWriter(f)
	header := []string{
		"run", "status", "estimator", "strategy", "alpha", "policy", "band", "lambda",
		"final_wealth", "ann_return", "ann_vol", "sharpe", "max_drawdown",
		"realized_var", "realized_cvar", "turnover", "cost", "rebalances", "skipped",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range runs {
		row := []string{
			r.Label, r.Status,
			r.Key.Estimator.String(), r.Key.Strategy.String(), ftoa(r.Key.Alpha),
			r.Key.Policy.String(), ftoa(r.Key.Band), ftoa(r.Key.Lambda),
			ftoa(r.Stats.FinalWealth), ftoa(r.Stats.AnnualizedReturn), ftoa(r.Stats.AnnualizedVol),
			ftoa(r.Stats.Sharpe), ftoa(r.Stats.MaxDrawdownPct),
			ftoa(r.Stats.RealizedVaR), ftoa(r.Stats.RealizedCVaR),
			ftoa(r.Stats.TotalTurnover), ftoa(r.Stats.TotalCost),
			strconv.Itoa(r.Stats.Rebalances), strconv.Itoa(r.Stats.Skipped),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeWeights 输出调仓日权重表：一行一个调仓日，最后两列是
// 是否执行与换手。
func (w *Writer) writeWeights(run *backtest.Run) error {
	f, err := os.Create(filepath.Join(w.dir, fileLabel(run.Label)+"_weights.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	cw := csv.NewWriter(f)
	header := append([]string{"date"}, run.Assets...)
	header = append(header, "executed", "turnover")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, ev := range run.Events {
		row := make([]string, 0, len(header))
		row = append(row, ev.Date.Format("2006-01-02"))
		for _, v := range ev.Weights {
			row = append(row, ftoa(v))
		}
		row = append(row, strconv.FormatBool(ev.Executed), ftoa(ev.Turnover))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *Writer) writeCurve(run *backtest.Run) error {
	f, err := os.Create(filepath.Join(w.dir, fileLabel(run.Label)+"_curve.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"date", "wealth", "return", "drawdown"}); err != nil {
		return err
	}
	for _, pt := range run.Curve {
		row := []string{
			pt.Date.Format("2006-01-02"),
			ftoa(pt.Wealth), ftoa(pt.Return), ftoa(pt.Drawdown),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fileLabel(label string) string {
	r := strings.NewReplacer("/", "_", "=", "", " ", "")
	return r.Replace(label)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

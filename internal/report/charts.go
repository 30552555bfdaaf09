package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"rebal/internal/backtest"
)

const (
	chartWidthPx  = 1400
	chartHeightPx = 520
	maxChartRuns  = 12 // 图上只画夏普最高的组合，避免图例爆炸
)

// renderCharts 生成财富曲线与回撤曲线的对比 HTML。
func (w *Writer) renderCharts(runs []*backtest.Run) error {
	done := make([]*backtest.Run, 0, len(runs))
	for _, r := range runs {
		if r.Status == backtest.RunStatusDone && len(r.Curve) > 0 {
			done = append(done, r)
		}
	}
	if len(done) == 0 {
		return nil
	}
	if len(done) > maxChartRuns {
		done = done[:maxChartRuns]
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildCurveChart("Wealth", done, func(pt backtest.CurvePoint) float64 { return pt.Wealth }),
		buildCurveChart("Drawdown", done, func(pt backtest.CurvePoint) float64 { return -pt.Drawdown }),
	)

	f, err := os.Create(filepath.Join(w.dir, "report.html"))
	if err != nil {
		return err
	}
	defer f.Close()
	return page.Render(f)
}

func buildCurveChart(title string, runs []*backtest.Run, pick func(backtest.CurvePoint) float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  fmt.Sprintf("%dpx", chartWidthPx),
			Height: fmt.Sprintf("%dpx", chartHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{Title: title, Left: "left"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)

	line.SetXAxis(buildDateAxis(runs[0].Curve))
	for _, r := range runs {
		data := make([]opts.LineData, len(r.Curve))
		for i, pt := range r.Curve {
			data[i] = opts.LineData{Value: pick(pt)}
		}
		line.AddSeries(r.Label, data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}

func buildDateAxis(curve []backtest.CurvePoint) []string {
	x := make([]string, len(curve))
	for i, pt := range curve {
		x[i] = pt.Date.Format("2006-01-02")
	}
	return x
}

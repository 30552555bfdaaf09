package app

import (
	"context"
	"fmt"
	"path/filepath"

	"rebal/internal/backtest"
	"rebal/internal/config"
	"rebal/internal/logger"
	"rebal/internal/report"
	"rebal/internal/series"
	"rebal/internal/store"
	resultshttp "rebal/internal/transport/http/results"
)

// App 负责应用级编排：加载数据→展开参数网格→并发回测→落库出报表，
// 可选启动结果查询 HTTP 服务。
type App struct {
	cfg     *config.Config
	data    *series.Series
	sim     *backtest.Simulator
	results *store.ResultStore
	writer  *report.Writer
	http    *resultshttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	data, err := series.LoadCSV(cfg.Data.ReturnsCSV, cfg.Data.DateFormat)
	if err != nil {
		return nil, fmt.Errorf("加载收益序列失败: %w", err)
	}
	if err := data.CheckUniverse(cfg.Backtest.MinAssets); err != nil {
		return nil, fmt.Errorf("资产数不满足要求: %w", err)
	}
	logger.Infof("✓ 收益序列加载成功（%d 天 × %d 资产，%s ~ %s）",
		data.Len(), data.NumAssets(),
		data.Date(0).Format("2006-01-02"), data.Date(data.Len()-1).Format("2006-01-02"))

	sim, err := backtest.NewSimulator(data)
	if err != nil {
		return nil, err
	}
	results, err := store.NewResultStore(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}
	writer, err := report.NewWriter(cfg.App.OutputDir)
	if err != nil {
		results.Close()
		return nil, fmt.Errorf("初始化报表目录失败: %w", err)
	}

	a := &App{
		cfg:     cfg,
		data:    data,
		sim:     sim,
		results: results,
		writer:  writer,
	}
	if cfg.App.ServeHTTP {
		srv, err := resultshttp.NewServer(resultshttp.Config{
			Addr:      cfg.App.HTTPAddr,
			Results:   results,
			ReportDir: cfg.App.OutputDir,
		})
		if err != nil {
			results.Close()
			return nil, err
		}
		a.http = srv
	}
	return a, nil
}

// Run 执行整个参数扫描。HTTP 服务启用时在扫描完成后阻塞服务请求，
// 直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	specs, err := config.ExpandGrid(a.cfg)
	if err != nil {
		return err
	}

	runs, err := backtest.RunSweep(ctx, a.sim, specs, a.cfg.App.MaxConcurrent)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if err := a.results.SaveRun(ctx, run); err != nil {
			logger.Warnf("[app] run %s 落库失败: %v", run.Label, err)
		}
	}
	if err := a.writer.WriteAll(runs); err != nil {
		return fmt.Errorf("写报表失败: %w", err)
	}
	logger.Infof("✓ 扫描完成，报表目录 %s", filepath.Clean(a.cfg.App.OutputDir))

	if a.http != nil {
		logger.Infof("[app] 结果服务监听 %s", a.cfg.App.HTTPAddr)
		return a.http.Start(ctx)
	}
	return nil
}

// Close 释放持久化资源。
func (a *App) Close() error {
	if a == nil || a.results == nil {
		return nil
	}
	return a.results.Close()
}

package backtest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rebal/internal/config"
	"rebal/internal/logger"
)

// RunSweep 并发执行整个参数网格。单条组合失败（超时、数据不足）
// 记为 failed run，不中断其他组合；只有外层 ctx 取消才整体退出。
// 返回按 RunKey 汇总的结果集。
func RunSweep(ctx context.Context, sim *Simulator, specs []config.RunSpec, maxConcurrent int) (map[config.RunKey]*Run, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	logger.Infof("[sweep] %d 条参数组合，并发 %d", len(specs), maxConcurrent)
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	slots := make([]*Run, len(specs))
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			runCtx := gctx
			cancel := context.CancelFunc(func() {})
			if spec.TimeoutSec > 0 {
				runCtx, cancel = context.WithTimeout(gctx, time.Duration(spec.TimeoutSec)*time.Second)
			}
			defer cancel()

			run, err := sim.Run(runCtx, spec)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warnf("[sweep] run %s 失败: %v", spec.Key, err)
				failed := Run{
					ID:        run.ID,
					Key:       spec.Key,
					Label:     spec.Key.String(),
					Status:    RunStatusFailed,
					Spec:      spec,
					Message:   err.Error(),
					CreatedAt: time.Now(),
				}
				if failed.ID == "" {
					failed.ID = uuid.NewString()
				}
				slots[i] = &failed
				return nil
			}
			slots[i] = &run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[config.RunKey]*Run, len(slots))
	for _, run := range slots {
		if run != nil {
			out[run.Key] = run
		}
	}
	logger.Infof("[sweep] 完成 %d/%d，耗时 %s", len(out), len(specs), time.Since(started).Round(time.Millisecond))
	return out, nil
}

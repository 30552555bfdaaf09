package config

import "fmt"

func validate(cfg *Config) error {
	if cfg.Data.ReturnsCSV == "" {
		return fmt.Errorf("data.returns_csv 不能为空")
	}
	if cfg.Backtest.MaxWeight > 1 {
		return fmt.Errorf("backtest.max_weight 不能超过 1（got %v)", cfg.Backtest.MaxWeight)
	}
	if cfg.Backtest.CostBps < 0 {
		return fmt.Errorf("backtest.cost_bps 不能为负")
	}
	for _, a := range cfg.Sweep.Alphas {
		if a <= 0 || a >= 1 {
			return fmt.Errorf("sweep.alphas 必须落在 (0,1)（got %v)", a)
		}
	}
	for _, b := range cfg.Sweep.Bands {
		if b < 0 {
			return fmt.Errorf("sweep.bands 不能为负（got %v)", b)
		}
	}
	for _, l := range cfg.Sweep.Lambdas {
		if l < 0 {
			return fmt.Errorf("sweep.lambdas 不能为负（got %v)", l)
		}
	}
	// 标识符合法性在展开时整体校验，这里先行一次，保证加载即失败。
	if _, err := ExpandGrid(cfg); err != nil {
		return err
	}
	return nil
}

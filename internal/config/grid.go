package config

import (
	"fmt"
	"strings"
)

// Estimator 是协方差/均值估计方式的封闭枚举。
type Estimator int

const (
	EstimatorBaseline Estimator = iota // 样本均值 + OAS 收缩
	EstimatorHuber                     // Huber M-估计均值 + OAS
	EstimatorTyler                     // Tyler 形状矩阵 + 固定收缩
)

func ParseEstimator(s string) (Estimator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "baseline", "oas":
		return EstimatorBaseline, nil
	case "huber":
		return EstimatorHuber, nil
	case "tyler":
		return EstimatorTyler, nil
	default:
		return 0, fmt.Errorf("unknown estimator %q (baseline|huber|tyler)", s)
	}
}

func (e Estimator) String() string {
	switch e {
	case EstimatorBaseline:
		return "baseline"
	case EstimatorHuber:
		return "huber"
	case EstimatorTyler:
		return "tyler"
	default:
		return fmt.Sprintf("estimator(%d)", int(e))
	}
}

// Strategy 是优化目标族的封闭枚举。
type Strategy int

const (
	StrategyCVaR     Strategy = iota // 尾部损失最小化（LP）
	StrategyVariance                 // 方差最小化（QP）
)

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cvar", "tail", "tail_risk":
		return StrategyCVaR, nil
	case "variance", "minvar", "min_variance":
		return StrategyVariance, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q (cvar|variance)", s)
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategyCVaR:
		return "cvar"
	case StrategyVariance:
		return "variance"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Policy 是调仓策略的封闭枚举。
type Policy int

const (
	PolicyFixed Policy = iota // 固定日程：每个调仓日必然执行
	PolicyBand                // 容忍带：偏离超过阈值才执行
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "schedule":
		return PolicyFixed, nil
	case "band", "tolerance", "tolerance_band":
		return PolicyBand, nil
	default:
		return 0, fmt.Errorf("unknown rebalance policy %q (fixed|band)", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyFixed:
		return "fixed"
	case PolicyBand:
		return "band"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// RunKey 唯一标识一条回测任务（参数元组），可作 map 键。
type RunKey struct {
	Estimator Estimator
	Strategy  Strategy
	Alpha     float64
	Policy    Policy
	Band      float64
	Lambda    float64
}

func (k RunKey) String() string {
	parts := []string{k.Estimator.String(), k.Strategy.String()}
	if k.Strategy == StrategyCVaR {
		parts = append(parts, fmt.Sprintf("a=%.3g", k.Alpha))
	}
	parts = append(parts, k.Policy.String())
	if k.Policy == PolicyBand {
		parts = append(parts, fmt.Sprintf("b=%.3g", k.Band))
	}
	parts = append(parts, fmt.Sprintf("l=%.3g", k.Lambda))
	return strings.Join(parts, "/")
}

// RunSpec 是单条回测任务的完整参数。
type RunSpec struct {
	Key        RunKey
	WindowDays int
	MaxWeight  float64
	CostBps    float64
	TimeoutSec int
}

// ExpandGrid 将 Sweep 配置展开为任务列表。未知标识符在此处整体拒绝，
// 不进入计算阶段。alpha 仅对 cvar 生效、band 仅对 band 策略生效，
// 不适用的维度折叠为零值，避免产生重复的 RunKey。
func ExpandGrid(cfg *Config) ([]RunSpec, error) {
	estimators := make([]Estimator, 0, len(cfg.Sweep.Estimators))
	for _, s := range cfg.Sweep.Estimators {
		e, err := ParseEstimator(s)
		if err != nil {
			return nil, err
		}
		estimators = append(estimators, e)
	}
	strategies := make([]Strategy, 0, len(cfg.Sweep.Strategies))
	for _, s := range cfg.Sweep.Strategies {
		st, err := ParseStrategy(s)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, st)
	}
	policies := make([]Policy, 0, len(cfg.Sweep.Policies))
	for _, s := range cfg.Sweep.Policies {
		p, err := ParsePolicy(s)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}

	seen := make(map[RunKey]bool)
	var specs []RunSpec
	add := func(key RunKey) {
		if seen[key] {
			return
		}
		seen[key] = true
		specs = append(specs, RunSpec{
			Key:        key,
			WindowDays: cfg.Backtest.WindowDays,
			MaxWeight:  cfg.Backtest.MaxWeight,
			CostBps:    cfg.Backtest.CostBps,
			TimeoutSec: cfg.App.RunTimeoutSec,
		})
	}
	for _, e := range estimators {
		for _, st := range strategies {
			alphas := cfg.Sweep.Alphas
			if st == StrategyVariance {
				alphas = []float64{0}
			}
			for _, a := range alphas {
				for _, p := range policies {
					bands := cfg.Sweep.Bands
					if p == PolicyFixed {
						bands = []float64{0}
					}
					for _, b := range bands {
						for _, l := range cfg.Sweep.Lambdas {
							add(RunKey{Estimator: e, Strategy: st, Alpha: a, Policy: p, Band: b, Lambda: l})
						}
					}
				}
			}
		}
	}
	return specs, nil
}

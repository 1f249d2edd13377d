package config

import (
	"fmt"
	"strings"
)

func validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	var problems []string
	if len(cfg.Monitor.Symbols) == 0 {
		problems = append(problems, "monitor.symbols must list at least one symbol")
	}
	if cfg.Executor.MinConfidence < 0 || cfg.Executor.MinConfidence > 1 {
		problems = append(problems, "executor.min_confidence must lie in [0,1]")
	}
	if cfg.Risk.LiqThresholdCross < cfg.Risk.LiqThresholdIsolated {
		problems = append(problems, "risk.liq_threshold_cross must be >= risk.liq_threshold_isolated (cross liquidation drains the whole account)")
	}
	if cfg.Adaptive.LossRateThreshold > 1 {
		problems = append(problems, "adaptive.loss_rate_threshold must lie in (0,1]")
	}
	if cfg.Profile.Path != "" && !strings.HasSuffix(cfg.Profile.Path, ".yaml") && !strings.HasSuffix(cfg.Profile.Path, ".yml") {
		problems = append(problems, "profile.path must point to a yaml file")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

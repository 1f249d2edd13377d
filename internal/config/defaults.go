package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9981"
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = 10
	}
	if c.Exchange.BreakerThreshold <= 0 {
		c.Exchange.BreakerThreshold = 5
	}
	if c.Exchange.BreakerTimeoutSeconds <= 0 {
		c.Exchange.BreakerTimeoutSeconds = 30
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/sentinel.db"
	}
	if c.Database.AuditPath == "" {
		c.Database.AuditPath = "data/audit.db"
	}
	if c.Monitor.IntervalSeconds <= 0 {
		c.Monitor.IntervalSeconds = 300
	}
	if c.Monitor.LookbackCandles <= 0 {
		c.Monitor.LookbackCandles = 200
	}
	if c.Monitor.KlineInterval == "" {
		c.Monitor.KlineInterval = "15m"
	}

	if c.Risk.MaxStopDistancePct <= 0 {
		c.Risk.MaxStopDistancePct = 3
	}
	if c.Risk.LiqThresholdIsolated <= 0 {
		c.Risk.LiqThresholdIsolated = 5
	}
	if c.Risk.LiqThresholdCross <= 0 {
		c.Risk.LiqThresholdCross = 8
	}
	if c.Risk.CrossMarginPenalty <= 0 {
		c.Risk.CrossMarginPenalty = 1
	}
	if c.Risk.CrossMarginMultiplier <= 0 {
		c.Risk.CrossMarginMultiplier = 1.5
	}
	if c.Risk.CrossBalanceRatioLimit <= 0 {
		c.Risk.CrossBalanceRatioLimit = 0.5
	}
	if c.Risk.FundingExtreme <= 0 {
		c.Risk.FundingExtreme = 0.0003
	}
	if c.Risk.ATRExpansionPct <= 0 {
		c.Risk.ATRExpansionPct = 5
	}
	if c.Risk.RSIOverbought <= 0 {
		c.Risk.RSIOverbought = 70
	}
	if c.Risk.RSIOversold <= 0 {
		c.Risk.RSIOversold = 30
	}
	if c.Risk.BalanceFallbackProfitPct <= 0 {
		c.Risk.BalanceFallbackProfitPct = 20
	}
	if c.Risk.BalanceFallbackRelief <= 0 {
		c.Risk.BalanceFallbackRelief = 0.5
	}
	if c.Risk.BalanceFallbackPenalty <= 0 {
		c.Risk.BalanceFallbackPenalty = 0.5
	}

	if c.Executor.MinConfidence <= 0 {
		c.Executor.MinConfidence = 0.75
	}
	if c.Executor.MaxDailyExecutions <= 0 {
		c.Executor.MaxDailyExecutions = 10
	}
	if c.Executor.CooldownSeconds <= 0 {
		c.Executor.CooldownSeconds = 900
	}
	if c.Executor.ReduceFraction <= 0 || c.Executor.ReduceFraction > 1 {
		c.Executor.ReduceFraction = 0.5
	}
	if c.Executor.MaxRetries <= 0 {
		c.Executor.MaxRetries = 3
	}
	if c.Executor.RetryDelaySeconds <= 0 {
		c.Executor.RetryDelaySeconds = 2
	}

	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 64
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.BackoffBaseSeconds <= 0 {
		c.Queue.BackoffBaseSeconds = 1
	}

	if c.Learner.MinConfluence <= 0 {
		c.Learner.MinConfluence = 5
	}
	if c.Learner.LookbackCandles <= 0 {
		c.Learner.LookbackCandles = 12
	}
	if c.Learner.ATRTakeProfit <= 0 {
		c.Learner.ATRTakeProfit = 2
	}
	if c.Learner.ATRStopLoss <= 0 {
		c.Learner.ATRStopLoss = 1
	}

	if c.Adaptive.LookbackHours <= 0 {
		c.Adaptive.LookbackHours = 24
	}
	if c.Adaptive.LossRateThreshold <= 0 {
		c.Adaptive.LossRateThreshold = 0.6
	}
	if c.Adaptive.AvgRewardFloor == 0 {
		c.Adaptive.AvgRewardFloor = -0.2
	}
	if c.Adaptive.ConcentrationShare <= 0 {
		c.Adaptive.ConcentrationShare = 0.5
	}
	if c.Adaptive.MinSampleSize <= 0 {
		c.Adaptive.MinSampleSize = 4
	}
}

package retry

import (
	"fmt"
	"strings"
	"time"
)

// Strategy names accepted by Config.
const (
	StrategyNone          = "none"
	StrategyFixedDelay    = "fixed-delay"
	StrategyFixedInterval = "fixed-interval"
	StrategyExponential   = "exponential"
	StrategyPerExecution  = "per-execution"
)

// Config is the declarative form of a retry strategy.
type Config struct {
	Strategy     string
	MaxAttempts  int
	Delay        time.Duration
	Interval     time.Duration
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxElapsed   time.Duration
	Delays       []time.Duration
}

// ProviderFromConfig turns cfg into a StrategyProvider. The "none" strategy
// yields a provider returning no strategy, so actions run once.
func ProviderFromConfig(cfg Config) (StrategyProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case StrategyNone, "":
		return Never, nil
	case StrategyFixedDelay:
		return NewFixedDelay(cfg.MaxAttempts, cfg.Delay)
	case StrategyFixedInterval:
		return NewFixedInterval(cfg.MaxAttempts, cfg.Interval)
	case StrategyExponential:
		return NewExponential(cfg.InitialDelay, cfg.MaxDelay, cfg.MaxAttempts, cfg.MaxElapsed)
	case StrategyPerExecution:
		return NewPerExecutionDelay(cfg.MaxAttempts, cfg.Delays...)
	default:
		return nil, fmt.Errorf("retry: unknown strategy %q", cfg.Strategy)
	}
}

package main

import (
	"github.com/charmbracelet/log"

	"github.com/yyri/wecube-platform/internal/config"
)

// logConfigWarnings reports risky but valid configuration at startup.
// P0 warnings can lose or misreport batches; P1 reduce visibility.
func logConfigWarnings(logger *log.Logger, cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		logger.Warn("WARNING [P0]: RECONCILE_ENABLED=false; batches interrupted by a crash stay open indefinitely")
	} else if cfg.ReconcileThreshold > 0 && cfg.ReconcileThreshold <= cfg.PluginCallTimeout {
		logger.Warn("WARNING [P0]: RECONCILE_THRESHOLD does not exceed PLUGIN_CALL_TIMEOUT; running batches may be marked abandoned",
			"threshold", cfg.ReconcileThreshold, "plugin_call_timeout", cfg.PluginCallTimeout)
	}

	if !cfg.MetricsEnabled {
		logger.Warn("WARNING [P1]: METRICS_ENABLED=false; plugin call latency and job outcomes are not exported")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		logger.Warn("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0; failing plugin instances are called on every job")
	}

	if cfg.BatchWorkers > 1 {
		logger.Info("INFO: BATCH_WORKERS>1; jobs of a batch run concurrently and plugin calls may interleave",
			"workers", cfg.BatchWorkers)
	}

	if cfg.ExpressionCacheSize == 0 {
		logger.Info("INFO: EXPRESSION_CACHE_SIZE=0; every entity parameter queries the expression service")
	}
}

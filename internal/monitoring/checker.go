package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/config"
)

// Checker runs periodic quality checks over the configured programs.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	threshold int
}

// NewChecker creates a background alert checker. threshold is the
// refinement quality threshold documents are held to.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, threshold int) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		threshold: threshold,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Strings("programs", c.cfg.Programs),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.CheckAll(ctx, log)
		}
	}
}

// CheckAll collects, evaluates and sends alerts for every configured
// program and returns the number of alerts sent.
func (c *Checker) CheckAll(ctx context.Context, log *zap.Logger) int {
	sent := 0
	for _, program := range c.cfg.Programs {
		snap, err := c.collector.Collect(ctx, program, c.threshold)
		if err != nil {
			log.Error("monitoring: failed to collect metrics", zap.String("program", program), zap.Error(err))
			continue
		}

		alerts := c.alerter.Evaluate(snap)
		if len(alerts) == 0 {
			log.Debug("monitoring: no alerts triggered", zap.String("program", program))
			continue
		}

		n := c.alerter.SendAlerts(ctx, alerts)
		log.Info("monitoring: alert check complete",
			zap.String("program", program),
			zap.Int("alerts_triggered", len(alerts)),
			zap.Int("alerts_sent", n),
		)
		sent += n
	}
	return sent
}

// Package retention runs the stale-draft sweeper: a cron schedule that
// discards relay drafts nobody has touched for longer than the configured
// idle period, as if the composer had abandoned them.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"draftwire/pkg/config"
	"draftwire/pkg/logger"
	"draftwire/pkg/relay"
)

const defaultMaxIdle = 15 * time.Minute

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig, rl *relay.Relay) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	maxIdle := cfg.MaxDraftIdle.Duration()
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}

	// map empty cron to every five minutes
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "*/5 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_draft_idle", maxIdle)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, maxIdle, rl)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until then.
func runScheduler(ctx context.Context, cronExpr string, maxIdle time.Duration, rl *relay.Relay) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if n := rl.DiscardStale(maxIdle); n > 0 {
				logger.Info("retention_swept", "drafts", n)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

package main

import (
	"context"
	"time"

	"RxGate/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// conversationMaxIdle is how long a conversation may sit without a new
// turn before the purge job removes it. Matches the Redis TTL so the two
// mechanisms back each other up.
const conversationMaxIdle = 24 * time.Hour

// StartMaintenanceCron starts the background maintenance jobs: hourly purge
// of conversations idle past conversationMaxIdle, and a periodic dependency
// health check that flags open circuit breakers.
func StartMaintenanceCron(workflow *biz.WorkflowUsecase, safety *biz.SafetyUsecase, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds())

	// top of every hour
	_, err := c.AddFunc("0 0 * * * *", func() {
		helper.Info("Starting stale conversation purge...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		purged, err := workflow.PurgeStale(ctx, conversationMaxIdle)
		if err != nil {
			helper.Errorw("msg", "stale conversation purge failed", "error", err)
			return
		}
		helper.Infow("msg", "stale conversation purge completed", "purged", purged)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register conversation purge cron job", "error", err)
		return nil
	}

	// every 5 minutes; quiet unless a breaker is open
	_, err = c.AddFunc("0 */5 * * * *", func() {
		ehr := safety.EHRAvailable()
		drugKB := safety.DrugKBAvailable()
		if ehr && drugKB {
			return
		}
		helper.Warnw("msg", "dependency degraded, safety checks failing closed",
			"ehr_available", ehr,
			"drug_kb_available", drugKB,
		)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register dependency health cron job", "error", err)
	}

	c.Start()
	helper.Info("Maintenance cron started: hourly purge, 5m dependency health check")

	return c
}

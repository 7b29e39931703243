package archive

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// startSweeper schedules the retention purge job.
func (a *Archive) startSweeper(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, a.sweep); err != nil {
		return err
	}
	c.Start()

	a.cron = c
	a.log.Info("retention sweep scheduled", "spec", spec, "retention", a.retention)
	return nil
}

// sweep deletes reports older than the retention window.
func (a *Archive) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-a.retention)
	n, err := a.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		a.log.Warn("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		a.log.Info("retention sweep removed reports", "count", n, "cutoff", cutoff)
	}
}

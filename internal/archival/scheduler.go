// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archival

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/aivorynet/agent-go/internal/logging"
)

// Scheduler runs a single cron job that flushes a Spool on the
// configured schedule, adapted from the teacher's per-backup-entry cron
// wiring down to the archival path's one recurring job.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	spool  *Spool
}

// NewScheduler registers a single cron entry at spec that calls
// spool.Flush on each tick. The caller is responsible for only
// constructing a Scheduler when archival is enabled.
func NewScheduler(spec string, spool *Spool, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		logger: logging.Component(logger, "archival_scheduler"),
		spool:  spool,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	if _, err := c.AddFunc(spec, s.runFlush); err != nil {
		return nil, fmt.Errorf("archival: scheduling flush %q: %w", spec, err)
	}

	s.cron = c
	return s, nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("archival scheduler started")
	s.cron.Start()
}

// Stop stops the scheduler and waits for the stop context, or ctx's
// deadline, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("archival scheduler stopping")
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Info("archival scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("archival scheduler stop timed out")
	}
}

func (s *Scheduler) runFlush() {
	ctx := context.Background()
	if err := s.spool.Flush(ctx); err != nil {
		s.logger.Warn("archival flush failed", "error", err)
	}
}

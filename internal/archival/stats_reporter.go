// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archival

import (
	"context"
	"log/slog"
	"time"

	"github.com/aivorynet/agent-go/internal/logging"
)

// statsInterval matches the teacher's daemon stats cadence.
const statsInterval = 5 * time.Minute

// StatsSource supplies the counters StatsReporter logs each tick;
// satisfied by the agent's transport client, queue, and spool.
type StatsSource interface {
	ConnectionState() string
	QueueLength() int
	QueueDropped() uint64
	SpoolLength() int
	SpoolDropped() uint64
}

// StatsReporter periodically logs the agent's internal health, the
// debug-logging counterpart to the teacher's per-backup-job reporter,
// generalized to the crash agent's transport/queue/spool state.
type StatsReporter struct {
	source StatsSource
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStatsReporter constructs a StatsReporter over source.
func NewStatsReporter(source StatsSource, logger *slog.Logger) *StatsReporter {
	return &StatsReporter{
		source: source,
		logger: logging.Component(logger, "stats_reporter"),
		done:   make(chan struct{}),
	}
}

// Start begins the periodic reporting goroutine.
func (sr *StatsReporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sr.cancel = cancel

	go func() {
		defer close(sr.done)
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sr.report()
			case <-ctx.Done():
				return
			}
		}
	}()

	sr.logger.Info("stats reporter started", "interval", statsInterval)
}

// Stop halts reporting and waits for the goroutine to exit.
func (sr *StatsReporter) Stop() {
	if sr.cancel != nil {
		sr.cancel()
	}
	<-sr.done
	sr.logger.Info("stats reporter stopped")
}

func (sr *StatsReporter) report() {
	sr.logger.Info("agent stats",
		"connection_state", sr.source.ConnectionState(),
		"queue_length", sr.source.QueueLength(),
		"queue_dropped", sr.source.QueueDropped(),
		"spool_length", sr.source.SpoolLength(),
		"spool_dropped", sr.source.SpoolDropped(),
	)
}

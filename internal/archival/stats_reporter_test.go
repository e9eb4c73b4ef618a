// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archival

import (
	"log/slog"
	"testing"
	"time"
)

type fakeStatsSource struct{}

func (fakeStatsSource) ConnectionState() string { return "authenticated" }
func (fakeStatsSource) QueueLength() int        { return 3 }
func (fakeStatsSource) QueueDropped() uint64    { return 1 }
func (fakeStatsSource) SpoolLength() int        { return 0 }
func (fakeStatsSource) SpoolDropped() uint64    { return 0 }

func TestStatsReporterStartStop(t *testing.T) {
	sr := NewStatsReporter(fakeStatsSource{}, slog.Default())
	sr.Start()
	time.Sleep(5 * time.Millisecond)
	sr.Stop()
}

func TestStatsReporterReportDoesNotPanic(t *testing.T) {
	sr := NewStatsReporter(fakeStatsSource{}, slog.Default())
	sr.report()
}

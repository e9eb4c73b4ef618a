// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package hostmonitor periodically samples host resource usage and
// makes the latest snapshot available for enrichment of outbound
// exception reports, per SPEC_FULL.md's "Host resource enrichment"
// supplemented feature. It never alters any field named in spec.md
// §6's wire grammar; its output is attached only under the free-form
// context object.
package hostmonitor

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aivorynet/agent-go/internal/logging"
)

// sampleInterval matches the teacher's system_monitor cadence.
const sampleInterval = 15 * time.Second

// Snapshot holds one round of collected host resource metrics.
type Snapshot struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
	LoadAverage      float64 `json:"load_average"`
}

// Monitor collects Snapshots on a fixed interval until stopped.
type Monitor struct {
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu   sync.RWMutex
	last Snapshot
}

// New constructs a Monitor. Call Start to begin sampling.
func New(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger: logging.Component(logger, "hostmonitor"),
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic metric collection in its own goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts collection and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Latest returns the most recently collected Snapshot.
func (m *Monitor) Latest() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// ContextJSON renders the latest Snapshot as a raw JSON object under
// the key "host", suitable for merging into an exception record's
// context field.
func (m *Monitor) ContextJSON() string {
	snap := m.Latest()
	body, err := json.Marshal(map[string]Snapshot{"host": snap})
	if err != nil {
		return "{}"
	}
	return string(body)
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	m.collect()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	snap := Snapshot{}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		snap.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage("/"); err == nil {
		snap.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		snap.LoadAverage = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
}

// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// LevelMetrics holds the per-level table counts and sizes.
type LevelMetrics struct {
	// NumFiles is the number of tables in the level.
	NumFiles int64
	// Size is the total size of the level's tables, in bytes.
	Size uint64
}

// Metrics is a point-in-time description of the DB's internal state.
type Metrics struct {
	Levels [numLevels]LevelMetrics

	MemTable struct {
		// Size is the number of arena bytes in use by the mutable and
		// immutable memtables.
		Size uint64
	}

	WAL struct {
		// FileNum is the file number of the current log file.
		FileNum uint64
		// Size is the number of bytes written to the current log file.
		Size int64
	}

	// Flushes is the number of memtable flushes performed over the DB's
	// lifetime, and Compactions the number of table compactions, trivial
	// moves included.
	Flushes     int64
	Compactions int64

	// Snapshots is the number of currently open snapshots.
	Snapshots int

	// LastSequence is the last published sequence number.
	LastSequence uint64
}

// TotalSize returns the total size of all tables across all levels.
func (m *Metrics) TotalSize() uint64 {
	var size uint64
	for level := range m.Levels {
		size += m.Levels[level].Size
	}
	return size
}

// Metrics returns a snapshot of the DB's internal metrics.
func (d *DB) Metrics() Metrics {
	var m Metrics
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.mu.versions.currentVersion()
	for level, files := range current.files {
		m.Levels[level].NumFiles = int64(len(files))
		m.Levels[level].Size = totalSize(files)
	}
	if d.mu.mem != nil {
		m.MemTable.Size += d.mu.mem.approximateMemoryUsage()
	}
	if d.mu.imm != nil {
		m.MemTable.Size += d.mu.imm.approximateMemoryUsage()
	}
	if d.log != nil {
		m.WAL.FileNum = d.logNumber
		m.WAL.Size = d.log.Size()
	}
	m.Flushes = d.mu.compact.flushCount
	m.Compactions = d.mu.compact.compactCount
	for s := d.mu.snapshots.root.next; s != &d.mu.snapshots.root; s = s.next {
		m.Snapshots++
	}
	m.LastSequence = atomic.LoadUint64(&d.mu.versions.lastSequence)
	return m
}

var (
	descLevelNumFiles = prometheus.NewDesc(
		"talus_level_num_files",
		"Number of tables in the level.",
		[]string{"level"}, nil,
	)
	descLevelSize = prometheus.NewDesc(
		"talus_level_size_bytes",
		"Total size of the level's tables in bytes.",
		[]string{"level"}, nil,
	)
	descMemTableSize = prometheus.NewDesc(
		"talus_memtable_size_bytes",
		"Arena bytes in use by the mutable and immutable memtables.",
		nil, nil,
	)
	descWALSize = prometheus.NewDesc(
		"talus_wal_size_bytes",
		"Bytes written to the current log file.",
		nil, nil,
	)
	descFlushes = prometheus.NewDesc(
		"talus_flushes_total",
		"Number of memtable flushes performed.",
		nil, nil,
	)
	descCompactions = prometheus.NewDesc(
		"talus_compactions_total",
		"Number of table compactions performed.",
		nil, nil,
	)
	descSnapshots = prometheus.NewDesc(
		"talus_open_snapshots",
		"Number of currently open snapshots.",
		nil, nil,
	)
	descLastSequence = prometheus.NewDesc(
		"talus_last_sequence",
		"Last published sequence number.",
		nil, nil,
	)
)

// MetricsCollector exposes a DB's metrics to prometheus. Register it with a
// prometheus.Registerer to scrape the store.
type MetricsCollector struct {
	d *DB
}

var _ prometheus.Collector = (*MetricsCollector)(nil)

// NewMetricsCollector returns a collector reading from the given DB.
func NewMetricsCollector(d *DB) *MetricsCollector {
	return &MetricsCollector{d: d}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descLevelNumFiles
	ch <- descLevelSize
	ch <- descMemTableSize
	ch <- descWALSize
	ch <- descFlushes
	ch <- descCompactions
	ch <- descSnapshots
	ch <- descLastSequence
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.d.Metrics()
	for level := range m.Levels {
		l := strconv.Itoa(level)
		ch <- prometheus.MustNewConstMetric(
			descLevelNumFiles, prometheus.GaugeValue, float64(m.Levels[level].NumFiles), l)
		ch <- prometheus.MustNewConstMetric(
			descLevelSize, prometheus.GaugeValue, float64(m.Levels[level].Size), l)
	}
	ch <- prometheus.MustNewConstMetric(
		descMemTableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(
		descWALSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(
		descFlushes, prometheus.CounterValue, float64(m.Flushes))
	ch <- prometheus.MustNewConstMetric(
		descCompactions, prometheus.CounterValue, float64(m.Compactions))
	ch <- prometheus.MustNewConstMetric(
		descSnapshots, prometheus.GaugeValue, float64(m.Snapshots))
	ch <- prometheus.MustNewConstMetric(
		descLastSequence, prometheus.GaugeValue, float64(m.LastSequence))
}

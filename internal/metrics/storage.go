package metrics

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleSource is a store backed by pebble.
type PebbleSource interface {
	Metrics() *pebble.Metrics
}

// StorageCollector exports a subset of pebble's internal metrics.
type StorageCollector struct {
	src PebbleSource

	compactions   *prometheus.Desc
	compactDebt   *prometheus.Desc
	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc
	walFiles      *prometheus.Desc
	walSize       *prometheus.Desc
	walBytesIn    *prometheus.Desc
	walWritten    *prometheus.Desc
}

// NewStorageCollector creates a collector reading src on every scrape.
func NewStorageCollector(src PebbleSource) *StorageCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pebble", name), help, nil, nil)
	}
	return &StorageCollector{
		src:           src,
		compactions:   desc("compactions_total", "Compactions performed."),
		compactDebt:   desc("compaction_debt_bytes", "Estimated bytes still to compact."),
		memtableSize:  desc("memtable_size_bytes", "Bytes allocated by memtables."),
		memtableCount: desc("memtables", "Current memtable count."),
		walFiles:      desc("wal_files", "Live WAL files."),
		walSize:       desc("wal_size_bytes", "Size of live WAL data."),
		walBytesIn:    desc("wal_bytes_in_total", "Logical bytes written to the WAL."),
		walWritten:    desc("wal_bytes_written_total", "Physical bytes written to the WAL."),
	}
}

// Describe implements prometheus.Collector.
func (c *StorageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactions
	ch <- c.compactDebt
	ch <- c.memtableSize
	ch <- c.memtableCount
	ch <- c.walFiles
	ch <- c.walSize
	ch <- c.walBytesIn
	ch <- c.walWritten
}

// Collect implements prometheus.Collector.
func (c *StorageCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()

	ch <- prometheus.MustNewConstMetric(c.compactions, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(c.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.walBytesIn, prometheus.CounterValue, float64(m.WAL.BytesIn))
	ch <- prometheus.MustNewConstMetric(c.walWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))
}

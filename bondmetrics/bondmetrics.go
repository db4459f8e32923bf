// Package bondmetrics exposes the bonding core's live state as prometheus
// metrics through a collector that reads bondmgr.Manager snapshots.
package bondmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/encodeous/nybond/bondmgr"
)

// Collector reports every bond a Manager owns as a set of prometheus
// gauges, keyed by peer address and policy alias.
type Collector struct {
	mgr *bondmgr.Manager

	numBonded *prometheus.Desc
	numAlive  *prometheus.Desc
	numTotal  *prometheus.Desc
	failovers *prometheus.Desc
	slotAlloc *prometheus.Desc
	overhead  *prometheus.Desc
}

// NewCollector builds a Collector over mgr. Register it with a
// prometheus.Registerer to expose /metrics.
func NewCollector(mgr *bondmgr.Manager) *Collector {
	return &Collector{
		mgr: mgr,
		numBonded: prometheus.NewDesc(
			"bond_paths_bonded", "Number of paths currently in the bonded set.",
			[]string{"alias", "peer"}, nil),
		numAlive: prometheus.NewDesc(
			"bond_paths_alive", "Number of paths currently considered alive.",
			[]string{"alias", "peer"}, nil),
		numTotal: prometheus.NewDesc(
			"bond_paths_total", "Number of paths currently occupied.",
			[]string{"alias", "peer"}, nil),
		failovers: prometheus.NewDesc(
			"bond_active_backup_changes_total", "Cumulative active-backup path switches.",
			[]string{"alias", "peer"}, nil),
		slotAlloc: prometheus.NewDesc(
			"bond_slot_allocation", "Per-slot proportional allocation, 0-255.",
			[]string{"alias", "peer", "slot"}, nil),
		overhead: prometheus.NewDesc(
			"bond_overhead_bytes_total", "Control-plane bytes sent (QoS/negotiation) since the bond's last status dump.",
			[]string{"alias", "peer"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.numBonded
	ch <- c.numAlive
	ch <- c.numTotal
	ch <- c.failovers
	ch <- c.slotAlloc
	ch <- c.overhead
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.mgr.Snapshot() {
		labels := []string{snap.Alias, snap.PeerAddress}
		ch <- prometheus.MustNewConstMetric(c.numBonded, prometheus.GaugeValue, float64(snap.NumBonded), labels...)
		ch <- prometheus.MustNewConstMetric(c.numAlive, prometheus.GaugeValue, float64(snap.NumAlive), labels...)
		ch <- prometheus.MustNewConstMetric(c.numTotal, prometheus.GaugeValue, float64(snap.NumTotal), labels...)
		ch <- prometheus.MustNewConstMetric(c.failovers, prometheus.CounterValue, float64(snap.ActiveBackupChanges), labels...)
		ch <- prometheus.MustNewConstMetric(c.overhead, prometheus.CounterValue, float64(snap.OverheadBytes), labels...)
		for slot, alloc := range snap.SlotAllocation {
			slotLabels := append(append([]string{}, labels...), slot)
			ch <- prometheus.MustNewConstMetric(c.slotAlloc, prometheus.GaugeValue, float64(alloc), slotLabels...)
		}
	}
}

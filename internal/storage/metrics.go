package storage

import "github.com/prometheus/client_golang/prometheus"

// RegisterMetrics exposes pool health as Prometheus gauges. Safe to call
// once per DB; duplicate registration panics like any collector would.
func (db *DB) RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aegis_db_pool_total_conns",
			Help: "Total connections currently in the primary pool.",
		}, func() float64 { return float64(db.pool.Stat().TotalConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aegis_db_pool_idle_conns",
			Help: "Idle connections currently in the primary pool.",
		}, func() float64 { return float64(db.pool.Stat().IdleConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aegis_db_pool_acquired_conns",
			Help: "Connections currently checked out of the primary pool.",
		}, func() float64 { return float64(db.pool.Stat().AcquiredConns()) }),
	)
}

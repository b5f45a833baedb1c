// Package metrics объявляет счётчики Prometheus сервиса доступа.
// Сами метрики отдаются обработчиком promhttp на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GrantsTotal — выданные гранты по виду: trial или permanent.
	GrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wgaccess_grants_total",
		Help: "Number of access grants issued, by kind.",
	}, []string{"kind"})

	// RevokesTotal — отозванные гранты по виду.
	RevokesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wgaccess_revokes_total",
		Help: "Number of access grants revoked, by kind.",
	}, []string{"kind"})

	// CapacityExhaustedTotal — отказы из-за исчерпания пула адресов.
	// Рост счётчика означает, что пул требует переконфигурации.
	CapacityExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wgaccess_capacity_exhausted_total",
		Help: "Number of grants rejected because the address pool was exhausted.",
	})

	// SweepRunsTotal — количество проходов уборки истёкших грантов.
	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wgaccess_sweep_runs_total",
		Help: "Number of expired-grant sweep passes.",
	})
)

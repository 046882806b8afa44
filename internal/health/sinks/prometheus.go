package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/health"
)

// PrometheusSink mirrors snapshots into gauges.
type PrometheusSink struct {
	roles   *prometheus.GaugeVec
	queues  *prometheus.GaugeVec
	domains prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		roles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_pipeline_roles",
			Help: "Pipeline role goroutines partitioned by state.",
		}, []string{"state"}),
		queues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_local_queue_length",
			Help: "Items buffered in each local queue.",
		}, []string{"queue"}),
		domains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_throttled_domains",
			Help: "Domains inside the per-process revisit window.",
		}),
	}
	for _, collector := range []prometheus.Collector{s.roles, s.queues, s.domains} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register health collector: %w", err)
		}
	}
	return s, nil
}

// Consume sets every gauge from the snapshot.
func (s *PrometheusSink) Consume(_ context.Context, snap health.Snapshot) error {
	s.roles.WithLabelValues(health.StateRunning.String()).Set(float64(snap.Running))
	s.roles.WithLabelValues(health.StateBlocked.String()).Set(float64(snap.Blocked))
	s.roles.WithLabelValues(health.StateTerminated.String()).Set(float64(snap.Terminated))
	for name, depth := range snap.QueueDepths {
		s.queues.WithLabelValues(name).Set(float64(depth))
	}
	s.domains.Set(float64(snap.ThrottledDomains))
	return nil
}

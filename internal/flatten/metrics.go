package flatten

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts flattening output.
type Metrics struct {
	rows   prometheus.Counter
	issues prometheus.Counter
}

// NewMetrics registers the render counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		rows: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "schable_render_rows_total",
			Help: "Total number of rows produced by flattening runs.",
		}),
		issues: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "schable_render_issues_total",
			Help: "Total number of branches skipped because they could not be resolved.",
		}),
	}
}

func (m *Metrics) observe(rows, issues int) {
	if m == nil {
		return
	}
	m.rows.Add(float64(rows))
	m.issues.Add(float64(issues))
}

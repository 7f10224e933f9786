package sensor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	mapLabel  = "map"
	kindLabel = "kind"
)

type metrics struct {
	volumes        prometheus.Gauge
	strayVolumes   prometheus.Gauge
	queries        prometheus.Counter
	events         *prometheus.CounterVec
	updateDuration prometheus.Histogram
	capacityErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, name string) *metrics {
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{mapLabel: name}
	return &metrics{
		volumes: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "sensor_volumes",
			Help:        "The number of live sensor volumes.",
			ConstLabels: constLabels,
		}),
		strayVolumes: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "sensor_stray_volumes",
			Help:        "The number of live volumes outside the octree bounds.",
			ConstLabels: constLabels,
		}),
		queries: factory.NewCounter(prometheus.CounterOpts{
			Name:        "sensor_queries_total",
			Help:        "The total number of listener re-queries.",
			ConstLabels: constLabels,
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "sensor_events_total",
			Help:        "The total number of dispatched sensor events.",
			ConstLabels: constLabels,
		}, []string{kindLabel}),
		updateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "sensor_update_duration_seconds",
			Help:        "Wall time of one sensor map update sweep.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		capacityErrors: factory.NewCounter(prometheus.CounterOpts{
			Name:        "sensor_capacity_errors_total",
			Help:        "The total number of volume creations rejected by the capacity cap.",
			ConstLabels: constLabels,
		}),
	}
}

func (m *metrics) instrumentSweep(took time.Duration, queries, entering, leaving int) {
	m.updateDuration.Observe(took.Seconds())
	m.queries.Add(float64(queries))
	m.events.With(prometheus.Labels{kindLabel: Entering.String()}).Add(float64(entering))
	m.events.With(prometheus.Labels{kindLabel: Leaving.String()}).Add(float64(leaving))
}

func (m *metrics) instrumentPopulation(live, strays int) {
	m.volumes.Set(float64(live))
	m.strayVolumes.Set(float64(strays))
}

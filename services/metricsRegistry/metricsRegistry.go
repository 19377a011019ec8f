package metricsregistry

import (
	"net/http"
	"time"

	"github.com/kychandar/evwire/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	handler       http.Handler
	instanceId    string
	framesTotal   *prometheus.CounterVec
	frameSizeHist *prometheus.HistogramVec
	writeLatency  *prometheus.HistogramVec
	creditStalls  *prometheus.CounterVec
	connGuage     *prometheus.GaugeVec
	subsGuage     *prometheus.GaugeVec
}

func New(instanceId string) services.MetricsRegistry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evwire_frames_total",
			Help: "Frames handled per direction and frame type",
		},
		[]string{"instance_id", "direction", "type"},
	)
	registry.MustRegister(framesTotal)

	frameSizeHist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evwire_frame_size_bytes",
			Help:    "Frame body size in bytes",
			Buckets: prometheus.ExponentialBuckets(32, 4, 10),
		},
		[]string{"instance_id", "direction"},
	)
	registry.MustRegister(frameSizeHist)

	writeLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "evwire_write_latency_ms",
			Help: "Time an outbound frame waited in the connection write queue in milli seconds",
			Buckets: []float64{
				1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000,
			},
		},
		[]string{"instance_id"},
	)
	registry.MustRegister(writeLatency)

	creditStalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evwire_credit_stalls_total",
			Help: "Deliveries that had to wait for acknowledgement credit",
		},
		[]string{"instance_id", "kind"},
	)
	registry.MustRegister(creditStalls)

	connGuage := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evwire_connections_current",
			Help: "Number of currently open client connections",
		},
		[]string{"instance_id", "transport"},
	)
	registry.MustRegister(connGuage)

	subsGuage := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evwire_subscriptions_current",
			Help: "Number of currently active subscriptions",
		},
		[]string{"instance_id"},
	)
	registry.MustRegister(subsGuage)

	return &metricsRegistry{
		instanceId:    instanceId,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		framesTotal:   framesTotal,
		frameSizeHist: frameSizeHist,
		writeLatency:  writeLatency,
		creditStalls:  creditStalls,
		connGuage:     connGuage,
		subsGuage:     subsGuage,
	}
}

func (mr *metricsRegistry) GetHandler() http.Handler {
	return mr.handler
}

func (mr *metricsRegistry) ObserveFrameIn(frameType string, size int) {
	mr.framesTotal.WithLabelValues(mr.instanceId, "in", frameType).Inc()
	mr.frameSizeHist.WithLabelValues(mr.instanceId, "in").Observe(float64(size))
}

func (mr *metricsRegistry) ObserveFrameOut(frameType string, size int) {
	mr.framesTotal.WithLabelValues(mr.instanceId, "out", frameType).Inc()
	mr.frameSizeHist.WithLabelValues(mr.instanceId, "out").Observe(float64(size))
}

func (mr *metricsRegistry) ObserveWriteLatency(enqueued time.Time) {
	mr.writeLatency.WithLabelValues(mr.instanceId).Observe(float64(time.Since(enqueued).Milliseconds()))
}

func (mr *metricsRegistry) ObserveCreditStall(kind string) {
	mr.creditStalls.WithLabelValues(mr.instanceId, kind).Inc()
}

func (mr *metricsRegistry) IncConnectionCount(transport string) {
	mr.connGuage.WithLabelValues(mr.instanceId, transport).Inc()
}

func (mr *metricsRegistry) DecConnectionCount(transport string) {
	mr.connGuage.WithLabelValues(mr.instanceId, transport).Dec()
}

func (mr *metricsRegistry) IncSubscriptions() {
	mr.subsGuage.WithLabelValues(mr.instanceId).Inc()
}

func (mr *metricsRegistry) DecSubscriptions() {
	mr.subsGuage.WithLabelValues(mr.instanceId).Dec()
}

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the counters that the capture loop increments, exposed on /metrics
type Metrics struct {
	Frames         *prometheus.CounterVec // per stream
	NNPackets      prometheus.Counter
	Detections     *prometheus.CounterVec // per label, only those above the confidence threshold
	DroppedPackets prometheus.Counter     // overwritten in a device queue before we read them
	FrameErrors    *prometheus.CounterVec // per stream
	FPS            *prometheus.GaugeVec   // per stream

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depthview_frames_total",
			Help: "Frames received from the device",
		}, []string{"stream"}),
		NNPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "depthview_nn_packets_total",
			Help: "Neural network results received from the device",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depthview_detections_total",
			Help: "Objects detected above the confidence threshold",
		}, []string{"label"}),
		DroppedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "depthview_dropped_packets_total",
			Help: "Packets overwritten in a device queue before they were read",
		}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depthview_frame_errors_total",
			Help: "Frames that could not be decoded",
		}, []string{"stream"}),
		FPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depthview_fps",
			Help: "Frames per second, over the last second",
		}, []string{"stream"}),
	}
	m.registry.MustRegister(m.Frames, m.NNPackets, m.Detections, m.DroppedPackets, m.FrameErrors, m.FPS)
	return m
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

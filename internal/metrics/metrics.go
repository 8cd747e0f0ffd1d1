// Package metrics exports emulator counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/softftdi/device/class/ftdi"
)

// Outcome label values for control requests.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Metrics implements ftdi.Observer on a private Prometheus registry.
//
// Observer methods run in endpoint and control handlers as well as on the
// application's goroutines, so label children for the data path are resolved
// once up front and every count is atomic.
type Metrics struct {
	registry *prometheus.Registry

	packetsIn, packetsOut prometheus.Counter
	bytesIn, bytesOut     prometheus.Counter
	droppedIn, droppedOut prometheus.Counter
	deferred              prometheus.Counter
	requests              *prometheus.CounterVec

	// local mirrors for logging without a scrape
	localPacketsIn  atomic.Uint64
	localPacketsOut atomic.Uint64
	localBytesIn    atomic.Uint64
	localBytesOut   atomic.Uint64
	localDropped    atomic.Uint64
	localDeferred   atomic.Uint64
	localRejected   atomic.Uint64

	readyMu sync.RWMutex
	readyFn func() bool
}

// New creates the collectors and registers them with a fresh registry,
// alongside the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	packets := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ftdi_bulk_packets_total",
		Help: "Bulk packets moved, by direction as seen from the host.",
	}, []string{"direction"})
	bytes := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ftdi_bulk_bytes_total",
		Help: "Payload bytes moved, excluding status headers.",
	}, []string{"direction"})
	dropped := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ftdi_dropped_bytes_total",
		Help: "Bytes discarded by the bridge.",
	}, []string{"direction"})

	in, out := string(ftdi.DirectionIn), string(ftdi.DirectionOut)
	return &Metrics{
		registry:   reg,
		packetsIn:  packets.WithLabelValues(in),
		packetsOut: packets.WithLabelValues(out),
		bytesIn:    bytes.WithLabelValues(in),
		bytesOut:   bytes.WithLabelValues(out),
		droppedIn:  dropped.WithLabelValues(in),
		droppedOut: dropped.WithLabelValues(out),
		deferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "ftdi_out_deferred_total",
			Help: "OUT packets left pending because the receive queue was full.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ftdi_control_requests_total",
			Help: "Vendor control requests by name and outcome.",
		}, []string{"request", "outcome"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchQueues exports the emulator's queue depths as gauges sampled at
// scrape time.
func (m *Metrics) WatchQueues(e *ftdi.Emulator) {
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ftdi_rx_queue_bytes",
		Help: "Bytes received from the host and not yet read by the application.",
	}, func() float64 { return float64(e.RxLen()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ftdi_tx_queue_bytes",
		Help: "Bytes written by the application and not yet sent to the host.",
	}, func() float64 { return float64(e.TxLen()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ftdi_configured",
		Help: "1 once the host has selected a configuration.",
	}, func() float64 {
		if e.IsConfigured() {
			return 1
		}
		return 0
	})
}

// Packet implements ftdi.Observer.
func (m *Metrics) Packet(dir ftdi.Direction, n int) {
	if dir == ftdi.DirectionIn {
		m.packetsIn.Inc()
		m.bytesIn.Add(float64(n))
		m.localPacketsIn.Add(1)
		m.localBytesIn.Add(uint64(n))
		return
	}
	m.packetsOut.Inc()
	m.bytesOut.Add(float64(n))
	m.localPacketsOut.Add(1)
	m.localBytesOut.Add(uint64(n))
}

// Deferred implements ftdi.Observer.
func (m *Metrics) Deferred() {
	m.deferred.Inc()
	m.localDeferred.Add(1)
}

// Dropped implements ftdi.Observer.
func (m *Metrics) Dropped(dir ftdi.Direction, n int) {
	if dir == ftdi.DirectionIn {
		m.droppedIn.Add(float64(n))
	} else {
		m.droppedOut.Add(float64(n))
	}
	m.localDropped.Add(uint64(n))
}

// Request implements ftdi.Observer.
func (m *Metrics) Request(name string, accepted bool) {
	outcome := OutcomeAccepted
	if !accepted {
		outcome = OutcomeRejected
		m.localRejected.Add(1)
	}
	m.requests.WithLabelValues(name, outcome).Inc()
}

// SetReadiness installs the function behind IsReady.
func (m *Metrics) SetReadiness(fn func() bool) {
	m.readyMu.Lock()
	m.readyFn = fn
	m.readyMu.Unlock()
}

// IsReady reports the installed readiness; false when none is set.
func (m *Metrics) IsReady() bool {
	m.readyMu.RLock()
	fn := m.readyFn
	m.readyMu.RUnlock()
	return fn != nil && fn()
}

// Snapshot is a copy of the local counters.
type Snapshot struct {
	PacketsIn  uint64 `json:"packets_in"`
	PacketsOut uint64 `json:"packets_out"`
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
	Dropped    uint64 `json:"dropped"`
	Deferred   uint64 `json:"deferred"`
	Rejected   uint64 `json:"rejected_requests"`
}

// Snap returns the local counters.
func (m *Metrics) Snap() Snapshot {
	return Snapshot{
		PacketsIn:  m.localPacketsIn.Load(),
		PacketsOut: m.localPacketsOut.Load(),
		BytesIn:    m.localBytesIn.Load(),
		BytesOut:   m.localBytesOut.Load(),
		Dropped:    m.localDropped.Load(),
		Deferred:   m.localDeferred.Load(),
		Rejected:   m.localRejected.Load(),
	}
}

var _ ftdi.Observer = (*Metrics)(nil)

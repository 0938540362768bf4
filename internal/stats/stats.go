package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jamchat"

// Metric names shared by the components that report them.
const (
	LiveConnections  = "live_connections"
	RoomsCreated     = "rooms_created"
	RoomsClosed      = "rooms_closed"
	RoomsReaped      = "rooms_reaped"
	MessagesSent     = "messages_sent"
	Deliveries       = "deliveries"
	StaleConnections = "stale_connections_pruned"
	FailedDeliveries = "failed_deliveries"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	registry   *prometheus.Registry
	mu         sync.RWMutex
	gauges     map[string]prometheus.Gauge
	requests   *prometheus.CounterVec
	updateChan chan *metricsUpdateReq

	// stopMu guards updateChan against sends after Stop closed it.
	stopMu  sync.RWMutex
	stopped bool
}

type metricsUpdateReq struct {
	name  string
	value float64
}

// NewStatsUpdater creates a new stats updater backed by its own prometheus
// registry and serves it on GET /metrics.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry:   prometheus.NewRegistry(),
		gauges:     make(map[string]prometheus.Gauge),
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	su.initializeMetrics()
	mux.Handle("GET /metrics", promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{}))

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_milliseconds",
		Help:      "Milliseconds since the server started.",
	}, func() float64 {
		return float64(time.Since(startTime).Milliseconds())
	}))

	su.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by status code and method.",
	}, []string{"code", "method"})
	su.registry.MustRegister(su.requests)
}

// InstrumentHandler counts the requests served by next.
func (su *StatsUpdater) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(su.requests, next)
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		su.mu.RLock()
		metric, ok := su.gauges[req.name]
		su.mu.RUnlock()
		if !ok {
			panic("metric not found: " + req.name)
		}

		metric.Add(req.value)
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

// update is dropped once the updater is stopped. Clients still cleaning up
// after a timed out shutdown may report after that point.
func (su *StatsUpdater) update(name string, value float64) {
	su.stopMu.RLock()
	defer su.stopMu.RUnlock()

	if su.stopped {
		return
	}
	su.updateChan <- &metricsUpdateReq{name: name, value: value}
}

// RegisterMetric adds a gauge for name. Registering the same name twice is a
// no-op.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	su.stopMu.Lock()
	defer su.stopMu.Unlock()

	if su.stopped {
		return
	}
	su.stopped = true
	close(su.updateChan)
}

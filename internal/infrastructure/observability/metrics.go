package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the service in a private
// registry. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Registry metrics
	RegistryOperations *prometheus.CounterVec
	MirrorNodes        prometheus.Gauge
	MirrorEdges        prometheus.Gauge
	EdgeTombstones     prometheus.Gauge
	IntegrityFailures  prometheus.Counter

	// Durability pipeline metrics
	DurableWrites  *prometheus.CounterVec
	DurablePending prometheus.Gauge
	DurableDropped prometheus.Counter

	// Storage metrics
	StorageOperations *prometheus.CounterVec
	StorageDuration   *prometheus.HistogramVec

	// Event metrics
	EventsPublished *prometheus.CounterVec
}

// NewCollector creates a collector whose metric names are prefixed with
// namespace. Go runtime and process metrics are included.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RegistryOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_operations_total",
			Help:      "Total number of registry operations by outcome",
		}, []string{"operation", "status"}),
		MirrorNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_nodes",
			Help:      "Nodes held in the in-memory mirror",
		}),
		MirrorEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_edges",
			Help:      "Live edges held in the in-memory mirror",
		}),
		EdgeTombstones: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_edge_tombstones",
			Help:      "Deleted edge slots awaiting compaction",
		}),
		IntegrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_integrity_failures_total",
			Help:      "Content references whose cache key did not verify",
		}),
		DurableWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_writes_total",
			Help:      "Durable write attempts by operation and outcome",
		}, []string{"operation", "outcome"}),
		DurablePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "durable_writes_pending",
			Help:      "Durable writes queued or in flight",
		}),
		DurableDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_writes_dropped_total",
			Help:      "Durable writes dropped because the queue was full or the pipeline closed",
		}),
		StorageOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Storage backend calls by outcome",
		}, []string{"backend", "operation", "status"}),
		StorageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage backend call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Change events handed to the event bus by outcome",
		}, []string{"status"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.RegistryOperations,
		c.MirrorNodes,
		c.MirrorEdges,
		c.EdgeTombstones,
		c.IntegrityFailures,
		c.DurableWrites,
		c.DurablePending,
		c.DurableDropped,
		c.StorageOperations,
		c.StorageDuration,
		c.EventsPublished,
	)
	return c
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) RecordRegistryOperation(operation string, err error) {
	if c == nil {
		return
	}
	c.RegistryOperations.WithLabelValues(operation, statusLabel(err)).Inc()
}

// SetMirrorSize publishes the size of the in-memory mirror.
func (c *Collector) SetMirrorSize(nodes, edges, tombstones int) {
	if c == nil {
		return
	}
	c.MirrorNodes.Set(float64(nodes))
	c.MirrorEdges.Set(float64(edges))
	c.EdgeTombstones.Set(float64(tombstones))
}

func (c *Collector) IncIntegrityFailure() {
	if c == nil {
		return
	}
	c.IntegrityFailures.Inc()
}

// RecordDurableWrite counts one attempt outcome: "success", "retry" or
// "failure".
func (c *Collector) RecordDurableWrite(operation, outcome string) {
	if c == nil {
		return
	}
	c.DurableWrites.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) SetDurablePending(n int64) {
	if c == nil {
		return
	}
	c.DurablePending.Set(float64(n))
}

func (c *Collector) IncDurableDropped() {
	if c == nil {
		return
	}
	c.DurableDropped.Inc()
}

func (c *Collector) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.StorageOperations.WithLabelValues(backend, operation, statusLabel(err)).Inc()
	c.StorageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func (c *Collector) RecordEventsPublished(count int, err error) {
	if c == nil || count == 0 {
		return
	}
	c.EventsPublished.WithLabelValues(statusLabel(err)).Add(float64(count))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

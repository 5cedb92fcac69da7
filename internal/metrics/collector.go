// Package metrics exports pool and cache activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/pool"
)

const (
	namespace       = "remotefs"
	shutdownTimeout = 5 * time.Second
)

// Collector counts pool and cache events. It implements pool.Observer and
// filesystem.CacheObserver.
type Collector struct {
	registry *prometheus.Registry

	created           prometheus.Counter
	destroyed         *prometheus.CounterVec
	createFailures    prometheus.Counter
	takeTimeouts      prometheus.Counter
	keepAliveFailures prometheus.Counter
	takeWait          prometheus.Histogram
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
}

var (
	_ pool.Observer            = (*Collector)(nil)
	_ filesystem.CacheObserver = (*Collector)(nil)
)

// NewCollector creates a collector with its own registry. Go runtime and
// process metrics are included.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "sessions_created_total",
			Help: "Sessions opened by the pool.",
		}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "sessions_destroyed_total",
			Help: "Sessions closed by the pool, by reason.",
		}, []string{"reason"}),
		createFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "session_create_failures_total",
			Help: "Failed attempts to open a session.",
		}),
		takeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "take_timeouts_total",
			Help: "Take calls that gave up waiting for a session.",
		}),
		keepAliveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "keepalive_failures_total",
			Help: "Idle sessions dropped after a failed keep-alive probe.",
		}),
		takeWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pool", Name: "take_wait_seconds",
			Help:    "Time Take spent obtaining a session.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), //nolint:mnd // 1ms up to ~16s
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "attribute_cache", Name: "hits_total",
			Help: "Attribute lookups answered from the cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "attribute_cache", Name: "misses_total",
			Help: "Attribute lookups that needed a round trip.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.created, c.destroyed, c.createFailures, c.takeTimeouts, c.keepAliveFailures,
		c.takeWait, c.cacheHits, c.cacheMisses,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

// Registry returns the registry holding every metric.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// TrackPool exports the pool's free, busy and pending session counts,
// sampled at scrape time.
func (c *Collector) TrackPool(stats func() pool.Stats) error {
	states := map[string]func(pool.Stats) int{
		"free":    func(s pool.Stats) int { return s.Free },
		"busy":    func(s pool.Stats) int { return s.Busy },
		"pending": func(s pool.Stats) int { return s.Pending },
	}

	for state, pick := range states {
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        "sessions",
			Help:        "Sessions currently in the pool, by state.",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 { return float64(pick(stats())) })

		if err := c.registry.Register(gauge); err != nil {
			return fmt.Errorf("failed to register pool gauge: %w", err)
		}
	}

	return nil
}

// SessionCreated implements pool.Observer.
func (c *Collector) SessionCreated() { c.created.Inc() }

// SessionCreateFailed implements pool.Observer.
func (c *Collector) SessionCreateFailed(error) { c.createFailures.Inc() }

// SessionDestroyed implements pool.Observer.
func (c *Collector) SessionDestroyed(reason pool.DestroyReason) {
	c.destroyed.WithLabelValues(string(reason)).Inc()
}

// TakeWaited implements pool.Observer.
func (c *Collector) TakeWaited(d time.Duration) { c.takeWait.Observe(d.Seconds()) }

// TakeTimedOut implements pool.Observer.
func (c *Collector) TakeTimedOut() { c.takeTimeouts.Inc() }

// KeepAliveFailed implements pool.Observer.
func (c *Collector) KeepAliveFailed(error) { c.keepAliveFailures.Inc() }

// CacheHit implements filesystem.CacheObserver.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss implements filesystem.CacheObserver.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger logrus.FieldLogger) error {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd // Slowloris guard
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx) //nolint:contextcheck // The serving context is already done
	}()

	logger.WithField("addr", addr).Info("serving metrics")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	return nil
}

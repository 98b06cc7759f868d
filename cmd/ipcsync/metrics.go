package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/slon/ipcsync/sandwich"
)

const shutdownTimeout = 5 * time.Second

type metrics struct {
	rounds        prometheus.Counter
	activations   *prometheus.CounterVec
	inAction      prometheus.Gauge
	actionSeconds prometheus.Histogram

	lockAcquired    *prometheus.CounterVec
	lockWaitSeconds *prometheus.HistogramVec
	lockViolations  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ipcsync",
			Subsystem: "sandwich",
			Name:      "rounds_total",
			Help:      "Rounds acknowledged by the agent.",
		}),
		activations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipcsync",
			Subsystem: "sandwich",
			Name:      "activations_total",
			Help:      "Times each holder was woken to make a sandwich.",
		}, []string{"holder", "item"}),
		inAction: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipcsync",
			Subsystem: "sandwich",
			Name:      "holders_in_action",
			Help:      "Holders currently inside their critical action.",
		}),
		actionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ipcsync",
			Subsystem: "sandwich",
			Name:      "action_seconds",
			Help:      "Time between a holder starting and finishing its action.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		lockAcquired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipcsync",
			Subsystem: "rwlock",
			Name:      "acquired_total",
			Help:      "Successful lock acquisitions by mode.",
		}, []string{"mode"}),
		lockWaitSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ipcsync",
			Subsystem: "rwlock",
			Name:      "wait_seconds",
			Help:      "Time spent blocked before acquiring the lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"mode"}),
		lockViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ipcsync",
			Subsystem: "rwlock",
			Name:      "violations_total",
			Help:      "Observed breaches of reader/writer exclusion.",
		}),
	}
}

// roundMetrics is a sandwich.Observer feeding the exchange metrics.
type roundMetrics struct {
	m     *metrics
	clock clockwork.Clock

	mu      sync.Mutex
	started time.Time
}

func newRoundMetrics(m *metrics, clock clockwork.Clock) *roundMetrics {
	return &roundMetrics{m: m, clock: clock}
}

func (o *roundMetrics) Placed(r sandwich.Round) {
	o.m.activations.WithLabelValues(r.Holder.String(), r.HeldOut.String()).Inc()
}

func (o *roundMetrics) Started(sandwich.Round) {
	o.m.inAction.Inc()
	o.mu.Lock()
	o.started = o.clock.Now()
	o.mu.Unlock()
}

func (o *roundMetrics) Finished(sandwich.Round) {
	o.m.inAction.Dec()
	o.mu.Lock()
	elapsed := o.clock.Since(o.started)
	o.mu.Unlock()
	o.m.actionSeconds.Observe(elapsed.Seconds())
}

func (o *roundMetrics) Acknowledged(sandwich.Round) {
	o.m.rounds.Inc()
}

func newMetricsRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// serveMetrics serves the registry on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return serveMetricsOn(ctx, ln, gatherer, logger)
}

// serveMetricsOn takes ownership of ln.
func serveMetricsOn(ctx context.Context, ln net.Listener, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           newMetricsRouter(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving metrics", zap.Stringer("addr", ln.Addr()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", zap.Error(err))
			return err
		}
		logger.Info("metrics server stopped")
		return nil
	})
	return g.Wait()
}

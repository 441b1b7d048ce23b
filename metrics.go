package mon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	restartCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mon_restarts_total",
			Help: "Total number of times the supervised command was restarted.",
		},
		[]string{"reason"},
	)
	startCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mon_child_starts_total",
			Help: "Total number of times the command was started.",
		},
	)
	abortCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mon_aborts_total",
			Help: "Total number of times mon gave up on the command.",
		},
	)
	attemptsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mon_attempts_remaining",
			Help: "Restarts left in the current 60 second window.",
		},
	)
	childPIDGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mon_child_pid",
			Help: "Pid of the running command, 0 when none is running.",
		},
	)
	uptimeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mon_uptime_seconds",
			Help: "Supervisor uptime in seconds.",
		},
	)
)

func init() {
	prometheus.MustRegister(restartCounter, startCounter, abortCounter, attemptsGauge, childPIDGauge, uptimeGauge)
}

// Restart reasons used as the restartCounter label.
const (
	reasonSignal = "signal"
	reasonExit   = "exit"
	reasonClean  = "clean"
)

// metricsHandler serves /metrics and /healthz.
func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// serveMetrics runs the metrics endpoint until ctx is done.
func serveMetrics(ctx context.Context, addr string, start time.Time, logger *slog.Logger) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				uptimeGauge.Set(time.Since(start).Seconds())
			case <-ctx.Done():
				return
			}
		}
	}()
	server := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics/health endpoints listening", slog.String("addr", addr))
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server ListenAndServe error", slog.String("err", err.Error()))
		}
	}()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", slog.String("err", err.Error()))
	}
}

// Package metrics exposes counters about event processing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/nozo-moto/gnethogs/pkg/types"
)

// Anomaly kinds.
const (
	UnknownRecord  = "unknown_record"
	UnresolvedUser = "unresolved_user"
	BadText        = "bad_text"
	BadAction      = "bad_action"
)

type Metrics struct {
	registry *prometheus.Registry

	Events        *prometheus.CounterVec
	Anomalies     *prometheus.CounterVec
	LiveRecords   prometheus.Gauge
	TotalSent     prometheus.Gauge
	TotalReceived prometheus.Gauge

	// Applied measures events per second for the status bar.
	Applied gometrics.Meter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gnethogs_events_total",
			Help: "Bandwidth events applied to the record store.",
		}, []string{"action"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gnethogs_anomalies_total",
			Help: "Recoverable anomalies seen while producing or applying events.",
		}, []string{"kind"}),
		LiveRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gnethogs_live_records",
			Help: "Number of live records.",
		}),
		TotalSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gnethogs_total_sent_kbps",
			Help: "Sum of sent rates over live records.",
		}),
		TotalReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gnethogs_total_received_kbps",
			Help: "Sum of received rates over live records.",
		}),
		Applied: gometrics.NewMeter(),
	}

	m.registry.MustRegister(m.Events, m.Anomalies, m.LiveRecords, m.TotalSent, m.TotalReceived)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEvent records an applied event.
func (m *Metrics) ObserveEvent(action types.Action) {
	m.Events.WithLabelValues(action.String()).Inc()
	m.Applied.Mark(1)
}

// ObserveAnomaly records a recoverable anomaly of the given kind.
func (m *Metrics) ObserveAnomaly(kind string) {
	m.Anomalies.WithLabelValues(kind).Inc()
}

// ObserveTotals publishes the current aggregate state.
func (m *Metrics) ObserveTotals(live int, t types.Totals) {
	m.LiveRecords.Set(float64(live))
	m.TotalSent.Set(float64(t.Sent))
	m.TotalReceived.Set(float64(t.Received))
}

// EventRate returns the one-minute moving average of applied events per second.
func (m *Metrics) EventRate() float64 {
	return m.Applied.Rate1()
}

// Stop releases the meter's ticker.
func (m *Metrics) Stop() {
	m.Applied.Stop()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the handler on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Package metrics exposes a live Prometheus scrape surface mirroring a
// subset of the JSON telemetry counters, for local operators who want a pull-based view
// alongside the push-based clocktower publishes. Entirely optional: a
// binary only serves it when --metrics-addr is set.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/varesa/metronome2/internal/session"
)

// ClientCollector adapts a session.ClientTracker snapshot into Prometheus
// metrics, in the Describe/Collect shape used throughout the pack (e.g.
// runZeroInc-sockstats' TCPInfoCollector).
type ClientCollector struct {
	sid     string
	tracker *session.ClientTracker

	sent     *prometheus.Desc
	received *prometheus.Desc
	timely   *prometheus.Desc
	lost     *prometheus.Desc
	inflight *prometheus.Desc
	rttMavg  *prometheus.Desc
}

// NewClientCollector builds a collector for the given tracker.
func NewClientCollector(sid string, tracker *session.ClientTracker) *ClientCollector {
	constLabels := prometheus.Labels{"sid": sid}
	return &ClientCollector{
		sid:     sid,
		tracker: tracker,
		sent:     prometheus.NewDesc("metronome_client_sent_messages_total", "Total probes sent.", nil, constLabels),
		received: prometheus.NewDesc("metronome_client_received_messages_total", "Total replies received.", nil, constLabels),
		timely:   prometheus.NewDesc("metronome_client_timely_received_messages_total", "Replies matched to an outstanding probe.", nil, constLabels),
		lost:     prometheus.NewDesc("metronome_client_lost_messages_total", "Probes that timed out with no reply.", nil, constLabels),
		inflight: prometheus.NewDesc("metronome_client_inflight_messages", "Probes sent with no reply or timeout yet.", nil, constLabels),
		rttMavg:  prometheus.NewDesc("metronome_client_rtt_mavg_seconds", "Exponential moving average of round-trip time.", nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *ClientCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sent
	ch <- c.received
	ch <- c.timely
	ch <- c.lost
	ch <- c.inflight
	ch <- c.rttMavg
}

// Collect implements prometheus.Collector.
func (c *ClientCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.tracker.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(snap.SentMessages))
	ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(snap.ReceivedMessages))
	ch <- prometheus.MustNewConstMetric(c.timely, prometheus.CounterValue, float64(snap.TimelyReceivedMessages))
	ch <- prometheus.MustNewConstMetric(c.lost, prometheus.CounterValue, float64(snap.LostMessages))
	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(snap.InflightMessages))
	if snap.RTTMavg != nil {
		ch <- prometheus.MustNewConstMetric(c.rttMavg, prometheus.GaugeValue, *snap.RTTMavg)
	}
}

// HubCollector adapts a live hub session map into Prometheus metrics.
type HubCollector struct {
	snapshots func() map[string]session.HubSnapshot

	received *prometheus.Desc
	holesCur *prometheus.Desc
	holesNew *prometheus.Desc
}

// NewHubCollector builds a collector that calls snapshots on every scrape
// to get a consistent view of every live session.
func NewHubCollector(snapshots func() map[string]session.HubSnapshot) *HubCollector {
	return &HubCollector{
		snapshots: snapshots,
		received:  prometheus.NewDesc("metronome_hub_received_messages_total", "Total datagrams received.", []string{"sid"}, nil),
		holesCur:  prometheus.NewDesc("metronome_hub_holes_current", "Sequence gaps not yet closed or timed out.", []string{"sid"}, nil),
		holesNew:  prometheus.NewDesc("metronome_hub_holes_created_total", "Sequence gaps ever observed.", []string{"sid"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *HubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.received
	ch <- c.holesCur
	ch <- c.holesNew
}

// Collect implements prometheus.Collector.
func (c *HubCollector) Collect(ch chan<- prometheus.Metric) {
	for sid, snap := range c.snapshots() {
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(snap.ReceivedMessages), sid)
		ch <- prometheus.MustNewConstMetric(c.holesCur, prometheus.GaugeValue, float64(snap.HolesCurrent), sid)
		ch <- prometheus.MustNewConstMetric(c.holesNew, prometheus.CounterValue, float64(snap.HolesCreated), sid)
	}
}

// Serve starts an HTTP server exposing /metrics on addr, until ctx is
// cancelled. Intended to be run in its own goroutine.
func Serve(ctx context.Context, log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "error", err)
	}
}

package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/regionpulse/internal/progress"
)

// PrometheusSink exports scan progress via Prometheus. It owns the collectors
// for scans started/completed/running, the overall progress gauge, and
// per-region outcomes.
type PrometheusSink struct {
	scansStarted   prometheus.Counter
	scansCompleted *prometheus.CounterVec
	scansRunning   prometheus.Gauge
	scanRuntime    *prometheus.HistogramVec
	scanProgress   prometheus.Gauge
	scanItems      prometheus.Counter

	regionProgress *prometheus.GaugeVec
	regionsDone    *prometheus.CounterVec
	regionItems    *prometheus.CounterVec
	regionErrors   *prometheus.CounterVec
	regionRuntime  *prometheus.HistogramVec

	tracker *scanTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		scansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_scans_started_total",
			Help: "Total scans that have started.",
		}),
		scansCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_scans_completed_total",
			Help: "Total scans completed partitioned by result.",
		}, []string{"result"}),
		scansRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_scans_running",
			Help: "Current number of running scans.",
		}),
		scanRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_scan_runtime_seconds",
			Help:    "Wall time per completed scan.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		scanProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_scan_progress_percent",
			Help: "Overall progress of the current scan.",
		}),
		scanItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_scan_items_saved_total",
			Help: "Items saved by completed scans.",
		}),
		regionProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulse_region_progress_percent",
			Help: "Last reported progress per region.",
		}, []string{"region"}),
		regionsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_regions_completed_total",
			Help: "Region pipeline completions partitioned by region and result.",
		}, []string{"region", "result"}),
		regionItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_region_items_total",
			Help: "Items produced per region.",
		}, []string{"region"}),
		regionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_region_nonfatal_errors_total",
			Help: "Non-fatal errors recorded per region.",
		}, []string{"region"}),
		regionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_region_runtime_seconds",
			Help:    "Time from scan start to region completion.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		tracker: newScanTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.scansStarted,
		s.scansCompleted,
		s.scansRunning,
		s.scanRuntime,
		s.scanProgress,
		s.scanItems,
		s.regionProgress,
		s.regionsDone,
		s.regionItems,
		s.regionErrors,
		s.regionRuntime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageScanStart:
		s.scansStarted.Inc()
		if s.tracker.start(evt.ScanID) {
			s.scansRunning.Inc()
		}
		s.regionProgress.Reset()
		s.scanProgress.Set(evt.Progress)
	case progress.StagePhaseUpdate:
		s.scanProgress.Set(evt.Progress)
	case progress.StageScanDone:
		s.finishScan(evt, "success")
		if evt.Items > 0 {
			s.scanItems.Add(float64(evt.Items))
		}
	case progress.StageScanError:
		s.finishScan(evt, "error")
	case progress.StageRegionProgress:
		s.regionProgress.WithLabelValues(evt.Region).Set(evt.Progress)
	case progress.StageRegionDone:
		s.finishRegion(evt, "success")
	case progress.StageRegionError:
		s.finishRegion(evt, "error")
	}
}

func (s *PrometheusSink) finishScan(evt progress.Event, result string) {
	s.scansCompleted.WithLabelValues(result).Inc()
	s.scanProgress.Set(evt.Progress)
	if evt.Dur > 0 {
		s.scanRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.ScanID) {
		s.scansRunning.Dec()
	}
}

func (s *PrometheusSink) finishRegion(evt progress.Event, result string) {
	s.regionsDone.WithLabelValues(evt.Region, result).Inc()
	s.regionProgress.WithLabelValues(evt.Region).Set(evt.Progress)
	if evt.Items > 0 {
		s.regionItems.WithLabelValues(evt.Region).Add(float64(evt.Items))
	}
	if evt.Errors > 0 {
		s.regionErrors.WithLabelValues(evt.Region).Add(float64(evt.Errors))
	}
	if evt.Dur > 0 {
		s.regionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type scanTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newScanTracker() *scanTracker {
	return &scanTracker{running: make(map[[16]byte]struct{})}
}

func (t *scanTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *scanTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

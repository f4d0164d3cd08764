// Package dispatcher accepts scan requests and runs them one at a time.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/pulse"
	"github.com/JakeFAU/regionpulse/internal/scan"
)

const defaultHistory = 256

// State is the lifecycle of a submitted scan request.
type State string

// Request states.
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job is one queued scan request.
type Job struct {
	ID         string
	Request    scan.Request
	EnqueuedAt time.Time
}

// JobStatus is the externally visible state of a Job.
type JobStatus struct {
	ID         string     `json:"scan_request_id"`
	State      State      `json:"state"`
	Regions    []string   `json:"regions,omitempty"`
	ScanID     string     `json:"scan_id,omitempty"`
	ItemCount  int        `json:"item_count,omitempty"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Queue is the backing FIFO.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Runner executes one scan.
type Runner interface {
	Run(ctx context.Context, req scan.Request) (scan.Summary, error)
}

// Dispatcher drains the queue into the runner.
type Dispatcher struct {
	queue  Queue
	runner Runner
	ids    pulse.IDGenerator
	clock  pulse.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	jobs  map[string]*JobStatus
	order []string
}

// New creates a Dispatcher.
func New(queue Queue, runner Runner, ids pulse.IDGenerator, clock pulse.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:  queue,
		runner: runner,
		ids:    ids,
		clock:  clock,
		logger: logger.Named("dispatcher"),
		jobs:   make(map[string]*JobStatus),
	}
}

// Submit queues a scan request and returns its tracking status.
func (d *Dispatcher) Submit(ctx context.Context, req scan.Request) (JobStatus, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return JobStatus{}, fmt.Errorf("generate request id: %w", err)
	}
	job := Job{ID: id, Request: req, EnqueuedAt: d.clock.Now()}
	d.record(&JobStatus{ID: id, State: StateQueued, Regions: req.Regions, EnqueuedAt: job.EnqueuedAt})
	if err := d.queue.Enqueue(ctx, job); err != nil {
		d.forget(id)
		return JobStatus{}, fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Info("scan request queued", zap.String("scan_request_id", id), zap.Strings("regions", req.Regions))
	status, _ := d.Lookup(id)
	return status, nil
}

// Lookup returns the status of a recent request.
func (d *Dispatcher) Lookup(id string) (JobStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Run processes queued jobs until ctx is done or the queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Info("queue closed, dispatcher stopping", zap.Error(err))
			}
			return
		}
		d.runJob(ctx, job)
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job Job) {
	started := d.clock.Now()
	d.update(job.ID, func(st *JobStatus) {
		st.State = StateRunning
		st.StartedAt = &started
	})
	summary, err := d.runner.Run(ctx, job.Request)
	finished := d.clock.Now()
	d.update(job.ID, func(st *JobStatus) {
		st.FinishedAt = &finished
		st.ScanID = summary.ScanID
		st.ItemCount = summary.ItemCount
		if err != nil {
			st.State = StateFailed
			st.Error = err.Error()
			return
		}
		st.State = StateSucceeded
	})

	logger := d.logger.With(zap.String("scan_request_id", job.ID), zap.String("scan_id", summary.ScanID))
	switch {
	case errors.Is(err, scan.ErrScanInProgress):
		logger.Warn("scan request skipped, another scan is running")
	case err != nil:
		logger.Error("scan request failed", zap.Error(err))
	default:
		logger.Info("scan request finished", zap.Int("items", summary.ItemCount))
	}
}

func (d *Dispatcher) record(st *JobStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs[st.ID] = st
	d.order = append(d.order, st.ID)
	d.pruneLocked()
}

// pruneLocked drops the oldest finished statuses until the history fits.
// Queued and running jobs are never dropped, so the history may exceed its
// bound while they are pending.
func (d *Dispatcher) pruneLocked() {
	for i := 0; len(d.order) > defaultHistory && i < len(d.order); {
		id := d.order[i]
		if st, ok := d.jobs[id]; ok && !st.finished() {
			i++
			continue
		}
		delete(d.jobs, id)
		d.order = append(d.order[:i], d.order[i+1:]...)
	}
}

func (st *JobStatus) finished() bool {
	return st.State == StateSucceeded || st.State == StateFailed
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

func (d *Dispatcher) update(id string, fn func(*JobStatus)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.jobs[id]; ok {
		fn(st)
		d.pruneLocked()
	}
}

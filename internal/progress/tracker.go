package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

// Phase is one state of the scan state machine.
type Phase string

// Scan phases in execution order, plus the terminal states.
const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseProcessing  Phase = "processing"
	PhaseClustering  Phase = "clustering"
	PhaseSummarizing Phase = "summarizing"
	PhaseSaving      Phase = "saving"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
)

// Region states reported in ScanStatus.Regions.
const (
	RegionRunning = "running"
	RegionDone    = "done"
	RegionFailed  = "failed"
)

var (
	// ErrInvalidTransition is returned when an update requests a phase change
	// the state machine does not allow. The tracker state is left unchanged.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrNoProgressRange is returned by SetPhaseProgress for phases that do not
	// own a slice of the overall progress bar.
	ErrNoProgressRange = errors.New("phase has no progress range")
)

type phaseRange struct {
	start float64
	end   float64
}

var phaseRanges = map[Phase]phaseRange{
	PhaseFetching:    {start: 0, end: 50},
	PhaseProcessing:  {start: 50, end: 60},
	PhaseClustering:  {start: 60, end: 70},
	PhaseSummarizing: {start: 70, end: 90},
	PhaseSaving:      {start: 90, end: 100},
}

var nextPhase = map[Phase]Phase{
	PhaseFetching:    PhaseProcessing,
	PhaseProcessing:  PhaseClustering,
	PhaseClustering:  PhaseSummarizing,
	PhaseSummarizing: PhaseSaving,
	PhaseSaving:      PhaseComplete,
}

// MapProgress converts a phase-local percentage into overall progress. Phases
// without a range map to 0, except complete which is always 100.
func MapProgress(phase Phase, local float64) float64 {
	if phase == PhaseComplete {
		return 100
	}
	r, ok := phaseRanges[phase]
	if !ok {
		return 0
	}
	return r.start + clampPercent(local)/100*(r.end-r.start)
}

func canTransition(from, to Phase) bool {
	switch {
	case from == to:
		return true
	case to == PhaseError:
		return true
	case to == PhaseFetching:
		return from == PhaseIdle || from == PhaseComplete || from == PhaseError
	default:
		return nextPhase[from] == to
	}
}

// RegionProgress is the last reported progress of one region.
type RegionProgress struct {
	Region   string  `json:"region"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	State    string  `json:"state"`
}

// ScanStatus is the snapshot polled by the display.
type ScanStatus struct {
	ScanID        string           `json:"scan_id,omitempty"`
	Phase         Phase            `json:"phase"`
	Message       string           `json:"message"`
	Progress      float64          `json:"progress"`
	PhaseProgress float64          `json:"phase_progress"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Error         string           `json:"error,omitempty"`
	ItemCount     *int             `json:"item_count,omitempty"`
	Regions       []RegionProgress `json:"regions,omitempty"`
}

func (s ScanStatus) clone() ScanStatus {
	out := s
	if s.StartedAt != nil {
		v := *s.StartedAt
		out.StartedAt = &v
	}
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		out.CompletedAt = &v
	}
	if s.ItemCount != nil {
		v := *s.ItemCount
		out.ItemCount = &v
	}
	if s.Regions != nil {
		out.Regions = append([]RegionProgress(nil), s.Regions...)
	}
	return out
}

// StatusUpdate is a partial update; nil fields keep their current value.
type StatusUpdate struct {
	ScanID        *string
	Phase         *Phase
	Message       *string
	Progress      *float64
	PhaseProgress *float64
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Error         *string
	ItemCount     *int
}

// TrackerConfig wires optional collaborators into a Tracker.
type TrackerConfig struct {
	// Emitter receives one event per mutation (usually the Hub).
	Emitter Emitter
	// Clock stamps events and timestamps; defaults to time.Now in UTC.
	Clock pulse.Clock
	// Logger records discarded events.
	Logger *zap.Logger
}

// Tracker owns the scan status. It is safe for concurrent use by the scan
// orchestrator, region pipelines, and HTTP pollers.
type Tracker struct {
	mu       sync.Mutex
	status   ScanStatus
	tracking bool
	order    []string
	regions  map[string]*RegionProgress

	emitter Emitter
	clock   pulse.Clock
	logger  *zap.Logger
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewTracker returns a tracker in the idle phase.
func NewTracker(cfg TrackerConfig) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = utcClock{}
	}
	return &Tracker{
		status:  ScanStatus{Phase: PhaseIdle},
		emitter: cfg.Emitter,
		clock:   clock,
		logger:  logger,
	}
}

// Status returns a deep copy of the current status.
func (t *Tracker) Status() ScanStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.clone()
}

// Update merges u into the current status. A phase change is validated
// against the state machine first; an illegal one returns ErrInvalidTransition
// and leaves the status untouched.
func (t *Tracker) Update(u StatusUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.status.Phase
	next := prev
	if u.Phase != nil {
		next = *u.Phase
	}
	if !canTransition(prev, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	now := t.clock.Now()
	changed := next != prev

	if changed {
		if next == PhaseFetching {
			t.resetLocked(now)
		}
		t.status.Phase = next
		t.status.PhaseProgress = 0
		t.status.Progress = MapProgress(next, 0)
	}
	t.applyLocked(u)

	stage := StagePhaseUpdate
	switch {
	case changed && next == PhaseFetching:
		stage = StageScanStart
	case changed && next == PhaseComplete:
		t.status.Progress = 100
		t.status.PhaseProgress = 100
		if t.status.CompletedAt == nil {
			t.status.CompletedAt = &now
		}
		stage = StageScanDone
	case changed && next == PhaseError:
		if t.status.CompletedAt == nil {
			t.status.CompletedAt = &now
		}
		stage = StageScanError
	}

	evt := t.scanEventLocked(stage, now)
	t.emitLocked(evt)
	return nil
}

func (t *Tracker) resetLocked(now time.Time) {
	t.status = ScanStatus{
		ScanID:    t.status.ScanID,
		Phase:     PhaseFetching,
		StartedAt: &now,
	}
	t.tracking = false
	t.order = nil
	t.regions = nil
}

func (t *Tracker) applyLocked(u StatusUpdate) {
	if u.ScanID != nil {
		t.status.ScanID = *u.ScanID
	}
	if u.Message != nil {
		t.status.Message = *u.Message
	}
	if u.Progress != nil {
		t.status.Progress = clampPercent(*u.Progress)
	}
	if u.PhaseProgress != nil {
		t.status.PhaseProgress = clampPercent(*u.PhaseProgress)
	}
	if u.StartedAt != nil {
		v := *u.StartedAt
		t.status.StartedAt = &v
	}
	if u.CompletedAt != nil {
		v := *u.CompletedAt
		t.status.CompletedAt = &v
	}
	if u.Error != nil {
		t.status.Error = *u.Error
	}
	if u.ItemCount != nil {
		v := *u.ItemCount
		t.status.ItemCount = &v
	}
}

// SetPhaseProgress reports phase-local progress (0..100) for phase and maps it
// onto the overall bar.
func (t *Tracker) SetPhaseProgress(phase Phase, local float64, message string) error {
	if _, ok := phaseRanges[phase]; !ok {
		return fmt.Errorf("set %s progress: %w", phase, ErrNoProgressRange)
	}
	local = clampPercent(local)
	overall := MapProgress(phase, local)
	return t.Update(StatusUpdate{
		Phase:         &phase,
		Message:       &message,
		Progress:      &overall,
		PhaseProgress: &local,
	})
}

// InitRegionTracking starts min-aggregation over the given regions, each at 0.
func (t *Tracker) InitRegionTracking(regions []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.order = make([]string, 0, len(regions))
	t.regions = make(map[string]*RegionProgress, len(regions))
	for _, name := range regions {
		if _, dup := t.regions[name]; dup {
			continue
		}
		t.order = append(t.order, name)
		t.regions[name] = &RegionProgress{Region: name, State: RegionRunning}
	}
	t.tracking = true
	t.aggregateLocked()
	t.emitLocked(t.scanEventLocked(StagePhaseUpdate, t.clock.Now()))
}

// UpdateRegionProgress records a region's progress and recomputes the overall
// status from the slowest region. Calls are ignored while tracking is inactive
// or for regions that were not registered.
func (t *Tracker) UpdateRegionProgress(region string, progress float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rp := t.regionLocked(region)
	if rp == nil {
		return
	}
	rp.Progress = clampPercent(progress)
	rp.Message = message
	t.aggregateLocked()
	t.emitLocked(t.regionEventLocked(StageRegionProgress, rp, 0, 0))
}

// FinishRegion marks a region done, or failed when err is non-nil. A failed
// region keeps the progress it stalled at.
func (t *Tracker) FinishRegion(region string, items, errorCount int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rp := t.regionLocked(region)
	if rp == nil {
		return
	}
	stage := StageRegionDone
	if err != nil {
		rp.State = RegionFailed
		rp.Message = "failed: " + err.Error()
		stage = StageRegionError
	} else {
		rp.State = RegionDone
		rp.Progress = 100
	}
	t.aggregateLocked()
	t.emitLocked(t.regionEventLocked(stage, rp, items, errorCount))
}

// ClearRegionTracking stops aggregation. The last region snapshot stays in
// the status until the next scan starts.
func (t *Tracker) ClearRegionTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracking = false
}

func (t *Tracker) regionLocked(region string) *RegionProgress {
	if !t.tracking {
		return nil
	}
	return t.regions[region]
}

// aggregateLocked picks the slowest region; ties resolve to the first
// registered one.
func (t *Tracker) aggregateLocked() {
	snapshot := make([]RegionProgress, 0, len(t.order))
	var slowest *RegionProgress
	for _, name := range t.order {
		rp := t.regions[name]
		snapshot = append(snapshot, *rp)
		if slowest == nil || rp.Progress < slowest.Progress {
			slowest = rp
		}
	}
	t.status.Regions = snapshot
	if slowest == nil {
		return
	}
	t.status.Message = slowest.Message
	t.status.PhaseProgress = slowest.Progress
	t.status.Progress = MapProgress(PhaseFetching, slowest.Progress)
}

func (t *Tracker) scanEventLocked(stage Stage, now time.Time) Event {
	evt := Event{
		TS:       now,
		Stage:    stage,
		Phase:    t.status.Phase,
		Progress: t.status.Progress,
		Note:     t.status.Message,
	}
	switch stage {
	case StageScanDone:
		if t.status.ItemCount != nil {
			evt.Items = int64(*t.status.ItemCount)
		}
		evt.Dur = t.elapsedLocked()
	case StageScanError:
		evt.Note = t.status.Error
		evt.Dur = t.elapsedLocked()
	}
	return evt
}

func (t *Tracker) regionEventLocked(stage Stage, rp *RegionProgress, items, errorCount int) Event {
	return Event{
		TS:       t.clock.Now(),
		Stage:    stage,
		Phase:    t.status.Phase,
		Region:   rp.Region,
		Progress: rp.Progress,
		Items:    int64(items),
		Errors:   int64(errorCount),
		Dur:      t.elapsedLocked(),
		Note:     rp.Message,
	}
}

func (t *Tracker) elapsedLocked() time.Duration {
	if t.status.StartedAt == nil {
		return 0
	}
	end := t.clock.Now()
	if t.status.CompletedAt != nil {
		end = *t.status.CompletedAt
	}
	if d := end.Sub(*t.status.StartedAt); d > 0 {
		return d
	}
	return 0
}

func (t *Tracker) emitLocked(evt Event) {
	if t.emitter == nil || t.status.ScanID == "" {
		return
	}
	id, err := uuid.Parse(t.status.ScanID)
	if err != nil {
		t.logger.Debug("skipping progress event for non-uuid scan id",
			zap.String("scan_id", t.status.ScanID), zap.Error(err))
		return
	}
	evt.ScanID = UUIDToBytes(id)
	t.emitter.Emit(evt)
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

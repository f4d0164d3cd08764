package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageScanStart      Stage = "SCAN_START"
	StagePhaseUpdate    Stage = "PHASE_UPDATE"
	StageRegionProgress Stage = "REGION_PROGRESS"
	StageRegionDone     Stage = "REGION_DONE"
	StageRegionError    Stage = "REGION_ERROR"
	StageScanDone       Stage = "SCAN_DONE"
	StageScanError      Stage = "SCAN_ERROR"
)

// Event captures a single step of scan progress.
type Event struct {
	// ScanID identifies the scan run using the 16-byte UUID form.
	ScanID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or region milestone occurred.
	Stage Stage
	// Phase is the scan phase at the time of the event.
	Phase Phase
	// Region scopes region events to a configured region name.
	Region string
	// Progress is the region progress for region events and the overall
	// progress otherwise.
	Progress float64
	// Items counts produced items (region done, scan done).
	Items int64
	// Errors counts non-fatal errors (region done).
	Errors int64
	// Dur captures elapsed time for completions.
	Dur time.Duration
	// Note carries the human-readable message or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ScanID == [16]byte{} {
		return errors.New("scan id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageScanStart, StagePhaseUpdate, StageScanDone, StageScanError:
	case StageRegionProgress, StageRegionDone, StageRegionError:
		if e.Region == "" {
			return fmt.Errorf("%s requires region", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return errors.New("progress must be within 0..100")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ScanUUID converts the binary scan ID to uuid.UUID for repositories.
func (e Event) ScanUUID() uuid.UUID {
	return uuid.UUID(e.ScanID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

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
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StagePageDone      Stage = "PAGE_DONE"
	StageRecordFound   Stage = "RECORD_FOUND"
	StageDetailDone    Stage = "DETAIL_DONE"
	StageChallengeDone Stage = "CHALLENGE_DONE"
)

// Result labels the outcome of a detail fetch or challenge solve.
type Result string

// Supported results.
const (
	ResultSuccess  Result = "success"
	ResultFailed   Result = "failed"
	ResultDeferred Result = "deferred"
	ResultSolved   Result = "solved"
)

// Event captures a single milestone of crawl progress.
type Event struct {
	// RunID uniquely identifies a crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Phase scopes the event to the discovery or detail stage of the run.
	Phase string
	// Page is the 1-based result page number for page events.
	Page int
	// Rows carries the row count of a completed page.
	Rows int
	// URL is the tender url for record and detail events.
	URL string
	// TenderNo is the site-assigned tender number, when known.
	TenderNo string
	// Result is the outcome label for detail and challenge events.
	Result Result
	// Dur captures execution latency for details and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone:
		if e.Page < 1 {
			return errors.New("page done requires a page number")
		}
	case StageRecordFound:
		if e.URL == "" {
			return errors.New("record found requires a url")
		}
	case StageDetailDone:
		if e.Result == "" {
			return errors.New("detail done requires a result")
		}
	case StageChallengeDone:
		if e.Result == "" {
			return errors.New("challenge done requires a result")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

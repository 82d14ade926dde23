// Package queue provides the durable, transactional per-lane queue at the
// heart of the pipeline, together with the acknowledger that applies retry
// and classification policy to failed records, and the demand-driven poller
// that feeds consumers.
//
// The claim operation is the only synchronization primitive in the system:
// selection and the pending->processing flip happen in one transaction, so
// two concurrent consumers can never claim the same record.
package queue

import (
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// Lane is one of the independent processing tracks an event is routed to.
type Lane string

// Processing lanes. Cross-lane ordering is undefined by design.
const (
	LaneGeneral     Lane = "general"
	LaneRealtime    Lane = "realtime"
	LaneCrossDomain Lane = "cross_domain"
)

// Lanes lists every lane, used to provision per-lane tables.
var Lanes = []Lane{LaneGeneral, LaneRealtime, LaneCrossDomain}

// Valid returns true for a recognized lane.
func (l Lane) Valid() bool {
	switch l {
	case LaneGeneral, LaneRealtime, LaneCrossDomain:
		return true
	}
	return false
}

// Status is the lifecycle state of a queue record.
type Status string

// Record lifecycle states.
const (
	// StatusPending records are claimable.
	StatusPending Status = "pending"

	// StatusProcessing records are held by exactly one consumer.
	StatusProcessing Status = "processing"

	// StatusRetrying records re-enter pending once their RetryAt passes.
	StatusRetrying Status = "retrying"

	// StatusFailed records get no further automatic retry but may be
	// reconsidered manually or by a scheduled sweep.
	StatusFailed Status = "failed"

	// StatusDeadLetter is terminal; records are retained for operators.
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether no automatic transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusDeadLetter
}

// Record is one durable queue entry. ID matches the enclosed event's ID.
type Record struct {
	ID           string         `json:"id"`
	Data         []byte         `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
	Status       Status         `json:"status"`
	Attempts     int            `json:"attempts"`
	PipelineType Lane           `json:"pipeline_type"`
	Priority     event.Priority `json:"priority"`

	// RetryAt is when a retrying record becomes claimable again.
	// Durable so retries survive a process restart mid-delay.
	RetryAt time.Time `json:"retry_at,omitzero"`
}

// NewRecord builds a pending record for an event bound to a lane.
func NewRecord(evt *event.Event, lane Lane) (*Record, error) {
	data, err := evt.Marshal()
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:           evt.ID,
		Data:         data,
		CreatedAt:    time.Now(),
		Status:       StatusPending,
		Attempts:     0,
		PipelineType: lane,
		Priority:     evt.Priority,
	}, nil
}

// Event deserializes the enclosed event.
func (r *Record) Event() (*event.Event, error) {
	return event.Unmarshal(r.Data)
}

// Stats reports per-status record counts for one lane.
// Reads are non-destructive: computing stats never consumes queue content.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"dead_letter"`
	Total      int `json:"total"`
}

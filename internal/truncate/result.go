package truncate

import "github.com/roach88/linktrunc/internal/checkpoint"

// Outcome summarizes how a run ended.
type Outcome string

const (
	// OutcomeSafePoint means a truncate-before value was found.
	OutcomeSafePoint Outcome = "safe_point"

	// OutcomeNothingToTruncate means no dead link precedes the first
	// consumer position or live link.
	OutcomeNothingToTruncate Outcome = "nothing_to_truncate"

	// OutcomeBlocked means a consumer position was unknown or behind.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeFailed means the run was aborted by an error.
	OutcomeFailed Outcome = "failed"
)

// ConsumerKind identifies the kind of downstream consumer.
type ConsumerKind string

const (
	ConsumerSubscription     ConsumerKind = "subscription"
	ConsumerProjection       ConsumerKind = "projection"
	ConsumerSystemProjection ConsumerKind = "system_projection"
)

// Consumer records the position observed for one consumer during a run.
type Consumer struct {
	Kind       ConsumerKind          `json:"kind"`
	Name       string                `json:"name"`
	Checkpoint string                `json:"checkpoint"`
	Relevant   bool                  `json:"relevant"`
	Position   checkpoint.Checkpoint `json:"-"`
}

// Request asks for a safe truncation point.
type Request struct {
	Stream string
	Start  int64
	Commit bool
}

// Result describes one run. It is filled in as far as the run got, so it
// is meaningful alongside an error too.
type Result struct {
	Stream                 string     `json:"stream"`
	RequestedStart         int64      `json:"requested_start"`
	Start                  int64      `json:"start"`
	PreviousTruncateBefore *int64     `json:"previous_truncate_before,omitempty"`
	EndExclusive           *int64     `json:"end_exclusive,omitempty"`
	Candidate              *int64     `json:"candidate,omitempty"`
	TruncateBefore         *int64     `json:"truncate_before,omitempty"`
	Outcome                Outcome    `json:"outcome"`
	Committed              bool       `json:"committed"`
	Reason                 string     `json:"reason,omitempty"`
	Consumers              []Consumer `json:"consumers"`
	PagesRead              int        `json:"pages_read"`
	EventsExamined         int64      `json:"events_examined"`
}

func (r *Result) observe(kind ConsumerKind, name string, cp checkpoint.Checkpoint, relevant bool) {
	r.Consumers = append(r.Consumers, Consumer{
		Kind:       kind,
		Name:       name,
		Checkpoint: cp.String(),
		Relevant:   relevant,
		Position:   cp,
	})
}

func int64Ptr(v int64) *int64 { return &v }

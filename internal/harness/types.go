package harness

import "github.com/roach88/linktrunc/internal/truncate"

// RunReport is the observable outcome of one flow step.
type RunReport struct {
	Step                   int                 `json:"step"`
	RequestedStart         int64               `json:"requested_start"`
	Commit                 bool                `json:"commit"`
	Outcome                string              `json:"outcome"`
	Error                  string              `json:"error,omitempty"`
	Start                  int64               `json:"start"`
	PreviousTruncateBefore *int64              `json:"previous_truncate_before,omitempty"`
	EndExclusive           *int64              `json:"end_exclusive,omitempty"`
	Candidate              *int64              `json:"candidate,omitempty"`
	TruncateBefore         *int64              `json:"truncate_before,omitempty"`
	Committed              bool                `json:"committed"`
	Consumers              []truncate.Consumer `json:"consumers"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if every expect clause and assertion holds.
	Pass bool `json:"pass"`

	// Runs holds one report per flow step, in order.
	Runs []RunReport `json:"runs"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// StoredTruncateBefore is the $tb left in metadata after the flow.
	StoredTruncateBefore *int64 `json:"stored_truncate_before,omitempty"`

	// MetadataVersion is the metadata stream version after the flow.
	MetadataVersion int64 `json:"metadata_version"`

	// MetadataWrites counts metadata writes issued during the flow.
	MetadataWrites int `json:"metadata_writes"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunReport{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func reportFrom(step int, req truncate.Request, res *truncate.Result, err error) RunReport {
	return RunReport{
		Step:                   step,
		RequestedStart:         req.Start,
		Commit:                 req.Commit,
		Outcome:                string(res.Outcome),
		Error:                  string(truncate.CodeOf(err)),
		Start:                  res.Start,
		PreviousTruncateBefore: res.PreviousTruncateBefore,
		EndExclusive:           res.EndExclusive,
		Candidate:              res.Candidate,
		TruncateBefore:         res.TruncateBefore,
		Committed:              res.Committed,
		Consumers:              res.Consumers,
	}
}

package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the runs for debugging context.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Runs     []RunReport // All runs for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nRuns:\n")
	for _, r := range e.Runs {
		fmt.Fprintf(&buf, "  [%d] %s %s candidate=%s truncate_before=%s\n",
			r.Step, r.Outcome, r.Error, fmtPtr(r.Candidate), fmtPtr(r.TruncateBefore))
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertStoredTruncateBefore:
			err = assertStoredTruncateBefore(result, a)
		case AssertConsumer:
			err = assertConsumer(result, a)
		case AssertMetadataWrites:
			err = assertMetadataWrites(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertStoredTruncateBefore(result *Result, a Assertion) error {
	if equalPtr(result.StoredTruncateBefore, a.Value) {
		return nil
	}
	return &AssertionError{
		Type:     AssertStoredTruncateBefore,
		Expected: fmtPtr(a.Value),
		Actual:   fmtPtr(result.StoredTruncateBefore),
		Runs:     result.Runs,
	}
}

func assertConsumer(result *Result, a Assertion) error {
	if a.Run >= len(result.Runs) {
		return &AssertionError{
			Type:     AssertConsumer,
			Expected: fmt.Sprintf("run %d", a.Run),
			Actual:   fmt.Sprintf("%d runs", len(result.Runs)),
			Runs:     result.Runs,
		}
	}
	for _, c := range result.Runs[a.Run].Consumers {
		if c.Name != a.Name {
			continue
		}
		if c.Checkpoint != a.Checkpoint {
			return &AssertionError{
				Type:     AssertConsumer,
				Expected: fmt.Sprintf("%s at %s", a.Name, a.Checkpoint),
				Actual:   fmt.Sprintf("%s at %s", c.Name, c.Checkpoint),
				Runs:     result.Runs,
			}
		}
		if a.Relevant != nil && c.Relevant != *a.Relevant {
			return &AssertionError{
				Type:     AssertConsumer,
				Expected: fmt.Sprintf("%s relevant=%t", a.Name, *a.Relevant),
				Actual:   fmt.Sprintf("%s relevant=%t", c.Name, c.Relevant),
				Runs:     result.Runs,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertConsumer,
		Expected: fmt.Sprintf("consumer %s in run %d", a.Name, a.Run),
		Actual:   "not observed",
		Runs:     result.Runs,
	}
}

func assertMetadataWrites(result *Result, a Assertion) error {
	if result.MetadataWrites == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertMetadataWrites,
		Expected: fmt.Sprintf("%d writes", a.Count),
		Actual:   fmt.Sprintf("%d writes", result.MetadataWrites),
		Runs:     result.Runs,
	}
}

package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/linktrunc/internal/stream"
)

// Scenario defines an end-to-end truncation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Stream is the link stream every flow step runs against.
	Stream string `yaml:"stream"`

	// Setup builds the store before the first step.
	Setup Setup `yaml:"setup"`

	// Options configure the engine.
	Options Options `yaml:"options,omitempty"`

	// Flow lists the engine runs, in order, against the same store.
	Flow []RunStep `yaml:"flow"`

	// Assertions validate the final store state and observed consumers.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup describes the initial store contents.
type Setup struct {
	// Links are the link kinds at offsets 0..n-1.
	Links []string `yaml:"links"`

	// TruncateBefore is an existing $tb value.
	TruncateBefore *int64 `yaml:"truncate_before,omitempty"`

	Subscriptions []SubscriptionSetup `yaml:"subscriptions,omitempty"`
	Projections   []ProjectionSetup   `yaml:"projections,omitempty"`
}

// SubscriptionSetup registers a persistent subscription group.
type SubscriptionSetup struct {
	Group string `yaml:"group"`

	// Checkpoint is the last offset the group processed. Absent means the
	// group has never checkpointed.
	Checkpoint *int64 `yaml:"checkpoint,omitempty"`
}

// ProjectionSetup registers a continuous projection. At most one of the
// checkpoint fields may be set; none means no checkpoint.
type ProjectionSetup struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query,omitempty"`

	// AtLink checkpoints at the global position of the link at this offset.
	AtLink *int64 `yaml:"at_link,omitempty"`

	// Position checkpoints at an explicit global position.
	Position *Position `yaml:"position,omitempty"`

	// Streams checkpoints per stream.
	Streams map[string]int64 `yaml:"streams,omitempty"`

	// Raw is checkpoint metadata written verbatim.
	Raw string `yaml:"raw,omitempty"`
}

// Position is a global log position.
type Position struct {
	Commit  int64 `yaml:"commit"`
	Prepare int64 `yaml:"prepare"`
}

// Options configure the engine for a scenario.
type Options struct {
	PageSize     int      `yaml:"page_size,omitempty"`
	IgnoreSystem []string `yaml:"ignore_system,omitempty"`
}

// RunStep is one FindSafePoint call.
type RunStep struct {
	Start  int64         `yaml:"start"`
	Commit bool          `yaml:"commit"`
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a run.
type ExpectClause struct {
	// Outcome is the expected outcome (safe_point, nothing_to_truncate,
	// blocked, failed).
	Outcome string `yaml:"outcome"`

	// Error is the expected error code, if any.
	Error string `yaml:"error,omitempty"`

	// TruncateBefore is the expected proposed value, if any.
	TruncateBefore *int64 `yaml:"truncate_before,omitempty"`
}

// Assertion validates final state or an observed consumer.
type Assertion struct {
	// Type specifies the assertion type:
	// - "stored_truncate_before": $tb in metadata equals Value (nil: unset)
	// - "consumer": run Run observed consumer Name at Checkpoint
	// - "metadata_writes": metadata was written Count times
	Type string `yaml:"type"`

	// Value is the expected $tb (used by stored_truncate_before).
	Value *int64 `yaml:"value,omitempty"`

	// Run is the flow step index (used by consumer).
	Run int `yaml:"run,omitempty"`

	// Name is the consumer name (used by consumer).
	Name string `yaml:"name,omitempty"`

	// Checkpoint is the expected rendered checkpoint (used by consumer).
	Checkpoint string `yaml:"checkpoint,omitempty"`

	// Relevant is the expected relevance (used by consumer, optional).
	Relevant *bool `yaml:"relevant,omitempty"`

	// Count is the expected number of writes (used by metadata_writes).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStoredTruncateBefore = "stored_truncate_before"
	AssertConsumer             = "consumer"
	AssertMetadataWrites       = "metadata_writes"
)

// Link kinds accepted in Setup.Links.
const (
	LinkLive     = "live"
	LinkDead     = "dead"
	LinkMetadata = "metadata"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Stream == "" {
		return fmt.Errorf("stream is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, kind := range s.Setup.Links {
		switch kind {
		case LinkLive, LinkDead, LinkMetadata:
		default:
			return fmt.Errorf("setup.links[%d]: unknown link kind %q", i, kind)
		}
	}
	for i, sub := range s.Setup.Subscriptions {
		if sub.Group == "" {
			return fmt.Errorf("setup.subscriptions[%d]: group is required", i)
		}
	}
	for i, p := range s.Setup.Projections {
		if err := validateProjection(i, &p); err != nil {
			return err
		}
	}
	if s.Options.PageSize < 0 {
		return fmt.Errorf("options.page_size must be non-negative")
	}

	for i, step := range s.Flow {
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("flow[%d].expect: outcome is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, len(s.Flow)); err != nil {
			return err
		}
	}
	return nil
}

func validateProjection(index int, p *ProjectionSetup) error {
	if p.Name == "" {
		return fmt.Errorf("setup.projections[%d]: name is required", index)
	}
	if !stream.IsSystem(p.Name) && p.Query == "" {
		return fmt.Errorf("setup.projections[%d]: query is required for user projections", index)
	}
	set := 0
	if p.AtLink != nil {
		set++
	}
	if p.Position != nil {
		set++
	}
	if p.Streams != nil {
		set++
	}
	if p.Raw != "" {
		set++
	}
	if set > 1 {
		return fmt.Errorf("setup.projections[%d]: at most one of at_link, position, streams, raw", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStoredTruncateBefore:
	case AssertConsumer:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for consumer", index)
		}
		if a.Checkpoint == "" {
			return fmt.Errorf("assertions[%d]: checkpoint is required for consumer", index)
		}
		if a.Run < 0 || a.Run >= runs {
			return fmt.Errorf("assertions[%d]: run %d out of range", index, a.Run)
		}
	case AssertMetadataWrites:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for metadata_writes", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

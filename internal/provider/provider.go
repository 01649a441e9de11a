// Package provider reports, per consumer, how far that consumer has read
// a link stream.
//
// Providers never fail: anything that prevents a reliable answer is logged
// and reported as checkpoint.Unknown, which blocks truncation downstream.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/linktrunc/internal/checkpoint"
	"github.com/roach88/linktrunc/internal/eventstore"
	"github.com/roach88/linktrunc/internal/stream"
)

// Provider is a consumer whose position on a stream can be looked up.
type Provider interface {
	Name() string
	CheckpointForStream(ctx context.Context, stream string) checkpoint.Checkpoint
}

// PersistentSubscription reads the checkpoint of one persistent
// subscription group.
type PersistentSubscription struct {
	group  string
	reader eventstore.Reader
	logger *slog.Logger
}

// NewPersistentSubscription creates a provider for a subscription group.
func NewPersistentSubscription(group string, r eventstore.Reader, logger *slog.Logger) *PersistentSubscription {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistentSubscription{group: group, reader: r, logger: logger}
}

// Name returns the group name.
func (p *PersistentSubscription) Name() string { return p.group }

// CheckpointForStream returns Direct(n) from the last checkpoint event, or
// Unknown when there is none.
func (p *PersistentSubscription) CheckpointForStream(ctx context.Context, name string) checkpoint.Checkpoint {
	cs := stream.SubscriptionCheckpoint(name, p.group)
	ev, err := p.reader.ReadLast(ctx, cs)
	if err != nil {
		p.logger.Info("could not load subscription checkpoint", "checkpoint_stream", cs, "error", err)
		return checkpoint.Unknown
	}
	cp, err := ParseSubscriptionCheckpoint(ev.Data)
	if err != nil {
		p.logger.Warn("unreadable subscription checkpoint", "checkpoint_stream", cs, "error", err)
		return checkpoint.Unknown
	}
	return cp
}

// ParseSubscriptionCheckpoint decodes the body of a subscription checkpoint
// event: a decimal event number, optionally JSON quoted.
func ParseSubscriptionCheckpoint(data []byte) (checkpoint.Checkpoint, error) {
	s := strings.TrimSpace(string(data))
	s = strings.Trim(s, `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return checkpoint.Unknown, fmt.Errorf("parse subscription checkpoint %q: %w", s, err)
	}
	if n < 0 {
		return checkpoint.Unknown, fmt.Errorf("parse subscription checkpoint: negative offset %d", n)
	}
	return checkpoint.Direct(n), nil
}

// Projection reads the checkpoint of one projection.
type Projection struct {
	name   string
	reader eventstore.Reader
	logger *slog.Logger
}

// NewProjection creates a provider for a projection.
func NewProjection(name string, r eventstore.Reader, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{name: name, reader: r, logger: logger}
}

// Name returns the projection name.
func (p *Projection) Name() string { return p.name }

// IsSystem reports whether this is one of the server's own projections.
func (p *Projection) IsSystem() bool { return stream.IsSystem(p.name) }

// CheckpointForStream returns the projection position from the metadata of
// its last checkpoint event.
func (p *Projection) CheckpointForStream(ctx context.Context, name string) checkpoint.Checkpoint {
	cs := stream.ProjectionCheckpoint(p.name)
	ev, err := p.reader.ReadLast(ctx, cs)
	if err != nil {
		p.logger.Warn("could not load projection checkpoint", "checkpoint_stream", cs, "error", err)
		return checkpoint.Unknown
	}
	cp, err := ParseProjectionCheckpoint(ev.Metadata, name)
	if err != nil {
		p.logger.Error("error loading projection checkpoint", "checkpoint_stream", cs, "error", err)
		return checkpoint.Unknown
	}
	return cp
}

// ParseProjectionCheckpoint decodes projection checkpoint metadata.
//
// A global position ($c and $p) yields Logical. Otherwise a per-stream map
// ($s) yields Direct for the stream, or NotApplicable when the stream is
// absent from it. Anything else is Unknown.
func ParseProjectionCheckpoint(metadata []byte, name string) (checkpoint.Checkpoint, error) {
	var md struct {
		Version string           `json:"$v"`
		Streams map[string]int64 `json:"$s"`
		Commit  *int64           `json:"$c"`
		Prepare *int64           `json:"$p"`
	}
	if len(metadata) == 0 {
		return checkpoint.Unknown, fmt.Errorf("empty checkpoint metadata")
	}
	if err := json.Unmarshal(metadata, &md); err != nil {
		return checkpoint.Unknown, fmt.Errorf("decode checkpoint metadata: %w", err)
	}

	if md.Commit != nil && md.Prepare != nil {
		return checkpoint.Logical(*md.Commit, *md.Prepare), nil
	}
	if md.Streams != nil {
		if off, ok := md.Streams[name]; ok {
			return checkpoint.Direct(off), nil
		}
		return checkpoint.NotApplicable, nil
	}
	return checkpoint.Unknown, nil
}

// IsRelevant reports whether a projection query may read the stream: the
// query text mentions the stream's category. Both sides are compared in
// Unicode NFC form.
func IsRelevant(query, name string) bool {
	category := stream.Category(name)
	if category == "" {
		return true
	}
	return strings.Contains(norm.NFC.String(query), norm.NFC.String(category))
}

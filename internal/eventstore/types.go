package eventstore

import (
	"context"
	"errors"

	"github.com/roach88/linktrunc/internal/stream"
)

// NoVersion is the metadata version of a stream that has never had
// metadata written.
const NoVersion int64 = -1

var (
	// ErrStreamNotFound is returned by ReadLast when the stream is missing
	// or empty.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrWrongExpectedVersion is returned by SetMetadata when another
	// writer changed the metadata since it was read.
	ErrWrongExpectedVersion = errors.New("wrong expected version")

	// ErrProjectionNotFound is returned by Query for an unknown projection.
	ErrProjectionNotFound = errors.New("projection not found")
)

// RecordedEvent is a single event as stored.
type RecordedEvent struct {
	Stream   string
	Number   int64
	ID       string
	Type     string
	Data     []byte
	Metadata []byte
	Commit   int64
	Prepare  int64
}

// ResolvedEvent is an entry of a link stream read with link resolution.
// Link is the link record itself. Event is the target it points to and is
// nil when the target no longer exists.
type ResolvedEvent struct {
	Offset int64
	Link   *RecordedEvent
	Event  *RecordedEvent
}

// Resolved reports whether the entry points to an existing event.
func (e ResolvedEvent) Resolved() bool { return e.Event != nil }

// TargetType returns the type of the resolved event, or "" when unresolved.
func (e ResolvedEvent) TargetType() string {
	if e.Event == nil {
		return ""
	}
	return e.Event.Type
}

// LinkMetadata returns the metadata carried by the link record.
func (e ResolvedEvent) LinkMetadata() []byte {
	if e.Link != nil {
		return e.Link.Metadata
	}
	if e.Event != nil {
		return e.Event.Metadata
	}
	return nil
}

// IsDead reports whether the entry points to nothing useful: the target is
// gone, or it resolved to a metadata event.
func (e ResolvedEvent) IsDead() bool {
	return !e.Resolved() || e.TargetType() == stream.MetadataEventType
}

// Page is one forward read. Next is the offset to continue from.
type Page struct {
	Events      []ResolvedEvent
	Next        int64
	EndOfStream bool
}

// SubscriptionInfo describes one persistent subscription group.
type SubscriptionInfo struct {
	Stream string `json:"eventStreamId"`
	Group  string `json:"groupName"`
	Status string `json:"status"`
}

// ProjectionInfo describes one continuous projection.
type ProjectionInfo struct {
	Name   string `json:"name"`
	Mode   string `json:"mode"`
	Status string `json:"status"`
}

// IsSystem reports whether the projection is one of the server's own.
func (p ProjectionInfo) IsSystem() bool { return stream.IsSystem(p.Name) }

// Reader reads streams.
type Reader interface {
	// ReadForward returns up to count entries starting at from.
	// A missing stream reads as an empty page at end of stream.
	ReadForward(ctx context.Context, stream string, from int64, count int, resolveLinks bool) (Page, error)

	// ReadLast returns the last event of a stream, or ErrStreamNotFound.
	ReadLast(ctx context.Context, stream string) (RecordedEvent, error)
}

// MetadataStore reads and writes stream metadata.
type MetadataStore interface {
	GetMetadata(ctx context.Context, stream string) (StreamMetadata, error)

	// SetMetadata replaces the metadata if its version still equals
	// expectedVersion, otherwise it fails with ErrWrongExpectedVersion.
	SetMetadata(ctx context.Context, stream string, expectedVersion int64, md StreamMetadata) error
}

// Store is a connection to the event store.
type Store interface {
	Reader
	MetadataStore
	Close() error
}

// SubscriptionManager lists persistent subscription groups.
type SubscriptionManager interface {
	ListSubscriptions(ctx context.Context, stream string) ([]SubscriptionInfo, error)
}

// ProjectionManager lists continuous projections and their queries.
type ProjectionManager interface {
	ListContinuous(ctx context.Context) ([]ProjectionInfo, error)
	Query(ctx context.Context, name string) (string, error)
}

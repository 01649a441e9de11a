package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/roach88/linktrunc/internal/stream"
)

// GRPCStore is a Store backed by the EventStoreDB gRPC client.
type GRPCStore struct {
	client *esdb.Client
}

// DialGRPC connects using an esdb:// connection string.
func DialGRPC(connection string) (*GRPCStore, error) {
	cfg, err := esdb.ParseConnectionString(connection)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	client, err := esdb.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return &GRPCStore{client: client}, nil
}

// Close releases the underlying connection.
func (s *GRPCStore) Close() error {
	return s.client.Close()
}

// ReadForward implements Reader.
func (s *GRPCStore) ReadForward(ctx context.Context, name string, from int64, count int, resolveLinks bool) (Page, error) {
	page := Page{Events: []ResolvedEvent{}, Next: from}
	if count <= 0 {
		return page, fmt.Errorf("read %s: count must be positive, got %d", name, count)
	}

	rs, err := s.client.ReadStream(ctx, name, esdb.ReadStreamOptions{
		Direction:      esdb.Forwards,
		From:           esdb.Revision(uint64(from)),
		ResolveLinkTos: resolveLinks,
	}, uint64(count))
	if err != nil {
		if isCode(err, esdb.ErrorCodeResourceNotFound) {
			page.EndOfStream = true
			return page, nil
		}
		return page, fmt.Errorf("read %s from %d: %w", name, from, err)
	}
	defer rs.Close()

	for {
		ev, err := rs.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isCode(err, esdb.ErrorCodeResourceNotFound) {
				page.EndOfStream = true
				return page, nil
			}
			return page, fmt.Errorf("read %s from %d: %w", name, from, err)
		}
		re := fromResolved(ev)
		page.Events = append(page.Events, re)
		page.Next = re.Offset + 1
	}

	page.EndOfStream = len(page.Events) < count
	return page, nil
}

// ReadLast implements Reader.
func (s *GRPCStore) ReadLast(ctx context.Context, name string) (RecordedEvent, error) {
	rs, err := s.client.ReadStream(ctx, name, esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}, 1)
	if err != nil {
		if isCode(err, esdb.ErrorCodeResourceNotFound) {
			return RecordedEvent{}, fmt.Errorf("read last %s: %w", name, ErrStreamNotFound)
		}
		return RecordedEvent{}, fmt.Errorf("read last %s: %w", name, err)
	}
	defer rs.Close()

	ev, err := rs.Recv()
	if errors.Is(err, io.EOF) || isCode(err, esdb.ErrorCodeResourceNotFound) {
		return RecordedEvent{}, fmt.Errorf("read last %s: %w", name, ErrStreamNotFound)
	}
	if err != nil {
		return RecordedEvent{}, fmt.Errorf("read last %s: %w", name, err)
	}
	return fromRecorded(ev.OriginalEvent()), nil
}

// GetMetadata implements MetadataStore. The metadata stream is read raw so
// keys linktrunc does not understand survive a rewrite.
func (s *GRPCStore) GetMetadata(ctx context.Context, name string) (StreamMetadata, error) {
	ev, err := s.ReadLast(ctx, stream.Metadata(name))
	if errors.Is(err, ErrStreamNotFound) {
		return EmptyMetadata(), nil
	}
	if err != nil {
		return StreamMetadata{}, fmt.Errorf("get metadata: %w", err)
	}
	return ParseStreamMetadata(ev.Number, ev.Data)
}

// SetMetadata implements MetadataStore.
func (s *GRPCStore) SetMetadata(ctx context.Context, name string, expectedVersion int64, md StreamMetadata) error {
	body, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var expected esdb.ExpectedRevision = esdb.NoStream{}
	if expectedVersion != NoVersion {
		expected = esdb.Revision(uint64(expectedVersion))
	}

	_, err = s.client.AppendToStream(ctx, stream.Metadata(name), esdb.AppendToStreamOptions{
		ExpectedRevision: expected,
	}, esdb.EventData{
		EventID:     uuid.New(),
		EventType:   stream.MetadataEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        body,
	})
	if err != nil {
		if isCode(err, esdb.ErrorCodeWrongExpectedVersion) {
			return fmt.Errorf("set metadata %s at version %d: %w", name, expectedVersion, ErrWrongExpectedVersion)
		}
		return fmt.Errorf("set metadata %s: %w", name, err)
	}
	return nil
}

func isCode(err error, code esdb.ErrorCode) bool {
	var esErr *esdb.Error
	if errors.As(err, &esErr) {
		return esErr.Code() == code
	}
	return false
}

func fromResolved(ev *esdb.ResolvedEvent) ResolvedEvent {
	var out ResolvedEvent
	if ev.Link != nil {
		link := fromRecorded(ev.Link)
		out.Link = &link
		out.Offset = link.Number
	}
	if ev.Event != nil {
		target := fromRecorded(ev.Event)
		out.Event = &target
		if ev.Link == nil {
			out.Offset = target.Number
		}
	}
	return out
}

func fromRecorded(ev *esdb.RecordedEvent) RecordedEvent {
	return RecordedEvent{
		Stream:   ev.StreamID,
		Number:   int64(ev.EventNumber),
		ID:       ev.EventID.String(),
		Type:     ev.EventType,
		Data:     ev.Data,
		Metadata: ev.UserMetadata,
		Commit:   int64(ev.Position.Commit),
		Prepare:  int64(ev.Position.Prepare),
	}
}

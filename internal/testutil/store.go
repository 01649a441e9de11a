package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/linktrunc/internal/eventstore"
	"github.com/roach88/linktrunc/internal/session"
	"github.com/roach88/linktrunc/internal/stream"
)

// LinkKind describes what a link in a link stream resolves to.
type LinkKind int

const (
	// Live links resolve to a regular event.
	Live LinkKind = iota
	// Dead links point at an event that no longer exists.
	Dead
	// MetadataLink links resolve to a $metadata event and count as dead.
	MetadataLink
)

// Op names a store operation for fault injection.
type Op string

const (
	OpReadForward       Op = "read_forward"
	OpReadLast          Op = "read_last"
	OpGetMetadata       Op = "get_metadata"
	OpSetMetadata       Op = "set_metadata"
	OpListSubscriptions Op = "list_subscriptions"
	OpListProjections   Op = "list_projections"
	OpQuery             Op = "query"
)

// PositionStep is the distance between the global positions of
// consecutive links. The link at offset n sits at (n+1)*PositionStep.
const PositionStep = 100

// LinkPosition returns the commit and prepare positions Store assigns to
// the link at offset.
func LinkPosition(offset int64) (commit, prepare int64) {
	p := (offset + 1) * PositionStep
	return p, p
}

// Store is an in-memory event store implementing every collaborator
// interface linktrunc uses, with per-operation fault injection.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	streams       map[string][]eventstore.ResolvedEvent
	metadata      map[string]eventstore.StreamMetadata
	subscriptions []eventstore.SubscriptionInfo
	projections   []eventstore.ProjectionInfo
	queries       map[string]string
	faults        map[string]error
	calls         map[Op]int
	closed        bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		streams:  make(map[string][]eventstore.ResolvedEvent),
		metadata: make(map[string]eventstore.StreamMetadata),
		queries:  make(map[string]string),
		faults:   make(map[string]error),
		calls:    make(map[Op]int),
	}
}

// AppendLinks appends links of the given kinds to a link stream.
// Every link carries link metadata with its global position.
func (s *Store) AppendLinks(name string, kinds ...LinkKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range kinds {
		offset := int64(len(s.streams[name]))
		commit, prepare := LinkPosition(offset)
		origin := fmt.Sprintf("%s-%d", stream.Category(name), offset)
		link := &eventstore.RecordedEvent{
			Stream:   name,
			Number:   offset,
			ID:       uuid.NewString(),
			Type:     "$>",
			Data:     []byte(fmt.Sprintf("0@%s", origin)),
			Metadata: []byte(fmt.Sprintf(`{"$v":"1:-1:1:4","$c":%d,"$p":%d,"$o":%q}`, commit, prepare, origin)),
			Commit:   commit,
			Prepare:  prepare,
		}

		ev := eventstore.ResolvedEvent{Offset: offset, Link: link}
		switch k {
		case Live:
			ev.Event = &eventstore.RecordedEvent{Stream: origin, Type: "TestEvent", Commit: commit, Prepare: prepare}
		case MetadataLink:
			ev.Event = &eventstore.RecordedEvent{Stream: stream.Metadata(origin), Type: stream.MetadataEventType, Commit: commit, Prepare: prepare}
		}
		s.streams[name] = append(s.streams[name], ev)
	}
}

// AppendEvent appends a plain event to a stream.
func (s *Store) AppendEvent(name, eventType string, data, metadata []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := int64(len(s.streams[name]))
	ev := &eventstore.RecordedEvent{
		Stream:   name,
		Number:   offset,
		ID:       uuid.NewString(),
		Type:     eventType,
		Data:     data,
		Metadata: metadata,
	}
	s.streams[name] = append(s.streams[name], eventstore.ResolvedEvent{Offset: offset, Event: ev})
}

// AddSubscription registers a persistent subscription group without a
// checkpoint.
func (s *Store) AddSubscription(name, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, eventstore.SubscriptionInfo{Stream: name, Group: group, Status: "Live"})
}

// SetSubscriptionCheckpoint registers the group if needed and writes a
// checkpoint event at offset.
func (s *Store) SetSubscriptionCheckpoint(name, group string, offset int64) {
	s.mu.Lock()
	known := false
	for _, sub := range s.subscriptions {
		if sub.Stream == name && sub.Group == group {
			known = true
			break
		}
	}
	s.mu.Unlock()

	if !known {
		s.AddSubscription(name, group)
	}
	s.AppendEvent(stream.SubscriptionCheckpoint(name, group), "$SubscriptionCheckpoint",
		[]byte(fmt.Sprintf("%d", offset)), nil)
}

// AddProjection registers a continuous projection with its query.
func (s *Store) AddProjection(name, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projections = append(s.projections, eventstore.ProjectionInfo{Name: name, Mode: "Continuous", Status: "Running"})
	s.queries[name] = query
}

// SetProjectionCheckpoint writes a projection checkpoint event whose
// metadata is the given JSON.
func (s *Store) SetProjectionCheckpoint(name string, metadata []byte) {
	s.AppendEvent(stream.ProjectionCheckpoint(name), "$ProjectionCheckpoint", []byte("{}"), metadata)
}

// SetProjectionPosition writes a checkpoint at a global position.
func (s *Store) SetProjectionPosition(name string, commit, prepare int64) {
	s.SetProjectionCheckpoint(name, []byte(fmt.Sprintf(`{"$v":"1","$c":%d,"$p":%d}`, commit, prepare)))
}

// SetProjectionStreams writes a checkpoint with per-stream positions.
func (s *Store) SetProjectionStreams(name string, positions map[string]int64) {
	body := `{"$v":"1","$s":{`
	first := true
	for _, k := range sortedKeys(positions) {
		if !first {
			body += ","
		}
		first = false
		body += fmt.Sprintf("%q:%d", k, positions[k])
	}
	body += "}}"
	s.SetProjectionCheckpoint(name, []byte(body))
}

// SetTruncateBefore stores a truncate-before value as another writer would.
func (s *Store) SetTruncateBefore(name string, tb int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md := s.metadataLocked(name).WithTruncateBefore(tb)
	md.Version++
	s.metadata[name] = md
}

// SetRawMetadata replaces the metadata body of a stream.
func (s *Store) SetRawMetadata(name string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, err := eventstore.ParseStreamMetadata(s.metadataLocked(name).Version+1, body)
	if err != nil {
		return err
	}
	s.metadata[name] = md
	return nil
}

// TruncateBefore returns the stored truncate-before value.
func (s *Store) TruncateBefore(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataLocked(name).TruncateBefore()
}

// MetadataVersion returns the current metadata version of a stream.
func (s *Store) MetadataVersion(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataLocked(name).Version
}

// Fail makes op fail with err. An empty key matches every stream.
func (s *Store) Fail(op Op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[faultKey(op, key)] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ReadForward implements eventstore.Reader. Entries before the stream's
// truncate-before are hidden.
func (s *Store) ReadForward(ctx context.Context, name string, from int64, count int, resolveLinks bool) (eventstore.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := eventstore.Page{Events: []eventstore.ResolvedEvent{}, Next: from}
	if err := s.enter(ctx, OpReadForward, name); err != nil {
		return page, err
	}
	if count <= 0 {
		return page, fmt.Errorf("read %s: count must be positive, got %d", name, count)
	}

	events := s.streams[name]
	if tb, ok := s.metadataLocked(name).TruncateBefore(); ok && from < tb {
		from = tb
	}
	if from < 0 {
		from = 0
	}
	end := from + int64(count)
	if end > int64(len(events)) {
		end = int64(len(events))
	}
	for i := from; i < end; i++ {
		ev := events[i]
		if !resolveLinks && ev.Link != nil {
			ev = eventstore.ResolvedEvent{Offset: ev.Offset, Event: ev.Link}
		}
		page.Events = append(page.Events, ev)
	}
	if end > from {
		page.Next = end
	} else {
		page.Next = from
	}
	page.EndOfStream = end >= int64(len(events))
	return page, nil
}

// ReadLast implements eventstore.Reader.
func (s *Store) ReadLast(ctx context.Context, name string) (eventstore.RecordedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpReadLast, name); err != nil {
		return eventstore.RecordedEvent{}, err
	}
	events := s.streams[name]
	if len(events) == 0 {
		return eventstore.RecordedEvent{}, fmt.Errorf("read last %s: %w", name, eventstore.ErrStreamNotFound)
	}
	last := events[len(events)-1]
	if last.Link != nil {
		return *last.Link, nil
	}
	return *last.Event, nil
}

// GetMetadata implements eventstore.MetadataStore.
func (s *Store) GetMetadata(ctx context.Context, name string) (eventstore.StreamMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpGetMetadata, name); err != nil {
		return eventstore.StreamMetadata{}, err
	}
	return s.metadataLocked(name), nil
}

// SetMetadata implements eventstore.MetadataStore.
func (s *Store) SetMetadata(ctx context.Context, name string, expectedVersion int64, md eventstore.StreamMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpSetMetadata, name); err != nil {
		return err
	}
	current := s.metadataLocked(name)
	if current.Version != expectedVersion {
		return fmt.Errorf("set metadata %s: expected %d, current %d: %w",
			name, expectedVersion, current.Version, eventstore.ErrWrongExpectedVersion)
	}
	md.Version = current.Version + 1
	s.metadata[name] = md
	return nil
}

// ListSubscriptions implements eventstore.SubscriptionManager.
func (s *Store) ListSubscriptions(ctx context.Context, name string) ([]eventstore.SubscriptionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpListSubscriptions, name); err != nil {
		return nil, err
	}
	out := []eventstore.SubscriptionInfo{}
	for _, sub := range s.subscriptions {
		if sub.Stream == name {
			out = append(out, sub)
		}
	}
	return out, nil
}

// ListContinuous implements eventstore.ProjectionManager.
func (s *Store) ListContinuous(ctx context.Context) ([]eventstore.ProjectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpListProjections, ""); err != nil {
		return nil, err
	}
	out := make([]eventstore.ProjectionInfo, len(s.projections))
	copy(out, s.projections)
	return out, nil
}

// Query implements eventstore.ProjectionManager.
func (s *Store) Query(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpQuery, name); err != nil {
		return "", err
	}
	q, ok := s.queries[name]
	if !ok {
		return "", fmt.Errorf("query %s: %w", name, eventstore.ErrProjectionNotFound)
	}
	return q, nil
}

// Session returns a session whose handles are all this store.
func (s *Store) Session() *session.Session {
	return session.FromHandles(s, s, s)
}

// Close implements eventstore.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// enter records the call and returns any injected fault. Caller holds mu.
func (s *Store) enter(ctx context.Context, op Op, name string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := s.faults[faultKey(op, name)]; ok {
		return err
	}
	if err, ok := s.faults[faultKey(op, "")]; ok {
		return err
	}
	return nil
}

func (s *Store) metadataLocked(name string) eventstore.StreamMetadata {
	md, ok := s.metadata[name]
	if !ok {
		return eventstore.EmptyMetadata()
	}
	return md
}

func faultKey(op Op, name string) string {
	return string(op) + "\x00" + name
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

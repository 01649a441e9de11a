// Package session owns the connections linktrunc needs for one
// invocation. Each handle is established on first use, at most once, and
// released by Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/roach88/linktrunc/internal/eventstore"
)

// ErrClosed is returned by handle accessors after Close.
var ErrClosed = errors.New("session closed")

// Dialer creates the handles of a session.
type Dialer struct {
	Store         func(ctx context.Context) (eventstore.Store, error)
	Subscriptions func(ctx context.Context) (eventstore.SubscriptionManager, error)
	Projections   func(ctx context.Context) (eventstore.ProjectionManager, error)
}

// Session holds the store connection and the two management handles.
// It is safe for concurrent use.
type Session struct {
	dial Dialer

	mu     sync.Mutex
	closed bool

	store         handle[eventstore.Store]
	subscriptions handle[eventstore.SubscriptionManager]
	projections   handle[eventstore.ProjectionManager]
}

// New creates a session that dials lazily.
func New(d Dialer) *Session {
	return &Session{dial: d}
}

// FromHandles creates a session around handles that already exist.
func FromHandles(store eventstore.Store, subs eventstore.SubscriptionManager, projs eventstore.ProjectionManager) *Session {
	return New(Dialer{
		Store: func(context.Context) (eventstore.Store, error) { return store, nil },
		Subscriptions: func(context.Context) (eventstore.SubscriptionManager, error) {
			return subs, nil
		},
		Projections: func(context.Context) (eventstore.ProjectionManager, error) {
			return projs, nil
		},
	})
}

// Store returns the store connection, dialing it on first use.
func (s *Session) Store(ctx context.Context) (eventstore.Store, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.store.get(ctx, "store", s.dial.Store)
}

// Subscriptions returns the subscription manager, creating it on first use.
func (s *Session) Subscriptions(ctx context.Context) (eventstore.SubscriptionManager, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.subscriptions.get(ctx, "subscription manager", s.dial.Subscriptions)
}

// Projections returns the projection manager, creating it on first use.
func (s *Session) Projections(ctx context.Context) (eventstore.ProjectionManager, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.projections.get(ctx, "projection manager", s.dial.Projections)
}

// Close releases every handle that was established. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, c := range []any{s.store.value(), s.subscriptions.value(), s.projections.value()} {
		if closer, ok := c.(io.Closer); ok && closer != nil {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// handle caches the outcome of a single creation attempt, error included.
type handle[T any] struct {
	mu   sync.Mutex
	done bool
	val  T
	err  error
}

func (h *handle[T]) get(ctx context.Context, what string, create func(context.Context) (T, error)) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.done {
		if create == nil {
			h.err = fmt.Errorf("%s: not configured", what)
		} else {
			h.val, h.err = create(ctx)
			if h.err != nil {
				h.err = fmt.Errorf("connect %s: %w", what, h.err)
			}
		}
		h.done = true
	}
	return h.val, h.err
}

func (h *handle[T]) value() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done || h.err != nil {
		return nil
	}
	return h.val
}

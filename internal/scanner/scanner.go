// Package scanner finds the last offset of a leading run of dead links in
// a link stream.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/linktrunc/internal/eventstore"
)

const (
	// DefaultPageSize is the number of entries read per page.
	DefaultPageSize = 4096

	// DefaultProgressInterval is the minimum time between progress logs.
	DefaultProgressInterval = 30 * time.Second

	// Unbounded as an end bound means "to the end of the stream".
	Unbounded int64 = math.MaxInt64
)

// Result is the outcome of a scan.
type Result struct {
	// Offset is the last dead link of the leading run. Valid when Found.
	Offset int64
	Found  bool

	// StoppedAt is the offset of the first entry that ended the scan, or
	// -1 when the scan ran to the end of the stream or the bound.
	StoppedAt int64

	Pages    int
	Examined int64
}

// Scanner walks a stream forward page by page.
type Scanner struct {
	reader           eventstore.Reader
	pageSize         int
	progressInterval time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPageSize sets the page size. Values below one are ignored.
func WithPageSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithProgressInterval sets how often progress is logged.
func WithProgressInterval(d time.Duration) Option {
	return func(s *Scanner) { s.progressInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithClock replaces time.Now for progress accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New creates a scanner reading through r.
func New(r eventstore.Reader, opts ...Option) *Scanner {
	s := &Scanner{
		reader:           r,
		pageSize:         DefaultPageSize,
		progressInterval: DefaultProgressInterval,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PageSize returns the configured page size.
func (s *Scanner) PageSize() int { return s.pageSize }

// Scan reads stream from start and returns the last offset of the leading
// run of dead links that lies strictly below end. The scan stops at the
// first live link or at end, whichever comes first.
func (s *Scanner) Scan(ctx context.Context, stream string, start, end int64) (Result, error) {
	res := Result{StoppedAt: -1}
	if end <= start {
		return res, nil
	}

	cursor := NewCursor(s.reader, stream, start, s.pageSize)
	lastReport := s.now()

	for !cursor.Done() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := cursor.Next(ctx)
		if err != nil {
			return res, fmt.Errorf("scan: %w", err)
		}
		res.Pages++

		for _, ev := range page.Events {
			if ev.Offset < start {
				continue
			}
			if ev.Offset >= end {
				s.logger.Debug("scan reached end bound", "stream", stream, "offset", ev.Offset, "end", end)
				res.StoppedAt = ev.Offset
				return res, nil
			}
			res.Examined++
			if !ev.IsDead() {
				s.logger.Info("found live link", "stream", stream, "offset", ev.Offset, "type", ev.TargetType())
				res.StoppedAt = ev.Offset
				return res, nil
			}
			res.Offset = ev.Offset
			res.Found = true
		}

		if now := s.now(); now.Sub(lastReport) >= s.progressInterval {
			s.logger.Info("scanning", "stream", stream, "offset", cursor.Offset(), "examined", res.Examined)
			lastReport = now
		}
	}
	return res, nil
}

// FirstAtOrAfter returns the offset of the first link from start whose
// link metadata position is at or past (commit, prepare). Links without a
// readable position count as a match. found is false when no such link
// exists.
func (s *Scanner) FirstAtOrAfter(ctx context.Context, stream string, start, commit, prepare int64) (int64, bool, error) {
	cursor := NewCursor(s.reader, stream, start, s.pageSize)
	for !cursor.Done() {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		page, err := cursor.Next(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("resolve position: %w", err)
		}
		for _, ev := range page.Events {
			if ev.Offset < start {
				continue
			}
			lm, err := eventstore.ParseLinkMetadata(ev.LinkMetadata())
			if err != nil {
				s.logger.Warn("link without position", "stream", stream, "offset", ev.Offset, "error", err)
				return ev.Offset, true, nil
			}
			if lm.CommitPosition > commit || (lm.CommitPosition == commit && lm.PreparePosition >= prepare) {
				return ev.Offset, true, nil
			}
		}
	}
	return 0, false, nil
}

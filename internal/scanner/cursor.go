package scanner

import (
	"context"
	"fmt"

	"github.com/roach88/linktrunc/internal/eventstore"
)

// Cursor pages forward through a stream with link resolution.
type Cursor struct {
	reader   eventstore.Reader
	stream   string
	pageSize int
	next     int64
	done     bool
}

// NewCursor creates a cursor positioned at from.
func NewCursor(r eventstore.Reader, stream string, from int64, pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cursor{reader: r, stream: stream, pageSize: pageSize, next: from}
}

// Next reads the next page. After the last page Done reports true.
func (c *Cursor) Next(ctx context.Context) (eventstore.Page, error) {
	if c.done {
		return eventstore.Page{Events: []eventstore.ResolvedEvent{}, Next: c.next, EndOfStream: true}, nil
	}
	page, err := c.reader.ReadForward(ctx, c.stream, c.next, c.pageSize, true)
	if err != nil {
		return page, fmt.Errorf("read %s at %d: %w", c.stream, c.next, err)
	}
	// A page that makes no progress would loop forever.
	if page.EndOfStream || len(page.Events) == 0 || page.Next <= c.next {
		c.done = true
	}
	if page.Next > c.next {
		c.next = page.Next
	}
	return page, nil
}

// Done reports whether the end of the stream has been reached.
func (c *Cursor) Done() bool { return c.done }

// Offset returns the offset the next page starts at.
func (c *Cursor) Offset() int64 { return c.next }

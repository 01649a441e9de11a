package checkpoint

import (
	"errors"
	"fmt"
)

// ErrIncomparable is returned when a Direct checkpoint is compared with a
// Logical one.
var ErrIncomparable = errors.New("checkpoint: direct and logical positions are not comparable")

// Kind identifies the checkpoint variant.
type Kind int

const (
	// KindUnknown is the zero value so an unset Checkpoint is the most
	// conservative one.
	KindUnknown Kind = iota
	KindNotApplicable
	KindDirect
	KindLogical
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindNotApplicable:
		return "not_applicable"
	case KindDirect:
		return "direct"
	case KindLogical:
		return "logical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Checkpoint is an immutable consumer position. The zero value is Unknown.
type Checkpoint struct {
	kind    Kind
	offset  int64
	commit  int64
	prepare int64
}

var (
	// Unknown means the consumer position could not be determined.
	Unknown = Checkpoint{kind: KindUnknown}

	// NotApplicable means the consumer does not read the stream at all.
	NotApplicable = Checkpoint{kind: KindNotApplicable}
)

// Direct returns a checkpoint at an event number within the stream.
func Direct(offset int64) Checkpoint {
	return Checkpoint{kind: KindDirect, offset: offset}
}

// Logical returns a checkpoint at a position in the global log.
func Logical(commit, prepare int64) Checkpoint {
	return Checkpoint{kind: KindLogical, commit: commit, prepare: prepare}
}

// Kind returns the checkpoint variant.
func (c Checkpoint) Kind() Kind { return c.kind }

// IsUnknown reports whether c is Unknown.
func (c Checkpoint) IsUnknown() bool { return c.kind == KindUnknown }

// IsNotApplicable reports whether c is NotApplicable.
func (c Checkpoint) IsNotApplicable() bool { return c.kind == KindNotApplicable }

// Offset returns the event number of a Direct checkpoint.
func (c Checkpoint) Offset() (int64, bool) {
	if c.kind != KindDirect {
		return 0, false
	}
	return c.offset, true
}

// Position returns the commit and prepare positions of a Logical checkpoint.
func (c Checkpoint) Position() (commit, prepare int64, ok bool) {
	if c.kind != KindLogical {
		return 0, 0, false
	}
	return c.commit, c.prepare, true
}

// String renders the checkpoint for logs and CLI output.
func (c Checkpoint) String() string {
	switch c.kind {
	case KindNotApplicable:
		return "not-applicable"
	case KindDirect:
		return fmt.Sprintf("direct(%d)", c.offset)
	case KindLogical:
		return fmt.Sprintf("logical(%d/%d)", c.commit, c.prepare)
	default:
		return "unknown"
	}
}

// Compare orders two checkpoints, returning -1, 0 or +1.
// Unknown < NotApplicable < any numeric position. Direct positions compare
// by offset and Logical positions compare by commit then prepare.
// Comparing Direct with Logical returns ErrIncomparable.
func Compare(a, b Checkpoint) (int, error) {
	ra, rb := rank(a.kind), rank(b.kind)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb)), nil
	}
	if a.kind != b.kind {
		return 0, fmt.Errorf("compare %s with %s: %w", a, b, ErrIncomparable)
	}
	switch a.kind {
	case KindDirect:
		return cmpInt(a.offset, b.offset), nil
	case KindLogical:
		if c := cmpInt(a.commit, b.commit); c != 0 {
			return c, nil
		}
		return cmpInt(a.prepare, b.prepare), nil
	default:
		return 0, nil
	}
}

// Min returns the more conservative of two checkpoints.
//
// Unknown absorbs everything. NotApplicable imposes no constraint, so the
// other operand is returned. Numeric positions of the same kind yield the
// smaller one. Mixing Direct and Logical is undefined and returns a with
// ErrIncomparable.
func Min(a, b Checkpoint) (Checkpoint, error) {
	switch {
	case a.IsUnknown() || b.IsUnknown():
		return Unknown, nil
	case a.IsNotApplicable():
		return b, nil
	case b.IsNotApplicable():
		return a, nil
	}
	c, err := Compare(a, b)
	if err != nil {
		return a, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}

// Fold reduces checkpoints with Min starting from NotApplicable.
// It stops early once the running value is Unknown.
func Fold(cs ...Checkpoint) (Checkpoint, error) {
	acc := NotApplicable
	for _, c := range cs {
		next, err := Min(acc, c)
		if err != nil {
			return acc, err
		}
		acc = next
		if acc.IsUnknown() {
			break
		}
	}
	return acc, nil
}

// AtLeast reports whether a Logical checkpoint is at or past the given
// global position. Non-logical checkpoints never qualify.
func (c Checkpoint) AtLeast(commit, prepare int64) bool {
	if c.kind != KindLogical {
		return false
	}
	r, _ := Compare(c, Logical(commit, prepare))
	return r >= 0
}

func rank(k Kind) int {
	switch k {
	case KindUnknown:
		return 0
	case KindNotApplicable:
		return 1
	default:
		return 2
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

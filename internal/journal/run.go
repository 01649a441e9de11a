package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run is one recorded engine run.
type Run struct {
	Seq                    int64           `json:"seq"`
	ID                     string          `json:"id"`
	Stream                 string          `json:"stream"`
	RequestedStart         int64           `json:"requested_start"`
	Start                  int64           `json:"start"`
	EndExclusive           *int64          `json:"end_exclusive,omitempty"`
	PreviousTruncateBefore *int64          `json:"previous_truncate_before,omitempty"`
	Candidate              *int64          `json:"candidate,omitempty"`
	TruncateBefore         *int64          `json:"truncate_before,omitempty"`
	Outcome                string          `json:"outcome"`
	Committed              bool            `json:"committed"`
	Reason                 string          `json:"reason,omitempty"`
	Consumers              json.RawMessage `json:"consumers"`
	PagesRead              int             `json:"pages_read"`
	EventsExamined         int64           `json:"events_examined"`
	RecordedAt             time.Time       `json:"recorded_at"`
}

// ListOptions filters List.
type ListOptions struct {
	// Stream limits results to one stream when set.
	Stream string
	// Limit caps the number of rows, newest first. Zero means no cap.
	Limit int
}

// Record appends a run. ID, Seq and RecordedAt are assigned here and the
// stored run is returned.
func (j *Journal) Record(ctx context.Context, run Run) (Run, error) {
	id, err := j.newID()
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}
	run.ID = id
	run.RecordedAt = j.now().UTC()
	if len(run.Consumers) == 0 {
		run.Consumers = json.RawMessage("[]")
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, stream, requested_start, start_offset, end_exclusive, previous_truncate_before,
		 candidate, truncate_before, outcome, committed, reason, consumers,
		 pages_read, events_examined, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Stream,
		run.RequestedStart,
		run.Start,
		nullable(run.EndExclusive),
		nullable(run.PreviousTruncateBefore),
		nullable(run.Candidate),
		nullable(run.TruncateBefore),
		run.Outcome,
		run.Committed,
		run.Reason,
		string(run.Consumers),
		run.PagesRead,
		run.EventsExamined,
		run.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}
	run.Seq = seq
	return run, nil
}

// List returns runs newest first.
//
// Returns an empty slice (not nil) if no runs match.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `
		SELECT seq, id, stream, requested_start, start_offset, end_exclusive, previous_truncate_before,
		       candidate, truncate_before, outcome, committed, reason, consumers,
		       pages_read, events_examined, recorded_at
		FROM runs`
	var args []any
	if opts.Stream != "" {
		query += ` WHERE stream = ?`
		args = append(args, opts.Stream)
	}
	query += ` ORDER BY seq DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LastCommitted returns the most recent committed run for a stream.
func (j *Journal) LastCommitted(ctx context.Context, stream string) (Run, bool, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT seq, id, stream, requested_start, start_offset, end_exclusive, previous_truncate_before,
		       candidate, truncate_before, outcome, committed, reason, consumers,
		       pages_read, events_examined, recorded_at
		FROM runs
		WHERE stream = ? AND committed = 1
		ORDER BY seq DESC
		LIMIT 1
	`, stream)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run        Run
		end        sql.NullInt64
		previous   sql.NullInt64
		candidate  sql.NullInt64
		tb         sql.NullInt64
		consumers  string
		recordedAt string
	)
	err := s.Scan(
		&run.Seq, &run.ID, &run.Stream, &run.RequestedStart, &run.Start, &end, &previous,
		&candidate, &tb, &run.Outcome, &run.Committed, &run.Reason, &consumers,
		&run.PagesRead, &run.EventsExamined, &recordedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.EndExclusive = fromNullable(end)
	run.PreviousTruncateBefore = fromNullable(previous)
	run.Candidate = fromNullable(candidate)
	run.TruncateBefore = fromNullable(tb)
	run.Consumers = json.RawMessage(consumers)
	run.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Run{}, fmt.Errorf("scan run %s: parse recorded_at: %w", run.ID, err)
	}
	return run, nil
}

func nullable(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullable(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

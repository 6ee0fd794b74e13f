package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
)

// SQLiteRepository implements Repository on the executions and
// safety_incidents tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordExecution upserts the execution row for ev.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - ev: execution.started or a terminal execution event
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) RecordExecution(ctx context.Context, ev motion.ExecutionEvent) error {
	if ev.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}

	channels, err := json.Marshal(nonNil(ev.Channels))
	if err != nil {
		return fmt.Errorf("marshalling channels: %w", err)
	}

	outcome := string(ev.Outcome)
	var finishedAt any
	if outcome == "" {
		outcome = OutcomeRunning
	} else {
		finishedAt = formatTime(ev.At)
	}
	startedAt := ev.StartedAt
	if startedAt.IsZero() {
		startedAt = ev.At
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO executions
		   (id, sequence_id, origin, source, priority, channels, outcome, reason, preempted_by, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   outcome = excluded.outcome,
		   reason = excluded.reason,
		   preempted_by = excluded.preempted_by,
		   finished_at = excluded.finished_at`,
		ev.ExecutionID, ev.SequenceID, string(ev.Origin), ev.Source, ev.Priority, string(channels),
		outcome, ev.Reason, ev.PreemptedBy, formatTime(startedAt), finishedAt,
	)
	if err != nil {
		return fmt.Errorf("recording execution %s: %w", ev.ExecutionID, err)
	}
	return nil
}

// RecordIncident inserts one safety transition.
func (r *SQLiteRepository) RecordIncident(ctx context.Context, tr safety.Transition) error {
	violations, err := json.Marshal(nonNil(tr.Violations))
	if err != nil {
		return fmt.Errorf("marshalling violations: %w", err)
	}
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO safety_incidents (id, from_state, to_state, reason, violations, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), tr.From.String(), tr.To.String(), tr.Reason, string(violations), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("inserting safety incident: %w", err)
	}
	return nil
}

// ListExecutions returns executions matching filter, newest first.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, filter Filter) ([]Execution, error) {
	filter.clamp()

	var conditions []string
	var args []any
	if filter.SequenceID != "" {
		conditions = append(conditions, "sequence_id = ?")
		args = append(args, filter.SequenceID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, sequence_id, origin, source, priority, channels, outcome, reason, preempted_by, started_at, finished_at
		 FROM executions %s ORDER BY started_at DESC LIMIT ? OFFSET ?`, where)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	out := make([]Execution, 0, filter.Limit)
	for rows.Next() {
		var x Execution
		var origin, channels, startedAt string
		var finishedAt sql.NullString

		if err := rows.Scan(&x.ID, &x.SequenceID, &origin, &x.Source, &x.Priority, &channels,
			&x.Outcome, &x.Reason, &x.PreemptedBy, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		x.Origin = motion.Origin(origin)
		if err := json.Unmarshal([]byte(channels), &x.Channels); err != nil {
			return nil, fmt.Errorf("unmarshalling channels of %s: %w", x.ID, err)
		}
		if x.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, err
			}
			x.FinishedAt = &t
		}
		out = append(out, x)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return out, nil
}

// ListIncidents returns safety incidents newest first.
func (r *SQLiteRepository) ListIncidents(ctx context.Context, filter Filter) ([]Incident, error) {
	filter.clamp()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, from_state, to_state, reason, violations, occurred_at
		 FROM safety_incidents ORDER BY occurred_at DESC LIMIT ? OFFSET ?`,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying safety incidents: %w", err)
	}
	defer rows.Close()

	out := make([]Incident, 0, filter.Limit)
	for rows.Next() {
		var inc Incident
		var from, to, violations, occurredAt string

		if err := rows.Scan(&inc.ID, &from, &to, &inc.Reason, &violations, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning safety incident: %w", err)
		}
		if err := inc.From.UnmarshalText([]byte(from)); err != nil {
			return nil, err
		}
		if err := inc.To.UnmarshalText([]byte(to)); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(violations), &inc.Violations); err != nil {
			return nil, fmt.Errorf("unmarshalling violations of %s: %w", inc.ID, err)
		}
		if inc.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating safety incidents: %w", err)
	}
	return out, nil
}

// Prune deletes finished executions and incidents older than olderThan.
// Running executions are kept regardless of age.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(time.Now().Add(-olderThan))

	var total int64
	for _, stmt := range []string{
		"DELETE FROM executions WHERE finished_at IS NOT NULL AND started_at < ?",
		"DELETE FROM safety_incidents WHERE occurred_at < ?",
	} {
		res, err := r.db.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning history: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// Timestamps are stored as fixed-width RFC 3339 UTC strings so that text
// ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

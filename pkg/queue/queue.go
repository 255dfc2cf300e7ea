// Package queue implements the build queue: a database table the
// registry watcher feeds and the build loop drains, one release at a
// time, with row-locking giving at-most-one-in-flight semantics
// across any number of builder processes.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MaxAttempts is the terminal attempt count: on the attempt that
// would make Fail's counter reach this value, the row is removed and
// the caller must record a terminal build failure instead of
// re-queuing.
const MaxAttempts = 5

// ErrEmpty is returned by Next when no row is eligible for claim.
var ErrEmpty = errors.New("queue: empty")

// Entry is one claimed queue row. Its row lock is held by an open
// transaction from Next until Complete or Fail commits it — that's
// what makes the claim exclusive across concurrent builders, since a
// SELECT ... FOR UPDATE released at the end of its own statement (the
// default, autocommitted case) would block no one.
type Entry struct {
	Name     string
	Version  string
	Priority int
	Attempts int

	tx *sql.Tx
}

// Queue wraps a *sql.DB with the queue table's operations.
type Queue struct {
	db *sql.DB
}

// New wraps db.
func New(db *sql.DB) *Queue { return &Queue{db: db} }

// Add upserts (name, version) at priority. On conflict, the earlier
// created_at and the lower priority of the two win — a later,
// lower-urgency enqueue of an already-queued release must not bump
// it to the back of the line, nor jump it ahead if it asked for less
// urgency than an existing entry.
func (q *Queue) Add(ctx context.Context, name, version string, priority int) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue (name, version, priority, attempts, created_at, next_attempt_at)
		VALUES ($1, $2, $3, 0, now(), now())
		ON CONFLICT (name, version) DO UPDATE SET
			priority = LEAST(queue.priority, EXCLUDED.priority)
	`, name, version, priority)
	if err != nil {
		return fmt.Errorf("queue: add %s@%s: %w", name, version, err)
	}
	return nil
}

// Next claims and returns the eligible row with the lowest
// (priority, created_at), or ErrEmpty if none is eligible. "Eligible"
// excludes rows currently backed off after a prior failure (see
// Fail's exponential backoff). The caller must call Complete or Fail
// exactly once for the returned Entry, which commits (or rolls back
// on error) the transaction holding its row lock.
func (q *Queue) Next(ctx context.Context) (*Entry, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: next: beginning transaction: %w", err)
	}
	var e Entry
	err = tx.QueryRowContext(ctx, `
		SELECT name, version, priority, attempts
		FROM queue
		WHERE now() >= next_attempt_at
		ORDER BY priority ASC, created_at ASC, name ASC, version ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&e.Name, &e.Version, &e.Priority, &e.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return nil, ErrEmpty
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("queue: next: %w", err)
	}
	e.tx = tx
	return &e, nil
}

// Complete removes entry's row after a terminal (successful or
// permanently-failed) outcome has been committed for its release, and
// releases the row lock Next acquired.
func (q *Queue) Complete(ctx context.Context, entry *Entry) error {
	if entry.tx == nil {
		return fmt.Errorf("queue: complete %s@%s: entry was not claimed via Next", entry.Name, entry.Version)
	}
	if _, err := entry.tx.ExecContext(ctx, `DELETE FROM queue WHERE name = $1 AND version = $2`, entry.Name, entry.Version); err != nil {
		entry.tx.Rollback()
		return fmt.Errorf("queue: complete %s@%s: %w", entry.Name, entry.Version, err)
	}
	if err := entry.tx.Commit(); err != nil {
		return fmt.Errorf("queue: complete %s@%s: committing: %w", entry.Name, entry.Version, err)
	}
	return nil
}

// Fail records a failed attempt and releases the row lock Next
// acquired. If the new attempt count reaches MaxAttempts the row is
// deleted and ok=false is returned, telling the caller to record a
// terminal failed build. Otherwise the row is left in place with an
// exponential backoff before it is eligible again.
func (q *Queue) Fail(ctx context.Context, entry *Entry) (ok bool, err error) {
	if entry.tx == nil {
		return false, fmt.Errorf("queue: fail %s@%s: entry was not claimed via Next", entry.Name, entry.Version)
	}
	attempts := entry.Attempts + 1
	if attempts >= MaxAttempts {
		if _, err := entry.tx.ExecContext(ctx, `DELETE FROM queue WHERE name = $1 AND version = $2`, entry.Name, entry.Version); err != nil {
			entry.tx.Rollback()
			return false, fmt.Errorf("queue: removing terminally failed %s@%s: %w", entry.Name, entry.Version, err)
		}
		if err := entry.tx.Commit(); err != nil {
			return false, fmt.Errorf("queue: removing terminally failed %s@%s: committing: %w", entry.Name, entry.Version, err)
		}
		return false, nil
	}
	backoff := backoffFor(attempts)
	_, err = entry.tx.ExecContext(ctx, `
		UPDATE queue SET attempts = $3, next_attempt_at = now() + $4::interval
		WHERE name = $1 AND version = $2
	`, entry.Name, entry.Version, attempts, backoff.String())
	if err != nil {
		entry.tx.Rollback()
		return true, fmt.Errorf("queue: recording failed attempt for %s@%s: %w", entry.Name, entry.Version, err)
	}
	if err := entry.tx.Commit(); err != nil {
		return true, fmt.Errorf("queue: recording failed attempt for %s@%s: committing: %w", entry.Name, entry.Version, err)
	}
	return true, nil
}

func backoffFor(attempts int) time.Duration {
	base := 30 * time.Second
	d := base << uint(attempts-1)
	max := 15 * time.Minute
	if d > max {
		return max
	}
	return d
}

// List returns every queued entry ordered the same way Next selects
// them, without claiming any row — used by the `queue list` CLI
// subcommand.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT name, version, priority, attempts FROM queue
		ORDER BY priority ASC, created_at ASC, name ASC, version ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Version, &e.Priority, &e.Attempts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Package approval implements the durable human-approval workflow for
// side-effecting writes: a pending record is enqueued, then approved,
// rejected, or left to expire. Grounded on the teacher's gas-withdrawal
// approval state machine (SubmitApproval / StatusPending /
// StatusAwaitingApproval / terminal statuses), generalized from gas
// withdrawals to arbitrary pending writes.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/metrics"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

// Status is a pending_writes row's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusWritten  Status = "written"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

var (
	// ErrNotFound is returned when an id has no pending_writes row at all.
	ErrNotFound = errors.New("approval: record not found")
)

// Request is the caller-supplied description of a pending write.
type Request struct {
	Path      string
	Data      map[string]any
	Preview   string
	ServiceID string
	ChatID    string
	UserID    string
	TTL       time.Duration
	OnApprovalHook string
}

// Record is one persisted pending_writes row.
type Record struct {
	ID             string         `db:"id"`
	Path           string         `db:"path"`
	Data           string         `db:"data"`
	Preview        sql.NullString `db:"preview"`
	ServiceID      string         `db:"service_id"`
	UserID         string         `db:"user_id"`
	ChatID         string         `db:"chat_id"`
	CreatedAt      time.Time      `db:"created_at"`
	ExpiresAt      time.Time      `db:"expires_at"`
	Status         string         `db:"status"`
	OnApproval     sql.NullString `db:"on_approval"`
	AdminMessageID sql.NullString `db:"admin_message_id"`
	ApprovedBy     sql.NullString `db:"approved_by"`
	ApprovedAt     sql.NullTime   `db:"approved_at"`
	Error          sql.NullString `db:"error"`
}

// Writer performs the actual side-effecting write once a pending record is
// approved. It is the out-of-scope external storage network collaborator.
type Writer interface {
	Write(ctx context.Context, path string, data map[string]any) error
}

// Decision is the outcome of an approve/reject call.
type Decision struct {
	Success bool
	Message string
}

// Queue is the durable approval queue.
type Queue struct {
	db      *sqlx.DB
	writer  Writer
	metrics *metrics.Collector
	log     *logger.Logger
}

// New constructs a Queue over the config store's database.
func New(db *sqlx.DB, writer Writer, m *metrics.Collector, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.NewDefault("approval")
	}
	return &Queue{db: db, writer: writer, metrics: m, log: log}
}

func (q *Queue) observe(status Status) {
	if q.metrics != nil {
		q.metrics.ObserveApprovalTransition(string(status))
	}
}

// Enqueue persists req as a new pending record and returns its id, the only
// token an admin can act on.
func (q *Queue) Enqueue(ctx context.Context, req Request) (string, error) {
	if req.TTL == 0 {
		req.TTL = 24 * time.Hour
	}
	dataJSON, err := json.Marshal(req.Data)
	if err != nil {
		return "", fmt.Errorf("marshal pending write data: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO pending_writes
			(id, path, data, preview, service_id, user_id, chat_id, created_at, expires_at, status, on_approval)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, req.Path, string(dataJSON), req.Preview, req.ServiceID, req.UserID, req.ChatID, now, now.Add(req.TTL), string(StatusPending), req.OnApprovalHook)
	if err != nil {
		return "", fmt.Errorf("enqueue pending write: %w", err)
	}
	q.observe(StatusPending)
	return id, nil
}

// Get returns the record for id.
func (q *Queue) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := q.db.GetContext(ctx, &rec, `SELECT * FROM pending_writes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get pending write %s: %w", id, err)
	}
	return rec, nil
}

// transitionFromPending atomically moves id from pending to toStatus using
// a conditional UPDATE, so concurrent decisions and the expiry sweep never
// double-transition the same record. Returns false if id was not in
// pending state (already decided or nonexistent).
func (q *Queue) transitionFromPending(ctx context.Context, id string, toStatus Status, extra map[string]any) (bool, error) {
	setClauses := "status = ?"
	args := []any{string(toStatus)}
	for col, val := range extra {
		setClauses += ", " + col + " = ?"
		args = append(args, val)
	}
	args = append(args, id, string(StatusPending))

	res, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE pending_writes SET %s WHERE id = ? AND status = ?
	`, setClauses), args...)
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", id, toStatus, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Approve moves id to approved and immediately executes the write. On
// execute failure the record becomes failed with an error field; on
// success it becomes written. Attempting to approve a non-pending record
// returns a failed Decision describing the current status, with no effect.
func (q *Queue) Approve(ctx context.Context, id, approver string) (Decision, error) {
	moved, err := q.transitionFromPending(ctx, id, StatusApproved, map[string]any{
		"approved_by": approver,
		"approved_at": time.Now().UTC(),
	})
	if err != nil {
		return Decision{}, err
	}
	if !moved {
		return q.alreadyDecided(ctx, id)
	}
	q.observe(StatusApproved)

	rec, err := q.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}

	var data map[string]any
	_ = json.Unmarshal([]byte(rec.Data), &data)

	writeErr := q.writer.Write(ctx, rec.Path, data)
	if writeErr != nil {
		if _, err := q.db.ExecContext(ctx, `
			UPDATE pending_writes SET status = ?, error = ? WHERE id = ?
		`, string(StatusFailed), writeErr.Error(), id); err != nil {
			return Decision{}, err
		}
		q.observe(StatusFailed)
		return Decision{Success: false, Message: "write failed: " + writeErr.Error()}, nil
	}

	if _, err := q.db.ExecContext(ctx, `
		UPDATE pending_writes SET status = ? WHERE id = ?
	`, string(StatusWritten), id); err != nil {
		return Decision{}, err
	}
	q.observe(StatusWritten)
	return Decision{Success: true, Message: "written"}, nil
}

// Reject moves id to rejected.
func (q *Queue) Reject(ctx context.Context, id, approver string) (Decision, error) {
	moved, err := q.transitionFromPending(ctx, id, StatusRejected, map[string]any{
		"approved_by": approver,
		"approved_at": time.Now().UTC(),
	})
	if err != nil {
		return Decision{}, err
	}
	if !moved {
		return q.alreadyDecided(ctx, id)
	}
	q.observe(StatusRejected)
	return Decision{Success: true, Message: "rejected"}, nil
}

func (q *Queue) alreadyDecided(ctx context.Context, id string) (Decision, error) {
	rec, err := q.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Success: false, Message: "already " + rec.Status}, nil
}

// ExpiredSweep promotes every pending record whose expires_at is past to
// expired, and returns how many rows were swept. It is safe to run
// concurrently with Approve/Reject because it only ever transitions
// currently-pending rows.
func (q *Queue) ExpiredSweep(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_writes SET status = ? WHERE status = ? AND expires_at < ?
	`, string(StatusExpired), string(StatusPending), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expired sweep: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		q.observe(StatusExpired)
		q.log.WithField("count", affected).Info("swept expired pending writes")
	}
	return int(affected), nil
}

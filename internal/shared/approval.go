package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ApprovalLog is one append-only status-change record.
type ApprovalLog struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Module     string
	RefID      uuid.UUID
	ActorID    uuid.UUID
	Action     string
	FromStatus string
	ToStatus   string
	Note       string
	At         time.Time
}

// ApprovalRecorder persists approval history. Rows are only ever inserted.
type ApprovalRecorder struct{}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder() *ApprovalRecorder {
	return &ApprovalRecorder{}
}

// Record writes an approval entry using db, normally the caller's transaction.
func (r *ApprovalRecorder) Record(ctx context.Context, db DBTX, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.TenantID == uuid.Nil {
		return errors.New("approval tenant required")
	}
	if log.Module == "" {
		return errors.New("approval module required")
	}
	if log.ActorID == uuid.Nil {
		return errors.New("approval actor required")
	}
	if log.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	_, err := db.Exec(ctx, `INSERT INTO approval_history (id, tenant_id, module, ref_id, actor_id, action, from_status, to_status, note, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		log.ID, log.TenantID, log.Module, log.RefID, log.ActorID, log.Action, log.FromStatus, log.ToStatus, log.Note, log.At)
	return err
}

// List returns approvals for module/ref in chronological order.
func (r *ApprovalRecorder) List(ctx context.Context, db DBTX, tenantID uuid.UUID, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := db.Query(ctx, `SELECT id, tenant_id, module, ref_id, actor_id, action, from_status, to_status, note, at
FROM approval_history WHERE tenant_id=$1 AND module=$2 AND ref_id=$3 ORDER BY at ASC, id ASC`, tenantID, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Module, &l.RefID, &l.ActorID, &l.Action, &l.FromStatus, &l.ToStatus, &l.Note, &l.At); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

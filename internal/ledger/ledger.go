// Package ledger is the append-only workflow history of a report. Entries are
// written inside the caller's transaction so a mutation and its record commit
// or fail together.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lettertrack/internal/domain"
)

// Entry is what callers hand to Append. ID and Timestamp are assigned by the writer.
type Entry struct {
	ReportID string
	Action   string
	UserID   string
	Status   string
	Notes    string
}

type Writer struct {
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append records e and returns the stored row. The timestamp never precedes
// the report's previous entry even if the clock steps backwards.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.HistoryEntry, error) {
	if tx == nil {
		return domain.HistoryEntry{}, errors.New("ledger append requires a transaction")
	}
	if e.ReportID == "" || e.UserID == "" {
		return domain.HistoryEntry{}, errors.New("ledger entry needs report_id and user_id")
	}
	if e.Action == "" || e.Status == "" {
		return domain.HistoryEntry{}, errors.New("ledger entry needs action and status")
	}
	ts := w.now().UTC().Format(domain.TimeFormat)
	var last sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT MAX(ts) FROM workflow_history WHERE report_id=?`, e.ReportID).Scan(&last); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("read last ledger timestamp: %w", err)
	}
	if last.Valid && last.String > ts {
		ts = last.String
	}
	h := domain.HistoryEntry{
		ID:        uuid.NewString(),
		ReportID:  e.ReportID,
		Action:    e.Action,
		UserID:    e.UserID,
		Status:    e.Status,
		Notes:     e.Notes,
		Timestamp: ts,
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO workflow_history(id,report_id,action,user_id,status,notes,ts) VALUES (?,?,?,?,?,?,?)`,
		h.ID, h.ReportID, h.Action, h.UserID, h.Status, nullable(h.Notes), h.Timestamp)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("append ledger entry: %w", err)
	}
	h.Seq, _ = res.LastInsertId()
	return h, nil
}

// Reader queries the ledger outside any write transaction.
type Reader struct {
	DB *sql.DB
}

// List returns a report's entries in insertion order, each joined with the
// acting user's profile when one exists.
func (r Reader) List(ctx context.Context, reportID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT h.seq, h.id, h.report_id, h.action, h.user_id, h.status, COALESCE(h.notes,''), h.ts,
  p.id, p.name, p.role
FROM workflow_history h
LEFT JOIN profiles p ON p.id = h.user_id
WHERE h.report_id=?
ORDER BY h.seq ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.HistoryEntry{}
	for rows.Next() {
		var h domain.HistoryEntry
		var pid, pname, prole sql.NullString
		if err := rows.Scan(&h.Seq, &h.ID, &h.ReportID, &h.Action, &h.UserID, &h.Status, &h.Notes, &h.Timestamp, &pid, &pname, &prole); err != nil {
			return nil, err
		}
		if pid.Valid {
			h.User = &domain.PersonRef{ID: pid.String, Name: pname.String, Role: domain.Role(prole.String)}
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

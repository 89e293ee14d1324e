package repo

import (
	"context"
	"database/sql"
	"strings"

	"lettertrack/internal/domain"
)

const reportColumns = `id,tracking_number,COALESCE(letter_number,''),COALESCE(subject,''),COALESCE(service,''),COALESCE(sender,''),
COALESCE(letter_date,''),COALESCE(agenda_date,''),status,priority,created_by,current_holder,progress,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (domain.Report, error) {
	var rp domain.Report
	var holder sql.NullString
	err := row.Scan(&rp.ID, &rp.TrackingNumber, &rp.LetterNumber, &rp.Subject, &rp.Service, &rp.Sender,
		&rp.LetterDate, &rp.AgendaDate, &rp.Status, &rp.Priority, &rp.CreatedBy, &holder, &rp.Progress, &rp.Version,
		&rp.CreatedAt, &rp.UpdatedAt)
	if err == sql.ErrNoRows {
		return rp, ErrNotFound
	}
	rp.CurrentHolder = stringPtr(holder)
	return rp, err
}

func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, rp domain.Report) error {
	if rp.Version == 0 {
		rp.Version = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(id,tracking_number,letter_number,subject,service,sender,letter_date,agenda_date,
status,priority,created_by,current_holder,progress,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rp.ID, rp.TrackingNumber, nullable(rp.LetterNumber), nullable(rp.Subject), nullable(rp.Service), nullable(rp.Sender),
		nullable(rp.LetterDate), nullable(rp.AgendaDate), rp.Status, rp.Priority, rp.CreatedBy, nullableStringPtr(rp.CurrentHolder),
		rp.Progress, rp.Version, rp.CreatedAt, rp.UpdatedAt)
	return err
}

// GetReport returns a report with its attachments.
func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	rp, err := scanReport(r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
	if err != nil {
		return rp, err
	}
	rp.Attachments, err = r.ListAttachments(ctx, nil, id)
	return rp, err
}

// GetReportTx reads the report row inside tx, without attachments.
func (r Repo) GetReportTx(ctx context.Context, tx *sql.Tx, id string) (domain.Report, error) {
	return scanReport(tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

type ReportFilter struct {
	Status          domain.Status
	CreatedBy       string
	Holder          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListReports returns reports newest first.
func (r Repo) ListReports(ctx context.Context, f ReportFilter) ([]domain.Report, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.Holder != "" {
		clauses = append(clauses, "current_holder=?")
		args = append(args, f.Holder)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Report{}
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rp)
	}
	return res, rows.Err()
}

// UpdateReportStateTx writes status, holder, progress and updated_at when the
// stored version still equals rp.Version, then bumps the version.
func (r Repo) UpdateReportStateTx(ctx context.Context, tx *sql.Tx, rp domain.Report) (domain.Report, error) {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status=?, current_holder=?, progress=?, updated_at=?, version=version+1
WHERE id=? AND version=?`, rp.Status, nullableStringPtr(rp.CurrentHolder), rp.Progress, rp.UpdatedAt, rp.ID, rp.Version)
	if err != nil {
		return rp, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM reports WHERE id=?`, rp.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return rp, ErrNotFound
		}
		if err != nil {
			return rp, err
		}
		return rp, ErrConflict
	}
	rp.Version++
	return rp, nil
}

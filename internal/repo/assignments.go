package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"lettertrack/internal/domain"
)

const assignmentColumns = `a.id,a.report_id,a.staff_id,a.coordinator_id,a.todo_list_json,a.completed_tasks_json,a.progress,a.status,
COALESCE(a.notes,''),COALESCE(a.revision_notes,''),a.created_at,a.updated_at,a.completed_at`

func scanAssignment(row rowScanner, extra ...any) (domain.TaskAssignment, error) {
	var a domain.TaskAssignment
	var todo, done string
	var completedAt sql.NullString
	dest := append([]any{&a.ID, &a.ReportID, &a.StaffID, &a.CoordinatorID, &todo, &done, &a.Progress, &a.Status,
		&a.Notes, &a.RevisionNotes, &a.CreatedAt, &a.UpdatedAt, &completedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return a, ErrNotFound
		}
		return a, err
	}
	if err := json.Unmarshal([]byte(todo), &a.TodoList); err != nil {
		return a, fmt.Errorf("decode todo_list for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(done), &a.CompletedTasks); err != nil {
		return a, fmt.Errorf("decode completed_tasks for %s: %w", a.ID, err)
	}
	if a.CompletedTasks == nil {
		a.CompletedTasks = []string{}
	}
	a.CompletedAt = stringPtr(completedAt)
	return a, nil
}

func marshalStringSlice(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.TaskAssignment) error {
	todo, err := marshalStringSlice(a.TodoList)
	if err != nil {
		return err
	}
	done, err := marshalStringSlice(a.CompletedTasks)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO task_assignments(id,report_id,staff_id,coordinator_id,todo_list_json,completed_tasks_json,
progress,status,notes,revision_notes,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ReportID, a.StaffID, a.CoordinatorID, todo, done, a.Progress, a.Status, nullable(a.Notes), nullable(a.RevisionNotes),
		a.CreatedAt, a.UpdatedAt, nullableStringPtr(a.CompletedAt))
	return err
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskAssignment, error) {
	return scanAssignment(r.on(tx).QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM task_assignments a WHERE a.id=?`, id))
}

// UpdateAssignmentTx writes the mutable fields. The todo list is never rewritten.
func (r Repo) UpdateAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.TaskAssignment) error {
	done, err := marshalStringSlice(a.CompletedTasks)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE task_assignments SET completed_tasks_json=?, progress=?, status=?, revision_notes=?,
updated_at=?, completed_at=? WHERE id=?`, done, a.Progress, a.Status, nullable(a.RevisionNotes), a.UpdatedAt,
		nullableStringPtr(a.CompletedAt), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAssignmentTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM task_assignments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestAssignmentStaffTx returns the staff id of the report's newest assignment.
func (r Repo) LatestAssignmentStaffTx(ctx context.Context, tx *sql.Tx, reportID string) (string, error) {
	var staffID string
	err := tx.QueryRowContext(ctx, `SELECT staff_id FROM task_assignments WHERE report_id=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		reportID).Scan(&staffID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return staffID, err
}

type AssignmentFilter struct {
	ID            string
	ReportID      string
	StaffID       string
	CoordinatorID string
}

const assignmentViewQuery = `SELECT ` + assignmentColumns + `,
  rp.id, COALESCE(rp.letter_number,''), COALESCE(rp.subject,''), COALESCE(rp.service,''),
  s.id, s.name, s.role,
  c.id, c.name, c.role
FROM task_assignments a
JOIN reports rp ON rp.id = a.report_id
JOIN profiles s ON s.id = a.staff_id
JOIN profiles c ON c.id = a.coordinator_id`

// ListAssignmentViews returns assignments joined with their report and people, newest first.
func (r Repo) ListAssignmentViews(ctx context.Context, f AssignmentFilter) ([]domain.AssignmentView, error) {
	var clauses []string
	var args []any
	if f.ID != "" {
		clauses = append(clauses, "a.id=?")
		args = append(args, f.ID)
	}
	if f.ReportID != "" {
		clauses = append(clauses, "a.report_id=?")
		args = append(args, f.ReportID)
	}
	if f.StaffID != "" {
		clauses = append(clauses, "a.staff_id=?")
		args = append(args, f.StaffID)
	}
	if f.CoordinatorID != "" {
		clauses = append(clauses, "a.coordinator_id=?")
		args = append(args, f.CoordinatorID)
	}
	query := assignmentViewQuery
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.created_at DESC, a.id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AssignmentView{}
	for rows.Next() {
		var v domain.AssignmentView
		a, err := scanAssignment(rows,
			&v.Report.ID, &v.Report.LetterNumber, &v.Report.Subject, &v.Report.Service,
			&v.Staff.ID, &v.Staff.Name, &v.Staff.Role,
			&v.Coordinator.ID, &v.Coordinator.Name, &v.Coordinator.Role)
		if err != nil {
			return nil, err
		}
		v.TaskAssignment = a
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) GetAssignmentView(ctx context.Context, id string) (domain.AssignmentView, error) {
	views, err := r.ListAssignmentViews(ctx, AssignmentFilter{ID: id})
	if err != nil {
		return domain.AssignmentView{}, err
	}
	if len(views) == 0 {
		return domain.AssignmentView{}, ErrNotFound
	}
	return views[0], nil
}

package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lettertrack/internal/domain"
	"lettertrack/internal/engine/auth"
	"lettertrack/internal/identity"
	"lettertrack/internal/ledger"
	"lettertrack/internal/repo"
	"lettertrack/internal/workflow"
)

const createAssignmentKey workflow.Key = "create_task_assignment"

// assignableStatuses are the report statuses that accept new task assignments.
var assignableStatuses = []domain.Status{
	domain.StatusPendingCoordinatorReview,
	domain.StatusInProgress,
	domain.StatusRevisionRequired,
}

type AssignmentInput struct {
	ReportID string
	StaffID  string
	TodoList []string
	Notes    string
}

func (e Engine) normalizeTodo(list []string) ([]string, error) {
	if len(list) == 0 {
		return nil, inputErr("todo_list", "at least one task is required")
	}
	if limit := e.cfg().Workflow.MaxTodoItems; limit > 0 && len(list) > limit {
		return nil, inputErr("todo_list", "at most %d tasks allowed", limit)
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(list))
	for i, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, inputErr("todo_list", "task %d is blank", i)
		}
		if seen[item] {
			return nil, inputErr("todo_list", "duplicate task %q", item)
		}
		seen[item] = true
		out = append(out, item)
	}
	return out, nil
}

// CreateAssignment gives a staff member a checklist on a report and hands them
// the report. A report waiting for review moves to in_progress.
func (e Engine) CreateAssignment(ctx context.Context, caller identity.Identity, in AssignmentInput) (domain.AssignmentView, error) {
	if err := auth.RequireRole(caller.Role, "assign tasks", domain.RoleCoordinator, domain.RoleAdmin); err != nil {
		return domain.AssignmentView{}, err
	}
	in.ReportID = strings.TrimSpace(in.ReportID)
	in.StaffID = strings.TrimSpace(in.StaffID)
	if in.ReportID == "" {
		return domain.AssignmentView{}, inputErr("report_id", "required")
	}
	if in.StaffID == "" {
		return domain.AssignmentView{}, inputErr("staff_id", "required")
	}
	todo, err := e.normalizeTodo(in.TodoList)
	if err != nil {
		return domain.AssignmentView{}, err
	}
	now := e.stamp()
	a := domain.TaskAssignment{
		ID:             uuid.NewString(),
		ReportID:       in.ReportID,
		StaffID:        in.StaffID,
		CoordinatorID:  caller.ID,
		TodoList:       todo,
		CompletedTasks: []string{},
		Status:         domain.AssignmentPending,
		Notes:          strings.TrimSpace(in.Notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var handover *TransitionResult
	err = withTx(ctx, e.DB, func(tx *sql.Tx) error {
		rp, err := e.Repo.GetReportTx(ctx, tx, in.ReportID)
		if err != nil {
			return lookupErr(err, "report", in.ReportID)
		}
		if !containsStatus(assignableStatuses, rp.Status) {
			return workflow.IllegalStateError{Transition: createAssignmentKey, Current: rp.Status, Expected: assignableStatuses}
		}
		staff, err := e.Repo.GetProfile(ctx, tx, in.StaffID)
		if err != nil {
			return lookupErr(err, "profile", in.StaffID)
		}
		if staff.Role != domain.RoleStaff {
			return inputErr("staff_id", "profile %s has role %s, not Staff", staff.ID, staff.Role)
		}
		if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
			return err
		}
		if rp.Status == domain.StatusPendingCoordinatorReview {
			// A report waiting for review is picked up through assign_to_staff.
			res, err := e.transitionTx(ctx, tx, caller, rp, workflow.AssignToStaff, a.Notes, in.StaffID, "")
			if err != nil {
				return err
			}
			handover = &res
		} else {
			holder := in.StaffID
			rp.CurrentHolder = &holder
			rp.UpdatedAt = now
			if _, err := e.Repo.UpdateReportStateTx(ctx, tx, rp); err != nil {
				return err
			}
		}
		_, err = e.ledgerWriter().Append(ctx, tx, ledger.Entry{
			ReportID: rp.ID,
			Action:   "Task assigned to staff",
			UserID:   caller.ID,
			Status:   "assigned",
			Notes:    fmt.Sprintf("Assigned to staff with %d tasks", len(todo)),
		})
		return err
	})
	if err != nil {
		return domain.AssignmentView{}, err
	}
	if handover != nil {
		e.afterTransition(caller, *handover)
	}
	e.Metrics.Assignment("created")
	e.log().Info("task assignment created",
		zap.String("assignment_id", a.ID),
		zap.String("report_id", a.ReportID),
		zap.String("staff_id", a.StaffID),
		zap.Int("tasks", len(todo)))
	return e.Repo.GetAssignmentView(ctx, a.ID)
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// AssignmentPatch carries the fields an update may change. Nil means unchanged.
type AssignmentPatch struct {
	CompletedTasks *[]string
	Progress       *int
	Status         *string
	RevisionNotes  *string
}

func (p AssignmentPatch) empty() bool {
	return p.CompletedTasks == nil && p.Progress == nil && p.Status == nil && p.RevisionNotes == nil
}

// completedSubset dedupes done and returns it in todo order; every entry must be in todo.
func completedSubset(todo, done []string) ([]string, error) {
	inTodo := make(map[string]bool, len(todo))
	for _, t := range todo {
		inTodo[t] = true
	}
	marked := map[string]bool{}
	for _, d := range done {
		d = strings.TrimSpace(d)
		if !inTodo[d] {
			return nil, inputErr("completed_tasks", "%q is not on the todo list", d)
		}
		marked[d] = true
	}
	out := make([]string, 0, len(marked))
	for _, t := range todo {
		if marked[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

func derivedProgress(done, total int) int {
	if total == 0 {
		return 0
	}
	return (200*done + total) / (2 * total)
}

// UpdateAssignment applies a patch from the assigned staff member, the
// creating coordinator, or an admin.
func (e Engine) UpdateAssignment(ctx context.Context, caller identity.Identity, id string, p AssignmentPatch) (domain.AssignmentView, error) {
	if p.empty() {
		return domain.AssignmentView{}, inputErr("", "nothing to update")
	}
	var newStatus domain.AssignmentStatus
	if p.Status != nil {
		st, ok := domain.ParseAssignmentStatus(*p.Status)
		if !ok {
			return domain.AssignmentView{}, inputErr("status", "unknown status %q", *p.Status)
		}
		newStatus = st
	}
	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100) {
		return domain.AssignmentView{}, inputErr("progress", "must be between 0 and 100")
	}
	err := withTx(ctx, e.DB, func(tx *sql.Tx) error {
		a, err := e.Repo.GetAssignmentTx(ctx, tx, id)
		if err != nil {
			return lookupErr(err, "task assignment", id)
		}
		if !auth.CanMutateAssignment(caller.ID, caller.Role, a) {
			return auth.ForbiddenError{Action: "update task assignment", Role: caller.Role,
				Allowed: []domain.Role{domain.RoleStaff, domain.RoleCoordinator, domain.RoleAdmin}}
		}
		now := e.stamp()
		if p.CompletedTasks != nil {
			done, err := completedSubset(a.TodoList, *p.CompletedTasks)
			if err != nil {
				return err
			}
			a.CompletedTasks = done
			if p.Progress == nil {
				a.Progress = derivedProgress(len(done), len(a.TodoList))
			}
		}
		if p.Progress != nil {
			a.Progress = *p.Progress
		}
		if p.RevisionNotes != nil {
			a.RevisionNotes = strings.TrimSpace(*p.RevisionNotes)
		}
		if newStatus != "" {
			a.Status = newStatus
			if newStatus == domain.AssignmentCompleted && a.CompletedAt == nil {
				stamp := now
				a.CompletedAt = &stamp
			}
		}
		a.UpdatedAt = now
		if err := e.Repo.UpdateAssignmentTx(ctx, tx, a); err != nil {
			return err
		}
		var action string
		switch newStatus {
		case domain.AssignmentCompleted:
			action = "Task completed by staff"
		case domain.AssignmentRevisionRequired:
			action = "Revision requested for task"
		default:
			return nil
		}
		notes := ""
		if p.RevisionNotes != nil {
			notes = strings.TrimSpace(*p.RevisionNotes)
		}
		if notes == "" {
			notes = "Task status changed to " + string(newStatus)
		}
		_, err = e.ledgerWriter().Append(ctx, tx, ledger.Entry{
			ReportID: a.ReportID,
			Action:   action,
			UserID:   caller.ID,
			Status:   string(newStatus),
			Notes:    notes,
		})
		return err
	})
	if err != nil {
		return domain.AssignmentView{}, err
	}
	e.Metrics.Assignment("updated")
	return e.Repo.GetAssignmentView(ctx, id)
}

// DeleteAssignment removes an assignment and records the removal on its report.
func (e Engine) DeleteAssignment(ctx context.Context, caller identity.Identity, id string) error {
	if err := auth.RequireRole(caller.Role, "remove task assignments", domain.RoleCoordinator, domain.RoleAdmin); err != nil {
		return err
	}
	err := withTx(ctx, e.DB, func(tx *sql.Tx) error {
		a, err := e.Repo.GetAssignmentTx(ctx, tx, id)
		if err != nil {
			return lookupErr(err, "task assignment", id)
		}
		name := a.StaffID
		if staff, err := e.Repo.GetProfile(ctx, tx, a.StaffID); err == nil && staff.Name != "" {
			name = staff.Name
		}
		if err := e.Repo.DeleteAssignmentTx(ctx, tx, id); err != nil {
			return err
		}
		_, err = e.ledgerWriter().Append(ctx, tx, ledger.Entry{
			ReportID: a.ReportID,
			Action:   "Task assignment removed",
			UserID:   caller.ID,
			Status:   "unassigned",
			Notes:    fmt.Sprintf("Task assignment for %s was removed", name),
		})
		return err
	})
	if err != nil {
		return err
	}
	e.Metrics.Assignment("deleted")
	e.log().Info("task assignment removed", zap.String("assignment_id", id), zap.String("actor", caller.ID))
	return nil
}

type AssignmentQuery struct {
	ReportID string
	StaffID  string
}

// ListAssignments applies role scoping: staff see their own, coordinators see
// the ones they created, admin and TU see everything.
func (e Engine) ListAssignments(ctx context.Context, caller identity.Identity, q AssignmentQuery) ([]domain.AssignmentView, error) {
	f := repo.AssignmentFilter{ReportID: q.ReportID, StaffID: q.StaffID}
	switch caller.Role {
	case domain.RoleAdmin, domain.RoleTU:
	case domain.RoleStaff:
		if q.StaffID != "" && q.StaffID != caller.ID {
			return []domain.AssignmentView{}, nil
		}
		f.StaffID = caller.ID
	case domain.RoleCoordinator:
		f.CoordinatorID = caller.ID
	default:
		return nil, auth.ForbiddenError{Action: "list task assignments", Role: caller.Role, Allowed: domain.Roles}
	}
	return e.Repo.ListAssignmentViews(ctx, f)
}

// GetAssignment hides assignments the caller could not list.
func (e Engine) GetAssignment(ctx context.Context, caller identity.Identity, id string) (domain.AssignmentView, error) {
	v, err := e.Repo.GetAssignmentView(ctx, id)
	if err != nil {
		return domain.AssignmentView{}, lookupErr(err, "task assignment", id)
	}
	if !auth.CanSeeAssignment(caller.ID, caller.Role, v.TaskAssignment) {
		return domain.AssignmentView{}, notFound("task assignment", id)
	}
	return v, nil
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"lettertrack/internal/domain"
	"lettertrack/internal/engine/auth"
	"lettertrack/internal/identity"
	"lettertrack/internal/ledger"
	"lettertrack/internal/repo"
	"lettertrack/internal/workflow"
)

// TransitionRequest applies one named transition.
type TransitionRequest struct {
	ReportID     string
	Key          workflow.Key
	Notes        string
	TargetHolder string

	// ExpectedVersion, when set, must match the stored report version.
	ExpectedVersion int64
}

type TransitionResult struct {
	Success    bool                `json:"success"`
	NewStatus  domain.Status       `json:"new_status"`
	Message    string              `json:"message"`
	Transition workflow.Key        `json:"transition,omitempty"`
	Report     domain.Report       `json:"report"`
	Entry      domain.HistoryEntry `json:"entry"`
}

func isForbidden(err error) bool {
	var fe auth.ForbiddenError
	return errors.As(err, &fe)
}

// ApplyTransition validates and applies a named transition. The report update
// and its ledger entry commit together.
func (e Engine) ApplyTransition(ctx context.Context, caller identity.Identity, req TransitionRequest) (TransitionResult, error) {
	res, err := e.applyTransition(ctx, caller, req)
	if err != nil {
		e.Metrics.Rejected(rejectionReason(err))
		e.log().Info("transition rejected",
			zap.String("report_id", req.ReportID),
			zap.String("transition", string(req.Key)),
			zap.String("actor", caller.ID),
			zap.Error(err))
		return TransitionResult{}, err
	}
	return res, nil
}

func (e Engine) applyTransition(ctx context.Context, caller identity.Identity, req TransitionRequest) (TransitionResult, error) {
	if _, err := e.Graph.Lookup(req.Key); err != nil {
		return TransitionResult{}, err
	}
	var res TransitionResult
	err := withTx(ctx, e.DB, func(tx *sql.Tx) error {
		rp, err := e.Repo.GetReportTx(ctx, tx, req.ReportID)
		if err != nil {
			return lookupErr(err, "report", req.ReportID)
		}
		if req.ExpectedVersion > 0 && req.ExpectedVersion != rp.Version {
			return repo.ErrConflict
		}
		res, err = e.transitionTx(ctx, tx, caller, rp, req.Key, req.Notes, req.TargetHolder, "")
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}
	e.afterTransition(caller, res)
	return res, nil
}

// transitionTx runs the graph check and writes the patch plus ledger entry.
// label, when set, replaces the transition's own ledger action.
func (e Engine) transitionTx(ctx context.Context, tx *sql.Tx, caller identity.Identity, rp domain.Report, key workflow.Key, notes, target, label string) (TransitionResult, error) {
	t, err := e.Graph.Lookup(key)
	if err != nil {
		return TransitionResult{}, err
	}
	explicit := target != ""
	if t.Holder == workflow.HolderTarget && !explicit {
		staffID, err := e.Repo.LatestAssignmentStaffTx(ctx, tx, rp.ID)
		switch {
		case err == nil:
			target = staffID
		case !errors.Is(err, repo.ErrNotFound):
			return TransitionResult{}, err
		}
	}
	patch, err := e.Graph.Next(key, workflow.Input{
		Report:   rp,
		Role:     caller.Role,
		CallerID: caller.ID,
		Target:   target,
		Notes:    strings.TrimSpace(notes),
	})
	if err != nil {
		return TransitionResult{}, err
	}
	if t.Holder == workflow.HolderTarget && explicit {
		if err := e.requireStaff(ctx, tx, "target_holder", target); err != nil {
			return TransitionResult{}, err
		}
	}
	next := patch.Apply(rp)
	next.UpdatedAt = e.stamp()
	next, err = e.Repo.UpdateReportStateTx(ctx, tx, next)
	if err != nil {
		return TransitionResult{}, err
	}
	action := patch.Action
	if label != "" {
		action = label
	}
	entry, err := e.ledgerWriter().Append(ctx, tx, ledger.Entry{
		ReportID: rp.ID,
		Action:   action,
		UserID:   caller.ID,
		Status:   string(next.Status),
		Notes:    patch.Notes,
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{
		Success:    true,
		NewStatus:  next.Status,
		Message:    action + " berhasil",
		Transition: key,
		Report:     next,
		Entry:      entry,
	}, nil
}

func (e Engine) afterTransition(caller identity.Identity, res TransitionResult) {
	label := string(res.Transition)
	if label == "" {
		label = "informational"
	}
	e.Metrics.Transition(label, string(res.NewStatus))
	e.log().Info("report transitioned",
		zap.String("report_id", res.Report.ID),
		zap.String("status", string(res.NewStatus)),
		zap.String("transition", label),
		zap.String("action", res.Entry.Action),
		zap.String("actor", caller.ID))
}

func (e Engine) requireProfile(ctx context.Context, tx *sql.Tx, field, id string) error {
	_, err := e.profileFor(ctx, tx, field, id)
	return err
}

// requireStaff checks that id names a Staff profile, the only role a report is
// handed to by assign_to_staff and request_revision.
func (e Engine) requireStaff(ctx context.Context, tx *sql.Tx, field, id string) error {
	p, err := e.profileFor(ctx, tx, field, id)
	if err != nil {
		return err
	}
	if p.Role != domain.RoleStaff {
		return inputErr(field, "profile %s has role %s, not Staff", p.ID, p.Role)
	}
	return nil
}

func (e Engine) profileFor(ctx context.Context, tx *sql.Tx, field, id string) (domain.Profile, error) {
	p, err := e.Repo.GetProfile(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Profile{}, inputErr(field, "unknown profile %s", id)
		}
		return domain.Profile{}, err
	}
	return p, nil
}

// WorkflowEvent is a free-form workflow post. Action is only an audit label;
// IntendedStatus decides what happens.
type WorkflowEvent struct {
	ReportID        string
	Action          string
	IntendedStatus  string
	Notes           string
	NextHolderID    string
	ExpectedVersion int64
}

var holdingStatuses = func() []domain.Status {
	var out []domain.Status
	for _, s := range domain.Statuses {
		if s.HoldsReport() {
			out = append(out, s)
		}
	}
	return out
}()

// PostWorkflowEvent records a free-form entry. With no intended status it is
// informational and may hand the report to NextHolderID; otherwise it resolves
// and applies the single canonical transition reaching that status.
func (e Engine) PostWorkflowEvent(ctx context.Context, caller identity.Identity, ev WorkflowEvent) (TransitionResult, error) {
	res, err := e.postWorkflowEvent(ctx, caller, ev)
	if err != nil {
		e.Metrics.Rejected(rejectionReason(err))
		return TransitionResult{}, err
	}
	return res, nil
}

func (e Engine) postWorkflowEvent(ctx context.Context, caller identity.Identity, ev WorkflowEvent) (TransitionResult, error) {
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return TransitionResult{}, inputErr("action", "required")
	}
	var intended domain.Status
	if strings.TrimSpace(ev.IntendedStatus) != "" {
		st, ok := domain.ParseStatus(ev.IntendedStatus)
		if !ok {
			return TransitionResult{}, inputErr("intended_status", "unknown status %q", ev.IntendedStatus)
		}
		intended = st
	}
	var res TransitionResult
	err := withTx(ctx, e.DB, func(tx *sql.Tx) error {
		rp, err := e.Repo.GetReportTx(ctx, tx, ev.ReportID)
		if err != nil {
			return lookupErr(err, "report", ev.ReportID)
		}
		if ev.ExpectedVersion > 0 && ev.ExpectedVersion != rp.Version {
			return repo.ErrConflict
		}
		if intended == "" {
			res, err = e.informationalTx(ctx, tx, caller, rp, ev)
			return err
		}
		key, err := e.Graph.Resolve(rp.Status, intended, caller.Role)
		if err != nil {
			return err
		}
		if ev.NextHolderID != "" {
			t, err := e.Graph.Lookup(key)
			if err != nil {
				return err
			}
			if t.Holder != workflow.HolderTarget {
				return inputErr("next_holder_id", "%s does not take a next holder", key)
			}
		}
		res, err = e.transitionTx(ctx, tx, caller, rp, key, ev.Notes, ev.NextHolderID, ev.Action)
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}
	e.afterTransition(caller, res)
	return res, nil
}

func (e Engine) informationalTx(ctx context.Context, tx *sql.Tx, caller identity.Identity, rp domain.Report, ev WorkflowEvent) (TransitionResult, error) {
	next := rp
	if ev.NextHolderID != "" {
		if !rp.Status.HoldsReport() {
			return TransitionResult{}, workflow.IllegalStateError{Current: rp.Status, Expected: holdingStatuses}
		}
		isHolder := rp.CurrentHolder != nil && *rp.CurrentHolder == caller.ID
		if !isHolder && !auth.HasRole(caller.Role, domain.RoleCoordinator, domain.RoleAdmin) {
			return TransitionResult{}, auth.ForbiddenError{Action: "hand over report", Role: caller.Role,
				Allowed: []domain.Role{domain.RoleCoordinator, domain.RoleAdmin}}
		}
		if err := e.requireProfile(ctx, tx, "next_holder_id", ev.NextHolderID); err != nil {
			return TransitionResult{}, err
		}
		holder := ev.NextHolderID
		next.CurrentHolder = &holder
		next.UpdatedAt = e.stamp()
		var err error
		next, err = e.Repo.UpdateReportStateTx(ctx, tx, next)
		if err != nil {
			return TransitionResult{}, err
		}
	}
	entry, err := e.ledgerWriter().Append(ctx, tx, ledger.Entry{
		ReportID: rp.ID,
		Action:   ev.Action,
		UserID:   caller.ID,
		Status:   string(rp.Status),
		Notes:    strings.TrimSpace(ev.Notes),
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{
		Success:   true,
		NewStatus: next.Status,
		Message:   ev.Action + " berhasil",
		Report:    next,
		Entry:     entry,
	}, nil
}

// AvailableTransitions lists the transitions the caller could apply to the
// report in its current status.
func (e Engine) AvailableTransitions(ctx context.Context, caller identity.Identity, reportID string) ([]workflow.Key, error) {
	rp, err := e.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	keys := e.Graph.Available(rp.Status, caller.Role)
	if keys == nil {
		keys = []workflow.Key{}
	}
	return keys, nil
}

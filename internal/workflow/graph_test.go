package workflow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"lettertrack/internal/domain"
	"lettertrack/internal/engine/auth"
	"lettertrack/internal/workflow"
)

func strPtr(s string) *string { return &s }

func draftReport() domain.Report {
	return domain.Report{
		ID:            "r1",
		Status:        domain.StatusDraft,
		CreatedBy:     "tu-1",
		CurrentHolder: strPtr("tu-1"),
	}
}

func TestDefaultGraphValidates(t *testing.T) {
	g := workflow.Default()
	require.NoError(t, g.Validate())
	require.Equal(t, []workflow.Key{
		workflow.SendToCoordinator,
		workflow.AssignToStaff,
		workflow.CompleteToTU,
		workflow.RequestRevision,
		workflow.ReturnToCoordinator,
	}, g.Keys())
}

func TestNewGraphRejectsBrokenTables(t *testing.T) {
	cases := map[string]workflow.Transition{
		"no roles": {Key: "x", From: []domain.Status{domain.StatusDraft}, To: domain.StatusCompleted, Holder: workflow.HolderCreator, Action: "a"},
		"no from":  {Key: "x", Roles: []domain.Role{domain.RoleTU}, To: domain.StatusCompleted, Holder: workflow.HolderCreator, Action: "a"},
		"unknown to": {Key: "x", From: []domain.Status{domain.StatusDraft}, Roles: []domain.Role{domain.RoleTU},
			To: "archived", Action: "a"},
		"queue keeps holder": {Key: "x", From: []domain.Status{domain.StatusDraft}, Roles: []domain.Role{domain.RoleTU},
			To: domain.StatusPendingCoordinatorReview, Holder: workflow.HolderKeep, Action: "a"},
		"holding status cleared": {Key: "x", From: []domain.Status{domain.StatusDraft}, Roles: []domain.Role{domain.RoleTU},
			To: domain.StatusCompleted, Holder: workflow.HolderClear, Action: "a"},
		"dead end": {Key: "x", From: []domain.Status{domain.StatusDraft}, Roles: []domain.Role{domain.RoleTU},
			To: domain.StatusForwardedToTU, Holder: workflow.HolderCreator, Action: "a"},
	}
	for name, tr := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := workflow.NewGraph(tr)
			require.Error(t, err)
		})
	}
	_, err := workflow.NewGraph(workflow.Canonical[0], workflow.Canonical[0])
	require.ErrorContains(t, err, "duplicate")
}

func TestNextUnknownKey(t *testing.T) {
	_, err := workflow.Default().Next("archive", workflow.Input{Report: draftReport(), Role: domain.RoleAdmin})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestNextForbiddenListsAllowedRoles(t *testing.T) {
	_, err := workflow.Default().Next(workflow.SendToCoordinator, workflow.Input{Report: draftReport(), Role: domain.RoleStaff})
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, []domain.Role{domain.RoleTU, domain.RoleAdmin}, fe.Allowed)
	require.Equal(t, "Only TU, Admin can perform this action", err.Error())
}

func TestNextRejectsWrongPreState(t *testing.T) {
	_, err := workflow.Default().Next(workflow.AssignToStaff, workflow.Input{Report: draftReport(), Role: domain.RoleCoordinator, CallerID: "c1"})
	var ise workflow.IllegalStateError
	require.True(t, errors.As(err, &ise))
	require.Equal(t, domain.StatusDraft, ise.Current)
	require.Equal(t, []domain.Status{domain.StatusPendingCoordinatorReview}, ise.Expected)
}

func TestNextAppliesSideEffects(t *testing.T) {
	g := workflow.Default()

	p, err := g.Next(workflow.SendToCoordinator, workflow.Input{Report: draftReport(), Role: domain.RoleTU, CallerID: "tu-1"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingCoordinatorReview, p.Status)
	require.Nil(t, p.Holder)
	require.Equal(t, "Diteruskan ke koordinator", p.Action)
	require.Equal(t, "Koordinator check dokumen", p.Notes)

	queued := p.Apply(draftReport())
	p, err = g.Next(workflow.CompleteToTU, workflow.Input{Report: queued, Role: domain.RoleCoordinator, CallerID: "c1", Notes: "ok"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, p.Status)
	require.Equal(t, 100, p.Progress)
	require.Equal(t, "tu-1", *p.Holder)
	require.Equal(t, "ok", p.Notes)

	p, err = g.Next(workflow.AssignToStaff, workflow.Input{Report: queued, Role: domain.RoleAdmin, CallerID: "adm", Target: "staff-9"})
	require.NoError(t, err)
	require.Equal(t, "staff-9", *p.Holder)

	p, err = g.Next(workflow.RequestRevision, workflow.Input{Report: queued, Role: domain.RoleCoordinator, CallerID: "c1"})
	require.NoError(t, err)
	require.Equal(t, "c1", *p.Holder)
	require.Equal(t, domain.StatusRevisionRequired, p.Status)
}

func TestHolderInvariantAcrossAllEdges(t *testing.T) {
	g := workflow.Default()
	for _, key := range g.Keys() {
		tr, err := g.Lookup(key)
		require.NoError(t, err)
		for _, from := range tr.From {
			r := domain.Report{Status: from, CreatedBy: "tu-1"}
			if from.HoldsReport() {
				r.CurrentHolder = strPtr("someone")
			}
			p, err := g.Next(key, workflow.Input{Report: r, Role: tr.Roles[0], CallerID: "caller"})
			require.NoError(t, err, "%s from %s", key, from)
			require.Equal(t, p.Status.HoldsReport(), p.Holder != nil, "%s from %s", key, from)
		}
	}
}

func TestDoubleApplicationRejected(t *testing.T) {
	g := workflow.Default()
	in := workflow.Input{Report: draftReport(), Role: domain.RoleTU, CallerID: "tu-1"}
	p, err := g.Next(workflow.SendToCoordinator, in)
	require.NoError(t, err)
	in.Report = p.Apply(in.Report)
	_, err = g.Next(workflow.SendToCoordinator, in)
	var ise workflow.IllegalStateError
	require.True(t, errors.As(err, &ise))
}

func TestResolveIntent(t *testing.T) {
	g := workflow.Default()
	key, err := g.Resolve(domain.StatusDraft, domain.StatusPendingCoordinatorReview, domain.RoleTU)
	require.NoError(t, err)
	require.Equal(t, workflow.SendToCoordinator, key)

	key, err = g.Resolve(domain.StatusRevisionRequired, domain.StatusPendingCoordinatorReview, domain.RoleStaff)
	require.NoError(t, err)
	require.Equal(t, workflow.ReturnToCoordinator, key)

	_, err = g.Resolve(domain.StatusInProgress, domain.StatusPendingCoordinatorReview, domain.RoleTU)
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, []domain.Role{domain.RoleStaff}, fe.Allowed)

	_, err = g.Resolve(domain.StatusDraft, domain.StatusCompleted, domain.RoleCoordinator)
	var ise workflow.IllegalStateError
	require.True(t, errors.As(err, &ise))

	_, err = g.Resolve(domain.StatusDraft, domain.StatusForwardedToTU, domain.RoleAdmin)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestAvailable(t *testing.T) {
	g := workflow.Default()
	require.Equal(t, []workflow.Key{workflow.AssignToStaff, workflow.CompleteToTU, workflow.RequestRevision},
		g.Available(domain.StatusPendingCoordinatorReview, domain.RoleCoordinator))
	require.Empty(t, g.Available(domain.StatusPendingCoordinatorReview, domain.RoleStaff))
}

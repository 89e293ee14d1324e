package workflow

import (
	"lettertrack/internal/domain"
	"lettertrack/internal/engine/auth"
)

// Canonical is the letter review workflow.
var Canonical = []Transition{
	{
		Key:         SendToCoordinator,
		From:        []domain.Status{domain.StatusDraft, domain.StatusCompleted},
		Roles:       []domain.Role{domain.RoleTU, domain.RoleAdmin},
		To:          domain.StatusPendingCoordinatorReview,
		Holder:      HolderClear,
		Action:      "Diteruskan ke koordinator",
		DefaultNote: "Koordinator check dokumen",
	},
	{
		Key:         AssignToStaff,
		From:        []domain.Status{domain.StatusPendingCoordinatorReview},
		Roles:       []domain.Role{domain.RoleCoordinator, domain.RoleAdmin},
		To:          domain.StatusInProgress,
		Holder:      HolderTarget,
		Action:      "Diteruskan ke staff",
		DefaultNote: "Dikerjakan staff",
	},
	{
		Key:         CompleteToTU,
		From:        []domain.Status{domain.StatusPendingCoordinatorReview},
		Roles:       []domain.Role{domain.RoleCoordinator, domain.RoleAdmin},
		To:          domain.StatusCompleted,
		Holder:      HolderCreator,
		Complete:    true,
		Action:      "Dikembalikan ke TU",
		DefaultNote: "Tugas selesai",
	},
	{
		Key:         RequestRevision,
		From:        []domain.Status{domain.StatusPendingCoordinatorReview},
		Roles:       []domain.Role{domain.RoleCoordinator, domain.RoleAdmin},
		To:          domain.StatusRevisionRequired,
		Holder:      HolderTarget,
		Action:      "Dikerjakan staff kembali",
		DefaultNote: "Direvisi",
	},
	{
		Key:         ReturnToCoordinator,
		From:        []domain.Status{domain.StatusInProgress, domain.StatusRevisionRequired},
		Roles:       []domain.Role{domain.RoleStaff},
		To:          domain.StatusPendingCoordinatorReview,
		Holder:      HolderClear,
		Action:      "Diteruskan ke koordinator",
		DefaultNote: "Check laporan",
	},
}

// Default returns the validated canonical graph. It panics if the table is
// inconsistent, which only a code change can cause.
func Default() *Graph {
	g, err := NewGraph(Canonical...)
	if err != nil {
		panic("workflow: " + err.Error())
	}
	return g
}

// Input carries everything Next needs to decide a transition.
type Input struct {
	Report   domain.Report
	Role     domain.Role
	CallerID string
	// Target is the holder for HolderTarget transitions; empty means the caller.
	Target string
	Notes  string
}

// Patch is the effect of a transition on a report plus the ledger entry that records it.
type Patch struct {
	Key      Key
	Status   domain.Status
	Holder   *string
	Progress int
	Action   string
	Notes    string
}

// Apply returns r with the patch applied.
func (p Patch) Apply(r domain.Report) domain.Report {
	r.Status = p.Status
	r.CurrentHolder = p.Holder
	r.Progress = p.Progress
	return r
}

// Next validates key for the given input and computes the resulting patch.
// Checks run in order: known key, caller role, current status.
func (g *Graph) Next(key Key, in Input) (Patch, error) {
	t, err := g.Lookup(key)
	if err != nil {
		return Patch{}, err
	}
	if err := auth.RequireRole(in.Role, string(key), t.Roles...); err != nil {
		return Patch{}, err
	}
	if !t.allowsFrom(in.Report.Status) {
		return Patch{}, IllegalStateError{Transition: key, Current: in.Report.Status, Expected: t.From}
	}
	p := Patch{
		Key:      key,
		Status:   t.To,
		Holder:   in.Report.CurrentHolder,
		Progress: in.Report.Progress,
		Action:   t.Action,
		Notes:    in.Notes,
	}
	if p.Notes == "" {
		p.Notes = t.DefaultNote
	}
	switch t.Holder {
	case HolderClear:
		p.Holder = nil
	case HolderCreator:
		creator := in.Report.CreatedBy
		p.Holder = &creator
	case HolderTarget:
		target := in.Target
		if target == "" {
			target = in.CallerID
		}
		p.Holder = &target
	}
	if t.Complete {
		p.Progress = 100
	}
	return p, nil
}

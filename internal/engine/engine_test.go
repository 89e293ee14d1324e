package engine_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lettertrack/internal/blob"
	"lettertrack/internal/config"
	"lettertrack/internal/db"
	"lettertrack/internal/domain"
	"lettertrack/internal/engine"
	"lettertrack/internal/engine/auth"
	"lettertrack/internal/identity"
	"lettertrack/internal/metrics"
	"lettertrack/internal/migrate"
	"lettertrack/internal/repo"
	"lettertrack/internal/workflow"
)

// clock ticks one second per reading so every stamp is distinct.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *clock
	Blob   *blob.Memory
	People map[string]identity.Identity
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	clk := &clock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	mem := blob.NewMemory("")
	eng := engine.New(conn, config.Default())
	eng.Now = clk.Now
	eng.Blob = mem
	eng.Metrics = metrics.New()
	ctx := context.Background()

	seed := []engine.ProfileInput{
		{ID: "tu-1", Name: "Tata Usaha", Role: "TU"},
		{ID: "coord-1", Name: "Koor Satu", Role: "Koordinator"},
		{ID: "coord-2", Name: "Koor Dua", Role: "Coordinator"},
		{ID: "staff-1", Name: "Staf Satu", Role: "Staff"},
		{ID: "staff-2", Name: "Staf Dua", Role: "Staff"},
		{ID: "admin-1", Name: "Admin", Role: "Admin"},
	}
	resolver := identity.ProfileResolver{Repo: eng.Repo}
	people := map[string]identity.Identity{}
	for _, p := range seed {
		_, err := eng.BootstrapProfile(ctx, p)
		require.NoError(t, err)
		id, err := resolver.Resolve(ctx, p.ID)
		require.NoError(t, err)
		people[p.ID] = id
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk, Blob: mem, People: people}
}

func (env testEnv) who(id string) identity.Identity { return env.People[id] }

func (env testEnv) newReport(t *testing.T) domain.Report {
	t.Helper()
	rp, err := env.Engine.CreateReport(env.Ctx, env.who("tu-1"), engine.ReportInput{
		LetterNumber: "001/UND/2024",
		Subject:      "Undangan rapat",
		Service:      "Umum",
		Sender:       "Dinas Pendidikan",
		Priority:     "tinggi",
	})
	require.NoError(t, err)
	return rp
}

func (env testEnv) apply(t *testing.T, who string, reportID string, key workflow.Key) engine.TransitionResult {
	t.Helper()
	res, err := env.Engine.ApplyTransition(env.Ctx, env.who(who), engine.TransitionRequest{ReportID: reportID, Key: key})
	require.NoError(t, err)
	return res
}

func requireHolderInvariant(t *testing.T, rp domain.Report) {
	t.Helper()
	if rp.Status == domain.StatusPendingCoordinatorReview {
		require.Nil(t, rp.CurrentHolder, "pending report must have no holder")
	} else {
		require.NotNil(t, rp.CurrentHolder, "%s report must have a holder", rp.Status)
	}
}

func TestCreateReport(t *testing.T) {
	env := newTestEnv(t)
	size := int64(2048)
	rp, err := env.Engine.CreateReport(env.Ctx, env.who("coord-1"), engine.ReportInput{
		Subject:  "Permohonan data",
		Status:   "pending_coordinator_review",
		Priority: "urgent",
		Attachments: []engine.AttachmentInput{
			{FileName: "surat.pdf", FileURL: "memory://x/surat.pdf", FileSize: &size},
		},
	})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^TRK-\d+-[A-Z0-9]{9}$`), rp.TrackingNumber)
	require.Equal(t, domain.StatusDraft, rp.Status, "non-initial status coerced to draft")
	require.Equal(t, domain.PriorityMedium, rp.Priority)
	require.Equal(t, "coord-1", *rp.CurrentHolder)
	require.EqualValues(t, 1, rp.Version)

	got, err := env.Engine.GetReport(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	require.Equal(t, "original", got.Attachments[0].FileType)
	require.EqualValues(t, 2048, *got.Attachments[0].FileSize)

	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "Laporan dibuat", hist[0].Action)
	require.Equal(t, "Laporan baru dibuat oleh Coordinator", hist[0].Notes)
	require.Equal(t, "draft", hist[0].Status)
	require.Equal(t, "Koor Satu", hist[0].User.Name)
}

func TestCreateReportAcceptsAliases(t *testing.T) {
	env := newTestEnv(t)
	rp, err := env.Engine.CreateReport(env.Ctx, env.who("tu-1"), engine.ReportInput{Status: "in-progress", Priority: "rendah"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, rp.Status)
	require.Equal(t, domain.PriorityLow, rp.Priority)
}

func TestCreateReportRoleGate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateReport(env.Ctx, env.who("staff-1"), engine.ReportInput{Subject: "x"})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, []string{"TU", "Admin", "Coordinator"}, fe.AllowedRoleNames())

	reports, err := env.Engine.ListReports(env.Ctx, engine.ReportQuery{})
	require.NoError(t, err)
	require.Empty(t, reports)
}

func TestCreateReportRejectsBadAttachmentAtomically(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateReport(env.Ctx, env.who("tu-1"), engine.ReportInput{
		Attachments: []engine.AttachmentInput{{FileName: "a.pdf", FileURL: "u", FileType: "scan"}},
	})
	var ie engine.InputError
	require.ErrorAs(t, err, &ie)
	reports, err := env.Engine.ListReports(env.Ctx, engine.ReportQuery{})
	require.NoError(t, err)
	require.Empty(t, reports)
}

// TU intake, coordinator assigns, staff works and returns, coordinator closes.
func TestFullReviewCycle(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)

	res := env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	require.Equal(t, domain.StatusPendingCoordinatorReview, res.NewStatus)
	require.Equal(t, "Diteruskan ke koordinator berhasil", res.Message)
	requireHolderInvariant(t, res.Report)

	view, err := env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{
		ReportID: rp.ID,
		StaffID:  "staff-1",
		TodoList: []string{"Baca surat", "Siapkan jawaban", "Arsipkan"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.AssignmentPending, view.Status)
	require.Equal(t, "Staf Satu", view.Staff.Name)
	require.Equal(t, "Koor Satu", view.Coordinator.Name)
	require.Equal(t, "Undangan rapat", view.Report.Subject)

	got, err := env.Engine.GetReport(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, got.Status)
	require.Equal(t, "staff-1", *got.CurrentHolder)

	done := []string{"Arsipkan", "Baca surat", "Baca surat"}
	view, err = env.Engine.UpdateAssignment(env.Ctx, env.who("staff-1"), view.ID, engine.AssignmentPatch{CompletedTasks: &done})
	require.NoError(t, err)
	require.Equal(t, []string{"Baca surat", "Arsipkan"}, view.CompletedTasks)
	require.Equal(t, 67, view.Progress)

	res = env.apply(t, "staff-1", rp.ID, workflow.ReturnToCoordinator)
	require.Equal(t, domain.StatusPendingCoordinatorReview, res.NewStatus)
	requireHolderInvariant(t, res.Report)

	res = env.apply(t, "coord-1", rp.ID, workflow.CompleteToTU)
	require.Equal(t, domain.StatusCompleted, res.NewStatus)
	require.Equal(t, 100, res.Report.Progress)
	require.Equal(t, "tu-1", *res.Report.CurrentHolder)

	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	var actions []string
	for i, h := range hist {
		actions = append(actions, h.Action)
		if i > 0 {
			require.Greater(t, h.Seq, hist[i-1].Seq)
			require.GreaterOrEqual(t, h.Timestamp, hist[i-1].Timestamp)
		}
	}
	require.Equal(t, []string{
		"Laporan dibuat",
		"Diteruskan ke koordinator",
		"Diteruskan ke staff",
		"Task assigned to staff",
		"Diteruskan ke koordinator",
		"Dikembalikan ke TU",
	}, actions)
	require.Equal(t, "in_progress", hist[2].Status)
	require.Equal(t, "Dikerjakan staff", hist[2].Notes)
	require.Equal(t, "coord-1", hist[2].UserID)
	require.Equal(t, "assigned", hist[3].Status)
	require.Equal(t, "Assigned to staff with 3 tasks", hist[3].Notes)
	require.Equal(t, "Check laporan", hist[4].Notes)
	require.Equal(t, "Tugas selesai", hist[5].Notes)
}

func TestAssignmentOnPendingReportGoesThroughGraph(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)

	_, err := env.Engine.CreateAssignment(env.Ctx, env.who("admin-1"), engine.AssignmentInput{
		ReportID: rp.ID, StaffID: "staff-1", TodoList: []string{"a"}, Notes: "prioritas",
	})
	require.NoError(t, err)
	got, err := env.Engine.GetReport(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, got.Status)
	require.Equal(t, "staff-1", *got.CurrentHolder)

	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	require.Equal(t, "Diteruskan ke staff", hist[2].Action)
	require.Equal(t, string(got.Status), hist[2].Status, "ledger agrees with the report status")
	require.Equal(t, "prioritas", hist[2].Notes)

	// A second assignment on an in_progress report only moves the holder.
	_, err = env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{
		ReportID: rp.ID, StaffID: "staff-2", TodoList: []string{"b"},
	})
	require.NoError(t, err)
	got, err = env.Engine.GetReport(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, got.Status)
	require.Equal(t, "staff-2", *got.CurrentHolder)
	hist, err = env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, hist, 5)
	require.Equal(t, "Task assigned to staff", hist[4].Action)
}

func TestForbiddenTransitionLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	_, err := env.Engine.ApplyTransition(env.Ctx, env.who("staff-1"), engine.TransitionRequest{ReportID: rp.ID, Key: workflow.SendToCoordinator})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "Only TU, Admin can perform this action", err.Error())

	got, err := env.Engine.GetReport(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, got.Status)
	require.EqualValues(t, 1, got.Version)
	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestTransitionErrors(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)

	_, err := env.Engine.ApplyTransition(env.Ctx, env.who("admin-1"), engine.TransitionRequest{ReportID: rp.ID, Key: "archive"})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = env.Engine.ApplyTransition(env.Ctx, env.who("admin-1"), engine.TransitionRequest{ReportID: "missing", Key: workflow.SendToCoordinator})
	require.ErrorIs(t, err, repo.ErrNotFound)

	_, err = env.Engine.ApplyTransition(env.Ctx, env.who("coord-1"), engine.TransitionRequest{ReportID: rp.ID, Key: workflow.CompleteToTU})
	var ise workflow.IllegalStateError
	require.ErrorAs(t, err, &ise)
	require.Equal(t, domain.StatusDraft, ise.Current)
}

func TestDoubleSendRejected(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	_, err := env.Engine.ApplyTransition(env.Ctx, env.who("tu-1"), engine.TransitionRequest{ReportID: rp.ID, Key: workflow.SendToCoordinator})
	var ise workflow.IllegalStateError
	require.ErrorAs(t, err, &ise)

	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestStaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	_, err := env.Engine.ApplyTransition(env.Ctx, env.who("coord-1"), engine.TransitionRequest{
		ReportID: rp.ID, Key: workflow.CompleteToTU, ExpectedVersion: rp.Version,
	})
	require.ErrorIs(t, err, repo.ErrConflict)
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)

	keys := []workflow.Key{workflow.CompleteToTU, workflow.RequestRevision, workflow.AssignToStaff}
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i, k := range keys {
		wg.Add(1)
		go func(i int, k workflow.Key) {
			defer wg.Done()
			_, errs[i] = env.Engine.ApplyTransition(env.Ctx, env.who("coord-1"), engine.TransitionRequest{ReportID: rp.ID, Key: k})
		}(i, k)
	}
	wg.Wait()
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var ise workflow.IllegalStateError
		require.True(t, errors.As(err, &ise) || errors.Is(err, repo.ErrConflict), "unexpected error %v", err)
	}
	require.Equal(t, 1, succeeded)
	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
}

func TestRevisionHolderFallsBack(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	res := env.apply(t, "coord-1", rp.ID, workflow.RequestRevision)
	require.Equal(t, "coord-1", *res.Report.CurrentHolder, "no assignment: caller holds")
	require.Equal(t, "Direvisi", res.Entry.Notes)

	rp2 := env.newReport(t)
	env.apply(t, "tu-1", rp2.ID, workflow.SendToCoordinator)
	_, err := env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: rp2.ID, StaffID: "staff-2", TodoList: []string{"a"}})
	require.NoError(t, err)
	env.apply(t, "staff-2", rp2.ID, workflow.ReturnToCoordinator)
	res = env.apply(t, "coord-1", rp2.ID, workflow.RequestRevision)
	require.Equal(t, "staff-2", *res.Report.CurrentHolder, "latest assignment's staff holds")

	rp3 := env.newReport(t)
	env.apply(t, "tu-1", rp3.ID, workflow.SendToCoordinator)
	res, err = env.Engine.ApplyTransition(env.Ctx, env.who("admin-1"), engine.TransitionRequest{
		ReportID: rp3.ID, Key: workflow.AssignToStaff, TargetHolder: "staff-1", Notes: "tolong segera",
	})
	require.NoError(t, err)
	require.Equal(t, "staff-1", *res.Report.CurrentHolder)
	require.Equal(t, "tolong segera", res.Entry.Notes)

	_, err = env.Engine.ApplyTransition(env.Ctx, env.who("staff-1"), engine.TransitionRequest{ReportID: rp3.ID, Key: workflow.ReturnToCoordinator})
	require.NoError(t, err)
	_, err = env.Engine.ApplyTransition(env.Ctx, env.who("admin-1"), engine.TransitionRequest{
		ReportID: rp3.ID, Key: workflow.AssignToStaff, TargetHolder: "ghost",
	})
	var ie engine.InputError
	require.ErrorAs(t, err, &ie)

	for _, target := range []string{"tu-1", "coord-2"} {
		_, err = env.Engine.ApplyTransition(env.Ctx, env.who("admin-1"), engine.TransitionRequest{
			ReportID: rp3.ID, Key: workflow.RequestRevision, TargetHolder: target,
		})
		require.ErrorAs(t, err, &ie, target)
		require.Equal(t, "target_holder", ie.Field)
	}
	got, err := env.Engine.GetReport(env.Ctx, rp3.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingCoordinatorReview, got.Status)
	requireHolderInvariant(t, got)
}

func TestAssignmentCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)

	_, err := env.Engine.CreateAssignment(env.Ctx, env.who("staff-1"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "staff-1", TodoList: []string{"a"}})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)

	_, err = env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "staff-1", TodoList: []string{"a"}})
	var ise workflow.IllegalStateError
	require.ErrorAs(t, err, &ise, "draft reports cannot be assigned")

	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	var ie engine.InputError
	_, err = env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "staff-1"})
	require.ErrorAs(t, err, &ie)
	_, err = env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "staff-1", TodoList: []string{"a", "  "}})
	require.ErrorAs(t, err, &ie)
	_, err = env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "tu-1", TodoList: []string{"a"}})
	require.ErrorAs(t, err, &ie)
	_, err = env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "nobody", TodoList: []string{"a"}})
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: "missing", StaffID: "staff-1", TodoList: []string{"a"}})
	require.ErrorIs(t, err, repo.ErrNotFound)

	got, err := env.Engine.GetReport(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingCoordinatorReview, got.Status)
	requireHolderInvariant(t, got)
}

func TestAssignmentUpdateRules(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	view, err := env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{
		ReportID: rp.ID, StaffID: "staff-1", TodoList: []string{"a", "b"},
	})
	require.NoError(t, err)

	bad := []string{"a", "z"}
	_, err = env.Engine.UpdateAssignment(env.Ctx, env.who("staff-1"), view.ID, engine.AssignmentPatch{CompletedTasks: &bad})
	var ie engine.InputError
	require.ErrorAs(t, err, &ie)

	_, err = env.Engine.UpdateAssignment(env.Ctx, env.who("staff-2"), view.ID, engine.AssignmentPatch{CompletedTasks: &[]string{"a"}})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	_, err = env.Engine.UpdateAssignment(env.Ctx, env.who("coord-2"), view.ID, engine.AssignmentPatch{CompletedTasks: &[]string{"a"}})
	require.ErrorAs(t, err, &fe)

	_, err = env.Engine.UpdateAssignment(env.Ctx, env.who("staff-1"), "missing", engine.AssignmentPatch{CompletedTasks: &[]string{"a"}})
	require.ErrorIs(t, err, repo.ErrNotFound)

	status := "completed"
	both := []string{"b", "a"}
	view, err = env.Engine.UpdateAssignment(env.Ctx, env.who("staff-1"), view.ID, engine.AssignmentPatch{CompletedTasks: &both, Status: &status})
	require.NoError(t, err)
	require.Equal(t, 100, view.Progress)
	require.Equal(t, domain.AssignmentCompleted, view.Status)
	require.NotNil(t, view.CompletedAt)
	firstCompletion := *view.CompletedAt

	explicit := 40
	view, err = env.Engine.UpdateAssignment(env.Ctx, env.who("admin-1"), view.ID, engine.AssignmentPatch{Progress: &explicit, Status: &status})
	require.NoError(t, err)
	require.Equal(t, 40, view.Progress)
	require.Equal(t, firstCompletion, *view.CompletedAt, "completed_at is stamped once")

	revision := "revision-required"
	notes := "Lampiran kurang"
	view, err = env.Engine.UpdateAssignment(env.Ctx, env.who("coord-1"), view.ID, engine.AssignmentPatch{Status: &revision, RevisionNotes: &notes})
	require.NoError(t, err)
	require.Equal(t, domain.AssignmentRevisionRequired, view.Status)
	require.Equal(t, "Lampiran kurang", view.RevisionNotes)

	tooMuch := 101
	_, err = env.Engine.UpdateAssignment(env.Ctx, env.who("coord-1"), view.ID, engine.AssignmentPatch{Progress: &tooMuch})
	require.ErrorAs(t, err, &ie)
	_, err = env.Engine.UpdateAssignment(env.Ctx, env.who("coord-1"), view.ID, engine.AssignmentPatch{})
	require.ErrorAs(t, err, &ie)

	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	last := hist[len(hist)-1]
	require.Equal(t, "Revision requested for task", last.Action)
	require.Equal(t, "revision_required", last.Status)
	require.Equal(t, "Lampiran kurang", last.Notes)
	prev := hist[len(hist)-2]
	require.Equal(t, "Task completed by staff", prev.Action)
	require.Equal(t, "Task status changed to completed", prev.Notes)
}

func TestAssignmentListScopingAndDelete(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	a1, err := env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "staff-1", TodoList: []string{"a"}})
	require.NoError(t, err)
	a2, err := env.Engine.CreateAssignment(env.Ctx, env.who("coord-2"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "staff-2", TodoList: []string{"b"}})
	require.NoError(t, err)

	ids := func(views []domain.AssignmentView) []string {
		var out []string
		for _, v := range views {
			out = append(out, v.ID)
		}
		return out
	}
	all, err := env.Engine.ListAssignments(env.Ctx, env.who("tu-1"), engine.AssignmentQuery{ReportID: rp.ID})
	require.NoError(t, err)
	require.Equal(t, []string{a2.ID, a1.ID}, ids(all), "newest first")

	mine, err := env.Engine.ListAssignments(env.Ctx, env.who("staff-1"), engine.AssignmentQuery{})
	require.NoError(t, err)
	require.Equal(t, []string{a1.ID}, ids(mine))
	other, err := env.Engine.ListAssignments(env.Ctx, env.who("staff-1"), engine.AssignmentQuery{StaffID: "staff-2"})
	require.NoError(t, err)
	require.Empty(t, other)

	created, err := env.Engine.ListAssignments(env.Ctx, env.who("coord-2"), engine.AssignmentQuery{})
	require.NoError(t, err)
	require.Equal(t, []string{a2.ID}, ids(created))

	_, err = env.Engine.GetAssignment(env.Ctx, env.who("staff-2"), a1.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	got, err := env.Engine.GetAssignment(env.Ctx, env.who("admin-1"), a1.ID)
	require.NoError(t, err)
	require.Equal(t, "staff-1", got.Staff.ID)

	err = env.Engine.DeleteAssignment(env.Ctx, env.who("staff-1"), a1.ID)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	require.NoError(t, env.Engine.DeleteAssignment(env.Ctx, env.who("coord-1"), a1.ID))
	require.ErrorIs(t, env.Engine.DeleteAssignment(env.Ctx, env.who("coord-1"), a1.ID), repo.ErrNotFound)

	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	last := hist[len(hist)-1]
	require.Equal(t, "Task assignment removed", last.Action)
	require.Equal(t, "unassigned", last.Status)
	require.Equal(t, "Task assignment for Staf Satu was removed", last.Notes)
}

func TestPostWorkflowEvent(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)

	res, err := env.Engine.PostWorkflowEvent(env.Ctx, env.who("tu-1"), engine.WorkflowEvent{
		ReportID: rp.ID, Action: "Kirim ke koordinator", IntendedStatus: "pending_coordinator_review",
	})
	require.NoError(t, err)
	require.Equal(t, workflow.SendToCoordinator, res.Transition)
	require.Equal(t, "Kirim ke koordinator", res.Entry.Action)
	require.Equal(t, "Koordinator check dokumen", res.Entry.Notes)

	// The label alone never drives a transition.
	res, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("coord-1"), engine.WorkflowEvent{
		ReportID: rp.ID, Action: "Selesai, kembalikan ke TU", Notes: "dibaca",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingCoordinatorReview, res.NewStatus)
	require.Equal(t, "pending_coordinator_review", res.Entry.Status)
	require.Empty(t, res.Transition)

	_, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("coord-1"), engine.WorkflowEvent{
		ReportID: rp.ID, Action: "Serahkan", NextHolderID: "staff-1",
	})
	var ise workflow.IllegalStateError
	require.ErrorAs(t, err, &ise, "pending reports have no holder to hand over")

	_, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("staff-1"), engine.WorkflowEvent{
		ReportID: rp.ID, Action: "Kembalikan", IntendedStatus: "completed",
	})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, []string{"Coordinator", "Admin"}, fe.AllowedRoleNames())

	_, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("coord-1"), engine.WorkflowEvent{
		ReportID: rp.ID, Action: "x", IntendedStatus: "archived",
	})
	var ie engine.InputError
	require.ErrorAs(t, err, &ie)
	_, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("coord-1"), engine.WorkflowEvent{ReportID: rp.ID})
	require.ErrorAs(t, err, &ie)

	res, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("coord-1"), engine.WorkflowEvent{
		ReportID: rp.ID, Action: "Revisi", IntendedStatus: "revision-required", NextHolderID: "staff-2",
	})
	require.NoError(t, err)
	require.Equal(t, workflow.RequestRevision, res.Transition)
	require.Equal(t, "staff-2", *res.Report.CurrentHolder)

	res, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("staff-2"), engine.WorkflowEvent{
		ReportID: rp.ID, Action: "Oper", NextHolderID: "staff-1",
	})
	require.NoError(t, err)
	require.Equal(t, "staff-1", *res.Report.CurrentHolder)
	require.Equal(t, domain.StatusRevisionRequired, res.NewStatus)

	_, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("staff-2"), engine.WorkflowEvent{
		ReportID: rp.ID, Action: "Oper lagi", NextHolderID: "staff-2",
	})
	require.ErrorAs(t, err, &fe, "former holder may not hand over")

	rp2 := env.newReport(t)
	_, err = env.Engine.PostWorkflowEvent(env.Ctx, env.who("tu-1"), engine.WorkflowEvent{
		ReportID: rp2.ID, Action: "Kirim", IntendedStatus: "pending_coordinator_review", NextHolderID: "staff-1",
	})
	require.ErrorAs(t, err, &ie, "send_to_coordinator clears the holder")
	require.Equal(t, "next_holder_id", ie.Field)
	got, err := env.Engine.GetReport(env.Ctx, rp2.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, got.Status)
	hist, err := env.Engine.History(env.Ctx, rp2.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestLedgerIsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	_, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE workflow_history SET notes='x' WHERE report_id=?`, rp.ID)
	require.ErrorContains(t, err, "append-only")
	_, err = env.Engine.DB.ExecContext(env.Ctx, `DELETE FROM workflow_history WHERE report_id=?`, rp.ID)
	require.ErrorContains(t, err, "append-only")
}

func TestLedgerTimestampsNeverGoBackwards(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.Clock.Set(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	hist, err := env.Engine.History(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, hist[0].Timestamp, hist[1].Timestamp)
}

func TestUploadStoresBlobAndAttachment(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	att, err := env.Engine.Upload(env.Ctx, env.who("tu-1"), engine.UploadInput{
		ReportID: rp.ID, FileName: "../scan surat.pdf", ContentType: "application/pdf", Body: []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	require.Equal(t, "scan surat.pdf", att.FileName)
	require.Regexp(t, `^memory://`+rp.ID+`/2024-01-01T08-00-\d\d-000Z-scan surat\.pdf$`, att.FileURL)
	require.EqualValues(t, 8, *att.FileSize)

	got, err := env.Engine.GetReport(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)

	_, err = env.Engine.Upload(env.Ctx, env.who("tu-1"), engine.UploadInput{ReportID: "missing", FileName: "a", Body: []byte("x")})
	require.ErrorIs(t, err, repo.ErrNotFound)
	var ie engine.InputError
	_, err = env.Engine.Upload(env.Ctx, env.who("tu-1"), engine.UploadInput{ReportID: rp.ID, FileName: "a"})
	require.ErrorAs(t, err, &ie)
}

func TestUploadRequiresRoleOrHolder(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	env.apply(t, "tu-1", rp.ID, workflow.SendToCoordinator)
	_, err := env.Engine.CreateAssignment(env.Ctx, env.who("coord-1"), engine.AssignmentInput{ReportID: rp.ID, StaffID: "staff-1", TodoList: []string{"a"}})
	require.NoError(t, err)

	_, err = env.Engine.Upload(env.Ctx, env.who("staff-2"), engine.UploadInput{ReportID: rp.ID, FileName: "x.pdf", Body: []byte("x")})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, []string{"TU", "Coordinator", "Admin"}, fe.AllowedRoleNames())

	att, err := env.Engine.Upload(env.Ctx, env.who("staff-1"), engine.UploadInput{ReportID: rp.ID, FileName: "balasan.pdf", FileType: "response", Body: []byte("y")})
	require.NoError(t, err)
	require.Equal(t, "staff-1", att.UploadedBy)
}

func TestUploadRemovesBlobWhenAttachmentFails(t *testing.T) {
	env := newTestEnv(t)
	rp := env.newReport(t)
	_, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER attachments_full BEFORE INSERT ON file_attachments
BEGIN SELECT RAISE(ABORT, 'attachments full'); END`)
	require.NoError(t, err)

	_, err = env.Engine.Upload(env.Ctx, env.who("tu-1"), engine.UploadInput{ReportID: rp.ID, FileName: "scan.pdf", Body: []byte("%PDF")})
	require.ErrorContains(t, err, "attachments full")

	require.Empty(t, env.Blob.Keys(), "stored object is removed again")
	got, err := env.Engine.GetReport(env.Ctx, rp.ID)
	require.NoError(t, err)
	require.Empty(t, got.Attachments)
}

func TestProfilesAndKeys(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpsertProfile(env.Ctx, env.who("coord-1"), engine.ProfileInput{ID: "staff-1", Name: "x", Role: "Admin"})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)

	p, err := env.Engine.UpsertProfile(env.Ctx, env.who("admin-1"), engine.ProfileInput{ID: "staff-1", Name: "Staf Satu", Role: "Koordinator"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleCoordinator, p.Role)

	_, err = env.Engine.UpsertProfile(env.Ctx, env.who("admin-1"), engine.ProfileInput{Name: "x", Role: "Boss"})
	var ie engine.InputError
	require.ErrorAs(t, err, &ie)

	coords, err := env.Engine.ListProfiles(env.Ctx, "Koordinator")
	require.NoError(t, err)
	require.Len(t, coords, 3)

	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "tu-1", "scanner")
	require.NoError(t, err)
	require.Equal(t, repo.HashAPIKey(plain), key.KeyHash)
	keys, err := env.Engine.ListAPIKeys(env.Ctx, "tu-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID))
	require.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID), repo.ErrNotFound)
	_, _, err = env.Engine.CreateAPIKey(env.Ctx, "nobody", "")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListReportsCursor(t *testing.T) {
	env := newTestEnv(t)
	first := env.newReport(t)
	second := env.newReport(t)
	third := env.newReport(t)

	page, err := env.Engine.ListReports(env.Ctx, engine.ReportQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, third.ID, page[0].ID)
	require.Equal(t, second.ID, page[1].ID)

	page, err = env.Engine.ListReports(env.Ctx, engine.ReportQuery{Limit: 2, CursorCreatedAt: page[1].CreatedAt, CursorID: page[1].ID})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, first.ID, page[0].ID)

	_, err = env.Engine.ListReports(env.Ctx, engine.ReportQuery{Status: "lost"})
	var ie engine.InputError
	require.ErrorAs(t, err, &ie)
}

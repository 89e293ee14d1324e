package engine

import (
	"context"
	"database/sql"
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

type AttachmentInput struct {
	FileName string
	FileURL  string
	FileType string
	FileSize *int64
}

// ReportInput is a new letter. Status and Priority are raw strings: unknown
// values fall back to draft and medium.
type ReportInput struct {
	LetterNumber string
	Subject      string
	Service      string
	Sender       string
	LetterDate   string
	AgendaDate   string
	Status       string
	Priority     string
	Attachments  []AttachmentInput
}

var fileTypes = map[string]bool{"original": true, "response": true, "revision": true}

func normalizeFileType(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "original", true
	}
	return s, fileTypes[s]
}

func initialStatus(raw string) domain.Status {
	st, ok := domain.ParseStatus(raw)
	if !ok {
		return domain.StatusDraft
	}
	for _, s := range workflow.InitialStatuses {
		if s == st {
			return st
		}
	}
	return domain.StatusDraft
}

// CreateReport inserts the report, its attachments and the creation ledger
// entry in one transaction. The creator holds the new report.
func (e Engine) CreateReport(ctx context.Context, caller identity.Identity, in ReportInput) (domain.Report, error) {
	if err := auth.RequireRole(caller.Role, "create report", domain.RoleTU, domain.RoleAdmin, domain.RoleCoordinator); err != nil {
		return domain.Report{}, err
	}
	priority, ok := domain.ParsePriority(in.Priority)
	if !ok {
		priority = domain.PriorityMedium
	}
	tracking, err := e.trackingNumber()
	if err != nil {
		return domain.Report{}, err
	}
	now := e.stamp()
	holder := caller.ID
	rp := domain.Report{
		ID:             uuid.NewString(),
		TrackingNumber: tracking,
		LetterNumber:   strings.TrimSpace(in.LetterNumber),
		Subject:        strings.TrimSpace(in.Subject),
		Service:        strings.TrimSpace(in.Service),
		Sender:         strings.TrimSpace(in.Sender),
		LetterDate:     strings.TrimSpace(in.LetterDate),
		AgendaDate:     strings.TrimSpace(in.AgendaDate),
		Status:         initialStatus(in.Status),
		Priority:       priority,
		CreatedBy:      caller.ID,
		CurrentHolder:  &holder,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, a := range in.Attachments {
		if strings.TrimSpace(a.FileName) == "" {
			return domain.Report{}, inputErr("attachments", "entry %d has no file_name", i)
		}
		if strings.TrimSpace(a.FileURL) == "" {
			return domain.Report{}, inputErr("attachments", "entry %d has no file_url", i)
		}
		ft, ok := normalizeFileType(a.FileType)
		if !ok {
			return domain.Report{}, inputErr("attachments", "entry %d has unknown file_type %q", i, a.FileType)
		}
		rp.Attachments = append(rp.Attachments, domain.FileAttachment{
			ID:         uuid.NewString(),
			ReportID:   rp.ID,
			FileName:   strings.TrimSpace(a.FileName),
			FileURL:    strings.TrimSpace(a.FileURL),
			FileType:   ft,
			FileSize:   a.FileSize,
			UploadedBy: caller.ID,
			UploadedAt: now,
		})
	}
	err = withTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.InsertReportTx(ctx, tx, rp); err != nil {
			return err
		}
		for _, a := range rp.Attachments {
			if err := e.Repo.InsertAttachmentTx(ctx, tx, a); err != nil {
				return err
			}
		}
		_, err := e.ledgerWriter().Append(ctx, tx, ledger.Entry{
			ReportID: rp.ID,
			Action:   "Laporan dibuat",
			UserID:   caller.ID,
			Status:   string(rp.Status),
			Notes:    "Laporan baru dibuat oleh " + string(caller.Role),
		})
		return err
	})
	if err != nil {
		return domain.Report{}, err
	}
	if rp.Attachments == nil {
		rp.Attachments = []domain.FileAttachment{}
	}
	e.Metrics.ReportCreated()
	e.log().Info("report created",
		zap.String("report_id", rp.ID),
		zap.String("tracking_number", rp.TrackingNumber),
		zap.String("status", string(rp.Status)),
		zap.String("actor", caller.ID))
	return rp, nil
}

func (e Engine) GetReport(ctx context.Context, id string) (domain.Report, error) {
	rp, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, lookupErr(err, "report", id)
	}
	return rp, nil
}

type ReportQuery struct {
	Status          string
	CreatedBy       string
	Holder          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (e Engine) ListReports(ctx context.Context, q ReportQuery) ([]domain.Report, error) {
	f := repo.ReportFilter{
		CreatedBy:       q.CreatedBy,
		Holder:          q.Holder,
		Limit:           q.Limit,
		CursorCreatedAt: q.CursorCreatedAt,
		CursorID:        q.CursorID,
	}
	if q.Status != "" {
		st, ok := domain.ParseStatus(q.Status)
		if !ok {
			return nil, inputErr("status", "unknown status %q", q.Status)
		}
		f.Status = st
	}
	return e.Repo.ListReports(ctx, f)
}

// History returns the report's ledger oldest first.
func (e Engine) History(ctx context.Context, reportID string) ([]domain.HistoryEntry, error) {
	if _, err := e.Repo.GetReport(ctx, reportID); err != nil {
		return nil, lookupErr(err, "report", reportID)
	}
	return e.HistoryLog.List(ctx, reportID)
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lettertrack/internal/domain"
	"lettertrack/internal/engine/auth"
	"lettertrack/internal/identity"
)

type UploadInput struct {
	ReportID    string
	FileName    string
	FileType    string
	ContentType string
	Body        []byte
}

// uploaderRoles may attach files to any report; anyone else must hold it.
var uploaderRoles = []domain.Role{domain.RoleTU, domain.RoleCoordinator, domain.RoleAdmin}

// Upload stores a file under <reportId>/<timestamp>-<name> and attaches it to
// the report. The object is removed again when the attachment row cannot be
// written.
func (e Engine) Upload(ctx context.Context, caller identity.Identity, in UploadInput) (domain.FileAttachment, error) {
	if e.Blob == nil {
		return domain.FileAttachment{}, errors.New("blob store not configured")
	}
	in.ReportID = strings.TrimSpace(in.ReportID)
	if in.ReportID == "" {
		return domain.FileAttachment{}, inputErr("report_id", "required")
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(in.FileName), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return domain.FileAttachment{}, inputErr("file_name", "required")
	}
	if len(in.Body) == 0 {
		return domain.FileAttachment{}, inputErr("file", "no file provided")
	}
	fileType, ok := normalizeFileType(in.FileType)
	if !ok {
		return domain.FileAttachment{}, inputErr("file_type", "unknown file_type %q", in.FileType)
	}
	rp, err := e.Repo.GetReport(ctx, in.ReportID)
	if err != nil {
		return domain.FileAttachment{}, lookupErr(err, "report", in.ReportID)
	}
	isHolder := rp.CurrentHolder != nil && *rp.CurrentHolder == caller.ID
	if !isHolder && !auth.HasRole(caller.Role, uploaderRoles...) {
		return domain.FileAttachment{}, auth.ForbiddenError{Action: "upload file", Role: caller.Role, Allowed: uploaderRoles}
	}
	now := e.now().UTC()
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format("2006-01-02T15:04:05.000Z"))
	obj, err := e.Blob.Put(ctx, in.ReportID+"/"+stamp+"-"+name, in.ContentType, in.Body)
	if err != nil {
		return domain.FileAttachment{}, err
	}
	size := obj.Size
	a := domain.FileAttachment{
		ID:         uuid.NewString(),
		ReportID:   in.ReportID,
		FileName:   name,
		FileURL:    obj.URL,
		FileType:   fileType,
		FileSize:   &size,
		UploadedBy: caller.ID,
		UploadedAt: now.Format(domain.TimeFormat),
	}
	err = withTx(ctx, e.DB, func(tx *sql.Tx) error {
		return e.Repo.InsertAttachmentTx(ctx, tx, a)
	})
	if err != nil {
		if derr := e.Blob.Delete(context.WithoutCancel(ctx), obj.Key); derr != nil {
			e.log().Warn("orphaned upload left in blob store",
				zap.String("key", obj.Key),
				zap.Error(derr))
		}
		return domain.FileAttachment{}, err
	}
	e.Metrics.Uploaded()
	e.log().Info("file uploaded",
		zap.String("report_id", a.ReportID),
		zap.String("key", obj.Key),
		zap.Int64("size", size))
	return a, nil
}

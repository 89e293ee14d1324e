package repo

import (
	"context"
	"database/sql"

	"lettertrack/internal/domain"
)

func (r Repo) InsertAttachmentTx(ctx context.Context, tx *sql.Tx, a domain.FileAttachment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO file_attachments(id,report_id,file_name,file_url,file_type,file_size,uploaded_by,uploaded_at)
VALUES (?,?,?,?,?,?,?,?)`, a.ID, a.ReportID, a.FileName, a.FileURL, a.FileType, nullableInt64Ptr(a.FileSize), a.UploadedBy, a.UploadedAt)
	return err
}

// ListAttachments returns a report's attachments oldest first.
func (r Repo) ListAttachments(ctx context.Context, tx *sql.Tx, reportID string) ([]domain.FileAttachment, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,report_id,file_name,file_url,file_type,file_size,uploaded_by,uploaded_at
FROM file_attachments WHERE report_id=? ORDER BY uploaded_at ASC, id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.FileAttachment{}
	for rows.Next() {
		var a domain.FileAttachment
		var size sql.NullInt64
		if err := rows.Scan(&a.ID, &a.ReportID, &a.FileName, &a.FileURL, &a.FileType, &size, &a.UploadedBy, &a.UploadedAt); err != nil {
			return nil, err
		}
		if size.Valid {
			v := size.Int64
			a.FileSize = &v
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

package server

import (
	"lettertrack/internal/domain"
	"lettertrack/internal/engine"
)

// Request payloads

type AttachmentRequest struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type,omitempty" doc:"original, response or revision; defaults to original"`
	FileSize *int64 `json:"file_size,omitempty"`
}

type CreateReportRequest struct {
	LetterNumber string              `json:"letter_number,omitempty"`
	Subject      string              `json:"subject,omitempty"`
	Service      string              `json:"service,omitempty"`
	Sender       string              `json:"sender,omitempty"`
	LetterDate   string              `json:"letter_date,omitempty"`
	AgendaDate   string              `json:"agenda_date,omitempty"`
	Status       string              `json:"status,omitempty" doc:"draft or in_progress; anything else becomes draft"`
	Priority     string              `json:"priority,omitempty" doc:"low, medium, high (or rendah, sedang, tinggi); defaults to medium"`
	Attachments  []AttachmentRequest `json:"attachments,omitempty"`
}

type ApplyTransitionRequest struct {
	Transition      string `json:"transition" example:"send_to_coordinator"`
	Notes           string `json:"notes,omitempty"`
	TargetHolder    string `json:"target_holder,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type WorkflowEventRequest struct {
	ReportID        string `json:"report_id"`
	Action          string `json:"action"`
	IntendedStatus  string `json:"intended_status,omitempty"`
	Notes           string `json:"notes,omitempty"`
	NextHolderID    string `json:"next_holder_id,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type CreateAssignmentRequest struct {
	ReportID string   `json:"report_id"`
	StaffID  string   `json:"staff_id"`
	TodoList []string `json:"todo_list"`
	Notes    string   `json:"notes,omitempty"`
}

type UpdateAssignmentRequest struct {
	CompletedTasks []string `json:"completed_tasks,omitempty"`
	Progress       *int     `json:"progress,omitempty"`
	Status         *string  `json:"status,omitempty"`
	RevisionNotes  *string  `json:"revision_notes,omitempty"`
}

type UpsertProfileRequest struct {
	Name string `json:"name"`
	Role string `json:"role" example:"Coordinator"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

type paginatedReports struct {
	Items      []domain.Report `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type TransitionResponse struct {
	Success   bool                `json:"success"`
	NewStatus domain.Status       `json:"new_status"`
	Message   string              `json:"message"`
	Report    domain.Report       `json:"report"`
	Entry     domain.HistoryEntry `json:"entry"`
}

func transitionResponse(res engine.TransitionResult) TransitionResponse {
	return TransitionResponse{
		Success:   res.Success,
		NewStatus: res.NewStatus,
		Message:   res.Message,
		Report:    res.Report,
		Entry:     res.Entry,
	}
}

func attachmentInputs(in []AttachmentRequest) []engine.AttachmentInput {
	out := make([]engine.AttachmentInput, 0, len(in))
	for _, a := range in {
		out = append(out, engine.AttachmentInput{
			FileName: a.FileName,
			FileURL:  a.FileURL,
			FileType: a.FileType,
			FileSize: a.FileSize,
		})
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

package domain

import "strings"

// TimeFormat is the stored timestamp layout: UTC, fixed-width microseconds, so
// lexical order matches chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// Role is the canonical role of a resolved identity.
type Role string

const (
	RoleAdmin       Role = "Admin"
	RoleTU          Role = "TU"
	RoleCoordinator Role = "Coordinator"
	RoleStaff       Role = "Staff"
)

// Roles lists every canonical role.
var Roles = []Role{RoleAdmin, RoleTU, RoleCoordinator, RoleStaff}

// roleAliases maps accepted spellings to canonical roles. Matching is case-sensitive.
var roleAliases = map[string]Role{
	"Admin":       RoleAdmin,
	"TU":          RoleTU,
	"Coordinator": RoleCoordinator,
	"Koordinator": RoleCoordinator,
	"Staff":       RoleStaff,
}

// ParseRole returns the canonical role for s.
func ParseRole(s string) (Role, bool) {
	r, ok := roleAliases[strings.TrimSpace(s)]
	return r, ok
}

// Status is the canonical report status.
type Status string

const (
	StatusDraft                    Status = "draft"
	StatusPendingCoordinatorReview Status = "pending_coordinator_review"
	StatusInProgress               Status = "in_progress"
	StatusRevisionRequired         Status = "revision_required"
	StatusCompleted                Status = "completed"
	StatusForwardedToTU            Status = "forwarded_to_tu"
)

// Statuses lists every canonical report status.
var Statuses = []Status{
	StatusDraft,
	StatusPendingCoordinatorReview,
	StatusInProgress,
	StatusRevisionRequired,
	StatusCompleted,
	StatusForwardedToTU,
}

var statusAliases = map[string]Status{
	"in-progress":       StatusInProgress,
	"revision-required": StatusRevisionRequired,
	"forwarded-to-tu":   StatusForwardedToTU,
}

// ParseStatus accepts both the underscore vocabulary and the legacy hyphenated spellings.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	st, ok := statusAliases[s]
	return st, ok
}

// HoldsReport reports whether a report in this status must have a holder.
func (s Status) HoldsReport() bool {
	return s != StatusPendingCoordinatorReview
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var priorityAliases = map[string]Priority{
	"low":    PriorityLow,
	"medium": PriorityMedium,
	"high":   PriorityHigh,
	"rendah": PriorityLow,
	"sedang": PriorityMedium,
	"tinggi": PriorityHigh,
}

func ParsePriority(s string) (Priority, bool) {
	p, ok := priorityAliases[strings.ToLower(strings.TrimSpace(s))]
	return p, ok
}

// AssignmentStatus is the status of a single task assignment.
type AssignmentStatus string

const (
	AssignmentPending          AssignmentStatus = "pending"
	AssignmentInProgress       AssignmentStatus = "in_progress"
	AssignmentCompleted        AssignmentStatus = "completed"
	AssignmentRevisionRequired AssignmentStatus = "revision_required"
)

func ParseAssignmentStatus(s string) (AssignmentStatus, bool) {
	switch strings.TrimSpace(s) {
	case "pending":
		return AssignmentPending, true
	case "in_progress", "in-progress":
		return AssignmentInProgress, true
	case "completed":
		return AssignmentCompleted, true
	case "revision_required", "revision-required":
		return AssignmentRevisionRequired, true
	}
	return "", false
}

type Report struct {
	ID             string           `json:"id"`
	TrackingNumber string           `json:"tracking_number"`
	LetterNumber   string           `json:"letter_number,omitempty"`
	Subject        string           `json:"subject,omitempty"`
	Service        string           `json:"service,omitempty"`
	Sender         string           `json:"sender,omitempty"`
	LetterDate     string           `json:"letter_date,omitempty"`
	AgendaDate     string           `json:"agenda_date,omitempty"`
	Status         Status           `json:"status"`
	Priority       Priority         `json:"priority"`
	CreatedBy      string           `json:"created_by"`
	CurrentHolder  *string          `json:"current_holder,omitempty"`
	Progress       int              `json:"progress"`
	Version        int64            `json:"version"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
	UpdatedAt      string           `json:"updated_at" format:"date-time"`
	Attachments    []FileAttachment `json:"attachments,omitempty"`
}

type FileAttachment struct {
	ID         string `json:"id"`
	ReportID   string `json:"report_id"`
	FileName   string `json:"file_name"`
	FileURL    string `json:"file_url"`
	FileType   string `json:"file_type" enum:"original,response,revision"`
	FileSize   *int64 `json:"file_size,omitempty"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

type TaskAssignment struct {
	ID             string           `json:"id"`
	ReportID       string           `json:"report_id"`
	StaffID        string           `json:"staff_id"`
	CoordinatorID  string           `json:"coordinator_id"`
	TodoList       []string         `json:"todo_list"`
	CompletedTasks []string         `json:"completed_tasks"`
	Progress       int              `json:"progress"`
	Status         AssignmentStatus `json:"status"`
	Notes          string           `json:"notes,omitempty"`
	RevisionNotes  string           `json:"revision_notes,omitempty"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
	UpdatedAt      string           `json:"updated_at" format:"date-time"`
	CompletedAt    *string          `json:"completed_at,omitempty" format:"date-time"`
}

// PersonRef is the display projection of a profile used in joined reads.
type PersonRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type ReportRef struct {
	ID           string `json:"id"`
	LetterNumber string `json:"letter_number,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Service      string `json:"service,omitempty"`
}

// AssignmentView is a task assignment joined with its report and both people.
type AssignmentView struct {
	TaskAssignment
	Report      ReportRef `json:"report"`
	Staff       PersonRef `json:"staff"`
	Coordinator PersonRef `json:"coordinator"`
}

type HistoryEntry struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	ReportID  string     `json:"report_id"`
	Action    string     `json:"action"`
	UserID    string     `json:"user_id"`
	Status    string     `json:"status"`
	Notes     string     `json:"notes,omitempty"`
	Timestamp string     `json:"timestamp" format:"date-time"`
	User      *PersonRef `json:"user,omitempty"`
}

type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

package lettertracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Lettertrack HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Attachment is a file attached to a report.
type Attachment struct {
	ID         string `json:"id,omitempty"`
	FileName   string `json:"file_name"`
	FileURL    string `json:"file_url"`
	FileType   string `json:"file_type,omitempty"`
	FileSize   *int64 `json:"file_size,omitempty"`
	UploadedBy string `json:"uploaded_by,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}

// Report represents the API report model (partial).
type Report struct {
	ID             string       `json:"id"`
	TrackingNumber string       `json:"tracking_number"`
	LetterNumber   string       `json:"letter_number,omitempty"`
	Subject        string       `json:"subject,omitempty"`
	Status         string       `json:"status"`
	Priority       string       `json:"priority"`
	CreatedBy      string       `json:"created_by"`
	CurrentHolder  *string      `json:"current_holder,omitempty"`
	Progress       int          `json:"progress"`
	Version        int64        `json:"version"`
	CreatedAt      string       `json:"created_at"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// NewReport is the create-report payload.
type NewReport struct {
	LetterNumber string       `json:"letter_number,omitempty"`
	Subject      string       `json:"subject,omitempty"`
	Service      string       `json:"service,omitempty"`
	Sender       string       `json:"sender,omitempty"`
	LetterDate   string       `json:"letter_date,omitempty"`
	AgendaDate   string       `json:"agenda_date,omitempty"`
	Status       string       `json:"status,omitempty"`
	Priority     string       `json:"priority,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// HistoryEntry is one workflow history record.
type HistoryEntry struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	ReportID  string `json:"report_id"`
	Action    string `json:"action"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	Timestamp string `json:"timestamp"`
}

// TransitionResult is returned by transitions and workflow events.
type TransitionResult struct {
	Success   bool         `json:"success"`
	NewStatus string       `json:"new_status"`
	Message   string       `json:"message"`
	Report    Report       `json:"report"`
	Entry     HistoryEntry `json:"entry"`
}

// Assignment represents a staff checklist on a report.
type Assignment struct {
	ID             string   `json:"id"`
	ReportID       string   `json:"report_id"`
	StaffID        string   `json:"staff_id"`
	CoordinatorID  string   `json:"coordinator_id"`
	TodoList       []string `json:"todo_list"`
	CompletedTasks []string `json:"completed_tasks"`
	Progress       int      `json:"progress"`
	Status         string   `json:"status"`
	Notes          string   `json:"notes,omitempty"`
	RevisionNotes  string   `json:"revision_notes,omitempty"`
}

// AssignmentUpdate is a partial update; nil fields are left unchanged.
type AssignmentUpdate struct {
	CompletedTasks []string `json:"completed_tasks,omitempty"`
	Progress       *int     `json:"progress,omitempty"`
	Status         *string  `json:"status,omitempty"`
	RevisionNotes  *string  `json:"revision_notes,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Code returns the machine-readable error code from the response envelope.
func (e *APIError) Code() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &env) != nil {
		return ""
	}
	return env.Error.Code
}

// ReportsPage wraps list responses with cursors.
type ReportsPage struct {
	Items      []Report `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// CreateReport registers a letter.
func (c *Client) CreateReport(ctx context.Context, in NewReport) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "reports", in, &resp)
	return resp, err
}

// GetReport fetches a report with its attachments.
func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "reports/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ReportsPage returns a page of reports, newest first.
func (c *Client) ReportsPage(ctx context.Context, status string, limit int, cursor string) (ReportsPage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "reports"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp ReportsPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition applies a named transition. expectedVersion 0 skips the check.
func (c *Client) Transition(ctx context.Context, reportID, transition, notes, target string, expectedVersion int64) (TransitionResult, error) {
	body := map[string]any{
		"transition": transition,
		"notes":      notes,
	}
	if target != "" {
		body["target_holder"] = target
	}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp TransitionResult
	endpoint := fmt.Sprintf("reports/%s/transitions", url.PathEscape(reportID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AvailableTransitions lists the transitions the caller may apply now.
func (c *Client) AvailableTransitions(ctx context.Context, reportID string) ([]string, error) {
	var resp []string
	endpoint := fmt.Sprintf("reports/%s/transitions", url.PathEscape(reportID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns the workflow history, oldest first.
func (c *Client) History(ctx context.Context, reportID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := fmt.Sprintf("reports/%s/history", url.PathEscape(reportID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateAssignment gives a staff member a checklist on a report.
func (c *Client) CreateAssignment(ctx context.Context, reportID, staffID string, todo []string, notes string) (Assignment, error) {
	body := map[string]any{
		"report_id": reportID,
		"staff_id":  staffID,
		"todo_list": todo,
		"notes":     notes,
	}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, "task-assignments", body, &resp)
	return resp, err
}

// UpdateAssignment patches an assignment.
func (c *Client) UpdateAssignment(ctx context.Context, id string, in AssignmentUpdate) (Assignment, error) {
	var resp Assignment
	err := c.do(ctx, http.MethodPatch, "task-assignments/"+url.PathEscape(id), in, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}

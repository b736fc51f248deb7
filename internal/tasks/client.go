// Package tasks is the typed client for the task backend. The backend owns
// the task table; this service only consumes its five operations.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nwilkes/taskpilot/internal/apperr"
)

// Tool names as the backend and rate limiter know them.
const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolDeleteTask   = "delete_task"
	ToolUpdateTask   = "update_task"
)

// MutatingTools lists the operations that require an idempotency key.
var MutatingTools = map[string]bool{
	ToolAddTask:      true,
	ToolCompleteTask: true,
	ToolDeleteTask:   true,
	ToolUpdateTask:   true,
}

// Task is a task row as the backend returns it.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Pagination describes a page of list results.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// MutationResult is the common shape of add/complete/delete/update replies.
type MutationResult struct {
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// ListResult is the list_tasks reply.
type ListResult struct {
	Tasks      []Task     `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}

// ListFilter narrows a list_tasks call.
type ListFilter struct {
	Status string
	Page   int
	Limit  int
}

// UpdateFields carries the optional update_task fields. Nil means unchanged.
type UpdateFields struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Backend is the tool surface the orchestrator invokes. Implementations
// must be safe for concurrent use.
type Backend interface {
	AddTask(ctx context.Context, userID, title, description, idempotencyKey string) (*MutationResult, error)
	ListTasks(ctx context.Context, userID string, filter ListFilter) (*ListResult, error)
	CompleteTask(ctx context.Context, userID, taskID, idempotencyKey string) (*MutationResult, error)
	DeleteTask(ctx context.Context, userID, taskID, idempotencyKey string) (*MutationResult, error)
	UpdateTask(ctx context.Context, userID, taskID string, fields UpdateFields, idempotencyKey string) (*MutationResult, error)
}

// Client talks HTTP JSON to the task backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a backend client. The per-call deadline comes from the
// caller's context, so the embedded http.Client carries no timeout itself.
func NewClient(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		logger:  logger.With().Str("component", "tasks").Logger(),
	}
}

// AddTask creates a task.
func (c *Client) AddTask(ctx context.Context, userID, title, description, idempotencyKey string) (*MutationResult, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var out MutationResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%s/tasks", url.PathEscape(userID)), body, idempotencyKey, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks fetches a page of the user's tasks.
func (c *Client) ListTasks(ctx context.Context, userID string, filter ListFilter) (*ListResult, error) {
	endpoint := fmt.Sprintf("/users/%s/tasks", url.PathEscape(userID))
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Page > 0 {
		query.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var out ListResult
	if err := c.do(ctx, http.MethodGet, endpoint, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteTask marks a task done.
func (c *Client) CompleteTask(ctx context.Context, userID, taskID, idempotencyKey string) (*MutationResult, error) {
	var out MutationResult
	endpoint := fmt.Sprintf("/users/%s/tasks/%s/complete", url.PathEscape(userID), url.PathEscape(taskID))
	if err := c.do(ctx, http.MethodPost, endpoint, nil, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, userID, taskID, idempotencyKey string) (*MutationResult, error) {
	var out MutationResult
	endpoint := fmt.Sprintf("/users/%s/tasks/%s", url.PathEscape(userID), url.PathEscape(taskID))
	if err := c.do(ctx, http.MethodDelete, endpoint, nil, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask changes a task's title or description.
func (c *Client) UpdateTask(ctx context.Context, userID, taskID string, fields UpdateFields, idempotencyKey string) (*MutationResult, error) {
	var out MutationResult
	endpoint := fmt.Sprintf("/users/%s/tasks/%s", url.PathEscape(userID), url.PathEscape(taskID))
	if err := c.do(ctx, http.MethodPatch, endpoint, fields, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalidParameter, "encoding request", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidParameter, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.CodeTimeout, "tool call deadline exceeded", err)
		}
		return apperr.Wrap(apperr.CodeDatabaseError, "task backend unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "reading response", err)
	}

	if resp.StatusCode >= 400 {
		return c.decodeError(resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "decoding response", err)
	}
	return nil
}

// decodeError maps the backend's error envelope onto the shared taxonomy.
// A response that is not a valid envelope falls back to a status-derived
// classification so transient 5xx failures stay retryable.
func (c *Client) decodeError(status int, payload []byte) error {
	var env apperr.Envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.ErrorCode != "" {
		return apperr.FromEnvelope(env)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return apperr.New(apperr.CodeRateLimited, "task backend rate limited")
	case status == http.StatusGatewayTimeout:
		return apperr.New(apperr.CodeTimeout, "task backend timed out")
	case status >= 500:
		return apperr.Newf(apperr.CodeDatabaseError, "task backend returned %d", status)
	case status == http.StatusNotFound:
		return apperr.New(apperr.CodeTaskNotFound, "task not found")
	case status == http.StatusForbidden:
		return apperr.New(apperr.CodeUnauthorized, "task backend denied access")
	case status == http.StatusUnauthorized:
		return apperr.New(apperr.CodeAuthRequired, "task backend rejected credentials")
	default:
		return apperr.Newf(apperr.CodeInvalidParameter, "task backend returned %d", status)
	}
}

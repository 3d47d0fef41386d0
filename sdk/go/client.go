package tablerosdk

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

// Client is a minimal Tablero HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ActorID: actorID,
		Timeout: 10 * time.Second,
	}
}

// Sprint represents the API sprint model.
type Sprint struct {
	ID        string  `json:"id"`
	SquadID   string  `json:"squad_id"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	StartDate string  `json:"start_date"`
	Days      int     `json:"days"`
	Capacity  float64 `json:"capacity"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string   `json:"id"`
	SprintID   string   `json:"sprint_id"`
	Title      string   `json:"title"`
	Type       string   `json:"type"`
	Category   string   `json:"category"`
	Estimation float64 `json:"estimation"`
	Priority   string  `json:"priority"`
	Status     string  `json:"status"`
	PersonID   *string `json:"person_id,omitempty"`
	Day        *int    `json:"day,omitempty"`
	IssueKey   *string `json:"issue_key,omitempty"`
}

// Dependency represents an edge between two tasks.
type Dependency struct {
	ID            string `json:"id"`
	SprintID      string `json:"sprint_id"`
	OriginID      string `json:"origin_id"`
	DestinationID string `json:"destination_id"`
	Kind          string `json:"kind"`
}

// Placement reports where a task landed and at what cost.
type Placement struct {
	TaskID    string   `json:"task_id"`
	Available float64  `json:"available"`
	Allocated float64  `json:"allocated"`
	Overage   float64  `json:"overage"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Issue is an external tracker issue passed to planify.
type Issue struct {
	Key           string   `json:"key"`
	Summary       string   `json:"summary"`
	Type          string   `json:"type"`
	EstimateHours *float64 `json:"estimate_hours,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SquadID    string         `json:"squad_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses; Code and Message come from the error
// envelope when the body parses as one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSprint creates a sprint in PLANIFICACION.
func (c *Client) CreateSprint(ctx context.Context, name, startDate string, days int) (Sprint, error) {
	body := map[string]any{
		"name":       name,
		"start_date": startDate,
	}
	if days > 0 {
		body["days"] = days
	}
	var resp Sprint
	err := c.do(ctx, http.MethodPost, "v0/sprints", body, &resp)
	return resp, err
}

// SetSprintState transitions a sprint.
func (c *Client) SetSprintState(ctx context.Context, sprintID, state string) (Sprint, error) {
	var resp Sprint
	endpoint := fmt.Sprintf("v0/sprints/%s/state", url.PathEscape(sprintID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"state": state}, &resp)
	return resp, err
}

// CreateTask creates a task in a sprint.
func (c *Client) CreateTask(ctx context.Context, sprintID, title, taskType string, estimation float64) (Task, error) {
	body := map[string]any{
		"title":      title,
		"type":       taskType,
		"estimation": estimation,
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/sprints/%s/tasks", url.PathEscape(sprintID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetTaskStatus moves a task through its flow.
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/status", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddDependency links two tasks. Kind is ESTRICTA or SUAVE.
func (c *Client) AddDependency(ctx context.Context, originID, destinationID, kind string) (Dependency, error) {
	body := map[string]any{
		"origin_id":      originID,
		"destination_id": destinationID,
		"kind":           kind,
	}
	var resp Dependency
	err := c.do(ctx, http.MethodPost, "v0/dependencies", body, &resp)
	return resp, err
}

// PlaceTask assigns a task to a (person, day) cell.
func (c *Client) PlaceTask(ctx context.Context, taskID, personID string, day int) (Placement, error) {
	body := map[string]any{
		"person_id": personID,
		"day":       day,
	}
	var resp Placement
	endpoint := fmt.Sprintf("v0/tasks/%s/place", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Planify imports an issue tree as sprint tasks, all or nothing.
func (c *Client) Planify(ctx context.Context, sprintID string, root Issue, subtasks []Issue, useTemplate bool) ([]Task, error) {
	body := map[string]any{
		"root":         root,
		"subtasks":     subtasks,
		"use_template": useTemplate,
	}
	var resp []Task
	endpoint := fmt.Sprintf("v0/sprints/%s/planify", url.PathEscape(sprintID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

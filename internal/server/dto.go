package server

import (
	"encoding/json"

	"tablero/internal/domain"
	"tablero/internal/planner"
)

type CreateSprintRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	Days      int    `json:"days,omitempty"`
}

type SprintResponse struct {
	ID        string  `json:"id"`
	SquadID   string  `json:"squad_id"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	StartDate string  `json:"start_date"`
	Days      int     `json:"days"`
	Capacity  float64 `json:"capacity"`
	CreatedAt string  `json:"created_at"`
}

func sprintResponse(s domain.Sprint) SprintResponse {
	return SprintResponse{
		ID:        s.ID,
		SquadID:   s.SquadID,
		Name:      s.Name,
		State:     s.State,
		StartDate: s.StartDate,
		Days:      s.Days,
		Capacity:  s.Capacity,
		CreatedAt: s.CreatedAt,
	}
}

func mapSprints(items []domain.Sprint) []SprintResponse {
	out := make([]SprintResponse, 0, len(items))
	for _, s := range items {
		out = append(out, sprintResponse(s))
	}
	return out
}

type CreateTaskRequest struct {
	Title        string  `json:"title"`
	Type         string  `json:"type,omitempty"`
	Category     string  `json:"category,omitempty"`
	Estimation   float64 `json:"estimation"`
	Priority     string  `json:"priority,omitempty"`
	PersonID     string  `json:"person_id,omitempty"`
	Day          int     `json:"day,omitempty"`
	DurationDays int     `json:"duration_days,omitempty"`
	IssueKey     string  `json:"issue_key,omitempty"`
	ParentKey    string  `json:"parent_issue_key,omitempty"`
}

type TaskResponse struct {
	ID             string  `json:"id"`
	SprintID       string  `json:"sprint_id"`
	Title          string  `json:"title"`
	Type           string  `json:"type"`
	Category       string  `json:"category"`
	Estimation     float64 `json:"estimation"`
	Priority       string  `json:"priority"`
	Status         string  `json:"status"`
	PersonID       *string `json:"person_id,omitempty"`
	Day            *int    `json:"day,omitempty"`
	DurationDays   int     `json:"duration_days"`
	IssueKey       *string `json:"issue_key,omitempty"`
	ParentIssueKey *string `json:"parent_issue_key,omitempty"`
	HeldStatus     *string `json:"held_status,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		SprintID:       t.SprintID,
		Title:          t.Title,
		Type:           t.Type,
		Category:       t.Category,
		Estimation:     t.Estimation,
		Priority:       t.Priority,
		Status:         t.Status,
		PersonID:       t.PersonID,
		Day:            t.Day,
		DurationDays:   t.DurationDays,
		IssueKey:       t.IssueKey,
		ParentIssueKey: t.ParentIssueKey,
		HeldStatus:     t.HeldStatus,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

type DependencyRequest struct {
	OriginID string `json:"origin_id"`
	DestID   string `json:"destination_id"`
	Kind     string `json:"kind"`
}

type DependencyResponse struct {
	ID        string `json:"id"`
	SprintID  string `json:"sprint_id"`
	OriginID  string `json:"origin_id"`
	DestID    string `json:"destination_id"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

func dependencyResponse(d domain.Dependency) DependencyResponse {
	return DependencyResponse{
		ID:        d.ID,
		SprintID:  d.SprintID,
		OriginID:  d.OriginID,
		DestID:    d.DestID,
		Kind:      d.Kind,
		CreatedAt: d.CreatedAt,
	}
}

type TemplateLineRequest struct {
	Role           string `json:"role"`
	Percentage     int    `json:"percentage"`
	Order          int    `json:"order"`
	DependsOnOrder *int   `json:"depends_on_order,omitempty"`
}

type SaveTemplateRequest struct {
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name"`
	IssueType string                `json:"issue_type"`
	Active    bool                  `json:"active"`
	Lines     []TemplateLineRequest `json:"lines"`
}

type TemplateResponse struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	IssueType   string                `json:"issue_type"`
	Active      bool                  `json:"active"`
	ActivatedAt string                `json:"activated_at,omitempty"`
	Lines       []TemplateLineRequest `json:"lines"`
}

func templateFromRequest(req SaveTemplateRequest) domain.Template {
	t := domain.Template{
		ID:        req.ID,
		Name:      req.Name,
		IssueType: req.IssueType,
		Active:    req.Active,
	}
	for _, l := range req.Lines {
		t.Lines = append(t.Lines, domain.TemplateLine{
			Role:           l.Role,
			Percentage:     l.Percentage,
			Order:          l.Order,
			DependsOnOrder: l.DependsOnOrder,
		})
	}
	return t
}

func templateResponse(t domain.Template) TemplateResponse {
	resp := TemplateResponse{
		ID:          t.ID,
		Name:        t.Name,
		IssueType:   t.IssueType,
		Active:      t.Active,
		ActivatedAt: t.ActivatedAt,
		Lines:       []TemplateLineRequest{},
	}
	for _, l := range t.Lines {
		resp.Lines = append(resp.Lines, TemplateLineRequest{
			Role:           l.Role,
			Percentage:     l.Percentage,
			Order:          l.Order,
			DependsOnOrder: l.DependsOnOrder,
		})
	}
	return resp
}

type PlanifyIssueRequest struct {
	Key           string   `json:"key"`
	Summary       string   `json:"summary"`
	Type          string   `json:"type"`
	EstimateHours *float64 `json:"estimate_hours,omitempty"`
}

type PlanifyRowOverrideRequest struct {
	Key           string   `json:"key"`
	Include       *bool    `json:"include,omitempty"`
	Title         string   `json:"title,omitempty"`
	Estimation    *float64 `json:"estimation,omitempty"`
	PersonID      string   `json:"person_id,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	TemplateOrder *int     `json:"template_order,omitempty"`
	SuggestPerson bool     `json:"suggest_person,omitempty"`
}

type PlanifyRequest struct {
	Root           PlanifyIssueRequest         `json:"root"`
	Subtasks       []PlanifyIssueRequest       `json:"subtasks,omitempty"`
	Overrides      []PlanifyRowOverrideRequest `json:"overrides,omitempty"`
	UseTemplate    bool                        `json:"use_template,omitempty"`
	SuggestPersons bool                        `json:"suggest_persons,omitempty"`
}

func plannerIssue(req PlanifyIssueRequest) planner.Issue {
	return planner.Issue{
		Key:           req.Key,
		Summary:       req.Summary,
		Type:          req.Type,
		EstimateHours: req.EstimateHours,
	}
}

func plannerOverrides(reqs []PlanifyRowOverrideRequest) []planner.RowOverride {
	var out []planner.RowOverride
	for _, r := range reqs {
		out = append(out, planner.RowOverride{
			Key:           r.Key,
			Include:       r.Include,
			Title:         optString(r.Title),
			Estimation:    r.Estimation,
			PersonID:      optString(r.PersonID),
			Priority:      optString(r.Priority),
			TemplateOrder: r.TemplateOrder,
			SuggestPerson: r.SuggestPerson,
		})
	}
	return out
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	SquadID    string          `json:"squad_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SquadID:    e.SquadID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    json.RawMessage(e.Payload),
	}
}

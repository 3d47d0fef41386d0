// Package planner converts external tracker issues into task-creation
// requests. It only produces requests; persisting them is the caller's job.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"tablero/internal/capacity"
	"tablero/internal/domain"
	"tablero/internal/template"
)

// Issue is the planner's view of a tracked issue.
type Issue struct {
	Key           string
	Summary       string
	Type          string
	EstimateHours *float64
}

// RowOverride adjusts the row seeded from the issue with the same key.
type RowOverride struct {
	Key           string
	Include       *bool
	Title         *string
	Estimation    *float64
	PersonID      *string
	Priority      *string
	TemplateOrder *int // take this template line's hours as the estimation
	SuggestPerson bool
}

// Request is a task-creation request emitted by Planify.
type Request struct {
	Title          string   `json:"title"`
	SprintID       string   `json:"sprint_id"`
	Type           string   `json:"type"`
	Category       string   `json:"category"`
	Estimation     float64  `json:"estimation"`
	Priority       string   `json:"priority"`
	PersonID       *string  `json:"person_id,omitempty"`
	Day            *int     `json:"day,omitempty"`
	IssueKey       *string  `json:"issue_key,omitempty"`
	ParentIssueKey *string  `json:"parent_issue_key,omitempty"`
	Role           string   `json:"role,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Options tune a planification batch.
type Options struct {
	// UseTemplate rounds the root row's estimation through the active
	// allocation template for its issue type. Lines map to other rows only
	// via RowOverride.TemplateOrder.
	UseTemplate bool
	// SuggestPersons assigns the capacity-ranked best person to every row
	// without an explicit person.
	SuggestPersons bool
}

// InvalidPlanificationError names the rows that made the batch invalid.
/// Planification is all-or-nothing: no requests are produced alongside it.
type InvalidPlanificationError struct {
	Rows []string
}

func (e InvalidPlanificationError) Error() string {
	return fmt.Sprintf("planification invalid, rows without positive estimation: %s",
		strings.Join(e.Rows, ", "))
}

// Planner composes the template engine and the capacity calculator over an
// in-memory snapshot.
type Planner struct {
	Capacity  capacity.Calculator
	Templates []domain.Template
	Persons   []domain.Person
}

// Planify builds one task-creation request per included issue row. The whole
// batch fails with InvalidPlanificationError if any included row ends up
// without a positive estimation.
func (p Planner) Planify(root Issue, subs []Issue, sprintID string, window capacity.Range, overrides []RowOverride, opts Options) ([]Request, error) {
	byKey := map[string]RowOverride{}
	for _, o := range overrides {
		byKey[o.Key] = o
	}

	var allocations []template.Allocation
	if opts.UseTemplate {
		if tpl, ok := template.Select(p.Templates, root.Type); ok {
			if root.EstimateHours != nil {
				allocations = template.Apply(tpl, *root.EstimateHours)
			}
		}
	}

	var ranked []string
	var rankErr error
	rankOnce := func() ([]string, error) {
		if ranked == nil && rankErr == nil {
			ranked, rankErr = p.rankPersons(window)
		}
		return ranked, rankErr
	}

	var requests []Request
	var invalid []string
	issues := append([]Issue{root}, subs...)
	for i, issue := range issues {
		ov := byKey[issue.Key]
		if ov.Include != nil && !*ov.Include {
			continue
		}
		req := Request{
			Title:    issue.Summary,
			SprintID: sprintID,
			Type:     MapIssueType(issue.Type),
			Priority: domain.PrioridadNormal,
		}
		req.Category = domain.CategoriaEvolutivo
		if req.Type == domain.TypeBug {
			req.Category = domain.CategoriaCorrectivo
		}
		if issue.EstimateHours != nil {
			req.Estimation = *issue.EstimateHours
		}
		if issue.Key != "" {
			key := issue.Key
			req.IssueKey = &key
		}
		if i > 0 && root.Key != "" {
			parent := root.Key
			req.ParentIssueKey = &parent
		}

		// Template suggestion: the root row takes the template total (its
		// estimation snapped to the allocation grid); other rows only via an
		// explicit line mapping.
		if allocations != nil && i == 0 && ov.Estimation == nil && ov.TemplateOrder == nil {
			var total float64
			for _, a := range allocations {
				total += a.Hours
			}
			req.Estimation = total
		}
		if ov.TemplateOrder != nil {
			for _, a := range allocations {
				if a.Order == *ov.TemplateOrder {
					req.Estimation = a.Hours
					req.Role = a.Role
				}
			}
		}

		if ov.Title != nil {
			req.Title = *ov.Title
		}
		if ov.Estimation != nil {
			req.Estimation = *ov.Estimation
		}
		if ov.Priority != nil {
			req.Priority = *ov.Priority
		}
		if ov.PersonID != nil {
			req.PersonID = ov.PersonID
		} else if ov.SuggestPerson || opts.SuggestPersons {
			best, err := rankOnce()
			if err != nil {
				return nil, err
			}
			if len(best) > 0 {
				id := best[0]
				req.PersonID = &id
			} else {
				req.Warnings = append(req.Warnings, "no person with available hours in sprint window")
			}
		}

		if req.Estimation <= 0 {
			invalid = append(invalid, rowName(issue, i))
		}
		requests = append(requests, req)
	}
	if len(invalid) > 0 {
		return nil, InvalidPlanificationError{Rows: invalid}
	}
	return requests, nil
}

// rankPersons orders persons by total available hours in the window, most
// first; ties break on lowest person id so suggestions are deterministic.
func (p Planner) rankPersons(window capacity.Range) ([]string, error) {
	type scored struct {
		id    string
		hours float64
	}
	var scores []scored
	for _, person := range p.Persons {
		total, err := p.Capacity.Total(person.ID, window)
		if err != nil {
			return nil, err
		}
		if total <= 0 {
			continue
		}
		scores = append(scores, scored{id: person.ID, hours: total})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].hours != scores[j].hours {
			return scores[i].hours > scores[j].hours
		}
		return scores[i].id < scores[j].id
	})
	out := make([]string, 0, len(scores))
	for _, s := range scores {
		out = append(out, s.id)
	}
	return out, nil
}

// MapIssueType maps a tracker issue type onto a task type. Unknown types
// default to TAREA.
func MapIssueType(issueType string) string {
	switch strings.ToLower(issueType) {
	case "story", "historia":
		return domain.TypeHistoria
	case "bug":
		return domain.TypeBug
	case "spike":
		return domain.TypeSpike
	case "task", "sub-task", "subtask", "tarea":
		return domain.TypeTarea
	default:
		return domain.TypeTarea
	}
}

func rowName(issue Issue, idx int) string {
	if issue.Key != "" {
		return issue.Key
	}
	return fmt.Sprintf("row %d", idx+1)
}

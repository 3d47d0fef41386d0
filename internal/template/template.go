// Package template splits an issue's estimated hours across ordered role
// lines according to a percentage template.
package template

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"tablero/internal/domain"
)

// HourStep is the rounding unit for allocated hours. Line hours are rounded
// to the nearest quarter hour so they are usable directly as task
// estimations; the remainder is not redistributed, so line totals may drift
// from the original estimate by up to one step.
const HourStep = 0.25

// Allocation is one role's share of an issue's hours.
type Allocation struct {
	Role           string  `json:"role"`
	Hours          float64 `json:"hours"`
	Order          int     `json:"order"`
	DependsOnOrder *int    `json:"depends_on_order,omitempty"`
}

// InvalidTemplateError reports a template rejected at save time.
type InvalidTemplateError struct {
	Name     string
	Problems []string
}

func (e InvalidTemplateError) Error() string {
	return fmt.Sprintf("template %s invalid: %s", e.Name, strings.Join(e.Problems, "; "))
}

// Validate checks a template's saveability: line percentages sum to 100,
// orders are unique and >= 1, and dependsOnOrder references only an existing
// lower order.
func Validate(t domain.Template) error {
	var problems []string
	if len(t.Lines) == 0 {
		problems = append(problems, "no lines")
	}
	sum := 0
	orders := map[int]bool{}
	for _, l := range t.Lines {
		if l.Role == "" {
			problems = append(problems, fmt.Sprintf("line %d has no role", l.Order))
		}
		if l.Percentage < 1 || l.Percentage > 100 {
			problems = append(problems, fmt.Sprintf("line %d percentage %d outside [1,100]", l.Order, l.Percentage))
		}
		sum += l.Percentage
		if l.Order < 1 {
			problems = append(problems, fmt.Sprintf("line order %d below 1", l.Order))
		}
		if orders[l.Order] {
			problems = append(problems, fmt.Sprintf("duplicate line order %d", l.Order))
		}
		orders[l.Order] = true
	}
	for _, l := range t.Lines {
		if l.DependsOnOrder == nil {
			continue
		}
		switch {
		case *l.DependsOnOrder == l.Order:
			problems = append(problems, fmt.Sprintf("line %d depends on itself", l.Order))
		case *l.DependsOnOrder > l.Order:
			problems = append(problems, fmt.Sprintf("line %d has forward reference to order %d", l.Order, *l.DependsOnOrder))
		case !orders[*l.DependsOnOrder]:
			problems = append(problems, fmt.Sprintf("line %d depends on missing order %d", l.Order, *l.DependsOnOrder))
		}
	}
	if len(t.Lines) > 0 && sum != 100 {
		problems = append(problems, fmt.Sprintf("percentages sum to %d, need 100", sum))
	}
	if len(problems) > 0 {
		return InvalidTemplateError{Name: t.Name, Problems: problems}
	}
	return nil
}

// Select picks the active template for an issue type. Multiple active
// templates for the same type are a configuration conflict; the tie-break is
// deterministic: most recently activated wins, then lowest id.
func Select(templates []domain.Template, issueType string) (domain.Template, bool) {
	var candidates []domain.Template
	for _, t := range templates {
		if t.Active && t.IssueType == issueType {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return domain.Template{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ActivatedAt != candidates[j].ActivatedAt {
			return candidates[i].ActivatedAt > candidates[j].ActivatedAt
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// Apply computes each line's hours as estimatedHours * percentage / 100,
// rounded to HourStep, in line order.
func Apply(t domain.Template, estimatedHours float64) []Allocation {
	lines := append([]domain.TemplateLine{}, t.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].Order < lines[j].Order })
	out := make([]Allocation, 0, len(lines))
	for _, l := range lines {
		out = append(out, Allocation{
			Role:           l.Role,
			Hours:          RoundHours(estimatedHours * float64(l.Percentage) / 100),
			Order:          l.Order,
			DependsOnOrder: l.DependsOnOrder,
		})
	}
	return out
}

// RoundHours rounds to the nearest HourStep, halves away from zero.
func RoundHours(h float64) float64 {
	return math.Round(h/HourStep) * HourStep
}

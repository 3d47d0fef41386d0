package template_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"tablero/internal/domain"
	"tablero/internal/template"
)

func intp(v int) *int { return &v }

func devQaTemplate() domain.Template {
	return domain.Template{
		ID:        "tpl-1",
		Name:      "historia estandar",
		IssueType: "Story",
		Active:    true,
		Lines: []domain.TemplateLine{
			{Role: "DESARROLLADOR", Percentage: 60, Order: 1},
			{Role: "QA", Percentage: 40, Order: 2, DependsOnOrder: intp(1)},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := template.Validate(devQaTemplate()); err != nil {
		t.Fatalf("valid template rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*domain.Template)
		want string
	}{
		{"sum not 100", func(tp *domain.Template) { tp.Lines[0].Percentage = 50 }, "sum to 90"},
		{"duplicate order", func(tp *domain.Template) { tp.Lines[1].Order = 1; tp.Lines[1].DependsOnOrder = nil }, "duplicate"},
		{"forward reference", func(tp *domain.Template) { tp.Lines[0].DependsOnOrder = intp(2) }, "forward reference"},
		{"self reference", func(tp *domain.Template) { tp.Lines[1].DependsOnOrder = intp(2) }, "depends on itself"},
		{"missing order", func(tp *domain.Template) { tp.Lines[1].DependsOnOrder = intp(7) }, "forward reference"},
		{"zero order", func(tp *domain.Template) { tp.Lines[0].Order = 0 }, "below 1"},
		{"no lines", func(tp *domain.Template) { tp.Lines = nil }, "no lines"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tpl := devQaTemplate()
			tc.mut(&tpl)
			err := template.Validate(tpl)
			var ite template.InvalidTemplateError
			if !errors.As(err, &ite) {
				t.Fatalf("expected InvalidTemplateError, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateMissingBackReference(t *testing.T) {
	tpl := devQaTemplate()
	tpl.Lines = append(tpl.Lines, domain.TemplateLine{Role: "OPS", Percentage: 10, Order: 5, DependsOnOrder: intp(3)})
	tpl.Lines[0].Percentage = 50
	err := template.Validate(tpl)
	if err == nil || !strings.Contains(err.Error(), "missing order 3") {
		t.Fatalf("expected missing-order problem, got %v", err)
	}
}

func TestApplyStoryScenario(t *testing.T) {
	got := template.Apply(devQaTemplate(), 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(got))
	}
	if got[0].Role != "DESARROLLADOR" || got[0].Hours != 6 {
		t.Fatalf("line 1: %+v", got[0])
	}
	if got[1].Role != "QA" || got[1].Hours != 4 {
		t.Fatalf("line 2: %+v", got[1])
	}
	if got[1].DependsOnOrder == nil || *got[1].DependsOnOrder != 1 {
		t.Fatalf("QA line must depend on order 1: %+v", got[1])
	}
}

func TestApplyRoundsToQuarterHour(t *testing.T) {
	tpl := domain.Template{
		Name: "tercios", IssueType: "Story", Active: true,
		Lines: []domain.TemplateLine{
			{Role: "A", Percentage: 33, Order: 1},
			{Role: "B", Percentage: 67, Order: 2},
		},
	}
	got := template.Apply(tpl, 10)
	// 3.3 -> 3.25, 6.7 -> 6.75
	if got[0].Hours != 3.25 || got[1].Hours != 6.75 {
		t.Fatalf("rounding: %+v", got)
	}
}

func TestSelectTieBreakDeterministic(t *testing.T) {
	a := devQaTemplate()
	a.ID, a.ActivatedAt = "tpl-b", "2026-01-02T00:00:00Z"
	b := devQaTemplate()
	b.ID, b.ActivatedAt = "tpl-a", "2026-01-02T00:00:00Z"
	c := devQaTemplate()
	c.ID, c.ActivatedAt = "tpl-c", "2026-01-01T00:00:00Z"
	inactive := devQaTemplate()
	inactive.ID, inactive.Active = "tpl-0", false

	got, ok := template.Select([]domain.Template{a, b, c, inactive}, "Story")
	if !ok {
		t.Fatal("expected a selection")
	}
	// Newest activation first, then lowest id.
	if got.ID != "tpl-a" {
		t.Fatalf("selected %s", got.ID)
	}
	if _, ok := template.Select([]domain.Template{a}, "Bug"); ok {
		t.Fatal("no active Bug template should match")
	}
}

// Property: applied hours sum within one rounding step per line of the
// original estimate, and a 50/50 split of 10h never leaves [9.5, 10.5].
func TestProperty_ApplyDriftBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "lines")
		percentages := make([]int, n)
		left := 100
		for i := 0; i < n-1; i++ {
			p := rapid.IntRange(1, left-(n-1-i)).Draw(rt, "pct")
			percentages[i] = p
			left -= p
		}
		percentages[n-1] = left
		tpl := domain.Template{Name: "p", IssueType: "Story", Active: true}
		for i, p := range percentages {
			tpl.Lines = append(tpl.Lines, domain.TemplateLine{Role: "R", Percentage: p, Order: i + 1})
		}
		if err := template.Validate(tpl); err != nil {
			t.Fatalf("generated template invalid: %v", err)
		}
		estimate := float64(rapid.IntRange(1, 400).Draw(rt, "quarters")) * 0.25
		var sum float64
		for _, a := range template.Apply(tpl, estimate) {
			sum += a.Hours
		}
		if math.Abs(sum-estimate) > template.HourStep*float64(n)/2+1e-9 {
			t.Fatalf("drift too large: estimate %v, sum %v", estimate, sum)
		}
	})
}

func TestApplyHalfSplitRoundTrip(t *testing.T) {
	tpl := domain.Template{
		Name: "mitades", IssueType: "Story", Active: true,
		Lines: []domain.TemplateLine{
			{Role: "A", Percentage: 50, Order: 1},
			{Role: "B", Percentage: 50, Order: 2},
		},
	}
	got := template.Apply(tpl, 10)
	sum := got[0].Hours + got[1].Hours
	if sum < 9.5 || sum > 10.5 {
		t.Fatalf("sum %v outside [9.5, 10.5]", sum)
	}
}

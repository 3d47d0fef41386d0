package planner_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tablero/internal/capacity"
	"tablero/internal/domain"
	"tablero/internal/planner"
)

func hours(v float64) *float64 { return &v }
func boolp(v bool) *bool       { return &v }
func intp(v int) *int          { return &v }

func sprintWindow() capacity.Range {
	return capacity.Range{
		Start: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
	}
}

func fullWeek(h float64) capacity.WeeklyProfile {
	return capacity.WeeklyProfile{
		time.Monday: h, time.Tuesday: h, time.Wednesday: h, time.Thursday: h, time.Friday: h,
	}
}

func testPlanner() planner.Planner {
	return planner.Planner{
		Capacity: capacity.Calculator{
			Profiles: map[string]capacity.WeeklyProfile{
				"ana":  fullWeek(8),
				"bea":  fullWeek(6),
				"carl": fullWeek(8),
			},
		},
		Persons: []domain.Person{{ID: "carl"}, {ID: "ana"}, {ID: "bea"}},
		Templates: []domain.Template{{
			ID: "tpl-1", Name: "historia", IssueType: "Story", Active: true,
			Lines: []domain.TemplateLine{
				{Role: "DESARROLLADOR", Percentage: 60, Order: 1},
				{Role: "QA", Percentage: 40, Order: 2, DependsOnOrder: intp(1)},
			},
		}},
	}
}

func TestPlanifyDefaults(t *testing.T) {
	p := testPlanner()
	root := planner.Issue{Key: "PROJ-1", Summary: "Login page", Type: "Story", EstimateHours: hours(10)}
	subs := []planner.Issue{
		{Key: "PROJ-2", Summary: "Fix crash", Type: "Bug", EstimateHours: hours(3)},
		{Key: "PROJ-3", Summary: "Research cache", Type: "Spike", EstimateHours: hours(4)},
		{Key: "PROJ-4", Summary: "Wire endpoint", Type: "Sub-task", EstimateHours: hours(2)},
	}
	got, err := p.Planify(root, subs, "sprint-1", sprintWindow(), nil, planner.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(got))
	}
	wantTypes := []string{domain.TypeHistoria, domain.TypeBug, domain.TypeSpike, domain.TypeTarea}
	wantCats := []string{domain.CategoriaEvolutivo, domain.CategoriaCorrectivo, domain.CategoriaEvolutivo, domain.CategoriaEvolutivo}
	for i, r := range got {
		if r.Type != wantTypes[i] {
			t.Errorf("row %d type %s want %s", i, r.Type, wantTypes[i])
		}
		if r.Category != wantCats[i] {
			t.Errorf("row %d category %s want %s", i, r.Category, wantCats[i])
		}
		if r.Priority != domain.PrioridadNormal {
			t.Errorf("row %d priority %s", i, r.Priority)
		}
		if r.SprintID != "sprint-1" {
			t.Errorf("row %d sprint %s", i, r.SprintID)
		}
	}
	if got[1].ParentIssueKey == nil || *got[1].ParentIssueKey != "PROJ-1" {
		t.Fatalf("sub-issue must reference root: %+v", got[1])
	}
	if got[0].ParentIssueKey != nil {
		t.Fatal("root row must not have a parent key")
	}
}

func TestPlanifyUnknownTypeDefaultsToTarea(t *testing.T) {
	p := testPlanner()
	root := planner.Issue{Key: "PROJ-9", Summary: "??", Type: "Epic", EstimateHours: hours(1)}
	got, err := p.Planify(root, nil, "sprint-1", sprintWindow(), nil, planner.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Type != domain.TypeTarea {
		t.Fatalf("unknown type should map to TAREA, got %s", got[0].Type)
	}
}

func TestPlanifyExcludedRows(t *testing.T) {
	p := testPlanner()
	root := planner.Issue{Key: "PROJ-1", Summary: "root", Type: "Story", EstimateHours: hours(10)}
	subs := []planner.Issue{{Key: "PROJ-2", Summary: "skip me", Type: "Task"}}
	got, err := p.Planify(root, subs, "sprint-1", sprintWindow(),
		[]planner.RowOverride{{Key: "PROJ-2", Include: boolp(false)}}, planner.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || *got[0].IssueKey != "PROJ-1" {
		t.Fatalf("excluded row leaked: %+v", got)
	}
}

func TestPlanifyZeroEstimationFailsWholeBatch(t *testing.T) {
	p := testPlanner()
	root := planner.Issue{Key: "PROJ-1", Summary: "root", Type: "Story", EstimateHours: hours(10)}
	subs := []planner.Issue{{Key: "PROJ-2", Summary: "no estimate", Type: "Task"}}
	got, err := p.Planify(root, subs, "sprint-1", sprintWindow(), nil, planner.Options{})
	var ipe planner.InvalidPlanificationError
	if !errors.As(err, &ipe) {
		t.Fatalf("expected InvalidPlanificationError, got %v", err)
	}
	if got != nil {
		t.Fatal("no requests may be produced on failure")
	}
	if len(ipe.Rows) != 1 || ipe.Rows[0] != "PROJ-2" {
		t.Fatalf("error must name the offending row: %v", ipe.Rows)
	}
	if !strings.Contains(ipe.Error(), "PROJ-2") {
		t.Fatalf("message must mention the row: %s", ipe.Error())
	}
}

func TestPlanifyTemplateSuggestionOnRoot(t *testing.T) {
	p := testPlanner()
	root := planner.Issue{Key: "PROJ-1", Summary: "root", Type: "Story", EstimateHours: hours(10)}
	got, err := p.Planify(root, nil, "sprint-1", sprintWindow(), nil, planner.Options{UseTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	// 60% + 40% of 10h on the quarter-hour grid is still 10h.
	if got[0].Estimation != 10 {
		t.Fatalf("template total on root: %v", got[0].Estimation)
	}
}

func TestPlanifyTemplateLineMappedToRow(t *testing.T) {
	p := testPlanner()
	root := planner.Issue{Key: "PROJ-1", Summary: "root", Type: "Story", EstimateHours: hours(10)}
	subs := []planner.Issue{{Key: "PROJ-2", Summary: "qa part", Type: "Sub-task", EstimateHours: hours(1)}}
	got, err := p.Planify(root, subs, "sprint-1", sprintWindow(),
		[]planner.RowOverride{
			{Key: "PROJ-1", TemplateOrder: intp(1)},
			{Key: "PROJ-2", TemplateOrder: intp(2)},
		}, planner.Options{UseTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Estimation != 6 || got[0].Role != "DESARROLLADOR" {
		t.Fatalf("root mapped to line 1: %+v", got[0])
	}
	if got[1].Estimation != 4 || got[1].Role != "QA" {
		t.Fatalf("sub mapped to line 2: %+v", got[1])
	}
}

func TestPlanifyManualOverrideWinsOverTemplate(t *testing.T) {
	p := testPlanner()
	root := planner.Issue{Key: "PROJ-1", Summary: "root", Type: "Story", EstimateHours: hours(10)}
	got, err := p.Planify(root, nil, "sprint-1", sprintWindow(),
		[]planner.RowOverride{{Key: "PROJ-1", Estimation: hours(7.5)}},
		planner.Options{UseTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Estimation != 7.5 {
		t.Fatalf("manual estimation must win: %v", got[0].Estimation)
	}
}

func TestPlanifyPersonSuggestionRanksByCapacity(t *testing.T) {
	p := testPlanner()
	root := planner.Issue{Key: "PROJ-1", Summary: "root", Type: "Story", EstimateHours: hours(10)}
	got, err := p.Planify(root, nil, "sprint-1", sprintWindow(), nil, planner.Options{SuggestPersons: true})
	if err != nil {
		t.Fatal(err)
	}
	// ana and carl both have 80h over the window; lowest id wins the tie.
	if got[0].PersonID == nil || *got[0].PersonID != "ana" {
		t.Fatalf("suggested person: %v", got[0].PersonID)
	}
}

func TestPlanifyExplicitPersonNotOverridden(t *testing.T) {
	p := testPlanner()
	bea := "bea"
	root := planner.Issue{Key: "PROJ-1", Summary: "root", Type: "Story", EstimateHours: hours(10)}
	got, err := p.Planify(root, nil, "sprint-1", sprintWindow(),
		[]planner.RowOverride{{Key: "PROJ-1", PersonID: &bea}}, planner.Options{SuggestPersons: true})
	if err != nil {
		t.Fatal(err)
	}
	if *got[0].PersonID != "bea" {
		t.Fatalf("explicit person must win: %v", *got[0].PersonID)
	}
}

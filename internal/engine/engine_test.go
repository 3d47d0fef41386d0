package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"tablero/internal/config"
	"tablero/internal/db"
	"tablero/internal/domain"
	"tablero/internal/flow"
	"tablero/internal/graph"
	"tablero/internal/migrate"
	"tablero/internal/planner"
	"tablero/internal/timeline"
)

func testConfig() *config.Config {
	cfg := config.Default("SQ1")
	cfg.Squad.Name = "Squad One"
	cfg.Profiles = map[string]map[string]float64{
		"ana":   {"monday": 8, "tuesday": 8, "wednesday": 8, "thursday": 8, "friday": 8},
		"bruno": {"monday": 8, "tuesday": 8, "wednesday": 8, "thursday": 8, "friday": 8},
	}
	return cfg
}

func testEngine(t *testing.T) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, testConfig())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return now }
	e.Events.Now = e.Now
	ctx := context.Background()
	for _, p := range []domain.Person{{ID: "ana", Name: "Ana"}, {ID: "bruno", Name: "Bruno"}} {
		if err := e.Repo.UpsertPerson(ctx, p); err != nil {
			t.Fatalf("seed person: %v", err)
		}
	}
	return e
}

// Monday 2026-03-02 plus 10 calendar days spans 8 working days.
func mustSprint(t *testing.T, e Engine) domain.Sprint {
	t.Helper()
	s, err := e.CreateSprint(context.Background(), SprintCreateOptions{
		Name: "Sprint 1", StartDate: "2026-03-02", Days: 10, ActorID: "ana",
	})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	return s
}

func mustTask(t *testing.T, e Engine, sprintID, title string, hours float64) domain.Task {
	t.Helper()
	task, err := e.CreateTask(context.Background(), TaskCreateOptions{
		SprintID: sprintID, Title: title, Estimation: hours, ActorID: "ana",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func mustStatus(t *testing.T, e Engine, taskID, status string) domain.Task {
	t.Helper()
	task, err := e.SetTaskStatus(context.Background(), taskID, status, "ana")
	if err != nil {
		t.Fatalf("set %s to %s: %v", taskID, status, err)
	}
	return task
}

func TestCreateSprintComputesCapacity(t *testing.T) {
	e := testEngine(t)
	s := mustSprint(t, e)

	if s.State != domain.SprintPlanificacion {
		t.Fatalf("state = %s, want PLANIFICACION", s.State)
	}
	// 8 working days x 8h x 2 persons.
	if s.Capacity != 128 {
		t.Fatalf("capacity = %v, want 128", s.Capacity)
	}
	got, err := e.Repo.GetSprint(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get sprint: %v", err)
	}
	if got.Capacity != s.Capacity || got.Name != "Sprint 1" {
		t.Fatalf("persisted sprint mismatch: %+v", got)
	}
}

func TestSprintLifecycle(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)

	var invalid InvalidSprintTransitionError
	if _, err := e.SetSprintState(ctx, s.ID, domain.SprintCerrado, "ana"); !errors.As(err, &invalid) {
		t.Fatalf("PLANIFICACION -> CERRADO: got %v, want InvalidSprintTransitionError", err)
	}

	for _, state := range []string{domain.SprintActivo, domain.SprintCerrado, domain.SprintActivo, domain.SprintPlanificacion} {
		s2, err := e.SetSprintState(ctx, s.ID, state, "ana")
		if err != nil {
			t.Fatalf("transition to %s: %v", state, err)
		}
		if s2.State != state {
			t.Fatalf("state = %s, want %s", s2.State, state)
		}
		s = s2
	}
}

func TestDeleteSprintRequiresPlanificacion(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)

	if _, err := e.SetSprintState(ctx, s.ID, domain.SprintActivo, "ana"); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteSprint(ctx, s.ID, "ana"); err == nil {
		t.Fatal("deleting an ACTIVO sprint should fail")
	}
	if _, err := e.SetSprintState(ctx, s.ID, domain.SprintPlanificacion, "ana"); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteSprint(ctx, s.ID, "ana"); err != nil {
		t.Fatalf("delete in PLANIFICACION: %v", err)
	}
}

func TestCreateTaskDefaultsAndValidation(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)

	bug, err := e.CreateTask(ctx, TaskCreateOptions{
		SprintID: s.ID, Title: "login crash", Type: domain.TypeBug, Estimation: 4, ActorID: "ana",
	})
	if err != nil {
		t.Fatal(err)
	}
	if bug.Category != domain.CategoriaCorrectivo {
		t.Fatalf("bug category = %s, want CORRECTIVO", bug.Category)
	}
	if bug.Priority != domain.PrioridadNormal {
		t.Fatalf("priority = %s, want NORMAL default", bug.Priority)
	}
	if bug.Status != domain.EstadoPendiente {
		t.Fatalf("status = %s, want PENDIENTE", bug.Status)
	}

	if _, err := e.CreateTask(ctx, TaskCreateOptions{SprintID: s.ID, Title: "bad", Estimation: 0}); err == nil {
		t.Fatal("zero estimation should fail")
	}
	if _, err := e.CreateTask(ctx, TaskCreateOptions{SprintID: s.ID, Title: "bad", Estimation: 2, Day: 11}); err == nil {
		t.Fatal("day 11 of a 10-day sprint should fail")
	}
}

func TestImpedimentBlocksAndReleases(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)
	task := mustTask(t, e, s.ID, "deploy", 4)

	mustStatus(t, e, task.ID, domain.EstadoEnProgreso)

	// No open condition, blocking is not allowed.
	if _, err := e.SetTaskStatus(ctx, task.ID, domain.EstadoBloqueado, "ana"); err == nil {
		t.Fatal("blocking without an open impediment should fail")
	}

	imp, err := e.AddImpediment(ctx, task.ID, "waiting on ops", "ana")
	if err != nil {
		t.Fatal(err)
	}
	blocked := mustStatus(t, e, task.ID, domain.EstadoBloqueado)
	if blocked.HeldStatus == nil || *blocked.HeldStatus != domain.EstadoEnProgreso {
		t.Fatalf("held status = %v, want EN_PROGRESO", blocked.HeldStatus)
	}

	var still flow.StillBlockedError
	if _, err := e.SetTaskStatus(ctx, task.ID, domain.EstadoEnProgreso, "ana"); !errors.As(err, &still) {
		t.Fatalf("unblock with open impediment: got %v, want StillBlockedError", err)
	}

	if err := e.ResolveImpediment(ctx, imp.ID, task.ID, "ana"); err != nil {
		t.Fatal(err)
	}
	released := mustStatus(t, e, task.ID, domain.EstadoEnProgreso)
	if released.HeldStatus != nil {
		t.Fatalf("held status should clear on release, got %v", *released.HeldStatus)
	}
}

func TestStrictDependencyGatesPlacement(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)
	t1 := mustTask(t, e, s.ID, "schema", 4)
	t2 := mustTask(t, e, s.ID, "endpoint", 4)

	if _, err := e.AddDependency(ctx, t1.ID, t2.ID, domain.DependenciaEstricta, "ana"); err != nil {
		t.Fatal(err)
	}

	var blocked timeline.SchedulingBlockedError
	if _, err := e.PlaceTask(ctx, t2.ID, "ana", 1, "ana"); !errors.As(err, &blocked) {
		t.Fatalf("placing with incomplete predecessor: got %v, want SchedulingBlockedError", err)
	}

	mustStatus(t, e, t1.ID, domain.EstadoEnProgreso)
	mustStatus(t, e, t1.ID, domain.EstadoCompletada)

	p, err := e.PlaceTask(ctx, t2.ID, "ana", 1, "ana")
	if err != nil {
		t.Fatalf("place after predecessor completed: %v", err)
	}
	got, err := e.Repo.GetTask(ctx, t2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PersonID == nil || *got.PersonID != "ana" || got.Day == nil || *got.Day != 1 {
		t.Fatalf("placement not persisted: %+v", got)
	}
	if p.Overage != 0 {
		t.Fatalf("unexpected overage %v", p.Overage)
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)
	t1 := mustTask(t, e, s.ID, "a", 2)
	t2 := mustTask(t, e, s.ID, "b", 2)

	if _, err := e.AddDependency(ctx, t1.ID, t2.ID, domain.DependenciaEstricta, "ana"); err != nil {
		t.Fatal(err)
	}
	var cyc graph.CyclicDependencyError
	if _, err := e.AddDependency(ctx, t2.ID, t1.ID, domain.DependenciaEstricta, "ana"); !errors.As(err, &cyc) {
		t.Fatalf("got %v, want CyclicDependencyError", err)
	}
	deps, err := e.Repo.ListDependencies(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 {
		t.Fatalf("cycle edge was persisted: %d dependencies", len(deps))
	}
}

func TestReopenLogsEvent(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)
	task := mustTask(t, e, s.ID, "report", 2)

	mustStatus(t, e, task.ID, domain.EstadoEnProgreso)
	done := mustStatus(t, e, task.ID, domain.EstadoCompletada)
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	reopened := mustStatus(t, e, task.ID, domain.EstadoPendiente)
	if reopened.CompletedAt != nil {
		t.Fatal("completed_at should clear on reopen")
	}

	evts, err := e.Repo.ListEvents(ctx, 50)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, evt := range evts {
		if evt.Type == "task.reopened" && evt.EntityID == task.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("task.reopened event not logged")
	}
}

func TestPlanifyAllOrNothing(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)

	ten := 10.0
	root := planner.Issue{Key: "PROJ-1", Summary: "checkout flow", Type: "Story", EstimateHours: &ten}
	subs := []planner.Issue{
		{Key: "PROJ-2", Summary: "api", Type: "Sub-task"}, // no estimate
	}

	var invalid planner.InvalidPlanificationError
	_, err := e.Planify(ctx, s.ID, root, subs, nil, PlanifyOptions{}, "ana")
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v, want InvalidPlanificationError", err)
	}
	tasks, err := e.Repo.ListTasks(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("failed batch persisted %d tasks", len(tasks))
	}

	four := 4.0
	subs[0].EstimateHours = &four
	created, err := e.Planify(ctx, s.ID, root, subs, nil, PlanifyOptions{}, "ana")
	if err != nil {
		t.Fatalf("planify: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d tasks, want 2", len(created))
	}
	tasks, err = e.Repo.ListTasks(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("persisted %d tasks, want 2", len(tasks))
	}
}

func TestPlaceTaskOverageWarns(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)
	t1 := mustTask(t, e, s.ID, "big", 6)
	t2 := mustTask(t, e, s.ID, "small", 5)

	if _, err := e.PlaceTask(ctx, t1.ID, "ana", 1, "ana"); err != nil {
		t.Fatal(err)
	}
	p, err := e.PlaceTask(ctx, t2.ID, "ana", 1, "ana")
	if err != nil {
		t.Fatalf("over-allocation should warn, not reject: %v", err)
	}
	if p.Overage != 3 {
		t.Fatalf("overage = %v, want 3", p.Overage)
	}
	if len(p.Warnings) == 0 {
		t.Fatal("expected an over-allocation warning")
	}
}

func TestMoveTaskIgnoresOwnHours(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)
	task := mustTask(t, e, s.ID, "solo", 8)

	if _, err := e.PlaceTask(ctx, task.ID, "ana", 1, "ana"); err != nil {
		t.Fatal(err)
	}
	p, err := e.MoveTask(ctx, task.ID, timeline.Cell{PersonID: "ana", Day: 2}, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if p.Overage != 0 {
		t.Fatalf("moving the only task should not overflow, overage = %v", p.Overage)
	}
	got, err := e.Repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Day == nil || *got.Day != 2 {
		t.Fatalf("move not persisted: %+v", got)
	}
}

func TestRefreshSprintCapacity(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)

	end := "2026-03-11"
	if err := e.Repo.InsertLeave(ctx, domain.Leave{
		ID: "l1", PersonID: "ana", Kind: domain.LeaveVacaciones, Start: "2026-03-02", End: &end,
	}); err != nil {
		t.Fatal(err)
	}
	s2, err := e.RefreshSprintCapacity(ctx, s.ID, "ana")
	if err != nil {
		t.Fatal(err)
	}
	// ana on vacation the whole window, only bruno's 64h remain.
	if s2.Capacity != 64 {
		t.Fatalf("capacity = %v, want 64", s2.Capacity)
	}
}

func TestCapacityOverview(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	s := mustSprint(t, e)

	grid, err := e.CapacityOverview(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if grid.Totals["ana"] != 64 || grid.Totals["bruno"] != 64 {
		t.Fatalf("totals = %v, want 64 each", grid.Totals)
	}
	if grid.Persons["ana"]["2026-03-07"] != 0 {
		t.Fatal("saturday should have zero hours")
	}
	if grid.Persons["ana"]["2026-03-03"] != 8 {
		t.Fatal("tuesday should have eight hours")
	}
}

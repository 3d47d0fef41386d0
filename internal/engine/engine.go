package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tablero/internal/capacity"
	"tablero/internal/config"
	"tablero/internal/domain"
	"tablero/internal/events"
	"tablero/internal/flow"
	"tablero/internal/graph"
	"tablero/internal/planner"
	"tablero/internal/repo"
	"tablero/internal/template"
	"tablero/internal/timeline"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InvalidSprintTransitionError reports a sprint state change outside the
// allowed lifecycle.
type InvalidSprintTransitionError struct {
	From string
	To   string
}

func (e InvalidSprintTransitionError) Error() string {
	return fmt.Sprintf("invalid sprint transition %s -> %s", e.From, e.To)
}

// Calculator builds the capacity calculator from squad config plus persisted
// leave records.
func (e Engine) Calculator(ctx context.Context) (capacity.Calculator, error) {
	if e.Config == nil {
		return capacity.Calculator{}, errors.New("config not loaded")
	}
	leaves, err := e.Repo.ListLeaves(ctx)
	if err != nil {
		return capacity.Calculator{}, err
	}
	var vacations, absences []capacity.Leave
	for _, l := range leaves {
		cl, err := toCapacityLeave(l)
		if err != nil {
			return capacity.Calculator{}, err
		}
		if l.Kind == domain.LeaveAusencia {
			absences = append(absences, cl)
		} else {
			vacations = append(vacations, cl)
		}
	}
	return e.Config.Calculator(vacations, absences), nil
}

func toCapacityLeave(l domain.Leave) (capacity.Leave, error) {
	start, err := time.Parse(capacity.DayFormat, l.Start)
	if err != nil {
		return capacity.Leave{}, fmt.Errorf("leave %s start: %w", l.ID, err)
	}
	out := capacity.Leave{PersonID: l.PersonID, Start: start}
	if l.End != nil {
		end, err := time.Parse(capacity.DayFormat, *l.End)
		if err != nil {
			return capacity.Leave{}, fmt.Errorf("leave %s end: %w", l.ID, err)
		}
		out.End = &end
	}
	return out, nil
}

// --- sprints ---

type SprintCreateOptions struct {
	ID        string
	Name      string
	StartDate string
	Days      int
	ActorID   string
}

func (e Engine) CreateSprint(ctx context.Context, opts SprintCreateOptions) (domain.Sprint, error) {
	if e.Config == nil {
		return domain.Sprint{}, errors.New("config not loaded")
	}
	if opts.Name == "" {
		return domain.Sprint{}, errors.New("name is required")
	}
	if _, err := time.Parse(capacity.DayFormat, opts.StartDate); err != nil {
		return domain.Sprint{}, fmt.Errorf("invalid start date: %w", err)
	}
	days := opts.Days
	if days == 0 {
		days = e.Config.Sprint.Days
	}
	if days < 1 || days > 30 {
		return domain.Sprint{}, fmt.Errorf("invalid sprint length %d", days)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	s := domain.Sprint{
		ID:        id,
		SquadID:   e.Config.Squad.ID,
		Name:      opts.Name,
		State:     domain.SprintPlanificacion,
		StartDate: opts.StartDate,
		Days:      days,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	total, err := e.squadCapacity(ctx, s)
	if err != nil {
		return domain.Sprint{}, err
	}
	s.Capacity = total

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureSquad(ctx, tx, s.SquadID, e.Config.Squad.Name, s.CreatedAt); err != nil {
		return domain.Sprint{}, fmt.Errorf("ensure squad: %w", err)
	}
	if err := e.Repo.InsertSprint(ctx, tx, s); err != nil {
		return domain.Sprint{}, fmt.Errorf("insert sprint: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "sprint.created", s.SquadID, "sprint", s.ID, opts.ActorID, events.EventPayload{
		"name": s.Name, "days": s.Days, "capacity": s.Capacity,
	}); err != nil {
		return domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sprint{}, err
	}
	return s, nil
}

// squadCapacity sums available hours of every person over the sprint window.
func (e Engine) squadCapacity(ctx context.Context, s domain.Sprint) (float64, error) {
	calc, err := e.Calculator(ctx)
	if err != nil {
		return 0, err
	}
	persons, err := e.Repo.ListPersons(ctx)
	if err != nil {
		return 0, err
	}
	window, err := sprintWindow(s)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range persons {
		t, err := calc.Total(p.ID, window)
		if err != nil {
			return 0, err
		}
		total += t
	}
	return total, nil
}

func sprintWindow(s domain.Sprint) (capacity.Range, error) {
	start, err := time.Parse(capacity.DayFormat, s.StartDate)
	if err != nil {
		return capacity.Range{}, fmt.Errorf("sprint %s start date: %w", s.ID, err)
	}
	return capacity.Range{Start: start, End: start.AddDate(0, 0, s.Days-1)}, nil
}

func ensureSprintTransition(oldState, newState string) error {
	switch oldState {
	case domain.SprintPlanificacion:
		if newState == domain.SprintActivo {
			return nil
		}
	case domain.SprintActivo:
		if newState == domain.SprintCerrado || newState == domain.SprintPlanificacion {
			return nil
		}
	case domain.SprintCerrado:
		if newState == domain.SprintActivo {
			return nil
		}
	}
	return InvalidSprintTransitionError{From: oldState, To: newState}
}

func (e Engine) SetSprintState(ctx context.Context, id, state, actorID string) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return s, err
	}
	if err := ensureSprintTransition(s.State, state); err != nil {
		return s, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSprintState(ctx, tx, id, state); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sprint.state", s.SquadID, "sprint", id, actorID, events.EventPayload{
		"from": s.State, "to": state,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.State = state
	return s, nil
}

// RefreshSprintCapacity recomputes the sprint's total capacity after config
// or leave changes.
func (e Engine) RefreshSprintCapacity(ctx context.Context, id, actorID string) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return s, err
	}
	total, err := e.squadCapacity(ctx, s)
	if err != nil {
		return s, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSprintCapacity(ctx, tx, id, total); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sprint.capacity", s.SquadID, "sprint", id, actorID, events.EventPayload{
		"from": s.Capacity, "to": total,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Capacity = total
	return s, nil
}

// DeleteSprint removes a sprint and its tasks. Only allowed while the sprint
// is still in PLANIFICACION.
func (e Engine) DeleteSprint(ctx context.Context, id, actorID string) error {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return err
	}
	if s.State != domain.SprintPlanificacion {
		return fmt.Errorf("sprint %s is %s; only PLANIFICACION sprints can be deleted", id, s.State)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSprint(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "sprint.deleted", s.SquadID, "sprint", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- tasks ---

type TaskCreateOptions struct {
	ID           string
	SprintID     string
	Title        string
	Type         string
	Category     string
	Estimation   float64
	Priority     string
	PersonID     string
	Day          int
	DurationDays int
	IssueKey     string
	ParentKey    string
	ActorID      string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Estimation <= 0 {
		return domain.Task{}, fmt.Errorf("estimation must be positive, got %v", opts.Estimation)
	}
	s, err := e.Repo.GetSprint(ctx, opts.SprintID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Day != 0 && (opts.Day < 1 || opts.Day > s.Days) {
		return domain.Task{}, fmt.Errorf("day %d outside sprint range [1,%d]", opts.Day, s.Days)
	}
	if opts.Type == "" {
		opts.Type = domain.TypeTarea
	}
	if opts.Category == "" {
		opts.Category = domain.CategoriaEvolutivo
		if opts.Type == domain.TypeBug {
			opts.Category = domain.CategoriaCorrectivo
		}
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.DefaultPriority()
	}
	if opts.DurationDays < 1 {
		opts.DurationDays = 1
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.SprintID+"|"+opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:             id,
		SprintID:       opts.SprintID,
		Title:          opts.Title,
		Type:           opts.Type,
		Category:       opts.Category,
		Estimation:     opts.Estimation,
		Priority:       opts.Priority,
		Status:         domain.EstadoPendiente,
		PersonID:       optionalString(opts.PersonID),
		Day:            optionalInt(opts.Day),
		DurationDays:   opts.DurationDays,
		IssueKey:       optionalString(opts.IssueKey),
		ParentIssueKey: optionalString(opts.ParentKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", s.SquadID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title, "status": t.Status, "estimation": t.Estimation,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes a task. Only allowed while the sprint is in
// PLANIFICACION; closed or active sprints keep their history.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetSprint(ctx, t.SprintID)
	if err != nil {
		return err
	}
	if s.State != domain.SprintPlanificacion {
		return fmt.Errorf("sprint %s is %s; tasks can only be removed during PLANIFICACION", s.ID, s.State)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", s.SquadID, "task", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// graphForSprint loads persisted dependencies into a graph backed by the
// sprint's current task statuses.
func (e Engine) graphForSprint(ctx context.Context, sprintID string) (*graph.Graph, error) {
	tasks, err := e.Repo.ListTasks(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]string, len(tasks))
	for _, t := range tasks {
		statuses[t.ID] = t.Status
	}
	g := graph.New(func(id string) string { return statuses[id] })
	deps, err := e.Repo.ListDependencies(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	g.Load(deps)
	return g, nil
}

// blockingConditions lists what currently blocks a task: open impediment ids
// plus incomplete ESTRICTA predecessors.
func (e Engine) blockingConditions(ctx context.Context, t domain.Task, g *graph.Graph) ([]string, error) {
	imps, err := e.Repo.ListOpenImpediments(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	var conditions []string
	for _, imp := range imps {
		conditions = append(conditions, "impediment:"+imp.ID)
	}
	for _, dep := range g.BlockingPredecessors(t.ID) {
		conditions = append(conditions, "dependency:"+dep)
	}
	return conditions, nil
}

func (e Engine) SetTaskStatus(ctx context.Context, taskID, status, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	s, err := e.Repo.GetSprint(ctx, t.SprintID)
	if err != nil {
		return t, err
	}
	g, err := e.graphForSprint(ctx, t.SprintID)
	if err != nil {
		return t, err
	}
	conditions, err := e.blockingConditions(ctx, t, g)
	if err != nil {
		return t, err
	}
	state := flow.State{Status: t.Status}
	if t.HeldStatus != nil {
		state.Held = *t.HeldStatus
	}
	res, err := flow.Step(state, status, conditions)
	if err != nil {
		return t, err
	}
	from := t.Status
	t.Status = res.State.Status
	t.HeldStatus = nil
	if res.State.Status == domain.EstadoBloqueado {
		held := res.State.Held
		t.HeldStatus = &held
	}
	now := e.now().UTC().Format(time.RFC3339)
	t.UpdatedAt = now
	t.CompletedAt = nil
	if t.Status == domain.EstadoCompletada {
		t.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if res.Reopened {
		if err := e.Events.Append(ctx, tx, "task.reopened", s.SquadID, "task", t.ID, actorID, events.EventPayload{}); err != nil {
			return t, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.status", s.SquadID, "task", t.ID, actorID, events.EventPayload{
		"from": from, "to": t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// --- impediments ---

func (e Engine) AddImpediment(ctx context.Context, taskID, description, actorID string) (domain.Impediment, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Impediment{}, err
	}
	s, err := e.Repo.GetSprint(ctx, t.SprintID)
	if err != nil {
		return domain.Impediment{}, err
	}
	imp := domain.Impediment{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		Description: description,
		Open:        true,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return imp, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertImpediment(ctx, tx, imp); err != nil {
		return imp, err
	}
	if err := e.Events.Append(ctx, tx, "impediment.opened", s.SquadID, "task", taskID, actorID, events.EventPayload{
		"impediment": imp.ID, "description": description,
	}); err != nil {
		return imp, err
	}
	return imp, tx.Commit()
}

func (e Engine) ResolveImpediment(ctx context.Context, impedimentID, taskID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetSprint(ctx, t.SprintID)
	if err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.ResolveImpediment(ctx, tx, impedimentID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "impediment.resolved", s.SquadID, "task", taskID, actorID, events.EventPayload{
		"impediment": impedimentID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- dependencies ---

func (e Engine) AddDependency(ctx context.Context, originID, destID, kind, actorID string) (domain.Dependency, error) {
	if kind != domain.DependenciaEstricta && kind != domain.DependenciaSuave {
		return domain.Dependency{}, fmt.Errorf("unknown dependency kind %q", kind)
	}
	origin, err := e.Repo.GetTask(ctx, originID)
	if err != nil {
		return domain.Dependency{}, err
	}
	dest, err := e.Repo.GetTask(ctx, destID)
	if err != nil {
		return domain.Dependency{}, err
	}
	if origin.SprintID != dest.SprintID {
		return domain.Dependency{}, errors.New("dependency endpoints in different sprints")
	}
	s, err := e.Repo.GetSprint(ctx, origin.SprintID)
	if err != nil {
		return domain.Dependency{}, err
	}
	g, err := e.graphForSprint(ctx, origin.SprintID)
	if err != nil {
		return domain.Dependency{}, err
	}
	d := domain.Dependency{
		ID:        uuid.New().String(),
		SprintID:  origin.SprintID,
		OriginID:  originID,
		DestID:    destID,
		Kind:      kind,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := g.AddDependency(d); err != nil {
		return domain.Dependency{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDependency(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "dependency.added", s.SquadID, "task", originID, actorID, events.EventPayload{
		"destination": destID, "kind": kind,
	}); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

func (e Engine) RemoveDependency(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDependency(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "dependency.removed", squadID(e.Config), "dependency", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- templates ---

func (e Engine) SaveTemplate(ctx context.Context, t domain.Template, actorID string) (domain.Template, error) {
	if err := template.Validate(t); err != nil {
		return t, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Active && t.ActivatedAt == "" {
		t.ActivatedAt = e.now().UTC().Format(time.RFC3339)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertTemplate(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "template.saved", squadID(e.Config), "template", t.ID, actorID, events.EventPayload{
		"name": t.Name, "issue_type": t.IssueType, "active": t.Active,
	}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

func (e Engine) SetTemplateActive(ctx context.Context, id string, active bool, actorID string) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return t, err
	}
	t.Active = active
	if active {
		t.ActivatedAt = e.now().UTC().Format(time.RFC3339)
	}
	return e.SaveTemplate(ctx, t, actorID)
}

// ApplyTemplate runs the allocation split for an issue type without touching
// persistent state.
func (e Engine) ApplyTemplate(ctx context.Context, issueType string, estimatedHours float64) ([]template.Allocation, error) {
	templates, err := e.Repo.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	tpl, ok := template.Select(templates, issueType)
	if !ok {
		return nil, fmt.Errorf("no active template for issue type %q", issueType)
	}
	return template.Apply(tpl, estimatedHours), nil
}

// --- planification ---

type PlanifyOptions struct {
	UseTemplate    bool
	SuggestPersons bool
}

// Planify runs the pure planner over the sprint window and persists the
// resulting tasks in one transaction. The batch is all-or-nothing.
func (e Engine) Planify(ctx context.Context, sprintID string, root planner.Issue, subs []planner.Issue, overrides []planner.RowOverride, opts PlanifyOptions, actorID string) ([]domain.Task, error) {
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	if s.State == domain.SprintCerrado {
		return nil, fmt.Errorf("sprint %s is CERRADO", sprintID)
	}
	window, err := sprintWindow(s)
	if err != nil {
		return nil, err
	}
	calc, err := e.Calculator(ctx)
	if err != nil {
		return nil, err
	}
	persons, err := e.Repo.ListPersons(ctx)
	if err != nil {
		return nil, err
	}
	templates, err := e.Repo.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	p := planner.Planner{Capacity: calc, Templates: templates, Persons: persons}
	requests, err := p.Planify(root, subs, sprintID, window, overrides, planner.Options{
		UseTemplate:    opts.UseTemplate,
		SuggestPersons: opts.SuggestPersons,
	})
	if err != nil {
		return nil, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var created []domain.Task
	for _, req := range requests {
		t := domain.Task{
			ID:             uuid.New().String(),
			SprintID:       req.SprintID,
			Title:          req.Title,
			Type:           req.Type,
			Category:       req.Category,
			Estimation:     req.Estimation,
			Priority:       req.Priority,
			Status:         domain.EstadoPendiente,
			PersonID:       req.PersonID,
			Day:            req.Day,
			DurationDays:   1,
			IssueKey:       req.IssueKey,
			ParentIssueKey: req.ParentIssueKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return nil, err
		}
		created = append(created, t)
	}
	if err := e.Events.Append(ctx, tx, "planification.applied", s.SquadID, "sprint", sprintID, actorID, events.EventPayload{
		"root": root.Key, "tasks": len(created),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// --- timeline ---

// allocator builds a timeline allocator snapshot for a sprint.
func (e Engine) allocator(ctx context.Context, s domain.Sprint) (timeline.Allocator, error) {
	calc, err := e.Calculator(ctx)
	if err != nil {
		return timeline.Allocator{}, err
	}
	g, err := e.graphForSprint(ctx, s.ID)
	if err != nil {
		return timeline.Allocator{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, s.ID)
	if err != nil {
		return timeline.Allocator{}, err
	}
	entries := map[string][]timeline.Entry{}
	for _, t := range tasks {
		if t.PersonID == nil || t.Day == nil {
			continue
		}
		entries[*t.PersonID] = append(entries[*t.PersonID], timeline.Entry{
			TaskID: t.ID,
			Day:    *t.Day,
			Span:   t.DurationDays,
			Hours:  t.Estimation,
		})
	}
	start, err := time.Parse(capacity.DayFormat, s.StartDate)
	if err != nil {
		return timeline.Allocator{}, err
	}
	return timeline.Allocator{
		Snapshot: timeline.Snapshot{SprintID: s.ID, Start: start, Days: s.Days, Entries: entries},
		Capacity: calc,
		Graph:    g,
	}, nil
}

// PlaceTask validates and persists a task's placement on (person, day).
func (e Engine) PlaceTask(ctx context.Context, taskID, personID string, day int, actorID string) (timeline.Placement, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return timeline.Placement{}, err
	}
	s, err := e.Repo.GetSprint(ctx, t.SprintID)
	if err != nil {
		return timeline.Placement{}, err
	}
	alloc, err := e.allocator(ctx, s)
	if err != nil {
		return timeline.Placement{}, err
	}
	p, err := alloc.PlaceTask(taskID, t.Estimation, t.DurationDays, personID, day)
	if err != nil {
		return timeline.Placement{}, err
	}
	return p, e.persistPlacement(ctx, s, t, p, actorID)
}

// MoveTask validates and persists a move between cells under the same rules
// as PlaceTask.
func (e Engine) MoveTask(ctx context.Context, taskID string, to timeline.Cell, actorID string) (timeline.Placement, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return timeline.Placement{}, err
	}
	s, err := e.Repo.GetSprint(ctx, t.SprintID)
	if err != nil {
		return timeline.Placement{}, err
	}
	from := timeline.Cell{}
	if t.PersonID != nil {
		from.PersonID = *t.PersonID
	}
	if t.Day != nil {
		from.Day = *t.Day
	}
	alloc, err := e.allocator(ctx, s)
	if err != nil {
		return timeline.Placement{}, err
	}
	p, err := alloc.MoveTask(taskID, t.Estimation, t.DurationDays, from, to)
	if err != nil {
		return timeline.Placement{}, err
	}
	return p, e.persistPlacement(ctx, s, t, p, actorID)
}

func (e Engine) persistPlacement(ctx context.Context, s domain.Sprint, t domain.Task, p timeline.Placement, actorID string) error {
	t.PersonID = &p.Cell.PersonID
	day := p.Cell.Day
	t.Day = &day
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return err
	}
	payload := events.EventPayload{"person": p.Cell.PersonID, "day": p.Cell.Day}
	if p.Overage > 0 {
		payload["overage"] = p.Overage
	}
	if len(p.Warnings) > 0 {
		payload["warnings"] = p.Warnings
	}
	if err := e.Events.Append(ctx, tx, "task.placed", s.SquadID, "task", t.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// CapacityGrid is the per-sprint (person x day) availability overview.
type CapacityGrid struct {
	SprintID string                        `json:"sprint_id"`
	Days     int                           `json:"days"`
	Persons  map[string]map[string]float64 `json:"persons"` // person -> date -> hours
	Totals   map[string]float64            `json:"totals"`  // person -> hours
}

func (e Engine) CapacityOverview(ctx context.Context, sprintID string) (CapacityGrid, error) {
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return CapacityGrid{}, err
	}
	window, err := sprintWindow(s)
	if err != nil {
		return CapacityGrid{}, err
	}
	calc, err := e.Calculator(ctx)
	if err != nil {
		return CapacityGrid{}, err
	}
	persons, err := e.Repo.ListPersons(ctx)
	if err != nil {
		return CapacityGrid{}, err
	}
	grid := CapacityGrid{
		SprintID: sprintID,
		Days:     s.Days,
		Persons:  map[string]map[string]float64{},
		Totals:   map[string]float64{},
	}
	for _, p := range persons {
		days, err := calc.Available(p.ID, window)
		if err != nil {
			return CapacityGrid{}, err
		}
		grid.Persons[p.ID] = days
		for _, h := range days {
			grid.Totals[p.ID] += h
		}
	}
	return grid, nil
}

// --- helpers ---

func squadID(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Squad.ID
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

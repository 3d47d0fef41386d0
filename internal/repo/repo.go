package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tablero/internal/config"
	"tablero/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- squads ---

func (r Repo) EnsureSquad(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO squads(id,name,created_at,updated_at) VALUES (?,?,?,?)
		ON CONFLICT(id) DO NOTHING`, id, name, now, now)
	return err
}

func (r Repo) UpsertSquadConfig(ctx context.Context, squadID string, cfg *config.Config) error {
	return upsertSquadConfig(ctx, r.DB, nil, squadID, cfg)
}

func (r Repo) UpsertSquadConfigTx(ctx context.Context, tx *sql.Tx, squadID string, cfg *config.Config) error {
	return upsertSquadConfig(ctx, nil, tx, squadID, cfg)
}

func upsertSquadConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, squadID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Squad.ID = squadID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO squads(id,name,config_json,created_at,updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`,
		squadID, cfg.Squad.Name, string(payload), now, now)
	return err
}

func (r Repo) GetSquadConfig(ctx context.Context, squadID string) (*config.Config, error) {
	var payload sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM squads WHERE id=?`, squadID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !payload.Valid || payload.String == "" {
		return nil, ErrNotFound
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload.String), &cfg); err != nil {
		return nil, fmt.Errorf("squad config corrupt: %w", err)
	}
	return &cfg, nil
}

// --- sprints ---

const sprintCols = `id,squad_id,name,state,start_date,days,capacity,created_at`

func scanSprint(row *sql.Row) (domain.Sprint, error) {
	var s domain.Sprint
	err := row.Scan(&s.ID, &s.SquadID, &s.Name, &s.State, &s.StartDate, &s.Days, &s.Capacity, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sprints(`+sprintCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.SquadID, s.Name, s.State, s.StartDate, s.Days, s.Capacity, s.CreatedAt)
	return err
}

func (r Repo) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
	return scanSprint(r.DB.QueryRowContext(ctx, `SELECT `+sprintCols+` FROM sprints WHERE id=?`, id))
}

func (r Repo) ListSprints(ctx context.Context, squadID string) ([]domain.Sprint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sprintCols+` FROM sprints WHERE squad_id=? ORDER BY created_at DESC`, squadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Sprint
	for rows.Next() {
		var s domain.Sprint
		if err := rows.Scan(&s.ID, &s.SquadID, &s.Name, &s.State, &s.StartDate, &s.Days, &s.Capacity, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) UpdateSprintState(ctx context.Context, tx *sql.Tx, id, state string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sprints SET state=? WHERE id=?`, state, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateSprintCapacity(ctx context.Context, tx *sql.Tx, id string, capacity float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE sprints SET capacity=? WHERE id=?`, capacity, id)
	return err
}

func (r Repo) DeleteSprint(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM sprints WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- tasks ---

const taskCols = `id,sprint_id,title,type,category,estimation,priority,status,person_id,day,duration_days,issue_key,parent_issue_key,held_status,created_at,updated_at,completed_at`

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var personID, issueKey, parentKey, held, completed sql.NullString
	var day sql.NullInt64
	err := scan(&t.ID, &t.SprintID, &t.Title, &t.Type, &t.Category, &t.Estimation, &t.Priority, &t.Status,
		&personID, &day, &t.DurationDays, &issueKey, &parentKey, &held, &t.CreatedAt, &t.UpdatedAt, &completed)
	if err != nil {
		return t, err
	}
	if personID.Valid {
		t.PersonID = &personID.String
	}
	if day.Valid {
		d := int(day.Int64)
		t.Day = &d
	}
	if issueKey.Valid {
		t.IssueKey = &issueKey.String
	}
	if parentKey.Valid {
		t.ParentIssueKey = &parentKey.String
	}
	if held.Valid {
		t.HeldStatus = &held.String
	}
	if completed.Valid {
		t.CompletedAt = &completed.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.SprintID, t.Title, t.Type, t.Category, t.Estimation, t.Priority, t.Status,
		nullableP(t.PersonID), nullableIntP(t.Day), t.DurationDays, nullableP(t.IssueKey),
		nullableP(t.ParentIssueKey), nullableP(t.HeldStatus), t.CreatedAt, t.UpdatedAt, nullableP(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, sprintID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE sprint_id=? ORDER BY created_at`, sprintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,type=?,category=?,estimation=?,priority=?,status=?,
		person_id=?,day=?,duration_days=?,held_status=?,updated_at=?,completed_at=? WHERE id=?`,
		t.Title, t.Type, t.Category, t.Estimation, t.Priority, t.Status,
		nullableP(t.PersonID), nullableIntP(t.Day), t.DurationDays, nullableP(t.HeldStatus),
		t.UpdatedAt, nullableP(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, sprintID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE sprint_id=? GROUP BY status`, sprintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// --- dependencies ---

func (r Repo) InsertDependency(ctx context.Context, tx *sql.Tx, d domain.Dependency) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dependencies(id,sprint_id,origin_id,destination_id,kind,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.SprintID, d.OriginID, d.DestID, d.Kind, d.CreatedAt)
	return err
}

func (r Repo) DeleteDependency(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListDependencies(ctx context.Context, sprintID string) ([]domain.Dependency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,sprint_id,origin_id,destination_id,kind,created_at FROM dependencies WHERE sprint_id=? ORDER BY created_at`, sprintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.ID, &d.SprintID, &d.OriginID, &d.DestID, &d.Kind, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- templates ---

func (r Repo) UpsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO templates(id,name,issue_type,active,activated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, issue_type=excluded.issue_type,
		active=excluded.active, activated_at=excluded.activated_at`,
		t.ID, t.Name, t.IssueType, boolInt(t.Active), nullable(t.ActivatedAt))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM template_lines WHERE template_id=?`, t.ID); err != nil {
		return err
	}
	for _, l := range t.Lines {
		if _, err := tx.ExecContext(ctx, `INSERT INTO template_lines(template_id,role,percentage,line_order,depends_on_order) VALUES (?,?,?,?,?)`,
			t.ID, l.Role, l.Percentage, l.Order, nullableIntP(l.DependsOnOrder)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	var t domain.Template
	var activatedAt sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,issue_type,active,activated_at FROM templates WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.IssueType, &active, &activatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Active = active != 0
	if activatedAt.Valid {
		t.ActivatedAt = activatedAt.String
	}
	t.Lines, err = r.listTemplateLines(ctx, t.ID)
	return t, err
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,issue_type,active,activated_at FROM templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		var activatedAt sql.NullString
		var active int
		if err := rows.Scan(&t.ID, &t.Name, &t.IssueType, &active, &activatedAt); err != nil {
			return nil, err
		}
		t.Active = active != 0
		if activatedAt.Valid {
			t.ActivatedAt = activatedAt.String
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		lines, err := r.listTemplateLines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (r Repo) listTemplateLines(ctx context.Context, templateID string) ([]domain.TemplateLine, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role,percentage,line_order,depends_on_order FROM template_lines WHERE template_id=? ORDER BY line_order`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TemplateLine
	for rows.Next() {
		var l domain.TemplateLine
		var dep sql.NullInt64
		if err := rows.Scan(&l.Role, &l.Percentage, &l.Order, &dep); err != nil {
			return nil, err
		}
		if dep.Valid {
			d := int(dep.Int64)
			l.DependsOnOrder = &d
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- persons and leaves ---

func (r Repo) UpsertPerson(ctx context.Context, p domain.Person) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO persons(id,name,location) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, location=excluded.location`,
		p.ID, p.Name, nullable(p.Location))
	return err
}

func (r Repo) ListPersons(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(location,'') FROM persons ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Location); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r Repo) InsertLeave(ctx context.Context, l domain.Leave) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO leaves(id,person_id,kind,start_date,end_date,reason) VALUES (?,?,?,?,?,?)`,
		l.ID, l.PersonID, l.Kind, l.Start, nullableP(l.End), nullable(l.Reason))
	return err
}

func (r Repo) ListLeaves(ctx context.Context) ([]domain.Leave, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,person_id,kind,start_date,end_date,COALESCE(reason,'') FROM leaves ORDER BY start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Leave
	for rows.Next() {
		var l domain.Leave
		var end sql.NullString
		if err := rows.Scan(&l.ID, &l.PersonID, &l.Kind, &l.Start, &end, &l.Reason); err != nil {
			return nil, err
		}
		if end.Valid {
			l.End = &end.String
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- impediments ---

func (r Repo) InsertImpediment(ctx context.Context, tx *sql.Tx, imp domain.Impediment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO impediments(id,task_id,description,open,created_at) VALUES (?,?,?,?,?)`,
		imp.ID, imp.TaskID, imp.Description, boolInt(imp.Open), imp.CreatedAt)
	return err
}

func (r Repo) ResolveImpediment(ctx context.Context, tx *sql.Tx, id, resolvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE impediments SET open=0, resolved_at=? WHERE id=? AND open=1`, resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListOpenImpediments(ctx context.Context, taskID string) ([]domain.Impediment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,description,open,created_at,resolved_at FROM impediments WHERE task_id=? AND open=1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Impediment
	for rows.Next() {
		var imp domain.Impediment
		var open int
		var resolved sql.NullString
		if err := rows.Scan(&imp.ID, &imp.TaskID, &imp.Description, &open, &imp.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		imp.Open = open != 0
		if resolved.Valid {
			imp.ResolvedAt = &resolved.String
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(squad_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SquadID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableP(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntP(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

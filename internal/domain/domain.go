package domain

// Task type values.
const (
	TypeHistoria = "HISTORIA"
	TypeTarea    = "TAREA"
	TypeBug      = "BUG"
	TypeSpike    = "SPIKE"
)

// Task category values.
const (
	CategoriaCorrectivo = "CORRECTIVO"
	CategoriaEvolutivo  = "EVOLUTIVO"
)

// Task priority values.
const (
	PrioridadBaja       = "BAJA"
	PrioridadNormal     = "NORMAL"
	PrioridadAlta       = "ALTA"
	PrioridadBloqueante = "BLOQUEANTE"
)

// Task status values.
const (
	EstadoPendiente  = "PENDIENTE"
	EstadoEnProgreso = "EN_PROGRESO"
	EstadoBloqueado  = "BLOQUEADO"
	EstadoCompletada = "COMPLETADA"
)

// Sprint state values.
const (
	SprintPlanificacion = "PLANIFICACION"
	SprintActivo        = "ACTIVO"
	SprintCerrado       = "CERRADO"
)

// Dependency kind values.
const (
	DependenciaEstricta = "ESTRICTA"
	DependenciaSuave    = "SUAVE"
)

// Leave kind values.
const (
	LeaveVacaciones = "VACACIONES"
	LeaveAusencia   = "AUSENCIA"
)

type Sprint struct {
	ID        string  `json:"id"`
	SquadID   string  `json:"squad_id"`
	Name      string  `json:"name"`
	State     string  `json:"state" enum:"PLANIFICACION,ACTIVO,CERRADO"`
	StartDate string  `json:"start_date" format:"date"`
	Days      int     `json:"days"`
	Capacity  float64 `json:"capacity"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID             string  `json:"id"`
	SprintID       string  `json:"sprint_id"`
	Title          string  `json:"title"`
	Type           string  `json:"type" enum:"HISTORIA,TAREA,BUG,SPIKE"`
	Category       string  `json:"category" enum:"CORRECTIVO,EVOLUTIVO"`
	Estimation     float64 `json:"estimation"`
	Priority       string  `json:"priority" enum:"BAJA,NORMAL,ALTA,BLOQUEANTE"`
	Status         string  `json:"status" enum:"PENDIENTE,EN_PROGRESO,BLOQUEADO,COMPLETADA"`
	PersonID       *string `json:"person_id,omitempty"`
	Day            *int    `json:"day,omitempty"`
	DurationDays   int     `json:"duration_days"`
	IssueKey       *string `json:"issue_key,omitempty"`
	ParentIssueKey *string `json:"parent_issue_key,omitempty"`
	HeldStatus     *string `json:"held_status,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
}

type Dependency struct {
	ID        string `json:"id"`
	SprintID  string `json:"sprint_id"`
	OriginID  string `json:"origin_id"`
	DestID    string `json:"destination_id"`
	Kind      string `json:"kind" enum:"ESTRICTA,SUAVE"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	IssueType   string         `json:"issue_type"`
	Active      bool           `json:"active"`
	ActivatedAt string         `json:"activated_at,omitempty" format:"date-time"`
	Lines       []TemplateLine `json:"lines"`
}

type TemplateLine struct {
	Role           string `json:"role"`
	Percentage     int    `json:"percentage" minimum:"1" maximum:"100"`
	Order          int    `json:"order" minimum:"1"`
	DependsOnOrder *int   `json:"depends_on_order,omitempty"`
}

type Person struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// Leave is a vacation or absence window, dates inclusive. An absence with no
// end date is open-ended and covers every day from Start onward.
type Leave struct {
	ID       string  `json:"id"`
	PersonID string  `json:"person_id"`
	Kind     string  `json:"kind" enum:"VACACIONES,AUSENCIA"`
	Start    string  `json:"start" format:"date"`
	End      *string `json:"end,omitempty" format:"date"`
	Reason   string  `json:"reason,omitempty"`
}

// Impediment is an open "Bloqueo" linked to a task. While open it is a
// blocking condition for the task's state machine.
type Impediment struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	Description string  `json:"description"`
	Open        bool    `json:"open"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ResolvedAt  *string `json:"resolved_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SquadID    string `json:"squad_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Package server exposes the tablero engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"tablero/internal/capacity"
	"tablero/internal/engine"
	"tablero/internal/flow"
	"tablero/internal/graph"
	"tablero/internal/planner"
	"tablero/internal/repo"
	"tablero/internal/template"
	"tablero/internal/timeline"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cyclic_dependency"`
	Message string         `json:"message" example:"dependency would close a cycle"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type actorKey struct{}

// New returns an HTTP handler exposing the tablero API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get("X-Actor-Id")
			if actor == "" {
				actor = "anonymous"
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	})
	hcfg := huma.DefaultConfig("Tablero API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerSprints(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerDependencies(group, cfg.Engine)
	registerTemplates(group, cfg.Engine)
	registerPlanify(group, cfg.Engine)
	registerTimeline(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func actorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "anonymous"
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var rangeErr capacity.InvalidRangeError
	if errors.As(err, &rangeErr) {
		return newAPIError(http.StatusBadRequest, "invalid_range", err.Error(), nil)
	}
	var tplErr template.InvalidTemplateError
	if errors.As(err, &tplErr) {
		return newAPIError(http.StatusBadRequest, "invalid_template", err.Error(), map[string]any{"problems": tplErr.Problems})
	}
	var planErr planner.InvalidPlanificationError
	if errors.As(err, &planErr) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_planification", err.Error(), map[string]any{"rows": planErr.Rows})
	}
	var cycErr graph.CyclicDependencyError
	if errors.As(err, &cycErr) {
		return newAPIError(http.StatusConflict, "cyclic_dependency", err.Error(), map[string]any{"path": cycErr.Path})
	}
	var selfErr graph.SelfDependencyError
	if errors.As(err, &selfErr) {
		return newAPIError(http.StatusBadRequest, "self_dependency", err.Error(), nil)
	}
	var stillErr flow.StillBlockedError
	if errors.As(err, &stillErr) {
		return newAPIError(http.StatusConflict, "still_blocked", err.Error(), map[string]any{"conditions": stillErr.Conditions})
	}
	var transErr flow.InvalidTransitionError
	if errors.As(err, &transErr) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	var sprintErr engine.InvalidSprintTransitionError
	if errors.As(err, &sprintErr) {
		return newAPIError(http.StatusConflict, "invalid_sprint_transition", err.Error(), nil)
	}
	var oorErr timeline.OutOfRangeError
	if errors.As(err, &oorErr) {
		return newAPIError(http.StatusBadRequest, "out_of_range", err.Error(), nil)
	}
	var schedErr timeline.SchedulingBlockedError
	if errors.As(err, &schedErr) {
		return newAPIError(http.StatusUnprocessableEntity, "scheduling_blocked", err.Error(), map[string]any{"pending": schedErr.Pending})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must be") ||
		strings.Contains(lowered, "outside"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "only") || strings.Contains(lowered, "cerrado"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Tablero API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sprint-status",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/status",
		Summary:     "Sprint status summary",
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		s, err := e.Repo.GetSprint(ctx, input.SprintID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, s.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"sprint_id":   s.ID,
			"state":       s.State,
			"capacity":    s.Capacity,
			"task_counts": counts,
		}}, nil
	})
}

func registerSprints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-sprint",
		Method:        http.MethodPost,
		Path:          "/sprints",
		Summary:       "Create sprint",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateSprintRequest `json:"body"`
	}) (*struct {
		Body SprintResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		s, err := e.CreateSprint(ctx, engine.SprintCreateOptions{
			Name:      input.Body.Name,
			StartDate: input.Body.StartDate,
			Days:      input.Body.Days,
			ActorID:   actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SprintResponse `json:"body"`
		}{Body: sprintResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sprints",
		Method:      http.MethodGet,
		Path:        "/sprints",
		Summary:     "List sprints",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SprintResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSprints(ctx, e.Config.Squad.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SprintResponse `json:"body"`
		}{Body: mapSprints(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sprint",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}",
		Summary:     "Get sprint",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct {
		Body SprintResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSprint(ctx, input.SprintID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SprintResponse `json:"body"`
		}{Body: sprintResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-sprint-state",
		Method:      http.MethodPatch,
		Path:        "/sprints/{sprint_id}/state",
		Summary:     "Change sprint lifecycle state",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
		Body     struct {
			State string `json:"state"`
		} `json:"body"`
	}) (*struct {
		Body SprintResponse `json:"body"`
	}, error) {
		if input.Body.State == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "state is required", nil)
		}
		s, err := e.SetSprintState(ctx, input.SprintID, input.Body.State, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SprintResponse `json:"body"`
		}{Body: sprintResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-sprint",
		Method:      http.MethodDelete,
		Path:        "/sprints/{sprint_id}",
		Summary:     "Delete sprint",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct{}, error) {
		if err := e.DeleteSprint(ctx, input.SprintID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-sprint-capacity",
		Method:      http.MethodPost,
		Path:        "/sprints/{sprint_id}/capacity/refresh",
		Summary:     "Recompute sprint capacity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct {
		Body SprintResponse `json:"body"`
	}, error) {
		s, err := e.RefreshSprintCapacity(ctx, input.SprintID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SprintResponse `json:"body"`
		}{Body: sprintResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sprint-capacity",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/capacity",
		Summary:     "Per person per day capacity grid",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct {
		Body engine.CapacityGrid `json:"body"`
	}, error) {
		grid, err := e.CapacityOverview(ctx, input.SprintID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CapacityGrid `json:"body"`
		}{Body: grid}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/sprints/{sprint_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SprintID string            `path:"sprint_id"`
		Body     CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			SprintID:     input.SprintID,
			Title:        input.Body.Title,
			Type:         input.Body.Type,
			Category:     input.Body.Category,
			Estimation:   input.Body.Estimation,
			Priority:     input.Body.Priority,
			PersonID:     input.Body.PersonID,
			Day:          input.Body.Day,
			DurationDays: input.Body.DurationDays,
			IssueKey:     input.Body.IssueKey,
			ParentKey:    input.Body.ParentKey,
			ActorID:      actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/tasks",
		Summary:     "List sprint tasks",
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, input.SprintID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Change task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Status string `json:"status"`
		} `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		t, err := e.SetTaskStatus(ctx, input.ID, input.Body.Status, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-impediment",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/impediments",
		Summary:       "Open an impediment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Description string `json:"description"`
		} `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if input.Body.Description == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "description is required", nil)
		}
		imp, err := e.AddImpediment(ctx, input.ID, input.Body.Description, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"id": imp.ID, "task_id": imp.TaskID, "description": imp.Description, "open": imp.Open,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-impediment",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/impediments/{impediment_id}/resolve",
		Summary:     "Resolve an impediment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID           string `path:"id"`
		ImpedimentID string `path:"impediment_id"`
	}) (*struct{}, error) {
		if err := e.ResolveImpediment(ctx, input.ImpedimentID, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/dependencies",
		Summary:       "Add a dependency between tasks",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body DependencyRequest `json:"body"`
	}) (*struct {
		Body DependencyResponse `json:"body"`
	}, error) {
		if input.Body.OriginID == "" || input.Body.DestID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "origin_id and destination_id are required", nil)
		}
		d, err := e.AddDependency(ctx, input.Body.OriginID, input.Body.DestID, input.Body.Kind, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DependencyResponse `json:"body"`
		}{Body: dependencyResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/dependencies",
		Summary:     "List sprint dependencies",
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct {
		Body []DependencyResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDependencies(ctx, input.SprintID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]DependencyResponse, 0, len(items))
		for _, d := range items {
			out = append(out, dependencyResponse(d))
		}
		return &struct {
			Body []DependencyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-dependency",
		Method:      http.MethodDelete,
		Path:        "/dependencies/{id}",
		Summary:     "Remove a dependency",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.RemoveDependency(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "save-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create or update an allocation template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SaveTemplateRequest `json:"body"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" || input.Body.IssueType == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name and issue_type are required", nil)
		}
		t, err := e.SaveTemplate(ctx, templateFromRequest(input.Body), actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TemplateResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TemplateResponse, 0, len(items))
		for _, t := range items {
			out = append(out, templateResponse(t))
		}
		return &struct {
			Body []TemplateResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-template",
		Method:      http.MethodPatch,
		Path:        "/templates/{id}/active",
		Summary:     "Activate or deactivate a template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Active bool `json:"active"`
		} `json:"body"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		t, err := e.SetTemplateActive(ctx, input.ID, input.Body.Active, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-template",
		Method:      http.MethodGet,
		Path:        "/templates/apply",
		Summary:     "Preview a template split for an estimation",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueType string  `query:"issue_type"`
		Hours     float64 `query:"hours"`
	}) (*struct {
		Body []template.Allocation `json:"body"`
	}, error) {
		if input.IssueType == "" || input.Hours <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "issue_type and positive hours are required", nil)
		}
		allocs, err := e.ApplyTemplate(ctx, input.IssueType, input.Hours)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []template.Allocation `json:"body"`
		}{Body: allocs}, nil
	})
}

func registerPlanify(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "planify",
		Method:        http.MethodPost,
		Path:          "/sprints/{sprint_id}/planify",
		Summary:       "Turn an issue and its subtasks into sprint tasks",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		SprintID string         `path:"sprint_id"`
		Body     PlanifyRequest `json:"body"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if input.Body.Root.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "root.key is required", nil)
		}
		subs := make([]planner.Issue, 0, len(input.Body.Subtasks))
		for _, s := range input.Body.Subtasks {
			subs = append(subs, plannerIssue(s))
		}
		created, err := e.Planify(ctx, input.SprintID, plannerIssue(input.Body.Root), subs,
			plannerOverrides(input.Body.Overrides), engine.PlanifyOptions{
				UseTemplate:    input.Body.UseTemplate,
				SuggestPersons: input.Body.SuggestPersons,
			}, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(created)}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "place-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/place",
		Summary:     "Place a task on the timeline",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			PersonID string `json:"person_id"`
			Day      int    `json:"day"`
		} `json:"body"`
	}) (*struct {
		Body timeline.Placement `json:"body"`
	}, error) {
		if input.Body.PersonID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "person_id is required", nil)
		}
		p, err := e.PlaceTask(ctx, input.ID, input.Body.PersonID, input.Body.Day, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body timeline.Placement `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/move",
		Summary:     "Move a placed task to another cell",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			PersonID string `json:"person_id"`
			Day      int    `json:"day"`
		} `json:"body"`
	}) (*struct {
		Body timeline.Placement `json:"body"`
	}, error) {
		if input.Body.PersonID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "person_id is required", nil)
		}
		p, err := e.MoveTask(ctx, input.ID, timeline.Cell{PersonID: input.Body.PersonID, Day: input.Body.Day}, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body timeline.Placement `json:"body"`
		}{Body: p}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event log",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

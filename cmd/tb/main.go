package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tablero/internal/app"
	"tablero/internal/config"
	"tablero/internal/db"
	"tablero/internal/domain"
	"tablero/internal/engine"
	"tablero/internal/issuetracker"
	"tablero/internal/migrate"
	"tablero/internal/planner"
	"tablero/internal/repo"
	"tablero/internal/server"
	"tablero/internal/timeline"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Tablero CLI",
	Long: `Tablero plans sprints for a squad: capacity, tasks, dependencies and a
(person x day) timeline.

- Workspace: the .tablero directory holds the database; squad config lives in
  tablero.yml next to it.
- Sprint: a window of N days in PLANIFICACION, ACTIVO or CERRADO state.
- Tasks: HISTORIA/TAREA/BUG/SPIKE items flowing PENDIENTE -> EN_PROGRESO ->
  COMPLETADA, with BLOQUEADO as a parking state tied to impediments.
- Dependencies: ESTRICTA edges gate scheduling, SUAVE edges only warn.
- Templates: percentage splits that turn an issue estimate into role
  allocations.
- Planify: import an issue and its subtasks as a batch of sprint tasks.
- Event log: every change is recorded, view with 'tb log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TABLERO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("squad", "", "squad id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("squad", rootCmd.PersistentFlags().Lookup("squad"))
}

func registerCommands() {
	rootCmd.AddCommand(squadCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(planifyCmd())
	rootCmd.AddCommand(personCmd())
	rootCmd.AddCommand(leaveCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- squad ---

func squadCmd() *cobra.Command {
	squad := &cobra.Command{Use: "squad", Short: "Manage squad config"}
	squad.AddCommand(squadConfigShowCmd())
	squad.AddCommand(squadConfigInitCmd())
	squad.AddCommand(squadConfigImportCmd())
	return squad
}

func squadConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active squad config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func squadConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default tablero.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "squad id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func squadConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import squad config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertSquadConfig(ctx, cfg.Squad.ID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// --- sprint ---

func sprintCmd() *cobra.Command {
	sprint := &cobra.Command{
		Use:   "sprint",
		Short: "Manage sprints",
		Long:  "Sprints move PLANIFICACION -> ACTIVO -> CERRADO. A closed sprint can be reopened to ACTIVO, and an active one sent back to PLANIFICACION.",
	}
	sprint.AddCommand(sprintCreateCmd())
	sprint.AddCommand(sprintListCmd())
	sprint.AddCommand(sprintShowCmd())
	sprint.AddCommand(sprintStateCmd())
	sprint.AddCommand(sprintDeleteCmd())
	sprint.AddCommand(sprintCapacityCmd())
	return sprint
}

func sprintCreateCmd() *cobra.Command {
	var opts engine.SprintCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSprint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "sprint name")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "sprint length in days (default from config)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func sprintListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSprints(ctx, e.Config.Squad.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "State", "Start", "Days", "Capacity"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.State, s.StartDate, s.Days, s.Capacity})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sprintShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a sprint with its task counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSprint(ctx, args[0])
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, s.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"sprint":      s,
					"task_counts": counts,
				})
			})
		},
	}
	return cmd
}

func sprintStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <id> <state>",
		Short: "Change sprint state (PLANIFICACION, ACTIVO, CERRADO)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetSprintState(ctx, args[0], strings.ToUpper(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sprintDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a sprint (PLANIFICACION only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteSprint(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func sprintCapacityCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "capacity <id>",
		Short: "Show the per-person capacity grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if refresh {
					if _, err := e.RefreshSprintCapacity(ctx, args[0], viper.GetString("actor-id")); err != nil {
						return err
					}
				}
				grid, err := e.CapacityOverview(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(grid)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Person", "Total hours"})
				persons := make([]string, 0, len(grid.Totals))
				for p := range grid.Totals {
					persons = append(persons, p)
				}
				sort.Strings(persons)
				for _, p := range persons {
					tw.AppendRow(table.Row{p, grid.Totals[p]})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "recompute the stored sprint capacity first")
	return cmd
}

// --- task ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow PENDIENTE -> EN_PROGRESO -> COMPLETADA. Blocking needs an open impediment or an incomplete ESTRICTA predecessor, and unblocking returns to the status held when blocked.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskPlaceCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskImpedimentCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SprintID, "sprint", "", "sprint id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Type, "type", domain.TypeTarea, "type (HISTORIA, TAREA, BUG, SPIKE)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category (CORRECTIVO, EVOLUTIVO; defaults by type)")
	cmd.Flags().Float64Var(&opts.Estimation, "hours", 0, "estimated hours")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (BAJA, NORMAL, ALTA, BLOQUEANTE)")
	cmd.Flags().StringVar(&opts.PersonID, "person", "", "assigned person id")
	cmd.Flags().IntVar(&opts.Day, "day", 0, "sprint day (1-based)")
	cmd.Flags().IntVar(&opts.DurationDays, "duration", 1, "continuous task span in days")
	cmd.Flags().StringVar(&opts.IssueKey, "issue", "", "tracker issue key")
	cmd.Flags().StringVar(&opts.ParentKey, "parent-issue", "", "tracker parent issue key")
	_ = cmd.MarkFlagRequired("sprint")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func taskListCmd() *cobra.Command {
	var sprintID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sprint tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, sprintID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Hours", "Person", "Day"})
				for _, t := range tasks {
					person := ""
					if t.PersonID != nil {
						person = *t.PersonID
					}
					day := ""
					if t.Day != nil {
						day = strconv.Itoa(*t.Day)
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Type, t.Status, t.Estimation, person, day})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sprintID, "sprint", "", "sprint id")
	_ = cmd.MarkFlagRequired("sprint")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTaskStatus(ctx, args[0], strings.ToUpper(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task (sprint must be in PLANIFICACION)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskPlaceCmd() *cobra.Command {
	var person string
	var day int
	cmd := &cobra.Command{
		Use:   "place <id>",
		Short: "Place a task on the timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.PlaceTask(ctx, args[0], person, day, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				for _, w := range p.Warnings {
					fmt.Println("warning:", w)
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "person id")
	cmd.Flags().IntVar(&day, "day", 0, "sprint day (1-based)")
	_ = cmd.MarkFlagRequired("person")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var person string
	var day int
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a placed task to another cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.MoveTask(ctx, args[0], timeline.Cell{PersonID: person, Day: day}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				for _, w := range p.Warnings {
					fmt.Println("warning:", w)
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "person id")
	cmd.Flags().IntVar(&day, "day", 0, "sprint day (1-based)")
	_ = cmd.MarkFlagRequired("person")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func taskImpedimentCmd() *cobra.Command {
	imp := &cobra.Command{Use: "impediment", Short: "Manage impediments"}

	var description string
	add := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Open an impediment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.AddImpediment(ctx, args[0], description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "what is blocking the task")
	_ = add.MarkFlagRequired("description")

	resolve := &cobra.Command{
		Use:   "resolve <task-id> <impediment-id>",
		Short: "Resolve an impediment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ResolveImpediment(ctx, args[1], args[0], viper.GetString("actor-id"))
			})
		},
	}

	list := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List open impediments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOpenImpediments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	imp.AddCommand(add, resolve, list)
	return imp
}

// --- dependencies ---

func depCmd() *cobra.Command {
	dep := &cobra.Command{
		Use:   "dep",
		Short: "Manage task dependencies",
		Long:  "ESTRICTA dependencies gate scheduling and cannot form cycles; SUAVE dependencies only produce warnings.",
	}

	var kind string
	add := &cobra.Command{
		Use:   "add <origin-id> <destination-id>",
		Short: "Add a dependency (origin must complete before destination)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.AddDependency(ctx, args[0], args[1], strings.ToUpper(kind), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", domain.DependenciaEstricta, "ESTRICTA or SUAVE")

	var sprintID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List sprint dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDependencies(ctx, sprintID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&sprintID, "sprint", "", "sprint id")
	_ = list.MarkFlagRequired("sprint")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveDependency(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}

	dep.AddCommand(add, list, remove)
	return dep
}

// --- templates ---

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage allocation templates",
		Long:  "Templates split an issue estimate into role percentages. Lines are ROLE:PERCENT:ORDER or ROLE:PERCENT:ORDER:DEPENDS_ON_ORDER; percentages must sum to 100.",
	}
	tpl.AddCommand(templateSaveCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateActivateCmd())
	tpl.AddCommand(templateApplyCmd())
	return tpl
}

func parseTemplateLine(raw string) (domain.TemplateLine, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return domain.TemplateLine{}, fmt.Errorf("line %q: want ROLE:PERCENT:ORDER[:DEPENDS_ON_ORDER]", raw)
	}
	pct, err := strconv.Atoi(parts[1])
	if err != nil {
		return domain.TemplateLine{}, fmt.Errorf("line %q: bad percent: %w", raw, err)
	}
	order, err := strconv.Atoi(parts[2])
	if err != nil {
		return domain.TemplateLine{}, fmt.Errorf("line %q: bad order: %w", raw, err)
	}
	line := domain.TemplateLine{Role: parts[0], Percentage: pct, Order: order}
	if len(parts) == 4 {
		dep, err := strconv.Atoi(parts[3])
		if err != nil {
			return domain.TemplateLine{}, fmt.Errorf("line %q: bad depends_on_order: %w", raw, err)
		}
		line.DependsOnOrder = &dep
	}
	return line, nil
}

func templateSaveCmd() *cobra.Command {
	var id, name, issueType string
	var active bool
	var rawLines []string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := domain.Template{ID: id, Name: name, IssueType: strings.ToUpper(issueType), Active: active}
			for _, raw := range rawLines {
				line, err := parseTemplateLine(raw)
				if err != nil {
					return err
				}
				t.Lines = append(t.Lines, line)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				saved, err := e.SaveTemplate(ctx, t, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "template id (new UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().StringVar(&issueType, "issue-type", "", "issue type it applies to (HISTORIA, TAREA, BUG, SPIKE)")
	cmd.Flags().BoolVar(&active, "active", false, "activate on save")
	cmd.Flags().StringArrayVar(&rawLines, "line", []string{}, "template line ROLE:PERCENT:ORDER[:DEPENDS_ON_ORDER] (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("issue-type")
	_ = cmd.MarkFlagRequired("line")
	return cmd
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Issue type", "Active", "Lines"})
				for _, t := range items {
					parts := make([]string, 0, len(t.Lines))
					for _, l := range t.Lines {
						parts = append(parts, fmt.Sprintf("%s %d%%", l.Role, l.Percentage))
					}
					tw.AppendRow(table.Row{t.ID, t.Name, t.IssueType, t.Active, strings.Join(parts, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func templateActivateCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Activate or deactivate a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTemplateActive(ctx, args[0], active, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "set active state")
	return cmd
}

func templateApplyCmd() *cobra.Command {
	var issueType string
	var hours float64
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Preview a template split for an estimation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				allocs, err := e.ApplyTemplate(ctx, strings.ToUpper(issueType), hours)
				if err != nil {
					return err
				}
				return printJSONOrTable(allocs)
			})
		},
	}
	cmd.Flags().StringVar(&issueType, "issue-type", "", "issue type")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	_ = cmd.MarkFlagRequired("issue-type")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

// --- planify ---

func planifyCmd() *cobra.Command {
	var sprintID, issueKey, filePath string
	var useTemplate, suggestPersons bool
	cmd := &cobra.Command{
		Use:   "planify",
		Short: "Import an issue and its subtasks as sprint tasks",
		Long: `Planify reads an issue either from the tracker (--issue, with
TABLERO_TRACKER_URL, TABLERO_TRACKER_TOKEN and optionally
TABLERO_TRACKER_USER set) or from a JSON file (--file with {"root":...,
"subtasks":[...]}) and creates one task per included row. The batch is
all-or-nothing: a single invalid row rejects the whole planification.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var root planner.Issue
			var subs []planner.Issue
			switch {
			case issueKey != "":
				tracker := issuetracker.NewClient(issuetracker.Config{
					BaseURL:  viper.GetString("tracker-url"),
					Username: viper.GetString("tracker-user"),
					Token:    viper.GetString("tracker-token"),
					Cloud:    viper.GetBool("tracker-cloud"),
				})
				if viper.GetString("tracker-url") == "" {
					return fmt.Errorf("TABLERO_TRACKER_URL is required with --issue")
				}
				var err error
				root, subs, err = tracker.FetchIssue(cmd.Context(), issueKey)
				if err != nil {
					return err
				}
			case filePath != "":
				data, err := os.ReadFile(filePath)
				if err != nil {
					return err
				}
				var payload struct {
					Root     planner.Issue   `json:"root"`
					Subtasks []planner.Issue `json:"subtasks"`
				}
				if err := json.Unmarshal(data, &payload); err != nil {
					return fmt.Errorf("parse %s: %w", filePath, err)
				}
				root, subs = payload.Root, payload.Subtasks
			default:
				return fmt.Errorf("either --issue or --file is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.Planify(ctx, sprintID, root, subs, nil, engine.PlanifyOptions{
					UseTemplate:    useTemplate,
					SuggestPersons: suggestPersons,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&sprintID, "sprint", "", "sprint id")
	cmd.Flags().StringVar(&issueKey, "issue", "", "tracker issue key to import")
	cmd.Flags().StringVar(&filePath, "file", "", "JSON file with root and subtasks")
	cmd.Flags().BoolVar(&useTemplate, "use-template", false, "apply the active allocation template to the root row")
	cmd.Flags().BoolVar(&suggestPersons, "suggest-persons", false, "suggest a person per row by remaining capacity")
	_ = cmd.MarkFlagRequired("sprint")
	return cmd
}

// --- persons and leaves ---

func personCmd() *cobra.Command {
	person := &cobra.Command{Use: "person", Short: "Manage squad persons"}

	var id, name, location string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add or update a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p := domain.Person{ID: id, Name: name, Location: location}
				if err := r.UpsertPerson(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "person id (matches config profile key)")
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&location, "location", "", "holiday calendar location")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List persons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPersons(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	person.AddCommand(add, list)
	return person
}

func leaveCmd() *cobra.Command {
	leave := &cobra.Command{
		Use:   "leave",
		Short: "Manage vacations and absences",
		Long:  "VACACIONES need an end date; AUSENCIAS may be open-ended and win over vacations on overlapping days.",
	}

	var person, kind, start, end, reason string
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a leave",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := strings.ToUpper(kind)
			if k != domain.LeaveVacaciones && k != domain.LeaveAusencia {
				return fmt.Errorf("kind must be VACACIONES or AUSENCIA")
			}
			if k == domain.LeaveVacaciones && end == "" {
				return fmt.Errorf("--end is required for VACACIONES")
			}
			l := domain.Leave{
				ID:       uuid.New().String(),
				PersonID: person,
				Kind:     k,
				Start:    start,
				Reason:   reason,
			}
			if end != "" {
				l.End = &end
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertLeave(ctx, l); err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	add.Flags().StringVar(&person, "person", "", "person id")
	add.Flags().StringVar(&kind, "kind", "", "VACACIONES or AUSENCIA")
	add.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
	add.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD, optional for AUSENCIA)")
	add.Flags().StringVar(&reason, "reason", "", "free-form reason")
	_ = add.MarkFlagRequired("person")
	_ = add.MarkFlagRequired("kind")
	_ = add.MarkFlagRequired("start")

	list := &cobra.Command{
		Use:   "list",
		Short: "List leaves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListLeaves(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	leave.AddCommand(add, list)
	return leave
}

// --- log ---

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveSquadAndConfig(cmd.Context(), workspace, viper.GetString("squad"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Tablero API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveSquadAndConfig(ctx, workspace, viper.GetString("squad"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

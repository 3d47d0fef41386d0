package graph

import (
	"fmt"
	"sort"

	"tablero/internal/domain"
)

// StatusFunc reports the current status of a task. Unknown tasks should
// return an empty string.
type StatusFunc func(taskID string) string

// CyclicDependencyError reports an ESTRICTA edge that would close a cycle.
type CyclicDependencyError struct {
	OriginID string
	DestID   string
	Path     []string
}

func (e CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create an ESTRICTA cycle", e.OriginID, e.DestID)
}

// SelfDependencyError reports an edge from a task to itself.
type SelfDependencyError struct {
	TaskID string
}

func (e SelfDependencyError) Error() string {
	return fmt.Sprintf("task %s cannot depend on itself", e.TaskID)
}

// Graph tracks predecessor relationships between tasks over an in-memory
// snapshot. ESTRICTA edges gate scheduling and must stay acyclic; SUAVE edges
// are advisory only and never participate in cycle detection.
type Graph struct {
	status StatusFunc
	deps   map[string]domain.Dependency
}

func New(status StatusFunc) *Graph {
	return &Graph{
		status: status,
		deps:   map[string]domain.Dependency{},
	}
}

// Load seeds the graph with persisted dependencies, skipping cycle checks:
// stored edges were validated when added.
func (g *Graph) Load(deps []domain.Dependency) {
	for _, d := range deps {
		g.deps[d.ID] = d
	}
}

// AddDependency records that origin cannot start until destination completes
// (ESTRICTA) or should preferably come after it (SUAVE).
func (g *Graph) AddDependency(dep domain.Dependency) error {
	if dep.OriginID == dep.DestID {
		return SelfDependencyError{TaskID: dep.OriginID}
	}
	if dep.Kind == domain.DependenciaEstricta {
		if path := g.strictPath(dep.DestID, dep.OriginID); path != nil {
			return CyclicDependencyError{OriginID: dep.OriginID, DestID: dep.DestID, Path: path}
		}
	}
	g.deps[dep.ID] = dep
	return nil
}

// RemoveDependency deletes an edge by id. Removing an unknown id is a no-op.
func (g *Graph) RemoveDependency(id string) {
	delete(g.deps, id)
}

// Dependencies returns all edges ordered by id.
func (g *Graph) Dependencies() []domain.Dependency {
	out := make([]domain.Dependency, 0, len(g.deps))
	for _, d := range g.deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CanSchedule reports whether every ESTRICTA predecessor of the task is
// COMPLETADA. SUAVE predecessors never block; see Advisories.
func (g *Graph) CanSchedule(taskID string) bool {
	for _, d := range g.deps {
		if d.OriginID != taskID || d.Kind != domain.DependenciaEstricta {
			continue
		}
		if g.status(d.DestID) != domain.EstadoCompletada {
			return false
		}
	}
	return true
}

// BlockingPredecessors lists incomplete ESTRICTA predecessors of the task,
// sorted for stable error messages.
func (g *Graph) BlockingPredecessors(taskID string) []string {
	var out []string
	for _, d := range g.deps {
		if d.OriginID == taskID && d.Kind == domain.DependenciaEstricta &&
			g.status(d.DestID) != domain.EstadoCompletada {
			out = append(out, d.DestID)
		}
	}
	sort.Strings(out)
	return out
}

// Advisories lists incomplete SUAVE predecessors. Callers surface these as
// warnings; they never prevent scheduling.
func (g *Graph) Advisories(taskID string) []string {
	var out []string
	for _, d := range g.deps {
		if d.OriginID == taskID && d.Kind == domain.DependenciaSuave &&
			g.status(d.DestID) != domain.EstadoCompletada {
			out = append(out, d.DestID)
		}
	}
	sort.Strings(out)
	return out
}

// strictPath walks ESTRICTA edges from "from" looking for "to". It returns
// the path found, or nil.
func (g *Graph) strictPath(from, to string) []string {
	if from == to {
		return []string{from}
	}
	seen := map[string]bool{}
	var walk func(cur string, path []string) []string
	walk = func(cur string, path []string) []string {
		if seen[cur] {
			return nil
		}
		seen[cur] = true
		for _, d := range g.deps {
			if d.OriginID != cur || d.Kind != domain.DependenciaEstricta {
				continue
			}
			next := append(append([]string{}, path...), d.DestID)
			if d.DestID == to {
				return next
			}
			if p := walk(d.DestID, next); p != nil {
				return p
			}
		}
		return nil
	}
	return walk(from, []string{from})
}

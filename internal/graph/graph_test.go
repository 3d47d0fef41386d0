package graph_test

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"tablero/internal/domain"
	"tablero/internal/graph"
)

func statusMap(m map[string]string) graph.StatusFunc {
	return func(id string) string { return m[id] }
}

func dep(id, origin, dest, kind string) domain.Dependency {
	return domain.Dependency{ID: id, OriginID: origin, DestID: dest, Kind: kind}
}

func TestCanScheduleStrictPredecessor(t *testing.T) {
	statuses := map[string]string{"A": domain.EstadoPendiente, "B": domain.EstadoPendiente}
	g := graph.New(statusMap(statuses))
	if err := g.AddDependency(dep("d1", "A", "B", domain.DependenciaEstricta)); err != nil {
		t.Fatal(err)
	}
	if g.CanSchedule("A") {
		t.Fatal("A should not be schedulable while B is PENDIENTE")
	}
	if got := g.BlockingPredecessors("A"); len(got) != 1 || got[0] != "B" {
		t.Fatalf("blocking predecessors: %v", got)
	}
	statuses["B"] = domain.EstadoCompletada
	if !g.CanSchedule("A") {
		t.Fatal("A should be schedulable after B completes")
	}
}

func TestSoftDependencyNeverBlocks(t *testing.T) {
	statuses := map[string]string{"A": domain.EstadoPendiente, "B": domain.EstadoPendiente}
	g := graph.New(statusMap(statuses))
	if err := g.AddDependency(dep("d1", "A", "B", domain.DependenciaSuave)); err != nil {
		t.Fatal(err)
	}
	if !g.CanSchedule("A") {
		t.Fatal("SUAVE dependency must not block scheduling")
	}
	if got := g.Advisories("A"); len(got) != 1 || got[0] != "B" {
		t.Fatalf("expected advisory on B, got %v", got)
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	g := graph.New(statusMap(nil))
	err := g.AddDependency(dep("d1", "A", "A", domain.DependenciaEstricta))
	var sde graph.SelfDependencyError
	if !errors.As(err, &sde) {
		t.Fatalf("expected SelfDependencyError, got %v", err)
	}
}

func TestStrictCycleRejected(t *testing.T) {
	g := graph.New(statusMap(nil))
	if err := g.AddDependency(dep("d1", "A", "B", domain.DependenciaEstricta)); err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(dep("d2", "B", "C", domain.DependenciaEstricta)); err != nil {
		t.Fatal(err)
	}
	err := g.AddDependency(dep("d3", "C", "A", domain.DependenciaEstricta))
	var cde graph.CyclicDependencyError
	if !errors.As(err, &cde) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
}

func TestSoftEdgesExemptFromCycleCheck(t *testing.T) {
	g := graph.New(statusMap(nil))
	if err := g.AddDependency(dep("d1", "A", "B", domain.DependenciaEstricta)); err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(dep("d2", "B", "A", domain.DependenciaSuave)); err != nil {
		t.Fatalf("SUAVE back-edge should be allowed: %v", err)
	}
}

func TestRemoveDependencyUnblocks(t *testing.T) {
	statuses := map[string]string{"A": domain.EstadoPendiente, "B": domain.EstadoPendiente}
	g := graph.New(statusMap(statuses))
	if err := g.AddDependency(dep("d1", "A", "B", domain.DependenciaEstricta)); err != nil {
		t.Fatal(err)
	}
	g.RemoveDependency("d1")
	if !g.CanSchedule("A") {
		t.Fatal("A should be schedulable after dependency removal")
	}
}

func TestCanScheduleIdempotent(t *testing.T) {
	statuses := map[string]string{"A": domain.EstadoPendiente, "B": domain.EstadoPendiente}
	g := graph.New(statusMap(statuses))
	if err := g.AddDependency(dep("d1", "A", "B", domain.DependenciaEstricta)); err != nil {
		t.Fatal(err)
	}
	first := g.CanSchedule("A")
	for i := 0; i < 10; i++ {
		if g.CanSchedule("A") != first {
			t.Fatal("CanSchedule changed without graph mutation")
		}
	}
}

// Property: however edges are added, the accepted ESTRICTA subgraph stays
// acyclic. Rebuilt topological elimination must consume every node.
func TestProperty_StrictSubgraphAcyclic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(rt, "nodes")
		g := graph.New(statusMap(nil))
		edges := map[string][2]int{}
		for i := 0; i < rapid.IntRange(1, 20).Draw(rt, "edges"); i++ {
			o := rapid.IntRange(0, n-1).Draw(rt, "origin")
			d := rapid.IntRange(0, n-1).Draw(rt, "dest")
			if o == d {
				continue
			}
			id := fmt.Sprintf("d%d", i)
			err := g.AddDependency(dep(id, fmt.Sprintf("t%d", o), fmt.Sprintf("t%d", d), domain.DependenciaEstricta))
			if err == nil {
				edges[id] = [2]int{o, d}
			}
		}
		// Kahn-style elimination over accepted edges.
		out := map[int]int{}
		for _, e := range edges {
			out[e[0]]++
		}
		remaining := len(edges)
		for changed := true; changed; {
			changed = false
			for id, e := range edges {
				if out[e[1]] == 0 {
					out[e[0]]--
					delete(edges, id)
					remaining--
					changed = true
				}
			}
		}
		if remaining != 0 {
			t.Fatalf("accepted ESTRICTA edges contain a cycle (%d left)", remaining)
		}
	})
}

package project

import (
	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/types"
)

// topologicalSort orders container definitions so that every container
// appears after everything named in its DependsOn, using Kahn's algorithm.
// Ties break by definition order so the result is deterministic for a given
// ProjectConfig. A dependency cycle yields a CyclicDependency error.
func topologicalSort(defs []types.ContainerDef) ([]string, error) {
	indegree := make(map[string]int, len(defs))
	adj := make(map[string][]string, len(defs))

	for _, d := range defs {
		if _, ok := indegree[d.Name]; !ok {
			indegree[d.Name] = 0
		}
	}
	for _, d := range defs {
		for _, dep := range d.DependsOn {
			adj[dep] = append(adj[dep], d.Name)
			indegree[d.Name]++
		}
	}

	queue := make([]string, 0, len(defs))
	for _, d := range defs {
		if indegree[d.Name] == 0 {
			queue = append(queue, d.Name)
		}
	}

	order := make([]string, 0, len(defs))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		for _, next := range adj[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(defs) {
		return nil, herrors.New(herrors.CyclicDependency, "project.topologicalSort",
			herrors.WithContext("containers", joinNames(defs)))
	}
	return order, nil
}

func joinNames(defs []types.ContainerDef) string {
	out := ""
	for i, d := range defs {
		if i > 0 {
			out += ","
		}
		out += d.Name
	}
	return out
}

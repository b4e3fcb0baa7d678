package analytics

import (
	"context"

	"github.com/dvloznov/spendgraph/internal/graph"
)

// CategoryLineage walks the parent pointers from a category toward its
// root and returns the chain starting with the category itself. Parent
// pointers are not guaranteed to form a tree - cycles are possible - so
// the walk carries a visited set and stops at the first repeat instead
// of looping. A parent name with no category node terminates the chain
// after being included.
func (e *Engine) CategoryLineage(ctx context.Context, name string) ([]string, error) {
	categories, err := e.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(categories)) // name -> parent
	for _, c := range categories {
		byName[c.Name] = c.ParentCategory
	}

	if _, ok := byName[name]; !ok {
		return nil, &graph.QueryError{Op: "category lineage", Err: graph.ErrNotFound}
	}

	chain := []string{name}
	visited := map[string]struct{}{name: {}}
	current := byName[name]
	for current != "" {
		if _, seen := visited[current]; seen {
			break
		}
		chain = append(chain, current)
		visited[current] = struct{}{}
		current = byName[current]
	}
	return chain, nil
}

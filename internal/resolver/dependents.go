package resolver

import (
	"github.com/invtrack/syncq/internal/mutation"
)

// Index maps an idempotency key to the records that directly depend on it.
// It is built on demand from a snapshot of the queue and is not kept in sync
// with later changes.
type Index struct {
	children map[string][]*mutation.Record
}

// Dependents builds the reverse dependency index for records.
func Dependents(records []*mutation.Record) Index {
	idx := Index{children: make(map[string][]*mutation.Record)}
	for _, rec := range records {
		for _, dep := range rec.DependsOn {
			idx.children[dep] = append(idx.children[dep], rec)
		}
	}
	return idx
}

// Direct returns the records that list key in their DependsOn.
func (idx Index) Direct(key string) []*mutation.Record {
	return idx.children[key]
}

// Descendants returns every record that transitively depends on key,
// breadth-first, each at most once. The walk only touches the affected
// subtree.
func (idx Index) Descendants(key string) []*mutation.Record {
	var out []*mutation.Record
	seen := map[string]bool{key: true}
	queue := []string{key}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range idx.children[cur] {
			if seen[child.IdempotencyKey] {
				continue
			}
			seen[child.IdempotencyKey] = true
			out = append(out, child)
			queue = append(queue, child.IdempotencyKey)
		}
	}
	return out
}

// DetectCycle reports whether adding candidate to records would close a
// dependency cycle. When it would, the returned path starts and ends at the
// candidate's key, e.g. [a b a].
func DetectCycle(records []*mutation.Record, candidate *mutation.Record) ([]string, bool) {
	deps := make(map[string][]string, len(records)+1)
	for _, rec := range records {
		deps[rec.IdempotencyKey] = rec.DependsOn
	}
	deps[candidate.IdempotencyKey] = candidate.DependsOn

	target := candidate.IdempotencyKey
	visited := make(map[string]bool)
	var path []string

	var walk func(key string) bool
	walk = func(key string) bool {
		for _, dep := range deps[key] {
			if dep == target {
				path = append(path, dep)
				return true
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			path = append(path, dep)
			if walk(dep) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	path = append(path, target)
	if walk(target) {
		return path, true
	}
	return nil, false
}

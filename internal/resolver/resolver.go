// Package resolver orders queued mutations so that every record is dispatched
// after the records it depends on.
//
// Records are first grouped by entity type in the fixed order of
// mutation.EntityOrder. Within a group, creates are topologically sorted on
// their in-group dependencies (Kahn's algorithm), ties broken by sequence id,
// and updates follow in sequence order. Cross-group dependencies need no
// edges: the group order already satisfies them.
//
// Records caught in a dependency cycle are never returned in the order; they
// are reported in Plan.Unresolvable instead.
package resolver

import (
	"container/heap"
	"sort"

	"github.com/invtrack/syncq/internal/mutation"
)

// Group is the dispatch batch for one entity type.
type Group struct {
	EntityType mutation.EntityType
	Records    []*mutation.Record
}

// Plan is the result of Resolve.
type Plan struct {
	// Groups holds one non-empty batch per entity type, in dispatch order.
	Groups []Group
	// Unresolvable lists creates that sit on (or behind) a dependency cycle
	// inside their group, in sequence order.
	Unresolvable []*mutation.Record
}

// Order flattens the plan into a single dispatch sequence.
func (p Plan) Order() []*mutation.Record {
	var n int
	for _, g := range p.Groups {
		n += len(g.Records)
	}
	out := make([]*mutation.Record, 0, n)
	for _, g := range p.Groups {
		out = append(out, g.Records...)
	}
	return out
}

// Len returns the number of records in the dispatch order.
func (p Plan) Len() int {
	var n int
	for _, g := range p.Groups {
		n += len(g.Records)
	}
	return n
}

// Resolve computes the dispatch plan for records. The input slice is not
// modified. Records of unknown entity types are dropped into Unresolvable.
func Resolve(records []*mutation.Record) Plan {
	byType := make(map[mutation.EntityType][]*mutation.Record)
	var plan Plan
	for _, rec := range records {
		if !rec.EntityType.IsValid() {
			plan.Unresolvable = append(plan.Unresolvable, rec)
			continue
		}
		byType[rec.EntityType] = append(byType[rec.EntityType], rec)
	}

	for _, et := range mutation.EntityOrder {
		recs := byType[et]
		if len(recs) == 0 {
			continue
		}

		var creates, updates []*mutation.Record
		for _, rec := range recs {
			if rec.Operation == mutation.OpCreate {
				creates = append(creates, rec)
			} else {
				updates = append(updates, rec)
			}
		}

		sorted, stuck := sortCreates(creates)
		sortBySeq(updates)

		ordered := append(sorted, updates...)
		if len(ordered) > 0 {
			plan.Groups = append(plan.Groups, Group{EntityType: et, Records: ordered})
		}
		plan.Unresolvable = append(plan.Unresolvable, stuck...)
	}

	sortBySeq(plan.Unresolvable)
	return plan
}

// sortCreates runs Kahn's algorithm over the in-group dependency edges.
// Ready nodes come off a min-heap on sequence id so the output is stable.
// Whatever is left with a non-zero in-degree is on or behind a cycle.
func sortCreates(creates []*mutation.Record) (sorted, stuck []*mutation.Record) {
	if len(creates) == 0 {
		return nil, nil
	}

	byKey := make(map[string]*mutation.Record, len(creates))
	for _, rec := range creates {
		byKey[rec.IdempotencyKey] = rec
	}

	inDegree := make(map[string]int, len(creates))
	dependents := make(map[string][]*mutation.Record)
	for _, rec := range creates {
		inDegree[rec.IdempotencyKey] += 0
		for _, dep := range rec.DependsOn {
			if _, ok := byKey[dep]; !ok {
				continue
			}
			inDegree[rec.IdempotencyKey]++
			dependents[dep] = append(dependents[dep], rec)
		}
	}

	ready := &seqHeap{}
	for _, rec := range creates {
		if inDegree[rec.IdempotencyKey] == 0 {
			ready.Push(rec)
		}
	}
	heap.Init(ready)

	sorted = make([]*mutation.Record, 0, len(creates))
	for ready.Len() > 0 {
		rec := heap.Pop(ready).(*mutation.Record)
		sorted = append(sorted, rec)
		for _, child := range dependents[rec.IdempotencyKey] {
			inDegree[child.IdempotencyKey]--
			if inDegree[child.IdempotencyKey] == 0 {
				heap.Push(ready, child)
			}
		}
	}

	if len(sorted) < len(creates) {
		for _, rec := range creates {
			if inDegree[rec.IdempotencyKey] > 0 {
				stuck = append(stuck, rec)
			}
		}
	}
	return sorted, stuck
}

func sortBySeq(recs []*mutation.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].SequenceID < recs[j].SequenceID
	})
}

// seqHeap is a min-heap of records keyed on sequence id.
type seqHeap []*mutation.Record

func (h seqHeap) Len() int           { return len(h) }
func (h seqHeap) Less(i, j int) bool { return h[i].SequenceID < h[j].SequenceID }
func (h seqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *seqHeap) Push(x any) {
	*h = append(*h, x.(*mutation.Record))
}

func (h *seqHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return rec
}

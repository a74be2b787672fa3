package rtree

import (
	"container/heap"

	"github.com/hupe1980/poigo/geo"
)

// Match is a nearest-neighbor result.
type Match struct {
	ID uint32
	// Distance is the distance in meters from the query point to the entry
	// box. Exact for point entries; a lower bound for area entries.
	Distance float64
}

// Nearest returns up to k identifiers ordered by ascending distance from p,
// ties broken by ascending identifier. A positive maxDistance bounds the
// search radius; maxDistance <= 0 means unbounded.
//
// The traversal is best-bound-first over node box distances, so the first k
// dequeued leaf entries are the true k nearest.
func (t *Tree) Nearest(p geo.Point, k int, maxDistance float64) []Match {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if k <= 0 || t.size == 0 {
		return nil
	}

	pq := &knnQueue{}
	heap.Init(pq)
	heap.Push(pq, &knnItem{node: t.root, dist: 0})

	matches := make([]Match, 0, k)
	for pq.Len() > 0 && len(matches) < k {
		item, _ := heap.Pop(pq).(*knnItem)

		if maxDistance > 0 && item.dist > maxDistance {
			break
		}

		if item.isEntry {
			matches = append(matches, Match{ID: item.id, Distance: item.dist})
			continue
		}

		n := &t.nodes[item.node]
		for _, e := range n.entries {
			d := geo.MinDistanceToBox(t.dist, p, e.box)
			if maxDistance > 0 && d > maxDistance {
				continue
			}
			if n.leaf {
				heap.Push(pq, &knnItem{isEntry: true, id: e.id, dist: d})
			} else {
				heap.Push(pq, &knnItem{node: e.child, dist: d})
			}
		}
	}

	return matches
}

// knnItem is either an unexpanded node or a finalized leaf entry, ordered by
// its lower-bound distance to the query point.
type knnItem struct {
	dist    float64
	isEntry bool
	id      uint32
	node    nodeID
	index   int
}

// knnQueue implements heap.Interface. At equal distance, nodes sort before
// entries (an unexpanded node may still contain an equally-near entry with a
// smaller identifier) and entries sort by ascending identifier.
type knnQueue struct {
	items []*knnItem
}

var _ heap.Interface = (*knnQueue)(nil)

func (q *knnQueue) Len() int { return len(q.items) }

func (q *knnQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.isEntry != b.isEntry {
		return !a.isEntry
	}
	if a.isEntry {
		return a.id < b.id
	}
	return a.node < b.node
}

func (q *knnQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *knnQueue) Push(x any) {
	item, _ := x.(*knnItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
}

func (q *knnQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	q.items = old[:n-1]
	return item
}

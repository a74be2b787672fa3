// Package rtree implements the spatial index used by poigo: a classic
// R-tree of bounding boxes over record identifiers.
//
// Nodes live in an arena (a slice indexed by int32 handles with a free
// list), so node references are stable indices rather than raw pointers.
// Insert descends by least area enlargement and splits overflowing nodes
// with the quadratic heuristic; delete condenses underflowing nodes by
// reinserting their entries. Nearest-neighbor search is a best-bound-first
// traversal over node box distances.
//
// The tree is guarded by a single RWMutex: concurrent readers never block
// each other, while mutations are serialized. Fine-grained node locking is
// a known scalability limit left to a future iteration.
package rtree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/poigo/geo"
)

var (
	// ErrEntryExists is returned when inserting an identifier that is
	// already indexed.
	ErrEntryExists = errors.New("entry already exists")

	// ErrEntryNotFound is returned when deleting or updating an identifier
	// that is not indexed.
	ErrEntryNotFound = errors.New("entry not found")
)

// nodeID is a stable arena handle.
type nodeID int32

const nilNode nodeID = -1

// entry is either a child pointer (internal nodes) or a record reference
// (leaf nodes).
type entry struct {
	box   geo.BoundingBox
	child nodeID
	id    uint32
}

type node struct {
	entries []entry
	leaf    bool
	inUse   bool
}

// Item is a stored (identifier, box) pair.
type Item struct {
	ID  uint32
	Box geo.BoundingBox
}

// Options configures a Tree.
type Options struct {
	// Capacity is the maximum number of entries per node (M).
	// The minimum fill is Capacity/2. Must be >= 4.
	Capacity int

	// Distance is the point distance function used for radius and
	// nearest-neighbor traversal.
	Distance geo.DistanceFunc
}

// DefaultOptions are the options used when none are given.
var DefaultOptions = Options{
	Capacity: 8,
	Distance: geo.Haversine,
}

// Tree is an R-tree over (identifier, bounding box) pairs.
type Tree struct {
	mu    sync.RWMutex
	nodes []node
	free  []nodeID

	root   nodeID
	height int // root level; leaves are level 0
	size   int

	capacity int
	minFill  int
	dist     geo.DistanceFunc

	boxes map[uint32]geo.BoundingBox
}

// New creates an empty tree with the given options.
func New(optFns ...func(o *Options)) *Tree {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Capacity < 4 {
		opts.Capacity = 4
	}
	if opts.Distance == nil {
		opts.Distance = geo.Haversine
	}

	t := &Tree{
		root:     nilNode,
		capacity: opts.Capacity,
		minFill:  opts.Capacity / 2,
		dist:     opts.Distance,
		boxes:    make(map[uint32]geo.BoundingBox),
	}
	t.root = t.newNode(true)

	return t
}

// Len returns the number of indexed identifiers.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Height returns the current root level. An empty tree has height 0.
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.height
}

// Stats describes the tree shape.
type Stats struct {
	Size      int
	Height    int
	NodeCount int
	FreeNodes int
}

// Stats returns shape statistics, mostly for tests and debugging.
func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		Size:      t.size,
		Height:    t.height,
		NodeCount: len(t.nodes) - len(t.free),
		FreeNodes: len(t.free),
	}
}

// Insert adds an identifier with its bounding box.
func (t *Tree) Insert(id uint32, box geo.BoundingBox) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.boxes[id]; ok {
		return fmt.Errorf("%w: id %d", ErrEntryExists, id)
	}

	t.insertEntry(entry{box: box, child: nilNode, id: id}, 0)
	t.boxes[id] = box
	t.size++

	return nil
}

// Delete removes an identifier from the tree.
func (t *Tree) Delete(id uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.deleteLocked(id)
}

// Update relocates an identifier to a new bounding box. An unchanged box is
// a no-op so that same-geometry updates leave the tree structure untouched.
func (t *Tree) Update(id uint32, box geo.BoundingBox) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.boxes[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrEntryNotFound, id)
	}
	if old == box {
		return nil
	}

	if err := t.deleteLocked(id); err != nil {
		return err
	}
	t.insertEntry(entry{box: box, child: nilNode, id: id}, 0)
	t.boxes[id] = box
	t.size++

	return nil
}

// Contains reports whether the identifier is indexed.
func (t *Tree) Contains(id uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.boxes[id]
	return ok
}

// BoxOf returns the stored box for an identifier.
func (t *Tree) BoxOf(id uint32) (geo.BoundingBox, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	box, ok := t.boxes[id]
	return box, ok
}

// Items returns all stored (identifier, box) pairs in unspecified order.
func (t *Tree) Items() []Item {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := make([]Item, 0, len(t.boxes))
	for id, box := range t.boxes {
		items = append(items, Item{ID: id, Box: box})
	}
	return items
}

// Rebuild clears the tree and re-inserts the given items. This is the only
// global rebuild; it backs explicit compaction.
func (t *Tree) Rebuild(items []Item) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes = t.nodes[:0]
	t.free = t.free[:0]
	t.boxes = make(map[uint32]geo.BoundingBox, len(items))
	t.height = 0
	t.size = 0
	t.root = t.newNode(true)

	for _, it := range items {
		if _, ok := t.boxes[it.ID]; ok {
			continue
		}
		t.insertEntry(entry{box: it.Box, child: nilNode, id: it.ID}, 0)
		t.boxes[it.ID] = it.Box
		t.size++
	}
}

// Reset removes all entries and releases the arena.
func (t *Tree) Reset() {
	t.Rebuild(nil)
}

// SearchBox visits every identifier whose box intersects the query box.
// Traversal stops when visit returns false.
func (t *Tree) SearchBox(box geo.BoundingBox, visit func(id uint32) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.searchBox(t.root, box, visit)
}

// SearchBoxIDs collects every identifier whose box intersects the query box.
func (t *Tree) SearchBoxIDs(box geo.BoundingBox) []uint32 {
	var ids []uint32
	t.SearchBox(box, func(id uint32) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// SearchRadius visits every identifier whose box lies within radius meters
// of center, handing the distance from center to the entry box to visit.
// For point entries the distance is exact; for area entries it is a lower
// bound. Traversal stops when visit returns false.
//
// The tree lock is held for the duration of the traversal, so visit must
// not call back into the tree.
func (t *Tree) SearchRadius(center geo.Point, radius float64, visit func(id uint32, dist float64) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cover := geo.RadiusBounds(center, radius)
	t.searchRadius(t.root, cover, center, radius, visit)
}

func (t *Tree) searchBox(nid nodeID, box geo.BoundingBox, visit func(id uint32) bool) bool {
	n := &t.nodes[nid]
	for _, e := range n.entries {
		if !e.box.Intersects(box) {
			continue
		}
		if n.leaf {
			if !visit(e.id) {
				return false
			}
		} else if !t.searchBox(e.child, box, visit) {
			return false
		}
	}
	return true
}

func (t *Tree) searchRadius(nid nodeID, cover geo.BoundingBox, center geo.Point, radius float64, visit func(id uint32, dist float64) bool) bool {
	n := &t.nodes[nid]
	for _, e := range n.entries {
		if !e.box.Intersects(cover) {
			continue
		}
		d := geo.MinDistanceToBox(t.dist, center, e.box)
		if d > radius {
			continue
		}
		if n.leaf {
			if !visit(e.id, d) {
				return false
			}
		} else if !t.searchRadius(e.child, cover, center, radius, visit) {
			return false
		}
	}
	return true
}

// --- arena management ---

func (t *Tree) newNode(leaf bool) nodeID {
	if n := len(t.free); n > 0 {
		nid := t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[nid] = node{entries: t.nodes[nid].entries[:0], leaf: leaf, inUse: true}
		return nid
	}
	t.nodes = append(t.nodes, node{leaf: leaf, inUse: true})
	return nodeID(len(t.nodes) - 1)
}

func (t *Tree) freeNode(nid nodeID) {
	t.nodes[nid].inUse = false
	t.nodes[nid].entries = t.nodes[nid].entries[:0]
	t.free = append(t.free, nid)
}

// coverOf returns the minimal box covering all entries of a node.
func (t *Tree) coverOf(nid nodeID) geo.BoundingBox {
	n := &t.nodes[nid]
	box := n.entries[0].box
	for _, e := range n.entries[1:] {
		box = box.Union(e.box)
	}
	return box
}

// --- insertion ---

// insertEntry places e at the given level (0 = leaf) and restores all
// invariants on the way back up, growing a new root when a split cascades
// past the old one.
func (t *Tree) insertEntry(e entry, level int) {
	path := t.choosePath(e.box, level)

	nid := path[len(path)-1]
	t.nodes[nid].entries = append(t.nodes[nid].entries, e)

	var split nodeID = nilNode
	if len(t.nodes[nid].entries) > t.capacity {
		split = t.splitNode(nid)
	}

	// Walk back to the root, tightening boxes and propagating splits.
	for i := len(path) - 2; i >= 0; i-- {
		parent := path[i]
		child := path[i+1]

		for j := range t.nodes[parent].entries {
			if t.nodes[parent].entries[j].child == child {
				t.nodes[parent].entries[j].box = t.coverOf(child)
				break
			}
		}

		if split != nilNode {
			t.nodes[parent].entries = append(t.nodes[parent].entries, entry{
				box:   t.coverOf(split),
				child: split,
			})
			split = nilNode
		}
		if len(t.nodes[parent].entries) > t.capacity {
			split = t.splitNode(parent)
		}
	}

	if split != nilNode {
		// The root itself split: grow the tree by one level.
		oldRoot := t.root
		newRoot := t.newNode(false)
		t.nodes[newRoot].entries = append(t.nodes[newRoot].entries,
			entry{box: t.coverOf(oldRoot), child: oldRoot},
			entry{box: t.coverOf(split), child: split},
		)
		t.root = newRoot
		t.height++
	}
}

// choosePath descends from the root to the node at the target level,
// choosing at each step the child whose box needs the least area enlargement
// (ties: smaller resulting area, then fewer entries). It returns the visited
// node IDs, root first.
func (t *Tree) choosePath(box geo.BoundingBox, level int) []nodeID {
	path := []nodeID{t.root}
	nid := t.root

	for depth := t.height; depth > level; depth-- {
		n := &t.nodes[nid]

		best := 0
		bestEnlargement := enlargement(n.entries[0].box, box)
		for i := 1; i < len(n.entries); i++ {
			e := enlargement(n.entries[i].box, box)
			switch {
			case e < bestEnlargement:
				best, bestEnlargement = i, e
			case e == bestEnlargement:
				ai := n.entries[i].box.Area()
				ab := n.entries[best].box.Area()
				if ai < ab || (ai == ab && len(t.nodes[n.entries[i].child].entries) < len(t.nodes[n.entries[best].child].entries)) {
					best = i
				}
			}
		}

		nid = n.entries[best].child
		path = append(path, nid)
	}

	return path
}

func enlargement(box, add geo.BoundingBox) float64 {
	return box.Union(add).Area() - box.Area()
}

// --- deletion ---

func (t *Tree) deleteLocked(id uint32) error {
	box, ok := t.boxes[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrEntryNotFound, id)
	}

	path, idx := t.findLeaf(t.root, box, id, nil)
	if idx < 0 {
		// boxes said the id exists; the tree disagrees. Drop the stale
		// entry and surface the invariant violation to the caller.
		delete(t.boxes, id)
		t.size--
		return fmt.Errorf("%w: id %d missing from leaf", ErrEntryNotFound, id)
	}

	leaf := path[len(path)-1]
	t.nodes[leaf].entries = removeEntry(t.nodes[leaf].entries, idx)

	delete(t.boxes, id)
	t.size--

	t.condense(path)
	return nil
}

// findLeaf locates the leaf holding (id, box). It returns the root-first
// path and the entry index inside the leaf, or a negative index if absent.
func (t *Tree) findLeaf(nid nodeID, box geo.BoundingBox, id uint32, path []nodeID) ([]nodeID, int) {
	path = append(path, nid)
	n := &t.nodes[nid]

	if n.leaf {
		for i, e := range n.entries {
			if e.id == id {
				return path, i
			}
		}
		return path, -1
	}

	for _, e := range n.entries {
		if !e.box.ContainsBox(box) {
			continue
		}
		if p, i := t.findLeaf(e.child, box, id, path); i >= 0 {
			return p, i
		}
	}
	return path, -1
}

// condense walks from a modified leaf back to the root, removing
// underflowing nodes and reinserting their orphaned entries at the level
// they came from. Finally it collapses a single-child root.
func (t *Tree) condense(path []nodeID) {
	type orphan struct {
		e     entry
		level int
	}
	var orphans []orphan

	for i := len(path) - 1; i > 0; i-- {
		nid := path[i]
		parent := path[i-1]
		level := t.height - i

		if len(t.nodes[nid].entries) < t.minFill {
			for _, e := range t.nodes[nid].entries {
				orphans = append(orphans, orphan{e: e, level: level})
			}
			t.removeChild(parent, nid)
			t.freeNode(nid)
			continue
		}

		for j := range t.nodes[parent].entries {
			if t.nodes[parent].entries[j].child == nid {
				t.nodes[parent].entries[j].box = t.coverOf(nid)
				break
			}
		}
	}

	for _, o := range orphans {
		t.insertEntry(o.e, o.level)
	}

	// Collapse the root while it is an internal node with a single child.
	for !t.nodes[t.root].leaf && len(t.nodes[t.root].entries) == 1 {
		old := t.root
		t.root = t.nodes[old].entries[0].child
		t.freeNode(old)
		t.height--
	}
	// An empty internal root degenerates to an empty leaf.
	if !t.nodes[t.root].leaf && len(t.nodes[t.root].entries) == 0 {
		t.nodes[t.root].leaf = true
		t.height = 0
	}
}

func (t *Tree) removeChild(parent, child nodeID) {
	entries := t.nodes[parent].entries
	for i, e := range entries {
		if e.child == child {
			t.nodes[parent].entries = removeEntry(entries, i)
			return
		}
	}
}

func removeEntry(entries []entry, i int) []entry {
	last := len(entries) - 1
	entries[i] = entries[last]
	entries[last] = entry{}
	return entries[:last]
}

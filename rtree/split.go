package rtree

import "github.com/hupe1980/poigo/geo"

// splitNode divides an overflowing node into two using the quadratic split
// heuristic, keeping the original node ID for the first group. It returns
// the ID of the newly created sibling; the caller links it into the parent.
func (t *Tree) splitNode(nid nodeID) nodeID {
	entries := t.nodes[nid].entries
	leaf := t.nodes[nid].leaf

	seedA, seedB := pickSeeds(entries)

	groupA := []entry{entries[seedA]}
	groupB := []entry{entries[seedB]}
	boxA := entries[seedA].box
	boxB := entries[seedB].box

	rest := make([]entry, 0, len(entries)-2)
	for i, e := range entries {
		if i != seedA && i != seedB {
			rest = append(rest, e)
		}
	}

	for len(rest) > 0 {
		// If one group needs every remaining entry to reach minimum fill,
		// assign them all without further comparison.
		if len(groupA)+len(rest) <= t.minFill {
			groupA = append(groupA, rest...)
			for _, e := range rest {
				boxA = boxA.Union(e.box)
			}
			break
		}
		if len(groupB)+len(rest) <= t.minFill {
			groupB = append(groupB, rest...)
			for _, e := range rest {
				boxB = boxB.Union(e.box)
			}
			break
		}

		next, toA := pickNext(rest, boxA, boxB, len(groupA), len(groupB))
		e := rest[next]
		rest[next] = rest[len(rest)-1]
		rest = rest[:len(rest)-1]

		if toA {
			groupA = append(groupA, e)
			boxA = boxA.Union(e.box)
		} else {
			groupB = append(groupB, e)
			boxB = boxB.Union(e.box)
		}
	}

	t.nodes[nid].entries = append(t.nodes[nid].entries[:0], groupA...)

	sibling := t.newNode(leaf)
	t.nodes[sibling].entries = append(t.nodes[sibling].entries, groupB...)

	return sibling
}

// pickSeeds returns the pair of entries that would waste the most area if
// grouped together; they seed the two split groups.
func pickSeeds(entries []entry) (int, int) {
	seedA, seedB := 0, 1
	worst := -1.0

	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			d := entries[i].box.Union(entries[j].box).Area() -
				entries[i].box.Area() - entries[j].box.Area()
			if d > worst {
				worst = d
				seedA, seedB = i, j
			}
		}
	}

	return seedA, seedB
}

// pickNext selects the remaining entry with the strongest preference for one
// group (largest enlargement difference) and reports which group takes it:
// the group needing less enlargement, ties broken by smaller area, then by
// fewer entries.
func pickNext(rest []entry, boxA, boxB geo.BoundingBox, lenA, lenB int) (int, bool) {
	best := 0
	bestDiff := -1.0
	bestToA := true

	for i, e := range rest {
		dA := enlargement(boxA, e.box)
		dB := enlargement(boxB, e.box)

		diff := dA - dB
		if diff < 0 {
			diff = -diff
		}
		if diff <= bestDiff {
			continue
		}

		bestDiff = diff
		best = i

		switch {
		case dA < dB:
			bestToA = true
		case dB < dA:
			bestToA = false
		case boxA.Area() != boxB.Area():
			bestToA = boxA.Area() < boxB.Area()
		default:
			bestToA = lenA <= lenB
		}
	}

	return best, bestToA
}

package session

import "github.com/google/btree"

// gate holds the callbacks waiting on a specific sequence or index value.
type gate struct {
	key       uint64
	callbacks []func()
}

func gateLess(a, b gate) bool { return a.key < b.key }

// gateMap is an ordered map from sequence/index to pending callbacks,
// backed by a B-tree so range-firing on advancement is O(log n + k) instead
// of stepping every intermediate integer. Callback order within a firing
// range still runs value by value; only the advancement lookup is batched.
type gateMap struct {
	tree *btree.BTreeG[gate]
}

func newGateMap() *gateMap {
	return &gateMap{tree: btree.NewG(32, gateLess)}
}

// register adds cb to fire when the watched value reaches key. current is
// the watched value's present state; if it already satisfies key the
// callback fires immediately instead of being stored.
func (g *gateMap) register(key uint64, current uint64, cb func()) {
	if current >= key {
		cb()
		return
	}
	item, found := g.tree.Get(gate{key: key})
	if !found {
		item = gate{key: key}
	}
	item.callbacks = append(item.callbacks, cb)
	g.tree.ReplaceOrInsert(item)
}

// fireRange fires and removes every gate with key in (lo, hi], in ascending
// key order, exactly once each.
func (g *gateMap) fireRange(lo, hi uint64) {
	if hi <= lo {
		return
	}
	var matched []gate
	g.tree.AscendRange(gate{key: lo + 1}, gate{key: hi + 1}, func(item gate) bool {
		matched = append(matched, item)
		return true
	})
	for _, item := range matched {
		g.tree.Delete(item)
	}
	for _, item := range matched {
		for _, cb := range item.callbacks {
			cb()
		}
	}
}

// len reports the number of distinct keys with pending callbacks (observability).
func (g *gateMap) len() int { return g.tree.Len() }

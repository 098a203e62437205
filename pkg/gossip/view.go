package gossip

import (
	"math/rand"
	"slices"
)

// View is a node's set of known peers. Members live in a slice so a uniform
// pick is a single index draw, and the index map keeps add and remove O(1).
type View struct {
	members []NodeID
	index   map[NodeID]int // id -> position in members
}

func NewView() *View {
	return &View{index: make(map[NodeID]int)}
}

// Add inserts id and reports whether the view changed.
func (v *View) Add(id NodeID) bool {
	if _, ok := v.index[id]; ok {
		return false
	}
	v.index[id] = len(v.members)
	v.members = append(v.members, id)
	return true
}

// Remove deletes id and reports whether it was present.
func (v *View) Remove(id NodeID) bool {
	i, ok := v.index[id]
	if !ok {
		return false
	}
	last := len(v.members) - 1
	if i != last {
		moved := v.members[last]
		v.members[i] = moved
		v.index[moved] = i
	}
	v.members = v.members[:last]
	delete(v.index, id)
	return true
}

func (v *View) Contains(id NodeID) bool {
	_, ok := v.index[id]
	return ok
}

func (v *View) Len() int {
	return len(v.members)
}

// Pick returns a member chosen uniformly at random with rng.
// It returns false when the view is empty.
func (v *View) Pick(rng *rand.Rand) (NodeID, bool) {
	if len(v.members) == 0 {
		return 0, false
	}
	return v.members[rng.Intn(len(v.members))], true
}

// Members returns a sorted copy of the view.
func (v *View) Members() []NodeID {
	out := make([]NodeID, len(v.members))
	copy(out, v.members)
	slices.Sort(out)
	return out
}

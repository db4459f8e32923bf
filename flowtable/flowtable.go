// Package flowtable implements the per-bond flow table:
// a bounded set of 5-tuple-derived flow identifiers, each pinned to a
// path-slot index so that packets belonging to one flow keep arriving in
// order on the same path.
package flowtable

import (
	"sort"
)

// MaxFlows bounds the number of flows a single bond will track
// concurrently. Once full, the table evicts before admitting a new flow.
const MaxFlows = 65535

// NoSlot mirrors pathslot.NoSlot. Duplicated as an untyped constant here
// rather than imported, so this package has no dependency on pathslot — a
// flow only ever needs to carry a path-slot index, never touch a *Slot.
const NoSlot = 16

// Flow is one flow-affinity entry: a 32-bit hash of a packet's 5-tuple,
// the path-slot index it has been pinned to, and enough accounting to
// support LRU-by-activity eviction.
type Flow struct {
	ID           uint32
	AssignedPath int
	BytesIn      uint64
	BytesOut     uint64
	CreatedAt    int64
	LastActivity int64
}

// Table is a bond's flow table. It is not safe for concurrent use by
// itself — callers hold the bond's flow-table mutex around every method.
type Table struct {
	flows map[uint32]*Flow
}

func New() *Table {
	return &Table{flows: make(map[uint32]*Flow)}
}

func (t *Table) Len() int {
	return len(t.flows)
}

// Get returns the flow for id, or nil if it does not exist.
func (t *Table) Get(id uint32) *Flow {
	return t.flows[id]
}

// Create inserts a new flow assigned to pathIdx. If the table is at
// MaxFlows, the single oldest flow (by last activity) is evicted first —
// single-oldest eviction on overflow.
func (t *Table) Create(id uint32, pathIdx int, now int64) *Flow {
	if len(t.flows) >= MaxFlows {
		t.evictOldest()
	}
	f := &Flow{ID: id, AssignedPath: pathIdx, CreatedAt: now, LastActivity: now}
	t.flows[id] = f
	return f
}

func (t *Table) evictOldest() {
	var oldest *Flow
	for _, f := range t.flows {
		if oldest == nil || f.LastActivity < oldest.LastActivity {
			oldest = f
		}
	}
	if oldest != nil {
		delete(t.flows, oldest.ID)
	}
}

// Touch records activity on an existing flow.
func (t *Table) Touch(id uint32, bytesIn, bytesOut uint64, now int64) {
	if f, ok := t.flows[id]; ok {
		f.BytesIn += bytesIn
		f.BytesOut += bytesOut
		f.LastActivity = now
	}
}

// Reassign moves every flow currently pinned to fromPath onto toPath in one
// bulk move. This is a blunt table primitive, not the failover path — a
// path dying under a flow-hashing policy re-derives each flow's target
// individually through the policy's own selection rule (see SetPath), it
// does not funnel every displaced flow onto one fixed target.
func (t *Table) Reassign(fromPath, toPath int) int {
	n := 0
	for _, f := range t.flows {
		if f.AssignedPath == fromPath {
			f.AssignedPath = toPath
			n++
		}
	}
	return n
}

// SetPath repins an existing flow to pathIdx, used when a caller has
// individually re-derived the flow's target (e.g. via the balance-xor/aware
// selection rule after the flow's previous path died). No-op if the flow
// does not exist.
func (t *Table) SetPath(id uint32, pathIdx int) {
	if f, ok := t.flows[id]; ok {
		f.AssignedPath = pathIdx
	}
}

// FlowsOnPath returns the flows currently pinned to pathIdx, oldest first.
func (t *Table) FlowsOnPath(pathIdx int) []*Flow {
	var out []*Flow
	for _, f := range t.flows {
		if f.AssignedPath == pathIdx {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// ForgetFlows evicts flows by true age. If age > 0, every flow whose
// now-LastActivity exceeds age is evicted. Otherwise, if oldest is true,
// exactly one flow — the one with the greatest age — is evicted.
//
// Eviction candidates are ranked by now-LastActivity, not by flow creation
// time: a flow idle for a second after years of activity should evict
// before a long-lived but still-chatty one.
func (t *Table) ForgetFlows(age int64, oldest bool, now int64) int {
	if age > 0 {
		n := 0
		for id, f := range t.flows {
			if now-f.LastActivity > age {
				delete(t.flows, id)
				n++
			}
		}
		return n
	}
	if !oldest || len(t.flows) == 0 {
		return 0
	}
	var target uint32
	var greatestAge int64 = -1
	for id, f := range t.flows {
		a := now - f.LastActivity
		if a > greatestAge {
			greatestAge = a
			target = id
		}
	}
	delete(t.flows, target)
	return 1
}

package bond

import (
	"github.com/encodeous/nybond/pathslot"
)

// balanceRRPath implements the balance-rr policy's send-path selection:
// stripe packets_per_link packets per bonded slot in round-robin order, or
// pick uniformly at random if packets_per_link is 0.
func (b *Bond) balanceRRPath() *pathslot.Path {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()

	if b.numBonded == 0 {
		return nil
	}
	if b.params.PacketsPerLink == 0 {
		idx := b.bondIdxMap[b.randomBondIdxLocked()]
		return b.slots[idx].Path
	}

	if b.rrIdx >= b.numBonded {
		b.rrIdx = 0
	}
	if b.rrPacketsOnCurrLink <= 0 {
		b.rrIdx = (b.rrIdx + 1) % b.numBonded
		b.rrPacketsOnCurrLink = b.params.PacketsPerLink
	}
	idx := b.bondIdxMap[b.rrIdx]
	if idx == pathslot.NoSlot || b.slots[idx].Empty() {
		// bond_idx_map entry is stale; skip forward to the next live one.
		for i := 1; i <= b.numBonded; i++ {
			cand := (b.rrIdx + i) % b.numBonded
			candIdx := b.bondIdxMap[cand]
			if candIdx != pathslot.NoSlot && !b.slots[candIdx].Empty() {
				b.rrIdx = cand
				idx = candIdx
				break
			}
		}
	}
	b.rrPacketsOnCurrLink--
	if idx == pathslot.NoSlot {
		return nil
	}
	return b.slots[idx].Path
}

// randomBondIdxLocked picks a uniform-random bond_idx in [0, numBonded).
// Callers must hold pathsMu.
func (b *Bond) randomBondIdxLocked() int {
	bytes := b.random.SecureBytes(1)
	return int(bytes[0]) % b.numBonded
}

// balanceXORPath implements balance-xor's flow-pinned selection: packets
// with no flow id go to a random bonded slot; others look up or create a
// flow assignment. Flow hashing cannot be switched off, so every packet
// that carries a flow id is pinned.
func (b *Bond) balanceXORPath(flowID uint32, now int64) *pathslot.Path {
	if flowID == NoFlow {
		b.pathsMu.Lock()
		defer b.pathsMu.Unlock()
		if b.numBonded == 0 {
			return nil
		}
		idx := b.bondIdxMap[b.randomBondIdxLocked()]
		return b.slots[idx].Path
	}
	return b.pathForFlow(flowID, now)
}

// balanceAwarePath is identical to balanceXORPath except the underlying
// flow-to-path assignment uses the weighted-random walk in
// assignFlowToBondedPath.
func (b *Bond) balanceAwarePath(flowID uint32, now int64) *pathslot.Path {
	return b.balanceXORPath(flowID, now)
}

// pathForFlow looks up flowID in the flow table, creating it (pinned via
// assignFlowToBondedPath) if absent.
func (b *Bond) pathForFlow(flowID uint32, now int64) *pathslot.Path {
	b.flowsMu.Lock()
	f := b.flows.Get(flowID)
	if f == nil {
		b.flowsMu.Unlock()
		idx := b.createFlow(pathslot.NoSlot, flowID, now)
		if idx == pathslot.NoSlot {
			return nil
		}
		b.pathsMu.Lock()
		p := b.slots[idx].Path
		b.pathsMu.Unlock()
		return p
	}
	idx := f.AssignedPath
	b.flowsMu.Unlock()

	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	if idx < 0 || idx >= pathslot.MaxPaths || b.slots[idx].Empty() {
		return nil
	}
	return b.slots[idx].Path
}

// createFlow creates a flow's path assignment, returning the slot index
// the flow is assigned to, or pathslot.NoSlot if there is no bonded path.
func (b *Bond) createFlow(incomingPathIdx int, flowID uint32, now int64) int {
	b.pathsMu.Lock()
	if b.numBonded == 0 {
		b.pathsMu.Unlock()
		return pathslot.NoSlot
	}

	var idx int
	if incomingPathIdx != pathslot.NoSlot {
		idx = incomingPathIdx
	} else {
		idx = b.assignFlowToBondedPathLocked(flowID)
	}
	if idx != pathslot.NoSlot && idx < pathslot.MaxPaths && !b.slots[idx].Empty() {
		b.slots[idx].AssignedFlowCount++
	}
	b.pathsMu.Unlock()

	b.flowsMu.Lock()
	b.flows.Create(flowID, idx, now)
	b.flowsMu.Unlock()
	return idx
}

// assignFlowToBondedPathLocked implements assign_flow_to_bonded_path.
// Callers must hold pathsMu.
func (b *Bond) assignFlowToBondedPathLocked(flowID uint32) int {
	switch b.params.Policy {
	case PolicyBalanceXOR:
		return b.bondIdxMap[int(flowID)%b.numBonded]
	case PolicyBalanceAware:
		return b.assignAwareLocked()
	case PolicyActiveBackup:
		return b.abPathIdx
	default:
		return b.bondIdxMap[int(flowID)%b.numBonded]
	}
}

// assignAwareLocked implements the balance-aware weighted-random walk.
// Callers must hold pathsMu.
func (b *Bond) assignAwareLocked() int {
	entropyByte := b.random.SecureBytes(1)[0]
	entropy := int(entropyByte)

	useAffinity := false
	var totalWeight int
	for i := 0; i < b.numBonded; i++ {
		s := b.slots[b.bondIdxMap[i]]
		if s.Affinity > 0 {
			useAffinity = true
		}
	}
	for i := 0; i < b.numBonded; i++ {
		s := b.slots[b.bondIdxMap[i]]
		if useAffinity {
			totalWeight += int(s.Affinity)
		} else {
			totalWeight += int(s.Allocation)
		}
	}
	if totalWeight == 0 {
		return b.bondIdxMap[entropy%b.numBonded]
	}
	entropy = entropy % totalWeight

	cumulative := 0
	for i := 0; i < b.numBonded; i++ {
		idx := b.bondIdxMap[i]
		s := b.slots[idx]
		weight := int(s.Allocation)
		if useAffinity {
			weight = int(s.Affinity)
		}
		cumulative += weight
		if cumulative > entropy {
			return idx
		}
	}
	return b.bondIdxMap[b.numBonded-1]
}

// processBalanceTasks runs the periodic balance-policy housekeeping: flow
// eviction by age (forget_flows) and reassignment of flows pinned to a
// path that lost eligibility.
//
// Each affected flow is re-run through the policy's own selection rule
// individually (assignFlowToBondedPathLocked), the same call every other
// flow-assignment path uses, rather than being funneled onto one fixed
// slot — under balance-xor/aware that keeps displaced flows spread across
// the bonded set instead of piling them all onto bondIdxMap[0].
func (b *Bond) processBalanceTasks(now int64) {
	b.pathsMu.Lock()
	var deadSlots []int
	for i, s := range b.slots {
		if s.Empty() {
			continue
		}
		if s.ShouldReallocateFlows {
			deadSlots = append(deadSlots, i)
			s.ShouldReallocateFlows = false
		}
		s.ResetPacketCounts()
	}
	b.pathsMu.Unlock()

	for _, dead := range deadSlots {
		b.flowsMu.Lock()
		flows := b.flows.FlowsOnPath(dead)
		b.flowsMu.Unlock()

		for _, f := range flows {
			b.reassignFlowFromDeadSlot(f.ID, dead)
		}
	}

	b.flowsMu.Lock()
	b.flows.ForgetFlows(int64(peerPathExpirationMs), false, now)
	b.flowsMu.Unlock()
}

// reassignFlowFromDeadSlot re-derives flowID's path via the configured
// policy's own selection rule and repins it, clearing the dead slot's
// flow count. If no bonded path remains, the flow is left unassigned
// rather than dividing by zero in the hashing/weighted-walk selectors.
func (b *Bond) reassignFlowFromDeadSlot(flowID uint32, dead int) {
	b.pathsMu.Lock()
	newIdx := pathslot.NoSlot
	if b.numBonded > 0 {
		newIdx = b.assignFlowToBondedPathLocked(flowID)
		if newIdx != pathslot.NoSlot && newIdx < pathslot.MaxPaths && !b.slots[newIdx].Empty() {
			b.slots[newIdx].AssignedFlowCount++
		}
	}
	if !b.slots[dead].Empty() {
		b.slots[dead].AssignedFlowCount = 0
	}
	b.pathsMu.Unlock()

	b.flowsMu.Lock()
	b.flows.SetPath(flowID, newIdx)
	b.flowsMu.Unlock()
}

// peerPathExpirationMs is the flow-staleness threshold the periodic
// balance-task timer evicts by: flows idle longer than this are forgotten.
const peerPathExpirationMs = 300_000

package bond

import (
	"log/slog"
	"sort"

	"github.com/encodeous/nybond/bondconst"
	"github.com/encodeous/nybond/bondlink"
	"github.com/encodeous/nybond/bondlog"
	"github.com/encodeous/nybond/pathslot"
)

// linkForSlotLocked resolves the bondlink.Link a slot was nominated under.
// Callers must hold pathsMu.
func (b *Bond) linkForSlotLocked(idx int) *bondlink.Link {
	s := b.slots[idx]
	if s.Empty() {
		return nil
	}
	return b.links.ByInterface(b.slotInterface(s))
}

// activeBackupPath returns the current active-backup path, or nil if none
// has been selected yet.
func (b *Bond) activeBackupPath() *pathslot.Path {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	if b.abPathIdx == pathslot.NoSlot || b.slots[b.abPathIdx].Empty() {
		return nil
	}
	return b.slots[b.abPathIdx].Path
}

// processActiveBackupTasks runs the active-backup protocol's periodic
// scoring, queueing, and failover decision.
func (b *Bond) processActiveBackupTasks(now int64) {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()

	if b.abPathIdx == pathslot.NoSlot {
		b.abInitialSelectLocked()
	}

	b.dropIneligibleFromQueueLocked()
	b.rebuildFailoverScoresLocked()

	sort.SliceStable(b.abFailoverQueue, func(i, j int) bool {
		si, sj := b.abFailoverQueue[i], b.abFailoverQueue[j]
		if b.slots[si].FailoverScore != b.slots[sj].FailoverScore {
			return b.slots[si].FailoverScore > b.slots[sj].FailoverScore
		}
		return si < sj
	})

	if b.abPathIdx != pathslot.NoSlot && !b.slots[b.abPathIdx].Eligible {
		b.popQueueHeadLocked(now)
		return
	}

	if len(b.abFailoverQueue) == 0 {
		return
	}
	head := b.abFailoverQueue[0]

	switch b.params.ABLinkSelectMethod {
	case ABSelectAlways:
		if b.isNonPrimaryLocked(b.abPathIdx) && b.isPrimaryLocked(head) {
			b.popQueueHeadLocked(now)
		}
	case ABSelectBetter:
		if b.isNonPrimaryLocked(b.abPathIdx) && b.isPrimaryLocked(head) &&
			b.slots[head].FailoverScore > b.slots[b.abPathIdx].FailoverScore {
			b.popQueueHeadLocked(now)
		}
	case ABSelectOptimize:
		if b.slots[head].Negotiated {
			b.popQueueHeadLocked(now)
			return
		}
		if now-b.lastABChange < bondconst.OptimizeInterval.Milliseconds() {
			return
		}
		cur := b.slots[b.abPathIdx]
		if float64(b.slots[head].FailoverScore-cur.FailoverScore) > bondconst.ABOptimizeMinThreshold*float64(cur.Allocation) {
			b.popQueueHeadLocked(now)
		}
	case ABSelectFailure:
		// handled unconditionally above via the eligibility check.
	}
}

// abInitialSelectLocked implements the active-backup initial-selection
// rule. Callers must hold pathsMu.
func (b *Bond) abInitialSelectLocked() {
	anyUserSpecified := false
	for i, s := range b.slots {
		if s.Empty() {
			continue
		}
		if link := b.linkForSlotLocked(i); link != nil && link.UserSpecified {
			anyUserSpecified = true
			break
		}
	}

	if !anyUserSpecified {
		b.abPathIdx = b.firstEligibleLocked()
		return
	}

	primary := b.links.Primary()
	if primary == nil {
		b.abPathIdx = b.firstEligibleLocked()
		return
	}

	var nonPreferredIdx = pathslot.NoSlot
	for i, s := range b.slots {
		if s.Empty() || !s.Eligible || s.Mode != pathslot.ModePrimary {
			continue
		}
		if s.Preferred() {
			b.abPathIdx = i
			return
		}
		if nonPreferredIdx == pathslot.NoSlot {
			nonPreferredIdx = i
		}
	}
	if nonPreferredIdx != pathslot.NoSlot {
		b.abPathIdx = nonPreferredIdx
		return
	}
	b.abPathIdx = b.firstEligibleLocked()
}

func (b *Bond) firstEligibleLocked() int {
	for i, s := range b.slots {
		if !s.Empty() && s.Eligible {
			return i
		}
	}
	return pathslot.NoSlot
}

func (b *Bond) isPrimaryLocked(idx int) bool {
	return idx != pathslot.NoSlot && !b.slots[idx].Empty() && b.slots[idx].Mode == pathslot.ModePrimary
}

func (b *Bond) isNonPrimaryLocked(idx int) bool {
	return idx == pathslot.NoSlot || b.slots[idx].Empty() || b.slots[idx].Mode != pathslot.ModePrimary
}

// dropIneligibleFromQueueLocked also rebuilds the queue to contain every
// currently-eligible slot exactly once. Callers must hold pathsMu.
func (b *Bond) dropIneligibleFromQueueLocked() {
	present := make(map[int]bool, len(b.abFailoverQueue))
	filtered := b.abFailoverQueue[:0]
	for _, idx := range b.abFailoverQueue {
		if idx != b.abPathIdx && !b.slots[idx].Empty() && b.slots[idx].Eligible {
			filtered = append(filtered, idx)
			present[idx] = true
		}
	}
	for i, s := range b.slots {
		if i == b.abPathIdx || s.Empty() || !s.Eligible || present[i] {
			continue
		}
		filtered = append(filtered, i)
	}
	b.abFailoverQueue = filtered
}

// rebuildFailoverScoresLocked recomputes every occupied slot's failover
// score, either from the explicit failover-to graph or from handicap rules
// when no graph is configured. Callers must hold pathsMu.
func (b *Bond) rebuildFailoverScoresLocked() {
	haveFailoverGraph := false
	for i, s := range b.slots {
		if s.Empty() {
			continue
		}
		if link := b.linkForSlotLocked(i); link != nil && link.FailoverTo != "" {
			haveFailoverGraph = true
			break
		}
	}

	for i, s := range b.slots {
		if s.Empty() {
			continue
		}
		if haveFailoverGraph {
			s.FailoverScore = b.failoverGraphScoreLocked(i)
		} else {
			handicap := 0
			if s.Preferred() {
				handicap = bondconst.HandicapPreferred
			} else if s.Mode == pathslot.ModePrimary && b.params.ABLinkSelectMethod != ABSelectOptimize {
				handicap = bondconst.HandicapPrimary
			}
			if i == b.negotiatedPathIdx {
				handicap = bondconst.HandicapNegotiated
			}
			s.FailoverScore = int(s.Allocation) + handicap
		}
	}
}

// failoverGraphScoreLocked scores a slot when the user configured an
// explicit failover_to graph: a base handicap-or-allocation score, with a
// slot whose link is another link's failover target inheriting
// parent_score-10 (and one further point off if not preferred).
//
// Scores are read from sibling slots in the same pass that computes them,
// so a child link whose parent sorts to a later slot index sees the
// parent's previous-tick score rather than its just-recomputed one. The
// discrepancy self-corrects within one background tick and never affects
// which slot is eligible, only tie-break ordering during a single cycle.
func (b *Bond) failoverGraphScoreLocked(idx int) int {
	s := b.slots[idx]
	base := int(s.Allocation)
	if s.Preferred() {
		base = bondconst.HandicapPreferred
	} else if s.Mode == pathslot.ModePrimary {
		base = bondconst.HandicapPrimary
	}

	link := b.linkForSlotLocked(idx)
	if link == nil {
		return base
	}
	parentLink := b.links.FailoverParent(link)
	if parentLink == nil {
		return base
	}
	for i, ps := range b.slots {
		if ps.Empty() || i == idx {
			continue
		}
		pl := b.linkForSlotLocked(i)
		if pl != nil && pl.InterfaceName == parentLink.InterfaceName {
			parentScore := ps.FailoverScore
			score := parentScore - 10
			if !s.Preferred() {
				score--
			}
			return score
		}
	}
	return base
}

// popQueueHeadLocked dequeues the failover queue's head into ab_path_idx,
// records the switch time, and resets the previous slot's counters.
// Callers must hold pathsMu.
func (b *Bond) popQueueHeadLocked(now int64) {
	if len(b.abFailoverQueue) == 0 {
		return
	}
	prev := b.abPathIdx
	next := b.abFailoverQueue[0]
	b.abFailoverQueue = b.abFailoverQueue[1:]
	b.abPathIdx = next
	b.lastABChange = now
	b.abChangeCount++
	if prev != pathslot.NoSlot && !b.slots[prev].Empty() {
		b.slots[prev].ResetPacketCounts()
	}
	if b.log != nil {
		b.log.Info(bondlog.EventFailover, slog.Int("from", prev), slog.Int("to", next))
	}
}

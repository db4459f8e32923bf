package bond

import (
	"log/slog"
	"sort"

	"github.com/encodeous/nybond/bondconst"
	"github.com/encodeous/nybond/bondlog"
	"github.com/encodeous/nybond/pathslot"
)

// curate recomputes slot eligibility, bond health, and — for flow-hashing
// policies — rebuilds the bonded set from the eligible slots.
// It runs on the background timer and after every nomination.
func (b *Bond) curate(now int64, rebuild bool) {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()

	alive := 0
	total := 0
	for i, s := range b.slots {
		if s.Empty() {
			continue
		}
		total++

		wasEligible := s.Eligible
		s.Alive = now-s.LastIn < b.params.FailoverInterval.Milliseconds()
		age := s.Age(now)
		acceptableAge := age < b.params.FailoverInterval.Milliseconds()+b.params.DownDelay.Milliseconds()
		satisfiedUpDelay := now-s.LastAliveToggle >= b.params.UpDelay.Milliseconds()
		inTrial := now-s.NominatedAt < bondconst.OptimizeInterval.Milliseconds()

		s.Eligible = s.Allowed() && ((acceptableAge && satisfiedUpDelay) || inTrial)
		// numAlive mirrors Bond.cpp's tmpNumAliveLinks: eligibility, not raw
		// packet freshness, so a path still in its up_delay/trial grace
		// period counts as alive.
		if s.Eligible {
			alive++
		}

		if s.Eligible && !wasEligible {
			rebuild = true
			if b.log != nil {
				b.log.Debug(bondlog.EventPathEligible, slog.Int("slot", i), slog.String("addr", s.Path.Addr.String()))
			}
		} else if !s.Eligible && wasEligible {
			if s.Bonded {
				s.Bonded = false
				if b.params.Policy.UsesFlowHashing() {
					s.ShouldReallocateFlows = true
				}
				rebuild = true
			}
			s.AdjustRefractoryPeriod(now, bondconst.DefaultRefractoryPeriod, true)
			if b.log != nil {
				b.log.Debug(bondlog.EventPathIneligible, slog.Int("slot", i), slog.String("addr", s.Path.Addr.String()))
			}
		}
	}
	prevHealth := b.healthLocked()
	b.numAlive = alive
	b.numTotal = total
	if health := b.healthLocked(); health != prevHealth && b.log != nil {
		b.log.Info("bond.health", slog.String("alias", b.Alias), slog.String("from", prevHealth), slog.String("to", health))
	}

	if !rebuild && b.numBonded != 0 {
		return
	}
	if b.params.Policy != PolicyBalanceRR && b.params.Policy != PolicyBalanceXOR && b.params.Policy != PolicyBalanceAware {
		return
	}

	chosen := b.selectBondedSlots()

	for i := range b.bondIdxMap {
		b.bondIdxMap[i] = pathslot.NoSlot
	}
	for _, s := range b.slots {
		s.Bonded = false
	}
	for i, idx := range chosen {
		b.bondIdxMap[i] = idx
		b.slots[idx].Bonded = true
	}
	b.numBonded = len(chosen)

	if b.params.Policy == PolicyBalanceRR {
		b.rrPacketsOnCurrLink = b.params.PacketsPerLink
		b.rrIdx = 0
	}
}

// selectBondedSlots implements the per-link IP-preference grouping rule
// returning chosen slot indices in ascending order for
// determinism.
func (b *Bond) selectBondedSlots() []int {
	byLink := make(map[string][]int)
	for i, s := range b.slots {
		if s.Empty() || !s.Eligible {
			continue
		}
		ifname := b.slotInterface(s)
		byLink[ifname] = append(byLink[ifname], i)
	}

	var chosen []int
	for _, indices := range byLink {
		if len(indices) == 0 {
			continue
		}
		pref := b.slots[indices[0]].IPPref
		switch pref {
		case pathslot.IPPreferAny:
			for _, idx := range indices {
				if b.slots[idx].Allowed() {
					chosen = append(chosen, idx)
				}
			}
		case pathslot.IPPreferV4, pathslot.IPPreferV6:
			for _, idx := range indices {
				s := b.slots[idx]
				if s.Allowed() && s.Eligible {
					chosen = append(chosen, idx)
				}
			}
		case pathslot.IPPreferPreferV4, pathslot.IPPreferPreferV6:
			var preferred, fallback []int
			for _, idx := range indices {
				s := b.slots[idx]
				if !s.Allowed() || !s.Eligible {
					continue
				}
				if s.Preferred() {
					preferred = append(preferred, idx)
				} else {
					fallback = append(fallback, idx)
				}
			}
			if len(preferred) > 0 {
				chosen = append(chosen, preferred...)
			} else {
				chosen = append(chosen, fallback...)
			}
		}
	}

	sort.Ints(chosen)
	if len(chosen) > pathslot.MaxPaths {
		chosen = chosen[:pathslot.MaxPaths]
	}
	return chosen
}

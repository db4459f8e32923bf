package bond

import (
	"github.com/encodeous/nybond/pathslot"
	"github.com/encodeous/nybond/quality"
)

// estimateQuality runs the quality estimator
// over the bond's currently eligible slots.
func (b *Bond) estimateQuality(now int64) {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()

	eligible := make([]*pathslot.Slot, 0, pathslot.MaxPaths)
	speeds := make(map[int]float64)
	for _, s := range b.slots {
		if s.Empty() || !s.Eligible {
			continue
		}
		if link := b.links.ByInterface(b.slotInterface(s)); link != nil && link.SpeedBps > 0 {
			speeds[len(eligible)] = float64(link.SpeedBps)
		}
		eligible = append(eligible, s)
	}

	quality.Estimate(now, eligible, b.params.Weights, b.params.AcceptableMax, speeds)
}

package bond

import (
	"log/slog"

	"github.com/encodeous/nybond/bondconst"
	"github.com/encodeous/nybond/bondlog"
	"github.com/encodeous/nybond/bondproto"
	"github.com/encodeous/nybond/pathslot"
)

// processNegotiationTasks implements the path-negotiation protocol's
// periodic outbound side: find the slots carrying the most
// outbound and inbound traffic, and if they disagree, argue for the
// outbound slot by sending PATH_NEGOTIATION_REQUEST carrying local_utility.
func (b *Bond) processNegotiationTasks(now int64) {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()

	if now-b.lastNegotiationRequestAt < bondconst.OptimizeInterval.Milliseconds() {
		return
	}

	maxOut, maxIn := pathslot.NoSlot, pathslot.NoSlot
	var maxOutCount, maxInCount uint64
	for i, s := range b.slots {
		if s.Empty() || !s.Eligible {
			continue
		}
		if s.PacketsOut > maxOutCount {
			maxOutCount = s.PacketsOut
			maxOut = i
		}
		if s.PacketsIn > maxInCount {
			maxInCount = s.PacketsIn
			maxIn = i
		}
	}
	if maxOut == pathslot.NoSlot || maxIn == pathslot.NoSlot || maxOut == maxIn {
		return
	}

	negotiatedHandicap := 0
	if b.slots[maxOut].Negotiated {
		negotiatedHandicap = bondconst.HandicapNegotiated
	}
	b.localUtility = int16(b.slots[maxOut].FailoverScore - b.slots[maxIn].FailoverScore - negotiatedHandicap)

	if now-b.lastNegotiationRequestAt > bondconst.PathNegotiationCutoffTime.Milliseconds() {
		b.sentNegotiationRequests = 0
	}

	if b.sentNegotiationRequests < bondconst.PathNegotiationTryCount && b.localUtility >= 0 {
		payload := bondproto.EncodePathNegotiationRequest(b.localUtility)
		s := b.slots[maxOut]
		b.transport.PutPacket(s.Path.Socket, s.Path.Addr, payload)
		b.recordOverheadLocked(len(payload))
		b.sentNegotiationRequests++
		b.lastNegotiationRequestAt = now
	}

	if now-b.lastNegotiationRequestAt > 2*bondconst.OptimizeInterval.Milliseconds() && b.localUtility == 0 {
		b.negotiatedPathIdx = maxIn
	}
}

// ReceivePathNegotiationRequest handles an inbound PATH_NEGOTIATION_REQUEST
// arriving on pathIdx. remoteAddress identifies the sending
// peer, used only to break exact-utility ties.
func (b *Bond) ReceivePathNegotiationRequest(pathIdx int, payload []byte, remoteAddress uint64) error {
	remoteUtility, err := bondproto.DecodePathNegotiationRequest(payload)
	if err != nil {
		return err
	}

	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()

	if pathIdx < 0 || pathIdx >= pathslot.MaxPaths || b.slots[pathIdx].Empty() {
		return nil
	}

	switch {
	case remoteUtility > b.localUtility:
		b.negotiatedPathIdx = pathIdx
	case remoteUtility < b.localUtility:
		// ignore
	default:
		if b.localAddress > remoteAddress {
			b.negotiatedPathIdx = pathIdx
		}
	}
	if b.negotiatedPathIdx == pathIdx && b.log != nil {
		b.log.Debug(bondlog.EventPathNegotiated, slog.Int("slot", pathIdx), slog.Uint64("peer", remoteAddress))
	}
	return nil
}

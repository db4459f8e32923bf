// Package pathslot implements the per-path slot state machine:
// a fixed-size array element tracking one concrete (local socket, remote
// address) pair a peer is reachable over, its liveness/eligibility
// booleans, its QoS accounting, and the rolling statistics the quality
// estimator consumes.
package pathslot

import (
	"net/netip"
	"time"

	"github.com/encodeous/nybond/bondiface"
	"github.com/encodeous/nybond/bondproto"
	"github.com/jellydator/ttlcache/v3"
)

// MaxPaths is the fixed size of a bond's path-slot array. The
// array is never resized and indices are stable for a slot's lifetime —
// both the flow table and the active-backup failover queue store slot
// indices, not path handles.
const MaxPaths = 16

// NoSlot is the sentinel "unset" slot index. It is intentionally equal to
// MaxPaths (one past the last valid index) rather than -1, keeping it inside
// the unsigned index range for an unset ab_path_idx/negotiated_path_idx.
const NoSlot = MaxPaths

// MaxOutstanding bounds both the outstanding-ack map and the inbound QoS
// expectation map per slot.
const MaxOutstanding = 128

// qosSampleCapacity bounds the latency / validity / QoS-record-size ring
// buffers. It matches QoSTableSize, the natural batch size QoS records
// arrive and leave in.
const qosSampleCapacity = 128

// IPPreference mirrors a Link's declared address-family preference.
type IPPreference int

const (
	IPPreferAny IPPreference = iota
	IPPreferV4
	IPPreferV6
	IPPreferPreferV4
	IPPreferPreferV6
)

// Mode is a link's role: the normal traffic-bearing primary role, or a
// spare that is only used on failover.
type Mode int

const (
	ModePrimary Mode = iota
	ModeSpare
)

// Path is the concrete (local socket, remote address) pair a slot wraps.
// Slot identity is by pointer: at most one slot may reference a given
// *Path.
type Path struct {
	Addr   netip.AddrPort
	Socket bondiface.SocketHandle
}

// Slot is one element of a bond's fixed-size path array.
type Slot struct {
	Path *Path

	// Link-inherited preferences, copied in at nomination time.
	IPPref  IPPreference
	Mode    Mode
	Enabled bool

	// Timestamps, all in milliseconds since an arbitrary monotonic epoch.
	NominatedAt     int64
	LastAliveToggle int64
	LastQoSSent     int64
	LastIn          int64
	LastOut         int64

	Alive                 bool
	Eligible              bool
	Bonded                bool
	OnlyPathOnLink        bool
	Negotiated            bool
	ShouldReallocateFlows bool

	PacketsIn         uint64
	PacketsOut        uint64
	AssignedFlowCount int

	latencySamples  *sampleWindow
	validitySamples *sampleWindow
	qosRecordSize   *sampleWindow

	// outstandingOut tracks packet ids sent expecting a QoS ack, packet id
	// -> send timestamp ms. outstandingIn tracks packet ids received since
	// the last QoS emission, packet id -> receive timestamp ms. Both are
	// capacity-bounded caches rather than plain maps. Once outstandingOut
	// is full, RecordOutgoing stops recording new ids; once outstandingIn
	// is full, a new id evicts the oldest entry.
	outstandingOut *ttlcache.Cache[uint64, int64]
	outstandingIn  *ttlcache.Cache[uint64, int64]

	PacketsReceivedSinceLastQoS int

	LatencyMean         float64
	LatencyVariance     float64
	PacketLossRatio     float64
	PacketErrorRatio    float64
	ThroughputMean      float64
	Allocation          uint8
	Affinity            uint8
	FailoverScore       int
	RefractoryUntilMs   int64
}

// New creates an empty, unoccupied slot. Call Occupy to place a path in it.
func New() *Slot {
	return &Slot{
		latencySamples:  newSampleWindow(qosSampleCapacity),
		validitySamples: newSampleWindow(qosSampleCapacity),
		qosRecordSize:   newSampleWindow(qosSampleCapacity),
		outstandingOut:  ttlcache.New[uint64, int64](ttlcache.WithCapacity[uint64, int64](MaxOutstanding)),
		outstandingIn:   ttlcache.New[uint64, int64](ttlcache.WithCapacity[uint64, int64](MaxOutstanding)),
	}
}

// Occupy places a path into a previously-empty slot. Callers (the curator)
// are responsible for only calling this on an empty slot — Occupy does not
// check occupancy itself so that the curator's "first empty slot" scan
// stays a single pass.
func (s *Slot) Occupy(p *Path, now int64) {
	s.Path = p
	s.NominatedAt = now
	s.LastAliveToggle = now
}

// Empty reports whether the slot holds no path.
func (s *Slot) Empty() bool {
	return s.Path == nil
}

// Clear resets the slot back to empty, releasing its path and outstanding
// QoS state. Nomination never reshuffles occupied slots, but a slot that
// has gone permanently dead may be reclaimed by a future nomination.
func (s *Slot) Clear() {
	*s = *New()
}

// Allowed reports whether this slot's traffic is permitted given its
// enabled flag and IP-version preference. Strict preferences (v4/v6) reject
// paths of the wrong family outright; soft preferences (prefer-v4/v6) never
// reject, they only influence Preferred.
func (s *Slot) Allowed() bool {
	if !s.Enabled || s.Path == nil {
		return false
	}
	switch s.IPPref {
	case IPPreferV4:
		return s.Path.Addr.Addr().Is4()
	case IPPreferV6:
		return s.Path.Addr.Addr().Is6()
	default:
		return true
	}
}

// Preferred reports whether this slot matches a soft (prefer-v4/v6) address
// family preference.
func (s *Slot) Preferred() bool {
	if s.Path == nil {
		return false
	}
	switch s.IPPref {
	case IPPreferPreferV4:
		return s.Path.Addr.Addr().Is4()
	case IPPreferPreferV6:
		return s.Path.Addr.Addr().Is6()
	default:
		return false
	}
}

// Age returns how long it has been since this path last received anything.
func (s *Slot) Age(now int64) int64 {
	return now - s.LastIn
}

// RecordOutgoing notes an outgoing packet. isFrame increments PacketsOut and
// updates LastOut; shouldTrackQoS additionally records an outstanding-ack
// expectation, dropped silently if the bound is already full.
func (s *Slot) RecordOutgoing(packetID uint64, isFrame, shouldTrackQoS bool, now int64) {
	s.LastOut = now
	if isFrame {
		s.PacketsOut++
	}
	if shouldTrackQoS && s.outstandingOut.Len() < MaxOutstanding {
		s.outstandingOut.Set(packetID, now, ttlcache.NoTTL)
	}
}

// RecordIncoming notes an incoming packet, flipping LastAliveToggle if the
// path was previously considered dead.
func (s *Slot) RecordIncoming(packetID uint64, isFrame, shouldTrackQoS bool, now int64) {
	if !s.Alive {
		s.LastAliveToggle = now
	}
	s.LastIn = now
	if isFrame {
		s.PacketsIn++
	}
	if shouldTrackQoS {
		s.outstandingIn.Set(packetID, now, ttlcache.NoTTL)
		s.PacketsReceivedSinceLastQoS++
		s.validitySamples.Push(1)
	}
}

// RecordInvalid notes a packet that failed cryptographic or structural
// validation on this path.
func (s *Slot) RecordInvalid() {
	s.validitySamples.Push(0)
}

// ReceiveQoS matches a batch of (packetID, holdingTime) acks against the
// outstanding-ack map, appending a latency sample for each match and
// removing the matched entry. Unmatched ids are ignored — the entry may
// have already expired out of the outstanding map.
func (s *Slot) ReceiveQoS(now int64, records []bondproto.QoSRecord) {
	for _, r := range records {
		item := s.outstandingOut.Get(r.PacketID)
		if item == nil {
			continue
		}
		sentAt := item.Value()
		latency := (float64(now-sentAt) - float64(r.HoldingTime)) / 2
		s.latencySamples.Push(latency)
		s.outstandingOut.Delete(r.PacketID)
	}
	s.qosRecordSize.Push(float64(len(records)))
}

// DrainQoSRecords returns up to limit pending inbound QoS records, removing
// them from the inbound expectation map. Used to build an outgoing
// QOS_MEASUREMENT packet.
func (s *Slot) DrainQoSRecords(now int64, limit int) []bondproto.QoSRecord {
	if limit > s.outstandingIn.Len() {
		limit = s.outstandingIn.Len()
	}
	out := make([]bondproto.QoSRecord, 0, limit)
	for _, key := range s.outstandingIn.Keys() {
		if len(out) >= limit {
			break
		}
		item := s.outstandingIn.Get(key)
		if item == nil {
			continue
		}
		holding := now - item.Value()
		out = append(out, bondproto.QoSRecord{PacketID: key, HoldingTime: uint16(holding)})
		s.outstandingIn.Delete(key)
	}
	s.PacketsReceivedSinceLastQoS = 0
	return out
}

// DrainExpiredOutstanding removes outstanding-ack entries older than
// timeout, returning how many were lost (never acknowledged in time). This
// feeds PacketLossRatio.
func (s *Slot) DrainExpiredOutstanding(now int64, timeout time.Duration) int {
	lost := 0
	cutoff := now - timeout.Milliseconds()
	for _, key := range s.outstandingOut.Keys() {
		item := s.outstandingOut.Get(key)
		if item == nil {
			continue
		}
		if item.Value() < cutoff {
			s.outstandingOut.Delete(key)
			lost++
		}
	}
	return lost
}

// LatencySampleCount reports how many latency samples are currently held.
func (s *Slot) LatencySampleCount() int { return s.latencySamples.Count() }

// RecomputeLatencyStats refreshes LatencyMean/LatencyVariance from the
// latency ring buffer.
func (s *Slot) RecomputeLatencyStats() {
	s.LatencyMean = s.latencySamples.Mean()
	s.LatencyVariance = s.latencySamples.StdDev()
}

// RecomputeErrorRatio refreshes PacketErrorRatio from the validity ring
// buffer: 1 - mean(validity), or 0 if there are no samples yet.
func (s *Slot) RecomputeErrorRatio() {
	if s.validitySamples.Count() == 0 {
		s.PacketErrorRatio = 0
		return
	}
	s.PacketErrorRatio = 1 - s.validitySamples.Mean()
}

// ResetPacketCounts zeroes the in/out packet counters, used when switching
// the active-backup path and on every balance-policy background tick.
func (s *Slot) ResetPacketCounts() {
	s.PacketsIn = 0
	s.PacketsOut = 0
}

// AdjustRefractoryPeriod extends or drains the refractory period. Losing
// eligibility extends it by defaultPeriod from now; regaining eligibility
// (or simply not losing it) lets it continue draining on its own.
func (s *Slot) AdjustRefractoryPeriod(now int64, defaultPeriod time.Duration, extend bool) {
	if extend {
		s.RefractoryUntilMs = now + defaultPeriod.Milliseconds()
	}
}

// InRefractoryPeriod reports whether the slot is still cooling down after
// losing eligibility.
func (s *Slot) InRefractoryPeriod(now int64) bool {
	return now < s.RefractoryUntilMs
}

// Package bond implements the per-peer Bond engine: path
// nomination and curation, the five send-path policies, the flow table,
// QoS accounting, active-backup failover, and path negotiation.
package bond

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/encodeous/nybond/bondconst"
	"github.com/encodeous/nybond/bondiface"
	"github.com/encodeous/nybond/bondlink"
	"github.com/encodeous/nybond/flowtable"
	"github.com/encodeous/nybond/pathslot"
	"github.com/encodeous/nybond/quality"
)

// NoFlow marks appropriate_path calls that carry no flow-affinity hash —
// e.g. control traffic, or balance-rr which ignores flow id entirely.
const NoFlow = 0

// Params holds the tunables a policy template assigns to a Bond at
// creation time.
type Params struct {
	Policy             Policy
	FailoverInterval   time.Duration
	UpDelay            time.Duration
	DownDelay          time.Duration
	Weights            quality.Weights
	AcceptableMax      quality.AcceptableMax
	ABLinkSelectMethod ABLinkSelectMethod
	PacketsPerLink     int
}

// DefaultParams mirrors the upstream bonding core's built-in defaults.
func DefaultParams(policy Policy) Params {
	return Params{
		Policy:             policy,
		FailoverInterval:   bondconst.FailoverDefaultInterval,
		UpDelay:            0,
		DownDelay:          0,
		Weights:            quality.DefaultWeights,
		AcceptableMax:      quality.DefaultAcceptableMax,
		ABLinkSelectMethod: ABSelectOptimize,
		PacketsPerLink:     64,
	}
}

// Bond aggregates every path a peer is reachable over into one logical
// link, selecting a send path packet by packet according to Params.Policy.
type Bond struct {
	Alias        string
	Peer         bondiface.Peer
	localAddress uint64
	links        *bondlink.Set

	clock     bondiface.Clock
	transport bondiface.Transport
	random    bondiface.Random

	params Params

	pathsMu sync.Mutex
	slots   [pathslot.MaxPaths]*pathslot.Slot

	bondIdxMap  [pathslot.MaxPaths]int
	numBonded   int
	numAlive    int
	numTotal    int

	abPathIdx           int
	abFailoverQueue     []int
	lastABChange        int64
	abChangeCount       int

	rrIdx               int
	rrPacketsOnCurrLink int

	localUtility             int16
	lastNegotiationRequestAt int64
	negotiatedPathIdx        int
	sentNegotiationRequests  int

	flowsMu sync.Mutex
	flows   *flowtable.Table

	lastBackgroundTaskCheck int64
	lastDumpAt              int64
	overheadBytes           uint64

	log *slog.Logger
}

// recordOverheadLocked accounts for a control-plane (non-data-frame) send
// of n bytes, feeding the overhead-rate figure in Dump and Stats. Callers
// must hold pathsMu.
func (b *Bond) recordOverheadLocked(n int) {
	b.overheadBytes += uint64(n)
}

// SetLogger attaches a structured logger the bond uses for eligibility and
// failover transitions. A nil logger disables logging.
func (b *Bond) SetLogger(log *slog.Logger) {
	b.log = log
}

// New creates an empty Bond for peer under alias, with every slot unoccupied.
// localAddress is this node's own overlay identity address, needed to
// break ties in path negotiation.
func New(alias string, peer bondiface.Peer, localAddress uint64, links *bondlink.Set, params Params, clock bondiface.Clock, transport bondiface.Transport, random bondiface.Random) *Bond {
	b := &Bond{
		Alias:             alias,
		Peer:              peer,
		localAddress:      localAddress,
		links:             links,
		clock:             clock,
		transport:         transport,
		random:            random,
		params:            params,
		flows:             flowtable.New(),
		abPathIdx:         pathslot.NoSlot,
		negotiatedPathIdx: pathslot.NoSlot,
		log:               slog.Default(),
	}
	for i := range b.slots {
		b.slots[i] = pathslot.New()
	}
	return b
}

// Policy returns the Bond's configured policy.
func (b *Bond) Policy() Policy { return b.params.Policy }

func (b *Bond) now() int64 { return b.clock.NowMs() }

// NumBonded reports how many slots currently participate in send-path
// selection.
func (b *Bond) NumBonded() int {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	return b.numBonded
}

// NominatePath places a newly discovered path into the first empty slot,
// provided its interface is in this bond's link allow-list.
// Returns the slot index, or pathslot.NoSlot if rejected.
func (b *Bond) NominatePath(p *pathslot.Path, ifname string, now int64) int {
	link := b.links.ByInterface(ifname)
	if link == nil {
		return pathslot.NoSlot
	}

	b.pathsMu.Lock()
	idx := pathslot.NoSlot
	for i, s := range b.slots {
		if s.Empty() {
			idx = i
			break
		}
	}
	if idx == pathslot.NoSlot {
		b.pathsMu.Unlock()
		return pathslot.NoSlot
	}

	slot := b.slots[idx]
	slot.Occupy(p, now)
	slot.IPPref = link.IPPref
	slot.Mode = link.Mode
	slot.Enabled = link.Enabled
	slot.OnlyPathOnLink = b.onlyPathOnLinkLocked(idx, ifname)
	b.pathsMu.Unlock()

	b.curate(now, true)
	b.estimateQuality(now)
	return idx
}

// onlyPathOnLinkLocked reports whether idx is the only occupied slot whose
// link matches ifname. Callers must hold pathsMu.
func (b *Bond) onlyPathOnLinkLocked(idx int, ifname string) bool {
	for i, s := range b.slots {
		if i == idx || s.Empty() {
			continue
		}
		if b.slotInterface(s) == ifname {
			return false
		}
	}
	return true
}

// slotInterface resolves a slot's interface name via the transport.
func (b *Bond) slotInterface(s *pathslot.Slot) string {
	if s.Empty() {
		return ""
	}
	return b.transport.InterfaceName(s.Path.Socket)
}

// RecordIncomingPacket updates slot and flow accounting for an inbound
// packet. isFrame distinguishes data frames (counted) from control packets.
// shouldTrackQoS marks packets whose id participates in QoS sampling
// (the ACK_DIVISOR gate, applied by the caller before invoking this).
func (b *Bond) RecordIncomingPacket(pathIdx int, packetID uint64, isFrame, shouldTrackQoS, valid bool, now int64) {
	b.pathsMu.Lock()
	if pathIdx < 0 || pathIdx >= pathslot.MaxPaths || b.slots[pathIdx].Empty() {
		b.pathsMu.Unlock()
		return
	}
	slot := b.slots[pathIdx]
	if valid {
		slot.RecordIncoming(packetID, isFrame, shouldTrackQoS, now)
	} else {
		slot.RecordInvalid()
	}
	b.pathsMu.Unlock()
}

// RecordOutgoingPacket updates slot accounting for an outbound packet.
func (b *Bond) RecordOutgoingPacket(pathIdx int, packetID uint64, isFrame, shouldTrackQoS bool, now int64) {
	b.pathsMu.Lock()
	if pathIdx < 0 || pathIdx >= pathslot.MaxPaths || b.slots[pathIdx].Empty() {
		b.pathsMu.Unlock()
		return
	}
	b.slots[pathIdx].RecordOutgoing(packetID, isFrame, shouldTrackQoS, now)
	b.pathsMu.Unlock()
}

// AppropriatePath dispatches to the configured policy's send-path
// selection. Returns the chosen slot's *pathslot.Path, or nil
// if the caller should drop/defer the packet (num_bonded == 0, or
// broadcast which fans out itself).
func (b *Bond) AppropriatePath(now int64, flowID uint32) *pathslot.Path {
	switch b.params.Policy {
	case PolicyActiveBackup:
		return b.activeBackupPath()
	case PolicyBroadcast:
		return nil
	case PolicyBalanceRR:
		return b.balanceRRPath()
	case PolicyBalanceXOR:
		return b.balanceXORPath(flowID, now)
	case PolicyBalanceAware:
		return b.balanceAwarePath(flowID, now)
	default:
		return nil
	}
}

// BroadcastTargets returns every eligible slot's path, for callers
// implementing the broadcast policy's fan-out themselves.
func (b *Bond) BroadcastTargets() []*pathslot.Path {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	out := make([]*pathslot.Path, 0, pathslot.MaxPaths)
	for _, s := range b.slots {
		if !s.Empty() && s.Eligible {
			out = append(out, s.Path)
		}
	}
	return out
}

// ProcessBackgroundTasks runs the periodic curation, quality, policy,
// QoS, and negotiation sweep. It early-returns if called more frequently
// than BACKGROUND_TASK_MIN_INTERVAL, and short-circuits entirely if the
// peer has not negotiated multipath support.
func (b *Bond) ProcessBackgroundTasks(now int64) {
	if !b.Peer.LocalMultipathSupported() {
		return
	}
	if now-b.lastBackgroundTaskCheck < bondconst.BackgroundTaskMinInterval.Milliseconds() {
		return
	}
	b.lastBackgroundTaskCheck = now

	b.curate(now, false)
	b.estimateQuality(now)

	switch b.params.Policy {
	case PolicyActiveBackup:
		b.processActiveBackupTasks(now)
	case PolicyBalanceRR, PolicyBalanceXOR, PolicyBalanceAware:
		b.processBalanceTasks(now)
	}

	b.processQoSTasks(now)
	b.processNegotiationTasks(now)
	b.Dump(now)
}

// Health reports the bond's coarse health label, derived from the policy's
// alive-link requirement.
func (b *Bond) Health() string {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	switch b.params.Policy {
	case PolicyActiveBackup:
		if b.numAlive >= 2 {
			return "healthy"
		}
	case PolicyBroadcast:
		if b.numAlive >= 1 {
			return "healthy"
		}
	default:
		if b.numAlive == b.numTotal && b.numTotal > 0 {
			return "healthy"
		}
	}
	return "degraded"
}

// DumpInfo formats a one-line human-readable status summary, in the spirit
// of the upstream bond's dumpInfo/dumpPathStatus debug dumps.
func (b *Bond) DumpInfo() string {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	return fmt.Sprintf("bond alias=%s policy=%s bonded=%d/%d alive=%d/%d health=%s",
		b.Alias, b.params.Policy, b.numBonded, pathslot.MaxPaths, b.numAlive, b.numTotal, b.healthLocked())
}

func (b *Bond) healthLocked() string {
	switch b.params.Policy {
	case PolicyActiveBackup:
		if b.numAlive >= 2 {
			return "healthy"
		}
	case PolicyBroadcast:
		if b.numAlive >= 1 {
			return "healthy"
		}
	default:
		if b.numAlive == b.numTotal && b.numTotal > 0 {
			return "healthy"
		}
	}
	return "degraded"
}

// DumpPathStatus formats one line per occupied slot.
func (b *Bond) DumpPathStatus() []string {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	out := make([]string, 0, pathslot.MaxPaths)
	for i, s := range b.slots {
		if s.Empty() {
			continue
		}
		out = append(out, fmt.Sprintf("slot=%d addr=%s alive=%t eligible=%t bonded=%t alloc=%d",
			i, s.Path.Addr, s.Alive, s.Eligible, s.Bonded, s.Allocation))
	}
	return out
}

// Stats is a point-in-time snapshot of a bond's health and allocation,
// for metrics and CLI reporting.
type Stats struct {
	Alias                string
	NumBonded            int
	NumAlive             int
	NumTotal             int
	ActiveBackupChanges  int
	SlotAllocation       map[int]uint8
	OverheadBytes        uint64
}

// Stats reports the bond's current health, per-slot allocation, and
// accumulated control-plane overhead.
func (b *Bond) Stats() Stats {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	alloc := make(map[int]uint8, b.numBonded)
	for i, s := range b.slots {
		if !s.Empty() {
			alloc[i] = s.Allocation
		}
	}
	return Stats{
		Alias:               b.Alias,
		NumBonded:           b.numBonded,
		NumAlive:            b.numAlive,
		NumTotal:            b.numTotal,
		ActiveBackupChanges: b.abChangeCount,
		SlotAllocation:      alloc,
		OverheadBytes:       b.overheadBytes,
	}
}

// ForceRotate manually advances active-backup to the next queued path,
// bypassing the usual ABLinkSelectMethod gating. It is a no-op under any
// other policy, or when the failover queue is empty. Returns whether a
// rotation happened.
func (b *Bond) ForceRotate(now int64) bool {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	if b.params.Policy != PolicyActiveBackup || len(b.abFailoverQueue) == 0 {
		return false
	}
	prev := b.abPathIdx
	b.popQueueHeadLocked(now)
	if b.log != nil {
		b.log.Info("bond.forced_rotation", slog.Int("from", prev), slog.Int("to", b.abPathIdx))
	}
	return true
}

// Dump logs a periodic status summary (active link, failover queue depth,
// overhead rate since the last dump) if StatusDumpInterval has elapsed
// since the last one, resetting the overhead counter. It is a no-op
// otherwise, so callers can invoke it unconditionally from their
// background tick.
func (b *Bond) Dump(now int64) {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	if now-b.lastDumpAt < bondconst.StatusDumpInterval.Milliseconds() {
		return
	}
	elapsedSec := float64(now-b.lastDumpAt) / 1000.0
	b.lastDumpAt = now
	overheadRate := 0.0
	if elapsedSec > 0 {
		overheadRate = float64(b.overheadBytes) / elapsedSec
	}
	b.overheadBytes = 0

	if b.log == nil {
		return
	}
	if b.abPathIdx == pathslot.NoSlot {
		b.log.Info("bond.status", slog.String("alias", b.Alias), slog.String("active_backup", "none"))
		return
	}
	b.log.Info("bond.status",
		slog.String("alias", b.Alias),
		slog.Int("active_slot", b.abPathIdx),
		slog.Int("failover_queue_len", len(b.abFailoverQueue)),
		slog.Float64("overhead_bytes_per_sec", overheadRate),
	)
}

// sortedBondedIndices returns the bond_idx_map entries currently in use,
// ascending, for deterministic iteration.
func (b *Bond) sortedBondedIndices() []int {
	out := make([]int, 0, b.numBonded)
	for i := 0; i < b.numBonded; i++ {
		out = append(out, b.bondIdxMap[i])
	}
	sort.Ints(out)
	return out
}

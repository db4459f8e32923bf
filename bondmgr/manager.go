// Package bondmgr implements the process-wide registries: named policy
// templates, the link/interface registry, peer-to-policy assignments, and
// the live bond map, plus the lazy bond-creation path the overlay node's
// hot path calls into.
package bondmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/encodeous/nybond/bond"
	"github.com/encodeous/nybond/bondiface"
	"github.com/encodeous/nybond/bondlink"
)

// Manager owns every process-wide bonding registry. It is the single
// injected value the rest of the node holds, in place of package-level
// globals, so a process can run more than one bonded node side by side.
type Manager struct {
	// InstanceID tags this manager's log and metric output, so that
	// restarts of the same node are distinguishable in aggregated output.
	InstanceID uuid.UUID

	localAddress uint64
	clock        bondiface.Clock
	transport    bondiface.Transport
	random       bondiface.Random

	linksMu sync.RWMutex
	links   map[string]*bondlink.Set // alias -> link set

	templatesMu sync.RWMutex
	templates   map[string]bond.Params // alias -> policy template
	peerPolicy  map[uint64]string      // peer address -> alias

	defaultPolicy      bond.Policy
	defaultPolicyAlias string

	bondsMu sync.RWMutex
	bonds   map[uint64]*bond.Bond // peer address -> bond

	log *slog.Logger
}

// SetLogger attaches the logger every subsequently created bond inherits.
func (m *Manager) SetLogger(log *slog.Logger) {
	m.log = log
}

// New creates an empty Manager. localAddress is this node's own overlay
// identity address, threaded through to every Bond for negotiation
// tie-breaks.
func New(localAddress uint64, clock bondiface.Clock, transport bondiface.Transport, random bondiface.Random) *Manager {
	return &Manager{
		InstanceID:    uuid.New(),
		localAddress:  localAddress,
		clock:         clock,
		transport:     transport,
		random:        random,
		links:         make(map[string]*bondlink.Set),
		templates:     make(map[string]bond.Params),
		peerPolicy:    make(map[uint64]string),
		bonds:         make(map[uint64]*bond.Bond),
		defaultPolicy: bond.PolicyActiveBackup,
	}
}

// DefineLinks registers the link set for a policy alias, replacing any
// previous definition.
func (m *Manager) DefineLinks(alias string, set *bondlink.Set) {
	m.linksMu.Lock()
	defer m.linksMu.Unlock()
	m.links[alias] = set
}

// LinksFor returns the link set registered for alias, or an empty set if
// none was registered.
func (m *Manager) LinksFor(alias string) *bondlink.Set {
	m.linksMu.RLock()
	defer m.linksMu.RUnlock()
	if set, ok := m.links[alias]; ok {
		return set
	}
	return bondlink.NewSet(alias)
}

// DefineTemplate registers a named policy template.
func (m *Manager) DefineTemplate(alias string, params bond.Params) {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	m.templates[alias] = params
}

// AssignPolicy assigns a peer identity to a policy alias.
func (m *Manager) AssignPolicy(peerAddress uint64, alias string) {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	m.peerPolicy[peerAddress] = alias
}

// SetDefaultPolicy sets the fallback policy used when a peer has no
// explicit assignment.
func (m *Manager) SetDefaultPolicy(policy bond.Policy) {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	m.defaultPolicy = policy
	m.defaultPolicyAlias = ""
}

// SetDefaultPolicyAlias sets the fallback policy template by alias.
func (m *Manager) SetDefaultPolicyAlias(alias string) {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	m.defaultPolicyAlias = alias
}

func (m *Manager) resolveAlias(peerAddress uint64) string {
	m.templatesMu.RLock()
	defer m.templatesMu.RUnlock()
	if alias, ok := m.peerPolicy[peerAddress]; ok {
		return alias
	}
	return m.defaultPolicyAlias
}

func (m *Manager) resolveParams(alias string) bond.Params {
	m.templatesMu.RLock()
	defer m.templatesMu.RUnlock()
	if alias != "" {
		if params, ok := m.templates[alias]; ok {
			return params
		}
	}
	return bond.DefaultParams(m.defaultPolicy)
}

// GetOrCreateBond returns the existing bond for peer, creating one lazily
// on first traffic.
func (m *Manager) GetOrCreateBond(peer bondiface.Peer) *bond.Bond {
	addr := peer.Address()

	m.bondsMu.RLock()
	if b, ok := m.bonds[addr]; ok {
		m.bondsMu.RUnlock()
		return b
	}
	m.bondsMu.RUnlock()

	alias := m.resolveAlias(addr)
	params := m.resolveParams(alias)
	links := m.LinksFor(alias)

	m.bondsMu.Lock()
	defer m.bondsMu.Unlock()
	if b, ok := m.bonds[addr]; ok {
		return b
	}
	b := bond.New(alias, peer, m.localAddress, links, params, m.clock, m.transport, m.random)
	if m.log != nil {
		b.SetLogger(m.log)
	}
	m.bonds[addr] = b
	return b
}

// GetBond returns the bond for peer if one already exists.
func (m *Manager) GetBond(peerAddress uint64) (*bond.Bond, bool) {
	m.bondsMu.RLock()
	defer m.bondsMu.RUnlock()
	b, ok := m.bonds[peerAddress]
	return b, ok
}

// RemoveBond destroys a peer's bond, called when the peer itself is torn
// down.
func (m *Manager) RemoveBond(peerAddress uint64) {
	m.bondsMu.Lock()
	defer m.bondsMu.Unlock()
	delete(m.bonds, peerAddress)
}

// backgroundSweepConcurrency bounds how many bonds' background tasks run
// at once; each bond only locks its own state, so this is purely about
// not spawning one goroutine per peer on large meshes.
const backgroundSweepConcurrency = 8

// ProcessBackgroundTasks sweeps every live bond, called once per tick from
// the background timer. Bonds are independent (each holds its own lock),
// so the sweep fans out across a bounded pool rather than walking them one
// at a time.
func (m *Manager) ProcessBackgroundTasks(now int64) {
	m.bondsMu.RLock()
	bonds := make([]*bond.Bond, 0, len(m.bonds))
	for _, b := range m.bonds {
		bonds = append(bonds, b)
	}
	m.bondsMu.RUnlock()

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(backgroundSweepConcurrency)
	for _, b := range bonds {
		b := b
		g.Go(func() error {
			b.ProcessBackgroundTasks(now)
			return nil
		})
	}
	_ = g.Wait()
}

// BondSnapshot is one bond's Stats plus the peer identity it belongs to,
// formatted for metrics label values.
type BondSnapshot struct {
	Alias               string
	PeerAddress         string
	NumBonded           int
	NumAlive            int
	NumTotal            int
	ActiveBackupChanges int
	SlotAllocation      map[string]uint8
	OverheadBytes       uint64
}

// Snapshot reports every live bond's current Stats, for the metrics
// collector and CLI dump commands.
func (m *Manager) Snapshot() []BondSnapshot {
	m.bondsMu.RLock()
	addrs := make(map[uint64]*bond.Bond, len(m.bonds))
	for addr, b := range m.bonds {
		addrs[addr] = b
	}
	m.bondsMu.RUnlock()

	out := make([]BondSnapshot, 0, len(addrs))
	for addr, b := range addrs {
		stats := b.Stats()
		alloc := make(map[string]uint8, len(stats.SlotAllocation))
		for slot, a := range stats.SlotAllocation {
			alloc[fmt.Sprintf("%d", slot)] = a
		}
		out = append(out, BondSnapshot{
			Alias:               stats.Alias,
			PeerAddress:         fmt.Sprintf("%#x", addr),
			NumBonded:           stats.NumBonded,
			NumAlive:            stats.NumAlive,
			NumTotal:            stats.NumTotal,
			ActiveBackupChanges: stats.ActiveBackupChanges,
			SlotAllocation:      alloc,
			OverheadBytes:       stats.OverheadBytes,
		})
	}
	return out
}

// DumpInfo returns a one-line status string per live bond, for CLI/debug
// consumption (mirrors the upstream bond's dumpInfo).
func (m *Manager) DumpInfo() []string {
	m.bondsMu.RLock()
	defer m.bondsMu.RUnlock()
	out := make([]string, 0, len(m.bonds))
	for addr, b := range m.bonds {
		out = append(out, fmt.Sprintf("peer=%#x %s", addr, b.DumpInfo()))
	}
	return out
}

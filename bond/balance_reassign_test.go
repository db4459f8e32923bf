package bond

import (
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/nybond/bondiface"
	"github.com/encodeous/nybond/bondlink"
	"github.com/encodeous/nybond/pathslot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeLinkSet() *bondlink.Set {
	set := bondlink.NewSet("test3")
	set.Add(&bondlink.Link{InterfaceName: "eth0", Mode: pathslot.ModePrimary, Enabled: true})
	set.Add(&bondlink.Link{InterfaceName: "eth1", Mode: pathslot.ModePrimary, Enabled: true})
	set.Add(&bondlink.Link{InterfaceName: "eth2", Mode: pathslot.ModePrimary, Enabled: true})
	return set
}

func newThreeWayTestBond(t *testing.T, policy Policy) (*Bond, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	transport := newFakeTransport()
	transport.ifnames[1] = "eth0"
	transport.ifnames[2] = "eth1"
	transport.ifnames[3] = "eth2"
	random := &fakeRandom{}
	peer := &fakePeer{address: 100, multipathSupport: true, protocolVersion: 10}

	params := DefaultParams(policy)
	params.FailoverInterval = 5000 * time.Millisecond
	b := New("test3", peer, 200, threeLinkSet(), params, clock, transport, random)
	return b, clock
}

func nominateOn(t *testing.T, b *Bond, clock *fakeClock, socket int, ifname, addr string) int {
	t.Helper()
	p := &pathslot.Path{Addr: netip.MustParseAddrPort(addr), Socket: bondiface.SocketHandle(socket)}
	idx := b.NominatePath(p, ifname, clock.now)
	require.NotEqual(t, pathslot.NoSlot, idx)
	return idx
}

// TestBalanceXORFlowReassignmentSpreadsAcrossBondedSet exercises the
// review-flagged case that TestFlowEvictionOnPathDeath's two-path setup
// can't distinguish: with three or more bonded paths, flows displaced by
// a path's death must be re-derived through the policy's own flow-hashing
// rule per flow, not funneled onto a single fixed slot.
func TestBalanceXORFlowReassignmentSpreadsAcrossBondedSet(t *testing.T) {
	b, clock := newThreeWayTestBond(t, PolicyBalanceXOR)

	idxA := nominateOn(t, b, clock, 1, "eth0", "10.0.0.1:1000")
	idxB := nominateOn(t, b, clock, 2, "eth1", "10.0.0.2:1000")
	idxC := nominateOn(t, b, clock, 3, "eth2", "10.0.0.3:1000")
	settlePastTrial(b, clock, idxA, idxB, idxC)
	require.Equal(t, 3, b.numBonded)

	// Pin 100 flows onto idxA via the real hashing rule (flowID % numBonded).
	var flowsOnA []uint32
	for id := uint32(0); id < 300; id++ {
		target := b.bondIdxMap[int(id)%b.numBonded]
		if target == idxA {
			b.flowsMu.Lock()
			b.flows.Create(id, idxA, clock.now)
			b.flowsMu.Unlock()
			flowsOnA = append(flowsOnA, id)
		}
	}
	require.NotEmpty(t, flowsOnA)

	b.pathsMu.Lock()
	b.slots[idxA].AssignedFlowCount = len(flowsOnA)
	b.slots[idxA].Enabled = false // force Allowed() == false regardless of liveness
	b.pathsMu.Unlock()

	b.curate(clock.now, false)
	b.processBalanceTasks(clock.now)

	assert.Empty(t, b.flows.FlowsOnPath(idxA))

	onB := b.flows.FlowsOnPath(idxB)
	onC := b.flows.FlowsOnPath(idxC)
	assert.NotEmpty(t, onB, "flows should spread onto B, not pile onto a single slot")
	assert.NotEmpty(t, onC, "flows should spread onto C, not pile onto a single slot")
	assert.Equal(t, len(flowsOnA), len(onB)+len(onC))

	for _, f := range onB {
		assert.Equal(t, b.bondIdxMap[int(f.ID)%b.numBonded], idxB)
	}
	for _, f := range onC {
		assert.Equal(t, b.bondIdxMap[int(f.ID)%b.numBonded], idxC)
	}
}

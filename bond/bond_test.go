package bond

import (
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/nybond/bondconst"
	"github.com/encodeous/nybond/bondiface"
	"github.com/encodeous/nybond/bondlink"
	"github.com/encodeous/nybond/pathslot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoLinkSet() *bondlink.Set {
	set := bondlink.NewSet("test")
	set.Add(&bondlink.Link{InterfaceName: "eth0", Mode: pathslot.ModePrimary, Enabled: true})
	set.Add(&bondlink.Link{InterfaceName: "eth1", Mode: pathslot.ModeSpare, Enabled: true})
	return set
}

func newTestBond(t *testing.T, policy Policy) (*Bond, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	transport := newFakeTransport()
	transport.ifnames[1] = "eth0"
	transport.ifnames[2] = "eth1"
	random := &fakeRandom{}
	peer := &fakePeer{address: 100, multipathSupport: true, protocolVersion: 10}

	params := DefaultParams(policy)
	params.FailoverInterval = 5000 * time.Millisecond
	b := New("test", peer, 200, twoLinkSet(), params, clock, transport, random)
	return b, clock
}

func nominate(t *testing.T, b *Bond, clock *fakeClock, socket int, addr string) int {
	t.Helper()
	ifname := map[int]string{1: "eth0", 2: "eth1"}[socket]
	p := &pathslot.Path{Addr: netip.MustParseAddrPort(addr), Socket: bondiface.SocketHandle(socket)}
	idx := b.NominatePath(p, ifname, clock.now)
	require.NotEqual(t, pathslot.NoSlot, idx)
	return idx
}

// settlePastTrial advances the clock beyond OPTIMIZE_INTERVAL so slots
// leave their nomination grace period and eligibility reflects actual
// liveness rather than the in-trial override.
func settlePastTrial(b *Bond, clock *fakeClock, idxs ...int) {
	clock.now = bondconst.OptimizeInterval.Milliseconds() + 1000
	b.pathsMu.Lock()
	for _, idx := range idxs {
		b.slots[idx].LastIn = clock.now
	}
	b.pathsMu.Unlock()
	b.curate(clock.now, true)
}

func TestActiveBackupFailoverScenario(t *testing.T) {
	b, clock := newTestBond(t, PolicyActiveBackup)

	idxA := nominate(t, b, clock, 1, "10.0.0.1:1000")
	idxB := nominate(t, b, clock, 2, "10.0.0.2:1000")
	settlePastTrial(b, clock, idxA, idxB)

	b.pathsMu.Lock()
	b.abPathIdx = idxA
	b.pathsMu.Unlock()

	failAt := clock.now + b.params.FailoverInterval.Milliseconds() + 1
	b.pathsMu.Lock()
	b.slots[idxB].LastIn = failAt // B stays alive
	b.pathsMu.Unlock()
	clock.now = failAt

	b.curate(clock.now, false)
	b.processActiveBackupTasks(clock.now)

	assert.Equal(t, idxB, b.abPathIdx)
	assert.False(t, b.slots[idxA].Eligible)
	assert.Equal(t, clock.now, b.lastABChange)
}

func TestBalanceRRStripingPattern(t *testing.T) {
	b, clock := newTestBond(t, PolicyBalanceRR)
	b.params.PacketsPerLink = 3

	idxA := nominate(t, b, clock, 1, "10.0.0.1:1000")
	idxB := nominate(t, b, clock, 2, "10.0.0.2:1000")
	settlePastTrial(b, clock, idxA, idxB)
	require.Equal(t, 2, b.numBonded)

	var got []int
	for i := 0; i < 6; i++ {
		p := b.AppropriatePath(clock.now, NoFlow)
		require.NotNil(t, p)
		if p.Socket == b.slots[idxA].Path.Socket {
			got = append(got, 0)
		} else {
			got = append(got, 1)
		}
	}
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, got)
}

func TestBalanceXORFlowPinning(t *testing.T) {
	b, clock := newTestBond(t, PolicyBalanceXOR)

	idxA := nominate(t, b, clock, 1, "10.0.0.1:1000")
	idxB := nominate(t, b, clock, 2, "10.0.0.2:1000")
	settlePastTrial(b, clock, idxA, idxB)
	require.Equal(t, 2, b.numBonded)

	first := b.AppropriatePath(clock.now, 7)
	second := b.AppropriatePath(clock.now, 7)
	require.NotNil(t, first)
	assert.Equal(t, first.Socket, second.Socket)

	wantIdx := b.bondIdxMap[7%2]
	assert.Equal(t, b.slots[wantIdx].Path.Socket, first.Socket)
}

func TestFlowEvictionOnPathDeath(t *testing.T) {
	b, clock := newTestBond(t, PolicyBalanceXOR)

	idxA := nominate(t, b, clock, 1, "10.0.0.1:1000")
	idxB := nominate(t, b, clock, 2, "10.0.0.2:1000")
	settlePastTrial(b, clock, idxA, idxB)
	require.Equal(t, 2, b.numBonded)

	for i := uint32(0); i < 100; i++ {
		target := idxA
		if i%2 == 1 {
			target = idxB
		}
		b.flowsMu.Lock()
		b.flows.Create(i, target, clock.now)
		b.flowsMu.Unlock()
	}
	b.pathsMu.Lock()
	b.slots[idxA].AssignedFlowCount = 50
	b.slots[idxB].AssignedFlowCount = 50
	b.slots[idxA].Enabled = false // force Allowed() == false regardless of liveness
	b.pathsMu.Unlock()

	b.curate(clock.now, false)
	b.processBalanceTasks(clock.now)

	assert.Equal(t, 100, b.slots[idxB].AssignedFlowCount)
	assert.Len(t, b.flows.FlowsOnPath(idxA), 0)
	assert.Len(t, b.flows.FlowsOnPath(idxB), 100)
}

func TestPathNegotiationTieBreakByAddress(t *testing.T) {
	bx, clock := newTestBond(t, PolicyBalanceXOR)
	bx.localAddress = 1 // X, smaller

	idx := nominate(t, bx, clock, 1, "10.0.0.1:1000")
	settlePastTrial(bx, clock, idx)
	bx.localUtility = 5

	err := bx.ReceivePathNegotiationRequest(idx, mustEncodeUtility(5), 2 /* Y, larger */)
	require.NoError(t, err)
	assert.Equal(t, pathslot.NoSlot, bx.negotiatedPathIdx)

	by, clock2 := newTestBond(t, PolicyBalanceXOR)
	by.localAddress = 2 // Y, larger

	idxY := nominate(t, by, clock2, 1, "10.0.0.1:1000")
	settlePastTrial(by, clock2, idxY)
	by.localUtility = 5

	err = by.ReceivePathNegotiationRequest(idxY, mustEncodeUtility(5), 1 /* X, smaller */)
	require.NoError(t, err)
	assert.Equal(t, idxY, by.negotiatedPathIdx)
}

func mustEncodeUtility(u int16) []byte {
	buf := make([]byte, 2)
	buf[0] = byte(u >> 8)
	buf[1] = byte(u)
	return buf
}

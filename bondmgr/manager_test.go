package bondmgr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/encodeous/nybond/bond"
	"github.com/encodeous/nybond/bondiface"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) NowMs() int64 { return c.now }

type fakeTransport struct{ ifnames map[uint64]string }

func (t *fakeTransport) PutPacket(bondiface.SocketHandle, netip.AddrPort, []byte) {}
func (t *fakeTransport) InterfaceName(s bondiface.SocketHandle) string {
	return t.ifnames[uint64(s)]
}

type fakeRandom struct{}

func (fakeRandom) SecureBytes(n int) []byte { return make([]byte, n) }

type fakePeer struct {
	address          uint64
	multipathSupport bool
}

func (p *fakePeer) Address() uint64               { return p.address }
func (p *fakePeer) AESAvailable() bool            { return false }
func (p *fakePeer) LocalMultipathSupported() bool { return p.multipathSupport }
func (p *fakePeer) RemoteVersion() (int, int, int, int) { return 10, 0, 0, 0 }

func newTestManager() *Manager {
	return New(1, &fakeClock{}, &fakeTransport{ifnames: map[uint64]string{}}, fakeRandom{})
}

func TestGetOrCreateBondIsIdempotent(t *testing.T) {
	m := newTestManager()
	peer := &fakePeer{address: 42, multipathSupport: true}

	b1 := m.GetOrCreateBond(peer)
	b2 := m.GetOrCreateBond(peer)
	assert.Same(t, b1, b2)

	got, ok := m.GetBond(42)
	require.True(t, ok)
	assert.Same(t, b1, got)
}

func TestGetOrCreateBondUsesAssignedPolicy(t *testing.T) {
	m := newTestManager()
	m.DefineTemplate("fast", bond.DefaultParams(bond.PolicyBalanceXOR))
	m.AssignPolicy(7, "fast")

	b := m.GetOrCreateBond(&fakePeer{address: 7, multipathSupport: true})
	assert.Equal(t, bond.PolicyBalanceXOR, b.Policy())
}

func TestGetOrCreateBondFallsBackToDefault(t *testing.T) {
	m := newTestManager()
	m.SetDefaultPolicy(bond.PolicyBroadcast)

	b := m.GetOrCreateBond(&fakePeer{address: 9, multipathSupport: true})
	assert.Equal(t, bond.PolicyBroadcast, b.Policy())
}

func TestRemoveBondDropsEntry(t *testing.T) {
	m := newTestManager()
	peer := &fakePeer{address: 3, multipathSupport: true}
	m.GetOrCreateBond(peer)

	m.RemoveBond(3)
	_, ok := m.GetBond(3)
	assert.False(t, ok)
}

func TestApplyConfigWiresTemplatesLinksAndPeers(t *testing.T) {
	m := newTestManager()
	cfg := &Config{
		Default: "wan",
		Policies: map[string]PolicyConfig{
			"wan": {
				Policy: "active-backup",
				Links: []LinkConfig{
					{Interface: "eth0", Mode: "primary", Enabled: true},
					{Interface: "eth1", Mode: "spare", Enabled: true},
				},
			},
		},
		Peers: map[string]string{"2a": "wan"},
	}

	require.NoError(t, m.Apply(cfg))

	alias, link, ok := m.ResolveInterface("eth0")
	require.True(t, ok)
	assert.Equal(t, "wan", alias)
	assert.True(t, link.Enabled)

	b := m.GetOrCreateBond(&fakePeer{address: 0x2a, multipathSupport: true})
	assert.Equal(t, bond.PolicyActiveBackup, b.Policy())
}

func TestDecodeConfigRoundTrip(t *testing.T) {
	cfg := &Config{
		Default: "wan",
		Policies: map[string]PolicyConfig{
			"wan": {
				Policy: "balance-xor",
				Links: []LinkConfig{
					{Interface: "eth0", Mode: "primary", Enabled: true},
				},
			},
		},
		Peers: map[string]string{"1": "wan"},
	}

	data, err := EncodeConfig(cfg)
	require.NoError(t, err)

	decoded, err := DecodeConfig(data)
	require.NoError(t, err)
	assert.Equal(t, "wan", decoded.Default)
	assert.Equal(t, "balance-xor", decoded.Policies["wan"].Policy)
}

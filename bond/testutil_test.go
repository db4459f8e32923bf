package bond

import (
	"net/netip"

	"github.com/encodeous/nybond/bondiface"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) NowMs() int64 { return c.now }

type sentPacket struct {
	socket  uint64
	addr    netip.AddrPort
	payload []byte
}

type fakeTransport struct {
	ifnames map[uint64]string
	sent    []sentPacket
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ifnames: make(map[uint64]string)}
}

func (t *fakeTransport) PutPacket(socket bondiface.SocketHandle, addr netip.AddrPort, payload []byte) {
	t.sent = append(t.sent, sentPacket{socket: uint64(socket), addr: addr, payload: payload})
}

func (t *fakeTransport) InterfaceName(socket bondiface.SocketHandle) string {
	return t.ifnames[uint64(socket)]
}

type fakeRandom struct {
	bytes []byte
	pos   int
}

func (r *fakeRandom) SecureBytes(n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if len(r.bytes) == 0 {
			out[i] = 0
			continue
		}
		out[i] = r.bytes[r.pos%len(r.bytes)]
		r.pos++
	}
	return out
}

type fakePeer struct {
	address          uint64
	multipathSupport bool
	aesAvailable     bool
	protocolVersion  int
	major            int
	minor            int
	revision         int
}

func (p *fakePeer) Address() uint64                { return p.address }
func (p *fakePeer) AESAvailable() bool             { return p.aesAvailable }
func (p *fakePeer) LocalMultipathSupported() bool  { return p.multipathSupport }
func (p *fakePeer) RemoteVersion() (int, int, int, int) {
	return p.protocolVersion, p.major, p.minor, p.revision
}

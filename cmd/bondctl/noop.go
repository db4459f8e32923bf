package bondctl

import (
	"net/netip"

	"github.com/encodeous/nybond/bondiface"
)

// noopClock, noopTransport, and noopRandom satisfy bondiface's
// collaborator interfaces well enough to let validate construct a
// throwaway bondmgr.Manager without a live node attached.
type noopClock struct{}

func (noopClock) NowMs() int64 { return 0 }

type noopTransport struct{}

func (noopTransport) PutPacket(bondiface.SocketHandle, netip.AddrPort, []byte) {}
func (noopTransport) InterfaceName(bondiface.SocketHandle) string             { return "" }

type noopRandom struct{}

func (noopRandom) SecureBytes(n int) []byte { return make([]byte, n) }

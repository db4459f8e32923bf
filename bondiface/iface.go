// Package bondiface declares the collaborators the bonding core consumes
// but never implements: the clock, the transport, an entropy source, the
// remote peer handle, and the packet switch. The overlay node that embeds
// the bonding core supplies concrete implementations of these.
package bondiface

import "net/netip"

// Clock is a monotonic millisecond time source.
type Clock interface {
	NowMs() int64
}

// Transport sends a framed packet to a specific address over a specific
// local socket, fire-and-forget, and resolves a local socket handle back to
// an OS interface name.
type Transport interface {
	// PutPacket hands a fully-framed packet to the network for egress. It
	// never blocks and never reports delivery.
	PutPacket(socket SocketHandle, addr netip.AddrPort, payload []byte)
	// InterfaceName resolves a local socket handle to the OS interface name
	// it is bound to. The returned string is truncated to 32 bytes.
	InterfaceName(socket SocketHandle) string
}

// SocketHandle identifies a local socket the transport owns. The bonding
// core treats it as an opaque comparable key.
type SocketHandle uintptr

// Random is an entropy source for path-selection dice rolls.
type Random interface {
	// SecureBytes fills a slice with cryptographically random bytes.
	SecureBytes(n int) []byte
}

// Peer is the remote endpoint a Bond aggregates paths towards.
type Peer interface {
	// Address is the peer's 40-bit overlay identity address.
	Address() uint64
	// AESAvailable reports whether the peer's session supports AES framing.
	AESAvailable() bool
	// RemoteVersion returns the remote node's advertised protocol version
	// and major/minor/revision build numbers.
	RemoteVersion() (protocol, major, minor, revision int)
	// LocalMultipathSupported reports whether this peer's session has
	// negotiated multipath support; when false the bond stays single-path
	// and process_background_tasks short-circuits.
	LocalMultipathSupported() bool
}

// Switch is the fallback egress path used when a specific local socket is
// not available for a packet (e.g. armored control packets sent without a
// pinned path).
type Switch interface {
	Send(payload []byte)
}

package bond

import (
	"github.com/encodeous/nybond/bondconst"
	"github.com/encodeous/nybond/bondproto"
	"github.com/encodeous/nybond/pathslot"
)

// qosSendInterval and monitorInterval derive from the bond's failover
// interval.
func (b *Bond) qosSendInterval() int64 {
	return 2 * b.params.FailoverInterval.Milliseconds()
}

func (b *Bond) monitorInterval() int64 {
	return b.params.FailoverInterval.Milliseconds() / bondconst.EchosPerFailover
}

// ShouldTrackQoS reports whether packetID's outgoing send should be
// recorded in the outstanding-ack map, per the ACK_DIVISOR gate: packet
// ids whose low bits are nonzero modulo ACK_DIVISOR are tracked, and
// QOS_MEASUREMENT packets never are. Verb has no ACK value, so ACK
// packets are not excluded here.
func ShouldTrackQoS(packetID uint64, verb bondproto.Verb) bool {
	if verb == bondproto.VerbQoSMeasurement {
		return false
	}
	return packetID&(bondconst.AckDivisor-1) != 0
}

// processQoSTasks emits QOS_MEASUREMENT and ECHO packets on eligible slots
// that are due.
func (b *Bond) processQoSTasks(now int64) {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()

	qosInterval := b.qosSendInterval()
	monitorInterval := b.monitorInterval()

	for _, s := range b.slots {
		if s.Empty() || !s.Eligible {
			continue
		}

		dueByTime := now-s.LastQoSSent >= qosInterval
		dueByVolume := s.PacketsReceivedSinceLastQoS >= bondproto.QoSTableSize
		if dueByTime || dueByVolume {
			b.emitQoSMeasurementLocked(s, now)
		}

		if now-s.LastOut >= monitorInterval {
			b.emitEchoLocked(s, now)
		}
	}
}

func (b *Bond) emitQoSMeasurementLocked(s *pathslot.Slot, now int64) {
	limit := s.PacketsReceivedSinceLastQoS
	if limit > bondproto.QoSTableSize {
		limit = bondproto.QoSTableSize
	}
	records := s.DrainQoSRecords(now, limit)
	payload := bondproto.EncodeQoSMeasurement(records)
	b.transport.PutPacket(s.Path.Socket, s.Path.Addr, payload)
	b.recordOverheadLocked(len(payload))
	s.LastQoSSent = now
}

func (b *Bond) emitEchoLocked(s *pathslot.Slot, now int64) {
	if !b.remoteUnderstandsEcho() {
		return
	}
	b.transport.PutPacket(s.Path.Socket, s.Path.Addr, nil)
}

// remoteUnderstandsEcho reports whether the peer's advertised version
// supports a payload-less ECHO heartbeat: protocol revision
// minEchoProtocolVersion or newer, excluding the excludedEchoBuild
// major/minor/revision that shipped an ECHO handler known to be broken.
func (b *Bond) remoteUnderstandsEcho() bool {
	proto, major, minor, revision := b.Peer.RemoteVersion()
	if proto < minEchoProtocolVersion {
		return false
	}
	if major == excludedEchoBuild.major && minor == excludedEchoBuild.minor && revision == excludedEchoBuild.revision {
		return false
	}
	return true
}

// minEchoProtocolVersion is the lowest remote protocol version that
// understands a payload-less ECHO heartbeat.
const minEchoProtocolVersion = 5

// excludedEchoBuild is the one build carved out of the ECHO heartbeat even
// though its protocol version otherwise qualifies: it advertised support
// but never correctly answered.
var excludedEchoBuild = struct{ major, minor, revision int }{1, 1, 0}

// ReceiveQoSMeasurement handles an inbound QOS_MEASUREMENT payload for the
// given slot, extending its latency samples.
func (b *Bond) ReceiveQoSMeasurement(pathIdx int, payload []byte, now int64) error {
	records, err := bondproto.DecodeQoSMeasurement(payload)
	if err != nil {
		return err
	}
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()
	if pathIdx < 0 || pathIdx >= pathslot.MaxPaths || b.slots[pathIdx].Empty() {
		return nil
	}
	b.slots[pathIdx].ReceiveQoS(now, records)
	return nil
}

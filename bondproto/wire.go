// Package bondproto implements the three wire-protocol verbs the bonding
// core adds to the enclosing packet format: ECHO, QOS_MEASUREMENT, and
// PATH_NEGOTIATION_REQUEST. Payloads are fixed-width, network-byte-order
// records rather than a general-purpose serialization format, so they're
// encoded by hand with encoding/binary instead of protobuf — there is no
// schema evolution concern here, only an exact byte layout.
package bondproto

import (
	"encoding/binary"
	"fmt"
)

// Verb identifies which of the bonding core's wire messages a packet
// carries.
type Verb uint8

const (
	VerbEcho Verb = iota
	VerbQoSMeasurement
	VerbPathNegotiationRequest
)

func (v Verb) String() string {
	switch v {
	case VerbEcho:
		return "ECHO"
	case VerbQoSMeasurement:
		return "QOS_MEASUREMENT"
	case VerbPathNegotiationRequest:
		return "PATH_NEGOTIATION_REQUEST"
	default:
		return fmt.Sprintf("Verb(%d)", uint8(v))
	}
}

// QoSMaxPacketSize is the maximum serialized payload size of a
// QOS_MEASUREMENT packet.
const QoSMaxPacketSize = 1400

// QoSTableSize is the maximum number of records carried in one
// QOS_MEASUREMENT packet, and the receipt-count threshold that forces an
// early emission.
const QoSTableSize = 128

const qosRecordSize = 8 + 2 // uint64 packet id + uint16 holding time (ms)

// QoSRecord is one observation: a packet id the sender is acknowledging,
// and how long it sat in the receiver's input queue before being processed.
type QoSRecord struct {
	PacketID    uint64
	HoldingTime uint16
}

// EncodeQoSMeasurement serializes up to QoSTableSize records as 8-byte id +
// 2-byte holding time pairs, big-endian. It silently truncates to
// QoSMaxPacketSize / QoSTableSize, whichever is hit first — callers are
// expected to have already capped the record slice, this is a second line
// of defense against a malformed caller.
func EncodeQoSMeasurement(records []QoSRecord) []byte {
	n := len(records)
	if n > QoSTableSize {
		n = QoSTableSize
	}
	if n*qosRecordSize > QoSMaxPacketSize {
		n = QoSMaxPacketSize / qosRecordSize
	}
	buf := make([]byte, n*qosRecordSize)
	for i := 0; i < n; i++ {
		off := i * qosRecordSize
		binary.BigEndian.PutUint64(buf[off:], records[i].PacketID)
		binary.BigEndian.PutUint16(buf[off+8:], records[i].HoldingTime)
	}
	return buf
}

// DecodeQoSMeasurement parses a QOS_MEASUREMENT payload. A payload whose
// length is not a multiple of the record size, or whose record count
// exceeds QoSTableSize, is rejected rather than silently truncated — per
// convention here, a malformed QoS payload is dropped, not partially accepted.
func DecodeQoSMeasurement(payload []byte) ([]QoSRecord, error) {
	if len(payload) > QoSMaxPacketSize {
		return nil, fmt.Errorf("qos_measurement: payload %d bytes exceeds max %d", len(payload), QoSMaxPacketSize)
	}
	if len(payload)%qosRecordSize != 0 {
		return nil, fmt.Errorf("qos_measurement: payload %d bytes is not a multiple of record size %d", len(payload), qosRecordSize)
	}
	n := len(payload) / qosRecordSize
	if n > QoSTableSize {
		return nil, fmt.Errorf("qos_measurement: %d records exceeds max %d", n, QoSTableSize)
	}
	records := make([]QoSRecord, n)
	for i := 0; i < n; i++ {
		off := i * qosRecordSize
		records[i] = QoSRecord{
			PacketID:    binary.BigEndian.Uint64(payload[off:]),
			HoldingTime: binary.BigEndian.Uint16(payload[off+8:]),
		}
	}
	return records, nil
}

// EncodePathNegotiationRequest serializes the single int16 utility value a
// peer sends to argue for switching to the path the request arrived on.
func EncodePathNegotiationRequest(localUtility int16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(localUtility))
	return buf
}

// DecodePathNegotiationRequest parses the utility value out of a
// PATH_NEGOTIATION_REQUEST payload.
func DecodePathNegotiationRequest(payload []byte) (int16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("path_negotiation_request: payload is %d bytes, want 2", len(payload))
	}
	return int16(binary.BigEndian.Uint16(payload)), nil
}

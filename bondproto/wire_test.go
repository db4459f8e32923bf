package bondproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQoSMeasurementRoundTrip(t *testing.T) {
	records := []QoSRecord{
		{PacketID: 0x1234, HoldingTime: 10},
		{PacketID: 0xdeadbeef, HoldingTime: 65535},
	}
	buf := EncodeQoSMeasurement(records)
	assert.Len(t, buf, len(records)*qosRecordSize)

	decoded, err := DecodeQoSMeasurement(buf)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)
}

func TestQoSMeasurementTruncatesToTableSize(t *testing.T) {
	records := make([]QoSRecord, QoSTableSize+50)
	for i := range records {
		records[i] = QoSRecord{PacketID: uint64(i), HoldingTime: uint16(i)}
	}
	buf := EncodeQoSMeasurement(records)
	decoded, err := DecodeQoSMeasurement(buf)
	require.NoError(t, err)
	assert.Len(t, decoded, QoSTableSize)
}

func TestQoSMeasurementRejectsMalformedPayload(t *testing.T) {
	_, err := DecodeQoSMeasurement([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestQoSMeasurementRejectsOversizedPayload(t *testing.T) {
	_, err := DecodeQoSMeasurement(make([]byte, QoSMaxPacketSize+qosRecordSize))
	assert.Error(t, err)
}

func TestPathNegotiationRequestRoundTrip(t *testing.T) {
	buf := EncodePathNegotiationRequest(-1234)
	util, err := DecodePathNegotiationRequest(buf)
	require.NoError(t, err)
	assert.EqualValues(t, -1234, util)
}

func TestPathNegotiationRequestRejectsBadLength(t *testing.T) {
	_, err := DecodePathNegotiationRequest([]byte{1})
	assert.Error(t, err)
}

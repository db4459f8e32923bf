package pathslot

import (
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/nybond/bondproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOccupyAndEmpty(t *testing.T) {
	s := New()
	assert.True(t, s.Empty())

	p := &Path{}
	s.Occupy(p, 1000)
	assert.False(t, s.Empty())
	assert.Equal(t, int64(1000), s.NominatedAt)
	assert.Equal(t, int64(1000), s.LastAliveToggle)

	s.Clear()
	assert.True(t, s.Empty())
}

func TestAllowedHonorsStrictIPPreference(t *testing.T) {
	s := New()
	s.Enabled = true
	s.Path = &Path{Addr: netip.MustParseAddrPort("10.0.0.1:9000")}

	s.IPPref = IPPreferV4
	assert.True(t, s.Allowed())

	s.IPPref = IPPreferV6
	assert.False(t, s.Allowed())

	s.IPPref = IPPreferAny
	assert.True(t, s.Allowed())
}

func TestAllowedRequiresEnabled(t *testing.T) {
	s := New()
	s.Path = &Path{Addr: netip.MustParseAddrPort("10.0.0.1:9000")}
	s.IPPref = IPPreferAny
	s.Enabled = false
	assert.False(t, s.Allowed())
}

func TestPreferredSoftPreferenceNeverRejects(t *testing.T) {
	s := New()
	s.Enabled = true
	s.Path = &Path{Addr: netip.MustParseAddrPort("[::1]:9000")}
	s.IPPref = IPPreferPreferV4

	assert.True(t, s.Allowed())
	assert.False(t, s.Preferred())
}

func TestRecordIncomingFlipsAliveToggleOnlyWhenDead(t *testing.T) {
	s := New()
	s.Alive = false
	s.RecordIncoming(1, true, false, 500)
	assert.Equal(t, int64(500), s.LastAliveToggle)

	s.Alive = true
	s.RecordIncoming(2, true, false, 900)
	assert.Equal(t, int64(500), s.LastAliveToggle)
}

func TestReceiveQoSComputesLatencyAndDrops(t *testing.T) {
	s := New()
	s.RecordOutgoing(42, true, true, 1000)

	s.ReceiveQoS(1040, []bondproto.QoSRecord{{PacketID: 42, HoldingTime: 10}})
	require.Equal(t, 1, s.LatencySampleCount())

	s.RecomputeLatencyStats()
	assert.InDelta(t, 15.0, s.LatencyMean, 0.001)

	// The matched entry was dropped, so a repeated ack adds no sample.
	s.ReceiveQoS(1050, []bondproto.QoSRecord{{PacketID: 42, HoldingTime: 10}})
	assert.Equal(t, 1, s.LatencySampleCount())
}

func TestReceiveQoSIgnoresUnmatchedID(t *testing.T) {
	s := New()
	s.RecordOutgoing(1, true, true, 1000)
	s.ReceiveQoS(1100, []bondproto.QoSRecord{{PacketID: 99, HoldingTime: 5}})
	assert.Equal(t, 0, s.LatencySampleCount())
}

func TestDrainExpiredOutstandingCountsLosses(t *testing.T) {
	s := New()
	s.RecordOutgoing(1, true, true, 0)
	s.RecordOutgoing(2, true, true, 4000)

	lost := s.DrainExpiredOutstanding(6000, 5*time.Second)
	assert.Equal(t, 1, lost)
}

func TestDrainQoSRecordsRespectsLimitAndResetsCounter(t *testing.T) {
	s := New()
	s.RecordIncoming(1, true, true, 100)
	s.RecordIncoming(2, true, true, 200)
	s.RecordIncoming(3, true, true, 300)
	require.Equal(t, 3, s.PacketsReceivedSinceLastQoS)

	records := s.DrainQoSRecords(500, 2)
	assert.Len(t, records, 2)
	assert.Equal(t, 0, s.PacketsReceivedSinceLastQoS)
}

func TestRecomputeErrorRatioWithNoSamplesIsZero(t *testing.T) {
	s := New()
	s.RecomputeErrorRatio()
	assert.Equal(t, 0.0, s.PacketErrorRatio)
}

func TestRecomputeErrorRatioReflectsInvalidPackets(t *testing.T) {
	s := New()
	s.RecordInvalid()
	s.RecordIncoming(1, true, true, 0)
	s.RecomputeErrorRatio()
	assert.InDelta(t, 0.5, s.PacketErrorRatio, 0.001)
}

func TestRefractoryPeriod(t *testing.T) {
	s := New()
	s.AdjustRefractoryPeriod(1000, 8*time.Second, true)
	assert.True(t, s.InRefractoryPeriod(5000))
	assert.False(t, s.InRefractoryPeriod(9001))
}

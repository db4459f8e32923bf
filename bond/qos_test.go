package bond

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoteUnderstandsEchoGatesOnProtocolVersion(t *testing.T) {
	b := &Bond{Peer: &fakePeer{protocolVersion: minEchoProtocolVersion - 1}}
	assert.False(t, b.remoteUnderstandsEcho())

	b.Peer = &fakePeer{protocolVersion: minEchoProtocolVersion}
	assert.True(t, b.remoteUnderstandsEcho())
}

func TestRemoteUnderstandsEchoExcludesKnownBrokenBuild(t *testing.T) {
	b := &Bond{Peer: &fakePeer{
		protocolVersion: minEchoProtocolVersion + 5,
		major:           excludedEchoBuild.major,
		minor:           excludedEchoBuild.minor,
		revision:        excludedEchoBuild.revision,
	}}
	assert.False(t, b.remoteUnderstandsEcho())

	// A different revision of the same major/minor line is not excluded.
	b.Peer = &fakePeer{
		protocolVersion: minEchoProtocolVersion + 5,
		major:           excludedEchoBuild.major,
		minor:           excludedEchoBuild.minor,
		revision:        excludedEchoBuild.revision + 1,
	}
	assert.True(t, b.remoteUnderstandsEcho())
}

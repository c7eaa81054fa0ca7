package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasMarker(t *testing.T) {
	assert.True(t, hasMarker([]byte("PUNCH"), PunchMarker))
	assert.True(t, hasMarker([]byte("xxPUNCHyy"), PunchMarker))
	assert.False(t, hasMarker([]byte("PUNC"), PunchMarker))
	assert.True(t, hasMarker([]byte("PONG"), ProbeAckMarker))
	assert.False(t, hasMarker([]byte("PING"), ProbeAckMarker))
}

func TestIsPunch(t *testing.T) {
	assert.True(t, isPunch(PunchMarker))
	assert.True(t, isPunch(PunchAckMarker))
	assert.False(t, isPunch(ProbeMarker))

	assert.True(t, isPunchAck(PunchAckMarker))
	assert.False(t, isPunchAck(PunchMarker))
}

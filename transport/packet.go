package transport

import "bytes"

// Wire markers. Each datagram carries one marker as plain ASCII; receivers
// match by containment so trailing bytes are tolerated.
var (
	// PunchMarker is fired at candidates.
	PunchMarker = []byte("PUNCH")
	// PunchAckMarker answers PunchMarker. It is never answered itself.
	PunchAckMarker = []byte("PUNCH_ACK")
	// ProbeMarker asks a peer to prove liveness.
	ProbeMarker = []byte("PING")
	// ProbeAckMarker answers ProbeMarker.
	ProbeAckMarker = []byte("PONG")
)

func hasMarker(payload, marker []byte) bool {
	return bytes.Contains(payload, marker)
}

// isPunchAck reports whether payload acknowledges a punch.
func isPunchAck(payload []byte) bool {
	return hasMarker(payload, PunchAckMarker)
}

// isPunch reports whether payload is a punch or its acknowledgement. Either
// proves the path is open.
func isPunch(payload []byte) bool {
	return hasMarker(payload, PunchMarker) || isPunchAck(payload)
}

package transport

import (
	"fmt"
	"net"

	"github.com/pion/stun"
)

// stunReply is the decoded subset of a STUN message the discovery path uses.
type stunReply struct {
	Type          stun.MessageType
	TransactionID [stun.TransactionIDSize]byte
	MappedAddress Address
}

// encodeBindingRequest builds a Binding Request with a fresh random
// transaction id.
func encodeBindingRequest() ([]byte, [stun.TransactionIDSize]byte, error) {
	msg, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, [stun.TransactionIDSize]byte{}, fmt.Errorf("failed to encode STUN request: %w", err)
	}
	return msg.Raw, msg.TransactionID, nil
}

// decodeBindingResponse decodes raw and extracts the mapped address,
// preferring XOR-MAPPED-ADDRESS over the legacy MAPPED-ADDRESS.
func decodeBindingResponse(raw []byte) (*stunReply, error) {
	msg := &stun.Message{Raw: append([]byte(nil), raw...)}
	if err := msg.Decode(); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidSTUNResponse, err)
	}

	reply := &stunReply{Type: msg.Type, TransactionID: msg.TransactionID}
	if msg.Type != stun.BindingSuccess {
		return reply, fmt.Errorf("%w: unexpected message type %s", ErrInvalidSTUNResponse, msg.Type)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(msg); err == nil {
		reply.MappedAddress = mappedAddress(xorAddr.IP, xorAddr.Port)
		return reply, nil
	}

	var legacy stun.MappedAddress
	if err := legacy.GetFrom(msg); err != nil {
		return reply, fmt.Errorf("%w: no mapped address", ErrInvalidSTUNResponse)
	}
	reply.MappedAddress = mappedAddress(legacy.IP, legacy.Port)
	return reply, nil
}

func mappedAddress(ip net.IP, port int) Address {
	return AddressFromUDP(&net.UDPAddr{IP: ip, Port: port})
}

// EncodeBindingSuccess builds a Binding Success Response echoing the
// transaction id of request and carrying mapped as XOR-MAPPED-ADDRESS. It is
// used by MockDialer responders and loopback STUN fixtures.
func EncodeBindingSuccess(request []byte, mapped Address) ([]byte, error) {
	req := &stun.Message{Raw: append([]byte(nil), request...)}
	if err := req.Decode(); err != nil {
		return nil, fmt.Errorf("failed to decode STUN request: %w", err)
	}

	resp, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: net.ParseIP(mapped.IP), Port: int(mapped.Port)},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode STUN response: %w", err)
	}
	return resp.Raw, nil
}

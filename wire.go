package pmpmapper

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// PublicAddressRequest asks the gateway for its external IPv4 address.
type PublicAddressRequest struct {
	Version uint8
	Opcode  uint8
}

// PublicAddressResponse is the gateway's answer to a PublicAddressRequest.
type PublicAddressResponse struct {
	Version    uint8
	Opcode     uint8
	ResultCode ResultCode
	// Epoch is the number of seconds since the gateway's mapping table
	// was last reset.
	Epoch   uint32
	Address netip.Addr
}

// MappingRequest asks the gateway to create, renew or (with a zero
// Lifetime) destroy a port mapping.
type MappingRequest struct {
	Version     uint8
	Opcode      uint8
	PrivatePort uint16
	PublicPort  uint16
	Lifetime    uint32
}

// MappingResponse is the gateway's answer to a MappingRequest. The
// granted PublicPort and Lifetime may differ from what was requested.
type MappingResponse struct {
	Version     uint8
	Opcode      uint8
	ResultCode  ResultCode
	Epoch       uint32
	PrivatePort uint16
	PublicPort  uint16
	Lifetime    uint32
}

// MarshalBinary encodes the request.
//
//	 0                   1
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Vers = 0      | OP = 0        |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
func (r PublicAddressRequest) MarshalBinary() ([]byte, error) {
	return []byte{r.Version, r.Opcode}, nil
}

// UnmarshalBinary decodes a request. Trailing bytes are ignored.
func (r *PublicAddressRequest) UnmarshalBinary(raw []byte) error {
	if len(raw) < publicAddressReqLength {
		return shortMessage("public address request", publicAddressReqLength, len(raw))
	}
	r.Version = raw[0]
	r.Opcode = raw[1]
	return nil
}

// MarshalBinary encodes the response. Address must be an IPv4 address.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Vers = 0      | OP = 128 + 0  | Result Code                   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Seconds Since Start of Epoch                                  |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| External IPv4 Address (a.b.c.d)                               |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
func (r PublicAddressResponse) MarshalBinary() ([]byte, error) {
	if !r.Address.Is4() {
		return nil, fmt.Errorf("%w: public address %v is not IPv4", ErrInvalidArgument, r.Address)
	}
	b := make([]byte, publicAddressRespLength)
	b[0] = r.Version
	b[1] = r.Opcode
	binary.BigEndian.PutUint16(b[2:4], uint16(r.ResultCode))
	binary.BigEndian.PutUint32(b[4:8], r.Epoch)
	a := r.Address.As4()
	copy(b[8:12], a[:])
	return b, nil
}

// UnmarshalBinary decodes a response. r is left untouched on error.
func (r *PublicAddressResponse) UnmarshalBinary(raw []byte) error {
	if len(raw) < publicAddressRespLength {
		return shortMessage("public address response", publicAddressRespLength, len(raw))
	}
	*r = PublicAddressResponse{
		Version:    raw[0],
		Opcode:     raw[1],
		ResultCode: ResultCode(binary.BigEndian.Uint16(raw[2:4])),
		Epoch:      binary.BigEndian.Uint32(raw[4:8]),
		Address:    netip.AddrFrom4([4]byte(raw[8:12])),
	}
	return nil
}

// MarshalBinary encodes the request. The reserved bytes are always zero.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Vers = 0      | OP = x        | Reserved                      |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Internal Port                 | Suggested External Port       |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Requested Port Mapping Lifetime in Seconds                    |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
func (r MappingRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, mappingReqLength)
	b[0] = r.Version
	b[1] = r.Opcode
	binary.BigEndian.PutUint16(b[4:6], r.PrivatePort)
	binary.BigEndian.PutUint16(b[6:8], r.PublicPort)
	binary.BigEndian.PutUint32(b[8:12], r.Lifetime)
	return b, nil
}

// UnmarshalBinary decodes a request. r is left untouched on error.
func (r *MappingRequest) UnmarshalBinary(raw []byte) error {
	if len(raw) < mappingReqLength {
		return shortMessage("mapping request", mappingReqLength, len(raw))
	}
	*r = MappingRequest{
		Version:     raw[0],
		Opcode:      raw[1],
		PrivatePort: binary.BigEndian.Uint16(raw[4:6]),
		PublicPort:  binary.BigEndian.Uint16(raw[6:8]),
		Lifetime:    binary.BigEndian.Uint32(raw[8:12]),
	}
	return nil
}

// MarshalBinary encodes the response.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Vers = 0      | OP = 128 + x  | Result Code                   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Seconds Since Start of Epoch                                  |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Internal Port                 | Mapped External Port          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Port Mapping Lifetime in Seconds                              |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
func (r MappingResponse) MarshalBinary() ([]byte, error) {
	b := make([]byte, mappingRespLength)
	b[0] = r.Version
	b[1] = r.Opcode
	binary.BigEndian.PutUint16(b[2:4], uint16(r.ResultCode))
	binary.BigEndian.PutUint32(b[4:8], r.Epoch)
	binary.BigEndian.PutUint16(b[8:10], r.PrivatePort)
	binary.BigEndian.PutUint16(b[10:12], r.PublicPort)
	binary.BigEndian.PutUint32(b[12:16], r.Lifetime)
	return b, nil
}

// UnmarshalBinary decodes a response. r is left untouched on error.
func (r *MappingResponse) UnmarshalBinary(raw []byte) error {
	if len(raw) < mappingRespLength {
		return shortMessage("mapping response", mappingRespLength, len(raw))
	}
	*r = MappingResponse{
		Version:     raw[0],
		Opcode:      raw[1],
		ResultCode:  ResultCode(binary.BigEndian.Uint16(raw[2:4])),
		Epoch:       binary.BigEndian.Uint32(raw[4:8]),
		PrivatePort: binary.BigEndian.Uint16(raw[8:10]),
		PublicPort:  binary.BigEndian.Uint16(raw[10:12]),
		Lifetime:    binary.BigEndian.Uint32(raw[12:16]),
	}
	return nil
}

func shortMessage(kind string, want, got int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformedResponse, kind, want, got)
}

package ebpfclassifier

import "encoding/binary"

// EventSize is the fixed wire size of a TrafficEvent record, shared
// bit-for-bit with the in-kernel classifier.
const EventSize = 16

// TrafficEvent is one sampled egress packet matching a configured subnet.
// The layout is contractual: offset 0 timestamp (8), offset 8 dest_ip (4),
// offset 12 dest_port (2), offset 14 protocol (1), offset 15 padding (1).
type TrafficEvent struct {
	Timestamp uint64
	DestIP    uint32
	DestPort  uint16
	Protocol  uint8
	_         uint8
}

// DecodeTrafficEvent decodes a 16-byte little-endian record. Records whose
// length isn't exactly EventSize are rejected since the kernel program never
// emits a partial record; ErrShortRecord signals "drop it and log".
func DecodeTrafficEvent(raw []byte) (TrafficEvent, error) {
	if len(raw) != EventSize {
		return TrafficEvent{}, ErrShortRecord
	}
	return TrafficEvent{
		Timestamp: binary.LittleEndian.Uint64(raw[0:8]),
		DestIP:    binary.LittleEndian.Uint32(raw[8:12]),
		DestPort:  binary.LittleEndian.Uint16(raw[12:14]),
		Protocol:  raw[14],
	}, nil
}

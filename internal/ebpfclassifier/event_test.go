package ebpfclassifier_test

import (
	"encoding/binary"
	"testing"

	"github.com/malbeclabs/wg-ondemand/internal/ebpfclassifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTrafficEvent(t *testing.T) {
	raw := make([]byte, ebpfclassifier.EventSize)
	binary.LittleEndian.PutUint64(raw[0:8], 123456789)
	binary.LittleEndian.PutUint32(raw[8:12], 0x0A000009)
	binary.LittleEndian.PutUint16(raw[12:14], 443)
	raw[14] = 6 // TCP

	event, err := ebpfclassifier.DecodeTrafficEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), event.Timestamp)
	assert.Equal(t, uint32(0x0A000009), event.DestIP)
	assert.Equal(t, uint16(443), event.DestPort)
	assert.Equal(t, uint8(6), event.Protocol)
}

func TestDecodeTrafficEvent_RejectsShortRecord(t *testing.T) {
	_, err := ebpfclassifier.DecodeTrafficEvent(make([]byte, ebpfclassifier.EventSize-1))
	require.ErrorIs(t, err, ebpfclassifier.ErrShortRecord)
}

func TestDecodeTrafficEvent_RejectsLongRecord(t *testing.T) {
	_, err := ebpfclassifier.DecodeTrafficEvent(make([]byte, ebpfclassifier.EventSize+1))
	require.ErrorIs(t, err, ebpfclassifier.ErrShortRecord)
}

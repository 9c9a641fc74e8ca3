package dfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandEncoding(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x02, 0x90, 0x01, 0x00, 0x00}, createCommand(ObjectFirmware, 400))
	assert.Equal(t, []byte{0x01, 0x01, 0x78, 0x56, 0x34, 0x12}, createCommand(ObjectInitPacket, 0x12345678))
	assert.Equal(t, []byte{0x02, 0x0a, 0x00}, prnCommand(10))
	assert.Equal(t, []byte{0x02, 0x34, 0x12}, prnCommand(0x1234))
	assert.Equal(t, []byte{0x06, 0x02}, selectCommand(ObjectFirmware))
	assert.Equal(t, []byte{0x03}, checksumCommand())
	assert.Equal(t, []byte{0x04}, executeCommand())
}

func TestLittleEndianDecoding(t *testing.T) {
	assert.Equal(t, uint32(0x12345678), uint32LE([]byte{0x78, 0x56, 0x34, 0x12}))

	b := make([]byte, 4)
	putUint32LE(b, 0xdeadbeef)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, b)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "checksum", opName(OpCalculateChecksum))
	assert.Equal(t, "op 0x09", opName(0x09))
	assert.Equal(t, "invalid object", resultName(ResultInvalidObject))
	assert.Equal(t, "result 0x42", resultName(0x42))
	assert.Equal(t, "sending-firmware", StateSendingFirmware.String())
}

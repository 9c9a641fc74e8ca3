// Package dfu implements the Nordic secure DFU object transfer: the init
// packet and then the firmware image are each split into objects which are
// created, streamed, checksummed and executed through the control point.
package dfu

import (
	"fmt"

	"github.com/srg/pulsectl/internal/bledb"
)

// Control point opcodes.
const (
	OpCreate                byte = 0x01
	OpPacketReceiptNotifReq byte = 0x02
	OpCalculateChecksum     byte = 0x03
	OpExecute               byte = 0x04
	OpSelectObject          byte = 0x06
	OpResponse              byte = 0x60
)

// Object types.
const (
	ObjectInitPacket byte = 0x01
	ObjectFirmware   byte = 0x02
)

// Result codes carried in byte 2 of a response.
const (
	ResultInvalid              byte = 0x00
	ResultSuccess              byte = 0x01
	ResultOpNotSupported       byte = 0x02
	ResultInvalidParameter     byte = 0x03
	ResultInsufficientResource byte = 0x04
	ResultInvalidObject        byte = 0x05
	ResultUnsupportedType      byte = 0x07
	ResultOperationNotPermit   byte = 0x08
	ResultOperationFailed      byte = 0x0a
	ResultExtendedError        byte = 0x0b
)

var resultNames = map[byte]string{
	ResultInvalid:              "invalid opcode",
	ResultSuccess:              "success",
	ResultOpNotSupported:       "opcode not supported",
	ResultInvalidParameter:     "invalid parameter",
	ResultInsufficientResource: "insufficient resources",
	ResultInvalidObject:        "invalid object",
	ResultUnsupportedType:      "unsupported type",
	ResultOperationNotPermit:   "operation not permitted",
	ResultOperationFailed:      "operation failed",
	ResultExtendedError:        "extended error",
}

func resultName(code byte) string {
	if name, ok := resultNames[code]; ok {
		return name
	}
	return fmt.Sprintf("result 0x%02x", code)
}

var opNames = map[byte]string{
	OpCreate:                "create",
	OpPacketReceiptNotifReq: "prn",
	OpCalculateChecksum:     "checksum",
	OpExecute:               "execute",
	OpSelectObject:          "select",
}

func opName(op byte) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op 0x%02x", op)
}

// Response layouts: [0x60, op, result, ...payload].
const (
	responseHeaderLen   = 3
	selectResponseLen   = 7  // max object size
	checksumResponseLen = 11 // offset, crc
)

var (
	serviceUUID      = bledb.MustValidateUUID(bledb.DFUServiceUUID)
	controlPointUUID = bledb.MustValidateUUID(bledb.DFUControlPointCharUUID)
	packetUUID       = bledb.MustValidateUUID(bledb.DFUPacketCharUUID)
)

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func uint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func selectCommand(objectType byte) []byte {
	return []byte{OpSelectObject, objectType}
}

func createCommand(objectType byte, size uint32) []byte {
	cmd := []byte{OpCreate, objectType, 0, 0, 0, 0}
	putUint32LE(cmd[2:], size)
	return cmd
}

func prnCommand(count uint16) []byte {
	return []byte{OpPacketReceiptNotifReq, byte(count), byte(count >> 8)}
}

func checksumCommand() []byte { return []byte{OpCalculateChecksum} }

func executeCommand() []byte { return []byte{OpExecute} }

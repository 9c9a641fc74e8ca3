// Package pulse drives the Pulse ring-controller accessory: discovery gating,
// the AES challenge-response handshake, the text command protocol and the
// buttonless switch into the DFU bootloader.
package pulse

import "github.com/srg/pulsectl/internal/bledb"

// Outbound command names. A frame on the wire is "<NAME> <seq>[ <args>]".
const (
	CmdPatternStart       = "PATTERN_START"
	CmdPresetPatternStart = "PRESET_PATTERN_START"
	CmdFrame              = "FRAME"
	CmdPatternStop        = "PATTERN_STOP"
	CmdMissedOn           = "MISSED_ON"
	CmdMissedOff          = "MISSED_OFF"
	CmdSignmailOn         = "SIGNMAIL_ON"
	CmdSignmailOff        = "SIGNMAIL_OFF"
	CmdInfoGet            = "INFO_GET"
	CmdAllOff             = "ALL_OFF"
)

// Inbound response tokens on the read characteristic.
const (
	RespInfo              = "INFO_RESPONSE"
	RespGeneric           = "RESPONSE"
	respAlertSwitchPrefix = "ALERT_SWITCH_"
	respRGBSwitchPrefix   = "RGB_SWITCH_"
)

// AuthorizedSentinel is sent on the auth characteristic once the accessory
// accepts the client.
const AuthorizedSentinel = "AUTHORIZED"

// NonceSize is the length of an authentication challenge.
const NonceSize = 16

// Buttonless DFU opcodes and response layout.
const (
	buttonlessEnterBootloader byte = 0x01
	buttonlessSetName         byte = 0x02
	buttonlessResponse        byte = 0x20
	buttonlessSuccess         byte = 0x01

	// MaxBootloaderNameLen is the longest advertising name the bootloader accepts.
	MaxBootloaderNameLen = 20
)

// sharedKey is the AES-128 key provisioned into every accessory.
var sharedKey = [16]byte{'P', 'u', 'l', 's', 'e', 'R', 'i', 'n', 'g', 'C', 't', 'r', 'l', 'K', 'e', 'y'}

// Normalised attribute UUIDs compared against callback arguments.
var (
	serviceUUID        = bledb.MustValidateUUID(bledb.PulseServiceUUID)
	writeCharUUID      = bledb.MustValidateUUID(bledb.PulseWriteCharUUID)
	readCharUUID       = bledb.MustValidateUUID(bledb.PulseReadCharUUID)
	authCharUUID       = bledb.MustValidateUUID(bledb.PulseAuthCharUUID)
	dfuServiceUUID     = bledb.MustValidateUUID(bledb.DFUServiceUUID)
	buttonlessCharUUID = bledb.MustValidateUUID(bledb.DFUButtonlessCharUUID)
)

package protocol

import "fmt"

// Command is a bootloader command identifier.
type Command byte

// Bootloader commands
const (
	CmdGetVersion                 Command = 0x51
	CmdGetHelp                    Command = 0x52
	CmdGetChipID                  Command = 0x53
	CmdGetProtectionStatus        Command = 0x54
	CmdJumpToAddress              Command = 0x55
	CmdEraseFlash                 Command = 0x56
	CmdWriteMemory                Command = 0x57
	CmdEnableRWProtect            Command = 0x58
	CmdReadMemory                 Command = 0x59
	CmdReadSectorProtectionStatus Command = 0x5A
	CmdReadOTP                    Command = 0x5B
	CmdDisableRWProtect           Command = 0x5C
)

// SupportedCommands lists every command in the order GET_HELP reports them.
var SupportedCommands = []Command{
	CmdGetVersion,
	CmdGetHelp,
	CmdGetChipID,
	CmdGetProtectionStatus,
	CmdJumpToAddress,
	CmdEraseFlash,
	CmdWriteMemory,
	CmdEnableRWProtect,
	CmdReadMemory,
	CmdReadSectorProtectionStatus,
	CmdReadOTP,
	CmdDisableRWProtect,
}

var commandNames = map[Command]string{
	CmdGetVersion:                 "GET_VERSION",
	CmdGetHelp:                    "GET_HELP",
	CmdGetChipID:                  "GET_CHIP_ID",
	CmdGetProtectionStatus:        "GET_PROTECTION_STATUS",
	CmdJumpToAddress:              "JUMP_TO_ADDRESS",
	CmdEraseFlash:                 "ERASE_FLASH",
	CmdWriteMemory:                "WRITE_MEMORY",
	CmdEnableRWProtect:            "ENABLE_RW_PROTECT",
	CmdReadMemory:                 "READ_MEMORY",
	CmdReadSectorProtectionStatus: "READ_SECTOR_PROTECTION_STATUS",
	CmdReadOTP:                    "READ_OTP",
	CmdDisableRWProtect:           "DISABLE_RW_PROTECT",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", byte(c))
}

// Known reports whether c is one of the supported commands.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// Response codes
const (
	Ack  = 0xA5
	Nack = 0x7F
)

// BootloaderVersion is reported by GET_VERSION (major in the high nibble).
const BootloaderVersion = 0x10

// Frame geometry
const (
	// RxBufferSize is the receive buffer size, length byte included.
	RxBufferSize = 200

	// PayloadCapacity bounds the payload stored in a CommandPacket.
	PayloadCapacity = RxBufferSize - 3

	// ChecksumSize is the trailing CRC32 size.
	ChecksumSize = 4

	// MinLength is the smallest valid length byte: command + checksum.
	MinLength = 1 + ChecksumSize

	// MinFrameSize is length + command + checksum.
	MinFrameSize = 1 + MinLength
)

// Fixed response body sizes, used by the host to know how much to read.
const (
	VersionBodySize          = 1
	ChipIDBodySize           = 2
	RDPBodySize              = 1
	SectorProtectionBodySize = 2
	OTPBlockSize             = 32
	OTPBodySize              = OTPBlockSize + 1
)

// MaxWriteChunk is the largest data block one WRITE_MEMORY frame can carry:
// the frame must fit RxBufferSize with cmd, address, length byte and CRC.
const MaxWriteChunk = RxBufferSize - 1 - 1 - 4 - 1 - ChecksumSize

// MaxReadChunk is the largest READ_MEMORY request (one length byte).
const MaxReadChunk = 0xFF

// Protection modes for ENABLE_RW_PROTECT
const (
	ModeWriteProtect     = 0x01
	ModeReadWriteProtect = 0x02
)

// DefaultBaudRate is the UART speed used by the bootloader.
const DefaultBaudRate = 115200

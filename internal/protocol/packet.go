package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bigbag/uartboot/internal/crc"
)

// Framing errors
var (
	ErrShortFrame     = errors.New("frame too short")
	ErrFrameTooLong   = errors.New("frame exceeds receive buffer")
	ErrLengthMismatch = errors.New("frame shorter than declared length")
	ErrPayloadTooLong = errors.New("payload exceeds frame capacity")
	ErrNack           = errors.New("device answered NACK")
)

// CommandPacket is a parsed request frame.
//
// It is only built by Parse and owns a copy of the payload.
type CommandPacket struct {
	Command       Command
	Payload       [PayloadCapacity]byte
	PayloadLen    int
	Checksum      uint32
	ChecksumValid bool
}

// Data returns the payload bytes.
func (p *CommandPacket) Data() []byte {
	return p.Payload[:p.PayloadLen]
}

// Parse decodes a request frame.
//
// Frame format:
//
//	[length:1][command:1][payload:0..N][checksum:4, little-endian]
//
// length counts everything after itself. The checksum covers command and
// payload. A checksum mismatch is not an error: the packet is returned with
// ChecksumValid unset and the caller must reject it.
func Parse(buf []byte) (*CommandPacket, error) {
	if len(buf) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(buf))
	}

	length := int(buf[0])
	if length < MinLength {
		return nil, fmt.Errorf("%w: declared length %d", ErrShortFrame, length)
	}

	frameLen := length + 1
	if frameLen > RxBufferSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLong, frameLen, RxBufferSize)
	}
	if len(buf) < frameLen {
		return nil, fmt.Errorf("%w: expected %d, have %d", ErrLengthMismatch, frameLen, len(buf))
	}

	payloadLen := length - MinLength
	if payloadLen > PayloadCapacity {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLong, payloadLen, PayloadCapacity)
	}

	body := buf[1 : frameLen-ChecksumSize]
	received := binary.LittleEndian.Uint32(buf[frameLen-ChecksumSize : frameLen])

	p := &CommandPacket{
		Command:       Command(body[0]),
		PayloadLen:    payloadLen,
		Checksum:      received,
		ChecksumValid: crc.Verify(received, body),
	}
	copy(p.Payload[:], body[1:])

	return p, nil
}

// EncodeRequest builds a request frame for cmd with the given payload.
func EncodeRequest(cmd Command, payload []byte) ([]byte, error) {
	length := MinLength + len(payload)
	if length+1 > RxBufferSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}

	frame := make([]byte, 0, length+1)
	frame = append(frame, byte(length), byte(cmd))
	frame = append(frame, payload...)
	frame = binary.LittleEndian.AppendUint32(frame, crc.Checksum(frame[1:]))

	return frame, nil
}

// ByteWriter is the transmit half of the transport.
type ByteWriter interface {
	WriteBytes(data []byte) error
}

// SendAck writes [ACK][command][body...].
func SendAck(w ByteWriter, cmd Command, body []byte) error {
	frame := make([]byte, 0, 2+len(body))
	frame = append(frame, Ack, byte(cmd))
	frame = append(frame, body...)
	return w.WriteBytes(frame)
}

// SendNack writes [NACK].
func SendNack(w ByteWriter) error {
	return w.WriteBytes([]byte{Nack})
}

// CheckAck validates the two-byte ACK header for cmd.
func CheckAck(cmd Command, header []byte) error {
	if len(header) == 0 {
		return fmt.Errorf("%w: empty response", ErrShortFrame)
	}
	switch header[0] {
	case Nack:
		return fmt.Errorf("%v: %w", cmd, ErrNack)
	case Ack:
	default:
		return fmt.Errorf("%v: unexpected response byte 0x%02X", cmd, header[0])
	}
	if len(header) < 2 {
		return fmt.Errorf("%w: missing command echo", ErrShortFrame)
	}
	if Command(header[1]) != cmd {
		return fmt.Errorf("%v: command echo mismatch: got %v", cmd, Command(header[1]))
	}
	return nil
}

// JumpData creates the payload for JUMP_TO_ADDRESS.
func JumpData(address uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, address)
}

// EraseData creates the payload for ERASE_FLASH.
func EraseData(sector, count byte) []byte {
	return []byte{sector, count}
}

// WriteData creates the payload for WRITE_MEMORY.
func WriteData(address uint32, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > MaxWriteChunk {
		return nil, fmt.Errorf("%w: write chunk of %d bytes", ErrPayloadTooLong, len(data))
	}
	payload := make([]byte, 0, 5+len(data))
	payload = binary.LittleEndian.AppendUint32(payload, address)
	payload = append(payload, byte(len(data)))
	return append(payload, data...), nil
}

// ReadData creates the payload for READ_MEMORY.
func ReadData(address uint32, length byte) []byte {
	payload := binary.LittleEndian.AppendUint32(nil, address)
	return append(payload, length)
}

// ProtectData creates the payload for ENABLE_RW_PROTECT.
func ProtectData(sectorMask, mode byte) []byte {
	return []byte{sectorMask, mode}
}

// OTPData creates the payload for READ_OTP.
func OTPData(block byte) []byte {
	return []byte{block}
}

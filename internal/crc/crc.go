// Package crc implements the 32-bit frame checksum used by the bootloader.
//
// The algorithm follows the STM32 CRC unit: polynomial 0x04C11DB7, initial
// register 0xFFFFFFFF, no reflection and no final XOR. Every input byte is
// fed to the accumulator as a full 32-bit word, so the result differs from
// the common byte-wise CRC-32/MPEG-2.
package crc

// Algorithm constants.
const (
	Polynomial   = 0x04C11DB7
	InitialValue = 0xFFFFFFFF

	// highBit is the MSB tested on every shift step
	highBit = 0x80000000

	// wordBits is the number of shift steps per accumulated word
	wordBits = 32
)

// Engine models the hardware CRC accumulator.
// The zero value must be Reset before use; Checksum does this itself.
type Engine struct {
	register uint32
}

// Reset loads the initial value into the accumulator.
func (e *Engine) Reset() {
	e.register = InitialValue
}

// Accumulate feeds one 32-bit word into the accumulator.
func (e *Engine) Accumulate(word uint32) {
	crc := e.register ^ word
	for i := 0; i < wordBits; i++ {
		if crc&highBit != 0 {
			crc = (crc << 1) ^ Polynomial
		} else {
			crc <<= 1
		}
	}
	e.register = crc
}

// Value returns the current accumulator contents.
func (e *Engine) Value() uint32 {
	return e.register
}

// Checksum resets the accumulator and computes the checksum of data.
// The reset comes first so a previous computation never leaks into this one.
func (e *Engine) Checksum(data []byte) uint32 {
	e.Reset()
	for _, b := range data {
		e.Accumulate(uint32(b))
	}
	return e.register
}

// Checksum computes the checksum of data with a fresh engine.
func Checksum(data []byte) uint32 {
	var e Engine
	return e.Checksum(data)
}

// Verify reports whether received matches the checksum of data.
func Verify(received uint32, data []byte) bool {
	return Checksum(data) == received
}

// Package device simulates the STM32F407 parts the bootloader drives: the
// flash array and its controller, the option bytes, the SRAM banks, the OTP
// area and the chip identity register.
//
// A Device implements flash.Controller and memory.Reader. It is not safe for
// concurrent use.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bigbag/uartboot/internal/flash"
	"github.com/bigbag/uartboot/internal/memory"
)

// Flash controller keys (FLASH_KEYR / FLASH_OPTKEYR)
const (
	flashKey1  = 0x45670123
	flashKey2  = 0xCDEF89AB
	optionKey1 = 0x08192A3B
	optionKey2 = 0x4C5D6E7F
)

// System memory layout
const (
	OTPBase   = 0x1FFF7800
	OTPBlocks = 16
	OTPSize   = OTPBlocks*32 + OTPBlocks

	// DefaultIDCode is DBGMCU_IDCODE of an STM32F40x rev 2 part.
	DefaultIDCode = 0x10076413
)

// Controller errors
var (
	ErrLocked        = errors.New("flash controller locked")
	ErrKeySequence   = errors.New("wrong unlock key sequence")
	ErrWriteProtect  = errors.New("write protection error")
	ErrProgramVerify = errors.New("programmed value mismatch")
	ErrBusFault      = errors.New("bus fault")
)

// Device is a simulated STM32F407.
type Device struct {
	flash   []byte
	sram1   []byte
	sram2   []byte
	bkpsram []byte
	otp     []byte
	optcr   uint32
	idcode  uint32

	locked    bool
	keyStage  int
	optStage  int
	keyFault  bool
	errFlags  int
	dirty     bool
	eraseTime time.Duration
	store     *imageStore
}

// Option configures a Device.
type Option func(*Device)

// WithIDCode sets the DBGMCU_IDCODE value.
func WithIDCode(id uint32) Option {
	return func(d *Device) { d.idcode = id }
}

// WithEraseTime sets how long one sector erase blocks.
func WithEraseTime(t time.Duration) Option {
	return func(d *Device) { d.eraseTime = t }
}

// New creates a blank device: flash erased, factory option bytes.
func New(opts ...Option) *Device {
	d := &Device{
		flash:   make([]byte, memory.FlashSize),
		sram1:   make([]byte, memory.SRAM1Size),
		sram2:   make([]byte, memory.SRAM2Size),
		bkpsram: make([]byte, memory.BackupSRAMSize),
		otp:     make([]byte, OTPSize),
		optcr:   flash.DefaultOptionControl,
		idcode:  DefaultIDCode,
		locked:  true,
	}
	fill(d.flash, 0xFF)
	fill(d.otp, 0xFF)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// ChipID returns the device identifier, bits [11:0] of IDCODE.
func (d *Device) ChipID() uint16 {
	return uint16(d.idcode & 0x0FFF)
}

// ReadoutLevel returns the RDP option byte.
func (d *Device) ReadoutLevel() byte {
	return flash.ReadoutLevel(d.optcr)
}

// OTPBlock returns one 32-byte OTP block and its lock byte.
func (d *Device) OTPBlock(block int) ([]byte, byte, error) {
	if block < 0 || block >= OTPBlocks {
		return nil, 0, fmt.Errorf("otp block %d out of range", block)
	}
	data := make([]byte, 32)
	copy(data, d.otp[block*32:])
	return data, d.otp[OTPBlocks*32+block], nil
}

// backing returns the slice that stores address, and the offset in it.
func (d *Device) backing(address uint32) ([]byte, int, bool) {
	switch memory.Classify(address) {
	case memory.PrimaryRAM:
		return d.sram1, int(address - memory.SRAM1Base), true
	case memory.SecondaryRAM:
		return d.sram2, int(address - memory.SRAM2Base), true
	case memory.NonVolatile:
		return d.flash, int(address - memory.FlashBase), true
	case memory.BackupRAM:
		return d.bkpsram, int(address - memory.BackupSRAMBase), true
	}
	if address >= OTPBase && address < OTPBase+OTPSize {
		return d.otp, int(address - OTPBase), true
	}
	return nil, 0, false
}

// ReadMemory copies len(p) bytes starting at address.
func (d *Device) ReadMemory(address uint32, p []byte) error {
	for i := range p {
		mem, off, ok := d.backing(address + uint32(i))
		if !ok {
			return fmt.Errorf("%w: read 0x%08X", ErrBusFault, address+uint32(i))
		}
		p[i] = mem[off]
	}
	return nil
}

// ReadWord reads a little-endian 32-bit word.
func (d *Device) ReadWord(address uint32) (uint32, error) {
	var buf [4]byte
	if err := d.ReadMemory(address, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Poke stores data directly, bypassing the flash controller. It is meant for
// loading images and RAM contents in tools and tests.
func (d *Device) Poke(address uint32, data []byte) error {
	for i, b := range data {
		mem, off, ok := d.backing(address + uint32(i))
		if !ok {
			return fmt.Errorf("%w: write 0x%08X", ErrBusFault, address+uint32(i))
		}
		mem[off] = b
	}
	if memory.Classify(address) == memory.NonVolatile {
		d.dirty = true
	}
	return nil
}

package device

import (
	"fmt"
	"time"

	"github.com/bigbag/uartboot/internal/flash"
	"github.com/bigbag/uartboot/internal/memory"
)

// writeKey models a write to FLASH_KEYR. A wrong key locks the controller
// until reset.
func (d *Device) writeKey(key uint32) {
	switch {
	case d.keyFault:
	case d.keyStage == 0 && key == flashKey1:
		d.keyStage = 1
	case d.keyStage == 1 && key == flashKey2:
		d.keyStage = 0
		d.locked = false
	default:
		d.keyStage = 0
		d.keyFault = true
	}
}

// writeOptionKey models a write to FLASH_OPTKEYR.
func (d *Device) writeOptionKey(key uint32) {
	switch {
	case d.optStage == 0 && key == optionKey1:
		d.optStage = 1
	case d.optStage == 1 && key == optionKey2:
		d.optStage = 0
		d.optcr &^= flash.OptLock
	default:
		d.optStage = 0
	}
}

// Unlock implements flash.Controller.
func (d *Device) Unlock() error {
	if !d.locked {
		return nil
	}
	d.writeKey(flashKey1)
	d.writeKey(flashKey2)
	if d.locked {
		return ErrKeySequence
	}
	return nil
}

// Lock implements flash.Controller. Pending flash changes are persisted when
// the device is backed by an image file.
func (d *Device) Lock() error {
	d.locked = true
	return d.flush()
}

// ClearErrors implements flash.Controller.
func (d *Device) ClearErrors() {
	d.errFlags = 0
}

// ErrorCount returns the number of controller errors since ClearErrors.
func (d *Device) ErrorCount() int {
	return d.errFlags
}

func (d *Device) fail(err error) error {
	d.errFlags++
	return err
}

// EraseSector implements flash.Controller.
func (d *Device) EraseSector(n int) error {
	if d.locked {
		return d.fail(ErrLocked)
	}
	s, ok := flash.SectorFor(n)
	if !ok {
		return d.fail(fmt.Errorf("sector %d does not exist", n))
	}
	if flash.StatusFromOptionControl(d.optcr).WriteProtected(n) {
		return d.fail(fmt.Errorf("%w: sector %d", ErrWriteProtect, n))
	}

	if d.eraseTime > 0 {
		time.Sleep(d.eraseTime)
	}
	off := int(s.Base - memory.FlashBase)
	fill(d.flash[off:off+s.Size], 0xFF)
	d.dirty = true
	return nil
}

// ProgramByte implements flash.Controller. Programming can only clear bits,
// so writing a value over a non-erased cell is reported as a verify error.
func (d *Device) ProgramByte(address uint32, b byte) error {
	if d.locked {
		return d.fail(ErrLocked)
	}
	s, ok := flash.SectorAt(address)
	if !ok {
		return d.fail(fmt.Errorf("%w: program 0x%08X", ErrBusFault, address))
	}
	if flash.StatusFromOptionControl(d.optcr).WriteProtected(s.Number) {
		return d.fail(fmt.Errorf("%w: sector %d", ErrWriteProtect, s.Number))
	}

	off := address - memory.FlashBase
	d.flash[off] &= b
	d.dirty = true
	if d.flash[off] != b {
		return d.fail(fmt.Errorf("%w at 0x%08X: have 0x%02X, want 0x%02X", ErrProgramVerify, address, d.flash[off], b))
	}
	return nil
}

// UnlockOptions implements flash.Controller.
func (d *Device) UnlockOptions() error {
	if d.optcr&flash.OptLock == 0 {
		return nil
	}
	d.writeOptionKey(optionKey1)
	d.writeOptionKey(optionKey2)
	if d.optcr&flash.OptLock != 0 {
		return ErrKeySequence
	}
	return nil
}

// LockOptions implements flash.Controller.
func (d *Device) LockOptions() error {
	d.optcr |= flash.OptLock
	return d.flush()
}

// OptionControl implements flash.Controller.
func (d *Device) OptionControl() uint32 {
	return d.optcr
}

// CommitOptions implements flash.Controller. Leaving RDP level 1 for level 0
// erases the whole flash, as the hardware does.
func (d *Device) CommitOptions(optcr uint32) error {
	if d.optcr&flash.OptLock != 0 {
		return d.fail(ErrLocked)
	}

	oldLevel := flash.ReadoutLevel(d.optcr)
	newLevel := flash.ReadoutLevel(optcr)
	if oldLevel == flash.RDPLevel2 && newLevel != flash.RDPLevel2 {
		return d.fail(fmt.Errorf("%w: RDP level 2 is permanent", ErrWriteProtect))
	}

	d.optcr = optcr &^ (flash.OptStart | flash.OptLock)
	if oldLevel != flash.RDPLevel0 && newLevel == flash.RDPLevel0 {
		fill(d.flash, 0xFF)
	}
	d.dirty = true
	return nil
}

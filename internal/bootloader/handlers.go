package bootloader

import (
	"encoding/binary"

	"github.com/bigbag/uartboot/internal/flash"
	"github.com/bigbag/uartboot/internal/memory"
	"github.com/bigbag/uartboot/internal/protocol"
)

func (d *Dispatcher) handleGetVersion() error {
	return d.ack(protocol.CmdGetVersion, []byte{protocol.BootloaderVersion})
}

func (d *Dispatcher) handleGetHelp() error {
	body := make([]byte, len(protocol.SupportedCommands))
	for i, c := range protocol.SupportedCommands {
		body[i] = byte(c)
	}
	return d.ack(protocol.CmdGetHelp, body)
}

func (d *Dispatcher) handleGetChipID() error {
	body := binary.LittleEndian.AppendUint16(nil, d.chip.ChipID())
	return d.ack(protocol.CmdGetChipID, body)
}

func (d *Dispatcher) handleGetProtectionStatus() error {
	return d.ack(protocol.CmdGetProtectionStatus, []byte{d.flash.ReadoutLevel()})
}

// handleJump answers [addr:4]. The ACK goes out before the vector table is
// read; a bad table after that is a fault, not a NACK.
func (d *Dispatcher) handleJump(p []byte) (*Handoff, error) {
	if len(p) < 4 {
		return nil, d.nack()
	}
	address := binary.LittleEndian.Uint32(p)
	if !memory.IsValidJumpTarget(address) {
		d.log.Debug().Hex("addr", p[:4]).Msg("jump target rejected")
		return nil, d.nack()
	}

	if err := d.ack(protocol.CmdJumpToAddress, nil); err != nil {
		return nil, err
	}
	return resolveVectorTable(d.chip, address)
}

// handleErase answers [sector:1][count:1].
func (d *Dispatcher) handleErase(p []byte) error {
	if len(p) < 2 {
		return d.nack()
	}
	return d.result(protocol.CmdEraseFlash, d.flash.Erase(p[0], p[1]))
}

// handleWrite answers [addr:4][len:1][data:len].
func (d *Dispatcher) handleWrite(p []byte) error {
	if len(p) < 6 {
		return d.nack()
	}
	address := binary.LittleEndian.Uint32(p)
	n := int(p[4])
	if n == 0 || 5+n > len(p) {
		return d.nack()
	}
	if memory.Classify(address) != memory.NonVolatile {
		return d.nack()
	}
	return d.result(protocol.CmdWriteMemory, d.flash.Write(address, p[5:5+n]))
}

// handleEnableProtect answers [mask:1][mode:1].
func (d *Dispatcher) handleEnableProtect(p []byte) error {
	if len(p) < 2 {
		return d.nack()
	}
	var mode flash.Mode
	switch p[1] {
	case protocol.ModeWriteProtect:
		mode = flash.WriteProtect
	case protocol.ModeReadWriteProtect:
		mode = flash.ReadWriteProtect
	default:
		return d.nack()
	}
	return d.result(protocol.CmdEnableRWProtect, d.flash.ConfigureProtection(p[0], mode))
}

func (d *Dispatcher) handleDisableProtect() error {
	return d.result(protocol.CmdDisableRWProtect, d.flash.ConfigureProtection(0, flash.DisableAll))
}

// handleRead answers [addr:4][len:1].
func (d *Dispatcher) handleRead(p []byte) error {
	if len(p) < 5 {
		return d.nack()
	}
	address := binary.LittleEndian.Uint32(p)
	n := int(p[4])

	region, ok := memory.ContainsRange(address, n)
	if !ok {
		return d.nack()
	}
	if region == memory.NonVolatile && !d.flashReadable(address, n) {
		return d.nack()
	}

	body := make([]byte, n)
	if err := d.chip.ReadMemory(address, body); err != nil {
		d.log.Debug().Err(err).Msg("memory read failed")
		return d.nack()
	}
	return d.ack(protocol.CmdReadMemory, body)
}

// flashReadable reports whether [address, address+n) may be read back: RDP
// must be level 0 and no sector in range may be PCROP protected.
func (d *Dispatcher) flashReadable(address uint32, n int) bool {
	if d.flash.ReadoutLevel() != flash.RDPLevel0 {
		return false
	}
	status := d.flash.ProtectionStatus()
	last := address + uint32(n) - 1
	for _, s := range flash.Sectors() {
		if s.Base > last || s.End() < address {
			continue
		}
		if status.ReadProtected(s.Number) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) handleReadSectorProtection() error {
	body := binary.LittleEndian.AppendUint16(nil, uint16(d.flash.ProtectionStatus()))
	return d.ack(protocol.CmdReadSectorProtectionStatus, body)
}

// handleReadOTP answers [block:1] with 32 data bytes and the lock byte.
func (d *Dispatcher) handleReadOTP(p []byte) error {
	if len(p) < 1 {
		return d.nack()
	}
	data, lock, err := d.chip.OTPBlock(int(p[0]))
	if err != nil {
		return d.nack()
	}
	return d.ack(protocol.CmdReadOTP, append(data, lock))
}

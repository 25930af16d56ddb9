package bootloader

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/uartboot/internal/memory"
)

// Handoff describes the transfer of control to an application image.
//
// VectorTableOffset is the VTOR value at handoff. The bootloader does not
// relocate the vector table, so it stays at the reset value and the
// application must set VTOR itself.
type Handoff struct {
	Address           uint32
	StackPointer      uint32
	ResetHandler      uint32
	VectorTableOffset uint32
}

func (h *Handoff) String() string {
	return fmt.Sprintf("jump to 0x%08X (msp=0x%08X reset=0x%08X vtor=0x%08X)",
		h.Address, h.StackPointer, h.ResetHandler, h.VectorTableOffset)
}

// FaultError reports a jump target that passed address validation but does
// not hold a usable vector table. The bootloader halts on it.
type FaultError struct {
	Address uint32
	Reason  string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("fault: invalid vector table at 0x%08X: %s", e.Address, e.Reason)
}

// resolveVectorTable reads the initial stack pointer and reset handler at
// address and checks that both are plausible.
func resolveVectorTable(mem memory.Reader, address uint32) (*Handoff, error) {
	var vt [8]byte
	if err := mem.ReadMemory(address, vt[:]); err != nil {
		return nil, &FaultError{Address: address, Reason: err.Error()}
	}

	sp := binary.LittleEndian.Uint32(vt[0:4])
	reset := binary.LittleEndian.Uint32(vt[4:8])

	// The initial stack pointer is the top of the stack, one past the last
	// usable word.
	if sp&0x3 != 0 || !memory.Classify(sp-1).IsRAM() {
		return nil, &FaultError{Address: address, Reason: fmt.Sprintf("stack pointer 0x%08X not in RAM", sp)}
	}
	if reset&1 == 0 {
		return nil, &FaultError{Address: address, Reason: fmt.Sprintf("reset handler 0x%08X is not a Thumb address", reset)}
	}
	if !memory.IsValidJumpTarget(reset &^ 1) {
		return nil, &FaultError{Address: address, Reason: fmt.Sprintf("reset handler 0x%08X outside memory", reset)}
	}

	return &Handoff{
		Address:      address,
		StackPointer: sp,
		ResetHandler: reset,
	}, nil
}

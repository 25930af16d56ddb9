// Package memory classifies addresses of the STM32F407 memory map.
//
// Classify is the single gate for every address that arrives from the wire:
// the jump, read and write paths all go through it.
package memory

import "fmt"

// Region is a named area of the address space.
type Region int

const (
	Unknown Region = iota
	PrimaryRAM
	SecondaryRAM
	NonVolatile
	BackupRAM
)

// Memory map for STM32F407xx
const (
	SRAM1Base = 0x20000000
	SRAM1Size = 112 * 1024

	SRAM2Base = 0x2001C000
	SRAM2Size = 16 * 1024

	FlashBase = 0x08000000
	FlashSize = 512 * 1024

	BackupSRAMBase = 0x40024000
	BackupSRAMSize = 4 * 1024

	// AppBase is where the resident application image starts (sector 2).
	AppBase = 0x08008000
)

// span is an inclusive address range.
type span struct {
	base, end uint32
}

var regions = []struct {
	region Region
	span   span
}{
	{PrimaryRAM, span{SRAM1Base, SRAM1Base + SRAM1Size - 1}},
	{SecondaryRAM, span{SRAM2Base, SRAM2Base + SRAM2Size - 1}},
	{NonVolatile, span{FlashBase, FlashBase + FlashSize - 1}},
	{BackupRAM, span{BackupSRAMBase, BackupSRAMBase + BackupSRAMSize - 1}},
}

// Regions returns the classified regions in table order.
func Regions() []Region {
	out := make([]Region, len(regions))
	for i, r := range regions {
		out[i] = r.region
	}
	return out
}

// Classify maps an address to its region. Every address maps to exactly one
// region; addresses outside the table are Unknown.
func Classify(address uint32) Region {
	for _, r := range regions {
		if address >= r.span.base && address <= r.span.end {
			return r.region
		}
	}
	return Unknown
}

// IsValidJumpTarget reports whether address lies in a classified region.
func IsValidJumpTarget(address uint32) bool {
	return Classify(address) != Unknown
}

// ContainsRange reports whether [address, address+n) lies inside one region
// and returns that region. n == 0 is never contained.
func ContainsRange(address uint32, n int) (Region, bool) {
	if n <= 0 {
		return Unknown, false
	}
	first := Classify(address)
	if first == Unknown {
		return Unknown, false
	}
	last := uint64(address) + uint64(n) - 1
	if last > 0xFFFFFFFF {
		return first, false
	}
	return first, Classify(uint32(last)) == first
}

// Bounds returns the inclusive [base, end] of r. Unknown has no bounds.
func (r Region) Bounds() (base, end uint32, ok bool) {
	for _, e := range regions {
		if e.region == r {
			return e.span.base, e.span.end, true
		}
	}
	return 0, 0, false
}

// Size returns the byte size of r, or 0 for Unknown.
func (r Region) Size() int {
	base, end, ok := r.Bounds()
	if !ok {
		return 0
	}
	return int(end-base) + 1
}

// IsRAM reports whether r is one of the volatile RAM banks.
func (r Region) IsRAM() bool {
	return r == PrimaryRAM || r == SecondaryRAM || r == BackupRAM
}

func (r Region) String() string {
	switch r {
	case PrimaryRAM:
		return "SRAM1"
	case SecondaryRAM:
		return "SRAM2"
	case NonVolatile:
		return "FLASH"
	case BackupRAM:
		return "BKPSRAM"
	case Unknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("Region(%d)", int(r))
	}
}

// Reader reads raw bytes from the device address space.
type Reader interface {
	ReadMemory(address uint32, p []byte) error
}

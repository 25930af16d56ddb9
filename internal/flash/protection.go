package flash

import "fmt"

// Option control register (FLASH_OPTCR) layout
const (
	OptLock    = 1 << 0
	OptStart   = 1 << 1
	optRDPShft = 8
	optWRPShft = 16
	OptSPRMOD  = 1 << 31

	// wrpBits covers nWRP0..nWRP11
	wrpBits = 0x0FFF
)

// Readout protection levels
const (
	RDPLevel0 = 0xAA
	RDPLevel2 = 0xCC
)

// DefaultOptionControl is the reset value 0x0FFFAAED: options locked,
// RDP level 0, no sector protected.
const DefaultOptionControl = wrpBits<<optWRPShft | RDPLevel0<<optRDPShft | 0xEC | OptLock

// ProtectionStatus is the option halfword at 0x1FFFC008: nWRP in bits 0..11
// and SPRMOD in bit 15.
//
// With SPRMOD clear, a cleared nWRP bit write-protects the sector. With SPRMOD
// set, a set bit read-and-write protects it (PCROP).
type ProtectionStatus uint16

const statusSPRMOD = 1 << 15

// StatusFromOptionControl extracts the protection halfword from OPTCR.
func StatusFromOptionControl(optcr uint32) ProtectionStatus {
	s := ProtectionStatus((optcr >> optWRPShft) & wrpBits)
	if optcr&OptSPRMOD != 0 {
		s |= statusSPRMOD
	}
	return s
}

// ReadoutLevel extracts the RDP byte from OPTCR.
func ReadoutLevel(optcr uint32) byte {
	return byte(optcr >> optRDPShft)
}

// PCROP reports whether the status is in read-and-write protection mode.
func (p ProtectionStatus) PCROP() bool {
	return p&statusSPRMOD != 0
}

func (p ProtectionStatus) bit(sector int) bool {
	return p&(1<<uint(sector)) != 0
}

// WriteProtected reports whether sector may not be erased or programmed.
func (p ProtectionStatus) WriteProtected(sector int) bool {
	if p.PCROP() {
		return p.bit(sector)
	}
	return !p.bit(sector)
}

// ReadProtected reports whether sector may not be read.
func (p ProtectionStatus) ReadProtected(sector int) bool {
	return p.PCROP() && p.bit(sector)
}

// Mask returns one bit per sector that is write-protected.
func (p ProtectionStatus) Mask() byte {
	var m byte
	for i := 0; i < MaxSectors; i++ {
		if p.WriteProtected(i) {
			m |= 1 << uint(i)
		}
	}
	return m
}

// Mode selects how ConfigureProtection changes the option bytes.
type Mode int

const (
	WriteProtect     Mode = 1
	ReadWriteProtect Mode = 2
	DisableAll       Mode = 3
)

func (m Mode) String() string {
	switch m {
	case WriteProtect:
		return "write-protect"
	case ReadWriteProtect:
		return "read-write-protect"
	case DisableAll:
		return "disable-all"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// apply returns optcr with the protection change for mask applied.
func (m Mode) apply(optcr uint32, mask byte) (uint32, error) {
	bits := uint32(mask) << optWRPShft
	switch m {
	case WriteProtect:
		optcr &^= OptSPRMOD
		optcr &^= bits
	case ReadWriteProtect:
		optcr |= OptSPRMOD
		optcr &^= wrpBits << optWRPShft
		optcr |= bits
	case DisableAll:
		optcr &^= OptSPRMOD
		optcr |= wrpBits << optWRPShft
	default:
		return optcr, fmt.Errorf("%w: %v", ErrInvalidMode, m)
	}
	return optcr | OptStart, nil
}

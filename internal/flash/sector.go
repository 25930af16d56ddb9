package flash

import "github.com/bigbag/uartboot/internal/memory"

// Sector is one independently erasable unit of flash.
type Sector struct {
	Number int
	Base   uint32
	Size   int
}

// End returns the last address of the sector.
func (s Sector) End() uint32 {
	return s.Base + uint32(s.Size) - 1
}

// Contains reports whether address lies in the sector.
func (s Sector) Contains(address uint32) bool {
	return address >= s.Base && address <= s.End()
}

// Sector geometry for STM32F407xx (512K part)
const (
	// MaxSectors is the number of sectors and the largest erase count.
	MaxSectors = 8

	// MassErase selects every sector in an erase request.
	MassErase = 0xFF

	// AppSector is the first sector of the application image.
	AppSector = 2
)

var sectors = [MaxSectors]Sector{
	{0, 0x08000000, 16 * 1024},
	{1, 0x08004000, 16 * 1024},
	{2, 0x08008000, 16 * 1024},
	{3, 0x0800C000, 16 * 1024},
	{4, 0x08010000, 64 * 1024},
	{5, 0x08020000, 128 * 1024},
	{6, 0x08040000, 128 * 1024},
	{7, 0x08060000, 128 * 1024},
}

// SectorFor returns the sector with the given number.
func SectorFor(number int) (Sector, bool) {
	if number < 0 || number >= MaxSectors {
		return Sector{}, false
	}
	return sectors[number], true
}

// SectorAt returns the sector containing address.
func SectorAt(address uint32) (Sector, bool) {
	if memory.Classify(address) != memory.NonVolatile {
		return Sector{}, false
	}
	for _, s := range sectors {
		if s.Contains(address) {
			return s, true
		}
	}
	return Sector{}, false
}

// Sectors returns a copy of the sector table.
func Sectors() []Sector {
	out := make([]Sector, MaxSectors)
	copy(out, sectors[:])
	return out
}

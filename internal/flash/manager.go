// Package flash manages erase, program and protection of the on-chip flash.
//
// Every mutating operation validates its target first, then unlocks the
// controller and relocks it before returning, on success or failure.
package flash

import (
	"fmt"

	"github.com/bigbag/uartboot/internal/memory"
)

// Manager owns the flash controller. It must not be copied.
type Manager struct {
	ctrl Controller

	// ProtectBootloader refuses erase and write below memory.AppBase and
	// limits mass erase to the application sectors.
	ProtectBootloader bool
}

// NewManager creates a Manager for ctrl.
func NewManager(ctrl Controller) *Manager {
	return &Manager{ctrl: ctrl}
}

// ProtectionStatus returns the persisted sector protection bits.
func (m *Manager) ProtectionStatus() ProtectionStatus {
	return StatusFromOptionControl(m.ctrl.OptionControl())
}

// ReadoutLevel returns the RDP option byte.
func (m *Manager) ReadoutLevel() byte {
	return ReadoutLevel(m.ctrl.OptionControl())
}

// eraseRange resolves an erase request to the first sector and count.
func (m *Manager) eraseRange(sector, count byte) (int, int, error) {
	if count > MaxSectors {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidSectorCount, count)
	}

	// The count carries no meaning for a mass erase.
	if sector == MassErase {
		first := 0
		if m.ProtectBootloader {
			first = AppSector
		}
		return first, MaxSectors - first, nil
	}

	if count == 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidSectorCount, count)
	}
	if int(sector) >= MaxSectors {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidSector, sector)
	}
	if m.ProtectBootloader && int(sector) < AppSector {
		return 0, 0, fmt.Errorf("%w: sector %d", ErrBootloaderRegion, sector)
	}

	first := int(sector)
	n := int(count)
	if remaining := MaxSectors - first; n > remaining {
		n = remaining
	}
	return first, n, nil
}

// Erase erases count sectors starting at sector, or every sector when sector
// is MassErase. The count is clamped to the end of the table.
func (m *Manager) Erase(sector, count byte) error {
	first, n, err := m.eraseRange(sector, count)
	if err != nil {
		return err
	}

	status := m.ProtectionStatus()
	for i := first; i < first+n; i++ {
		if status.WriteProtected(i) {
			return fmt.Errorf("%w: sector %d", ErrSectorProtected, i)
		}
	}

	return m.withUnlocked(func() error {
		m.ctrl.ClearErrors()
		for i := first; i < first+n; i++ {
			if err := m.ctrl.EraseSector(i); err != nil {
				return &EraseError{Sector: i, Err: err}
			}
		}
		return nil
	})
}

// Write programs data at address one byte at a time. A hardware error aborts
// the write and leaves the bytes already programmed in place.
func (m *Manager) Write(address uint32, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyWrite
	}
	if memory.Classify(address) != memory.NonVolatile {
		return fmt.Errorf("%w: 0x%08X", ErrNotFlash, address)
	}
	if region, ok := memory.ContainsRange(address, len(data)); !ok || region != memory.NonVolatile {
		return fmt.Errorf("%w: 0x%08X+%d", ErrNotFlash, address, len(data))
	}
	if m.ProtectBootloader && address < memory.AppBase {
		return fmt.Errorf("%w: 0x%08X", ErrBootloaderRegion, address)
	}

	status := m.ProtectionStatus()
	last := address + uint32(len(data)) - 1
	for _, s := range sectors {
		if s.Base > last || s.End() < address {
			continue
		}
		if status.WriteProtected(s.Number) {
			return fmt.Errorf("%w: sector %d", ErrSectorProtected, s.Number)
		}
	}

	return m.withUnlocked(func() error {
		m.ctrl.ClearErrors()
		for i, b := range data {
			addr := address + uint32(i)
			if err := m.ctrl.ProgramByte(addr, b); err != nil {
				return &WriteError{Address: addr, Written: i, Err: err}
			}
		}
		return nil
	})
}

// ConfigureProtection changes the sector protection option bytes.
//
// WriteProtect adds write protection for the sectors in mask.
// ReadWriteProtect switches to PCROP mode with exactly the sectors in mask
// protected. DisableAll removes every protection and ignores mask.
func (m *Manager) ConfigureProtection(mask byte, mode Mode) (err error) {
	optcr, err := mode.apply(m.ctrl.OptionControl(), mask)
	if err != nil {
		return err
	}

	uerr := m.ctrl.UnlockOptions()
	defer func() {
		if lerr := m.ctrl.LockOptions(); lerr != nil {
			err = &FatalError{Op: "lock option bytes", Err: lerr}
		}
	}()
	if uerr != nil {
		return fmt.Errorf("unlock option bytes: %w", uerr)
	}

	if err := m.ctrl.CommitOptions(optcr); err != nil {
		return fmt.Errorf("commit option bytes: %w", err)
	}
	return nil
}

// withUnlocked runs fn with the flash interface unlocked and always relocks.
// A relock failure overrides the result of fn.
func (m *Manager) withUnlocked(fn func() error) (err error) {
	uerr := m.ctrl.Unlock()
	defer func() {
		if lerr := m.ctrl.Lock(); lerr != nil {
			err = &FatalError{Op: "lock flash", Err: lerr}
		}
	}()
	if uerr != nil {
		return fmt.Errorf("unlock flash: %w", uerr)
	}
	return fn()
}

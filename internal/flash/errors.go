package flash

import (
	"errors"
	"fmt"
)

// Validation errors. Nothing has touched the hardware when these are returned.
var (
	ErrInvalidSector      = errors.New("invalid sector number")
	ErrInvalidSectorCount = errors.New("invalid number of sectors")
	ErrSectorProtected    = errors.New("sector is protected")
	ErrNotFlash           = errors.New("address range is not in flash")
	ErrBootloaderRegion   = errors.New("target overlaps the bootloader")
	ErrInvalidMode        = errors.New("invalid protection mode")
	ErrEmptyWrite         = errors.New("no data to write")
)

// EraseError reports a hardware failure while erasing a sector.
// Sectors erased before the failure stay erased.
type EraseError struct {
	Sector int
	Err    error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("erase sector %d failed: %v", e.Sector, e.Err)
}

func (e *EraseError) Unwrap() error {
	return e.Err
}

// WriteError reports a hardware failure in the middle of a write.
// The Written bytes before Address are already programmed and are not
// rolled back.
type WriteError struct {
	Address uint32
	Written int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("program byte at 0x%08X failed after %d bytes: %v", e.Address, e.Written, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// FatalError reports a fault that leaves the hardware in an unknown state,
// such as a control interface that could not be locked again. The only safe
// reaction is to halt.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err contains a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

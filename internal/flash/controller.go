package flash

// Controller is the flash interface of the hardware. It is the only path from
// the manager to flash cells and option bytes; every method touches hardware
// state and documents its precondition.
type Controller interface {
	// Unlock opens the flash control interface for erase and program.
	Unlock() error

	// Lock closes the flash control interface. Lock on a locked controller
	// is a no-op.
	Lock() error

	// ClearErrors resets sticky error flags left by a previous operation.
	ClearErrors()

	// EraseSector erases one sector and blocks until it completes.
	// Precondition: Unlock succeeded; n is a valid, unprotected sector.
	EraseSector(n int) error

	// ProgramByte programs one byte.
	// Precondition: Unlock succeeded; address is in flash and unprotected.
	ProgramByte(address uint32, b byte) error

	// UnlockOptions opens the option byte interface.
	UnlockOptions() error

	// LockOptions closes the option byte interface.
	LockOptions() error

	// OptionControl returns the current option control register.
	OptionControl() uint32

	// CommitOptions writes optcr, starts the option byte program and blocks
	// until it completes.
	// Precondition: UnlockOptions succeeded.
	CommitOptions(optcr uint32) error
}

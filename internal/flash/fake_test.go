package flash

import (
	"errors"
	"fmt"
)

// fakeController records calls and keeps flash contents in a map.
type fakeController struct {
	locked     bool
	optLocked  bool
	optcr      uint32
	erased     []int
	programmed map[uint32]byte
	calls      int

	failUnlock   error
	failLock     error
	failOptLock  error
	failProgram  map[uint32]error
	failErase    map[int]error
	unlockedSeen bool
}

func newFake() *fakeController {
	return &fakeController{
		locked:     true,
		optLocked:  true,
		optcr:      DefaultOptionControl,
		programmed: make(map[uint32]byte),
	}
}

var errHW = errors.New("hardware error")

func (f *fakeController) Unlock() error {
	f.calls++
	if f.failUnlock != nil {
		return f.failUnlock
	}
	f.locked = false
	f.unlockedSeen = true
	return nil
}

func (f *fakeController) Lock() error {
	f.calls++
	if f.failLock != nil {
		return f.failLock
	}
	f.locked = true
	return nil
}

func (f *fakeController) ClearErrors() {
	f.calls++
}

func (f *fakeController) EraseSector(n int) error {
	f.calls++
	if f.locked {
		return fmt.Errorf("erase sector %d while locked", n)
	}
	if err := f.failErase[n]; err != nil {
		return err
	}
	f.erased = append(f.erased, n)
	return nil
}

func (f *fakeController) ProgramByte(address uint32, b byte) error {
	f.calls++
	if f.locked {
		return fmt.Errorf("program 0x%08X while locked", address)
	}
	if err := f.failProgram[address]; err != nil {
		return err
	}
	f.programmed[address] = b
	return nil
}

func (f *fakeController) UnlockOptions() error {
	f.calls++
	f.optLocked = false
	return nil
}

func (f *fakeController) LockOptions() error {
	f.calls++
	if f.failOptLock != nil {
		return f.failOptLock
	}
	f.optLocked = true
	return nil
}

func (f *fakeController) OptionControl() uint32 {
	return f.optcr
}

func (f *fakeController) CommitOptions(optcr uint32) error {
	f.calls++
	if f.optLocked {
		return errors.New("options locked")
	}
	f.optcr = optcr &^ OptStart
	return nil
}

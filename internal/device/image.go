package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bigbag/uartboot/internal/memory"
)

// Image file layout: magic, flash contents, OPTCR, OTP area.
const (
	imageMagic  = "UBIMG001"
	imageHeader = len(imageMagic)
	imageSize   = imageHeader + memory.FlashSize + 4 + OTPSize
)

// ErrBadImage is returned when an image file has the wrong size or magic.
var ErrBadImage = errors.New("invalid device image")

type imageStore struct {
	path string
}

// Open creates a device backed by the image file at path. A missing file
// starts a blank device; the file is created on the first flush.
func Open(path string, opts ...Option) (*Device, error) {
	d := New(opts...)
	d.store = &imageStore{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	if err := d.decodeImage(data); err != nil {
		return nil, fmt.Errorf("load image %s: %w", path, err)
	}
	return d, nil
}

func (d *Device) decodeImage(data []byte) error {
	if len(data) != imageSize || string(data[:imageHeader]) != imageMagic {
		return ErrBadImage
	}
	off := imageHeader
	copy(d.flash, data[off:off+memory.FlashSize])
	off += memory.FlashSize
	d.optcr = binary.LittleEndian.Uint32(data[off:])
	off += 4
	copy(d.otp, data[off:])
	return nil
}

func (d *Device) encodeImage() []byte {
	out := make([]byte, 0, imageSize)
	out = append(out, imageMagic...)
	out = append(out, d.flash...)
	out = binary.LittleEndian.AppendUint32(out, d.optcr)
	return append(out, d.otp...)
}

// Save writes the image file unconditionally.
func (d *Device) Save() error {
	if d.store == nil {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(d.store.path), ".uartboot-*")
	if err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(d.encodeImage()); err != nil {
		tmp.Close()
		return fmt.Errorf("save image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.store.path); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	d.dirty = false
	return nil
}

// flush saves the image if flash or option bytes changed.
func (d *Device) flush() error {
	if !d.dirty {
		return nil
	}
	return d.Save()
}

// LoadBinary programs a raw binary at address through Poke. It is used to
// preload an application image into a fresh device.
func (d *Device) LoadBinary(address uint32, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if region, ok := memory.ContainsRange(address, len(data)); !ok {
		return fmt.Errorf("%s (%d bytes) does not fit %v at 0x%08X", path, len(data), region, address)
	}
	return d.Poke(address, data)
}

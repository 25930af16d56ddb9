// Package client drives the bootloader from the host side of the serial link.
package client

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/uartboot/internal/crc"
	"github.com/bigbag/uartboot/internal/flash"
	"github.com/bigbag/uartboot/internal/protocol"
	"github.com/bigbag/uartboot/internal/serial"
)

// DefaultTimeout bounds one response. Erasing the 128K sectors is the slow
// case.
const DefaultTimeout = 5 * time.Second

// syncAttempts is how many GET_VERSION probes Sync sends.
const syncAttempts = 10

// ProgressCallback is called to report transfer progress in bytes.
type ProgressCallback func(current, total int)

// Client talks to one bootloader.
type Client struct {
	rw       io.ReadWriter
	link     *serial.Link
	progress ProgressCallback
	log      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.link.SetTimeout(d) }
}

// WithLogger sets the trace logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client over rw, usually a *serial.Port.
func New(rw io.ReadWriter, opts ...Option) *Client {
	c := &Client{
		rw:   rw,
		link: serial.NewTimeoutLink(rw, DefaultTimeout),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetProgressCallback sets the progress callback function.
func (c *Client) SetProgressCallback(cb ProgressCallback) {
	c.progress = cb
}

func (c *Client) reportProgress(current, total int) {
	if c.progress != nil {
		c.progress(current, total)
	}
}

// flush drops stale input when the underlying port supports it.
func (c *Client) flush() {
	if f, ok := c.rw.(interface{ Flush() error }); ok {
		f.Flush()
	}
}

// Sync probes with GET_VERSION until the bootloader answers. A receiver left
// mid-frame by an earlier session swallows the first probes and answers NACK
// once its frame completes, so failures are retried.
func (c *Client) Sync() (byte, error) {
	var lastErr error
	for attempt := 0; attempt < syncAttempts; attempt++ {
		c.flush()
		v, err := c.GetVersion()
		if err == nil {
			return v, nil
		}
		c.log.Debug().Int("attempt", attempt+1).Err(err).Msg("sync")
		lastErr = err
	}
	return 0, fmt.Errorf("sync failed after %d attempts: %w", syncAttempts, lastErr)
}

// request sends one frame and reads a response with a body of bodyLen bytes.
func (c *Client) request(cmd protocol.Command, payload []byte, bodyLen int) ([]byte, error) {
	frame, err := protocol.EncodeRequest(cmd, payload)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Stringer("cmd", cmd).Hex("frame", frame).Msg("send")

	if err := c.link.WriteBytes(frame); err != nil {
		return nil, err
	}

	first, err := c.link.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", cmd, err)
	}
	if first == protocol.Nack {
		return nil, protocol.CheckAck(cmd, []byte{first})
	}

	echo, err := c.link.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", cmd, err)
	}
	if err := protocol.CheckAck(cmd, []byte{first, echo}); err != nil {
		return nil, err
	}

	if bodyLen == 0 {
		return nil, nil
	}
	body, err := c.link.ReadBytes(bodyLen)
	if err != nil {
		return nil, fmt.Errorf("%v body: %w", cmd, err)
	}
	return body, nil
}

// GetVersion returns the bootloader version byte.
func (c *Client) GetVersion() (byte, error) {
	body, err := c.request(protocol.CmdGetVersion, nil, protocol.VersionBodySize)
	if err != nil {
		return 0, err
	}
	return body[0], nil
}

// GetHelp returns the supported command list.
func (c *Client) GetHelp() ([]protocol.Command, error) {
	body, err := c.request(protocol.CmdGetHelp, nil, len(protocol.SupportedCommands))
	if err != nil {
		return nil, err
	}
	cmds := make([]protocol.Command, len(body))
	for i, b := range body {
		cmds[i] = protocol.Command(b)
	}
	return cmds, nil
}

// GetChipID returns the 12-bit device identifier.
func (c *Client) GetChipID() (uint16, error) {
	body, err := c.request(protocol.CmdGetChipID, nil, protocol.ChipIDBodySize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(body), nil
}

// GetRDP returns the readout protection option byte.
func (c *Client) GetRDP() (byte, error) {
	body, err := c.request(protocol.CmdGetProtectionStatus, nil, protocol.RDPBodySize)
	if err != nil {
		return 0, err
	}
	return body[0], nil
}

// Go asks the bootloader to jump to address. The bootloader stops answering
// once it accepts.
func (c *Client) Go(address uint32) error {
	_, err := c.request(protocol.CmdJumpToAddress, protocol.JumpData(address), 0)
	return err
}

// Erase erases count sectors from sector, or everything with flash.MassErase.
func (c *Client) Erase(sector, count byte) error {
	_, err := c.request(protocol.CmdEraseFlash, protocol.EraseData(sector, count), 0)
	return err
}

// WriteMemory programs data at address in MaxWriteChunk pieces.
func (c *Client) WriteMemory(address uint32, data []byte) error {
	if len(data) == 0 {
		return flash.ErrEmptyWrite
	}

	for off := 0; off < len(data); off += protocol.MaxWriteChunk {
		end := off + protocol.MaxWriteChunk
		if end > len(data) {
			end = len(data)
		}

		payload, err := protocol.WriteData(address+uint32(off), data[off:end])
		if err != nil {
			return err
		}
		if _, err := c.request(protocol.CmdWriteMemory, payload, 0); err != nil {
			return fmt.Errorf("write at 0x%08X: %w", address+uint32(off), err)
		}

		c.reportProgress(end, len(data))
	}
	return nil
}

// ReadMemory reads n bytes from address in MaxReadChunk pieces.
func (c *Client) ReadMemory(address uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := n - len(out)
		if chunk > protocol.MaxReadChunk {
			chunk = protocol.MaxReadChunk
		}

		addr := address + uint32(len(out))
		body, err := c.request(protocol.CmdReadMemory, protocol.ReadData(addr, byte(chunk)), chunk)
		if err != nil {
			return out, fmt.Errorf("read at 0x%08X: %w", addr, err)
		}
		out = append(out, body...)

		c.reportProgress(len(out), n)
	}
	return out, nil
}

// EnableProtect protects the sectors in mask. mode is
// protocol.ModeWriteProtect or protocol.ModeReadWriteProtect.
func (c *Client) EnableProtect(mask, mode byte) error {
	_, err := c.request(protocol.CmdEnableRWProtect, protocol.ProtectData(mask, mode), 0)
	return err
}

// DisableProtect removes every sector protection.
func (c *Client) DisableProtect() error {
	_, err := c.request(protocol.CmdDisableRWProtect, nil, 0)
	return err
}

// ReadSectorProtection returns the protection halfword.
func (c *Client) ReadSectorProtection() (flash.ProtectionStatus, error) {
	body, err := c.request(protocol.CmdReadSectorProtectionStatus, nil, protocol.SectorProtectionBodySize)
	if err != nil {
		return 0, err
	}
	return flash.ProtectionStatus(binary.LittleEndian.Uint16(body)), nil
}

// ReadOTP returns one OTP block and its lock byte.
func (c *Client) ReadOTP(block byte) ([]byte, byte, error) {
	body, err := c.request(protocol.CmdReadOTP, protocol.OTPData(block), protocol.OTPBodySize)
	if err != nil {
		return nil, 0, err
	}
	return body[:protocol.OTPBlockSize], body[protocol.OTPBlockSize], nil
}

// ErrVerify is returned when flash contents differ after programming.
var ErrVerify = errors.New("verification failed")

// sectorSpan returns the first sector and sector count covering
// [address, address+n).
func sectorSpan(address uint32, n int) (byte, byte, error) {
	first, ok := flash.SectorAt(address)
	if !ok {
		return 0, 0, fmt.Errorf("%w: 0x%08X", flash.ErrNotFlash, address)
	}
	last, ok := flash.SectorAt(address + uint32(n) - 1)
	if !ok {
		return 0, 0, fmt.Errorf("%w: image of %d bytes at 0x%08X overruns flash", flash.ErrNotFlash, n, address)
	}
	return byte(first.Number), byte(last.Number - first.Number + 1), nil
}

// FlashImage erases the sectors under the image, programs it and optionally
// reads it back.
func (c *Client) FlashImage(data []byte, address uint32, verify bool) error {
	if len(data) == 0 {
		return flash.ErrEmptyWrite
	}

	sector, count, err := sectorSpan(address, len(data))
	if err != nil {
		return err
	}
	if err := c.Erase(sector, count); err != nil {
		return fmt.Errorf("erase sectors %d..%d: %w", sector, sector+count-1, err)
	}

	if err := c.WriteMemory(address, data); err != nil {
		return err
	}

	if verify {
		if err := c.verifyFlash(data, address); err != nil {
			return err
		}
	}
	return nil
}

// verifyFlash compares checksums of the image and the read-back contents.
func (c *Client) verifyFlash(data []byte, address uint32) error {
	progress := c.progress
	c.progress = nil
	defer func() { c.progress = progress }()

	got, err := c.ReadMemory(address, len(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerify, err)
	}

	expected, actual := crc.Checksum(data), crc.Checksum(got)
	if expected != actual {
		return fmt.Errorf("%w: checksum mismatch: expected 0x%08X, got 0x%08X", ErrVerify, expected, actual)
	}
	return nil
}

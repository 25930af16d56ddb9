package bootloader

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bigbag/uartboot/internal/flash"
	"github.com/bigbag/uartboot/internal/memory"
	"github.com/bigbag/uartboot/internal/protocol"
)

// Transport is the byte-level serial link. Reads block until the requested
// bytes arrive.
type Transport interface {
	ReadByte() (byte, error)
	ReadBytes(n int) ([]byte, error)
	protocol.ByteWriter
}

// Chip exposes the fixed identity and system memory of the device.
type Chip interface {
	memory.Reader
	ChipID() uint16
	OTPBlock(block int) ([]byte, byte, error)
}

// State is a state of the receive loop.
type State int

const (
	AwaitingLength State = iota
	AwaitingFrame
	Dispatch
)

func (s State) String() string {
	switch s {
	case AwaitingLength:
		return "awaiting-length"
	case AwaitingFrame:
		return "awaiting-frame"
	case Dispatch:
		return "dispatch"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Dispatcher owns the receive loop, the receive buffer and the flash manager
// for as long as it runs.
type Dispatcher struct {
	link  Transport
	flash *flash.Manager
	chip  Chip
	log   zerolog.Logger

	state   State
	buf     [protocol.RxBufferSize]byte
	pending *protocol.CommandPacket
	onState func(State)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the debug trace logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithStateHook calls fn on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(d *Dispatcher) { d.onState = fn }
}

// New creates a Dispatcher.
func New(link Transport, mgr *flash.Manager, chip Chip, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		link:  link,
		flash: mgr,
		chip:  chip,
		log:   zerolog.Nop(),
		state: AwaitingLength,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current loop state.
func (d *Dispatcher) State() State {
	return d.state
}

func (d *Dispatcher) enter(s State) {
	d.state = s
	if d.onState != nil {
		d.onState(s)
	}
}

// Boot is the mode-selection boundary. With enter unset the bootloader loop
// never starts and control goes straight to the application at
// memory.AppBase; otherwise Run takes over.
func (d *Dispatcher) Boot(enter bool) (*Handoff, error) {
	if !enter {
		return resolveVectorTable(d.chip, memory.AppBase)
	}
	return d.Run()
}

// Run processes frames until a validated jump or a fatal fault.
func (d *Dispatcher) Run() (*Handoff, error) {
	for {
		switch d.state {
		case AwaitingLength:
			d.buf = [protocol.RxBufferSize]byte{}
			d.pending = nil

			length, err := d.link.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("read frame length: %w", err)
			}
			if int(length) < protocol.MinLength {
				d.log.Debug().Uint8("length", length).Msg("frame length rejected")
				if err := d.nack(); err != nil {
					return nil, err
				}
				continue
			}
			if int(length)+1 > protocol.RxBufferSize {
				// Discard the frame so its bytes are not taken as length
				// bytes. A length byte bounds the drain to 255 bytes.
				d.log.Debug().Uint8("length", length).Msg("oversized frame dropped")
				if _, err := d.link.ReadBytes(int(length)); err != nil {
					return nil, fmt.Errorf("drain oversized frame: %w", err)
				}
				if err := d.nack(); err != nil {
					return nil, err
				}
				continue
			}
			d.buf[0] = length
			d.enter(AwaitingFrame)

		case AwaitingFrame:
			length := int(d.buf[0])
			rest, err := d.link.ReadBytes(length)
			if err != nil {
				return nil, fmt.Errorf("read frame: %w", err)
			}
			copy(d.buf[1:], rest)

			pkt, err := protocol.Parse(d.buf[:length+1])
			if err != nil || !pkt.ChecksumValid {
				d.log.Debug().Err(err).Msg("frame rejected")
				if err := d.nack(); err != nil {
					return nil, err
				}
				d.enter(AwaitingLength)
				continue
			}
			d.pending = pkt
			d.enter(Dispatch)

		case Dispatch:
			pkt := d.pending
			d.log.Debug().Stringer("cmd", pkt.Command).Int("len", pkt.PayloadLen).Msg("dispatch")

			handoff, err := d.dispatch(pkt)
			d.enter(AwaitingLength)
			if err != nil {
				return nil, err
			}
			if handoff != nil {
				return handoff, nil
			}
		}
	}
}

// dispatch runs one command. Every arm sends exactly one response.
func (d *Dispatcher) dispatch(pkt *protocol.CommandPacket) (*Handoff, error) {
	p := pkt.Data()

	switch pkt.Command {
	case protocol.CmdGetVersion:
		return nil, d.handleGetVersion()
	case protocol.CmdGetHelp:
		return nil, d.handleGetHelp()
	case protocol.CmdGetChipID:
		return nil, d.handleGetChipID()
	case protocol.CmdGetProtectionStatus:
		return nil, d.handleGetProtectionStatus()
	case protocol.CmdJumpToAddress:
		return d.handleJump(p)
	case protocol.CmdEraseFlash:
		return nil, d.handleErase(p)
	case protocol.CmdWriteMemory:
		return nil, d.handleWrite(p)
	case protocol.CmdEnableRWProtect:
		return nil, d.handleEnableProtect(p)
	case protocol.CmdReadMemory:
		return nil, d.handleRead(p)
	case protocol.CmdReadSectorProtectionStatus:
		return nil, d.handleReadSectorProtection()
	case protocol.CmdReadOTP:
		return nil, d.handleReadOTP(p)
	case protocol.CmdDisableRWProtect:
		return nil, d.handleDisableProtect()
	default:
		d.log.Debug().Stringer("cmd", pkt.Command).Msg("unknown command")
		return nil, d.nack()
	}
}

func (d *Dispatcher) ack(cmd protocol.Command, body []byte) error {
	if err := protocol.SendAck(d.link, cmd, body); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	return nil
}

func (d *Dispatcher) nack() error {
	if err := protocol.SendNack(d.link); err != nil {
		return fmt.Errorf("send nack: %w", err)
	}
	return nil
}

// result answers an operation outcome. Fatal errors are still answered with
// NACK and then returned so the loop halts.
func (d *Dispatcher) result(cmd protocol.Command, opErr error) error {
	if opErr == nil {
		return d.ack(cmd, nil)
	}

	d.log.Debug().Stringer("cmd", cmd).Err(opErr).Msg("operation failed")
	if err := d.nack(); err != nil {
		return err
	}
	if flash.IsFatal(opErr) {
		return opErr
	}
	return nil
}

package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout is the per-read timeout of host-side ports.
const DefaultReadTimeout = 100 * time.Millisecond

// Port wraps a serial port configured 8N1 for the bootloader link.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

func open(portName string, baudRate int, timeout time.Duration) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Open opens a host-side port. Reads return after DefaultReadTimeout with
// whatever arrived.
func Open(portName string, baudRate int) (*Port, error) {
	return open(portName, baudRate, DefaultReadTimeout)
}

// OpenDevice opens the device side of the link. Reads block until data
// arrives.
func OpenDevice(portName string, baudRate int) (*Port, error) {
	return open(portName, baudRate, serial.NoTimeout)
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(value bool) error {
	return p.port.SetDTR(value)
}

// SetRTS sets the RTS signal.
func (p *Port) SetRTS(value bool) error {
	return p.port.SetRTS(value)
}

// ResetToBootloader restarts the target with the bootloader button held.
//
// Wiring follows the usual USB-UART adapter hookup: RTS drives NRST and DTR
// drives the boot-mode button line, both active low through the adapter.
func (p *Port) ResetToBootloader() error {
	// Hold the button, pulse reset
	if err := p.SetDTR(true); err != nil {
		return err
	}
	if err := p.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	if err := p.SetRTS(false); err != nil {
		return err
	}
	// The firmware samples the button after its LED startup blink.
	time.Sleep(700 * time.Millisecond)

	if err := p.SetDTR(false); err != nil {
		return err
	}

	p.Flush()
	return nil
}

// HardReset restarts the target without holding the button, so it boots
// the application.
func (p *Port) HardReset() error {
	if err := p.SetDTR(false); err != nil {
		return err
	}
	if err := p.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return p.SetRTS(false)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}

package detect

import (
	"fmt"
	"time"

	"github.com/bigbag/uartboot/internal/client"
	"github.com/bigbag/uartboot/internal/serial"
)

// probeTimeout bounds each probe response on a candidate port.
const probeTimeout = 300 * time.Millisecond

// Result represents a detected bootloader.
type Result struct {
	Port     string
	Version  byte
	ChipID   uint16
	ChipName string
}

var chipNames = map[uint16]string{
	0x413: "STM32F405/407/415/417",
	0x419: "STM32F42x/43x",
	0x431: "STM32F411",
	0x423: "STM32F401xB/C",
	0x433: "STM32F401xD/E",
}

// ChipName returns a readable name for a device identifier.
func ChipName(id uint16) string {
	if name, ok := chipNames[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown (0x%03X)", id)
}

// DetectDevice tries every port and returns the first one with a bootloader.
func DetectDevice(baudRate int) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := tryPort(portName, baudRate)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no bootloader found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no bootloader found")
}

// ListDevices scans all ports and returns every detected bootloader.
func ListDevices(baudRate int) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := tryPort(portName, baudRate)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func tryPort(portName string, baudRate int) (*Result, error) {
	port, err := serial.Open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	if err := port.ResetToBootloader(); err != nil {
		return nil, fmt.Errorf("failed to reset: %w", err)
	}

	return Probe(client.New(port, client.WithTimeout(probeTimeout)), portName)
}

// Prober is the part of the client Probe needs.
type Prober interface {
	Sync() (byte, error)
	GetChipID() (uint16, error)
}

// Probe identifies the bootloader behind c.
func Probe(c Prober, portName string) (*Result, error) {
	version, err := c.Sync()
	if err != nil {
		return nil, fmt.Errorf("failed to sync: %w", err)
	}

	result := &Result{Port: portName, Version: version}

	// A bootloader that answers GET_VERSION but not GET_CHIP_ID still counts.
	id, err := c.GetChipID()
	if err != nil {
		result.ChipName = "unknown variant"
		return result, nil
	}
	result.ChipID = id
	result.ChipName = ChipName(id)
	return result, nil
}

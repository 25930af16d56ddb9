package detect

import (
	"errors"
	"testing"
)

type fakeProber struct {
	version byte
	syncErr error
	id      uint16
	idErr   error
}

func (f *fakeProber) Sync() (byte, error)        { return f.version, f.syncErr }
func (f *fakeProber) GetChipID() (uint16, error) { return f.id, f.idErr }

func TestProbe(t *testing.T) {
	tests := []struct {
		name     string
		prober   *fakeProber
		wantErr  bool
		wantID   uint16
		wantName string
	}{
		{"stm32f407", &fakeProber{version: 0x10, id: 0x413}, false, 0x413, "STM32F405/407/415/417"},
		{"unlisted id", &fakeProber{version: 0x10, id: 0x999}, false, 0x999, "unknown (0x999)"},
		{"no chip id", &fakeProber{version: 0x10, idErr: errors.New("nack")}, false, 0, "unknown variant"},
		{"no sync", &fakeProber{syncErr: errors.New("timeout")}, true, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Probe(tt.prober, "/dev/ttyUSB0")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Probe() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Port != "/dev/ttyUSB0" {
				t.Errorf("Port = %q", got.Port)
			}
			if got.Version != tt.prober.version {
				t.Errorf("Version = 0x%02X, want 0x%02X", got.Version, tt.prober.version)
			}
			if got.ChipID != tt.wantID {
				t.Errorf("ChipID = 0x%03X, want 0x%03X", got.ChipID, tt.wantID)
			}
			if got.ChipName != tt.wantName {
				t.Errorf("ChipName = %q, want %q", got.ChipName, tt.wantName)
			}
		})
	}
}

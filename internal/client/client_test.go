package client

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/bigbag/uartboot/internal/bootloader"
	"github.com/bigbag/uartboot/internal/device"
	"github.com/bigbag/uartboot/internal/flash"
	"github.com/bigbag/uartboot/internal/memory"
	"github.com/bigbag/uartboot/internal/protocol"
	"github.com/bigbag/uartboot/internal/serial"
)

// session runs a dispatcher on one end of an in-memory pipe.
type session struct {
	client *Client
	dev    *device.Device
	host   net.Conn

	done    chan struct{}
	handoff *bootloader.Handoff
	err     error
}

func newSession(t *testing.T) *session {
	t.Helper()
	host, target := net.Pipe()
	dev := device.New()

	s := &session{
		client: New(host),
		dev:    dev,
		host:   host,
		done:   make(chan struct{}),
	}

	d := bootloader.New(serial.NewLink(target), flash.NewManager(dev), dev)
	go func() {
		defer close(s.done)
		defer target.Close()
		s.handoff, s.err = d.Run()
	}()

	t.Cleanup(func() {
		host.Close()
		<-s.done
	})
	return s
}

func TestClient_Info(t *testing.T) {
	c := newSession(t).client

	v, err := c.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if v != protocol.BootloaderVersion {
		t.Errorf("GetVersion() = 0x%02X, want 0x%02X", v, protocol.BootloaderVersion)
	}

	cmds, err := c.GetHelp()
	if err != nil {
		t.Fatalf("GetHelp() error = %v", err)
	}
	if len(cmds) != len(protocol.SupportedCommands) {
		t.Fatalf("GetHelp() returned %d commands, want %d", len(cmds), len(protocol.SupportedCommands))
	}
	for i, cmd := range protocol.SupportedCommands {
		if cmds[i] != cmd {
			t.Errorf("GetHelp()[%d] = %v, want %v", i, cmds[i], cmd)
		}
	}

	id, err := c.GetChipID()
	if err != nil {
		t.Fatalf("GetChipID() error = %v", err)
	}
	if id != 0x413 {
		t.Errorf("GetChipID() = 0x%03X, want 0x413", id)
	}

	rdp, err := c.GetRDP()
	if err != nil {
		t.Fatalf("GetRDP() error = %v", err)
	}
	if rdp != flash.RDPLevel0 {
		t.Errorf("GetRDP() = 0x%02X, want 0x%02X", rdp, flash.RDPLevel0)
	}
}

func TestClient_FlashImage(t *testing.T) {
	s := newSession(t)

	image := make([]byte, 1000)
	for i := range image {
		image[i] = byte(i * 7)
	}

	var last, calls int
	s.client.SetProgressCallback(func(current, total int) {
		if total != len(image) {
			t.Errorf("progress total = %d, want %d", total, len(image))
		}
		if current <= last {
			t.Errorf("progress went from %d to %d", last, current)
		}
		last = current
		calls++
	})

	if err := s.client.FlashImage(image, memory.AppBase, true); err != nil {
		t.Fatalf("FlashImage() error = %v", err)
	}
	if last != len(image) {
		t.Errorf("final progress = %d, want %d", last, len(image))
	}
	if want := (len(image) + protocol.MaxWriteChunk - 1) / protocol.MaxWriteChunk; calls != want {
		t.Errorf("progress calls = %d, want %d (write only)", calls, want)
	}

	got := make([]byte, len(image))
	s.dev.ReadMemory(memory.AppBase, got)
	if !bytes.Equal(got, image) {
		t.Error("device flash does not match image")
	}
}

func TestClient_FlashImageErasesEverySpannedSector(t *testing.T) {
	s := newSession(t)
	s.dev.Poke(0x0800C100, []byte{0x00})

	image := bytes.Repeat([]byte{0x5A}, 512)
	if err := s.client.FlashImage(image, 0x0800BF00, true); err != nil {
		t.Fatalf("FlashImage() error = %v", err)
	}

	b := make([]byte, 1)
	s.dev.ReadMemory(0x0800C100, b)
	if b[0] != 0xFF {
		t.Errorf("byte in sector 3 = 0x%02X, want 0xFF after erase", b[0])
	}
}

func TestClient_ReadMemoryChunks(t *testing.T) {
	s := newSession(t)
	want := make([]byte, 600)
	for i := range want {
		want[i] = byte(i)
	}
	s.dev.Poke(0x20000000, want)

	got, err := s.client.ReadMemory(0x20000000, len(want))
	if err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("ReadMemory() contents differ")
	}
}

func TestClient_NackIsReported(t *testing.T) {
	c := newSession(t).client

	if err := c.Erase(2, 9); !errors.Is(err, protocol.ErrNack) {
		t.Errorf("Erase(2, 9) error = %v, want ErrNack", err)
	}
	if err := c.WriteMemory(0x20000000, []byte{1}); !errors.Is(err, protocol.ErrNack) {
		t.Errorf("WriteMemory(SRAM) error = %v, want ErrNack", err)
	}

	// The session survives rejected commands.
	if _, err := c.GetVersion(); err != nil {
		t.Errorf("GetVersion() after NACK error = %v", err)
	}
}

func TestClient_Protection(t *testing.T) {
	c := newSession(t).client

	if err := c.EnableProtect(0x08, protocol.ModeWriteProtect); err != nil {
		t.Fatalf("EnableProtect() error = %v", err)
	}
	status, err := c.ReadSectorProtection()
	if err != nil {
		t.Fatalf("ReadSectorProtection() error = %v", err)
	}
	if status.Mask() != 0x08 {
		t.Errorf("protected mask = 0x%02X, want 0x08", status.Mask())
	}

	if err := c.FlashImage([]byte{1, 2, 3}, 0x0800C000, false); !errors.Is(err, protocol.ErrNack) {
		t.Errorf("FlashImage(protected) error = %v, want ErrNack", err)
	}

	if err := c.DisableProtect(); err != nil {
		t.Fatalf("DisableProtect() error = %v", err)
	}
	status, _ = c.ReadSectorProtection()
	if status.Mask() != 0 {
		t.Errorf("protected mask after disable = 0x%02X, want 0", status.Mask())
	}
}

func TestClient_ReadOTP(t *testing.T) {
	s := newSession(t)
	s.dev.Poke(device.OTPBase+32, []byte("serial-42"))

	data, lock, err := s.client.ReadOTP(1)
	if err != nil {
		t.Fatalf("ReadOTP() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("serial-42")) {
		t.Errorf("ReadOTP() data = %q", data)
	}
	if lock != 0xFF {
		t.Errorf("ReadOTP() lock = 0x%02X, want 0xFF", lock)
	}
}

func TestClient_Go(t *testing.T) {
	s := newSession(t)
	s.dev.Poke(memory.AppBase, []byte{0x00, 0x00, 0x02, 0x20, 0x01, 0x81, 0x00, 0x08})

	if err := s.client.Go(memory.AppBase); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	<-s.done
	if s.err != nil {
		t.Fatalf("Run() error = %v", s.err)
	}
	if s.handoff == nil || s.handoff.ResetHandler != 0x08008101 {
		t.Errorf("handoff = %v, want reset handler 0x08008101", s.handoff)
	}
}

func TestClient_SyncRecoversFromPartialFrame(t *testing.T) {
	s := newSession(t)

	// Leave the receiver waiting for the rest of a 7-byte frame.
	if _, err := s.host.Write([]byte{0x07, 0x51}); err != nil {
		t.Fatalf("write partial frame: %v", err)
	}

	v, err := s.client.Sync()
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if v != protocol.BootloaderVersion {
		t.Errorf("Sync() = 0x%02X, want 0x%02X", v, protocol.BootloaderVersion)
	}
}

func TestSectorSpan(t *testing.T) {
	tests := []struct {
		name      string
		address   uint32
		n         int
		wantFirst byte
		wantCount byte
		wantErr   bool
	}{
		{"one byte in app sector", memory.AppBase, 1, 2, 1, false},
		{"crosses into sector 3", 0x0800BFFF, 2, 2, 2, false},
		{"last sector", 0x08060000, 128 * 1024, 7, 1, false},
		{"sram", 0x20000000, 1, 0, 0, true},
		{"overruns flash", 0x0807FFFF, 2, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, count, err := sectorSpan(tt.address, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("sectorSpan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if first != tt.wantFirst || count != tt.wantCount {
				t.Errorf("sectorSpan() = (%d, %d), want (%d, %d)", first, count, tt.wantFirst, tt.wantCount)
			}
		})
	}
}

package serial

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrTimeout is returned when a read deadline passes before all bytes arrive.
var ErrTimeout = errors.New("timeout waiting for data")

// Link is the byte-level transport over any io.ReadWriter.
//
// With a zero timeout reads block until every requested byte has arrived;
// this is what the bootloader loop uses. A positive timeout bounds each
// ReadBytes call, which the host side needs.
type Link struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewLink creates a blocking Link.
func NewLink(rw io.ReadWriter) *Link {
	return &Link{rw: rw}
}

// NewTimeoutLink creates a Link whose reads give up after timeout.
func NewTimeoutLink(rw io.ReadWriter, timeout time.Duration) *Link {
	return &Link{rw: rw, timeout: timeout}
}

// SetTimeout changes the read timeout. Zero blocks forever.
func (l *Link) SetTimeout(timeout time.Duration) {
	l.timeout = timeout
}

// ReadByte reads exactly one byte.
func (l *Link) ReadByte() (byte, error) {
	b, err := l.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes reads exactly n bytes.
func (l *Link) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)

	var deadline time.Time
	if l.timeout > 0 {
		deadline = time.Now().Add(l.timeout)
	}

	got := 0
	for got < n {
		m, err := l.rw.Read(buf[got:])
		got += m
		if got == n {
			break
		}
		if err != nil {
			return buf[:got], fmt.Errorf("read %d of %d bytes: %w", got, n, err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return buf[:got], fmt.Errorf("read %d of %d bytes: %w", got, n, ErrTimeout)
		}
	}
	return buf, nil
}

// WriteBytes writes all of data.
func (l *Link) WriteBytes(data []byte) error {
	for len(data) > 0 {
		n, err := l.rw.Write(data)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("write: %w", io.ErrShortWrite)
		}
		data = data[n:]
	}
	return nil
}

package transport

import (
	"errors"
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"
)

// ErrNotOpen is returned by Write/ReadByte/ReadFull when called before
// Open or after Close.
var ErrNotOpen = errors.New("transport: serial port not open")

// SerialConfig describes an RS-485 serial link.
type SerialConfig struct {
	Device string
	Baud   uint32
	// RS485 enables RS-485 transceiver direction control on the line,
	// as required by an OSDP multidrop bus with more than one PD.
	RS485 bool
}

// SerialTransport drives an OSDP bus over a local RS-485 serial port.
//
// Grounded on Daedaluz-goserial/port_linux.go's Port type, the only
// serial library in the example pool with RS-485 ioctl support
// (SetRS485), which a real multidrop OSDP bus requires.
type SerialTransport struct {
	cfg  SerialConfig
	port *serial.Port
}

// NewSerialTransport creates a SerialTransport for cfg. Call Open
// before use.
func NewSerialTransport(cfg SerialConfig) *SerialTransport {
	return &SerialTransport{cfg: cfg}
}

// Open opens the serial device, puts it into raw mode, sets the
// configured baud rate, and enables RS-485 direction control if
// requested.
func (t *SerialTransport) Open() error {
	opts := serial.DefaultOptions()
	port, err := serial.Open(t.cfg.Device, opts)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", t.cfg.Device, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return fmt.Errorf("transport: make raw %s: %w", t.cfg.Device, err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return fmt.Errorf("transport: get attrs %s: %w", t.cfg.Device, err)
	}
	attrs.SetCustomSpeed(t.cfg.Baud)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return fmt.Errorf("transport: set baud %s: %w", t.cfg.Device, err)
	}

	if t.cfg.RS485 {
		if err := port.SetRS485(&serial.RS485{
			Flags: serial.RS485Enabled | serial.RS485RTSOnSend,
		}); err != nil {
			port.Close()
			return fmt.Errorf("transport: enable rs485 %s: %w", t.cfg.Device, err)
		}
	}

	t.port = port
	return nil
}

// Close closes the serial port, if open.
func (t *SerialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// IsOpen reports whether the serial port has been successfully opened.
func (t *SerialTransport) IsOpen() bool { return t.port != nil }

// Write sends a complete packet.
func (t *SerialTransport) Write(data []byte) error {
	if t.port == nil {
		return ErrNotOpen
	}
	_, err := t.port.Write(data)
	return err
}

// ReadByte reads a single byte within deadline.
func (t *SerialTransport) ReadByte(deadline time.Duration) (byte, bool, error) {
	if t.port == nil {
		return 0, false, ErrNotOpen
	}
	buf := make([]byte, 1)
	n, err := t.port.ReadTimeout(buf, deadline)
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

// ReadFull reads exactly len(buf) bytes within deadline, issuing
// repeated reads against the remaining time budget.
func (t *SerialTransport) ReadFull(buf []byte, deadline time.Duration) error {
	if t.port == nil {
		return ErrNotOpen
	}
	deadlineAt := time.Now().Add(deadline)
	total := 0
	for total < len(buf) {
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			return fmt.Errorf("transport: read timed out with %d of %d bytes", total, len(buf))
		}
		n, err := t.port.ReadTimeout(buf[total:], remaining)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("transport: read timed out with %d of %d bytes", total, len(buf))
		}
		total += n
	}
	return nil
}

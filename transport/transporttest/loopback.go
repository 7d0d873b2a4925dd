// Package transporttest provides an in-memory Transport for bus and
// control panel tests, standing in for a real serial or TCP link.
//
// Grounded on original_source/tests/puppet_connection.py's
// PuppetOsdpConnection: a scriptable fake that records writes and
// serves pre-loaded reply bytes, letting a test drive a PD's half of
// the conversation without real I/O.
package transporttest

import (
	"errors"
	"sync"
	"time"

	"osdp-panel/transport"
)

// ErrClosed is returned by Write/ReadByte/ReadFull when the Loopback
// has not been opened or has been closed.
var ErrClosed = errors.New("transporttest: loopback not open")

// Loopback is a Transport whose inbound bytes are supplied by the test
// (via Feed) and whose outbound bytes are captured (via Written) for
// assertions, instead of reaching any real link.
type Loopback struct {
	mu      sync.Mutex
	open    bool
	inbound []byte
	written [][]byte
}

var _ transport.Transport = (*Loopback)(nil)

// New creates a closed Loopback; call Open before use, as a real
// Transport would require.
func New() *Loopback {
	return &Loopback{}
}

// Open marks the loopback usable.
func (l *Loopback) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = true
	return nil
}

// Close marks the loopback unusable and discards any unread bytes.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	l.inbound = nil
	return nil
}

// IsOpen reports whether Open has been called more recently than Close.
func (l *Loopback) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Feed appends bytes to the queue future ReadByte/ReadFull calls drain,
// simulating a PD's reply arriving on the wire.
func (l *Loopback) Feed(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound = append(l.inbound, data...)
}

// Write records data as a captured outbound packet.
func (l *Loopback) Write(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrClosed
	}
	cp := append([]byte{}, data...)
	l.written = append(l.written, cp)
	return nil
}

// Written returns every packet captured by Write so far, in order.
func (l *Loopback) Written() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte{}, l.written...)
}

// ReadByte returns the next fed byte, or ok=false immediately if none
// is queued (the loopback never actually blocks for deadline).
func (l *Loopback) ReadByte(deadline time.Duration) (byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return 0, false, ErrClosed
	}
	if len(l.inbound) == 0 {
		return 0, false, nil
	}
	b := l.inbound[0]
	l.inbound = l.inbound[1:]
	return b, true, nil
}

// ReadFull drains exactly len(buf) fed bytes, returning an error if
// fewer are currently queued.
func (l *Loopback) ReadFull(buf []byte, deadline time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrClosed
	}
	if len(l.inbound) < len(buf) {
		return errors.New("transporttest: not enough fed bytes queued")
	}
	copy(buf, l.inbound[:len(buf)])
	l.inbound = l.inbound[len(buf):]
	return nil
}

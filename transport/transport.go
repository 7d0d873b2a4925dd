// Package transport implements the byte-level links a Bus polls over:
// an RS-485 serial line and a TCP socket, behind one Transport
// interface so the bus engine never sees which kind it's driving.
package transport

import "time"

// Transport is the byte-pipe abstraction the bus polling engine drives.
// Every outbound write is one complete framed packet (the driver byte
// through the trailing CRC/checksum); every read is given a deadline by
// the caller through the deadline argument of ReadByte and ReadFull.
type Transport interface {
	// Open establishes the underlying link. Safe to call once; Close
	// and Open again to reconnect.
	Open() error
	// Close releases the underlying link. Safe to call on an
	// already-closed or never-opened Transport.
	Close() error
	// IsOpen reports whether the link is currently usable.
	IsOpen() bool
	// Write sends a complete packet.
	Write(data []byte) error
	// ReadByte reads a single byte, blocking at most until deadline.
	// Used by the bus's SOM-scan phase. ok is false on timeout.
	ReadByte(deadline time.Duration) (b byte, ok bool, err error)
	// ReadFull reads exactly len(buf) bytes, blocking at most until
	// deadline overall. Used once header/length framing is known.
	ReadFull(buf []byte, deadline time.Duration) error
}

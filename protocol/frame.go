package protocol

import (
	"encoding/binary"
	"fmt"
)

// SOM is the fixed start-of-message byte for every OSDP packet.
const SOM = 0x53

// DriverByte is prepended to every outbound packet ahead of SOM so
// RS-485 line drivers can key the transmit-enable line before the
// framing bytes hit the wire.
const DriverByte = 0xFF

// AddressMask strips the reply direction bit (0x80) from an address byte.
const AddressMask = 0x7F

// ReplyAddressBit marks an address byte as belonging to a reply.
const ReplyAddressBit = 0x80

// MACSize is the length in bytes of the secure-session MAC trailer.
const MACSize = 4

// HeaderSize is the number of bytes from SOM through the control byte,
// inclusive, before any security control block.
const HeaderSize = 5

// SecurityBlockType enumerates the OSDP security control block kinds
// carried in byte 1 of an SCB (data[6] of a framed packet, when present).
type SecurityBlockType byte

const (
	SCBBeginNewSequence        SecurityBlockType = 0x11
	SCBSequenceStep2           SecurityBlockType = 0x12
	SCBSequenceStep3           SecurityBlockType = 0x13
	SCBSequenceStep4           SecurityBlockType = 0x14
	SCBCommandNoDataSecurity   SecurityBlockType = 0x15
	SCBReplyNoDataSecurity     SecurityBlockType = 0x16
	SCBCommandWithDataSecurity SecurityBlockType = 0x17
	SCBReplyWithDataSecurity   SecurityBlockType = 0x18
)

// IsSecureSessionBlock reports whether t marks a message that
// participates in MAC generation (the four "established session"
// block kinds, as opposed to the four handshake-step kinds).
func (t SecurityBlockType) IsSecureSessionBlock() bool {
	switch t {
	case SCBCommandNoDataSecurity, SCBReplyNoDataSecurity, SCBCommandWithDataSecurity, SCBReplyWithDataSecurity:
		return true
	default:
		return false
	}
}

// The SCB*NoData and SCB*WithData values are the two-byte security control blocks
// used by commands/replies that carry no encrypted payload or that do,
// respectively. Handshake steps use their own three-byte blocks built
// inline by the command package.
var (
	SCBCommandNoData   = []byte{0x02, byte(SCBCommandNoDataSecurity)}
	SCBCommandWithData = []byte{0x02, byte(SCBCommandWithDataSecurity)}
	SCBReplyNoData     = []byte{0x02, byte(SCBReplyNoDataSecurity)}
	SCBReplyWithData   = []byte{0x02, byte(SCBReplyWithDataSecurity)}
)

// FrameErrorKind classifies why Decode rejected a packet.
type FrameErrorKind int

const (
	ShortFrame FrameErrorKind = iota
	BadSom
	LengthMismatch
	BadCrc
	BadChecksum
)

func (k FrameErrorKind) String() string {
	switch k {
	case ShortFrame:
		return "short frame"
	case BadSom:
		return "bad start-of-message byte"
	case LengthMismatch:
		return "length field mismatch"
	case BadCrc:
		return "bad crc"
	case BadChecksum:
		return "bad checksum"
	default:
		return "unknown frame error"
	}
}

// FrameError reports a framing failure. It never carries partial data:
// a FrameError means the packet was dropped.
type FrameError struct {
	Kind FrameErrorKind
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Kind)
}

// ControlByte assembles the OSDP control byte from its three fields.
func ControlByte(sequence byte, useCRC, hasSCB bool) byte {
	cb := sequence & 0x03
	if useCRC {
		cb |= 0x04
	}
	if hasSCB {
		cb |= 0x08
	}
	return cb
}

// ParseControl decomposes a control byte into its three fields.
func ParseControl(cb byte) (sequence byte, useCRC, hasSCB bool) {
	return cb & 0x03, cb&0x04 != 0, cb&0x08 != 0
}

// NewHeader starts a packet buffer: SOM, address, a zeroed length
// placeholder, the control byte, and the security control block if any.
// The caller appends the message type and payload/MAC next, then calls
// FinalizeLength and AppendCRC/AppendChecksum.
func NewHeader(address, control byte, scb []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(scb)+16)
	buf = append(buf, SOM, address, 0x00, 0x00, control)
	buf = append(buf, scb...)
	return buf
}

// FinalizeLength writes the total packet length (len(buf)+trailingLen)
// into the length field at bytes 2-3. It must run before any MAC or
// CRC/checksum is computed, since both integrity mechanisms cover the
// length field itself.
func FinalizeLength(buf []byte, trailingLen int) {
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(buf)+trailingLen))
}

// AppendChecksum appends the one-byte OSDP checksum of buf.
func AppendChecksum(buf []byte) []byte {
	return append(buf, Checksum(buf))
}

// AppendCRC appends the little-endian CRC-16 of buf.
func AppendCRC(buf []byte) []byte {
	crc := CRC16(buf)
	return append(buf, byte(crc), byte(crc>>8))
}

// Frame is a decoded OSDP packet with its security-block and MAC
// framing already peeled apart, but its payload left exactly as
// received (encrypted, if the secure block type says so).
type Frame struct {
	RawAddress  byte // address byte as received, reply bit included
	Address     byte // RawAddress & AddressMask
	Sequence    byte
	UseCRC      bool
	HasSCB      bool
	SCBType     SecurityBlockType
	SCBData     []byte
	MessageType byte
	Payload     []byte
	MAC         []byte // nil unless the secure block type is a session block
	// MACCoveredMessage is the prefix of the original packet (including
	// its own finalized length field) that a MAC is computed over.
	MACCoveredMessage []byte
}

// IsSecureMessage reports whether the frame's security block type
// participates in MAC checking.
func (f *Frame) IsSecureMessage() bool {
	return f.HasSCB && f.SCBType.IsSecureSessionBlock()
}

// Decode parses a complete OSDP packet (SOM through trailing
// CRC/checksum, driver byte already stripped) per §4.1.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize+1 {
		return nil, &FrameError{Kind: ShortFrame}
	}
	if data[0] != SOM {
		return nil, &FrameError{Kind: BadSom}
	}

	length := int(binary.LittleEndian.Uint16(data[2:4]))
	if length != len(data) {
		return nil, &FrameError{Kind: LengthMismatch}
	}

	sequence, useCRC, hasSCB := ParseControl(data[4])
	footerSize := 1
	if useCRC {
		footerSize = 2
	}

	var scbSize int
	var scbType SecurityBlockType
	var scbData []byte
	if hasSCB {
		if len(data) < HeaderSize+2 {
			return nil, &FrameError{Kind: ShortFrame}
		}
		scbSize = int(data[HeaderSize])
		scbType = SecurityBlockType(data[HeaderSize+1])
		dataStart := HeaderSize + 2
		dataEnd := HeaderSize + scbSize
		if dataEnd > len(data) || dataEnd < dataStart {
			return nil, &FrameError{Kind: ShortFrame}
		}
		scbData = data[dataStart:dataEnd]
	}

	macSize := 0
	if hasSCB && scbType.IsSecureSessionBlock() {
		macSize = MACSize
	}

	messageLength := len(data) - footerSize - macSize
	if messageLength < 0 {
		return nil, &FrameError{Kind: ShortFrame}
	}

	typeIndex := HeaderSize + scbSize
	if typeIndex >= messageLength {
		return nil, &FrameError{Kind: ShortFrame}
	}

	frame := &Frame{
		RawAddress:        data[1],
		Address:           data[1] & AddressMask,
		Sequence:          sequence,
		UseCRC:            useCRC,
		HasSCB:            hasSCB,
		SCBType:           scbType,
		SCBData:           scbData,
		MessageType:       data[typeIndex],
		Payload:           data[typeIndex+1 : messageLength],
		MACCoveredMessage: data[:messageLength],
	}
	if macSize > 0 {
		frame.MAC = data[messageLength : messageLength+macSize]
	}

	if useCRC {
		want := binary.LittleEndian.Uint16(data[len(data)-2:])
		if CRC16(data[:len(data)-2]) != want {
			return nil, &FrameError{Kind: BadCrc}
		}
	} else {
		if Checksum(data[:len(data)-1]) != data[len(data)-1] {
			return nil, &FrameError{Kind: BadChecksum}
		}
	}

	return frame, nil
}

package reply

import (
	"encoding/binary"
	"fmt"

	"osdp-panel/protocol"
)

// DeviceIdentification is the PdIdReport reply payload.
type DeviceIdentification struct {
	VendorCode     [3]byte
	ModelNumber    byte
	Version        byte
	SerialNumber   uint32
	FirmwareMajor  byte
	FirmwareMinor  byte
	FirmwareBuild  byte
}

// ParseDeviceIdentification decodes a PdIdReport payload.
func ParseDeviceIdentification(data []byte) (DeviceIdentification, error) {
	if len(data) < 12 {
		return DeviceIdentification{}, fmt.Errorf("reply: short DeviceIdentification payload (%d bytes)", len(data))
	}
	var id DeviceIdentification
	copy(id.VendorCode[:], data[0:3])
	id.ModelNumber = data[3]
	id.Version = data[4]
	id.SerialNumber = binary.LittleEndian.Uint32(data[5:9])
	id.FirmwareMajor = data[9]
	id.FirmwareMinor = data[10]
	id.FirmwareBuild = data[11]
	return id, nil
}

// CapabilityFunction identifies one PD capability in a PdCaps reply.
type CapabilityFunction byte

const (
	CapContactStatusMonitoring CapabilityFunction = 1
	CapOutputControl           CapabilityFunction = 2
	CapCardDataFormat          CapabilityFunction = 3
	CapReaderLEDControl        CapabilityFunction = 4
	CapReaderAudibleOutput     CapabilityFunction = 5
	CapReaderTextOutput        CapabilityFunction = 6
	CapTimeKeeping             CapabilityFunction = 7
	CapCheckCharacterSupport   CapabilityFunction = 8
	CapCommunicationSecurity   CapabilityFunction = 9
	CapReceiveBufferSize       CapabilityFunction = 10
	CapLargestCombinedMessage  CapabilityFunction = 11
	CapSmartCardSupport        CapabilityFunction = 12
	CapReaders                 CapabilityFunction = 13
	CapBiometrics              CapabilityFunction = 14
)

// twoByteValueFunctions carry a little-endian 16-bit value across their
// compliance/number_of byte pair instead of two independent byte
// fields, per original_source's handling of ReceiveBufferSize and
// LargestCombinedMessageSize.
var twoByteValueFunctions = map[CapabilityFunction]bool{
	CapReceiveBufferSize:      true,
	CapLargestCombinedMessage: true,
}

// DeviceCapability is one 3-byte capability entry.
type DeviceCapability struct {
	Function    CapabilityFunction
	Compliance  byte
	NumberOf    byte
	// Value16 holds the combined little-endian value for the two
	// functions in twoByteValueFunctions; zero otherwise.
	Value16 uint16
}

// DeviceCapabilities is the full PdCaps reply payload.
type DeviceCapabilities struct {
	Capabilities []DeviceCapability
}

// ParseDeviceCapabilities decodes a PdCaps payload: a sequence of
// 3-byte entries, function code followed by two data bytes.
func ParseDeviceCapabilities(data []byte) (DeviceCapabilities, error) {
	if len(data)%3 != 0 {
		return DeviceCapabilities{}, fmt.Errorf("reply: DeviceCapabilities payload length %d not a multiple of 3", len(data))
	}
	var caps DeviceCapabilities
	for i := 0; i < len(data); i += 3 {
		fn := CapabilityFunction(data[i])
		cap := DeviceCapability{Function: fn, Compliance: data[i+1], NumberOf: data[i+2]}
		if twoByteValueFunctions[fn] {
			cap.Value16 = binary.LittleEndian.Uint16(data[i+1 : i+3])
		}
		caps.Capabilities = append(caps.Capabilities, cap)
	}
	return caps, nil
}

// LocalStatus is the LocalStatusReport reply payload.
type LocalStatus struct {
	Tamper       bool
	PowerFailure bool
}

// ParseLocalStatus decodes a LocalStatusReport payload.
func ParseLocalStatus(data []byte) (LocalStatus, error) {
	if len(data) < 2 {
		return LocalStatus{}, fmt.Errorf("reply: short LocalStatus payload (%d bytes)", len(data))
	}
	return LocalStatus{Tamper: data[0] != 0, PowerFailure: data[1] != 0}, nil
}

// InputStatus is the InputStatusReport reply payload: one boolean per
// configured contact input.
type InputStatus struct {
	Inputs []bool
}

// ParseInputStatus decodes an InputStatusReport payload.
func ParseInputStatus(data []byte) InputStatus {
	inputs := make([]bool, len(data))
	for i, b := range data {
		inputs[i] = b != 0
	}
	return InputStatus{Inputs: inputs}
}

// OutputStatus is the OutputStatusReport reply payload: one boolean per
// configured relay output.
type OutputStatus struct {
	Outputs []bool
}

// ParseOutputStatus decodes an OutputStatusReport payload.
func ParseOutputStatus(data []byte) OutputStatus {
	outputs := make([]bool, len(data))
	for i, b := range data {
		outputs[i] = b != 0
	}
	return OutputStatus{Outputs: outputs}
}

// ReaderTamperStatus is the per-reader state reported in a
// ReaderStatusReport.
type ReaderTamperStatus byte

const (
	ReaderNormal       ReaderTamperStatus = 0
	ReaderNotConnected ReaderTamperStatus = 1
	ReaderTamper       ReaderTamperStatus = 2
)

// ReaderStatus is the ReaderStatusReport reply payload: one status byte
// per configured reader.
type ReaderStatus struct {
	Readers []ReaderTamperStatus
}

// ParseReaderStatus decodes a ReaderStatusReport payload.
func ParseReaderStatus(data []byte) ReaderStatus {
	readers := make([]ReaderTamperStatus, len(data))
	for i, b := range data {
		readers[i] = ReaderTamperStatus(b)
	}
	return ReaderStatus{Readers: readers}
}

// Nak is the Nak reply payload: an error code plus whatever additional
// vendor data the PD chose to append.
type Nak struct {
	ErrorCode protocol.ErrorCode
	Extra     []byte
}

// ParseNak decodes a Nak payload.
func ParseNak(data []byte) (Nak, error) {
	if len(data) < 1 {
		return Nak{}, fmt.Errorf("reply: empty Nak payload")
	}
	return Nak{ErrorCode: protocol.ErrorCode(data[0]), Extra: data[1:]}, nil
}

// FormatCode identifies the encoding of RawCardData/FormattedReaderData.
type FormatCode byte

const (
	FormatUnspecified FormatCode = 0
	FormatWiegand     FormatCode = 1
	FormatASCII       FormatCode = 2
)

// RawCardData is the RawReaderData reply payload.
type RawCardData struct {
	ReaderNumber byte
	Format       FormatCode
	BitCount     int
	Data         []byte
}

// ParseRawCardData decodes a RawReaderData payload.
func ParseRawCardData(data []byte) (RawCardData, error) {
	if len(data) < 4 {
		return RawCardData{}, fmt.Errorf("reply: short RawCardData payload (%d bytes)", len(data))
	}
	bitCount := int(binary.LittleEndian.Uint16(data[2:4]))
	return RawCardData{
		ReaderNumber: data[0],
		Format:       FormatCode(data[1]),
		BitCount:     bitCount,
		Data:         data[4:],
	}, nil
}

// FormattedReaderData is the FormattedReaderData reply payload.
type FormattedReaderData struct {
	ReaderNumber byte
	Format       FormatCode
	ByteCount    int
	Data         []byte
}

// ParseFormattedReaderData decodes a FormattedReaderData payload.
func ParseFormattedReaderData(data []byte) (FormattedReaderData, error) {
	if len(data) < 4 {
		return FormattedReaderData{}, fmt.Errorf("reply: short FormattedReaderData payload (%d bytes)", len(data))
	}
	byteCount := int(binary.LittleEndian.Uint16(data[2:4]))
	return FormattedReaderData{
		ReaderNumber: data[0],
		Format:       FormatCode(data[1]),
		ByteCount:    byteCount,
		Data:         data[4:],
	}, nil
}

// KeypadData is the KeypadData reply payload.
type KeypadData struct {
	ReaderNumber byte
	Digits       []byte
}

// ParseKeypadData decodes a KeypadData payload.
func ParseKeypadData(data []byte) (KeypadData, error) {
	if len(data) < 2 {
		return KeypadData{}, fmt.Errorf("reply: short KeypadData payload (%d bytes)", len(data))
	}
	count := int(data[1])
	if 2+count > len(data) {
		return KeypadData{}, fmt.Errorf("reply: KeypadData digit count %d exceeds payload", count)
	}
	return KeypadData{ReaderNumber: data[0], Digits: data[2 : 2+count]}, nil
}

// CrypticData is the CrypticData reply payload: the PD's half of the
// Secure Channel handshake (step two).
type CrypticData struct {
	CUID             []byte
	ClientRandom     []byte
	ClientCryptogram []byte
}

// ParseCrypticData decodes a CrypticData payload: 8 bytes of PD
// communication UID, 8 bytes of client random, 16 bytes of client
// cryptogram.
func ParseCrypticData(data []byte) (CrypticData, error) {
	if len(data) < 32 {
		return CrypticData{}, fmt.Errorf("reply: short CrypticData payload (%d bytes)", len(data))
	}
	return CrypticData{
		CUID:             data[0:8],
		ClientRandom:     data[8:16],
		ClientCryptogram: data[16:32],
	}, nil
}

// ParseInitialRMac decodes an InitialRMac payload: the 16-byte R_MAC0
// seed for the reply-MAC chain.
func ParseInitialRMac(data []byte) ([]byte, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("reply: short InitialRMac payload (%d bytes)", len(data))
	}
	return data[:16], nil
}

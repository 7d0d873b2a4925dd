// Package command implements the OSDP command model: one type per
// command code, each producing its clear-text payload and security
// control block, plus the shared Build routine that wraps a command in
// framing, optional encryption/MAC, and CRC/checksum.
//
// Grounded on original_source/osdp/_command.py's Command/PollCommand/...
// class hierarchy, translated from Python's open inheritance into a
// closed set of Go structs implementing a single Command interface.
package command

import "osdp-panel/protocol"

// Command is implemented by every concrete OSDP command. Address is
// supplied by the device session, not stored on the command, so a
// command value can be built once and replayed across devices.
type Command interface {
	Code() protocol.CommandCode
	// SCB returns this command's security control block bytes, used
	// whenever the owning device has secure-channel support enabled,
	// independent of whether a session is currently established.
	SCB() []byte
	// Data returns the clear-text payload, before any encryption.
	Data() []byte
}

// Context is the subset of device session state a command needs to be
// framed: its address and control-byte fields, and a hook back into the
// device's secure channel for MAC/encryption. Device implements this.
type Context interface {
	Address() byte
	Sequence() byte
	UseCRC() bool
	UseSCS() bool
	SecurityEstablished() bool
	EncryptPayload(data []byte) []byte
	GenerateMAC(message []byte, isCommand bool) []byte
}

// Build frames cmd against ctx: header, optional SCB, command code,
// clear or encrypted+MAC'd payload, and trailing CRC/checksum. This is
// the sole place that assembles an outgoing OSDP command packet; every
// concrete command type only needs to describe its own code/SCB/data.
func Build(cmd Command, ctx Context) []byte {
	control := protocol.ControlByte(ctx.Sequence(), ctx.UseCRC(), ctx.UseSCS())

	var scb []byte
	if ctx.UseSCS() {
		scb = cmd.SCB()
	}

	buf := protocol.NewHeader(ctx.Address(), control, scb)
	buf = append(buf, byte(cmd.Code()))

	footerSize := 1
	if ctx.UseCRC() {
		footerSize = 2
	}

	if ctx.UseSCS() && ctx.SecurityEstablished() {
		buf = append(buf, ctx.EncryptPayload(cmd.Data())...)
		protocol.FinalizeLength(buf, protocol.MACSize+footerSize)
		mac := ctx.GenerateMAC(buf, true)
		buf = append(buf, mac[:protocol.MACSize]...)
	} else {
		buf = append(buf, cmd.Data()...)
		protocol.FinalizeLength(buf, footerSize)
	}

	if ctx.UseCRC() {
		return protocol.AppendCRC(buf)
	}
	return protocol.AppendChecksum(buf)
}

// noDataCommand is the shared shape of every command whose payload is
// empty: Poll, LocalStatus, InputStatus, OutputStatus, ReaderStatus.
type noDataCommand struct {
	code protocol.CommandCode
}

func (c noDataCommand) Code() protocol.CommandCode { return c.code }
func (c noDataCommand) SCB() []byte                { return protocol.SCBCommandNoData }
func (c noDataCommand) Data() []byte               { return nil }

// Poll requests a keep-alive reply; it also doubles as the bootstrap
// and idle-line command per §4.3's next-command priority.
func Poll() Command { return noDataCommand{protocol.CmdPoll} }

// LocalStatus requests the PD's tamper/power status.
func LocalStatus() Command { return noDataCommand{protocol.CmdLocalStatus} }

// InputStatus requests the PD's contact input states.
func InputStatus() Command { return noDataCommand{protocol.CmdInputStatus} }

// OutputStatus requests the PD's relay output states.
func OutputStatus() Command { return noDataCommand{protocol.CmdOutputStatus} }

// ReaderStatus requests the PD's reader tamper states.
func ReaderStatus() Command { return noDataCommand{protocol.CmdReaderStatus} }

// reportRequestCommand is the shared shape of IdReport/DeviceCaps, both
// of which carry a single reserved 0x00 data byte.
type reportRequestCommand struct {
	code protocol.CommandCode
}

func (c reportRequestCommand) Code() protocol.CommandCode { return c.code }
func (c reportRequestCommand) SCB() []byte                { return protocol.SCBCommandWithData }
func (c reportRequestCommand) Data() []byte               { return []byte{0x00} }

// IdReport requests the PD's DeviceIdentification payload.
func IdReport() Command { return reportRequestCommand{protocol.CmdIdReport} }

// DeviceCaps requests the PD's DeviceCapabilities payload.
func DeviceCaps() Command { return reportRequestCommand{protocol.CmdDeviceCaps} }

// OutputControlCommand drives one or more relay outputs.
type OutputControlCommand struct {
	Controls []OutputControl
}

func (c OutputControlCommand) Code() protocol.CommandCode { return protocol.CmdOutputControl }
func (c OutputControlCommand) SCB() []byte                { return protocol.SCBCommandWithData }
func (c OutputControlCommand) Data() []byte               { return BuildOutputControls(c.Controls) }

// ReaderLedControlCommand drives one or more reader LEDs.
type ReaderLedControlCommand struct {
	Controls []ReaderLedControl
}

func (c ReaderLedControlCommand) Code() protocol.CommandCode { return protocol.CmdReaderLedControl }
func (c ReaderLedControlCommand) SCB() []byte                { return protocol.SCBCommandWithData }
func (c ReaderLedControlCommand) Data() []byte               { return BuildReaderLedControls(c.Controls) }

// ReaderBuzzerControlCommand drives a reader's buzzer.
type ReaderBuzzerControlCommand struct {
	Control ReaderBuzzerControl
}

func (c ReaderBuzzerControlCommand) Code() protocol.CommandCode {
	return protocol.CmdReaderBuzzerControl
}
func (c ReaderBuzzerControlCommand) SCB() []byte  { return protocol.SCBCommandWithData }
func (c ReaderBuzzerControlCommand) Data() []byte { return c.Control.Build() }

// ReaderTextOutputCommand writes text to a reader's display.
type ReaderTextOutputCommand struct {
	Output ReaderTextOutput
}

func (c ReaderTextOutputCommand) Code() protocol.CommandCode { return protocol.CmdReaderTextOutput }
func (c ReaderTextOutputCommand) SCB() []byte                { return protocol.SCBCommandWithData }
func (c ReaderTextOutputCommand) Data() []byte               { return c.Output.Build() }

// SetDateTimeCommand sets the PD's real-time clock.
type SetDateTimeCommand struct {
	Year, Month, Day, Hour, Minute, Second int
}

func (c SetDateTimeCommand) Code() protocol.CommandCode { return protocol.CmdSetDateTime }
func (c SetDateTimeCommand) SCB() []byte                { return protocol.SCBCommandWithData }
func (c SetDateTimeCommand) Data() []byte {
	return []byte{
		byte(c.Year), byte(c.Year >> 8),
		byte(c.Month), byte(c.Day),
		byte(c.Hour), byte(c.Minute), byte(c.Second),
	}
}

// ManufacturerSpecificCommand carries vendor-defined payload bytes, for
// ControlPanel.SendCustomCommand.
type ManufacturerSpecificCommand struct {
	Data_ []byte
}

func (c ManufacturerSpecificCommand) Code() protocol.CommandCode { return protocol.CmdMfgSpecific }
func (c ManufacturerSpecificCommand) SCB() []byte                { return protocol.SCBCommandWithData }
func (c ManufacturerSpecificCommand) Data() []byte               { return c.Data_ }

// KeySetCommand installs a new Secure Channel Base Key. SCBK is a
// required parameter rather than a package-level default, so a caller
// can never silently reinstall the well-known default key.
type KeySetCommand struct {
	SCBK []byte
}

func (c KeySetCommand) Code() protocol.CommandCode { return protocol.CmdKeySet }
func (c KeySetCommand) SCB() []byte                { return protocol.SCBCommandWithData }
func (c KeySetCommand) Data() []byte {
	data := make([]byte, 0, 2+len(c.SCBK))
	data = append(data, 0x01, byte(len(c.SCBK)))
	return append(data, c.SCBK...)
}

// SecurityInitializationRequestCommand is handshake step 1: the CP
// offers its server random challenge to the PD.
type SecurityInitializationRequestCommand struct {
	ServerRandom []byte
}

func (c SecurityInitializationRequestCommand) Code() protocol.CommandCode {
	return protocol.CmdSecInit
}
func (c SecurityInitializationRequestCommand) SCB() []byte {
	return []byte{0x03, byte(protocol.SCBBeginNewSequence), 0x00}
}
func (c SecurityInitializationRequestCommand) Data() []byte { return c.ServerRandom }

// ServerCryptogramCommand is handshake step 3: the CP proves it derived
// the same session keys by returning the server cryptogram.
type ServerCryptogramCommand struct {
	ServerCryptogram []byte
}

func (c ServerCryptogramCommand) Code() protocol.CommandCode { return protocol.CmdServerCrypt }
func (c ServerCryptogramCommand) SCB() []byte {
	return []byte{0x03, byte(protocol.SCBSequenceStep3), 0x00}
}
func (c ServerCryptogramCommand) Data() []byte { return c.ServerCryptogram }

package command

// Payload value types for commands that carry structured data, built
// byte-exactly per original_source/osdp/_types.py.

// OutputControlCode selects how OutputControl drives a single relay.
type OutputControlCode byte

const (
	OutputNop                                OutputControlCode = 0x00
	OutputPermanentOffAbortTimedOperation     OutputControlCode = 0x01
	OutputPermanentOnAbortTimedOperation      OutputControlCode = 0x02
	OutputPermanentOffAllowTimedOperation     OutputControlCode = 0x03
	OutputPermanentOnAllowTimedOperation      OutputControlCode = 0x04
	OutputTemporaryOnResumePermanent          OutputControlCode = 0x05
	OutputTemporaryOffResumePermanent         OutputControlCode = 0x06
)

// OutputControl is a single relay control entry for OutputControlCommand.
type OutputControl struct {
	OutputNumber byte
	Code         OutputControlCode
	Timer        uint16
}

func (c OutputControl) build() []byte {
	return []byte{c.OutputNumber, byte(c.Code), byte(c.Timer), byte(c.Timer >> 8)}
}

// BuildOutputControls encodes a sequence of OutputControl entries.
func BuildOutputControls(controls []OutputControl) []byte {
	data := make([]byte, 0, 4*len(controls))
	for _, c := range controls {
		data = append(data, c.build()...)
	}
	return data
}

// TemporaryReaderControlCode selects the temporary-LED-state behavior.
type TemporaryReaderControlCode byte

const (
	TempLedNop                             TemporaryReaderControlCode = 0x00
	TempLedCancelAndDisplayPermanent       TemporaryReaderControlCode = 0x01
	TempLedSetTemporaryAndStartTimer       TemporaryReaderControlCode = 0x02
)

// PermanentReaderControlCode selects the permanent-LED-state behavior.
type PermanentReaderControlCode byte

const (
	PermLedNop           PermanentReaderControlCode = 0x00
	PermLedSetPermanent  PermanentReaderControlCode = 0x02
)

// LedColor is an OSDP LED color code.
type LedColor byte

const (
	LedBlack LedColor = 0
	LedRed   LedColor = 1
	LedGreen LedColor = 2
	LedAmber LedColor = 3
	LedBlue  LedColor = 4
)

// ReaderLedControl is a single reader LED control entry for
// ReaderLedControlCommand.
type ReaderLedControl struct {
	ReaderNumber      byte
	LedNumber         byte
	TemporaryMode     TemporaryReaderControlCode
	TemporaryOnTime   byte
	TemporaryOffTime  byte
	TemporaryOnColor  LedColor
	TemporaryOffColor LedColor
	TemporaryTimer    uint16
	PermanentMode     PermanentReaderControlCode
	PermanentOnTime   byte
	PermanentOffTime  byte
	PermanentOnColor  LedColor
	PermanentOffColor LedColor
}

func (c ReaderLedControl) build() []byte {
	return []byte{
		c.ReaderNumber, c.LedNumber,
		byte(c.TemporaryMode),
		c.TemporaryOnTime,
		c.TemporaryOffTime,
		byte(c.TemporaryOnColor),
		byte(c.TemporaryOffColor),
		byte(c.TemporaryTimer), byte(c.TemporaryTimer >> 8),
		byte(c.PermanentMode),
		c.PermanentOnTime,
		c.PermanentOffTime,
		byte(c.PermanentOnColor),
		byte(c.PermanentOffColor),
	}
}

// BuildReaderLedControls encodes a sequence of ReaderLedControl entries.
func BuildReaderLedControls(controls []ReaderLedControl) []byte {
	data := make([]byte, 0, 13*len(controls))
	for _, c := range controls {
		data = append(data, c.build()...)
	}
	return data
}

// ToneCode selects a buzzer tone.
type ToneCode byte

const (
	ToneNoTone      ToneCode = 0
	ToneOff         ToneCode = 1
	ToneDefaultTone ToneCode = 2
	ToneTBD         ToneCode = 3
)

// ReaderBuzzerControl is the payload for ReaderBuzzerControlCommand.
type ReaderBuzzerControl struct {
	ReaderNumber byte
	Tone         ToneCode
	OnTime       byte
	OffTime      byte
	Count        byte
}

func (c ReaderBuzzerControl) Build() []byte {
	return []byte{c.ReaderNumber, byte(c.Tone), c.OnTime, c.OffTime, c.Count}
}

// TextCommand selects how ReaderTextOutput's text should be displayed.
// Values follow the OSDP base specification, per the REDESIGN FLAG
// resolving the original source's duplicated 0x02 enum value.
type TextCommand byte

const (
	PermanentTextNoWrap   TextCommand = 0x01
	PermanentTextWithWrap TextCommand = 0x02
	TempTextNoWrap        TextCommand = 0x03
	TempTextWithWrap      TextCommand = 0x04
)

// ReaderTextOutput is the payload for ReaderTextOutputCommand.
type ReaderTextOutput struct {
	ReaderNumber   byte
	Command        TextCommand
	TempTextTime   byte
	Row            byte
	Column         byte
	Text           string
}

func (c ReaderTextOutput) Build() []byte {
	text := []byte(c.Text)
	data := []byte{c.ReaderNumber, byte(c.Command), c.TempTextTime, c.Row, c.Column, byte(len(text))}
	return append(data, text...)
}

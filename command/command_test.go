package command

import (
	"bytes"
	"testing"

	"osdp-panel/protocol"
)

// fakeContext is a minimal command.Context for framing tests, standing
// in for a device session without pulling in the device package.
type fakeContext struct {
	address     byte
	sequence    byte
	useCRC      bool
	useSCS      bool
	established bool
	encKey      []byte
}

func (f fakeContext) Address() byte           { return f.address }
func (f fakeContext) Sequence() byte          { return f.sequence }
func (f fakeContext) UseCRC() bool            { return f.useCRC }
func (f fakeContext) UseSCS() bool            { return f.useSCS }
func (f fakeContext) SecurityEstablished() bool { return f.established }
func (f fakeContext) EncryptPayload(data []byte) []byte {
	return append([]byte{}, data...)
}
func (f fakeContext) GenerateMAC(message []byte, isCommand bool) []byte {
	return make([]byte, 16)
}

func TestBuildPollFrameDecodes(t *testing.T) {
	ctx := fakeContext{address: 0x7F, sequence: 0, useCRC: false, useSCS: false}
	raw := Build(Poll(), ctx)

	frame, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Address != 0x7F {
		t.Errorf("address = %#x, want 0x7F", frame.Address)
	}
	if frame.MessageType != byte(protocol.CmdPoll) {
		t.Errorf("message type = %#x, want CmdPoll", frame.MessageType)
	}
	if len(frame.Payload) != 0 {
		t.Errorf("payload = %v, want empty", frame.Payload)
	}
}

func TestBuildPollMatchesSpecVector(t *testing.T) {
	ctx := fakeContext{address: 0x7F, sequence: 1, useCRC: false, useSCS: false}
	raw := Build(Poll(), ctx)
	want := []byte{0x53, 0x7F, 0x07, 0x00, 0x01, 0x60, 0xC6}
	if !bytes.Equal(raw, want) {
		t.Errorf("Build(Poll) = % X, want % X", raw, want)
	}
}

func TestBuildSetDateTimeMatchesSpecVector(t *testing.T) {
	ctx := fakeContext{address: 0x7F, sequence: 1, useCRC: true, useSCS: false}
	cmd := SetDateTimeCommand{Year: 2019, Month: 11, Day: 29, Hour: 16, Minute: 17, Second: 18}
	raw := Build(cmd, ctx)
	want := []byte{0x53, 0x7F, 0x0F, 0x00, 0x05, 0x6D, 0xE3, 0x07, 0x0B, 0x1D, 0x10, 0x11, 0x12, 0xDE, 0xFA}
	if !bytes.Equal(raw, want) {
		t.Errorf("Build(SetDateTime) = % X, want % X", raw, want)
	}
}

func TestBuildWithSecureChannelAppendsMAC(t *testing.T) {
	ctx := fakeContext{address: 0x01, sequence: 2, useCRC: true, useSCS: true, established: true}
	raw := Build(LocalStatus(), ctx)

	frame, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !frame.IsSecureMessage() {
		t.Fatal("expected a secure session frame")
	}
	if len(frame.MAC) != protocol.MACSize {
		t.Errorf("mac length = %d, want %d", len(frame.MAC), protocol.MACSize)
	}
}

func TestBuildWithoutEstablishedSessionOmitsMAC(t *testing.T) {
	ctx := fakeContext{address: 0x01, sequence: 0, useCRC: true, useSCS: true, established: false}
	raw := Build(SecurityInitializationRequestCommand{ServerRandom: make([]byte, 8)}, ctx)

	frame, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.IsSecureMessage() {
		t.Fatal("handshake frame should not be classified as a secure session message")
	}
	if len(frame.Payload) != 8 {
		t.Errorf("payload length = %d, want 8", len(frame.Payload))
	}
}

func TestKeySetCommandData(t *testing.T) {
	scbk := bytes.Repeat([]byte{0xAA}, 16)
	cmd := KeySetCommand{SCBK: scbk}
	data := cmd.Data()
	if data[0] != 0x01 || data[1] != 0x10 {
		t.Fatalf("unexpected header bytes: % X", data[:2])
	}
	if !bytes.Equal(data[2:], scbk) {
		t.Errorf("scbk not appended correctly")
	}
}

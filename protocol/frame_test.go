package protocol

import (
	"bytes"
	"testing"
)

func TestControlByteRoundTrip(t *testing.T) {
	tests := []struct {
		sequence      byte
		useCRC, hasSCB bool
	}{
		{0, false, false},
		{1, true, false},
		{2, false, true},
		{3, true, true},
	}
	for _, tt := range tests {
		cb := ControlByte(tt.sequence, tt.useCRC, tt.hasSCB)
		seq, crc, scb := ParseControl(cb)
		if seq != tt.sequence || crc != tt.useCRC || scb != tt.hasSCB {
			t.Errorf("ControlByte(%d,%v,%v) round trip = (%d,%v,%v)", tt.sequence, tt.useCRC, tt.hasSCB, seq, crc, scb)
		}
	}
}

func TestDecodePollVector(t *testing.T) {
	raw := []byte{0x53, 0x7F, 0x07, 0x00, 0x01, 0x60, 0xC6}
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Address != 0x7F {
		t.Errorf("address = %#x, want 0x7F", frame.Address)
	}
	if frame.MessageType != 0x60 {
		t.Errorf("message type = %#x, want 0x60", frame.MessageType)
	}
	if len(frame.Payload) != 0 {
		t.Errorf("payload = % X, want empty", frame.Payload)
	}
	if frame.UseCRC {
		t.Error("poll vector uses checksum, not crc")
	}
}

func TestDecodeSetDateTimeVector(t *testing.T) {
	raw := []byte{0x53, 0x7F, 0x0F, 0x00, 0x05, 0x6D, 0xE3, 0x07, 0x0B, 0x1D, 0x10, 0x11, 0x12, 0xDE, 0xFA}
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !frame.UseCRC {
		t.Error("expected crc mode")
	}
	if frame.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", frame.Sequence)
	}
	want := []byte{0xE3, 0x07, 0x0B, 0x1D, 0x10, 0x11, 0x12}
	if !bytes.Equal(frame.Payload, want) {
		t.Errorf("payload = % X, want % X", frame.Payload, want)
	}
}

func TestDecodeRejectsBadSom(t *testing.T) {
	raw := []byte{0x00, 0x7F, 0x07, 0x00, 0x01, 0x60, 0xC6}
	_, err := Decode(raw)
	var fe *FrameError
	if err == nil {
		t.Fatal("expected an error")
	}
	if fe2, ok := err.(*FrameError); !ok || fe2.Kind != BadSom {
		t.Errorf("err = %v, want BadSom", err)
	}
	_ = fe
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	raw := []byte{0x53, 0x7F, 0x07, 0x00, 0x01, 0x60, 0x00}
	_, err := Decode(raw)
	fe, ok := err.(*FrameError)
	if !ok || fe.Kind != BadChecksum {
		t.Errorf("err = %v, want BadChecksum", err)
	}
}

func TestEncodeDecodeWithHandshakeSCBRoundTrip(t *testing.T) {
	control := ControlByte(0, true, true)
	handshakeSCB := []byte{0x03, byte(SCBBeginNewSequence), 0x00}
	buf := NewHeader(0x01, control, handshakeSCB)
	buf = append(buf, 0x60)
	FinalizeLength(buf, 2)
	raw := AppendCRC(buf)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !frame.HasSCB || frame.SCBType != SCBBeginNewSequence {
		t.Errorf("scb = %v/%v, want true/%v", frame.HasSCB, frame.SCBType, SCBBeginNewSequence)
	}
	if frame.IsSecureMessage() {
		t.Error("a handshake-step block is not a MAC-bearing secure session message")
	}
}

func TestDecodeSecureSessionSeparatesMAC(t *testing.T) {
	control := ControlByte(1, true, true)
	buf := NewHeader(0x01, control, SCBReplyWithData)
	buf = append(buf, 0x40, 0xAA, 0xBB)
	FinalizeLength(buf, MACSize+2)
	buf = append(buf, 0x01, 0x02, 0x03, 0x04)
	raw := AppendCRC(buf)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !frame.IsSecureMessage() {
		t.Fatal("expected a secure session message")
	}
	if !bytes.Equal(frame.MAC, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("mac = % X, want 01 02 03 04", frame.MAC)
	}
	if !bytes.Equal(frame.Payload, []byte{0xAA, 0xBB}) {
		t.Errorf("payload = % X, want AA BB", frame.Payload)
	}
}

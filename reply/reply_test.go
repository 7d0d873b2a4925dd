package reply

import (
	"testing"

	"osdp-panel/protocol"
)

type fakeContext struct {
	established bool
}

func (f fakeContext) SecurityEstablished() bool { return f.established }
func (f fakeContext) VerifyMAC(message, received []byte) error { return nil }
func (f fakeContext) DecryptPayload(data []byte) []byte        { return data }

func buildPlainReply(address, sequence byte, code protocol.ReplyCode, payload []byte, useCRC bool) []byte {
	control := protocol.ControlByte(sequence, useCRC, false)
	buf := protocol.NewHeader(address|protocol.ReplyAddressBit, control, nil)
	buf = append(buf, byte(code))
	buf = append(buf, payload...)
	footer := 1
	if useCRC {
		footer = 2
	}
	protocol.FinalizeLength(buf, footer)
	if useCRC {
		return protocol.AppendCRC(buf)
	}
	return protocol.AppendChecksum(buf)
}

func TestParseDeviceIdentificationRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x09, 0x01, 0x0A, 0x00, 0x00, 0x00, 0x02, 0x01, 0x00}
	raw := buildPlainReply(0x7F, 0, protocol.ReplyPdIdReport, payload, false)
	r, err := Parse(raw, fakeContext{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Code != protocol.ReplyPdIdReport {
		t.Errorf("code = %#x, want ReplyPdIdReport", r.Code)
	}
	if r.Address != 0x7F {
		t.Errorf("address = %#x, want 0x7F", r.Address)
	}
	id, err := ParseDeviceIdentification(r.Payload)
	if err != nil {
		t.Fatalf("ParseDeviceIdentification: %v", err)
	}
	if id.SerialNumber != 0x0000000A {
		t.Errorf("serial = %#x, want 0xA", id.SerialNumber)
	}
}

func TestParseLocalStatusRoundTrip(t *testing.T) {
	raw := buildPlainReply(0x00, 1, protocol.ReplyLocalStatus, []byte{0x01, 0x00}, true)
	r, err := Parse(raw, fakeContext{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	status, err := ParseLocalStatus(r.Payload)
	if err != nil {
		t.Fatalf("ParseLocalStatus: %v", err)
	}
	if !status.Tamper || status.PowerFailure {
		t.Errorf("status = %+v, want tamper=true power=false", status)
	}
}

func TestParseNakRoundTrip(t *testing.T) {
	raw := buildPlainReply(0x00, 2, protocol.ReplyNak, []byte{byte(protocol.ErrUnexpectedSequenceNumber)}, false)
	r, err := Parse(raw, fakeContext{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	nak, err := ParseNak(r.Payload)
	if err != nil {
		t.Fatalf("ParseNak: %v", err)
	}
	if nak.ErrorCode != protocol.ErrUnexpectedSequenceNumber {
		t.Errorf("error code = %v, want UnexpectedSequenceNumber", nak.ErrorCode)
	}
}

func TestParseDeviceCapabilitiesTwoByteFunctions(t *testing.T) {
	payload := []byte{
		byte(CapOutputControl), 1, 4,
		byte(CapReceiveBufferSize), 0x00, 0x04,
	}
	caps, err := ParseDeviceCapabilities(payload)
	if err != nil {
		t.Fatalf("ParseDeviceCapabilities: %v", err)
	}
	if len(caps.Capabilities) != 2 {
		t.Fatalf("len = %d, want 2", len(caps.Capabilities))
	}
	if caps.Capabilities[1].Value16 != 0x0400 {
		t.Errorf("Value16 = %#x, want 0x0400", caps.Capabilities[1].Value16)
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	raw := buildPlainReply(0x00, 0, protocol.ReplyAck, nil, true)
	raw = append(raw, 0xFF)
	if _, err := Parse(raw, fakeContext{}); err == nil {
		t.Fatal("expected a length-mismatch error")
	}
}

func TestParseSecureMessageBeforeEstablishedFails(t *testing.T) {
	control := protocol.ControlByte(0, true, true)
	buf := protocol.NewHeader(0x00|protocol.ReplyAddressBit, control, protocol.SCBReplyNoData)
	buf = append(buf, byte(protocol.ReplyAck))
	protocol.FinalizeLength(buf, protocol.MACSize+2)
	buf = append(buf, make([]byte, protocol.MACSize)...)
	raw := protocol.AppendCRC(buf)

	if _, err := Parse(raw, fakeContext{established: false}); err != ErrSecureSessionNotEstablished {
		t.Errorf("err = %v, want ErrSecureSessionNotEstablished", err)
	}
}

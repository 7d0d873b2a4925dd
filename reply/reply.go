// Package reply implements the OSDP reply model: decoding a framed PD
// reply, undoing secure-channel MAC/encryption when a session is
// established, and parsing each reply code's structured payload.
//
// Grounded on original_source/osdp/_reply.py's Reply.parse/build
// classmethods and the payload field layouts in original_source's
// _types.py, translated into one parser function per ReplyCode.
package reply

import (
	"errors"
	"fmt"

	"osdp-panel/protocol"
)

// Context is the subset of device session state a reply needs to be
// unwrapped: whether its secure channel is established, and hooks to
// verify the MAC and decrypt the payload. Device implements this.
type Context interface {
	SecurityEstablished() bool
	VerifyMAC(message, received []byte) error
	DecryptPayload(data []byte) []byte
}

// ErrSecureSessionNotEstablished is returned by Parse when a frame
// claims to carry a secure-session security block but the device's
// channel has not completed its handshake, so no keys exist to verify
// or decrypt it.
var ErrSecureSessionNotEstablished = errors.New("reply: secure session message received before channel established")

// Reply is a decoded, unwrapped PD reply: its security framing has
// already been verified and stripped, leaving Payload as clear bytes.
type Reply struct {
	Address  byte
	Sequence byte
	Code     protocol.ReplyCode
	Payload  []byte
	Frame    *protocol.Frame
}

// Parse decodes a raw packet (driver byte already stripped) and, if it
// carries a secure-session security block, verifies its MAC and
// decrypts its payload using ctx.
func Parse(data []byte, ctx Context) (*Reply, error) {
	frame, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}

	payload := frame.Payload
	if frame.IsSecureMessage() {
		if !ctx.SecurityEstablished() {
			return nil, ErrSecureSessionNotEstablished
		}
		if err := ctx.VerifyMAC(frame.MACCoveredMessage, frame.MAC); err != nil {
			return nil, fmt.Errorf("reply: %w", err)
		}
		// Only the with-data secure block actually carries an encrypted
		// payload; the no-data block is MAC-checked but its (empty or
		// informational) payload is never run through AES-CBC.
		if frame.SCBType == protocol.SCBReplyWithDataSecurity {
			payload = ctx.DecryptPayload(payload)
		}
	}

	return &Reply{
		Address:  frame.Address,
		Sequence: frame.Sequence,
		Code:     protocol.ReplyCode(frame.MessageType),
		Payload:  payload,
		Frame:    frame,
	}, nil
}

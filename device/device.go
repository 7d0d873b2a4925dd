// Package device implements the per-PD session state the bus polling
// engine drives: sequence numbering, the secure channel handshake,
// command queuing, and liveness tracking.
//
// Grounded on original_source/osdp/_device.py's Device class, which
// holds exactly this state (message_control, security state machine,
// a command queue, last-valid-reply bookkeeping) for one PD address.
package device

import (
	"sync"
	"time"

	"osdp-panel/command"
	"osdp-panel/protocol"
	"osdp-panel/reply"
	"osdp-panel/securechannel"
)

// livenessWindow is how long a PD can go without a valid reply before
// ControlPanel.IsOnline reports it offline.
const livenessWindow = 5 * time.Second

// Config describes how to address and secure one PD.
type Config struct {
	Address byte
	UseCRC  bool
	UseSCS  bool
	// SCBK overrides securechannel.DefaultSCBK for this device. Leave
	// nil to start from the factory default key.
	SCBK []byte
}

// Device is one PD's session state as seen by the control panel: the
// secure channel, the outgoing command queue, and the bookkeeping the
// bus needs to drive next_command's priority order (§4.3).
type Device struct {
	mu sync.Mutex

	address byte
	useCRC  bool
	useSCS  bool

	sc *securechannel.SecureChannel

	sequence byte

	queue []command.Command

	lastValidReply time.Time
	everReplied    bool
}

// New creates a Device session for cfg.
func New(cfg Config) *Device {
	sc := securechannel.New()
	if cfg.UseSCS && cfg.SCBK != nil {
		sc.SetSCBK(cfg.SCBK)
	}
	return &Device{
		address: cfg.Address,
		useCRC:  cfg.UseCRC,
		useSCS:  cfg.UseSCS,
		sc:      sc,
	}
}

// Address implements command.Context and reply bookkeeping.
func (d *Device) Address() byte { return d.address }

// UseCRC implements command.Context.
func (d *Device) UseCRC() bool { return d.useCRC }

// UseSCS implements command.Context.
func (d *Device) UseSCS() bool { return d.useSCS }

// Sequence implements command.Context: the sequence number for the
// command about to be sent.
func (d *Device) Sequence() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sequence
}

// SecurityEstablished implements command.Context and reply.Context.
func (d *Device) SecurityEstablished() bool {
	return d.useSCS && d.sc.IsEstablished()
}

// EncryptPayload implements command.Context.
func (d *Device) EncryptPayload(data []byte) []byte {
	return d.sc.EncryptCommandPayload(data)
}

// DecryptPayload implements reply.Context.
func (d *Device) DecryptPayload(data []byte) []byte {
	return d.sc.DecryptReplyPayload(data)
}

// GenerateMAC implements command.Context and reply.Context.
func (d *Device) GenerateMAC(message []byte, isCommand bool) []byte {
	return d.sc.GenerateMAC(message, isCommand)
}

// VerifyMAC implements reply.Context.
func (d *Device) VerifyMAC(message, received []byte) error {
	return d.sc.VerifyMAC(message, received)
}

// SecureChannel exposes the underlying channel, for callers that drive
// its handshake steps (Initialize/Establish/Reset) directly.
func (d *Device) SecureChannel() *securechannel.SecureChannel { return d.sc }

// AdvanceSequence moves the sequence counter forward:
// 0 -> 1 -> 2 -> 3 -> 1 -> 2 -> 3 -> ... Called once a command built at
// the current sequence has received a valid reply.
func (d *Device) AdvanceSequence() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sequence = d.sequence%3 + 1
}

// Enqueue appends a user command to the outgoing queue. It is sent once
// no higher-priority bootstrap/handshake command is pending.
func (d *Device) Enqueue(cmd command.Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, cmd)
}

// NextCommand selects the next command to send, per §4.3's priority
// order: POLL bootstrap (sequence 0) first, then the secure channel
// handshake steps if UseSCS and not yet established, then the user
// queue, finally a keepalive POLL when nothing else is pending. Each
// handshake step is re-derived from the channel's current state on
// every call, not tracked with a one-shot flag, so a dropped or
// timed-out reply simply causes the same step to be offered again on
// the next tick instead of stalling the handshake forever.
func (d *Device) NextCommand() command.Command {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sequence == 0 {
		return command.Poll()
	}

	if d.useSCS && !d.sc.IsEstablished() {
		if !d.sc.IsInitialized() {
			return command.SecurityInitializationRequestCommand{ServerRandom: d.sc.ServerRandom()}
		}
		return command.ServerCryptogramCommand{ServerCryptogram: d.sc.ServerCryptogram()}
	}

	if len(d.queue) > 0 {
		cmd := d.queue[0]
		d.queue = d.queue[1:]
		return cmd
	}

	return command.Poll()
}

// OnValidReply records that a correctly-framed (and, if secure, MAC
// verified) reply was just received from this PD, resetting its
// liveness window.
func (d *Device) OnValidReply() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastValidReply = now()
	d.everReplied = true
}

// IsOnline reports whether a valid reply arrived within the liveness
// window. A device that has never replied is never online.
func (d *Device) IsOnline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.everReplied {
		return false
	}
	return now().Sub(d.lastValidReply) < livenessWindow
}

// ResetSecurity drops the current secure channel session, so the next
// NextCommand call restarts the handshake from scratch. The sequence
// number is left as it is, so no new bootstrap Poll is sent. Called on
// MAC failure, a rejected handshake step, or a Nak carrying a
// security-related error code.
func (d *Device) ResetSecurity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sc.Reset()
}

// HandleReply classifies r against this device's handshake state,
// advancing the secure channel on CrypticData/InitialRMac replies. It
// does not itself dispatch application-level replies to callbacks;
// that is the control panel's job once this returns cleanly.
func (d *Device) HandleReply(r *reply.Reply) error {
	switch r.Code {
	case protocol.ReplyCrypticData:
		data, err := reply.ParseCrypticData(r.Payload)
		if err != nil {
			return err
		}
		return d.sc.Initialize(data.CUID, data.ClientRandom, data.ClientCryptogram)
	case protocol.ReplyInitialRMac:
		// The first security-block data byte is the PD's cryptogram
		// acceptance flag; zero means the server cryptogram was rejected.
		if r.Frame == nil || len(r.Frame.SCBData) == 0 || r.Frame.SCBData[0] == 0 {
			return securechannel.ErrCryptogramRejected
		}
		rmac, err := reply.ParseInitialRMac(r.Payload)
		if err != nil {
			return err
		}
		d.sc.Establish(rmac)
	}
	return nil
}

// now is a seam so liveness tests can control the clock without
// depending on wall-clock timing.
var now = time.Now

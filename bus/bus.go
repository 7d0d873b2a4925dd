// Package bus implements the OSDP polling engine: one goroutine per
// transport that walks its device list, sends each device's next
// command, reads back a framed reply in three phases, and classifies
// the result before moving on to the next address.
//
// Grounded on original_source/osdp/_bus.py's Bus.start loop, which
// drives exactly this read-classify-advance cycle over a connection
// and a device list, for the idea of an idle-line delay between
// transactions on a shared multidrop line.
package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"osdp-panel/command"
	"osdp-panel/device"
	"osdp-panel/protocol"
	"osdp-panel/reply"
	"osdp-panel/securechannel"
	"osdp-panel/transport"
)

// ErrClosed is returned by Run once Close has been called.
var ErrClosed = errors.New("bus: closed")

// Options configures a Bus's timing.
type Options struct {
	// Baud is the link's bit rate, used only to compute the idle-line
	// delay between transactions on a shared multidrop line.
	Baud uint32
	// Tick is how long the bus sleeps after a full pass over every
	// device before starting the next pass. Defaults to 100ms.
	Tick time.Duration
	// ReplyTimeout bounds how long the bus waits for a framed reply to
	// a single command before treating it as a timeout. Defaults to
	// 200ms, generous for a 9600 baud RS-485 line.
	ReplyTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Tick == 0 {
		o.Tick = 100 * time.Millisecond
	}
	if o.ReplyTimeout == 0 {
		o.ReplyTimeout = 200 * time.Millisecond
	}
	if o.Baud == 0 {
		o.Baud = 9600
	}
	return o
}

// idleDelay is the minimum gap OSDP requires between the end of one
// transaction and the start of the next on a shared line: sixteen bit
// times, stretched by a hundred-fold margin for scheduling jitter.
func (o Options) idleDelay() time.Duration {
	bitTime := time.Second / time.Duration(o.Baud)
	return bitTime * 16 * 100
}

// EventHandlers receives classified replies as the bus processes them.
// Every field is optional; a nil handler is simply not called.
type EventHandlers struct {
	OnNak                  func(address byte, nak reply.Nak)
	OnLocalStatusReport    func(address byte, status reply.LocalStatus)
	OnInputStatusReport    func(address byte, status reply.InputStatus)
	OnOutputStatusReport   func(address byte, status reply.OutputStatus)
	OnReaderStatusReport   func(address byte, status reply.ReaderStatus)
	OnFormattedReaderData  func(address byte, data reply.FormattedReaderData)
	OnRawCardData          func(address byte, data reply.RawCardData)
	OnKeypadData           func(address byte, data reply.KeypadData)
	// OnReply fires for every successfully parsed reply, in addition
	// to any more specific handler above, for replies the control
	// panel's synchronous request API is waiting on (IdReport,
	// DeviceCaps, Ack).
	OnReply func(address byte, r *reply.Reply)
}

// Bus owns one Transport and polls every device registered on it.
type Bus struct {
	transport transport.Transport
	opts      Options
	handlers  EventHandlers
	logger    *log.Logger

	mu      sync.Mutex
	devices map[byte]*device.Device
	order   []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Bus over t. Call AddDevice before Run for each PD this
// bus should poll.
func New(t transport.Transport, opts Options, handlers EventHandlers) *Bus {
	return &Bus{
		transport: t,
		opts:      opts.withDefaults(),
		handlers:  handlers,
		devices:   make(map[byte]*device.Device),
		logger:    log.NewWithOptions(os.Stderr, log.Options{Prefix: "bus"}),
		closed:    make(chan struct{}),
	}
}

// AddDevice registers a device session to be polled.
func (b *Bus) AddDevice(d *device.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[d.Address()] = d
	b.order = append(b.order, d.Address())
}

// RemoveDevice detaches a device so Run stops polling it. A request
// currently in flight for this address is unaffected by this call
// alone; ControlPanel.RemoveDevice also retires it from the reply
// registry.
func (b *Bus) RemoveDevice(address byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, address)
	for i, a := range b.order {
		if a == address {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Device returns the registered device at address, or nil.
func (b *Bus) Device(address byte) *device.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[address]
}

// Close stops Run and closes the underlying transport. Safe to call
// more than once or concurrently with Run.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		if b.transport.IsOpen() {
			err = b.transport.Close()
		}
	})
	return err
}

// Run opens the transport if needed and polls every registered device
// in a loop until ctx is canceled.
func (b *Bus) Run(ctx context.Context) error {
	if !b.transport.IsOpen() {
		if err := b.transport.Open(); err != nil {
			return fmt.Errorf("bus: open transport: %w", err)
		}
	}

	for {
		b.mu.Lock()
		order := append([]byte{}, b.order...)
		b.mu.Unlock()

		for _, addr := range order {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.closed:
				return ErrClosed
			default:
			}

			d := b.Device(addr)
			if d == nil {
				continue
			}
			b.transact(d)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.closed:
				return ErrClosed
			case <-time.After(b.opts.idleDelay()):
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closed:
			return ErrClosed
		case <-time.After(b.opts.Tick):
		}
	}
}

// transact sends d's next command and reads its reply, updating d's
// state and dispatching event handlers per the outcome.
func (b *Bus) transact(d *device.Device) {
	cmd := d.NextCommand()
	raw := command.Build(cmd, d)

	if err := b.transport.Write(append([]byte{protocol.DriverByte}, raw...)); err != nil {
		b.logger.Error("write failed", "address", d.Address(), "err", err)
		return
	}

	frameBytes, err := b.readFrame()
	if err != nil {
		// No reply, or a malformed reply, within the window: drop it
		// silently and retry with the next scheduled command.
		b.logger.Debug("no reply", "address", d.Address(), "err", err)
		return
	}

	r, err := reply.Parse(frameBytes, d)
	if err != nil {
		b.logger.Warn("reply rejected", "address", d.Address(), "err", err)
		if errors.Is(err, securechannel.ErrMacMismatch) {
			d.ResetSecurity()
		}
		return
	}

	if r.Address != d.Address() {
		// Rule: a reply from a different address than the one just
		// polled is a bus collision artifact, never a valid answer.
		b.logger.Warn("address mismatch", "got", r.Address, "want", d.Address())
		return
	}

	if r.Code == protocol.ReplyNak {
		nak, err := reply.ParseNak(r.Payload)
		if err == nil {
			b.handleNak(d, nak)
		}
		d.OnValidReply()
		d.AdvanceSequence()
		// A Nak still answers whatever command provoked it, so a
		// synchronous caller waiting on this device's reply must see
		// it too, in addition to the OnNak event callback above.
		if b.handlers.OnReply != nil {
			b.handlers.OnReply(d.Address(), r)
		}
		return
	}

	if err := d.HandleReply(r); err != nil {
		// Rule: a rejected handshake step (bad client cryptogram) must
		// restart the handshake from scratch.
		b.logger.Warn("secure channel handshake failed", "address", d.Address(), "err", err)
		d.ResetSecurity()
		return
	}

	d.OnValidReply()
	d.AdvanceSequence()
	b.dispatch(d.Address(), r)
}

// handleNak resets the secure channel when a Nak reports that the PD
// doesn't support, or no longer accepts, the current secure session,
// forcing the handshake to restart.
func (b *Bus) handleNak(d *device.Device, nak reply.Nak) {
	switch nak.ErrorCode {
	case protocol.ErrDoesNotSupportSecurityBlock, protocol.ErrCommunicationSecurityNotMet:
		d.ResetSecurity()
	}
	if b.handlers.OnNak != nil {
		b.handlers.OnNak(d.Address(), nak)
	}
}

// dispatch fans r out to the matching typed handler, then the generic
// OnReply handler the control panel façade uses for request matching.
func (b *Bus) dispatch(address byte, r *reply.Reply) {
	switch r.Code {
	case protocol.ReplyLocalStatus:
		if status, err := reply.ParseLocalStatus(r.Payload); err == nil && b.handlers.OnLocalStatusReport != nil {
			b.handlers.OnLocalStatusReport(address, status)
		}
	case protocol.ReplyInputStatus:
		if b.handlers.OnInputStatusReport != nil {
			b.handlers.OnInputStatusReport(address, reply.ParseInputStatus(r.Payload))
		}
	case protocol.ReplyOutputStatus:
		if b.handlers.OnOutputStatusReport != nil {
			b.handlers.OnOutputStatusReport(address, reply.ParseOutputStatus(r.Payload))
		}
	case protocol.ReplyReaderStatus:
		if b.handlers.OnReaderStatusReport != nil {
			b.handlers.OnReaderStatusReport(address, reply.ParseReaderStatus(r.Payload))
		}
	case protocol.ReplyFormattedReaderData:
		if data, err := reply.ParseFormattedReaderData(r.Payload); err == nil && b.handlers.OnFormattedReaderData != nil {
			b.handlers.OnFormattedReaderData(address, data)
		}
	case protocol.ReplyRawReaderData:
		if data, err := reply.ParseRawCardData(r.Payload); err == nil && b.handlers.OnRawCardData != nil {
			b.handlers.OnRawCardData(address, data)
		}
	case protocol.ReplyKeypadData:
		if data, err := reply.ParseKeypadData(r.Payload); err == nil && b.handlers.OnKeypadData != nil {
			b.handlers.OnKeypadData(address, data)
		}
	}

	if b.handlers.OnReply != nil {
		b.handlers.OnReply(address, r)
	}
}

// readFrame implements the three-phase framed read: scan for SOM one
// byte at a time, then read the fixed-size header to learn the total
// packet length, then read the remainder in one shot.
func (b *Bus) readFrame() ([]byte, error) {
	deadline := time.Now().Add(b.opts.ReplyTimeout)

	var som byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("bus: timed out scanning for start-of-message")
		}
		v, ok, err := b.transport.ReadByte(remaining)
		if err != nil {
			return nil, err
		}
		if ok && v == protocol.SOM {
			som = v
			break
		}
	}

	header := make([]byte, protocol.HeaderSize-1)
	if err := b.transport.ReadFull(header, time.Until(deadline)); err != nil {
		return nil, fmt.Errorf("bus: reading header: %w", err)
	}

	length := int(header[1]) | int(header[2])<<8
	if length < protocol.HeaderSize {
		return nil, fmt.Errorf("bus: implausible length field %d", length)
	}

	rest := make([]byte, length-protocol.HeaderSize)
	if err := b.transport.ReadFull(rest, time.Until(deadline)); err != nil {
		return nil, fmt.Errorf("bus: reading body: %w", err)
	}

	frame := make([]byte, 0, length)
	frame = append(frame, som)
	frame = append(frame, header...)
	frame = append(frame, rest...)
	return frame, nil
}

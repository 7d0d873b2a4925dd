// Package controlpanel implements the OSDP control panel façade: a
// multi-bus manager that turns the bus's asynchronous poll/reply
// stream into a synchronous request/reply API for callers, plus
// typed dispatch for the PD-initiated events (Nak, card/keypad data)
// that never correspond to a pending request.
//
// Grounded on original_source/osdp/_control_panel.py's ControlPanel
// class: one registry of outstanding requests per device/reply-code
// pair, a send-and-wait helper every public method funnels through,
// and separate "on_*" event callback slots for unsolicited replies.
package controlpanel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"osdp-panel/bus"
	"osdp-panel/command"
	"osdp-panel/device"
	"osdp-panel/protocol"
	"osdp-panel/reply"
	"osdp-panel/transport"
)

// DefaultRequestTimeout is how long a synchronous request waits for a
// reply before returning ErrRequestTimeout.
const DefaultRequestTimeout = 5 * time.Second

// ErrRequestTimeout is returned by every synchronous request method
// when no reply arrives within the configured timeout.
var ErrRequestTimeout = errors.New("controlpanel: request timed out")

// ErrConnectionClosed is returned by a synchronous request method when
// its device is removed, or the control panel is shut down, while the
// request is still outstanding.
var ErrConnectionClosed = errors.New("controlpanel: connection closed")

// ErrNak is returned by every synchronous request method when the PD
// answers with a Nak instead of the expected success reply. Use
// errors.As to recover the Nak's error code.
type ErrNak struct {
	Nak reply.Nak
}

func (e *ErrNak) Error() string {
	return fmt.Sprintf("controlpanel: device nak'd: %s", e.Nak.ErrorCode)
}

// EventHandlers receives PD-initiated replies that never correspond to
// an outstanding synchronous request: Naks (reported alongside the
// synchronous caller's error, not instead of it) and spontaneous
// reader input.
type EventHandlers struct {
	OnNak                 func(busID string, address byte, nak reply.Nak)
	OnFormattedReaderData func(busID string, address byte, data reply.FormattedReaderData)
	OnRawCardData         func(busID string, address byte, data reply.RawCardData)
	OnKeypadData          func(busID string, address byte, data reply.KeypadData)
}

// ControlPanel manages any number of buses, each identified by a
// caller-chosen ID (one per physical transport), and every device
// registered on them.
type ControlPanel struct {
	reg            *registry
	handlers       EventHandlers
	requestTimeout time.Duration
	logger         *log.Logger

	mu        sync.Mutex
	buses     map[string]*bus.Bus
	devices   map[string]map[byte]*device.Device
	busCancel map[string]context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an empty ControlPanel. requestTimeout of zero uses
// DefaultRequestTimeout.
func New(handlers EventHandlers, requestTimeout time.Duration) *ControlPanel {
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &ControlPanel{
		reg:            newRegistry(),
		handlers:       handlers,
		requestTimeout: requestTimeout,
		logger:         log.NewWithOptions(os.Stderr, log.Options{Prefix: "controlpanel"}),
		buses:          make(map[string]*bus.Bus),
		devices:        make(map[string]map[byte]*device.Device),
		busCancel:      make(map[string]context.CancelFunc),
	}
}

// AddBus registers a transport under busID and starts its polling loop
// in a new goroutine. The goroutine stops when ctx is canceled, the
// bus is closed, or Shutdown is called.
func (cp *ControlPanel) AddBus(ctx context.Context, busID string, t transport.Transport, opts bus.Options) {
	b := bus.New(t, opts, bus.EventHandlers{
		OnReply: func(address byte, r *reply.Reply) {
			cp.onReply(busID, address, r)
		},
		OnNak: func(address byte, nak reply.Nak) {
			if cp.handlers.OnNak != nil {
				cp.handlers.OnNak(busID, address, nak)
			}
		},
		OnFormattedReaderData: func(address byte, data reply.FormattedReaderData) {
			if cp.handlers.OnFormattedReaderData != nil {
				cp.handlers.OnFormattedReaderData(busID, address, data)
			}
		},
		OnRawCardData: func(address byte, data reply.RawCardData) {
			if cp.handlers.OnRawCardData != nil {
				cp.handlers.OnRawCardData(busID, address, data)
			}
		},
		OnKeypadData: func(address byte, data reply.KeypadData) {
			if cp.handlers.OnKeypadData != nil {
				cp.handlers.OnKeypadData(busID, address, data)
			}
		},
	})

	busCtx, cancel := context.WithCancel(ctx)

	cp.mu.Lock()
	cp.buses[busID] = b
	cp.devices[busID] = make(map[byte]*device.Device)
	cp.busCancel[busID] = cancel
	cp.mu.Unlock()

	cp.wg.Add(1)
	go func() {
		defer cp.wg.Done()
		if err := b.Run(busCtx); err != nil && busCtx.Err() == nil {
			cp.logger.Error("bus exited", "bus", busID, "err", err)
		}
	}()
}

// AddDevice registers a PD session on an already-added bus.
func (cp *ControlPanel) AddDevice(busID string, cfg device.Config) error {
	cp.mu.Lock()
	b, ok := cp.buses[busID]
	cp.mu.Unlock()
	if !ok {
		return fmt.Errorf("controlpanel: unknown bus %q", busID)
	}
	d := device.New(cfg)
	b.AddDevice(d)

	cp.mu.Lock()
	cp.devices[busID][cfg.Address] = d
	cp.mu.Unlock()
	return nil
}

// RemoveDevice detaches the device at address from busID's bus and
// fails any request currently outstanding against it with
// ErrConnectionClosed.
func (cp *ControlPanel) RemoveDevice(busID string, address byte) error {
	cp.mu.Lock()
	b, ok := cp.buses[busID]
	cp.mu.Unlock()
	if !ok {
		return fmt.Errorf("controlpanel: unknown bus %q", busID)
	}

	b.RemoveDevice(address)

	cp.mu.Lock()
	delete(cp.devices[busID], address)
	cp.mu.Unlock()

	cp.reg.closeAddress(address)
	return nil
}

// Shutdown cancels every bus's polling loop, closes every bus's
// transport, fails every outstanding synchronous request with
// ErrConnectionClosed, and waits for every bus goroutine to exit.
func (cp *ControlPanel) Shutdown() {
	cp.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(cp.busCancel))
	for _, cancel := range cp.busCancel {
		cancels = append(cancels, cancel)
	}
	buses := make([]*bus.Bus, 0, len(cp.buses))
	for _, b := range cp.buses {
		buses = append(buses, b)
	}
	cp.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, b := range buses {
		if err := b.Close(); err != nil {
			cp.logger.Error("bus close failed", "err", err)
		}
	}
	cp.reg.closeAll()
	cp.wg.Wait()
}

// IsOnline reports whether the device at address on busID has answered
// within its liveness window.
func (cp *ControlPanel) IsOnline(busID string, address byte) bool {
	cp.mu.Lock()
	devices, ok := cp.devices[busID]
	cp.mu.Unlock()
	if !ok {
		return false
	}
	d, ok := devices[address]
	if !ok {
		return false
	}
	return d.IsOnline()
}

// onReply is the single entry point for every reply the underlying
// buses parse. It first offers the reply to a waiting synchronous
// caller; callers that see a Nak here receive it as their result, and
// EventHandlers.OnNak above still fires independently.
func (cp *ControlPanel) onReply(busID string, address byte, r *reply.Reply) {
	cp.reg.deliver(address, r)
}

// send enqueues cmd on the device, waits for one of wantCodes (the
// expected success reply plus Nak) to arrive, and returns it.
func (cp *ControlPanel) send(busID string, address byte, cmd command.Command, wantCodes ...protocol.ReplyCode) (*reply.Reply, error) {
	cp.mu.Lock()
	devices, ok := cp.devices[busID]
	cp.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("controlpanel: unknown bus %q", busID)
	}
	d, ok := devices[address]
	if !ok {
		return nil, fmt.Errorf("controlpanel: unknown device %#x on bus %q", address, busID)
	}

	codes := make([]byte, 0, len(wantCodes)+1)
	for _, c := range wantCodes {
		codes = append(codes, byte(c))
	}
	codes = append(codes, byte(protocol.ReplyNak))

	ch, cancel := cp.reg.registerAny(address, codes)
	d.Enqueue(cmd)

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if r.Code == protocol.ReplyNak {
			nak, err := reply.ParseNak(r.Payload)
			if err != nil {
				return nil, fmt.Errorf("controlpanel: malformed nak: %w", err)
			}
			return r, &ErrNak{Nak: nak}
		}
		return r, nil
	case <-time.After(cp.requestTimeout):
		cancel()
		return nil, ErrRequestTimeout
	}
}

// IdReport requests the PD's identification payload.
func (cp *ControlPanel) IdReport(busID string, address byte) (reply.DeviceIdentification, error) {
	r, err := cp.send(busID, address, command.IdReport(), protocol.ReplyPdIdReport)
	if err != nil {
		return reply.DeviceIdentification{}, err
	}
	return reply.ParseDeviceIdentification(r.Payload)
}

// DeviceCapabilities requests the PD's capability list.
func (cp *ControlPanel) DeviceCapabilities(busID string, address byte) (reply.DeviceCapabilities, error) {
	r, err := cp.send(busID, address, command.DeviceCaps(), protocol.ReplyPdCaps)
	if err != nil {
		return reply.DeviceCapabilities{}, err
	}
	return reply.ParseDeviceCapabilities(r.Payload)
}

// LocalStatus requests the PD's tamper/power status.
func (cp *ControlPanel) LocalStatus(busID string, address byte) (reply.LocalStatus, error) {
	r, err := cp.send(busID, address, command.LocalStatus(), protocol.ReplyLocalStatus)
	if err != nil {
		return reply.LocalStatus{}, err
	}
	return reply.ParseLocalStatus(r.Payload)
}

// InputStatus requests the PD's contact input states.
func (cp *ControlPanel) InputStatus(busID string, address byte) (reply.InputStatus, error) {
	r, err := cp.send(busID, address, command.InputStatus(), protocol.ReplyInputStatus)
	if err != nil {
		return reply.InputStatus{}, err
	}
	return reply.ParseInputStatus(r.Payload), nil
}

// OutputStatus requests the PD's relay output states.
func (cp *ControlPanel) OutputStatus(busID string, address byte) (reply.OutputStatus, error) {
	r, err := cp.send(busID, address, command.OutputStatus(), protocol.ReplyOutputStatus)
	if err != nil {
		return reply.OutputStatus{}, err
	}
	return reply.ParseOutputStatus(r.Payload), nil
}

// ReaderStatus requests the PD's reader tamper states.
func (cp *ControlPanel) ReaderStatus(busID string, address byte) (reply.ReaderStatus, error) {
	r, err := cp.send(busID, address, command.ReaderStatus(), protocol.ReplyReaderStatus)
	if err != nil {
		return reply.ReaderStatus{}, err
	}
	return reply.ParseReaderStatus(r.Payload), nil
}

// SetOutputs drives one or more relay outputs, waiting for the PD's Ack.
func (cp *ControlPanel) SetOutputs(busID string, address byte, controls []command.OutputControl) error {
	_, err := cp.send(busID, address, command.OutputControlCommand{Controls: controls}, protocol.ReplyAck)
	return err
}

// SetReaderLEDs drives one or more reader LEDs, waiting for the PD's Ack.
func (cp *ControlPanel) SetReaderLEDs(busID string, address byte, controls []command.ReaderLedControl) error {
	_, err := cp.send(busID, address, command.ReaderLedControlCommand{Controls: controls}, protocol.ReplyAck)
	return err
}

// SetReaderBuzzer drives a reader's buzzer, waiting for the PD's Ack.
func (cp *ControlPanel) SetReaderBuzzer(busID string, address byte, control command.ReaderBuzzerControl) error {
	_, err := cp.send(busID, address, command.ReaderBuzzerControlCommand{Control: control}, protocol.ReplyAck)
	return err
}

// SetReaderText writes text to a reader's display, waiting for the PD's Ack.
func (cp *ControlPanel) SetReaderText(busID string, address byte, output command.ReaderTextOutput) error {
	_, err := cp.send(busID, address, command.ReaderTextOutputCommand{Output: output}, protocol.ReplyAck)
	return err
}

// SetDateTime sets the PD's real-time clock, waiting for the PD's Ack.
func (cp *ControlPanel) SetDateTime(busID string, address byte, year, month, day, hour, minute, second int) error {
	cmd := command.SetDateTimeCommand{Year: year, Month: month, Day: day, Hour: hour, Minute: minute, Second: second}
	_, err := cp.send(busID, address, cmd, protocol.ReplyAck)
	return err
}

// KeySet installs a new Secure Channel Base Key on the PD, waiting for
// the PD's Ack. The caller must call SetSCBK on the device's secure
// channel afterward if it wants subsequent handshakes to use the new
// key. KeySet only updates the PD's key, not the control panel's.
func (cp *ControlPanel) KeySet(busID string, address byte, scbk []byte) error {
	_, err := cp.send(busID, address, command.KeySetCommand{SCBK: scbk}, protocol.ReplyAck)
	return err
}

// SendCustomCommand sends vendor-defined payload bytes, waiting for the
// PD's reply (success or Nak, whichever arrives).
func (cp *ControlPanel) SendCustomCommand(busID string, address byte, data []byte) (*reply.Reply, error) {
	return cp.send(busID, address, command.ManufacturerSpecificCommand{Data_: data}, protocol.ReplyMfgSpecific)
}

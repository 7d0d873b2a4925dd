package controlpanel

import (
	"fmt"
	"sync"

	"osdp-panel/reply"
)

// pendingKey identifies one outstanding synchronous request: the PD it
// was sent to plus the reply code it's waiting for. A control panel
// only ever has one outstanding request per (device, reply code) pair,
// since the public API blocks the caller until the answer arrives.
type pendingKey struct {
	address byte
	code    byte
}

// registry matches asynchronous bus replies back to the synchronous
// caller that is waiting on one of them, implementing the façade half
// of the control panel's request/reply bridge.
//
// Grounded on original_source/osdp/_control_panel.py's use of a
// threading.Event per outstanding command to turn the bus's async
// reply stream into a blocking call; here a one-shot channel plays the
// role of the Python Event, idiomatically for Go.
type registry struct {
	mu      sync.Mutex
	pending map[pendingKey]chan *reply.Reply
}

func newRegistry() *registry {
	return &registry{pending: make(map[pendingKey]chan *reply.Reply)}
}

// registerAny creates one shared one-shot channel answering for any of
// codes sent to address. A request for IdReport, say, must accept
// either a PdIdReport success or a Nak failure on the same wait. It
// panics if any of the (address, code) pairs already has an
// outstanding request, since the public API never issues two
// overlapping requests to the same device.
func (r *registry) registerAny(address byte, codes []byte) (ch chan *reply.Reply, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, code := range codes {
		if _, exists := r.pending[pendingKey{address, code}]; exists {
			panic(fmt.Sprintf("controlpanel: request already outstanding for address %#x code %#x", address, code))
		}
	}

	ch = make(chan *reply.Reply, 1)
	for _, code := range codes {
		r.pending[pendingKey{address, code}] = ch
	}

	cancel = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, code := range codes {
			key := pendingKey{address, code}
			if r.pending[key] == ch {
				delete(r.pending, key)
			}
		}
	}
	return ch, cancel
}

// closeAddress cancels every outstanding request for address, closing
// each channel so a blocked caller's receive unblocks immediately with
// the closed-channel zero value instead of waiting out the full
// request timeout. Used when a device is removed from its bus.
func (r *registry) closeAddress(address byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := make(map[chan *reply.Reply]bool)
	for k, ch := range r.pending {
		if k.address != address {
			continue
		}
		if !closed[ch] {
			close(ch)
			closed[ch] = true
		}
		delete(r.pending, k)
	}
}

// closeAll cancels every outstanding request across every device, for
// use when the control panel itself is shutting down.
func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := make(map[chan *reply.Reply]bool)
	for k, ch := range r.pending {
		if !closed[ch] {
			close(ch)
			closed[ch] = true
		}
		delete(r.pending, k)
	}
}

// deliver completes the pending request matching (address, rep.Code),
// if one is outstanding, and retires every other code registered
// alongside it for the same request. Returns false if nothing was
// waiting, in which case the caller should treat rep as an
// unsolicited/event reply.
func (r *registry) deliver(address byte, rep *reply.Reply) bool {
	r.mu.Lock()
	key := pendingKey{address, byte(rep.Code)}
	ch, ok := r.pending[key]
	if ok {
		for k, v := range r.pending {
			if v == ch {
				delete(r.pending, k)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	ch <- rep
	return true
}

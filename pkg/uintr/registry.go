// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uintr

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/userintr/uintr/pkg/uintr/msr"
	"github.com/userintr/uintr/pkg/uintr/uitt"
	"github.com/userintr/uintr/pkg/uintr/upid"
	"github.com/userintr/uintr/pkg/uintr/xstate"
	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/log"
)

var (
	// ErrArmed is returned once a handler has been armed. There is one
	// handler per process and it cannot be replaced.
	ErrArmed = errors.New("user-interrupt handler already armed")

	// ErrNoHandler is returned by Arm when SetHandler was never called.
	ErrNoHandler = errors.New("no user-interrupt handler set")

	// ErrConsumed is returned by a Registration that was already armed.
	ErrConsumed = errors.New("registration already armed")
)

// armed is set by the first successful Arm.
var armed atomicbitops.Bool

// EntryAddress returns the address of the entry point, the value for
// IA32_UINTR_HANDLER. It is zero on architectures without user interrupts.
func EntryAddress() uintptr {
	return addrOfEntry()
}

// Registration configures the process-wide handler before delivery is
// enabled. Its methods are not safe for concurrent use.
type Registration struct {
	handler  Handler
	consumed bool
}

// NewRegistration starts configuring the handler. It fails with ErrArmed if
// a handler was already armed.
func NewRegistration() (*Registration, error) {
	if armed.Load() {
		return nil, ErrArmed
	}
	return &Registration{}, nil
}

// SetHandler sets the handler to publish on Arm. Later calls replace
// earlier ones.
func (r *Registration) SetHandler(h Handler) {
	r.handler = h
}

// EntryAddress returns the entry point address, see EntryAddress.
func (r *Registration) EntryAddress() uintptr {
	return EntryAddress()
}

// Arm publishes the handler and consumes r.
//
// After Arm returns successfully no Registration can be created or armed
// again, so the handler cannot change underneath a delivery.
func (r *Registration) Arm() (*Receiver, error) {
	if r.consumed {
		return nil, ErrConsumed
	}
	if r.handler == nil {
		return nil, ErrNoHandler
	}
	if armed.Swap(true) {
		return nil, ErrArmed
	}
	h := r.handler
	handler.Store(&h)
	r.consumed = true
	r.handler = nil
	log.Debugf("uintr: handler armed, entry point at %#x, extended state preserved: %t", EntryAddress(), preserveExtended)
	return &Receiver{handler: h}, nil
}

// Receiver is the armed handler. Delivery can be controlled through it on
// architectures that support it.
type Receiver struct {
	handler Handler
}

// Handler returns the armed handler.
func (r *Receiver) Handler() Handler {
	return r.handler
}

// EntryAddress returns the entry point address, see EntryAddress.
func (r *Receiver) EntryAddress() uintptr {
	return EntryAddress()
}

// ReceiverState returns the receiver half of the user-interrupt state for a
// thread that receives through d with notification vector uinv.
//
// The handler address is the entry point and the stack adjustment skips the
// red zone, so delivery never writes into it. UIF is set. The caller hands
// the result to whatever installs user-interrupt state for the thread.
func ReceiverState(uinv uint8, d *upid.Descriptor) (xstate.State, error) {
	var s xstate.State
	if d == nil || !d.Aligned() {
		return s, fmt.Errorf("posted-interrupt descriptor at %#x: %w", uintptr(unsafe.Pointer(d)), uitt.ErrMisaligned)
	}
	s.SetReceiver(xstate.Receiver{
		Handler:     msr.MakeHandlerAddr(EntryAddress()),
		StackAdjust: msr.SubtractStack(RedZoneSize),
		Vector:      uinv,
		Enabled:     true,
		PostDesc:    msr.MakePostDesc(d.Addr()),
	})
	return s, nil
}

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

// Package upid defines the user posted-interrupt descriptor (UPID).
//
// A UPID is written concurrently by software and by the processor: SENDUIPI
// sets PIR bits and the notification-control bits, and notification
// processing reads and clears them. Every mutation here is therefore an
// atomic read-modify-write on the containing 64-bit word.
//
// This package never allocates descriptors; see package hostmem.
package upid

import (
	"fmt"
	"unsafe"

	"github.com/userintr/uintr/pkg/uintr/region"
	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// Size is the size and required alignment of a Descriptor in bytes.
const Size = 64

// NumVectors is the number of user-interrupt vectors.
const NumVectors = 64

// Word offsets within a Descriptor.
const (
	ControlOffset = 0
	PIROffset     = 8
)

// Notification-control word layout (Intel SDM Vol. 3, Table 8-1).
const (
	ctlOutstanding = 1 << 0 // ON
	ctlSuppress    = 1 << 1 // SN
	ctlVectorShift = 16     // NV, bits 23:16
	ctlVectorMask  = 0xff << ctlVectorShift
	ctlDestShift   = 32 // NDST, bits 63:32
	ctlDestMask    = 0xffff_ffff << ctlDestShift
)

// Descriptor is a user posted-interrupt descriptor.
//
// The zero value is a descriptor with nothing pending, notifications not
// suppressed and notification vector 0.
type Descriptor struct {
	control atomicbitops.Uint64
	pir     atomicbitops.Uint64
	_       [Size - 16]byte
}

// The hardware format is 16 bytes at a 64-byte aligned address; padding to
// 64 bytes keeps every element of a []Descriptor aligned once the first is.
var (
	_ [Size - unsafe.Sizeof(Descriptor{})]byte
	_ [unsafe.Sizeof(Descriptor{}) - Size]byte
	_ [unsafe.Offsetof(Descriptor{}.control) - ControlOffset]byte
	_ [unsafe.Offsetof(Descriptor{}.pir) - PIROffset]byte
	_ [PIROffset - unsafe.Offsetof(Descriptor{}.pir)]byte
)

// Addr returns the linear address of d.
func (d *Descriptor) Addr() uintptr {
	return uintptr(unsafe.Pointer(d))
}

// At returns the descriptor at addr, or nil unless all of it lies in memory
// registered with package region. It resolves UPIDADDR values.
func At(addr uintptr) *Descriptor {
	return (*Descriptor)(region.Resolve(addr, Size))
}

// Aligned reports whether d satisfies the hardware alignment.
func (d *Descriptor) Aligned() bool {
	return d.Addr()%Size == 0
}

//go:nosplit
func vectorBit(vector uint8) uint64 {
	return 1 << (vector % NumVectors)
}

// updateControl applies fn to the control word atomically and returns the
// previous value.
//
//go:nosplit
func (d *Descriptor) updateControl(fn func(uint64) uint64) uint64 {
	for {
		old := d.control.Load()
		if d.control.CompareAndSwap(old, fn(old)) {
			return old
		}
	}
}

// updatePIR is updateControl for the PIR word.
//
//go:nosplit
func (d *Descriptor) updatePIR(fn func(uint64) uint64) uint64 {
	for {
		old := d.pir.Load()
		if d.pir.CompareAndSwap(old, fn(old)) {
			return old
		}
	}
}

// Post sets the PIR bit for vector and returns whether it was already set.
//
// This is the sender half of SENDUIPI. Vectors are taken modulo 64.
//
//go:nosplit
func (d *Descriptor) Post(vector uint8) bool {
	bit := vectorBit(vector)
	return d.updatePIR(func(v uint64) uint64 { return v | bit })&bit != 0
}

// TestAndClear clears the PIR bit for vector and returns its prior value.
//
// A true result means the caller has claimed exactly one request for
// vector; a concurrent Post that lands afterwards stays pending for the
// next claim.
//
//go:nosplit
func (d *Descriptor) TestAndClear(vector uint8) bool {
	bit := vectorBit(vector)
	return d.updatePIR(func(v uint64) uint64 { return v &^ bit })&bit != 0
}

// Take claims every pending request at once and returns them.
//
//go:nosplit
func (d *Descriptor) Take() uint64 {
	return d.pir.Swap(0)
}

// Pending returns the PIR without claiming anything.
//
//go:nosplit
func (d *Descriptor) Pending() uint64 {
	return d.pir.Load()
}

// Outstanding reports whether a notification is outstanding (ON).
//
//go:nosplit
func (d *Descriptor) Outstanding() bool {
	return d.control.Load()&ctlOutstanding != 0
}

// SetOutstanding sets or clears ON.
//
//go:nosplit
func (d *Descriptor) SetOutstanding(on bool) {
	if on {
		d.updateControl(func(v uint64) uint64 { return v | ctlOutstanding })
	} else {
		d.updateControl(func(v uint64) uint64 { return v &^ ctlOutstanding })
	}
}

// TestAndSetOutstanding sets ON unless SN is set, and returns the previous
// ON and SN bits. A sender must notify only when both were clear.
//
//go:nosplit
func (d *Descriptor) TestAndSetOutstanding() (wasOutstanding, suppressed bool) {
	old := d.updateControl(func(v uint64) uint64 {
		if v&ctlSuppress != 0 {
			return v
		}
		return v | ctlOutstanding
	})
	return old&ctlOutstanding != 0, old&ctlSuppress != 0
}

// Suppressed reports whether notifications are suppressed (SN).
//
//go:nosplit
func (d *Descriptor) Suppressed() bool {
	return d.control.Load()&ctlSuppress != 0
}

// SetSuppressed sets or clears SN.
//
//go:nosplit
func (d *Descriptor) SetSuppressed(sn bool) {
	if sn {
		d.updateControl(func(v uint64) uint64 { return v | ctlSuppress })
	} else {
		d.updateControl(func(v uint64) uint64 { return v &^ ctlSuppress })
	}
}

// SetNotificationTarget sets the vector and destination of the ordinary
// interrupt used to notify the receiver. dest is an APIC ID (bits 47:40
// in xAPIC mode, the whole field in x2APIC mode).
func (d *Descriptor) SetNotificationTarget(vector uint8, dest uint32) {
	d.updateControl(func(v uint64) uint64 {
		v &^= ctlVectorMask | ctlDestMask
		return v | uint64(vector)<<ctlVectorShift | uint64(dest)<<ctlDestShift
	})
}

// NotificationVector returns NV.
func (d *Descriptor) NotificationVector() uint8 {
	return uint8((d.control.Load() & ctlVectorMask) >> ctlVectorShift)
}

// Destination returns NDST.
func (d *Descriptor) Destination() uint32 {
	return uint32((d.control.Load() & ctlDestMask) >> ctlDestShift)
}

// Reset returns d to its zero state.
//
// Reset is not atomic with respect to concurrent senders and must only be
// used while no target table entry references d.
func (d *Descriptor) Reset() {
	d.control.Store(0)
	d.pir.Store(0)
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	ctl := d.control.Load()
	return fmt.Sprintf("UPID{outstanding: %t, suppressed: %t, vector: %#x, destination: %d, PIR: %#x}",
		ctl&ctlOutstanding != 0, ctl&ctlSuppress != 0,
		(ctl&ctlVectorMask)>>ctlVectorShift, (ctl&ctlDestMask)>>ctlDestShift, d.pir.Load())
}

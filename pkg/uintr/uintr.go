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

// Package uintr receives x86 user interrupts in Go.
//
// Delivery transfers control to a fixed entry point (see EntryAddress) on
// the interrupted goroutine's own stack. The entry point saves every
// general-purpose register, optionally the legacy FP/SIMD area, calls the
// registered Handler with a *Trapframe describing the interrupted context,
// restores the context including any changes the handler made, and issues
// UIRET.
//
// Handlers run in an unusual context: the goroutine was interrupted at an
// arbitrary instruction, possibly inside the runtime. A handler must
// therefore behave like a //go:nosplit function: it must not allocate, must
// not block, must not grow the stack and must not call anything that does.
// The simplest correct handler records the event in memory and returns.
//
// Vector registers other than X15 are only preserved when the package is
// built with the uintr_fpsimd tag. Without it the handler must not touch
// them, and the Go compiler uses them for ordinary struct copies.
//
// The handler is registered once, through a Registration, before delivery
// is enabled:
//
//	reg, err := uintr.NewRegistration()
//	...
//	reg.SetHandler(onInterrupt)
//	recv, err := reg.Arm()
//	...
//	state, err := uintr.ReceiverState(uinv, desc)
//	// Hand state to the kernel collaborator, then:
//	recv.Enable()
package uintr

import "unsafe"

// RedZoneSize is the size of the System V AMD64 red zone, the region below
// RSP that leaf functions use without adjusting RSP.
const RedZoneSize = 128

// GeneralRegisters holds the general-purpose registers of the interrupted
// context, in the order the entry point pushes them (lowest address first).
type GeneralRegisters struct {
	RDI uint64
	RSI uint64
	RDX uint64
	RCX uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64

	RBX uint64
	RBP uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	RAX uint64
}

// Frame is pushed by the processor on delivery.
type Frame struct {
	// Vector is the user vector being delivered (UIRRV).
	Vector uint64

	// RIP, RFLAGS and RSP are the interrupted context, restored by UIRET.
	RIP    uint64
	RFLAGS uint64
	RSP    uint64
}

// Trapframe is the interrupted context as seen by a Handler.
//
// It lives on the interrupted stack and is only valid for the duration of
// the handler call. Changes to Regs and Frame are picked up on return.
type Trapframe struct {
	// FP is the legacy FXSAVE area of the interrupted context, or nil when
	// the package was built without the uintr_fpsimd tag. Its XMM15 slot
	// is not restored; see X15.
	FP *FPState

	// X15 is saved separately since Go's register ABI reserves it as a zero
	// register and the call into the handler clears it. It is reloaded
	// after FP, so it is the authoritative copy of XMM15.
	X15 [2]uint64

	Regs  GeneralRegisters
	Frame Frame
}

const (
	regsOffset    = 24
	frameOffset   = regsOffset + 15*8
	trapframeSize = frameOffset + 4*8
)

var (
	_ [regsOffset - unsafe.Offsetof(Trapframe{}.Regs)]byte
	_ [unsafe.Offsetof(Trapframe{}.Regs) - regsOffset]byte
	_ [frameOffset - unsafe.Offsetof(Trapframe{}.Frame)]byte
	_ [unsafe.Offsetof(Trapframe{}.Frame) - frameOffset]byte
	_ [trapframeSize - unsafe.Sizeof(Trapframe{})]byte
	_ [unsafe.Sizeof(Trapframe{}) - trapframeSize]byte
)

// FrameOffset is the offset of Frame within Trapframe. The trapframe of a
// delivery starts FrameOffset bytes below the processor-pushed frame.
const FrameOffset = frameOffset

// Handler handles one user interrupt.
type Handler func(tf *Trapframe)

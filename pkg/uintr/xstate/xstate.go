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

// Package xstate defines the user-interrupt state component of the XSAVE
// area (state component 14).
//
// XSAVES and XRSTORS read and write this block with no knowledge of Go
// types, so its size and field offsets are asserted at compile time below
// and checked against the processor once at startup.
package xstate

import (
	"fmt"
	"unsafe"

	"github.com/userintr/uintr/pkg/uintr/msr"
)

// Component is the XSAVE state-component number for user interrupts.
const Component = 14

// Size is the size in bytes of the component.
const Size = 48

// Field offsets within the component (Intel SDM Vol. 1, Section 13.5.11).
const (
	HandlerOffset     = 0
	StackAdjustOffset = 8
	MiscOffset        = 16
	PostDescOffset    = 24
	UIRROffset        = 32
	TargetTableOffset = 40
)

// miscUIF is bit 63 of the MISC field. It holds UIF in the saved image
// only; IA32_UINTR_MISC itself has no such bit.
const miscUIF = 1 << 63

// State is the user-interrupt state component.
type State struct {
	handler     uint64
	stackAdjust uint64
	misc        uint64
	postDesc    uint64
	uirr        uint64
	targetTable uint64
}

var (
	_ [Size - unsafe.Sizeof(State{})]byte
	_ [unsafe.Sizeof(State{}) - Size]byte
	_ [unsafe.Offsetof(State{}.stackAdjust) - StackAdjustOffset]byte
	_ [StackAdjustOffset - unsafe.Offsetof(State{}.stackAdjust)]byte
	_ [unsafe.Offsetof(State{}.misc) - MiscOffset]byte
	_ [MiscOffset - unsafe.Offsetof(State{}.misc)]byte
	_ [unsafe.Offsetof(State{}.postDesc) - PostDescOffset]byte
	_ [PostDescOffset - unsafe.Offsetof(State{}.postDesc)]byte
	_ [unsafe.Offsetof(State{}.uirr) - UIRROffset]byte
	_ [UIRROffset - unsafe.Offsetof(State{}.uirr)]byte
	_ [unsafe.Offsetof(State{}.targetTable) - TargetTableOffset]byte
	_ [TargetTableOffset - unsafe.Offsetof(State{}.targetTable)]byte
)

// Bytes returns the component image backed by s, for handing to an
// external XSAVES/XRSTORS user.
func (s *State) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(s)), Size)
}

// Handler returns UIHANDLER.
func (s *State) Handler() msr.HandlerAddr { return msr.HandlerAddr(s.handler) }

// SetHandler sets UIHANDLER.
func (s *State) SetHandler(v msr.HandlerAddr) { s.handler = msr.Handler.Mask(uint64(v)) }

// StackAdjust returns UISTACKADJUST.
func (s *State) StackAdjust() msr.StackAdjustValue { return msr.StackAdjustValue(s.stackAdjust) }

// SetStackAdjust sets UISTACKADJUST.
func (s *State) SetStackAdjust(v msr.StackAdjustValue) {
	s.stackAdjust = msr.StackAdjust.Mask(uint64(v))
}

// Misc returns the MISC field without UIF.
func (s *State) Misc() msr.MiscValue { return msr.MiscValue(msr.Misc.Mask(s.misc)) }

// SetMisc sets UITTSZ and UINV, preserving UIF.
func (s *State) SetMisc(v msr.MiscValue) {
	s.misc = s.misc&miscUIF | msr.Misc.Mask(uint64(v))
}

// UIF returns the saved user-interrupt flag.
func (s *State) UIF() bool { return s.misc&miscUIF != 0 }

// SetUIF sets the saved user-interrupt flag.
func (s *State) SetUIF(uif bool) {
	if uif {
		s.misc |= miscUIF
	} else {
		s.misc &^= miscUIF
	}
}

// PostDesc returns UPIDADDR.
func (s *State) PostDesc() msr.PostDescAddr { return msr.PostDescAddr(s.postDesc) }

// SetPostDesc sets UPIDADDR.
func (s *State) SetPostDesc(v msr.PostDescAddr) { s.postDesc = msr.PostDesc.Mask(uint64(v)) }

// UIRR returns the user-interrupt request register.
func (s *State) UIRR() msr.Requests { return msr.Requests(s.uirr) }

// SetUIRR sets the user-interrupt request register.
func (s *State) SetUIRR(v msr.Requests) { s.uirr = uint64(v) }

// TargetTable returns the UITT field.
func (s *State) TargetTable() msr.TargetTableValue { return msr.TargetTableValue(s.targetTable) }

// SetTargetTable sets the UITT field.
func (s *State) SetTargetTable(v msr.TargetTableValue) {
	s.targetTable = msr.TargetTable.Mask(uint64(v))
}

// String implements fmt.Stringer.
func (s *State) String() string {
	return fmt.Sprintf("UintrState{handler: %#x, stack: %v, UITTSZ: %d, UINV: %#x, UIF: %t, UPID: %#x, UIRR: %#x, send: %t, UITT: %#x}",
		uint64(s.Handler()), s.StackAdjust(), s.Misc().TableSize(), s.Misc().Vector(), s.UIF(),
		uint64(s.PostDesc()), uint64(s.UIRR()), s.TargetTable().SendEnabled(), s.TargetTable().Addr())
}

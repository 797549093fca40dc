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

package msr

import (
	"fmt"
	"math/bits"
)

// HandlerAddr is a value for IA32_UINTR_HANDLER: the linear address that
// delivery loads into RIP.
type HandlerAddr uint64

// MakeHandlerAddr returns the handler value for addr.
func MakeHandlerAddr(addr uintptr) HandlerAddr {
	return HandlerAddr(Handler.Mask(uint64(addr)))
}

// StackMode selects how delivery derives the stack pointer.
type StackMode uint64

const (
	// StackSubtract subtracts the adjustment from the interrupted RSP.
	StackSubtract StackMode = 0

	// StackLoad loads RSP with the adjustment.
	StackLoad StackMode = 1
)

// StackAdjustValue is a value for IA32_UINTR_STACKADJUST.
//
// Bit 0 is the mode, the remaining bits the adjustment. Either way delivery
// aligns the resulting RSP down to 16 bytes before pushing its frame.
type StackAdjustValue uint64

// SubtractStack returns an adjustment that moves RSP down by n bytes.
//
// n is rounded up to an even number; bit 0 is the mode bit.
func SubtractStack(n uint64) StackAdjustValue {
	n = (n + 1) &^ 1
	return StackAdjustValue(StackAdjust.Mask(n | uint64(StackSubtract)))
}

// LoadStack returns an adjustment that switches to the stack whose top is
// sp. The low bit of sp is dropped.
func LoadStack(sp uintptr) StackAdjustValue {
	return StackAdjustValue(StackAdjust.Mask(uint64(sp)&^1 | uint64(StackLoad)))
}

// Mode returns the adjustment mode.
func (s StackAdjustValue) Mode() StackMode {
	return StackMode(s & 1)
}

// Value returns the adjustment with the mode bit cleared.
func (s StackAdjustValue) Value() uint64 {
	return uint64(s) &^ 1
}

// String implements fmt.Stringer.
func (s StackAdjustValue) String() string {
	if s.Mode() == StackLoad {
		return fmt.Sprintf("load %#x", s.Value())
	}
	return fmt.Sprintf("subtract %#x", s.Value())
}

// MiscValue is a value for IA32_UINTR_MISC.
type MiscValue uint64

const (
	miscTableSizeMask = 0xffff_ffff
	miscVectorShift   = 32
	miscVectorMask    = 0xff << miscVectorShift
)

// MakeMisc returns the MISC value for a target table whose highest valid
// index is tableSize and for the notification vector uinv.
func MakeMisc(tableSize uint32, uinv uint8) MiscValue {
	return MiscValue(Misc.Mask(uint64(tableSize) | uint64(uinv)<<miscVectorShift))
}

// TableSize returns UITTSZ, the highest valid target table index.
func (m MiscValue) TableSize() uint32 {
	return uint32(uint64(m) & miscTableSizeMask)
}

// Vector returns UINV, the notification vector.
func (m MiscValue) Vector() uint8 {
	return uint8((uint64(m) & miscVectorMask) >> miscVectorShift)
}

// WithTableSize returns m with UITTSZ replaced.
func (m MiscValue) WithTableSize(tableSize uint32) MiscValue {
	return MakeMisc(tableSize, m.Vector())
}

// WithVector returns m with UINV replaced.
func (m MiscValue) WithVector(uinv uint8) MiscValue {
	return MakeMisc(m.TableSize(), uinv)
}

// PostDescAddr is a value for IA32_UINTR_PD, the address of the receiver's
// posted-interrupt descriptor. The low six bits are always clear.
type PostDescAddr uint64

// MakePostDesc returns the PD value for a descriptor at addr.
func MakePostDesc(addr uintptr) PostDescAddr {
	return PostDescAddr(PostDesc.Mask(uint64(addr)))
}

// TargetTableValue is a value for IA32_UINTR_TT.
type TargetTableValue uint64

const ttSendEnabled = 1

// MakeTargetTable returns the TT value for a target table at addr. enabled
// controls whether SENDUIPI may be executed.
func MakeTargetTable(addr uintptr, enabled bool) TargetTableValue {
	v := uint64(addr) &^ 0xf
	if enabled {
		v |= ttSendEnabled
	}
	return TargetTableValue(TargetTable.Mask(v))
}

// Addr returns UITTADDR.
func (t TargetTableValue) Addr() uintptr {
	return uintptr(uint64(t) &^ 0xf)
}

// SendEnabled reports whether SENDUIPI is enabled.
func (t TargetTableValue) SendEnabled() bool {
	return t&ttSendEnabled != 0
}

// Requests is a value for IA32_UINTR_RR, one bit per user vector.
type Requests uint64

// Highest returns UIRRV, the highest requesting vector, or zero when no
// vector is requesting service.
func (r Requests) Highest() uint8 {
	if r == 0 {
		return 0
	}
	return uint8(bits.Len64(uint64(r)) - 1)
}

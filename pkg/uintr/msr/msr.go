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

// Package msr describes the user-interrupt model-specific registers.
//
// Every value that can reach a register is built by masking against that
// register's writable bits, so a reserved bit can never be set regardless
// of what the caller passes in. The package does not itself require
// privilege: Bank works over any Device, and only Native issues RDMSR and
// WRMSR.
package msr

import "fmt"

// Register is a user-interrupt MSR index.
type Register uint32

// User-interrupt MSRs (Intel SDM Vol. 4, Table 2-2).
const (
	RR          Register = 0x985 // IA32_UINTR_RR
	Handler     Register = 0x986 // IA32_UINTR_HANDLER
	StackAdjust Register = 0x987 // IA32_UINTR_STACKADJUST
	Misc        Register = 0x988 // IA32_UINTR_MISC
	PostDesc    Register = 0x989 // IA32_UINTR_PD
	TargetTable Register = 0x98a // IA32_UINTR_TT
)

// Registers lists all user-interrupt MSRs in index order.
var Registers = [...]Register{RR, Handler, StackAdjust, Misc, PostDesc, TargetTable}

// userCanonical covers the linear-address bits of a lower-half canonical
// address with 4-level paging. Bits 63:47 must be clear for a user address.
const userCanonical = 0x0000_7fff_ffff_ffff

// Writable masks. A bit that is clear here is reserved (or would make the
// value non-canonical) and is forced to zero on every write.
const (
	rrWritable          = ^uint64(0)
	handlerWritable     = userCanonical
	stackAdjustWritable = userCanonical
	miscWritable        = 0x0000_00ff_ffff_ffff // UINV 39:32, UITTSZ 31:0.
	postDescWritable    = userCanonical &^ 0x3f // 64-byte aligned UPID.
	targetTableWritable = userCanonical &^ 0xe  // bit 0 enable, 16-byte aligned UITT.
)

// Writable returns the set of bits that may be non-zero in r.
func (r Register) Writable() uint64 {
	switch r {
	case RR:
		return rrWritable
	case Handler:
		return handlerWritable
	case StackAdjust:
		return stackAdjustWritable
	case Misc:
		return miscWritable
	case PostDesc:
		return postDescWritable
	case TargetTable:
		return targetTableWritable
	default:
		panic(fmt.Sprintf("unknown user-interrupt MSR %#x", uint32(r)))
	}
}

// Mask clears every reserved bit of v for r. Mask is idempotent.
func (r Register) Mask(v uint64) uint64 {
	return v & r.Writable()
}

// String implements fmt.Stringer.
func (r Register) String() string {
	switch r {
	case RR:
		return "IA32_UINTR_RR"
	case Handler:
		return "IA32_UINTR_HANDLER"
	case StackAdjust:
		return "IA32_UINTR_STACKADJUST"
	case Misc:
		return "IA32_UINTR_MISC"
	case PostDesc:
		return "IA32_UINTR_PD"
	case TargetTable:
		return "IA32_UINTR_TT"
	default:
		return fmt.Sprintf("MSR(%#x)", uint32(r))
	}
}

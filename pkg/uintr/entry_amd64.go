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

//go:build amd64
// +build amd64

package uintr

// This is an assembly function.
//
// uintrEntry is the user-interrupt entry point. On entry RSP points at the
// frame described by Frame and UIF is clear; see dispatch.
func uintrEntry()

// addrOfEntry returns the start address of uintrEntry.
//
// In Go 1.17+, Go references to assembly functions resolve to an ABIInternal
// wrapper function rather than the function itself. We must reference from
// assembly to get the ABI0 (i.e., primary) address.
func addrOfEntry() uintptr

// simulateDelivery runs the entry point's save, dispatch and restore code
// against regs as if a user interrupt with the given vector had been
// delivered on the stack whose top is stack, then stores the resumed
// register state back into regs. UIRET is emulated.
//
// The handler runs on that stack, so it must be nosplit.
func simulateDelivery(regs *GeneralRegisters, vector uint64, stack uintptr)

// simulateResume is where an emulated UIRET from simulateDelivery lands.
func simulateResume()

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

import "sync/atomic"

// handler is the registered handler, published by Registration.Arm.
var handler atomic.Pointer[Handler]

// preserveExtended is read by the entry point.
var preserveExtended = extendedStateEnabled

// dispatch is called by the entry point with a trapframe built on the
// interrupted stack.
//
// Interrupts are disabled here (UIF is clear) and the caller's frame is not
// unwindable, so this must not split the stack.
//
//go:nosplit
func dispatch(tf *Trapframe) {
	if h := handler.Load(); h != nil {
		(*h)(tf)
	}
}

// Dispatch runs the registered handler on tf exactly as the entry point
// does. It is used by software models of delivery; see package sim.
func Dispatch(tf *Trapframe) {
	dispatch(tf)
}

// ExtendedStatePreserved reports whether the entry point saves the legacy
// FP/SIMD area around the handler.
func ExtendedStatePreserved() bool {
	return preserveExtended
}

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

package insn

// EnableDelivery sets the user-interrupt flag (STUI).
//
// A pending user interrupt may be delivered immediately after this returns,
// including before the caller's next instruction.
func EnableDelivery()

// DisableDelivery clears the user-interrupt flag (CLUI).
func DisableDelivery()

// DeliveryEnabled returns the user-interrupt flag (TESTUI).
//
// TESTUI copies UIF into CF; no delivery can intervene between the test and
// the flag read since both happen within this function's two instructions
// and delivery only clears UIF.
func DeliveryEnabled() bool

// SendUIPI sends the user interprocessor interrupt described by entry index
// of the current user-interrupt target table (SENDUIPI).
//
// Precondition: the target table has been installed for this thread,
// index does not exceed UITTSZ and the entry at index is valid.
func SendUIPI(_ Unchecked, index uint64)

// Return returns from a user-interrupt handler (UIRET).
//
// UIRET pops RIP, RFLAGS and RSP from the stack and sets UIF. It is only
// meaningful when the stack holds the frame pushed by user-interrupt
// delivery; the trampoline in package uintr issues it directly and Go code
// has essentially no reason to call this.
//
// Precondition: the current stack pointer addresses a delivery frame.
func Return(_ Unchecked)

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

// Package testutil provides register fixtures for testing delivery.
package testutil

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/userintr/uintr/pkg/uintr"
)

// RegisterMismatchError is used for checking registers.
type RegisterMismatchError []string

// Error returns a human-readable error.
func (r RegisterMismatchError) Error() string {
	return strings.Join([]string(r), ";")
}

// addRegisterMismatch allows simple chaining of register mismatches.
func addRegisterMismatch(err error, reg string, got, expected any) error {
	errStr := fmt.Sprintf("%s got %08x, expected %08x", reg, got, expected)
	switch r := err.(type) {
	case nil:
		// Return a new register mismatch.
		return RegisterMismatchError{errStr}
	case RegisterMismatchError:
		// Append the error.
		r = append(r, errStr)
		return r
	default:
		// Leave as is.
		return err
	}
}

// SetTestRegs initializes registers to known values.
//
// RBP is zero: the handler runs with it as the caller's frame pointer, and
// zero terminates a frame-pointer chain.
func SetTestRegs(regs *uintr.GeneralRegisters) {
	regs.R15 = 0x15
	regs.R14 = 0x14
	regs.R13 = 0x13
	regs.R12 = 0x12
	regs.RBP = 0
	regs.RBX = 0xb4
	regs.R11 = 0x11
	regs.R10 = 0x10
	regs.R9 = 0x09
	regs.R8 = 0x08
	regs.RAX = 0x44
	regs.RCX = 0xc4
	regs.RDX = 0xd4
	regs.RSI = 0x51
	regs.RDI = 0xd1
}

// TwiddleRegs inverts every register, for use from a handler.
//
//go:nosplit
func TwiddleRegs(regs *uintr.GeneralRegisters) {
	regs.R15 = ^regs.R15
	regs.R14 = ^regs.R14
	regs.R13 = ^regs.R13
	regs.R12 = ^regs.R12
	regs.RBP = ^regs.RBP
	regs.RBX = ^regs.RBX
	regs.R11 = ^regs.R11
	regs.R10 = ^regs.R10
	regs.R9 = ^regs.R9
	regs.R8 = ^regs.R8
	regs.RAX = ^regs.RAX
	regs.RCX = ^regs.RCX
	regs.RDX = ^regs.RDX
	regs.RSI = ^regs.RSI
	regs.RDI = ^regs.RDI
}

// CheckTestRegs checks registers against SetTestRegs, inverted if
// twiddled is set.
func CheckTestRegs(regs *uintr.GeneralRegisters, twiddled bool) (err error) {
	var want uintr.GeneralRegisters
	SetTestRegs(&want)
	if twiddled {
		TwiddleRegs(&want)
	}
	for _, r := range []struct {
		name      string
		got, need uint64
	}{
		{"R15", regs.R15, want.R15},
		{"R14", regs.R14, want.R14},
		{"R13", regs.R13, want.R13},
		{"R12", regs.R12, want.R12},
		{"Rbp", regs.RBP, want.RBP},
		{"Rbx", regs.RBX, want.RBX},
		{"R11", regs.R11, want.R11},
		{"R10", regs.R10, want.R10},
		{"R9", regs.R9, want.R9},
		{"R8", regs.R8, want.R8},
		{"Rax", regs.RAX, want.RAX},
		{"Rcx", regs.RCX, want.RCX},
		{"Rdx", regs.RDX, want.RDX},
		{"Rsi", regs.RSI, want.RSI},
		{"Rdi", regs.RDI, want.RDI},
	} {
		if r.got != r.need {
			err = addRegisterMismatch(err, r.name, r.got, r.need)
		}
	}
	return
}

// Stack is memory for running a handler off the goroutine stack.
type Stack struct {
	mem []byte
}

// NewStack allocates a stack of size bytes.
func NewStack(size int) *Stack {
	return &Stack{mem: make([]byte, size)}
}

// Top returns the 16-byte aligned top of s.
func (s *Stack) Top() uintptr {
	return (uintptr(unsafe.Pointer(&s.mem[0])) + uintptr(len(s.mem))) &^ 15
}

// Contains reports whether addr lies within s.
func (s *Stack) Contains(addr uintptr) bool {
	base := uintptr(unsafe.Pointer(&s.mem[0]))
	return addr >= base && addr < base+uintptr(len(s.mem))
}

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

// Package uitt defines the user-interrupt target table (UITT).
//
// SENDUIPI indexes the table with its register operand and posts the
// entry's vector into the descriptor the entry references. Entries and
// descriptors have independent lifetimes: invalidating an entry never
// touches the descriptor.
package uitt

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/userintr/uintr/pkg/uintr/region"
	"github.com/userintr/uintr/pkg/uintr/upid"
	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// EntrySize is the size and required alignment of an Entry in bytes.
const EntrySize = 16

// Word offsets within an Entry.
const (
	StateOffset      = 0
	DescriptorOffset = 8
)

// Entry state word layout (Intel SDM Vol. 3, Section 8.7).
const (
	stateValid       = 1 << 0 // V
	stateVectorShift = 8      // UV, bits 15:8; only 0..63 are valid.
	stateVectorMask  = 0x3f << stateVectorShift
)

var (
	// ErrMisaligned is returned when a descriptor or table is not aligned
	// as the processor requires.
	ErrMisaligned = errors.New("misaligned user-interrupt structure")

	// ErrVector is returned for a user vector outside 0..63.
	ErrVector = errors.New("user vector out of range")

	// ErrIndex is returned for a target index outside the table.
	ErrIndex = errors.New("target index out of range")

	// ErrUnmapped is returned for a descriptor outside memory registered
	// with package region, such as the Go heap.
	ErrUnmapped = errors.New("descriptor not in registered memory")

	// ErrInvalid is returned when looking up an entry that is not valid.
	ErrInvalid = errors.New("target table entry not valid")
)

// Entry is one user-interrupt target table entry.
type Entry struct {
	state atomicbitops.Uint64
	upid  atomicbitops.Uint64
}

var (
	_ [EntrySize - unsafe.Sizeof(Entry{})]byte
	_ [unsafe.Sizeof(Entry{}) - EntrySize]byte
	_ [unsafe.Offsetof(Entry{}.upid) - DescriptorOffset]byte
	_ [DescriptorOffset - unsafe.Offsetof(Entry{}.upid)]byte
)

// Set points e at d with user vector vector and marks it valid.
//
// The descriptor address is published before the valid bit, so a
// concurrent SENDUIPI never observes a valid entry with a stale address.
// d must be in memory registered with package region, see hostmem.Arena.
// The caller must keep that memory mapped while e is valid.
func (e *Entry) Set(vector uint8, d *upid.Descriptor) error {
	if vector >= upid.NumVectors {
		return fmt.Errorf("vector %d: %w", vector, ErrVector)
	}
	if d == nil || !d.Aligned() {
		return fmt.Errorf("descriptor at %#x: %w", uintptr(unsafe.Pointer(d)), ErrMisaligned)
	}
	if !region.Contains(unsafe.Pointer(d), upid.Size) {
		return fmt.Errorf("descriptor at %#x: %w", d.Addr(), ErrUnmapped)
	}
	e.state.Store(0)
	e.upid.Store(uint64(d.Addr()))
	e.state.Store(uint64(vector)<<stateVectorShift | stateValid)
	return nil
}

// MarkInvalid clears the valid bit and leaves the rest of e alone.
func (e *Entry) MarkInvalid() {
	for {
		old := e.state.Load()
		if e.state.CompareAndSwap(old, old&^stateValid) {
			return
		}
	}
}

// Valid reports whether e is valid.
func (e *Entry) Valid() bool {
	return e.state.Load()&stateValid != 0
}

// Vector returns the user vector of e.
func (e *Entry) Vector() uint8 {
	return uint8((e.state.Load() & stateVectorMask) >> stateVectorShift)
}

// DescriptorAddr returns the UPID address stored in e.
func (e *Entry) DescriptorAddr() uintptr {
	return uintptr(e.upid.Load())
}

// Descriptor returns the descriptor e references, or nil if its memory is
// no longer registered.
func (e *Entry) Descriptor() *upid.Descriptor {
	return upid.At(e.DescriptorAddr())
}

// String implements fmt.Stringer.
func (e *Entry) String() string {
	return fmt.Sprintf("UITTE{valid: %t, vector: %d, upid: %#x}", e.Valid(), e.Vector(), e.DescriptorAddr())
}

// Table is a user-interrupt target table. Its memory is owned by the
// caller; see hostmem.Arena.Table.
type Table []Entry

// Aligned reports whether t satisfies the hardware alignment.
func (t Table) Aligned() bool {
	return len(t) == 0 || t.Addr()%EntrySize == 0
}

// Addr returns UITTADDR for t.
func (t Table) Addr() uintptr {
	if len(t) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&t[0]))
}

// Size returns UITTSZ, the highest index of t.
func (t Table) Size() uint32 {
	if len(t) == 0 {
		return 0
	}
	return uint32(len(t) - 1)
}

// Set configures entry index.
func (t Table) Set(index uint64, vector uint8, d *upid.Descriptor) error {
	if index >= uint64(len(t)) {
		return fmt.Errorf("index %d of %d: %w", index, len(t), ErrIndex)
	}
	if !t.Aligned() {
		return fmt.Errorf("table at %#x: %w", t.Addr(), ErrMisaligned)
	}
	return t[index].Set(vector, d)
}

// Invalidate marks entry index invalid.
func (t Table) Invalidate(index uint64) error {
	if index >= uint64(len(t)) {
		return fmt.Errorf("index %d of %d: %w", index, len(t), ErrIndex)
	}
	t[index].MarkInvalid()
	return nil
}

// Lookup returns the valid entry at index, the way SENDUIPI resolves its
// operand. Where SENDUIPI faults, Lookup returns an error.
func (t Table) Lookup(index uint64) (*Entry, error) {
	if len(t) == 0 || index > uint64(t.Size()) {
		return nil, fmt.Errorf("index %d of %d: %w", index, len(t), ErrIndex)
	}
	e := &t[index]
	if !e.Valid() {
		return nil, fmt.Errorf("index %d: %w", index, ErrInvalid)
	}
	return e, nil
}

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

// Package hostmem allocates memory for structures the processor reads
// directly: posted-interrupt descriptors and user-interrupt target tables.
//
// The memory comes from anonymous mappings outside the Go heap, so it is
// never moved, is naturally page aligned and can be locked. Each mapping is
// registered with package region while the arena is open.
package hostmem

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/userintr/uintr/pkg/uintr/region"
	"github.com/userintr/uintr/pkg/uintr/uitt"
	"github.com/userintr/uintr/pkg/uintr/upid"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/hostarch"
	"gvisor.dev/gvisor/pkg/log"
)

// ErrExhausted is returned when an arena has no room left.
var ErrExhausted = errors.New("arena exhausted")

// Arena is a bump allocator over one anonymous mapping.
//
// Arena is not safe for concurrent use. Memory is only returned when the
// whole arena is closed.
type Arena struct {
	mem  []byte
	used uintptr
}

// Options configures New.
type Options struct {
	// Lock locks the mapping into memory.
	Lock bool
}

// New maps an arena of at least size bytes.
func New(size int, opts Options) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid arena size %d", size)
	}
	length, ok := hostarch.Addr(size).RoundUp()
	if !ok {
		return nil, fmt.Errorf("arena size %d overflows", size)
	}
	mem, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap(%d): %w", length, err)
	}
	if opts.Lock {
		if err := unix.Mlock(mem); err != nil {
			unix.Munmap(mem)
			return nil, fmt.Errorf("mlock(%d): %w", length, err)
		}
	}
	if err := region.Register(mem); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	log.Debugf("hostmem: mapped %d byte arena at %#x (locked: %t)", length, uintptr(unsafe.Pointer(&mem[0])), opts.Lock)
	return &Arena{mem: mem}, nil
}

// Size returns the size of the mapping.
func (a *Arena) Size() int {
	return len(a.mem)
}

// Free returns the number of unallocated bytes, ignoring alignment.
func (a *Arena) Free() int {
	return len(a.mem) - int(a.used)
}

// alloc returns n bytes aligned to align, which must be a power of two.
func (a *Arena) alloc(n, align uintptr) (unsafe.Pointer, error) {
	if a.mem == nil {
		return nil, fmt.Errorf("arena closed: %w", ErrExhausted)
	}
	off := (a.used + align - 1) &^ (align - 1)
	if off+n > uintptr(len(a.mem)) || off+n < off {
		return nil, fmt.Errorf("%d bytes at alignment %d, %d free: %w", n, align, a.Free(), ErrExhausted)
	}
	a.used = off + n
	return unsafe.Pointer(&a.mem[off]), nil
}

// Descriptors allocates n zeroed, 64-byte aligned descriptors.
func (a *Arena) Descriptors(n int) ([]upid.Descriptor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid descriptor count %d", n)
	}
	p, err := a.alloc(uintptr(n)*upid.Size, upid.Size)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*upid.Descriptor)(p), n), nil
}

// Table allocates a target table of n invalid entries.
func (a *Arena) Table(n int) (uitt.Table, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid table length %d", n)
	}
	p, err := a.alloc(uintptr(n)*uitt.EntrySize, uitt.EntrySize)
	if err != nil {
		return nil, err
	}
	return uitt.Table(unsafe.Slice((*uitt.Entry)(p), n)), nil
}

// Close unmaps the arena. Everything allocated from it must be unused,
// including by the processor: no valid table entry may reference it and it
// must not be installed as any thread's UPID or UITT.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	mem := a.mem
	a.mem = nil
	a.used = 0
	region.Unregister(mem)
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

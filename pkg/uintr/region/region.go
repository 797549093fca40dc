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

// Package region tracks memory outside the Go heap that the processor may
// address directly: the mappings holding posted-interrupt descriptors and
// target tables.
//
// Hardware structures store raw addresses. Converting such an address back
// into a Go pointer is only sound when it does not point into the Go heap,
// so lookups succeed only inside a registered region and are computed from
// the region's own base pointer.
package region

import (
	"fmt"
	"unsafe"

	"gvisor.dev/gvisor/pkg/sync"
)

// region is one registered mapping.
type region struct {
	base   unsafe.Pointer
	length uintptr
}

func (r region) start() uintptr {
	return uintptr(r.base)
}

// contains reports whether [addr, addr+size) lies inside r.
func (r region) contains(addr, size uintptr) bool {
	return addr >= r.start() && size <= r.length && addr-r.start() <= r.length-size
}

var (
	mu sync.RWMutex

	// regions is the set of registered regions. Protected by mu.
	regions []region
)

// Register records mem, which must not be Go heap memory, as addressable.
func Register(mem []byte) error {
	if len(mem) == 0 {
		return fmt.Errorf("empty region")
	}
	r := region{base: unsafe.Pointer(&mem[0]), length: uintptr(len(mem))}
	mu.Lock()
	defer mu.Unlock()
	for _, o := range regions {
		if r.start() < o.start()+o.length && o.start() < r.start()+r.length {
			return fmt.Errorf("region [%#x, %#x) overlaps [%#x, %#x)", r.start(), r.start()+r.length, o.start(), o.start()+o.length)
		}
	}
	regions = append(regions, r)
	return nil
}

// Unregister removes the region registered for mem. After it returns, no
// address inside mem resolves.
func Unregister(mem []byte) {
	if len(mem) == 0 {
		return
	}
	base := unsafe.Pointer(&mem[0])
	mu.Lock()
	defer mu.Unlock()
	for i, r := range regions {
		if r.base == base {
			regions = append(regions[:i], regions[i+1:]...)
			return
		}
	}
}

// Resolve returns a pointer to the size bytes at addr, or nil if they are
// not entirely inside one registered region.
func Resolve(addr, size uintptr) unsafe.Pointer {
	mu.RLock()
	defer mu.RUnlock()
	for _, r := range regions {
		if r.contains(addr, size) {
			return unsafe.Add(r.base, addr-r.start())
		}
	}
	return nil
}

// Contains reports whether the size bytes at p are inside a registered
// region.
func Contains(p unsafe.Pointer, size uintptr) bool {
	return Resolve(uintptr(p), size) != nil
}

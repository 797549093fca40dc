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

// Package sim models user-interrupt delivery in software.
//
// A System holds logical processors that share descriptor and target table
// memory with the rest of the process. Each CPU has its own user-interrupt
// registers, UIF, interrupted context and stack. Sending follows SENDUIPI,
// notification processing and recognition follow the processor, and
// delivery builds a uintr.Trapframe on the CPU's stack exactly where the
// entry point would and runs uintr.Dispatch on it.
//
// A CPU is driven by one goroutine at a time. SendUIPI and ordinary
// interrupts may come from any goroutine; they are picked up by the target
// at its next instruction boundary, see CPU.Step.
package sim

import (
	"errors"
	"fmt"

	"github.com/userintr/uintr/pkg/uintr"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

var (
	// ErrGeneralProtection is returned where the processor raises #GP.
	ErrGeneralProtection = errors.New("general-protection fault")

	// ErrDuplicateCPU is returned by NewCPU for an APIC ID already in use.
	ErrDuplicateCPU = errors.New("duplicate APIC ID")
)

// Context is the register state of the code a CPU is running.
type Context struct {
	Regs   uintr.GeneralRegisters
	RIP    uint64
	RFLAGS uint64
	RSP    uint64
}

// State is the delivery state of a CPU.
type State int

const (
	// Disabled means UIF is clear and no handler is running.
	Disabled State = iota

	// Armed means UIF is set: a pending user interrupt is delivered at the
	// next instruction boundary.
	Armed

	// InHandler means a handler is running. UIF is clear unless the
	// handler set it again.
	InHandler
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Armed:
		return "Armed"
	case InHandler:
		return "InHandler"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// System is a set of logical processors addressed by APIC ID.
type System struct {
	mu   sync.Mutex
	cpus map[uint32]*CPU
}

// NewSystem returns an empty system.
func NewSystem() *System {
	return &System{cpus: make(map[uint32]*CPU)}
}

// NewCPU adds a processor with APIC ID id and a stack of stackSize bytes.
// The processor starts with RSP at the top of its stack and UIF clear.
func (s *System) NewCPU(id uint32, stackSize int) (*CPU, error) {
	if stackSize < MinStackSize {
		return nil, fmt.Errorf("stack of %d bytes is smaller than %d", stackSize, MinStackSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cpus[id]; ok {
		return nil, fmt.Errorf("CPU %d: %w", id, ErrDuplicateCPU)
	}
	c := newCPU(s, id, stackSize)
	s.cpus[id] = c
	log.Debugf("sim: CPU %d with %d byte stack at %#x", id, stackSize, c.stackBase())
	return c, nil
}

// CPU returns the processor with APIC ID id, or nil.
func (s *System) CPU(id uint32) *CPU {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cpus[id]
}

// Interrupt sends an ordinary interrupt with the given vector to the
// processor with APIC ID dest. Interrupts to absent processors are lost.
func (s *System) Interrupt(dest uint32, vector uint8) {
	c := s.CPU(dest)
	if c == nil {
		log.Warningf("sim: interrupt %#x to absent CPU %d dropped", vector, dest)
		return
	}
	c.post(vector)
}

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

package sim

import (
	"fmt"
	"unsafe"

	"github.com/userintr/uintr/pkg/uintr"
	"github.com/userintr/uintr/pkg/uintr/msr"
	"github.com/userintr/uintr/pkg/uintr/region"
	"github.com/userintr/uintr/pkg/uintr/uitt"
	"github.com/userintr/uintr/pkg/uintr/upid"
	"github.com/userintr/uintr/pkg/uintr/xstate"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

// MinStackSize is the smallest stack NewCPU accepts.
const MinStackSize = 4096

// rflagsReserved is bit 1 of RFLAGS, which always reads as one.
const rflagsReserved = 1 << 1

// Stats counts events on a CPU.
type Stats struct {
	// Deliveries is the number of handler invocations.
	Deliveries uint64

	// Notifications is the number of notification-processing events.
	Notifications uint64

	// Ignored is the number of ordinary interrupts that were not
	// user-interrupt notifications. The kernel would handle them.
	Ignored uint64

	// MaxDepth is the deepest handler nesting seen.
	MaxDepth int
}

// CPU is one simulated logical processor.
type CPU struct {
	sys  *System
	id   uint32
	regs msr.Shadow
	bank msr.Bank

	// The following fields are owned by the goroutine driving the CPU.
	uif      bool
	depth    int
	ctx      Context
	stack    []byte
	stats    Stats
	dispatch func(*uintr.Trapframe)

	mu sync.Mutex
	// inbox holds ordinary interrupts not yet taken. Protected by mu.
	inbox []uint8
}

func newCPU(s *System, id uint32, stackSize int) *CPU {
	c := &CPU{
		sys:      s,
		id:       id,
		stack:    make([]byte, stackSize),
		dispatch: uintr.Dispatch,
	}
	c.bank = msr.NewBank(&c.regs)
	c.ctx.RSP = c.StackTop()
	c.ctx.RFLAGS = rflagsReserved
	return c
}

// ID returns the APIC ID of c.
func (c *CPU) ID() uint32 {
	return c.id
}

// Bank returns the user-interrupt registers of c.
func (c *CPU) Bank() msr.Bank {
	return c.bank
}

// Context returns the context c is running.
func (c *CPU) Context() Context {
	return c.ctx
}

// SetContext replaces the context c is running.
func (c *CPU) SetContext(ctx Context) {
	c.ctx = ctx
}

// Depth returns the number of handlers currently running.
func (c *CPU) Depth() int {
	return c.depth
}

// Stats returns the event counts of c.
func (c *CPU) Stats() Stats {
	return c.stats
}

// State returns the delivery state of c.
func (c *CPU) State() State {
	switch {
	case c.depth > 0:
		return InHandler
	case c.uif:
		return Armed
	default:
		return Disabled
	}
}

// SetDispatch replaces the function deliveries call, uintr.Dispatch by
// default.
func (c *CPU) SetDispatch(fn func(*uintr.Trapframe)) {
	c.dispatch = fn
}

func (c *CPU) stackBase() uint64 {
	return uint64(uintptr(unsafe.Pointer(&c.stack[0])))
}

// StackTop returns the 16-byte aligned top of the stack of c.
func (c *CPU) StackTop() uint64 {
	return (c.stackBase() + uint64(len(c.stack))) &^ 15
}

// Memory returns the n bytes of stack memory at addr.
func (c *CPU) Memory(addr uint64, n int) ([]byte, error) {
	base := c.stackBase()
	if addr < base || addr+uint64(n) > base+uint64(len(c.stack)) || n < 0 {
		return nil, fmt.Errorf("[%#x, %#x) is outside the stack of CPU %d", addr, addr+uint64(n), c.id)
	}
	off := addr - base
	return c.stack[off : off+uint64(n)], nil
}

// DeliveryEnabled implements xstate.Flag.DeliveryEnabled (TESTUI).
func (c *CPU) DeliveryEnabled() bool {
	return c.uif
}

// EnableDelivery implements xstate.Flag.EnableDelivery (STUI). Pending user
// interrupts are delivered before it returns, including from inside a
// handler, in which case delivery nests.
func (c *CPU) EnableDelivery() {
	c.uif = true
	c.recognize()
}

// DisableDelivery implements xstate.Flag.DisableDelivery (CLUI).
func (c *CPU) DisableDelivery() {
	c.uif = false
}

// flag is UIF without the recognition side effect of STUI, for loading
// state images.
type flag struct{ c *CPU }

func (f flag) DeliveryEnabled() bool { return f.c.uif }
func (f flag) EnableDelivery()       { f.c.uif = true }
func (f flag) DisableDelivery()      { f.c.uif = false }

// Load installs a user-interrupt state image, as XRSTORS would. Nothing is
// delivered until the next instruction boundary.
func (c *CPU) Load(s *xstate.State) {
	s.RestoreAll(c.bank, flag{c})
}

// Save returns the current user-interrupt state image, as XSAVES would.
func (c *CPU) Save() xstate.State {
	var s xstate.State
	s.SaveAll(c.bank, flag{c})
	return s
}

// post queues an ordinary interrupt for c.
func (c *CPU) post(vector uint8) {
	c.mu.Lock()
	c.inbox = append(c.inbox, vector)
	c.mu.Unlock()
}

// Step executes an instruction boundary: queued interrupts are taken and
// any recognized user interrupt is delivered.
func (c *CPU) Step() {
	c.mu.Lock()
	inbox := c.inbox
	c.inbox = nil
	c.mu.Unlock()

	uinv := c.bank.Misc().Vector()
	for _, v := range inbox {
		if v != uinv {
			c.stats.Ignored++
			log.Debugf("sim: CPU %d ignoring interrupt %#x (UINV %#x)", c.id, v, uinv)
			continue
		}
		c.processNotification()
	}
	c.recognize()
}

// processNotification moves the posted requests of the current UPID into
// UIRR. It runs whatever the state of UIF.
func (c *CPU) processNotification() {
	c.stats.Notifications++
	d := upid.At(uintptr(c.bank.PostDesc()))
	if d == nil {
		return
	}
	d.SetOutstanding(false)
	if pir := d.Take(); pir != 0 {
		c.bank.SetRequests(c.bank.Requests() | msr.Requests(pir))
	}
}

// recognize delivers user interrupts while UIF is set and one is pending.
func (c *CPU) recognize() {
	for c.uif {
		rr := c.bank.Requests()
		if rr == 0 {
			return
		}
		c.deliver(rr.Highest())
	}
}

// deliver delivers user vector v.
func (c *CPU) deliver(v uint8) {
	c.bank.SetRequests(c.bank.Requests() &^ (1 << v))

	interrupted := c.ctx
	rsp := interrupted.RSP
	if adj := c.bank.StackAdjust(); adj.Mode() == msr.StackLoad {
		rsp = adj.Value()
	} else {
		rsp -= adj.Value()
	}
	rsp &^= 15

	// The processor pushes the 32-byte Frame; the entry point pushes the
	// rest of the trapframe directly below it.
	frame := rsp - 32
	tfAddr := frame - uintr.FrameOffset
	mem, err := c.Memory(tfAddr, int(unsafe.Sizeof(uintr.Trapframe{})))
	if err != nil {
		panic(fmt.Sprintf("sim: delivery of vector %d overflows the stack: %v", v, err))
	}
	clear(mem)
	tf := (*uintr.Trapframe)(unsafe.Pointer(&mem[0]))
	tf.Frame = uintr.Frame{
		Vector: uint64(v),
		RIP:    interrupted.RIP,
		RFLAGS: interrupted.RFLAGS,
		RSP:    interrupted.RSP,
	}
	tf.Regs = interrupted.Regs

	c.uif = false
	c.depth++
	c.stats.Deliveries++
	if c.depth > c.stats.MaxDepth {
		c.stats.MaxDepth = c.depth
	}
	c.ctx = Context{
		Regs:   interrupted.Regs,
		RIP:    uint64(c.bank.Handler()),
		RFLAGS: interrupted.RFLAGS,
		RSP:    uint64(tfAddr),
	}

	c.dispatch(tf)

	// UIRET.
	c.ctx = Context{
		Regs:   tf.Regs,
		RIP:    tf.Frame.RIP,
		RFLAGS: tf.Frame.RFLAGS | rflagsReserved,
		RSP:    tf.Frame.RSP,
	}
	c.depth--
	c.uif = true
}

// SendUIPI executes SENDUIPI with c as the sender.
func (c *CPU) SendUIPI(index uint64) error {
	tt := c.bank.TargetTable()
	if !tt.SendEnabled() {
		return fmt.Errorf("SENDUIPI %d with sending disabled: %w", index, ErrGeneralProtection)
	}
	size := c.bank.Misc().TableSize()
	if index > uint64(size) {
		return fmt.Errorf("SENDUIPI %d beyond UITTSZ %d: %w", index, size, ErrGeneralProtection)
	}
	n := uintptr(size) + 1
	base := region.Resolve(tt.Addr(), n*uitt.EntrySize)
	if base == nil {
		return fmt.Errorf("SENDUIPI %d: UITT [%#x, %#x) is not mapped: %w", index, tt.Addr(), tt.Addr()+n*uitt.EntrySize, ErrGeneralProtection)
	}
	table := uitt.Table(unsafe.Slice((*uitt.Entry)(base), n))
	e, err := table.Lookup(index)
	if err != nil {
		return fmt.Errorf("SENDUIPI: %w: %w", ErrGeneralProtection, err)
	}
	d := e.Descriptor()
	if d == nil {
		return fmt.Errorf("SENDUIPI %d: UPID %#x is not mapped: %w", index, e.DescriptorAddr(), ErrGeneralProtection)
	}
	d.Post(e.Vector())
	if on, sn := d.TestAndSetOutstanding(); !on && !sn {
		c.sys.Interrupt(d.Destination(), d.NotificationVector())
	}
	return nil
}

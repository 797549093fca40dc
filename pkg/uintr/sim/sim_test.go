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
	"errors"
	"fmt"
	"os"
	"runtime"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/userintr/uintr/pkg/uintr"
	"github.com/userintr/uintr/pkg/uintr/hostmem"
	"github.com/userintr/uintr/pkg/uintr/msr"
	"github.com/userintr/uintr/pkg/uintr/uitt"
	"github.com/userintr/uintr/pkg/uintr/upid"
	"github.com/userintr/uintr/pkg/uintr/xstate"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/gvisor/pkg/hostarch"
)

// current is called by the process-wide handler armed in TestMain.
var current func(tf *uintr.Trapframe)

func TestMain(m *testing.M) {
	reg, err := uintr.NewRegistration()
	if err != nil {
		panic(fmt.Sprintf("NewRegistration: %v", err))
	}
	reg.SetHandler(func(tf *uintr.Trapframe) {
		if current != nil {
			current(tf)
		}
	})
	if _, err := reg.Arm(); err != nil {
		panic(fmt.Sprintf("Arm: %v", err))
	}
	os.Exit(m.Run())
}

const (
	uinv     = 0xec
	sentinel = 0x5e471e1
	userRIP  = 0x401000
)

// rig is one receiving and one sending processor sharing a descriptor and
// a target table whose entry i carries user vector vectors[i].
type rig struct {
	sys   *System
	recv  *CPU
	send  *CPU
	desc  *upid.Descriptor
	table uitt.Table
}

func newRig(t *testing.T, vectors ...uint8) *rig {
	t.Helper()
	t.Cleanup(func() { current = nil })

	arena, err := hostmem.New(hostarch.PageSize, hostmem.Options{})
	if err != nil {
		t.Fatalf("hostmem.New: %v", err)
	}
	t.Cleanup(func() { arena.Close() })

	sys := NewSystem()
	recv, err := sys.NewCPU(1, 64<<10)
	if err != nil {
		t.Fatalf("NewCPU: %v", err)
	}
	send, err := sys.NewCPU(2, MinStackSize)
	if err != nil {
		t.Fatalf("NewCPU: %v", err)
	}

	ds, err := arena.Descriptors(1)
	if err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
	d := &ds[0]
	d.SetNotificationTarget(uinv, recv.ID())
	rs, err := uintr.ReceiverState(uinv, d)
	if err != nil {
		t.Fatalf("ReceiverState: %v", err)
	}
	recv.Load(&rs)

	table, err := arena.Table(len(vectors))
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	for i, v := range vectors {
		if err := table.Set(uint64(i), v, d); err != nil {
			t.Fatalf("table.Set(%d): %v", i, err)
		}
	}
	var ss xstate.State
	ss.SetSender(xstate.Sender{
		Table:     msr.MakeTargetTable(table.Addr(), true),
		TableSize: table.Size(),
	})
	send.Load(&ss)

	ctx := recv.Context()
	ctx.Regs.R12 = sentinel
	ctx.RIP = userRIP
	ctx.RSP = recv.StackTop() - 1024
	recv.SetContext(ctx)

	return &rig{sys: sys, recv: recv, send: send, desc: d, table: table}
}

func (r *rig) sendUIPI(t *testing.T, index uint64) {
	t.Helper()
	if err := r.send.SendUIPI(index); err != nil {
		t.Fatalf("SendUIPI(%d): %v", index, err)
	}
}

func TestEndToEnd(t *testing.T) {
	r := newRig(t, 5)
	before := r.recv.Context()

	var (
		handled bool
		vector  uint64
	)
	current = func(tf *uintr.Trapframe) {
		handled = true
		vector = tf.Frame.Vector
		// Scribble on registers the handler is free to use; only tf is
		// restored.
		r.recv.ctx.Regs.R12 = 0
	}

	if got := r.recv.State(); got != Armed {
		t.Fatalf("receiver state = %v, want %v", got, Armed)
	}
	r.sendUIPI(t, 0)
	if handled {
		t.Fatalf("handler ran before the receiver reached an instruction boundary")
	}
	if !r.desc.Outstanding() || r.desc.Pending() != 1<<5 {
		t.Errorf("after SENDUIPI descriptor is %v", r.desc)
	}

	r.recv.Step()
	if !handled {
		t.Fatalf("handler did not run")
	}
	if vector != 5 {
		t.Errorf("handler saw vector %d, want 5", vector)
	}
	if diff := cmp.Diff(before, r.recv.Context()); diff != "" {
		t.Errorf("resumed context differs (-want +got):\n%s", diff)
	}
	if got := r.recv.Context().Regs.R12; got != sentinel {
		t.Errorf("sentinel = %#x, want %#x", got, sentinel)
	}
	if got := r.recv.State(); got != Armed {
		t.Errorf("receiver state after return = %v, want %v", got, Armed)
	}
	if r.desc.Outstanding() || r.desc.Pending() != 0 || r.recv.Bank().Requests() != 0 {
		t.Errorf("requests left behind: %v, UIRR %#x", r.desc, r.recv.Bank().Requests())
	}
}

func TestNonReentrant(t *testing.T) {
	r := newRig(t, 5)

	var events []string
	calls := 0
	current = func(tf *uintr.Trapframe) {
		calls++
		n := calls
		events = append(events, fmt.Sprintf("enter %d", n))
		if n == 1 {
			r.sendUIPI(t, 0)
			// A busy handler crosses many instruction boundaries.
			for i := 0; i < 3; i++ {
				r.recv.Step()
			}
			if calls != 1 {
				t.Errorf("handler re-entered while running")
			}
			if got := r.recv.Bank().Requests(); got != 1<<5 {
				t.Errorf("UIRR in handler = %#x, want the second request", got)
			}
			if got := r.recv.State(); got != InHandler {
				t.Errorf("state in handler = %v, want %v", got, InHandler)
			}
		}
		events = append(events, fmt.Sprintf("exit %d", n))
	}

	r.sendUIPI(t, 0)
	r.recv.Step()

	want := []string{"enter 1", "exit 1", "enter 2", "exit 2"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if got := r.recv.Stats().MaxDepth; got != 1 {
		t.Errorf("MaxDepth = %d, want 1", got)
	}
}

func TestNestedDelivery(t *testing.T) {
	r := newRig(t, 5, 9)
	before := r.recv.Context()

	var events []string
	current = func(tf *uintr.Trapframe) {
		events = append(events, fmt.Sprintf("enter %d", tf.Frame.Vector))
		if tf.Frame.Vector == 5 {
			r.sendUIPI(t, 1)
			r.recv.Step()
			r.recv.EnableDelivery()
		}
		events = append(events, fmt.Sprintf("exit %d", tf.Frame.Vector))
	}

	r.sendUIPI(t, 0)
	r.recv.Step()

	want := []string{"enter 5", "enter 9", "exit 9", "exit 5"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if got := r.recv.Stats().MaxDepth; got != 2 {
		t.Errorf("MaxDepth = %d, want 2", got)
	}
	if diff := cmp.Diff(before, r.recv.Context()); diff != "" {
		t.Errorf("resumed context differs (-want +got):\n%s", diff)
	}
}

func TestPendingDrainedByPriority(t *testing.T) {
	r := newRig(t, 3, 40, 17)
	r.recv.DisableDelivery()

	var order []uint64
	current = func(tf *uintr.Trapframe) {
		order = append(order, tf.Frame.Vector)
	}
	for i := uint64(0); i < 3; i++ {
		r.sendUIPI(t, i)
		r.recv.Step()
	}
	if len(order) != 0 {
		t.Fatalf("delivered with UIF clear: %v", order)
	}
	if got := r.recv.State(); got != Disabled {
		t.Errorf("state = %v, want %v", got, Disabled)
	}
	r.recv.EnableDelivery()
	if diff := cmp.Diff([]uint64{40, 17, 3}, order); diff != "" {
		t.Errorf("delivery order (-want +got):\n%s", diff)
	}
}

func TestHandlerMutation(t *testing.T) {
	r := newRig(t, 5)
	current = func(tf *uintr.Trapframe) {
		tf.Regs.RAX = 0x1234
		tf.Regs.R12 = ^tf.Regs.R12
		tf.Frame.RIP += 4
	}
	r.sendUIPI(t, 0)
	r.recv.Step()

	ctx := r.recv.Context()
	if ctx.Regs.RAX != 0x1234 || ctx.Regs.R12 != ^uint64(sentinel) {
		t.Errorf("register changes not resumed: RAX %#x, R12 %#x", ctx.Regs.RAX, ctx.Regs.R12)
	}
	if ctx.RIP != userRIP+4 {
		t.Errorf("RIP = %#x, want %#x", ctx.RIP, userRIP+4)
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func untouched(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

func TestRedZone(t *testing.T) {
	for _, test := range []struct {
		name   string
		adjust msr.StackAdjustValue
		intact bool
	}{
		{"skipped", msr.SubtractStack(uintr.RedZoneSize), true},
		{"not skipped", msr.SubtractStack(0), false},
	} {
		t.Run(test.name, func(t *testing.T) {
			r := newRig(t, 5)
			r.recv.Bank().SetStackAdjust(test.adjust)
			rsp := r.recv.Context().RSP
			zone, err := r.recv.Memory(rsp-uintr.RedZoneSize, uintr.RedZoneSize)
			if err != nil {
				t.Fatalf("Memory: %v", err)
			}
			fill(zone, 0xa5)

			current = func(tf *uintr.Trapframe) {
				if got := tf.Frame.RSP; got != rsp {
					t.Errorf("frame RSP = %#x, want %#x", got, rsp)
				}
			}
			r.sendUIPI(t, 0)
			r.recv.Step()

			if got := untouched(zone, 0xa5); got != test.intact {
				t.Errorf("red zone intact = %t, want %t", got, test.intact)
			}
		})
	}
}

func TestStackLoad(t *testing.T) {
	r := newRig(t, 5)
	alt := r.recv.StackTop() - 8<<10 + 8
	r.recv.Bank().SetStackAdjust(msr.LoadStack(uintptr(alt)))

	var tfAddr uint64
	current = func(tf *uintr.Trapframe) {
		tfAddr = uint64(uintptr(unsafe.Pointer(tf)))
	}
	r.sendUIPI(t, 0)
	r.recv.Step()

	if want := (alt&^15 - 32) - uintr.FrameOffset; tfAddr != want {
		t.Errorf("trapframe at %#x, want %#x", tfAddr, want)
	}
	if got := r.recv.Context().RSP; got != r.recv.StackTop()-1024 {
		t.Errorf("RSP after return = %#x", got)
	}
}

func TestSendFaults(t *testing.T) {
	r := newRig(t, 5, 6)
	if err := r.table.Invalidate(1); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	if err := r.send.SendUIPI(1); !errors.Is(err, ErrGeneralProtection) || !errors.Is(err, uitt.ErrInvalid) {
		t.Errorf("SENDUIPI to an invalid entry = %v", err)
	}
	if err := r.send.SendUIPI(2); !errors.Is(err, ErrGeneralProtection) {
		t.Errorf("SENDUIPI beyond UITTSZ = %v", err)
	}
	r.send.Bank().SetTargetTable(msr.MakeTargetTable(r.table.Addr(), false))
	if err := r.send.SendUIPI(0); !errors.Is(err, ErrGeneralProtection) {
		t.Errorf("SENDUIPI with sending disabled = %v", err)
	}
	r.send.Bank().SetTargetTable(msr.MakeTargetTable(0, true))
	if err := r.send.SendUIPI(0); !errors.Is(err, ErrGeneralProtection) {
		t.Errorf("SENDUIPI with a null UITT = %v", err)
	}
	heap := make([]uitt.Entry, 4)
	r.send.Bank().SetTargetTable(msr.MakeTargetTable(uintptr(unsafe.Pointer(&heap[0])), true))
	if err := r.send.SendUIPI(0); !errors.Is(err, ErrGeneralProtection) {
		t.Errorf("SENDUIPI with an unmapped UITT = %v", err)
	}
	if r.desc.Pending() != 0 {
		t.Errorf("faulting SENDUIPI posted %#x", r.desc.Pending())
	}
}

func TestSendToUnmappedDescriptor(t *testing.T) {
	r := newRig(t, 5)
	other, err := hostmem.New(hostarch.PageSize, hostmem.Options{})
	if err != nil {
		t.Fatalf("hostmem.New: %v", err)
	}
	ds, err := other.Descriptors(1)
	if err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
	if err := r.table.Set(0, 5, &ds[0]); err != nil {
		t.Fatalf("table.Set: %v", err)
	}
	if err := other.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.send.SendUIPI(0); !errors.Is(err, ErrGeneralProtection) {
		t.Errorf("SENDUIPI to an unmapped UPID = %v", err)
	}
}

func TestSuppressedNotification(t *testing.T) {
	r := newRig(t, 5)
	r.desc.SetSuppressed(true)
	calls := 0
	current = func(*uintr.Trapframe) { calls++ }

	r.sendUIPI(t, 0)
	r.recv.Step()
	if calls != 0 || r.recv.Stats().Notifications != 0 {
		t.Fatalf("suppressed descriptor notified the receiver")
	}
	if r.desc.Pending() != 1<<5 {
		t.Errorf("PIR = %#x, want the request posted", r.desc.Pending())
	}

	// Whoever clears SN is responsible for the posted requests.
	r.desc.SetSuppressed(false)
	r.sys.Interrupt(r.recv.ID(), uinv)
	r.recv.Step()
	if calls != 1 {
		t.Errorf("handler called %d times after the notification, want 1", calls)
	}
}

func TestIgnoredInterrupt(t *testing.T) {
	r := newRig(t, 5)
	r.sys.Interrupt(r.recv.ID(), 0x20)
	r.sys.Interrupt(99, uinv)
	r.recv.Step()
	if got := r.recv.Stats(); got.Ignored != 1 || got.Deliveries != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestSaveLoad(t *testing.T) {
	r := newRig(t, 5)
	s := r.recv.Save()
	if !s.UIF() || s.Misc().Vector() != uinv || uintptr(s.PostDesc()) != r.desc.Addr() {
		t.Errorf("saved receiver state %v", &s)
	}

	sys := NewSystem()
	other, err := sys.NewCPU(1, MinStackSize)
	if err != nil {
		t.Fatalf("NewCPU: %v", err)
	}
	other.Load(&s)
	got := other.Save()
	if diff := cmp.Diff(s.Bytes(), got.Bytes()); diff != "" {
		t.Errorf("state image changed across Load/Save (-want +got):\n%s", diff)
	}
	if _, err := sys.NewCPU(1, MinStackSize); !errors.Is(err, ErrDuplicateCPU) {
		t.Errorf("NewCPU with a duplicate ID = %v", err)
	}
}

func TestConcurrentSenders(t *testing.T) {
	const (
		senders = 8
		sends   = 200
	)
	vectors := make([]uint8, senders)
	for i := range vectors {
		vectors[i] = uint8(i * 7)
	}
	r := newRig(t, vectors...)

	var seen [upid.NumVectors]int
	current = func(tf *uintr.Trapframe) {
		seen[tf.Frame.Vector]++
	}

	senderState := r.send.Save()
	sendCPUs := make([]*CPU, senders)
	for i := range sendCPUs {
		c, err := r.sys.NewCPU(uint32(100+i), MinStackSize)
		if err != nil {
			t.Fatalf("NewCPU: %v", err)
		}
		c.Load(&senderState)
		sendCPUs[i] = c
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
				r.recv.Step()
				runtime.Gosched()
			}
		}
	}()

	var g errgroup.Group
	for i, c := range sendCPUs {
		g.Go(func() error {
			for n := 0; n < sends; n++ {
				if err := c.SendUIPI(uint64(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("SendUIPI: %v", err)
	}
	close(done)
	<-stopped
	r.recv.Step()

	for _, v := range vectors {
		if seen[v] == 0 {
			t.Errorf("vector %d never delivered", v)
		}
		if seen[v] > sends {
			t.Errorf("vector %d delivered %d times for %d sends", v, seen[v], sends)
		}
	}
	if r.desc.Pending() != 0 || r.desc.Outstanding() || r.recv.Bank().Requests() != 0 {
		t.Errorf("requests left behind: %v, UIRR %#x", r.desc, r.recv.Bank().Requests())
	}
}

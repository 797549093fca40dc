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

package xstate

import "github.com/userintr/uintr/pkg/uintr/msr"

// Flag is the user-interrupt flag of the processor whose registers are
// being saved or restored.
type Flag interface {
	DeliveryEnabled() bool
	EnableDelivery()
	DisableDelivery()
}

// Receiver describes the receiving half of a thread's configuration.
type Receiver struct {
	Handler     msr.HandlerAddr
	StackAdjust msr.StackAdjustValue
	Vector      uint8 // UINV
	Enabled     bool  // UIF
	PostDesc    msr.PostDescAddr
}

// Sender describes the sending half of a thread's configuration.
type Sender struct {
	Table     msr.TargetTableValue
	TableSize uint32 // UITTSZ
}

// SetReceiver stores the receiver configuration in s. Nothing is written
// to any register.
func (s *State) SetReceiver(r Receiver) {
	s.SetHandler(r.Handler)
	s.SetStackAdjust(r.StackAdjust)
	s.SetMisc(s.Misc().WithVector(r.Vector))
	s.SetUIF(r.Enabled)
	s.SetPostDesc(r.PostDesc)
}

// SetSender stores the sender configuration in s.
func (s *State) SetSender(snd Sender) {
	s.SetMisc(s.Misc().WithTableSize(snd.TableSize))
	s.SetTargetTable(snd.Table)
}

func (s *State) readMisc(b msr.Bank, f Flag) {
	uif := f.DeliveryEnabled()
	s.misc = msr.Misc.Mask(uint64(b.Misc()))
	s.SetUIF(uif)
}

// writeMisc restores UIF through f and writes MISC with bit 63 stripped.
func (s *State) writeMisc(b msr.Bank, f Flag) {
	if s.UIF() {
		f.EnableDelivery()
	} else {
		f.DisableDelivery()
	}
	b.SetMisc(s.Misc())
}

// SaveSender reads UITT and UITTSZ from b.
func (s *State) SaveSender(b msr.Bank, f Flag) {
	s.targetTable = uint64(b.TargetTable())
	s.readMisc(b, f)
}

// SaveReceiver reads handler, stack adjust, MISC, UIF, UPID and UIRR.
func (s *State) SaveReceiver(b msr.Bank, f Flag) {
	s.handler = uint64(b.Handler())
	s.stackAdjust = uint64(b.StackAdjust())
	s.readMisc(b, f)
	s.postDesc = uint64(b.PostDesc())
	s.uirr = uint64(b.Requests())
}

// SaveAll reads every user-interrupt register.
func (s *State) SaveAll(b msr.Bank, f Flag) {
	s.SaveReceiver(b, f)
	s.targetTable = uint64(b.TargetTable())
}

// RestoreSender writes UITT and UITTSZ to b.
func (s *State) RestoreSender(b msr.Bank, f Flag) {
	s.writeMisc(b, f)
	b.SetTargetTable(s.TargetTable())
}

// RestoreReceiver writes handler, stack adjust, MISC, UIF, UPID and UIRR.
func (s *State) RestoreReceiver(b msr.Bank, f Flag) {
	s.writeMisc(b, f)
	b.SetHandler(s.Handler())
	b.SetStackAdjust(s.StackAdjust())
	b.SetPostDesc(s.PostDesc())
	b.SetRequests(s.UIRR())
}

// RestoreAll writes every user-interrupt register.
func (s *State) RestoreAll(b msr.Bank, f Flag) {
	s.RestoreReceiver(b, f)
	b.SetTargetTable(s.TargetTable())
}

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

package msr

// Device reads and writes raw MSR values.
//
// Implementations need not mask: Bank masks every value before it reaches
// WriteMSR.
type Device interface {
	ReadMSR(r Register) uint64
	WriteMSR(r Register, v uint64)
}

// Bank provides typed access to the user-interrupt MSRs of a Device.
type Bank struct {
	dev Device
}

// NewBank returns a Bank over dev.
func NewBank(dev Device) Bank {
	return Bank{dev: dev}
}

// Write masks v and writes it to r.
func (b Bank) Write(r Register, v uint64) {
	b.dev.WriteMSR(r, r.Mask(v))
}

// Read reads r. Reserved bits of the result carry no meaning.
func (b Bank) Read(r Register) uint64 {
	return b.dev.ReadMSR(r)
}

// Handler returns IA32_UINTR_HANDLER.
func (b Bank) Handler() HandlerAddr {
	return HandlerAddr(Handler.Mask(b.Read(Handler)))
}

// SetHandler writes IA32_UINTR_HANDLER.
func (b Bank) SetHandler(v HandlerAddr) {
	b.Write(Handler, uint64(v))
}

// StackAdjust returns IA32_UINTR_STACKADJUST.
func (b Bank) StackAdjust() StackAdjustValue {
	return StackAdjustValue(StackAdjust.Mask(b.Read(StackAdjust)))
}

// SetStackAdjust writes IA32_UINTR_STACKADJUST.
func (b Bank) SetStackAdjust(v StackAdjustValue) {
	b.Write(StackAdjust, uint64(v))
}

// Misc returns IA32_UINTR_MISC.
func (b Bank) Misc() MiscValue {
	return MiscValue(Misc.Mask(b.Read(Misc)))
}

// SetMisc writes IA32_UINTR_MISC.
func (b Bank) SetMisc(v MiscValue) {
	b.Write(Misc, uint64(v))
}

// Requests returns IA32_UINTR_RR.
func (b Bank) Requests() Requests {
	return Requests(b.Read(RR))
}

// SetRequests writes IA32_UINTR_RR.
func (b Bank) SetRequests(v Requests) {
	b.Write(RR, uint64(v))
}

// PostDesc returns IA32_UINTR_PD.
func (b Bank) PostDesc() PostDescAddr {
	return PostDescAddr(PostDesc.Mask(b.Read(PostDesc)))
}

// SetPostDesc writes IA32_UINTR_PD.
func (b Bank) SetPostDesc(v PostDescAddr) {
	b.Write(PostDesc, uint64(v))
}

// TargetTable returns IA32_UINTR_TT.
func (b Bank) TargetTable() TargetTableValue {
	return TargetTableValue(TargetTable.Mask(b.Read(TargetTable)))
}

// SetTargetTable writes IA32_UINTR_TT.
func (b Bank) SetTargetTable(v TargetTableValue) {
	b.Write(TargetTable, uint64(v))
}

// Shadow is a software register file.
//
// It stores exactly what is written, which through Bank is always masked.
// The simulator uses one Shadow per logical processor.
type Shadow struct {
	regs [len(Registers)]uint64
}

func (s *Shadow) slot(r Register) *uint64 {
	if r < RR || r > TargetTable {
		panic("unknown user-interrupt MSR " + r.String())
	}
	return &s.regs[r-RR]
}

// ReadMSR implements Device.ReadMSR.
func (s *Shadow) ReadMSR(r Register) uint64 {
	return *s.slot(r)
}

// WriteMSR implements Device.WriteMSR.
func (s *Shadow) WriteMSR(r Register, v uint64) {
	*s.slot(r) = v
}

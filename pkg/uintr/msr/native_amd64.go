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

package msr

// rdmsr reads the given MSR.
func rdmsr(reg uint32) uint64

// wrmsr writes to the given MSR.
func wrmsr(reg uint32, value uint64)

// Native is the current logical processor's MSRs.
//
// RDMSR and WRMSR fault outside CPL 0, so Native is only usable by code
// running in ring 0 (a guest kernel or a ring0-style platform). Ordinary
// processes hand the values produced by Bank's setters to their kernel.
type Native struct{}

// ReadMSR implements Device.ReadMSR.
//
//go:nosplit
func (Native) ReadMSR(r Register) uint64 {
	return rdmsr(uint32(r))
}

// WriteMSR implements Device.WriteMSR.
//
//go:nosplit
func (Native) WriteMSR(r Register, v uint64) {
	wrmsr(uint32(r), v)
}

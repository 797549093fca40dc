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

package hostcpu

import "gvisor.dev/gvisor/pkg/cpuid"

const (
	leafMax             = 0x0
	leafExtendedFeature = 0x7
	leafXSave           = 0xd

	// uintrEDXBit is CPUID.(EAX=7,ECX=0):EDX[5].
	uintrEDXBit = 1 << 5
)

// query executes CPUID natively. Leaves outside the allow-list of
// cpuid.Native read as zero.
func query(eax, ecx uint32) cpuid.Out {
	var native cpuid.Native
	return native.Query(cpuid.In{Eax: eax, Ecx: ecx})
}

// Supported reports whether the processor implements user interrupts.
//
// This is the processor's answer only: the kernel must also enable
// CR4.UINTR and manage the state, see KernelSupport.
func Supported() bool {
	if query(leafMax, 0).Eax < leafExtendedFeature {
		return false
	}
	return query(leafExtendedFeature, 0).Edx&uintrEDXBit != 0
}

// XSaveComponent enumerates XSAVE state component n.
func XSaveComponent(n uint32) Component {
	if query(leafMax, 0).Eax < leafXSave || n < 2 || n > 63 {
		return Component{}
	}
	out := query(leafXSave, n)
	return Component{
		Size:       out.Eax,
		Offset:     out.Ebx,
		Supervisor: out.Ecx&(1<<0) != 0,
		Aligned64:  out.Ecx&(1<<1) != 0,
	}
}

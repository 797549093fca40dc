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

package uintr

import "unsafe"

// FPStateSize is the size of the legacy region written by FXSAVE64.
const FPStateSize = 512

// FPState is the legacy FXSAVE64 region: x87, MXCSR and XMM0-15.
//
// The accessors are nosplit so that handlers may use them.
type FPState [FPStateSize]byte

const (
	fcwOffset   = 0
	mxcsrOffset = 24
	xmmOffset   = 160

	// NumXMM is the number of XMM registers in the region.
	NumXMM = 16
)

// FCW returns the x87 control word.
//
//go:nosplit
func (f *FPState) FCW() uint16 {
	return *(*uint16)(unsafe.Pointer(&f[fcwOffset]))
}

// MXCSR returns the SSE control and status register.
//
//go:nosplit
func (f *FPState) MXCSR() uint32 {
	return *(*uint32)(unsafe.Pointer(&f[mxcsrOffset]))
}

// SetMXCSR sets the saved MXCSR.
//
//go:nosplit
func (f *FPState) SetMXCSR(v uint32) {
	*(*uint32)(unsafe.Pointer(&f[mxcsrOffset])) = v
}

// XMM returns the low and high halves of XMMi.
//
//go:nosplit
func (f *FPState) XMM(i int) (lo, hi uint64) {
	p := (*[2]uint64)(unsafe.Pointer(&f[xmmOffset+16*i]))
	return p[0], p[1]
}

// SetXMM sets the saved XMMi. A change to XMM15 here is overwritten by
// Trapframe.X15 on return; use Trapframe.SetXMM.
//
//go:nosplit
func (f *FPState) SetXMM(i int, lo, hi uint64) {
	p := (*[2]uint64)(unsafe.Pointer(&f[xmmOffset+16*i]))
	p[0], p[1] = lo, hi
}

// XMM returns the interrupted XMMi. ok is false when XMMi is not preserved
// because FP is nil.
//
//go:nosplit
func (tf *Trapframe) XMM(i int) (lo, hi uint64, ok bool) {
	if i == NumXMM-1 {
		return tf.X15[0], tf.X15[1], true
	}
	if tf.FP == nil {
		return 0, 0, false
	}
	lo, hi = tf.FP.XMM(i)
	return lo, hi, true
}

// SetXMM sets the XMMi restored on return. It reports false, changing
// nothing, when XMMi is not preserved because FP is nil.
//
//go:nosplit
func (tf *Trapframe) SetXMM(i int, lo, hi uint64) bool {
	if i == NumXMM-1 {
		tf.X15 = [2]uint64{lo, hi}
		if tf.FP != nil {
			tf.FP.SetXMM(i, lo, hi)
		}
		return true
	}
	if tf.FP == nil {
		return false
	}
	tf.FP.SetXMM(i, lo, hi)
	return true
}

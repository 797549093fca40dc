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

// Package hostcpu reports what the host processor and kernel offer for
// user interrupts. Topology queries such as the possible CPU count come
// from gvisor.dev/gvisor/pkg/sentry/hostcpu.
package hostcpu

import (
	"os"
	"strings"
)

// Component describes one XSAVE state component as enumerated by CPUID
// leaf 0xD.
type Component struct {
	// Size is the size in bytes of the component; zero if unsupported.
	Size uint32

	// Offset is the offset in the standard format. Supervisor components
	// have no standard offset and report zero.
	Offset uint32

	// Supervisor is set for components managed through IA32_XSS.
	Supervisor bool

	// Aligned64 is set when the component is 64-byte aligned in the
	// compacted format.
	Aligned64 bool
}

// KernelSupport reports whether the running kernel advertises user
// interrupts in /proc/cpuinfo ("uintr" flag).
func KernelSupport() (bool, error) {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return false, err
	}
	return cpuinfoHasFlag(string(data), "uintr"), nil
}

// cpuinfoHasFlag reports whether the first "flags" line of cpuinfo lists
// flag.
func cpuinfoHasFlag(cpuinfo, flag string) bool {
	for _, line := range strings.Split(cpuinfo, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "flags" {
			continue
		}
		for _, f := range strings.Fields(value) {
			if f == flag {
				return true
			}
		}
		return false
	}
	return false
}

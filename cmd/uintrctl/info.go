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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/userintr/uintr/pkg/uintr"
	"github.com/userintr/uintr/pkg/uintr/hostcpu"
	"github.com/userintr/uintr/pkg/uintr/xstate"
	"golang.org/x/sys/cpu"
	sentryhostcpu "gvisor.dev/gvisor/pkg/sentry/hostcpu"
)

// Info implements subcommands.Command for the "info" command.
type Info struct{}

// Name implements subcommands.Command.Name.
func (*Info) Name() string {
	return "info"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Info) Synopsis() string {
	return "Report processor and kernel support for user interrupts."
}

// Usage implements subcommands.Command.Usage.
func (*Info) Usage() string {
	return `info - Report processor and kernel support for user interrupts.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Info) SetFlags(*flag.FlagSet) {}

// hostInfo is what info reports.
type hostInfo struct {
	arch          string
	osxsave       bool
	processor     bool
	kernel        bool
	kernelErr     error
	component     hostcpu.Component
	layoutErr     error
	maxCPU        uint32
	maxCPUErr     error
	entry         uintptr
	extendedState bool
}

func inspectHost() hostInfo {
	h := hostInfo{
		arch:          runtime.GOARCH,
		osxsave:       cpu.X86.HasOSXSAVE,
		processor:     hostcpu.Supported(),
		component:     hostcpu.XSaveComponent(xstate.Component),
		entry:         uintr.EntryAddress(),
		extendedState: uintr.ExtendedStatePreserved(),
	}
	h.kernel, h.kernelErr = hostcpu.KernelSupport()
	h.layoutErr = xstate.CheckLayout(h.component)
	h.maxCPU, h.maxCPUErr = sentryhostcpu.MaxPossibleCPU()
	return h
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func (h hostInfo) write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "architecture\t%s\n", h.arch)
	fmt.Fprintf(tw, "OS-enabled XSAVE\t%t\n", h.osxsave)
	fmt.Fprintf(tw, "processor UINTR\t%t\n", h.processor)
	if h.kernelErr != nil {
		fmt.Fprintf(tw, "kernel UINTR\tunknown (%v)\n", h.kernelErr)
	} else {
		fmt.Fprintf(tw, "kernel UINTR\t%t\n", h.kernel)
	}
	fmt.Fprintf(tw, "XSAVE component %d\tsize %d, supervisor %t, 64-byte aligned %t\n",
		xstate.Component, h.component.Size, h.component.Supervisor, h.component.Aligned64)
	fmt.Fprintf(tw, "state layout\t%s\n", errString(h.layoutErr))
	if h.maxCPUErr != nil {
		fmt.Fprintf(tw, "possible CPUs\tunknown (%v)\n", h.maxCPUErr)
	} else {
		fmt.Fprintf(tw, "possible CPUs\t%d\n", h.maxCPU+1)
	}
	fmt.Fprintf(tw, "entry point\t%#x\n", h.entry)
	fmt.Fprintf(tw, "FP/SIMD preserved\t%t\n", h.extendedState)
	return tw.Flush()
}

// Execute implements subcommands.Command.Execute.
func (*Info) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := inspectHost().write(os.Stdout); err != nil {
		return Errorf("writing info: %v", err)
	}
	return subcommands.ExitSuccess
}

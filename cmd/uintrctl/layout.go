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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unsafe"

	"github.com/google/subcommands"
	"github.com/userintr/uintr/pkg/uintr"
	"github.com/userintr/uintr/pkg/uintr/uitt"
	"github.com/userintr/uintr/pkg/uintr/upid"
	"github.com/userintr/uintr/pkg/uintr/xstate"
)

// field is one row of the layout report.
type field struct {
	Structure string  `json:"structure"`
	Field     string  `json:"field"`
	Offset    uintptr `json:"offset"`
	Size      uintptr `json:"size"`
}

// layout returns the memory layout of every structure shared with the
// processor or the entry point.
func layout() []field {
	var tf uintr.Trapframe
	return []field{
		{"UPID", "control", upid.ControlOffset, 8},
		{"UPID", "PIR", upid.PIROffset, 8},
		{"UPID", "(size)", 0, upid.Size},
		{"UITTE", "state", uitt.StateOffset, 8},
		{"UITTE", "UPIDADDR", uitt.DescriptorOffset, 8},
		{"UITTE", "(size)", 0, uitt.EntrySize},
		{"xstate", "UIHANDLER", xstate.HandlerOffset, 8},
		{"xstate", "UISTACKADJUST", xstate.StackAdjustOffset, 8},
		{"xstate", "UINTR_MISC", xstate.MiscOffset, 8},
		{"xstate", "UPIDADDR", xstate.PostDescOffset, 8},
		{"xstate", "UIRR", xstate.UIRROffset, 8},
		{"xstate", "UITT", xstate.TargetTableOffset, 8},
		{"xstate", "(size)", 0, xstate.Size},
		{"Trapframe", "FP", unsafe.Offsetof(tf.FP), unsafe.Sizeof(tf.FP)},
		{"Trapframe", "X15", unsafe.Offsetof(tf.X15), unsafe.Sizeof(tf.X15)},
		{"Trapframe", "Regs", unsafe.Offsetof(tf.Regs), unsafe.Sizeof(tf.Regs)},
		{"Trapframe", "Frame", unsafe.Offsetof(tf.Frame), unsafe.Sizeof(tf.Frame)},
		{"Trapframe", "(size)", 0, unsafe.Sizeof(tf)},
	}
}

func writeLayoutTable(w io.Writer, fields []field) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "STRUCTURE\tFIELD\tOFFSET\tSIZE\n")
	for _, f := range fields {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", f.Structure, f.Field, f.Offset, f.Size)
	}
	return tw.Flush()
}

func writeLayoutJSON(w io.Writer, fields []field) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(fields)
}

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "Print the memory layout of the user-interrupt structures."
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [-o table|json] - Print the memory layout of the user-interrupt structures.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.output, "o", "table", "output format (table, json).")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	var write func(io.Writer, []field) error
	switch l.output {
	case "table":
		write = writeLayoutTable
	case "json":
		write = writeLayoutJSON
	default:
		return Errorf("unsupported output format %q", l.output)
	}
	if err := write(os.Stdout, layout()); err != nil {
		return Errorf("writing layout: %v", err)
	}
	return subcommands.ExitSuccess
}

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
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/userintr/uintr/pkg/uintr"
	"github.com/userintr/uintr/pkg/uintr/hostmem"
	"github.com/userintr/uintr/pkg/uintr/msr"
	"github.com/userintr/uintr/pkg/uintr/uitt"
	"github.com/userintr/uintr/pkg/uintr/upid"
	"github.com/userintr/uintr/pkg/uintr/xstate"
	"gvisor.dev/gvisor/pkg/log"
)

// receiverPlan is a receiver with its descriptor and state image.
type receiverPlan struct {
	config receiverConfig
	desc   *upid.Descriptor
	state  xstate.State
}

// senderPlan is a sender with its target table and state image.
type senderPlan struct {
	config senderConfig
	table  uitt.Table
	state  xstate.State
}

// plan is the memory and state a configuration describes.
type plan struct {
	arena     *hostmem.Arena
	receivers []*receiverPlan
	senders   []*senderPlan
}

// buildPlan allocates descriptors and tables for c and computes every
// thread's state image.
func buildPlan(c *config) (*plan, error) {
	size := len(c.Receivers) * upid.Size
	for _, s := range c.Senders {
		size += len(s.Targets)*uitt.EntrySize + uitt.EntrySize
	}
	arena, err := hostmem.New(size, hostmem.Options{})
	if err != nil {
		return nil, err
	}
	p := &plan{arena: arena}

	descs, err := arena.Descriptors(len(c.Receivers))
	if err != nil {
		p.Close()
		return nil, err
	}
	byName := make(map[string]*receiverPlan)
	for i, rc := range c.Receivers {
		d := &descs[i]
		d.SetNotificationTarget(rc.NotificationVector, rc.APICID)
		state, err := uintr.ReceiverState(rc.NotificationVector, d)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("receiver %q: %w", rc.Name, err)
		}
		rp := &receiverPlan{config: rc, desc: d, state: state}
		p.receivers = append(p.receivers, rp)
		byName[rc.Name] = rp
	}

	for _, sc := range c.Senders {
		table, err := arena.Table(len(sc.Targets))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("sender %q: %w", sc.Name, err)
		}
		for i, t := range sc.Targets {
			if err := table.Set(uint64(i), t.Vector, byName[t.Receiver].desc); err != nil {
				p.Close()
				return nil, fmt.Errorf("sender %q target %d: %w", sc.Name, i, err)
			}
		}
		sp := &senderPlan{config: sc, table: table}
		sp.state.SetSender(xstate.Sender{
			Table:     msr.MakeTargetTable(table.Addr(), true),
			TableSize: table.Size(),
		})
		p.senders = append(p.senders, sp)
	}
	log.Debugf("plan: %d receivers, %d senders in %d bytes", len(p.receivers), len(p.senders), arena.Size())
	return p, nil
}

// Close releases the plan's memory.
func (p *plan) Close() error {
	return p.arena.Close()
}

// write prints every structure and state image of p.
func (p *plan) write(w io.Writer) error {
	for _, r := range p.receivers {
		if _, err := fmt.Fprintf(w, "receiver %s (APIC ID %d)\n  %v\n  %v\n  xstate: %s\n",
			r.config.Name, r.config.APICID, r.desc, &r.state, hex.EncodeToString(r.state.Bytes())); err != nil {
			return err
		}
	}
	for _, s := range p.senders {
		if _, err := fmt.Fprintf(w, "sender %s (APIC ID %d)\n", s.config.Name, s.config.APICID); err != nil {
			return err
		}
		for i := range s.table {
			if _, err := fmt.Fprintf(w, "  [%d] %v -> %s\n", i, &s.table[i], s.config.Targets[i].Receiver); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "  %v\n  xstate: %s\n", &s.state, hex.EncodeToString(s.state.Bytes())); err != nil {
			return err
		}
	}
	return nil
}

// Plan implements subcommands.Command for the "plan" command.
type Plan struct {
	configPath string
}

// Name implements subcommands.Command.Name.
func (*Plan) Name() string {
	return "plan"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Plan) Synopsis() string {
	return "Build descriptors, target tables and state images from a configuration."
}

// Usage implements subcommands.Command.Usage.
func (*Plan) Usage() string {
	return `plan -config <file> - Build and print the user-interrupt structures a
configuration describes.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Plan) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.configPath, "config", "", "path to the TOML configuration.")
}

// Execute implements subcommands.Command.Execute.
func (p *Plan) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if p.configPath == "" || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	c, err := loadConfig(p.configPath)
	if err != nil {
		return Errorf("loading configuration: %v", err)
	}
	pl, err := buildPlan(c)
	if err != nil {
		return Errorf("building plan: %v", err)
	}
	defer pl.Close()
	if err := pl.write(os.Stdout); err != nil {
		return Errorf("writing plan: %v", err)
	}
	return subcommands.ExitSuccess
}

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
	"math/bits"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/userintr/uintr/pkg/uintr"
	"github.com/userintr/uintr/pkg/uintr/sim"
	"gvisor.dev/gvisor/pkg/log"
)

// simStackSize is the stack of every simulated receiver.
const simStackSize = 64 << 10

// send is one SENDUIPI executed by a sender.
type send struct {
	sender string
	index  uint64
}

// parseSends parses a comma-separated list of sender:index pairs.
func parseSends(s string) ([]send, error) {
	var sends []send
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		name, idx, ok := strings.Cut(f, ":")
		if !ok {
			return nil, fmt.Errorf("send %q is not sender:index", f)
		}
		index, err := strconv.ParseUint(idx, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("send %q: %w", f, err)
		}
		sends = append(sends, send{sender: name, index: index})
	}
	return sends, nil
}

// delivery is one handler invocation on a simulated receiver.
type delivery struct {
	receiver string
	vector   uint64
	depth    int
}

// simulation is a plan loaded onto simulated processors.
type simulation struct {
	plan       *plan
	sys        *sim.System
	receivers  []*sim.CPU
	senders    map[string]*sim.CPU
	deliveries []delivery
}

// newSimulation creates one simulated processor per thread of p and loads
// its state image.
func newSimulation(p *plan) (*simulation, error) {
	s := &simulation{
		plan:    p,
		sys:     sim.NewSystem(),
		senders: make(map[string]*sim.CPU),
	}
	for _, r := range p.receivers {
		c, err := s.sys.NewCPU(r.config.APICID, simStackSize)
		if err != nil {
			return nil, fmt.Errorf("receiver %q: %w", r.config.Name, err)
		}
		c.Load(&r.state)
		ctx := c.Context()
		ctx.RSP = c.StackTop() - uintr.RedZoneSize
		c.SetContext(ctx)
		name := r.config.Name
		c.SetDispatch(func(tf *uintr.Trapframe) {
			s.deliveries = append(s.deliveries, delivery{
				receiver: name,
				vector:   tf.Frame.Vector,
				depth:    c.Depth(),
			})
		})
		s.receivers = append(s.receivers, c)
	}
	for _, sp := range p.senders {
		c, err := s.sys.NewCPU(sp.config.APICID, sim.MinStackSize)
		if err != nil {
			return nil, fmt.Errorf("sender %q: %w", sp.config.Name, err)
		}
		c.Load(&sp.state)
		s.senders[sp.config.Name] = c
	}
	return s, nil
}

// run executes sends in order, stepping every receiver after each one.
func (s *simulation) run(sends []send) error {
	for _, snd := range sends {
		c, ok := s.senders[snd.sender]
		if !ok {
			return fmt.Errorf("unknown sender %q", snd.sender)
		}
		if err := c.SendUIPI(snd.index); err != nil {
			return fmt.Errorf("sender %q: %w", snd.sender, err)
		}
		log.Debugf("simulate: %s sent index %d", snd.sender, snd.index)
		for _, r := range s.receivers {
			r.Step()
		}
	}
	return nil
}

// write prints every delivery and the per-receiver statistics.
func (s *simulation) write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "RECEIVER\tVECTOR\tDEPTH\n")
	for _, d := range s.deliveries {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", d.receiver, d.vector, d.depth)
	}
	fmt.Fprintf(tw, "\nRECEIVER\tDELIVERIES\tNOTIFICATIONS\tIGNORED\tPENDING\n")
	for i, c := range s.receivers {
		st := c.Stats()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.plan.receivers[i].config.Name,
			st.Deliveries, st.Notifications, st.Ignored, bits.OnesCount64(uint64(c.Bank().Requests())))
	}
	return tw.Flush()
}

// Simulate implements subcommands.Command for the "simulate" command.
type Simulate struct {
	configPath string
	sends      string
}

// Name implements subcommands.Command.Name.
func (*Simulate) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Simulate) Synopsis() string {
	return "Run a configuration on simulated processors."
}

// Usage implements subcommands.Command.Usage.
func (*Simulate) Usage() string {
	return `simulate -config <file> -send <sender:index,...> - Deliver user interrupts
between simulated processors and print what each receiver handled.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Simulate) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.configPath, "config", "", "path to the TOML configuration.")
	f.StringVar(&s.sends, "send", "", "comma-separated sender:index pairs to execute in order.")
}

// Execute implements subcommands.Command.Execute.
func (s *Simulate) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if s.configPath == "" || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	sends, err := parseSends(s.sends)
	if err != nil {
		return Errorf("parsing -send: %v", err)
	}
	c, err := loadConfig(s.configPath)
	if err != nil {
		return Errorf("loading configuration: %v", err)
	}
	pl, err := buildPlan(c)
	if err != nil {
		return Errorf("building plan: %v", err)
	}
	defer pl.Close()
	sm, err := newSimulation(pl)
	if err != nil {
		return Errorf("creating simulation: %v", err)
	}
	if err := sm.run(sends); err != nil {
		return Errorf("simulation: %v", err)
	}
	if err := sm.write(os.Stdout); err != nil {
		return Errorf("writing results: %v", err)
	}
	return subcommands.ExitSuccess
}

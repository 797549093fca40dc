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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/userintr/uintr/pkg/uintr/sim"
)

func TestParseSends(t *testing.T) {
	got, err := parseSends("tx0:0, tx0:2,,tx1:0x3")
	if err != nil {
		t.Fatalf("parseSends: %v", err)
	}
	want := []send{{"tx0", 0}, {"tx0", 2}, {"tx1", 3}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(send{})); diff != "" {
		t.Errorf("sends mismatch (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"tx0", "tx0:x", "tx0:-1"} {
		if _, err := parseSends(bad); err == nil {
			t.Errorf("parseSends(%q) succeeded", bad)
		}
	}
	if got, err := parseSends(""); err != nil || len(got) != 0 {
		t.Errorf("parseSends(\"\") = %v, %v, want nothing", got, err)
	}
}

func newTestSimulation(t *testing.T) *simulation {
	t.Helper()
	s, err := newSimulation(newTestPlan(t))
	if err != nil {
		t.Fatalf("newSimulation: %v", err)
	}
	return s
}

func TestSimulation(t *testing.T) {
	s := newTestSimulation(t)
	if err := s.run([]send{{"tx0", 0}, {"tx0", 1}, {"tx0", 2}, {"tx0", 0}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []delivery{
		{receiver: "rx0", vector: 3, depth: 1},
		{receiver: "rx1", vector: 40, depth: 1},
		{receiver: "rx0", vector: 17, depth: 1},
		{receiver: "rx0", vector: 3, depth: 1},
	}
	if diff := cmp.Diff(want, s.deliveries, cmp.AllowUnexported(delivery{})); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
	if got := s.receivers[0].Stats(); got.Deliveries != 3 || got.Notifications != 3 {
		t.Errorf("rx0 stats = %+v, want 3 deliveries and notifications", got)
	}
	for _, c := range s.receivers {
		if c.State() != sim.Armed {
			t.Errorf("CPU %d state = %v, want %v", c.ID(), c.State(), sim.Armed)
		}
	}

	var buf bytes.Buffer
	if err := s.write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := strings.Count(buf.String(), "rx0"); got != 4 {
		t.Errorf("rx0 appears %d times, want 4:\n%s", got, buf.String())
	}
}

func TestSimulationFaults(t *testing.T) {
	s := newTestSimulation(t)
	if err := s.run([]send{{"tx9", 0}}); err == nil || !strings.Contains(err.Error(), "unknown sender") {
		t.Errorf("run with an unknown sender = %v", err)
	}
	if err := s.run([]send{{"tx0", 3}}); !errors.Is(err, sim.ErrGeneralProtection) {
		t.Errorf("run beyond UITTSZ = %v, want %v", err, sim.ErrGeneralProtection)
	}
	if len(s.deliveries) != 0 {
		t.Errorf("faulting sends delivered %v", s.deliveries)
	}
}

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
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/userintr/uintr/pkg/uintr/upid"
)

// config describes a set of receivers and the senders targeting them.
type config struct {
	// Receivers own one posted-interrupt descriptor each.
	Receivers []receiverConfig `toml:"receiver"`
	// Senders own one target table each.
	Senders []senderConfig `toml:"sender"`
}

type receiverConfig struct {
	Name string `toml:"name"`
	// APICID is the notification destination (NDST).
	APICID uint32 `toml:"apic_id"`
	// NotificationVector is both NV in the descriptor and UINV.
	NotificationVector uint8 `toml:"notification_vector"`
}

type senderConfig struct {
	Name    string         `toml:"name"`
	APICID  uint32         `toml:"apic_id"`
	Targets []targetConfig `toml:"target"`
}

// targetConfig is one target table entry; its index is its position.
type targetConfig struct {
	Receiver string `toml:"receiver"`
	Vector   uint8  `toml:"vector"`
}

// loadConfig loads a configuration file and validates it.
func loadConfig(path string) (*config, error) {
	var c config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// parseConfig is loadConfig for configuration text.
func parseConfig(text string) (*config, error) {
	var c config
	if _, err := toml.Decode(text, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *config) validate() error {
	if len(c.Receivers) == 0 {
		return fmt.Errorf("no receivers")
	}
	ids := make(map[uint32]string)
	receivers := make(map[string]bool)
	for _, r := range c.Receivers {
		if r.Name == "" {
			return fmt.Errorf("receiver with APIC ID %d has no name", r.APICID)
		}
		if receivers[r.Name] {
			return fmt.Errorf("duplicate receiver %q", r.Name)
		}
		receivers[r.Name] = true
		if other, ok := ids[r.APICID]; ok {
			return fmt.Errorf("receivers %q and %q share APIC ID %d", other, r.Name, r.APICID)
		}
		ids[r.APICID] = r.Name
	}
	senders := make(map[string]bool)
	for _, s := range c.Senders {
		if s.Name == "" || receivers[s.Name] || senders[s.Name] {
			return fmt.Errorf("sender name %q is empty or already used", s.Name)
		}
		senders[s.Name] = true
		if other, ok := ids[s.APICID]; ok {
			return fmt.Errorf("sender %q shares APIC ID %d with %q", s.Name, s.APICID, other)
		}
		ids[s.APICID] = s.Name
		if len(s.Targets) == 0 {
			return fmt.Errorf("sender %q has no targets", s.Name)
		}
		for i, t := range s.Targets {
			if !receivers[t.Receiver] {
				return fmt.Errorf("sender %q target %d: unknown receiver %q", s.Name, i, t.Receiver)
			}
			if t.Vector >= upid.NumVectors {
				return fmt.Errorf("sender %q target %d: vector %d is not below %d", s.Name, i, t.Vector, upid.NumVectors)
			}
		}
	}
	return nil
}

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

package xstate

import (
	"fmt"

	"github.com/userintr/uintr/pkg/uintr/hostcpu"
	"gvisor.dev/gvisor/pkg/log"
)

// CheckLayout compares State with the processor's description of the
// component. A processor that does not enumerate the component passes.
func CheckLayout(c hostcpu.Component) error {
	if c.Size == 0 {
		return nil
	}
	if c.Size != Size {
		return fmt.Errorf("user-interrupt state component is %d bytes, State is %d", c.Size, Size)
	}
	if !c.Supervisor {
		return fmt.Errorf("user-interrupt state component is not a supervisor component")
	}
	return nil
}

// CheckHostLayout runs CheckLayout against the host processor.
func CheckHostLayout() error {
	return CheckLayout(hostcpu.XSaveComponent(Component))
}

func init() {
	// Any disagreement silently corrupts whatever XSAVES/XRSTORS touches,
	// so refuse to run at all.
	if err := CheckHostLayout(); err != nil {
		panic(fmt.Sprintf("xstate: %v", err))
	}
	log.Debugf("xstate: user-interrupt component layout matches host (%d bytes)", Size)
}

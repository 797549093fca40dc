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

// Package insn issues the user-interrupt instructions.
//
// Each function corresponds to exactly one instruction. None of them keep
// state and none of them check that the processor implements the facility:
// on a processor without UINTR every function here raises #UD. Feature
// detection belongs to the caller (see package hostcpu).
package insn

// Unchecked acknowledges a precondition that this package does not verify.
//
// Functions whose misuse is undefined at the hardware level take an
// Unchecked as their first argument, so that every such call site reads
// insn.Unchecked{} and can be audited with a single search.
type Unchecked struct{}

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

package msr

import (
	"fmt"
	"math/rand"
	"testing"
)

// interesting returns inputs that exercise every bit position.
func interesting() []uint64 {
	vals := []uint64{0, ^uint64(0), 0x5555_5555_5555_5555, 0xaaaa_aaaa_aaaa_aaaa, 0xffff_8000_0000_0000}
	for i := 0; i < 64; i++ {
		vals = append(vals, 1<<uint(i), ^(uint64(1) << uint(i)))
	}
	r := rand.New(rand.NewSource(0x986))
	for i := 0; i < 256; i++ {
		vals = append(vals, r.Uint64())
	}
	return vals
}

func TestMaskStaysWithinWritable(t *testing.T) {
	for _, reg := range Registers {
		t.Run(reg.String(), func(t *testing.T) {
			for _, v := range interesting() {
				if got := reg.Mask(v); got&^reg.Writable() != 0 {
					t.Fatalf("Mask(%#x) = %#x sets reserved bits %#x", v, got, got&^reg.Writable())
				}
			}
		})
	}
}

func TestMaskIdempotent(t *testing.T) {
	for _, reg := range Registers {
		t.Run(reg.String(), func(t *testing.T) {
			for _, v := range interesting() {
				once := reg.Mask(v)
				if twice := reg.Mask(once); twice != once {
					t.Fatalf("Mask(Mask(%#x)) = %#x, want %#x", v, twice, once)
				}
			}
		})
	}
}

func TestBankRoundTrip(t *testing.T) {
	var s Shadow
	b := NewBank(&s)
	for _, reg := range Registers {
		t.Run(reg.String(), func(t *testing.T) {
			for _, v := range interesting() {
				b.Write(reg, v)
				if got, want := b.Read(reg), reg.Mask(v); got != want {
					t.Fatalf("write %#x, read back %#x, want %#x", v, got, want)
				}
			}
		})
	}
}

func TestHandlerAllOnes(t *testing.T) {
	var s Shadow
	b := NewBank(&s)
	b.SetHandler(HandlerAddr(^uint64(0)))
	got := uint64(b.Handler())
	// Bits 63:47 are reserved for a user handler address; all others stay.
	const want = 0x0000_7fff_ffff_ffff
	if got != want {
		t.Errorf("handler read back %#x, want %#x", got, want)
	}
	if raw := s.ReadMSR(Handler); raw != want {
		t.Errorf("raw register holds %#x, want %#x", raw, want)
	}
}

func TestTypedAccessors(t *testing.T) {
	var s Shadow
	b := NewBank(&s)

	b.SetHandler(MakeHandlerAddr(0x401000))
	if got := b.Handler(); got != 0x401000 {
		t.Errorf("Handler() = %#x, want 0x401000", uint64(got))
	}

	b.SetStackAdjust(SubtractStack(128))
	if sa := b.StackAdjust(); sa.Mode() != StackSubtract || sa.Value() != 128 {
		t.Errorf("StackAdjust() = %v, want subtract 0x80", sa)
	}
	b.SetStackAdjust(LoadStack(0x7fff_0000_1001))
	if sa := b.StackAdjust(); sa.Mode() != StackLoad || sa.Value() != 0x7fff_0000_1000 {
		t.Errorf("StackAdjust() = %v, want load 0x7fff00001000", sa)
	}

	b.SetMisc(MakeMisc(7, 0xec))
	if m := b.Misc(); m.TableSize() != 7 || m.Vector() != 0xec {
		t.Errorf("Misc() = (%d, %#x), want (7, 0xec)", m.TableSize(), m.Vector())
	}
	if m := b.Misc().WithVector(0xed).WithTableSize(3); m.TableSize() != 3 || m.Vector() != 0xed {
		t.Errorf("With* = (%d, %#x), want (3, 0xed)", m.TableSize(), m.Vector())
	}

	b.SetPostDesc(MakePostDesc(0x7000_0000_107f))
	if got := b.PostDesc(); got != 0x7000_0000_1040 {
		t.Errorf("PostDesc() = %#x, want 0x700000001040", uint64(got))
	}

	b.SetTargetTable(MakeTargetTable(0x7000_0000_2018, true))
	if tt := b.TargetTable(); tt.Addr() != 0x7000_0000_2010 || !tt.SendEnabled() {
		t.Errorf("TargetTable() = (%#x, %t), want (0x700000002010, true)", tt.Addr(), tt.SendEnabled())
	}
	b.SetTargetTable(MakeTargetTable(0x7000_0000_2010, false))
	if b.TargetTable().SendEnabled() {
		t.Errorf("TargetTable().SendEnabled() = true after disabling")
	}

	b.SetRequests(1<<3 | 1<<40)
	if got := b.Requests().Highest(); got != 40 {
		t.Errorf("Requests().Highest() = %d, want 40", got)
	}
}

func TestRequestsHighest(t *testing.T) {
	for _, test := range []struct {
		r    Requests
		want uint8
	}{
		{0, 0},
		{1, 0},
		{1 << 1, 1},
		{1<<5 | 1<<2, 5},
		{1 << 63, 63},
	} {
		t.Run(fmt.Sprintf("%#x", uint64(test.r)), func(t *testing.T) {
			if got := test.r.Highest(); got != test.want {
				t.Errorf("Highest() = %d, want %d", got, test.want)
			}
		})
	}
}

func TestUnknownRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Writable on an unknown register did not panic")
		}
	}()
	Register(0x10).Writable()
}

// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package inline

import (
	"encoding/binary"
	"reflect"
	"runtime"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func TestArch386_NewNearJumpAsm(t *testing.T) {
	a := arch386{}
	asm := a.NewNearJumpAsm(uintptr(100), uintptr(150))
	expect := []byte{0xE9, 45, 0, 0, 0}
	if !reflect.DeepEqual(asm, expect) {
		t.Errorf("%v != %v", asm, expect)
	}
}

func TestArch386_NewNearJumpAsmBackward(t *testing.T) {
	a := arch386{}
	asm := a.NewNearJumpAsm(uintptr(150), uintptr(100))
	expect := []byte{0xE9, 0xC9, 0xFF, 0xFF, 0xFF}
	if !reflect.DeepEqual(asm, expect) {
		t.Errorf("%v != %v", asm, expect)
	}
}

func TestArch386_NewFarJumpAsm(t *testing.T) {
	a := arch386{}
	asm := a.NewFarJumpAsm(uintptr(0), uintptr(0x12345678))
	expect := []byte{0xFF, 0x25, 0x06, 0, 0, 0, 0x78, 0x56, 0x34, 0x12}
	if !reflect.DeepEqual(asm, expect) {
		t.Errorf("%v != %v", asm, expect)
	}
}

func TestArchAMD64_NewFarJumpAsm(t *testing.T) {
	a := archAMD64{}
	asm := a.NewFarJumpAsm(0, 0x1122334455667788)
	expect := []byte{0xFF, 0x25, 0, 0, 0, 0, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}
	if !reflect.DeepEqual(asm, expect) {
		t.Errorf("%v != %v", asm, expect)
	}
	if uint(len(asm)) != a.FarJumpSize() {
		t.Errorf("len = %d, want %d", len(asm), a.FarJumpSize())
	}
}

func TestIsFarJump(t *testing.T) {
	if isFarJump(0x1000, 0x2000) {
		t.Error("0x1000 -> 0x2000 should be near")
	}
	if isFarJump(0x2000, 0x1000) {
		t.Error("0x2000 -> 0x1000 should be near")
	}
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64" {
		far := uint64(0x1000) + 0x80000000
		if !isFarJump(0x1000, uintptr(far)) {
			t.Error("2GiB distance should be far")
		}
	}
}

func TestNewJumpAsmPicksNear(t *testing.T) {
	asm := newJumpAsm(&archAMD64{}, 0x1000, 0x1100)
	if len(asm) != 5 || asm[0] != opNearJmp {
		t.Errorf("expected near jump, got %v", asm)
	}
}

func TestTrampolineJumpBackKeepsRegisters(t *testing.T) {
	a := &archAMD64{}
	// mov rax, rsp; mov [rax+8], rbx; mov [rax+0x10], rbp; mov [rax+0x18], rsi; ret
	prologue := []byte{
		0x48, 0x8B, 0xC4,
		0x48, 0x89, 0x58, 0x08,
		0x48, 0x89, 0x68, 0x10,
		0x48, 0x89, 0x70, 0x18,
		0xC3,
	}
	n, err := patchSize(prologue, 64, a.FarJumpSize())
	if err != nil {
		t.Fatalf("patchSize: %v", err)
	}
	if n != 15 {
		t.Fatalf("n = %d, want 15", n)
	}

	const target, tramp = uintptr(0x7FFB00001000), uintptr(0x1000)
	code := append(append([]byte(nil), prologue[:n]...), newJumpAsm(a, tramp+uintptr(n), target+uintptr(n))...)

	var ops []x86asm.Op
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			t.Fatalf("decode at +%d: %v", off, err)
		}
		if off >= n {
			if inst.Op != x86asm.JMP {
				t.Fatalf("jump back decodes as %s", inst)
			}
			mem, ok := inst.Args[0].(x86asm.Mem)
			if !ok || mem.Base != x86asm.RIP || mem.Disp != 0 {
				t.Fatalf("jump back is %s, want jmp qword ptr [rip]", inst)
			}
			dest := binary.LittleEndian.Uint64(code[off+inst.Len:])
			if uintptr(dest) != target+uintptr(n) {
				t.Errorf("jump back to %#x, want %#x", dest, target+uintptr(n))
			}
			ops = append(ops, inst.Op)
			break
		}
		ops = append(ops, inst.Op)
		off += inst.Len
	}

	want := []x86asm.Op{x86asm.MOV, x86asm.MOV, x86asm.MOV, x86asm.MOV, x86asm.JMP}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("trampoline ops = %v, want %v", ops, want)
	}
}

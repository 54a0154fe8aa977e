// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package inline patches the head of a native function with a jump to a
// detour and keeps a trampoline that still reaches the original code.
package inline

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"
)

const (
	opNearJmp     = 0xE9   // jmp rel32
	opFarJmp      = 0x25FF // jmp dword ptr [addr32]; on amd64 jmp qword ptr [rip+disp32]
	nearJumpRange = uintptr(0x7fff0000)

	// maxTrampolineSize covers the longest stolen prologue (a 14 byte far
	// jump spilling into one more 15 byte instruction) plus the far jump
	// back.
	maxTrampolineSize = 48
)

type arch interface {
	DisassembleMode() int
	NearJumpSize() uint
	FarJumpSize() uint
	NewNearJumpAsm(from, to uintptr) []byte
	NewFarJumpAsm(from, to uintptr) []byte
}

type arch386 struct{}

func (a *arch386) DisassembleMode() int { return 32 }

func (a *arch386) NearJumpSize() uint {
	return uint(1 + unsafe.Sizeof(uint32(0)))
}

func (a *arch386) FarJumpSize() uint {
	return uint(2 + unsafe.Sizeof(uint32(0))*2)
}

func (a *arch386) NewNearJumpAsm(from, to uintptr) []byte {
	return nearJump(from, to, a.NearJumpSize())
}

// NewFarJumpAsm emits jmp [from+6] followed by the absolute target.
func (a *arch386) NewFarJumpAsm(from, to uintptr) []byte {
	asm := make([]byte, a.FarJumpSize())
	binary.LittleEndian.PutUint16(asm, opFarJmp)
	binary.LittleEndian.PutUint32(asm[2:], uint32(from+6))
	binary.LittleEndian.PutUint32(asm[6:], uint32(to))
	return asm
}

type archAMD64 struct{}

func (a *archAMD64) DisassembleMode() int { return 64 }

func (a *archAMD64) NearJumpSize() uint {
	return uint(1 + unsafe.Sizeof(uint32(0)))
}

func (a *archAMD64) FarJumpSize() uint {
	return uint(6 + unsafe.Sizeof(uint64(0)))
}

func (a *archAMD64) NewNearJumpAsm(from, to uintptr) []byte {
	return nearJump(from, to, a.NearJumpSize())
}

// NewFarJumpAsm emits jmp [rip+0] followed by the absolute target. No
// register is touched: the trampoline's jump back runs after the stolen
// prologue, which may already have loaded any of them.
func (a *archAMD64) NewFarJumpAsm(from, to uintptr) []byte {
	asm := make([]byte, a.FarJumpSize())
	binary.LittleEndian.PutUint16(asm, opFarJmp)
	binary.LittleEndian.PutUint32(asm[2:], 0)
	binary.LittleEndian.PutUint64(asm[6:], uint64(to))
	return asm
}

func nearJump(from, to uintptr, size uint) []byte {
	asm := make([]byte, size)
	asm[0] = opNearJmp
	rel := int32(int64(to) - int64(from) - int64(size))
	binary.LittleEndian.PutUint32(asm[1:], uint32(rel))
	return asm
}

func isFarJump(from, to uintptr) bool {
	if to >= from {
		return (to - from) > nearJumpRange
	}
	return (from - to) > nearJumpRange
}

func jumpSize(a arch, from, to uintptr) uint {
	if isFarJump(from, to) {
		return a.FarJumpSize()
	}
	return a.NearJumpSize()
}

func newJumpAsm(a arch, from, to uintptr) []byte {
	if isFarJump(from, to) {
		return a.NewFarJumpAsm(from, to)
	}
	return a.NewNearJumpAsm(from, to)
}

func runtimeArch() (arch, error) {
	switch runtime.GOARCH {
	case "386":
		return &arch386{}, nil
	case "amd64":
		return &archAMD64{}, nil
	}
	return nil, fmt.Errorf("unsupported arch: %s", runtime.GOARCH)
}

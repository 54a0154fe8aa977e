// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package inline

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

var (
	// ErrBranchInPatch means a relative instruction sits inside the bytes
	// the jump would overwrite and cannot be moved to the trampoline as is.
	ErrBranchInPatch = errors.New("relative instruction found before jump patch area")
	// ErrPatchTooSmall means the function ends before a jump fits.
	ErrPatchTooSmall = errors.New("unable to insert jmp within patch size")
)

// patchSize returns how many whole instructions from the head of code must
// be stolen to make room for a jump of jumpLen bytes.
func patchSize(code []byte, mode int, jumpLen uint) (int, error) {
	size := 0
	for size < int(jumpLen) {
		if size >= len(code) {
			return -1, ErrPatchTooSmall
		}
		inst, err := x86asm.Decode(code[size:], mode)
		if err != nil {
			return -1, fmt.Errorf("decode at +%d: %w", size, err)
		}
		if isRelative(inst) {
			return -1, fmt.Errorf("%w: %s at +%d", ErrBranchInPatch, inst.Op, size)
		}
		size += inst.Len
		if isTerminal(inst) && size < int(jumpLen) {
			return -1, ErrPatchTooSmall
		}
	}
	return size, nil
}

func isRelative(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.CALL, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		return true
	}
	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case x86asm.Rel:
			return true
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				return true
			}
		}
	}
	return false
}

func isTerminal(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.INT, x86asm.UD2:
		return true
	}
	return false
}

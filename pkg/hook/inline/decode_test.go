// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package inline

import (
	"errors"
	"testing"
)

func TestPatchSizeExactFit(t *testing.T) {
	// mov eax, 1; ret
	code := []byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0xC3}
	n, err := patchSize(code, 32, 5)
	if err != nil {
		t.Fatalf("patchSize: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
}

func TestPatchSizeWholeInstructions(t *testing.T) {
	// push ebp; mov ebp, esp; sub esp, 8
	code := []byte{0x55, 0x89, 0xE5, 0x83, 0xEC, 0x08, 0xC3}
	n, err := patchSize(code, 32, 5)
	if err != nil {
		t.Fatalf("patchSize: %v", err)
	}
	if n != 6 {
		t.Errorf("n = %d, want 6", n)
	}
}

func TestPatchSizeFarJumpAMD64(t *testing.T) {
	// sub rsp, 0x28; mov rax, rcx; nop x7
	code := []byte{0x48, 0x83, 0xEC, 0x28, 0x48, 0x89, 0xC8, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0xC3}
	n, err := patchSize(code, 64, (&archAMD64{}).FarJumpSize())
	if err != nil {
		t.Fatalf("patchSize: %v", err)
	}
	if n != 14 {
		t.Errorf("n = %d, want 14", n)
	}
}

func TestPatchSizeRejectsCall(t *testing.T) {
	code := []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0xC3}
	if _, err := patchSize(code, 32, 5); !errors.Is(err, ErrBranchInPatch) {
		t.Fatalf("err = %v, want ErrBranchInPatch", err)
	}
}

func TestPatchSizeRejectsShortJcc(t *testing.T) {
	// je +2; nop; nop; nop
	code := []byte{0x74, 0x02, 0x90, 0x90, 0x90, 0xC3}
	if _, err := patchSize(code, 32, 5); !errors.Is(err, ErrBranchInPatch) {
		t.Fatalf("err = %v, want ErrBranchInPatch", err)
	}
}

func TestPatchSizeRejectsRIPRelative(t *testing.T) {
	// mov rax, [rip+0x10]
	code := []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00, 0xC3}
	if _, err := patchSize(code, 64, 5); !errors.Is(err, ErrBranchInPatch) {
		t.Fatalf("err = %v, want ErrBranchInPatch", err)
	}
}

func TestPatchSizeFunctionEndsEarly(t *testing.T) {
	code := []byte{0xC3, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC}
	if _, err := patchSize(code, 64, 5); !errors.Is(err, ErrPatchTooSmall) {
		t.Fatalf("err = %v, want ErrPatchTooSmall", err)
	}
}

func TestPatchSizeOutOfBytes(t *testing.T) {
	code := []byte{0x90, 0x90}
	if _, err := patchSize(code, 32, 5); !errors.Is(err, ErrPatchTooSmall) {
		t.Fatalf("err = %v, want ErrPatchTooSmall", err)
	}
}

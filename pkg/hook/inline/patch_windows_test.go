// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows && (386 || amd64)

package inline

import (
	"errors"
	"runtime"
	"syscall"
	"testing"
)

// returnConst builds a tiny function returning v, padded with nops so a
// far jump fits in its prologue.
func returnConst(t *testing.T, v byte) uintptr {
	t.Helper()
	mem, err := allocExec(64)
	if err != nil {
		t.Fatalf("allocExec: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	var code []byte
	if runtime.GOARCH == "amd64" {
		code = []byte{0x48, 0xC7, 0xC0, v, 0x00, 0x00, 0x00} // mov rax, v
	} else {
		code = []byte{0xB8, v, 0x00, 0x00, 0x00} // mov eax, v
	}
	for i := 0; i < 16; i++ {
		code = append(code, 0x90)
	}
	code = append(code, 0xC3)
	mem.WriteAt(code, 0)
	flushCache(mem.addr, mem.size)
	return mem.addr
}

func call(addr uintptr) uintptr {
	r, _, _ := syscall.SyscallN(addr)
	return r
}

func TestPatchLifecycle(t *testing.T) {
	target := returnConst(t, 1)
	detour := returnConst(t, 2)

	p, err := New(target, detour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if got := call(target); got != 1 {
		t.Fatalf("before enable: got %d, want 1", got)
	}

	if err := p.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if got := call(target); got != 2 {
		t.Errorf("enabled: got %d, want 2", got)
	}
	if got := call(p.Trampoline()); got != 1 {
		t.Errorf("trampoline: got %d, want 1", got)
	}
	if err := p.Enable(); !errors.Is(err, ErrEnabled) {
		t.Errorf("second Enable: err = %v, want ErrEnabled", err)
	}

	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if got := call(target); got != 1 {
		t.Errorf("disabled: got %d, want 1", got)
	}
}

func TestPatchCloseRestores(t *testing.T) {
	target := returnConst(t, 7)
	detour := returnConst(t, 9)

	p, err := New(target, detour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := call(target); got != 7 {
		t.Errorf("after close: got %d, want 7", got)
	}
	if err := p.Enable(); !errors.Is(err, ErrClosed) {
		t.Errorf("Enable after Close: err = %v, want ErrClosed", err)
	}
}

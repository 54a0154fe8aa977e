// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package inline

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32              = windows.NewLazySystemDLL("kernel32.dll")
	flushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

var (
	// ErrEnabled is returned by Enable on an already enabled patch.
	ErrEnabled = errors.New("patch already enabled")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("patch closed")
)

// Patch redirects target to detour. A new Patch is built but not applied;
// Enable writes the jump and Disable restores the original bytes.
type Patch struct {
	target uintptr
	detour uintptr
	arch   arch

	stolen []byte
	jump   []byte
	tramp  *execMemory

	mu      sync.Mutex
	enabled bool
	closed  bool
}

// New prepares a patch of the function at target. The trampoline is ready
// to call right away; the target stays untouched until Enable.
func New(target, detour uintptr) (*Patch, error) {
	if target == 0 || detour == 0 {
		return nil, errors.New("inline: zero target or detour")
	}
	a, err := runtimeArch()
	if err != nil {
		return nil, err
	}

	jmpLen := jumpSize(a, target, detour)
	head := make([]byte, maxTrampolineSize-a.FarJumpSize())
	readMemory(target, head)

	n, err := patchSize(head, a.DisassembleMode(), jmpLen)
	if err != nil {
		return nil, err
	}

	tramp, err := allocExec(maxTrampolineSize)
	if err != nil {
		return nil, fmt.Errorf("allocate trampoline: %w", err)
	}

	stolen := append([]byte(nil), head[:n]...)
	tramp.WriteAt(stolen, 0)
	back := newJumpAsm(a, tramp.addr+uintptr(n), target+uintptr(n))
	tramp.WriteAt(back, int64(n))
	flushCache(tramp.addr, tramp.size)

	jump := newJumpAsm(a, target, detour)
	// Pad with int3 so a disassembler never sees half an instruction.
	for len(jump) < n {
		jump = append(jump, 0xCC)
	}

	return &Patch{
		target: target,
		detour: detour,
		arch:   a,
		stolen: stolen,
		jump:   jump,
		tramp:  tramp,
	}, nil
}

// Trampoline returns the address that runs the original function.
func (p *Patch) Trampoline() uintptr {
	return p.tramp.addr
}

// Enable writes the jump to the detour over the head of the target.
func (p *Patch) Enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.enabled {
		return ErrEnabled
	}
	if err := writeCode(p.target, p.jump); err != nil {
		return fmt.Errorf("write jump: %w", err)
	}
	p.enabled = true
	return nil
}

// Disable restores the original bytes of the target.
func (p *Patch) Disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.disableLocked()
}

func (p *Patch) disableLocked() error {
	if !p.enabled {
		return nil
	}
	if err := writeCode(p.target, p.stolen); err != nil {
		return fmt.Errorf("restore prologue: %w", err)
	}
	p.enabled = false
	return nil
}

// Close disables the patch and releases the trampoline.
func (p *Patch) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if err := p.disableLocked(); err != nil {
		return err
	}
	p.closed = true
	return p.tramp.Close()
}

// Enabled reports whether the jump is currently written.
func (p *Patch) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// ------------ memory

type execMemory struct {
	addr uintptr
	size uint
}

func allocExec(size uint) (*execMemory, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, err
	}
	return &execMemory{addr: addr, size: size}, nil
}

func (m *execMemory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || uint(off)+uint(len(p)) > m.size {
		return 0, errors.New("inline: write outside trampoline")
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(m.addr+uintptr(off))), len(p)), p)
	return len(p), nil
}

func (m *execMemory) Close() error {
	return windows.VirtualFree(m.addr, 0, windows.MEM_RELEASE)
}

func readMemory(ptr uintptr, out []byte) {
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(out)))
}

func writeCode(ptr uintptr, in []byte) error {
	var old uint32
	if err := windows.VirtualProtect(ptr, uintptr(len(in)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtect: %w", err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(in)), in)
	var dummy uint32
	if err := windows.VirtualProtect(ptr, uintptr(len(in)), old, &dummy); err != nil {
		return fmt.Errorf("VirtualProtect restore: %w", err)
	}
	flushCache(ptr, uint(len(in)))
	return nil
}

func flushCache(ptr uintptr, size uint) {
	flushInstructionCache.Call(uintptr(windows.CurrentProcess()), ptr, uintptr(size))
}

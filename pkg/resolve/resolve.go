// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package resolve locates the entry point of the host's present function.
//
// Resolution is a boundary: signature scanning lives elsewhere. This package
// only carries the result (Address) and two simple ways of producing one.
package resolve

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the resolver could not locate the function.
	ErrNotFound = errors.New("present address not found")
	// ErrZeroAddress means the resolver produced a null entry point.
	ErrZeroAddress = errors.New("present address is zero")
)

// Address is an entry point inside the host's address space.
// It is immutable once resolved and valid for the lifetime of the process.
type Address uintptr

// String formats the address as hex.
func (a Address) String() string {
	return fmt.Sprintf("0x%X", uintptr(a))
}

// Resolver produces the address of the present function.
type Resolver interface {
	Resolve() (Address, error)
}

// Static resolves to a fixed, externally supplied address.
type Static Address

// Resolve returns the fixed address, rejecting zero.
func (s Static) Resolve() (Address, error) {
	if s == 0 {
		return 0, ErrZeroAddress
	}
	return Address(s), nil
}

// Module resolves to a fixed offset from a loaded module's base.
type Module struct {
	Name   string
	Offset uintptr
}

// Resolve looks up the module base and adds the offset.
func (m Module) Resolve() (Address, error) {
	if m.Name == "" {
		return 0, fmt.Errorf("%w: empty module name", ErrNotFound)
	}
	base, err := moduleBase(m.Name)
	if err != nil {
		return 0, fmt.Errorf("module %s: %w", m.Name, err)
	}
	if base == 0 {
		return 0, fmt.Errorf("module %s: %w", m.Name, ErrNotFound)
	}
	return Address(base + m.Offset), nil
}

// Func adapts a plain function to a Resolver.
type Func func() (Address, error)

// Resolve calls f.
func (f Func) Resolve() (Address, error) {
	return f()
}

// Check runs r and rejects errors and zero results alike.
func Check(r Resolver) (Address, error) {
	if r == nil {
		return 0, fmt.Errorf("%w: no resolver", ErrNotFound)
	}
	addr, err := r.Resolve()
	if err != nil {
		return 0, err
	}
	if addr == 0 {
		return 0, ErrZeroAddress
	}
	return addr, nil
}

// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package host identifies the process the overlay has been loaded into.
package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Info describes the host process.
type Info struct {
	PID  int32
	Name string
	Exe  string
}

// Identify describes the current process.
func Identify() (Info, error) {
	return Lookup(int32(os.Getpid()))
}

// Lookup describes the process with the given pid. Name falls back to the
// executable's base name when the OS does not report one.
func Lookup(pid int32) (Info, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Info{}, fmt.Errorf("host: pid %d: %w", pid, err)
	}

	info := Info{PID: pid}
	if exe, err := proc.Exe(); err == nil {
		info.Exe = exe
	}
	if name, err := proc.Name(); err == nil && name != "" {
		info.Name = name
	} else if info.Exe != "" {
		info.Name = filepath.Base(info.Exe)
	}
	if info.Name == "" {
		return info, fmt.Errorf("host: pid %d: no process name", pid)
	}
	return info, nil
}

// Allowed reports whether info matches one of names. Matching ignores case
// and a trailing ".exe". An empty list allows every host.
func Allowed(info Info, names []string) bool {
	if len(names) == 0 {
		return true
	}
	name := normalize(info.Name)
	for _, n := range names {
		if normalize(n) == name {
			return true
		}
	}
	return false
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}

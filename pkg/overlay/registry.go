// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package overlay

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// DrawFunc draws one consumer's UI for the current frame.
type DrawFunc func() error

type entry struct {
	id    uint64
	name  string
	scope string
	fn    DrawFunc

	// mu is read-held from the liveness check until fn returns and
	// write-held by Unsubscribe.
	mu       sync.RWMutex
	removed  atomic.Bool
	owner    atomic.Uint64 // goroutine running fn, 0 when idle
	failures atomic.Int64
}

// Registry is the ordered list of draw callbacks. Writers copy the list;
// the frame pass reads an immutable snapshot and never takes a lock.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries atomic.Pointer[[]*entry]

	onChange func(n int)
}

func newRegistry(onChange func(n int)) *Registry {
	r := &Registry{onChange: onChange}
	empty := []*entry{}
	r.entries.Store(&empty)
	return r
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	r *Registry
	e *entry
}

// Subscribe appends fn to the draw list. Callbacks run in subscription
// order. name seeds the widget identifier scope that isolates the
// callback's controls from other consumers.
func (r *Registry) Subscribe(name string, fn DrawFunc) *Subscription {
	if fn == nil {
		panic("overlay: nil DrawFunc")
	}
	r.mu.Lock()
	r.nextID++
	e := &entry{
		id:    r.nextID,
		name:  name,
		scope: fmt.Sprintf("%s#%d", name, r.nextID),
		fn:    fn,
	}
	cur := *r.entries.Load()
	next := make([]*entry, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, e)
	r.entries.Store(&next)
	n := len(next)
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(n)
	}
	return &Subscription{r: r, e: e}
}

// Unsubscribe removes the callback. Once it returns the callback is not
// running and no new invocation starts, including later in a frame pass
// that is already under way. Called from inside the callback itself it
// returns without waiting for that invocation.
//
// A running callback must not block on the goroutine calling Unsubscribe.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.e.removed.Swap(true) {
		return
	}
	if g := s.e.owner.Load(); g == 0 || g != goid() {
		s.e.mu.Lock()
		s.e.mu.Unlock()
	}
	r := s.r
	r.mu.Lock()
	cur := *r.entries.Load()
	next := make([]*entry, 0, len(cur))
	for _, e := range cur {
		if e != s.e {
			next = append(next, e)
		}
	}
	r.entries.Store(&next)
	n := len(next)
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(n)
	}
}

// Name returns the name given to Subscribe.
func (s *Subscription) Name() string { return s.e.name }

// Scope returns the identifier scope pushed around the callback.
func (s *Subscription) Scope() string { return s.e.scope }

// Failures counts frames on which the callback failed.
func (s *Subscription) Failures() int64 { return s.e.failures.Load() }

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}

func (r *Registry) snapshot() []*entry {
	return *r.entries.Load()
}

// live reports whether e may still be invoked by a pass that captured it
// in its snapshot.
func (e *entry) live() bool {
	return !e.removed.Load()
}

// goid returns the current goroutine's id from its stack header.
func goid() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

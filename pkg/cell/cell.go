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

// Package cell provides a container that grants exclusive access to its value
// and checks that exclusivity at run time.
//
// A Cell is not a lock. A second borrow while the first is outstanding is a
// programming error and panics instead of blocking.
package cell

import (
	"fmt"
	"sync/atomic"
)

// Cell holds a value of type T that may be borrowed by one caller at a time.
type Cell[T any] struct {
	name     string
	borrowed atomic.Bool
	v        T
}

// New returns a Cell holding v. The name is used in panic messages.
func New[T any](name string, v T) *Cell[T] {
	return &Cell[T]{name: name, v: v}
}

// Borrow returns the value and a function that ends the borrow. The returned
// function must be called exactly once.
//
// Precondition: the cell is not already borrowed.
func (c *Cell[T]) Borrow() (T, func()) {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("cell %q already borrowed", c.name))
	}
	var done atomic.Bool
	return c.v, func() {
		if !done.CompareAndSwap(false, true) {
			panic(fmt.Sprintf("cell %q borrow released twice", c.name))
		}
		c.borrowed.Store(false)
	}
}

// With calls fn with the borrowed value and ends the borrow when fn returns.
func (c *Cell[T]) With(fn func(T)) {
	v, done := c.Borrow()
	defer done()
	fn(v)
}

// Borrowed reports whether a borrow is outstanding.
func (c *Cell[T]) Borrowed() bool {
	return c.borrowed.Load()
}

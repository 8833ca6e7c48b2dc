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

// Package errors holds the error type the kernel reports to system calls.
// Each error pairs a Linux errno with the message logged for it.
package errors

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Error is a syscall failure: the errno returned to user space and a
// message for the kernel log.
type Error struct {
	errno   unix.Errno
	message string
}

// New creates a new *Error.
func New(err unix.Errno, message string) *Error {
	return &Error{
		errno:   err,
		message: message,
	}
}

// Error implements error.Error. The errno name leads, e.g.
// "EFAULT: bad address".
func (e *Error) Error() string {
	return e.Name() + ": " + e.message
}

// Name returns the symbolic errno name, or "errno N" for numbers unix
// does not know.
func (e *Error) Name() string {
	if name := unix.ErrnoName(e.errno); name != "" {
		return name
	}
	return fmt.Sprintf("errno %d", uint64(e.errno))
}

// Errno returns the underlying unix.Errno value.
func (e *Error) Errno() unix.Errno { return e.errno }

// Message returns the description without the errno name.
func (e *Error) Message() string { return e.message }

// Is lets errors.Is match e against its bare errno as well as itself.
func (e *Error) Is(target error) bool {
	switch v := target.(type) {
	case *Error:
		return e == v
	case unix.Errno:
		return e.errno == v
	default:
		return false
	}
}

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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/sv39/pkg/errors"
)

// The errors reported by the memory subsystem to its syscall callers. Only
// the sign reaches user space; the errno is kept for logging and tests.
var (
	EBADF  = errors.New(unix.EBADF, "bad file number")
	ENOMEM = errors.New(unix.ENOMEM, "out of memory")
	EFAULT = errors.New(unix.EFAULT, "bad address")
	EEXIST = errors.New(unix.EEXIST, "file exists")
	EINVAL = errors.New(unix.EINVAL, "invalid argument")

	ENAMETOOLONG = errors.New(unix.ENAMETOOLONG, "file name too long")
)

// Equals checks if a linuxerr error is the same as another error. Works for
// *errors.Error and unix.Errno values.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	switch v := err.(type) {
	case *errors.Error:
		return e == v
	case unix.Errno:
		return e != nil && e.Errno() == v
	default:
		return false
	}
}

// ToErrno returns the errno for err, or 0 if err is nil or carries none.
func ToErrno(err error) unix.Errno {
	switch v := err.(type) {
	case *errors.Error:
		return v.Errno()
	case unix.Errno:
		return v
	default:
		return 0
	}
}

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

// Package usermem gives the kernel access to the memory of other address
// spaces.
//
// Every access goes through TranslatedByteBuffer, which walks the target
// page table and returns windows aliasing the backing frames.
package usermem

import (
	"bytes"
	"encoding/binary"
	"io"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/pagetables"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
)

// ByteOrder is the byte order of the simulated machine.
var ByteOrder = binary.LittleEndian

// AccessType is the access a copy needs on every page it touches.
type AccessType struct {
	Read  bool
	Write bool
}

// Access types.
var (
	NoAccess  = AccessType{}
	Read      = AccessType{Read: true}
	Write     = AccessType{Write: true}
	ReadWrite = AccessType{Read: true, Write: true}
)

// IOOpts contains options applicable to all copies.
type IOOpts struct {
	// If IgnorePermissions is true, pages only need to be present. Kernel
	// pages and pages lacking the requested access are then reachable.
	IgnorePermissions bool
}

func permitted(pte pagetables.PTE, at AccessType, opts IOOpts) bool {
	if opts.IgnorePermissions {
		return true
	}
	if !pte.User() {
		return false
	}
	return (!at.Read || pte.Readable()) && (!at.Write || pte.Writable())
}

// translate returns the windows backing [va, va+length) in the address
// space token. It fails with EFAULT as soon as a page is not present, not
// permitted or not backed by physical memory.
func translate(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr, length uint64, at AccessType, opts IOOpts) ([][]byte, error) {
	end, ok := va.AddLength(length)
	if !ok || end > riscv.MaxVA {
		return nil, linuxerr.EFAULT
	}
	pt := pagetables.FromToken(mem, token)
	var windows [][]byte
	for cur := va; cur < end; {
		pte, ok := pt.Translate(cur.Floor())
		if !ok || !pte.Valid() || !permitted(pte, at, opts) || !mem.Contains(pte.PPN()) {
			return nil, linuxerr.EFAULT
		}
		next := min(cur.Floor().Next().Addr(), end)
		page := mem.Bytes(pte.PPN())
		windows = append(windows, page[cur.PageOffset():uint64(next-cur)+cur.PageOffset()])
		cur = next
	}
	return windows, nil
}

// TranslatedByteBuffer returns the windows backing the length bytes at va in
// the user address space token, in order. Each window aliases one frame.
func TranslatedByteBuffer(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr, length uint64) ([][]byte, error) {
	return translate(mem, token, va, length, NoAccess, IOOpts{})
}

// CopyOut copies src to va in the address space token.
func CopyOut(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr, src []byte, opts IOOpts) (int, error) {
	windows, err := translate(mem, token, va, uint64(len(src)), Write, opts)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range windows {
		n += copy(w, src[n:])
	}
	return n, nil
}

// CopyIn copies len(dst) bytes from va in the address space token to dst.
func CopyIn(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr, dst []byte, opts IOOpts) (int, error) {
	windows, err := translate(mem, token, va, uint64(len(dst)), Read, opts)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range windows {
		n += copy(dst[n:], w)
	}
	return n, nil
}

// CopyObjectOut marshals v in machine byte order and copies it to va. v must
// be a fixed-size value as accepted by encoding/binary.
func CopyObjectOut(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr, v any, opts IOOpts) (int, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, ByteOrder, v); err != nil {
		return 0, linuxerr.EINVAL
	}
	return CopyOut(mem, token, va, buf.Bytes(), opts)
}

// CopyObjectIn copies a value from va and unmarshals it into v, which must
// be a pointer to a fixed-size value.
func CopyObjectIn(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr, v any, opts IOOpts) (int, error) {
	size := binary.Size(v)
	if size < 0 {
		return 0, linuxerr.EINVAL
	}
	buf := make([]byte, size)
	n, err := CopyIn(mem, token, va, buf, opts)
	if err != nil {
		return n, err
	}
	if err := binary.Read(bytes.NewReader(buf), ByteOrder, v); err != nil {
		return n, linuxerr.EINVAL
	}
	return n, nil
}

// TranslatedStr reads the NUL terminated string at va, which may span pages.
// At most maxLen bytes are read before giving up with ENAMETOOLONG.
func TranslatedStr(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr, maxLen int) (string, error) {
	var b []byte
	for cur := va; len(b) < maxLen; {
		n := min(uint64(cur.Floor().Next().Addr()-cur), uint64(maxLen-len(b)))
		windows, err := translate(mem, token, cur, n, Read, IOOpts{})
		if err != nil {
			return "", err
		}
		w := windows[0]
		if i := bytes.IndexByte(w, 0); i >= 0 {
			return string(append(b, w[:i]...)), nil
		}
		b = append(b, w...)
		cur += riscv.VirtAddr(n)
	}
	return "", linuxerr.ENAMETOOLONG
}

// UserBuffer is a user memory range viewed as a sequence of windows.
//
// Read consumes bytes from user memory and Write fills it, each from its own
// cursor starting at the first byte.
type UserBuffer struct {
	Buffers [][]byte

	rOff int
	wOff int
}

var (
	_ io.Reader = (*UserBuffer)(nil)
	_ io.Writer = (*UserBuffer)(nil)
)

// NewUserBuffer returns a UserBuffer over the windows backing the length
// bytes at va, checked for access at.
func NewUserBuffer(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr, length uint64, at AccessType) (*UserBuffer, error) {
	windows, err := translate(mem, token, va, length, at, IOOpts{})
	if err != nil {
		return nil, err
	}
	return &UserBuffer{Buffers: windows}, nil
}

// Len returns the total size of the buffer.
func (b *UserBuffer) Len() int {
	n := 0
	for _, w := range b.Buffers {
		n += len(w)
	}
	return n
}

// Bytes returns a copy of the buffer contents.
func (b *UserBuffer) Bytes() []byte {
	out := make([]byte, 0, b.Len())
	for _, w := range b.Buffers {
		out = append(out, w...)
	}
	return out
}

// seek returns the window and offset holding byte off.
func (b *UserBuffer) seek(off int) (int, int) {
	for i, w := range b.Buffers {
		if off < len(w) {
			return i, off
		}
		off -= len(w)
	}
	return len(b.Buffers), 0
}

// Read implements io.Reader.Read.
func (b *UserBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	i, off := b.seek(b.rOff)
	for ; i < len(b.Buffers) && n < len(p); i, off = i+1, 0 {
		n += copy(p[n:], b.Buffers[i][off:])
	}
	b.rOff += n
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer.Write.
func (b *UserBuffer) Write(p []byte) (int, error) {
	n := 0
	i, off := b.seek(b.wOff)
	for ; i < len(b.Buffers) && n < len(p); i, off = i+1, 0 {
		n += copy(b.Buffers[i][off:], p[n:])
	}
	b.wOff += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

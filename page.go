// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import "code.hybscloud.com/iobuf"

// page is a fixed-length byte array linked lazily into a singly-linked
// chain. Pages are allocated on write demand and released once every
// reader and writer has advanced past their last byte.
type page struct {
	buf  []byte // len(buf) == pageSize, page-aligned
	next *page
}

func newPage(size int) *page {
	// Pages are read and written directly against socket file descriptors
	// (one syscall per page slice), so aligned memory avoids a kernel-side
	// bounce buffer on the hot path.
	return &page{buf: iobuf.AlignedMem(size, iobuf.PageSize)}
}

// pointer is a logical cursor into a page chain: a reference to a page and
// a byte offset within it, in [0, pageSize). A pointer must never be
// shared across goroutines without holding the owning FifoBuffer's lock.
type pointer struct {
	pageSize int
	p        *page
	off      int
}

// chunk returns how many bytes the pointer may consume or produce before
// crossing a page boundary, advancing to (and lazily allocating) the next
// page first if the current one is exhausted.
func (ptr *pointer) chunk() int {
	if ptr.off >= ptr.pageSize {
		if ptr.p.next == nil {
			ptr.p.next = newPage(ptr.pageSize)
		}
		ptr.p = ptr.p.next
		ptr.off = 0
		return ptr.pageSize
	}
	return ptr.pageSize - ptr.off
}

// putFrom copies min(len(b), remaining-room-before-boundary) bytes from b
// into the current page, advancing the cursor. It returns the number of
// bytes copied; the caller loops until b is exhausted.
func (ptr *pointer) putFrom(b []byte) int {
	n := ptr.chunk()
	if n > len(b) {
		n = len(b)
	}
	copy(ptr.p.buf[ptr.off:ptr.off+n], b[:n])
	ptr.off += n
	return n
}

// getInto copies min(len(b), remaining-bytes-before-boundary) bytes from
// the current page into b, advancing the cursor.
func (ptr *pointer) getInto(b []byte) int {
	n := ptr.chunk()
	if n > len(b) {
		n = len(b)
	}
	copy(b[:n], ptr.p.buf[ptr.off:ptr.off+n])
	ptr.off += n
	return n
}

// slice returns the pointer's current page as a byte-range view suitable
// for a single read(2)/write(2) syscall: from the cursor to the page
// boundary (capped by max), without advancing the cursor. advance() must
// be called afterward with however many bytes the syscall reported.
func (ptr *pointer) slice(max int) []byte {
	n := ptr.chunk()
	if n > max {
		n = max
	}
	return ptr.p.buf[ptr.off : ptr.off+n]
}

func (ptr *pointer) advance(n int) {
	ptr.off += n
}

// skip advances the cursor by n bytes without copying, walking pages (and
// allocating new ones on demand, matching chunk()'s semantics) as needed.
func (ptr *pointer) skip(n int) {
	for n > 0 {
		c := ptr.chunk()
		if c > n {
			c = n
		}
		ptr.off += c
		n -= c
	}
}

// sendOnce presents the pointer's current page slice (up to max bytes) to
// dst for a single write(2) and advances the cursor by whatever the kernel
// reported. It never loops internally on a partial write (spec §4.1).
func (ptr *pointer) sendOnce(dst Writable, max int) (int, error) {
	b := ptr.slice(max)
	n, err := dst.Write(b)
	if n > 0 {
		ptr.advance(n)
	}
	return n, err
}

// receiveOnce presents the pointer's current page slice (up to max bytes)
// to src for a single read(2) and advances the cursor by whatever the
// kernel reported. On a -1/EOF result the caller must treat it as
// end-of-stream without this method having advanced the write pointer.
func (ptr *pointer) receiveOnce(src Readable, max int) (int, error) {
	b := ptr.slice(max)
	n, err := src.Read(b)
	if n > 0 {
		ptr.advance(n)
	}
	return n, err
}

// peekInto copies up to len(b) bytes starting skip bytes ahead of ptr,
// without advancing ptr. It is used by FifoBuffer.peek, which must not
// disturb the read cursor.
func (ptr *pointer) peekInto(skip int, b []byte) int {
	p := ptr.p
	off := ptr.off
	for skip > 0 {
		remain := ptr.pageSize - off
		if skip < remain {
			off += skip
			skip = 0
			break
		}
		skip -= remain
		if p.next == nil {
			return 0
		}
		p = p.next
		off = 0
	}
	got := 0
	for got < len(b) {
		if off >= ptr.pageSize {
			if p.next == nil {
				break
			}
			p = p.next
			off = 0
		}
		n := ptr.pageSize - off
		if n > len(b)-got {
			n = len(b) - got
		}
		copy(b[got:got+n], p.buf[off:off+n])
		got += n
		off += n
	}
	return got
}

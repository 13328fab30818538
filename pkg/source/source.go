// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package source implements the Readable Source abstraction every other
// package in this module is built on: a finite, byte-addressable, randomly
// readable sequence of bytes, with a windowing operation for composing
// sub-ranges without copying the parent's storage.
package source

import (
	"io"
)

// Source is a finite byte sequence of known length with random access.
// Implementations must support concurrent reads against independent
// Sources (or independent Window instances over the same Source) without
// corrupting each other's logical position: there is no shared seek
// cursor anywhere in this interface.
type Source interface {
	// Len returns the total number of bytes in the source.
	Len() int64

	// ReadAt reads into buf starting at the given absolute offset,
	// returning the number of bytes read. Reading past the end of the
	// source is not an error: it fills only the prefix that exists and
	// returns the short count (possibly zero), mirroring io.ReaderAt
	// except that running off the end returns (n, nil) rather than
	// (n, io.EOF).
	ReadAt(buf []byte, offset int64) (int, error)

	// Sub returns a Source presenting the [offset, offset+length) window
	// of this source as an independent, zero-based Source. Sub-sources
	// compose by addition: s.Sub(a, b).Sub(c, d) reads the same bytes as
	// s.Sub(a+c, d) (d bounded by b-c).
	Sub(offset, length int64) Source
}

// Window is the standard Sub-source implementation: an offset+length view
// over a parent Source. Every higher layer (NCA sections, RomFS file
// opens, PFS0/HFS0 entries) hands out a *Window rather than reimplementing
// bounds-checked reads.
type Window struct {
	parent Source
	offset int64
	length int64
}

// NewWindow returns a Window over parent covering [offset, offset+length).
// The window is clamped so it never claims to extend past the parent's
// own length.
func NewWindow(parent Source, offset, length int64) *Window {
	if offset < 0 {
		offset = 0
	}
	if length < 0 {
		length = 0
	}
	if max := parent.Len() - offset; max < length {
		if max < 0 {
			max = 0
		}
		length = max
	}
	return &Window{parent: parent, offset: offset, length: length}
}

// Len implements Source.
func (w *Window) Len() int64 { return w.length }

// ReadAt implements Source.
func (w *Window) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset >= w.length {
		return 0, nil
	}
	n := int64(len(buf))
	if remaining := w.length - offset; n > remaining {
		n = remaining
	}
	return w.parent.ReadAt(buf[:n], w.offset+offset)
}

// Sub implements Source.
func (w *Window) Sub(offset, length int64) Source {
	// Clamp against this window first, then re-anchor on the parent so
	// nested windows never stack.
	inner := NewWindow(w, offset, length)
	return NewWindow(w.parent, w.offset+inner.offset, inner.length)
}

// ReadFull reads exactly len(buf) bytes from s at offset, or returns the
// underlying read error, or io.ErrUnexpectedEOF on a short read. Layers that
// require complete records (headers, tables) use this instead of ReadAt
// directly; layers that tolerate short reads past EOF (plain data
// sections) use ReadAt.
func ReadFull(s Source, buf []byte, offset int64) error {
	n, err := s.ReadAt(buf, offset)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

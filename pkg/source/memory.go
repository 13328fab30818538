// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import "github.com/xaionaro-go/bytesextra"

// MemorySource is a Source backed entirely by an in-memory buffer, wrapping
// bytesextra.ReadWriteSeeker rather than hand-rolling another bytes.Reader
// variant.
//
// Reads are served directly from the underlying Storage slice rather than
// through the Seeker, so concurrent Windows over one MemorySource never
// contend on a shared seek cursor.
type MemorySource struct {
	rws *bytesextra.ReadWriteSeeker
}

// NewMemorySource wraps buf (not copied) as a Source.
func NewMemorySource(buf []byte) *MemorySource {
	return &MemorySource{rws: bytesextra.NewReadWriteSeeker(buf)}
}

// Len implements Source.
func (m *MemorySource) Len() int64 { return int64(len(m.rws.Storage)) }

// ReadAt implements Source.
func (m *MemorySource) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset >= int64(len(m.rws.Storage)) {
		return 0, nil
	}
	n := copy(buf, m.rws.Storage[offset:])
	return n, nil
}

// Sub implements Source.
func (m *MemorySource) Sub(offset, length int64) Source {
	return NewWindow(m, offset, length)
}

// Bytes returns the backing storage without copying. Callers must not
// mutate it while a MemorySource or any of its Windows is in use.
func (m *MemorySource) Bytes() []byte { return m.rws.Storage }

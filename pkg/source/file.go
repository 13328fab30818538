// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import "os"

// FileSource is a Source backed by a regular file, read positionally
// (os.File.ReadAt uses pread(2) under the hood) so independent Windows over
// the same FileSource can be read from multiple goroutines without racing
// on a shared cursor.
type FileSource struct {
	f    *os.File
	size int64
}

// NewFileSource opens path read-only and stats it for its length.
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{f: f, size: fi.Size()}, nil
}

// NewFileSourceFromFile wraps an already-open file. The caller retains
// ownership: the library never closes a caller-provided file.
func NewFileSourceFromFile(f *os.File) (*FileSource, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f, size: fi.Size()}, nil
}

// Len implements Source.
func (s *FileSource) Len() int64 { return s.size }

// ReadAt implements Source.
func (s *FileSource) ReadAt(buf []byte, offset int64) (int, error) {
	if offset >= s.size {
		return 0, nil
	}
	if want := int64(len(buf)); offset+want > s.size {
		buf = buf[:s.size-offset]
	}
	n, err := s.f.ReadAt(buf, offset)
	if n > 0 {
		return n, nil
	}
	return n, err
}

// Sub implements Source.
func (s *FileSource) Sub(offset, length int64) Source {
	return NewWindow(s, offset, length)
}

// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compress decodes the LZ4-compressed block buckets that recent
// NCA firmware revisions use for DeltaFragment/patch content sections.
// Each bucket names a virtual (decompressed) byte range and the physical
// (compressed) range backing it; blocks are decoded independently using
// LZ4 block framing.
package compress

import (
	"sort"

	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/source"
	"github.com/pierrec/lz4"
)

// Bucket describes one compressed block: VirtualOffset/VirtualSize give
// its position and length in the decompressed address space,
// PhysicalOffset/PhysicalSize its position and length in the underlying
// compressed Source.
type Bucket struct {
	VirtualOffset  int64
	VirtualSize    int64
	PhysicalOffset int64
	PhysicalSize   int64
}

// BucketTable is an ordered, non-overlapping set of Buckets covering a
// contiguous virtual address space starting at 0.
type BucketTable struct {
	buckets []Bucket
	size    int64
}

// NewBucketTable validates and sorts buckets by VirtualOffset. Returns
// nxerr.ErrInvalidOffset if the buckets overlap or leave a gap.
func NewBucketTable(buckets []Bucket) (*BucketTable, error) {
	sorted := make([]Bucket, len(buckets))
	copy(sorted, buckets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VirtualOffset < sorted[j].VirtualOffset })

	var cursor int64
	for _, b := range sorted {
		if b.VirtualOffset != cursor {
			return nil, nxerr.ErrInvalidOffset
		}
		if b.VirtualSize < 0 || b.PhysicalSize < 0 {
			return nil, nxerr.ErrInvalidSize
		}
		cursor += b.VirtualSize
	}
	return &BucketTable{buckets: sorted, size: cursor}, nil
}

// Len returns the total decompressed size the table covers.
func (t *BucketTable) Len() int64 { return t.size }

// DecompressBlock decodes one LZ4 block. dst must be sized to the known
// decompressed length; src is the raw compressed bytes for that block.
func DecompressBlock(dst, src []byte) (int, error) {
	if len(src) == len(dst) {
		// Stored (uncompressed) block: NCA's compression bucket format
		// allows a block whose physical size equals its virtual size to
		// be copied verbatim rather than LZ4-framed.
		copy(dst, src)
		return len(dst), nil
	}
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Reader presents a BucketTable over a physical Source as a decompressed
// source.Source. Each ReadAt call decodes every bucket intersecting the
// requested range; callers reading large spans repeatedly should cache
// decoded buckets themselves, as Reader performs no caching.
type Reader struct {
	table    *BucketTable
	physical source.Source
}

// NewReader builds a Reader over physical using table's bucket layout.
func NewReader(table *BucketTable, physical source.Source) *Reader {
	return &Reader{table: table, physical: physical}
}

// Len implements source.Source.
func (r *Reader) Len() int64 { return r.table.size }

// Sub implements source.Source.
func (r *Reader) Sub(offset, length int64) source.Source {
	return source.NewWindow(r, offset, length)
}

// ReadAt implements source.Source, decoding whichever buckets intersect
// [offset, offset+len(buf)).
func (r *Reader) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset >= r.table.size {
		return 0, nil
	}
	want := int64(len(buf))
	if remaining := r.table.size - offset; want > remaining {
		want = remaining
	}

	total := 0
	for total < int(want) {
		cur := offset + int64(total)
		b, ok := r.bucketFor(cur)
		if !ok {
			break
		}
		block := make([]byte, b.VirtualSize)
		physBuf := make([]byte, b.PhysicalSize)
		if err := source.ReadFull(r.physical, physBuf, b.PhysicalOffset); err != nil {
			return total, err
		}
		if _, err := DecompressBlock(block, physBuf); err != nil {
			return total, err
		}

		blockOff := cur - b.VirtualOffset
		n := copy(buf[total:int(want)], block[blockOff:])
		total += n
	}
	return total, nil
}

func (r *Reader) bucketFor(virtualOffset int64) (Bucket, bool) {
	idx := sort.Search(len(r.table.buckets), func(i int) bool {
		b := r.table.buckets[i]
		return b.VirtualOffset+b.VirtualSize > virtualOffset
	})
	if idx >= len(r.table.buckets) {
		return Bucket{}, false
	}
	return r.table.buckets[idx], true
}

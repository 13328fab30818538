// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compress_test

import (
	"testing"

	"github.com/go-nx/nxcontent/pkg/compress"
	"github.com/go-nx/nxcontent/pkg/source"
	"github.com/pierrec/lz4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lz4Compress(t *testing.T, plain []byte) []byte {
	t.Helper()
	dst := make([]byte, len(plain)*2+64)
	n, err := lz4.CompressBlock(plain, dst, nil)
	require.NoError(t, err)
	require.NotZero(t, n)
	return dst[:n]
}

func TestBucketTableRejectsGap(t *testing.T) {
	_, err := compress.NewBucketTable([]compress.Bucket{
		{VirtualOffset: 0, VirtualSize: 16, PhysicalOffset: 0, PhysicalSize: 16},
		{VirtualOffset: 32, VirtualSize: 16, PhysicalOffset: 16, PhysicalSize: 16},
	})
	assert.Error(t, err)
}

func TestReaderDecodesCompressedAndStoredBuckets(t *testing.T) {
	block0 := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") // 32 bytes, highly compressible
	compressed0 := lz4Compress(t, block0)

	block1 := []byte("0123456789abcdef") // 16 bytes, stored verbatim (physical == virtual size)

	var physical []byte
	physical = append(physical, compressed0...)
	physical = append(physical, block1...)

	table, err := compress.NewBucketTable([]compress.Bucket{
		{VirtualOffset: 0, VirtualSize: int64(len(block0)), PhysicalOffset: 0, PhysicalSize: int64(len(compressed0))},
		{VirtualOffset: int64(len(block0)), VirtualSize: int64(len(block1)), PhysicalOffset: int64(len(compressed0)), PhysicalSize: int64(len(block1))},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(block0)+len(block1)), table.Len())

	r := compress.NewReader(table, source.NewMemorySource(physical))
	out := make([]byte, r.Len())
	n, err := r.ReadAt(out, 0)
	require.NoError(t, err)
	assert.Equal(t, len(out), n)
	assert.Equal(t, append(append([]byte{}, block0...), block1...), out)
}

func TestReaderReadsAcrossBucketBoundary(t *testing.T) {
	block0 := []byte("0123456789abcdef")
	block1 := []byte("ffffffffffffffff")

	var physical []byte
	physical = append(physical, block0...)
	physical = append(physical, block1...)

	table, err := compress.NewBucketTable([]compress.Bucket{
		{VirtualOffset: 0, VirtualSize: 16, PhysicalOffset: 0, PhysicalSize: 16},
		{VirtualOffset: 16, VirtualSize: 16, PhysicalOffset: 16, PhysicalSize: 16},
	})
	require.NoError(t, err)

	r := compress.NewReader(table, source.NewMemorySource(physical))
	out := make([]byte, 8)
	n, err := r.ReadAt(out, 12)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "cdefffff", string(out))
}

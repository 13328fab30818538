// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xci_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/pfs0"
	"github.com/go-nx/nxcontent/pkg/source"
	"github.com/go-nx/nxcontent/pkg/xci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildHFS0 builds a single-entry HFS0 archive holding data under name.
func buildHFS0(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var stringTable bytes.Buffer
	stringTable.WriteString(name)
	stringTable.WriteByte(0)

	var rec [64]byte
	binary.LittleEndian.PutUint64(rec[8:16], uint64(len(data)))

	var hdr [16]byte
	copy(hdr[0:4], "HFS0")
	binary.LittleEndian.PutUint32(hdr[4:8], 1)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(stringTable.Len()))

	var out bytes.Buffer
	out.Write(hdr[:])
	out.Write(rec[:])
	out.Write(stringTable.Bytes())
	for out.Len()%0x200 != 0 {
		out.WriteByte(0)
	}
	out.Write(data)
	return out.Bytes()
}

// buildXCI wraps a root HFS0 (with one "secure" entry holding a nested
// HFS0 archive) behind NormalAreaOffset bytes of CardHeader padding.
func buildXCI(t *testing.T) []byte {
	t.Helper()
	secure := buildHFS0(t, "title.nca", []byte("romfs-bytes"))

	var stringTable bytes.Buffer
	stringTable.WriteString("secure")
	stringTable.WriteByte(0)

	var rec [64]byte
	binary.LittleEndian.PutUint64(rec[8:16], uint64(len(secure)))

	var hdr [16]byte
	copy(hdr[0:4], "HFS0")
	binary.LittleEndian.PutUint32(hdr[4:8], 1)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(stringTable.Len()))

	var root bytes.Buffer
	root.Write(hdr[:])
	root.Write(rec[:])
	root.Write(stringTable.Bytes())
	for root.Len()%0x200 != 0 {
		root.WriteByte(0)
	}
	root.Write(secure)

	var out bytes.Buffer
	out.Write(make([]byte, xci.NormalAreaOffset))
	out.Write(root.Bytes())
	return out.Bytes()
}

func TestOpenXCIAndReadSecurePartition(t *testing.T) {
	img := buildXCI(t)
	x, err := xci.Open(source.NewMemorySource(img), xci.Options{})
	require.NoError(t, err)

	roots := x.RootEntries()
	require.Len(t, roots, 1)
	assert.Equal(t, xci.PartitionSecure, roots[0].Name)

	secure, err := x.Partition(xci.PartitionSecure)
	require.NoError(t, err)
	require.Equal(t, pfs0.KindHFS0, secure.Kind())

	entries := secure.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "title.nca", entries[0].Name)

	sub, err := secure.Open("title.nca")
	require.NoError(t, err)
	buf := make([]byte, sub.Len())
	_, err = sub.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "romfs-bytes", string(buf))
}

func TestOpenXCITooShortFails(t *testing.T) {
	_, err := xci.Open(source.NewMemorySource(make([]byte, 0x100)), xci.Options{})
	var truncated *nxerr.TruncatedError
	assert.ErrorAs(t, err, &truncated)
}

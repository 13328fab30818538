// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nsp_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-nx/nxcontent/pkg/nsp"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPFS0(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var stringTable bytes.Buffer
	stringTable.WriteString(name)
	stringTable.WriteByte(0)

	var rec [24]byte
	binary.LittleEndian.PutUint64(rec[0:8], 0)
	binary.LittleEndian.PutUint64(rec[8:16], uint64(len(data)))
	binary.LittleEndian.PutUint32(rec[16:20], 0)

	var hdr [16]byte
	copy(hdr[0:4], "PFS0")
	binary.LittleEndian.PutUint32(hdr[4:8], 1)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(stringTable.Len()))

	var out bytes.Buffer
	out.Write(hdr[:])
	out.Write(rec[:])
	out.Write(stringTable.Bytes())
	out.Write(data)
	return out.Bytes()
}

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

func TestOpenNSPAcceptsPFS0(t *testing.T) {
	img := buildPFS0(t, "cnmt.nca", []byte("payload!"))
	n, err := nsp.Open(source.NewMemorySource(img), nsp.Options{})
	require.NoError(t, err)

	entries := n.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "cnmt.nca", entries[0].Name)

	sub, err := n.Open("cnmt.nca")
	require.NoError(t, err)
	buf := make([]byte, sub.Len())
	_, err = sub.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload!", string(buf))
}

func TestOpenNSPRejectsHFS0(t *testing.T) {
	img := buildHFS0(t, "x.nca", []byte("payload!"))
	_, err := nsp.Open(source.NewMemorySource(img), nsp.Options{})
	var badMagic *nxerr.BadMagicError
	assert.ErrorAs(t, err, &badMagic)
}

// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cnmt_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-nx/nxcontent/pkg/cnmt"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func u16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }

func contentInfoRecord(contentID byte, size uint64, contentType cnmt.ContentType, idOffset byte) []byte {
	var rec [0x38]byte
	for i := range rec[0:0x20] {
		rec[i] = byte(i) // hash placeholder
	}
	for i := 0; i < 16; i++ {
		rec[0x20+i] = contentID
	}
	var sizeBuf [6]byte
	v := size
	for i := 0; i < 6; i++ {
		sizeBuf[i] = byte(v)
		v >>= 8
	}
	copy(rec[0x30:0x36], sizeBuf[:])
	rec[0x36] = byte(contentType)
	rec[0x37] = idOffset
	return rec[:]
}

// buildApplicationCNMT constructs an Application (0x80) meta with two
// content records carrying distinct ContentIds/ContentTypes.
func buildApplicationCNMT(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer

	buf.Write(u64(0x0100000000010000)) // Id
	buf.Write(u32(1))                  // Version
	buf.WriteByte(0x80)                // ContentMetaType = Application
	buf.WriteByte(0)                   // Platform
	buf.Write(u16(16))                 // ExtendedHeaderSize
	buf.Write(u16(2))                  // ContentCount
	buf.Write(u16(0))                  // ContentMetaCount
	buf.WriteByte(0)                   // Attributes
	buf.Write(make([]byte, 3))         // reserved
	buf.Write(u32(0))                  // RequiredDownloadSystemVersion
	buf.Write(make([]byte, 4))         // reserved
	require.Equal(t, 0x20, buf.Len())

	// ApplicationExtendedHeader: PatchId, RequiredSystemVersion, RequiredApplicationVersion.
	buf.Write(u64(0x0100000000010800))
	buf.Write(u32(0))
	buf.Write(u32(0))

	buf.Write(contentInfoRecord(0x11, 0x1000, cnmt.ContentTypeProgram, 0))
	buf.Write(contentInfoRecord(0x22, 0x2000, cnmt.ContentTypeControl, 1))

	buf.Write(make([]byte, 0x20)) // digest

	return buf.Bytes()
}

func TestOpenApplicationCNMT(t *testing.T) {
	img := buildApplicationCNMT(t)
	c, err := cnmt.Open(source.NewMemorySource(img))
	require.NoError(t, err)

	assert.Equal(t, cnmt.ContentMetaTypeApplication, c.Header.ContentMetaType)
	assert.Equal(t, uint16(2), c.Header.ContentCount)
	require.Len(t, c.Contents, 2)

	assert.Equal(t, byte(0x11), c.Contents[0].ContentID[0])
	assert.Equal(t, cnmt.ContentTypeProgram, c.Contents[0].ContentType)
	assert.Equal(t, uint64(0x1000), c.Contents[0].Size)

	assert.Equal(t, byte(0x22), c.Contents[1].ContentID[0])
	assert.Equal(t, cnmt.ContentTypeControl, c.Contents[1].ContentType)
	assert.Equal(t, uint8(1), c.Contents[1].IDOffset)

	appHeader, ok := c.ApplicationExtendedHeader()
	require.True(t, ok)
	assert.Equal(t, uint64(0x0100000000010800), appHeader.PatchID)

	assert.Equal(t, "Application", c.Header.ContentMetaType.String())
}

func TestContentsByType(t *testing.T) {
	img := buildApplicationCNMT(t)
	c, err := cnmt.Open(source.NewMemorySource(img))
	require.NoError(t, err)

	programs := c.ContentsByType(cnmt.ContentTypeProgram)
	require.Len(t, programs, 1)
	assert.Equal(t, byte(0x11), programs[0].ContentID[0])
}

// TestExtendedHeaderSizeMismatchFails exercises the ExtendedHeaderSizeMismatch
// failure mode when the declared size disagrees with the Application schema.
func TestExtendedHeaderSizeMismatchFails(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(u64(1))
	buf.Write(u32(1))
	buf.WriteByte(0x80) // Application, expects ExtendedHeaderSize == 16
	buf.WriteByte(0)
	buf.Write(u16(8)) // wrong
	buf.Write(u16(0))
	buf.Write(u16(0))
	buf.WriteByte(0)
	buf.Write(u32(0))
	buf.Write(make([]byte, 8))  // bogus extended header
	buf.Write(make([]byte, 32)) // digest

	_, err := cnmt.Open(source.NewMemorySource(buf.Bytes()))
	assert.ErrorIs(t, err, nxerr.ErrExtHeaderSizeMismatch)
}

// buildCNMT constructs a minimal CNMT of the given meta type: header,
// the supplied extended-header bytes, no content records, and a zero
// digest.
func buildCNMT(t *testing.T, metaType byte, extHeader []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(u64(0x0100000000020000)) // Id
	buf.Write(u32(3))                  // Version
	buf.WriteByte(metaType)
	buf.WriteByte(0)                       // Platform
	buf.Write(u16(uint16(len(extHeader)))) // ExtendedHeaderSize
	buf.Write(u16(0))                      // ContentCount
	buf.Write(u16(0))                      // ContentMetaCount
	buf.WriteByte(0)                       // Attributes
	buf.Write(make([]byte, 3))             // reserved
	buf.Write(u32(0))                      // RequiredDownloadSystemVersion
	buf.Write(make([]byte, 4))             // reserved
	require.Equal(t, 0x20, buf.Len())
	buf.Write(extHeader)
	buf.Write(make([]byte, 0x20)) // digest
	return buf.Bytes()
}

func TestOpenPatchCNMT(t *testing.T) {
	var ext bytes.Buffer
	ext.Write(u64(0x0100000000020000)) // ApplicationId
	ext.Write(u32(0x000A0000))         // RequiredSystemVersion
	ext.Write(u32(0x180))              // ExtendedDataSize
	img := buildCNMT(t, 0x81, ext.Bytes())

	c, err := cnmt.Open(source.NewMemorySource(img))
	require.NoError(t, err)

	h, ok := c.PatchExtendedHeader()
	require.True(t, ok)
	assert.Equal(t, uint64(0x0100000000020000), h.ApplicationID)
	assert.Equal(t, uint32(0x000A0000), h.RequiredSystemVersion)
	assert.Equal(t, uint32(0x180), h.ExtendedDataSize)

	_, ok = c.ApplicationExtendedHeader()
	assert.False(t, ok)
}

func TestOpenAddOnContentCNMT(t *testing.T) {
	var ext bytes.Buffer
	ext.Write(u64(0x0100000000020000)) // ApplicationId
	ext.Write(u32(7))                  // RequiredApplicationVersion
	img := buildCNMT(t, 0x82, ext.Bytes())

	c, err := cnmt.Open(source.NewMemorySource(img))
	require.NoError(t, err)

	h, ok := c.AddOnContentExtendedHeader()
	require.True(t, ok)
	assert.Equal(t, uint64(0x0100000000020000), h.ApplicationID)
	assert.Equal(t, uint32(7), h.RequiredApplicationVersion)
	assert.Equal(t, "Add On Content", c.Header.ContentMetaType.String())
}

func TestOpenDeltaCNMT(t *testing.T) {
	var ext bytes.Buffer
	ext.Write(u64(0x0100000000020000)) // ApplicationId
	ext.Write(u32(0x40))               // ExtendedDataSize
	img := buildCNMT(t, 0x83, ext.Bytes())

	c, err := cnmt.Open(source.NewMemorySource(img))
	require.NoError(t, err)

	h, ok := c.DeltaExtendedHeader()
	require.True(t, ok)
	assert.Equal(t, uint64(0x0100000000020000), h.ApplicationID)
	assert.Equal(t, uint32(0x40), h.ExtendedDataSize)
}

func TestOpenDataPatchCNMT(t *testing.T) {
	var ext bytes.Buffer
	ext.Write(u64(0x0100000000020001)) // DataId
	ext.Write(u64(0x0100000000020000)) // ApplicationId
	ext.Write(u32(2))                  // RequiredApplicationVersion
	ext.Write(u32(0x80))               // ExtendedDataSize
	img := buildCNMT(t, 0x84, ext.Bytes())

	c, err := cnmt.Open(source.NewMemorySource(img))
	require.NoError(t, err)

	h, ok := c.DataPatchExtendedHeader()
	require.True(t, ok)
	assert.Equal(t, uint64(0x0100000000020001), h.DataID)
	assert.Equal(t, uint64(0x0100000000020000), h.ApplicationID)
	assert.Equal(t, uint32(2), h.RequiredApplicationVersion)
	assert.Equal(t, uint32(0x80), h.ExtendedDataSize)
}

func TestOpenSystemUpdateCNMT(t *testing.T) {
	img := buildCNMT(t, 0x03, u32(0x2000))

	c, err := cnmt.Open(source.NewMemorySource(img))
	require.NoError(t, err)

	h, ok := c.SystemUpdateExtendedHeader()
	require.True(t, ok)
	assert.Equal(t, uint32(0x2000), h.ExtendedDataSize)

	_, ok = c.PatchExtendedHeader()
	assert.False(t, ok)
}

// TestUnknownMetaTypeSkipsExtendedHeaderWithWarning: an unrecognized
// ContentMetaType with a declared extended header parses, skips those
// bytes, leaves ExtendedHeaderRaw empty and records a warning.
func TestUnknownMetaTypeSkipsExtendedHeaderWithWarning(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(u64(42))
	buf.Write(u32(1))
	buf.WriteByte(0x90) // unknown type
	buf.WriteByte(0)
	buf.Write(u16(8)) // declared extended header this package has no schema for
	buf.Write(u16(1)) // one content record
	buf.Write(u16(0))
	buf.WriteByte(0)
	buf.Write(make([]byte, 3)) // reserved
	buf.Write(u32(0))
	buf.Write(make([]byte, 4)) // reserved
	buf.Write(make([]byte, 8)) // opaque extended header
	buf.Write(contentInfoRecord(0x33, 0x500, cnmt.ContentTypeData, 0))
	buf.Write(make([]byte, 0x20)) // digest

	c, err := cnmt.Open(source.NewMemorySource(buf.Bytes()))
	require.NoError(t, err)
	assert.Empty(t, c.ExtendedHeaderRaw)
	require.Len(t, c.Contents, 1)
	assert.Equal(t, byte(0x33), c.Contents[0].ContentID[0])
	require.NotNil(t, c.Warnings)
	assert.NotEmpty(t, c.Warnings.Errors)
}

// TestContentMetaSizeInvariant checks that a well-formed CNMT satisfies
// content_count*0x38 + content_meta_count*0x10 + extended_header_size + 0x20 <= file_len.
func TestContentMetaSizeInvariant(t *testing.T) {
	img := buildApplicationCNMT(t)
	c, err := cnmt.Open(source.NewMemorySource(img))
	require.NoError(t, err)

	need := int64(len(c.Contents))*0x38 + int64(len(c.ContentMetaInfos))*0x10 + int64(c.Header.ExtendedHeaderSize) + 0x20
	assert.LessOrEqual(t, need, int64(len(img)))
}

// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cnmt parses PackagedContentMeta (CNMT) records: the manifest
// format describing which NCAs make up a title and how they relate to
// other titles. Parsing follows the same fixed-header-then-variant-body
// shape as pkg/nca, dispatching the extended header on ContentMetaType.
package cnmt

import (
	"encoding/binary"
	"fmt"

	"github.com/fatih/camelcase"
	"github.com/go-nx/nxcontent/pkg/id"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/source"
	"github.com/hashicorp/go-multierror"
)

const headerSize = 0x20
const digestSize = 0x20
const contentInfoSize = 0x38
const metaInfoSize = 0x10

// ContentMetaType selects the extended-header schema and the
// human-readable name returned by String().
type ContentMetaType uint8

const (
	ContentMetaTypeSystemProgram        ContentMetaType = 0x01
	ContentMetaTypeSystemData           ContentMetaType = 0x02
	ContentMetaTypeSystemUpdate         ContentMetaType = 0x03
	ContentMetaTypeBootImagePackage     ContentMetaType = 0x04
	ContentMetaTypeBootImagePackageSafe ContentMetaType = 0x05
	ContentMetaTypeApplication          ContentMetaType = 0x80
	ContentMetaTypePatch                ContentMetaType = 0x81
	ContentMetaTypeAddOnContent         ContentMetaType = 0x82
	ContentMetaTypeDelta                ContentMetaType = 0x83
	ContentMetaTypeDataPatch            ContentMetaType = 0x84
)

// String renders the type's camel-cased identifier as a spaced display
// name ("Add On Content") for log and CLI output.
func (t ContentMetaType) String() string {
	ident, ok := contentMetaTypeIdent[t]
	if !ok {
		return "Unknown"
	}
	words := camelcase.Split(ident)
	out := words[0]
	for _, w := range words[1:] {
		out += " " + w
	}
	return out
}

var contentMetaTypeIdent = map[ContentMetaType]string{
	ContentMetaTypeSystemProgram:        "SystemProgram",
	ContentMetaTypeSystemData:           "SystemData",
	ContentMetaTypeSystemUpdate:         "SystemUpdate",
	ContentMetaTypeBootImagePackage:     "BootImagePackage",
	ContentMetaTypeBootImagePackageSafe: "BootImagePackageSafe",
	ContentMetaTypeApplication:          "Application",
	ContentMetaTypePatch:                "Patch",
	ContentMetaTypeAddOnContent:         "AddOnContent",
	ContentMetaTypeDelta:                "Delta",
	ContentMetaTypeDataPatch:            "DataPatch",
}

// ContentType categorizes a PackagedContentInfo entry.
type ContentType uint8

const (
	ContentTypeMeta ContentType = iota
	ContentTypeProgram
	ContentTypeData
	ContentTypeControl
	ContentTypeHTMLDocument
	ContentTypeLegalInformation
	ContentTypeDeltaFragment
)

func (t ContentType) String() string {
	switch t {
	case ContentTypeProgram:
		return "Program"
	case ContentTypeData:
		return "Data"
	case ContentTypeControl:
		return "Control"
	case ContentTypeHTMLDocument:
		return "HtmlDocument"
	case ContentTypeLegalInformation:
		return "LegalInformation"
	case ContentTypeDeltaFragment:
		return "DeltaFragment"
	default:
		return "Meta"
	}
}

// Header is the 0x20-byte PackagedContentMetaHeader.
type Header struct {
	ID                            uint64
	Version                       uint32
	ContentMetaType               ContentMetaType
	Platform                      uint8
	ExtendedHeaderSize            uint16
	ContentCount                  uint16
	ContentMetaCount              uint16
	Attributes                    uint8
	RequiredDownloadSystemVersion uint32
}

// ApplicationExtendedHeader is the ExtendedHeader variant for
// ContentMetaTypeApplication.
type ApplicationExtendedHeader struct {
	PatchID                    uint64
	RequiredSystemVersion      uint32
	RequiredApplicationVersion uint32
}

// PatchExtendedHeader is the ExtendedHeader variant for
// ContentMetaTypePatch.
type PatchExtendedHeader struct {
	ApplicationID         uint64
	RequiredSystemVersion uint32
	ExtendedDataSize      uint32
}

// AddOnContentExtendedHeader is the ExtendedHeader variant for
// ContentMetaTypeAddOnContent.
type AddOnContentExtendedHeader struct {
	ApplicationID              uint64
	RequiredApplicationVersion uint32
}

// DeltaExtendedHeader is the ExtendedHeader variant for
// ContentMetaTypeDelta.
type DeltaExtendedHeader struct {
	ApplicationID    uint64
	ExtendedDataSize uint32
}

// DataPatchExtendedHeader is the ExtendedHeader variant for
// ContentMetaTypeDataPatch.
type DataPatchExtendedHeader struct {
	DataID                     uint64
	ApplicationID              uint64
	RequiredApplicationVersion uint32
	ExtendedDataSize           uint32
}

// SystemUpdateExtendedHeader is the ExtendedHeader variant for
// ContentMetaTypeSystemUpdate.
type SystemUpdateExtendedHeader struct {
	ExtendedDataSize uint32
}

var extendedHeaderSizes = map[ContentMetaType]int{
	ContentMetaTypeApplication:  16,
	ContentMetaTypePatch:        16,
	ContentMetaTypeAddOnContent: 12,
	ContentMetaTypeDelta:        12,
	ContentMetaTypeDataPatch:    24,
	ContentMetaTypeSystemUpdate: 4,
}

// PackagedContentInfo is one 0x38-byte content record. Size is the raw
// 6-byte little-endian field as stored on disk; ContentAttributes is the
// high nibble of its final byte. Per the carried-forward Open Question
// on whether ContentAttributes overrides the Size interpretation on
// firmware 15.0.0+, both are preserved verbatim with no correction
// applied to either.
type PackagedContentInfo struct {
	Hash              [32]byte
	ContentID         id.ContentID
	Size              uint64
	ContentAttributes uint8
	ContentType       ContentType
	IDOffset          uint8
}

// ContentMetaInfo is one 0x10-byte dependent-content-meta record.
type ContentMetaInfo struct {
	ID              uint64
	Version         uint32
	ContentMetaType ContentMetaType
	Attributes      uint8
}

// CNMT is a parsed PackagedContentMeta.
type CNMT struct {
	Header            Header
	ExtendedHeaderRaw []byte
	Contents          []PackagedContentInfo
	ContentMetaInfos  []ContentMetaInfo
	ExtendedData      []byte
	Digest            [digestSize]byte
	// Warnings aggregates non-fatal findings from Open, currently an
	// unknown ContentMetaType whose declared extended header was skipped
	// rather than decoded.
	Warnings *multierror.Error
}

// Open parses src as a CNMT record.
func Open(src source.Source) (*CNMT, error) {
	total := src.Len()

	var hdrBuf [headerSize]byte
	if err := source.ReadFull(src, hdrBuf[:], 0); err != nil {
		return nil, &nxerr.TruncatedError{What: "cnmt header", Expected: headerSize, Actual: total}
	}
	h := parseHeader(hdrBuf[:])

	var warnings *multierror.Error
	var extHeader []byte
	if want, known := extendedHeaderSizes[h.ContentMetaType]; known {
		if int(h.ExtendedHeaderSize) != want {
			return nil, nxerr.ErrExtHeaderSizeMismatch
		}
		extHeader = make([]byte, h.ExtendedHeaderSize)
		if h.ExtendedHeaderSize > 0 {
			if err := source.ReadFull(src, extHeader, headerSize); err != nil {
				return nil, &nxerr.TruncatedError{What: "cnmt extended header", Expected: headerSize + int64(h.ExtendedHeaderSize), Actual: total}
			}
		}
	} else if h.ExtendedHeaderSize != 0 {
		// Unknown meta type: skip its declared extended header rather than
		// guess a schema, and leave ExtendedHeaderRaw empty.
		warnings = multierror.Append(warnings, fmt.Errorf("cnmt: content meta type %#02x unknown, skipping %d-byte extended header", uint8(h.ContentMetaType), h.ExtendedHeaderSize))
	}
	offset := int64(headerSize) + int64(h.ExtendedHeaderSize)

	contentsLen := int64(h.ContentCount) * contentInfoSize
	metaLen := int64(h.ContentMetaCount) * metaInfoSize

	if offset+contentsLen+metaLen+digestSize > total {
		return nil, &nxerr.TruncatedError{What: "cnmt body", Expected: offset + contentsLen + metaLen + digestSize, Actual: total}
	}

	contentsBuf := make([]byte, contentsLen)
	if contentsLen > 0 {
		if err := source.ReadFull(src, contentsBuf, offset); err != nil {
			return nil, err
		}
	}
	contents := make([]PackagedContentInfo, h.ContentCount)
	for i := range contents {
		contents[i] = parseContentInfo(contentsBuf[int64(i)*contentInfoSize:])
	}
	offset += contentsLen

	metaBuf := make([]byte, metaLen)
	if metaLen > 0 {
		if err := source.ReadFull(src, metaBuf, offset); err != nil {
			return nil, err
		}
	}
	metas := make([]ContentMetaInfo, h.ContentMetaCount)
	for i := range metas {
		metas[i] = parseContentMetaInfo(metaBuf[int64(i)*metaInfoSize:])
	}
	offset += metaLen

	extDataSize := total - offset - digestSize
	var extData []byte
	if extDataSize > 0 {
		extData = make([]byte, extDataSize)
		if err := source.ReadFull(src, extData, offset); err != nil {
			return nil, err
		}
	}
	offset += extDataSize

	var digest [digestSize]byte
	if err := source.ReadFull(src, digest[:], offset); err != nil {
		return nil, &nxerr.TruncatedError{What: "cnmt digest", Expected: offset + digestSize, Actual: total}
	}

	return &CNMT{
		Header:            h,
		ExtendedHeaderRaw: extHeader,
		Contents:          contents,
		ContentMetaInfos:  metas,
		ExtendedData:      extData,
		Digest:            digest,
		Warnings:          warnings,
	}, nil
}

func parseHeader(b []byte) Header {
	return Header{
		ID:                            binary.LittleEndian.Uint64(b[0x00:]),
		Version:                       binary.LittleEndian.Uint32(b[0x08:]),
		ContentMetaType:               ContentMetaType(b[0x0C]),
		Platform:                      b[0x0D],
		ExtendedHeaderSize:            binary.LittleEndian.Uint16(b[0x0E:]),
		ContentCount:                  binary.LittleEndian.Uint16(b[0x10:]),
		ContentMetaCount:              binary.LittleEndian.Uint16(b[0x12:]),
		Attributes:                    b[0x14],
		RequiredDownloadSystemVersion: binary.LittleEndian.Uint32(b[0x18:]),
	}
}

func parseContentInfo(b []byte) PackagedContentInfo {
	var info PackagedContentInfo
	copy(info.Hash[:], b[0x00:0x20])
	copy(info.ContentID[:], b[0x20:0x30])
	info.Size = readUint48LE(b[0x30:0x36])
	info.ContentAttributes = b[0x35] >> 4
	info.ContentType = ContentType(b[0x36])
	info.IDOffset = b[0x37]
	return info
}

func readUint48LE(b []byte) uint64 {
	var v uint64
	for i := 5; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func parseContentMetaInfo(b []byte) ContentMetaInfo {
	return ContentMetaInfo{
		ID:              binary.LittleEndian.Uint64(b[0x00:]),
		Version:         binary.LittleEndian.Uint32(b[0x08:]),
		ContentMetaType: ContentMetaType(b[0x0C]),
		Attributes:      b[0x0D],
	}
}

// ContentsByType returns the subset of Contents matching t.
func (c *CNMT) ContentsByType(t ContentType) []PackagedContentInfo {
	var out []PackagedContentInfo
	for _, info := range c.Contents {
		if info.ContentType == t {
			out = append(out, info)
		}
	}
	return out
}

// ApplicationExtendedHeader decodes ExtendedHeaderRaw as
// ApplicationExtendedHeader, or returns false if the CNMT isn't that type.
func (c *CNMT) ApplicationExtendedHeader() (ApplicationExtendedHeader, bool) {
	if c.Header.ContentMetaType != ContentMetaTypeApplication {
		return ApplicationExtendedHeader{}, false
	}
	b := c.ExtendedHeaderRaw
	return ApplicationExtendedHeader{
		PatchID:                    binary.LittleEndian.Uint64(b[0x00:]),
		RequiredSystemVersion:      binary.LittleEndian.Uint32(b[0x08:]),
		RequiredApplicationVersion: binary.LittleEndian.Uint32(b[0x0C:]),
	}, true
}

// PatchExtendedHeader decodes ExtendedHeaderRaw as PatchExtendedHeader.
func (c *CNMT) PatchExtendedHeader() (PatchExtendedHeader, bool) {
	if c.Header.ContentMetaType != ContentMetaTypePatch {
		return PatchExtendedHeader{}, false
	}
	b := c.ExtendedHeaderRaw
	return PatchExtendedHeader{
		ApplicationID:         binary.LittleEndian.Uint64(b[0x00:]),
		RequiredSystemVersion: binary.LittleEndian.Uint32(b[0x08:]),
		ExtendedDataSize:      binary.LittleEndian.Uint32(b[0x0C:]),
	}, true
}

// AddOnContentExtendedHeader decodes ExtendedHeaderRaw as
// AddOnContentExtendedHeader.
func (c *CNMT) AddOnContentExtendedHeader() (AddOnContentExtendedHeader, bool) {
	if c.Header.ContentMetaType != ContentMetaTypeAddOnContent {
		return AddOnContentExtendedHeader{}, false
	}
	b := c.ExtendedHeaderRaw
	return AddOnContentExtendedHeader{
		ApplicationID:              binary.LittleEndian.Uint64(b[0x00:]),
		RequiredApplicationVersion: binary.LittleEndian.Uint32(b[0x08:]),
	}, true
}

// DeltaExtendedHeader decodes ExtendedHeaderRaw as DeltaExtendedHeader.
func (c *CNMT) DeltaExtendedHeader() (DeltaExtendedHeader, bool) {
	if c.Header.ContentMetaType != ContentMetaTypeDelta {
		return DeltaExtendedHeader{}, false
	}
	b := c.ExtendedHeaderRaw
	return DeltaExtendedHeader{
		ApplicationID:    binary.LittleEndian.Uint64(b[0x00:]),
		ExtendedDataSize: binary.LittleEndian.Uint32(b[0x08:]),
	}, true
}

// DataPatchExtendedHeader decodes ExtendedHeaderRaw as
// DataPatchExtendedHeader.
func (c *CNMT) DataPatchExtendedHeader() (DataPatchExtendedHeader, bool) {
	if c.Header.ContentMetaType != ContentMetaTypeDataPatch {
		return DataPatchExtendedHeader{}, false
	}
	b := c.ExtendedHeaderRaw
	return DataPatchExtendedHeader{
		DataID:                     binary.LittleEndian.Uint64(b[0x00:]),
		ApplicationID:              binary.LittleEndian.Uint64(b[0x08:]),
		RequiredApplicationVersion: binary.LittleEndian.Uint32(b[0x10:]),
		ExtendedDataSize:           binary.LittleEndian.Uint32(b[0x14:]),
	}, true
}

// SystemUpdateExtendedHeader decodes ExtendedHeaderRaw as
// SystemUpdateExtendedHeader.
func (c *CNMT) SystemUpdateExtendedHeader() (SystemUpdateExtendedHeader, bool) {
	if c.Header.ContentMetaType != ContentMetaTypeSystemUpdate {
		return SystemUpdateExtendedHeader{}, false
	}
	b := c.ExtendedHeaderRaw
	return SystemUpdateExtendedHeader{
		ExtendedDataSize: binary.LittleEndian.Uint32(b[0x00:]),
	}, true
}

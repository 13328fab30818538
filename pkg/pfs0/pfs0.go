// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pfs0 reads PFS0 and HFS0 partition filesystems: flat archives of
// named entries over a backing Source, as used for NSP files, NCA
// PartitionFs sections, and XCI HFS0 partitions. The two on-disk variants
// share a header and name-table layout and differ only in entry width and
// the per-entry hash HFS0 adds.
package pfs0

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/go-nx/nxcontent/pkg/log"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/source"
)

const (
	magicPFS0 = "PFS0"
	magicHFS0 = "HFS0"

	headerSize     = 0x10
	entrySizePFS0  = 0x18
	entrySizeHFS0  = 0x40
	dataAlignHFS0  = 0x200
)

// Kind distinguishes the two on-disk variants this package reads.
type Kind int

const (
	KindPFS0 Kind = iota
	KindHFS0
)

func (k Kind) String() string {
	if k == KindHFS0 {
		return "HFS0"
	}
	return "PFS0"
}

// Entry describes one archive member in on-disk order.
type Entry struct {
	Name             string
	Offset           int64
	Size             int64
	HashedRegionSize int64  // HFS0 only
	Hash             [32]byte // HFS0 only
}

// PartitionFS is a parsed PFS0 or HFS0 archive. Sub-sources handed out by
// Open borrow src for src's lifetime.
type PartitionFS struct {
	kind    Kind
	src     source.Source
	entries []Entry
	logger  log.Logger
}

type header struct {
	Magic       [4]byte
	EntryCount  uint32
	StringTable uint32
	Reserved    uint32
}

// Options configures Open.
type Options struct {
	Logger log.Logger
}

// Open parses src as either a PFS0 or HFS0 archive, determined by the
// on-disk magic. Both kinds are accepted; callers that need one kind
// check Kind() themselves (the nsp package only accepts "PFS0").
func Open(src source.Source, opts Options) (*PartitionFS, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop
	}

	var hdrBuf [headerSize]byte
	if err := source.ReadFull(src, hdrBuf[:], 0); err != nil {
		return nil, &nxerr.TruncatedError{What: "pfs0 header", Expected: headerSize, Actual: src.Len()}
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(hdrBuf[:]), binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}

	var kind Kind
	switch string(hdr.Magic[:]) {
	case magicPFS0:
		kind = KindPFS0
	case magicHFS0:
		kind = KindHFS0
	default:
		return nil, &nxerr.BadMagicError{Expected: magicPFS0 + " or " + magicHFS0, Got: string(hdr.Magic[:])}
	}

	entrySize := entrySizePFS0
	if kind == KindHFS0 {
		entrySize = entrySizeHFS0
	}

	entryTableLen := int64(hdr.EntryCount) * int64(entrySize)
	entryTableOff := int64(headerSize)
	stringTableOff := entryTableOff + entryTableLen
	stringTableLen := int64(hdr.StringTable)

	if stringTableOff+stringTableLen > src.Len() {
		return nil, &nxerr.TruncatedError{What: "pfs0 string table", Expected: stringTableOff + stringTableLen, Actual: src.Len()}
	}

	entryTable := make([]byte, entryTableLen)
	if entryTableLen > 0 {
		if err := source.ReadFull(src, entryTable, entryTableOff); err != nil {
			return nil, &nxerr.TruncatedError{What: "pfs0 entry table", Expected: entryTableOff + entryTableLen, Actual: src.Len()}
		}
	}

	stringTable := make([]byte, stringTableLen)
	if stringTableLen > 0 {
		if err := source.ReadFull(src, stringTable, stringTableOff); err != nil {
			return nil, &nxerr.TruncatedError{What: "pfs0 string table", Expected: stringTableOff + stringTableLen, Actual: src.Len()}
		}
	}

	dataBase := stringTableOff + stringTableLen
	if kind == KindHFS0 {
		dataBase = alignUp(dataBase, dataAlignHFS0)
	}

	entries := make([]Entry, hdr.EntryCount)
	for i := uint32(0); i < hdr.EntryCount; i++ {
		rec := entryTable[int64(i)*int64(entrySize):]
		offset := int64(binary.LittleEndian.Uint64(rec[0:8]))
		size := int64(binary.LittleEndian.Uint64(rec[8:16]))
		nameOff := binary.LittleEndian.Uint32(rec[16:20])

		name, err := readCString(stringTable, int64(nameOff))
		if err != nil {
			return nil, err
		}

		e := Entry{Name: name, Offset: dataBase + offset, Size: size}
		if kind == KindHFS0 {
			e.HashedRegionSize = int64(binary.LittleEndian.Uint32(rec[20:24]))
			copy(e.Hash[:], rec[32:64])
		}
		if e.Offset < dataBase || e.Offset+e.Size > src.Len() {
			return nil, &nxerr.TruncatedError{What: fmt.Sprintf("pfs0 entry %q", e.Name), Expected: e.Offset + e.Size, Actual: src.Len()}
		}
		entries[i] = e
		logger.Tracef("pfs0: entry %q offset=%#x size=%#x", e.Name, e.Offset, e.Size)
	}

	return &PartitionFS{kind: kind, src: src, entries: entries, logger: logger}, nil
}

func alignUp(v, align int64) int64 {
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

func readCString(table []byte, offset int64) (string, error) {
	if offset < 0 || offset > int64(len(table)) {
		return "", nxerr.ErrInvalidOffset
	}
	rest := table[offset:]
	idx := bytes.IndexByte(rest, 0)
	if idx == -1 {
		return "", nxerr.ErrNameNotNulTerminated
	}
	return string(rest[:idx]), nil
}

// Kind reports whether this archive was parsed as PFS0 or HFS0.
func (p *PartitionFS) Kind() Kind { return p.kind }

// Entries returns the archive's members in on-disk order.
func (p *PartitionFS) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Open returns a sub-source over the named entry's bytes, or
// *nxerr.NotFoundError if no entry has that name.
func (p *PartitionFS) Open(name string) (source.Source, error) {
	for _, e := range p.entries {
		if e.Name == name {
			return p.src.Sub(e.Offset, e.Size), nil
		}
	}
	return nil, &nxerr.NotFoundError{Path: name}
}

// Verify recomputes the SHA-256 of the first HashedRegionSize bytes of the
// named HFS0 entry and compares it to the stored hash. Only meaningful for
// HFS0 archives; PFS0 entries carry no hash and Verify always succeeds for
// them.
func (p *PartitionFS) Verify(name string) error {
	for _, e := range p.entries {
		if e.Name != name {
			continue
		}
		if p.kind != KindHFS0 {
			return nil
		}
		region := make([]byte, e.HashedRegionSize)
		if err := source.ReadFull(p.src, region, e.Offset); err != nil {
			return err
		}
		sum := sha256.Sum256(region)
		if !bytes.Equal(sum[:], e.Hash[:]) {
			return &nxerr.HashMismatchError{Where: fmt.Sprintf("hfs0 entry %q", name)}
		}
		return nil
	}
	return &nxerr.NotFoundError{Path: name}
}

// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package romfs reads the RomFS hierarchical filesystem embedded in NCA
// RomFs sections: hash-indexed directory and file metadata tables over a
// backing Source. Tree traversal is exposed through a Visitor interface
// with separate directory and file callbacks.
package romfs

import (
	"encoding/binary"
	"strings"

	"github.com/go-nx/nxcontent/pkg/log"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/source"
)

const (
	headerSize = 0x50
	terminator = 0xFFFFFFFF
	hashSeed   = 123456789
)

// header mirrors the header size, the four (offset, size) table pairs and
// the file-data base recorded at the start of a RomFS section.
type header struct {
	HeaderSize     int64
	DirHashOffset  int64
	DirHashSize    int64
	DirMetaOffset  int64
	DirMetaSize    int64
	FileHashOffset int64
	FileHashSize   int64
	FileMetaOffset int64
	FileMetaSize   int64
	FileDataOffset int64
}

// DirEntry is a parsed directory metadata record, keyed by its own byte
// offset into the directory metadata table.
type DirEntry struct {
	Offset              uint32
	ParentOffset        uint32
	NextSiblingOffset   uint32
	FirstChildDirOffset uint32
	FirstFileOffset     uint32
	NextHashOffset      uint32
	Name                string
}

// FileEntry is a parsed file metadata record.
type FileEntry struct {
	Offset         uint32
	ParentOffset   uint32
	NextFileOffset uint32
	DataOffset     int64
	DataSize       int64
	NextHashOffset uint32
	Name           string
}

// Handle identifies a directory or file by its table offset.
type Handle struct {
	IsDir  bool
	Offset uint32
}

// RomFS is a parsed RomFS section. Dir/file byte offsets key directly into
// dirTable/fileTable, matching the on-disk linkage fields.
type RomFS struct {
	src       source.Source
	dirHash   []uint32
	fileHash  []uint32
	dirTable  map[uint32]DirEntry
	fileTable map[uint32]FileEntry
	dataBase  int64
	logger    log.Logger
}

// Visitor receives every directory and file encountered by Walk, in
// depth-first order, along with the entry's full path.
type Visitor interface {
	VisitDir(path string, d DirEntry) error
	VisitFile(path string, f FileEntry) error
}

// Open parses src as a RomFS section.
func Open(src source.Source, logger log.Logger) (*RomFS, error) {
	if logger == nil {
		logger = log.Nop
	}

	var hdrBuf [headerSize]byte
	if err := source.ReadFull(src, hdrBuf[:], 0); err != nil {
		return nil, &nxerr.TruncatedError{What: "romfs header", Expected: headerSize, Actual: src.Len()}
	}
	h := parseHeader(hdrBuf[:])

	dirHash, err := readUint32Table(src, h.DirHashOffset, h.DirHashSize)
	if err != nil {
		return nil, err
	}
	fileHash, err := readUint32Table(src, h.FileHashOffset, h.FileHashSize)
	if err != nil {
		return nil, err
	}

	dirTable, err := readDirTable(src, h.DirMetaOffset, h.DirMetaSize)
	if err != nil {
		return nil, err
	}
	fileTable, err := readFileTable(src, h.FileMetaOffset, h.FileMetaSize, h.FileDataOffset)
	if err != nil {
		return nil, err
	}

	return &RomFS{
		src:       src,
		dirHash:   dirHash,
		fileHash:  fileHash,
		dirTable:  dirTable,
		fileTable: fileTable,
		dataBase:  h.FileDataOffset,
		logger:    logger,
	}, nil
}

func parseHeader(b []byte) header {
	u64 := func(off int) int64 { return int64(binary.LittleEndian.Uint64(b[off:])) }
	return header{
		HeaderSize:     u64(0x00),
		DirHashOffset:  u64(0x08),
		DirHashSize:    u64(0x10),
		DirMetaOffset:  u64(0x18),
		DirMetaSize:    u64(0x20),
		FileHashOffset: u64(0x28),
		FileHashSize:   u64(0x30),
		FileMetaOffset: u64(0x38),
		FileMetaSize:   u64(0x40),
		FileDataOffset: u64(0x48),
	}
}

func readUint32Table(src source.Source, offset, size int64) ([]uint32, error) {
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if err := source.ReadFull(src, buf, offset); err != nil {
		return nil, &nxerr.TruncatedError{What: "romfs hash table", Expected: offset + size, Actual: src.Len()}
	}
	out := make([]uint32, size/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out, nil
}

func readDirTable(src source.Source, offset, size int64) (map[uint32]DirEntry, error) {
	buf := make([]byte, size)
	if size > 0 {
		if err := source.ReadFull(src, buf, offset); err != nil {
			return nil, &nxerr.TruncatedError{What: "romfs directory metadata", Expected: offset + size, Actual: src.Len()}
		}
	}
	out := make(map[uint32]DirEntry)
	var pos uint32
	for int64(pos)+0x18 <= size {
		rec := buf[pos:]
		nameLen := binary.LittleEndian.Uint32(rec[0x14:0x18])
		total := 0x18 + nameLen
		if int64(pos)+int64(total) > size {
			return nil, nxerr.ErrInvalidSize
		}
		name, err := decodeName(rec[0x18:0x18+nameLen])
		if err != nil {
			return nil, err
		}
		out[pos] = DirEntry{
			Offset:              pos,
			ParentOffset:        binary.LittleEndian.Uint32(rec[0x00:0x04]),
			NextSiblingOffset:   binary.LittleEndian.Uint32(rec[0x04:0x08]),
			FirstChildDirOffset: binary.LittleEndian.Uint32(rec[0x08:0x0C]),
			FirstFileOffset:     binary.LittleEndian.Uint32(rec[0x0C:0x10]),
			NextHashOffset:      binary.LittleEndian.Uint32(rec[0x10:0x14]),
			Name:                name,
		}
		pos += alignUp32(total, 4)
	}
	return out, nil
}

func readFileTable(src source.Source, offset, size, dataBase int64) (map[uint32]FileEntry, error) {
	buf := make([]byte, size)
	if size > 0 {
		if err := source.ReadFull(src, buf, offset); err != nil {
			return nil, &nxerr.TruncatedError{What: "romfs file metadata", Expected: offset + size, Actual: src.Len()}
		}
	}
	out := make(map[uint32]FileEntry)
	var pos uint32
	for int64(pos)+0x20 <= size {
		rec := buf[pos:]
		nameLen := binary.LittleEndian.Uint32(rec[0x1C:0x20])
		total := 0x20 + nameLen
		if int64(pos)+int64(total) > size {
			return nil, nxerr.ErrInvalidSize
		}
		name, err := decodeName(rec[0x20:0x20+nameLen])
		if err != nil {
			return nil, err
		}
		dataOffset := int64(binary.LittleEndian.Uint64(rec[0x08:0x10]))
		dataSize := int64(binary.LittleEndian.Uint64(rec[0x10:0x18]))
		out[pos] = FileEntry{
			Offset:         pos,
			ParentOffset:   binary.LittleEndian.Uint32(rec[0x00:0x04]),
			NextFileOffset: binary.LittleEndian.Uint32(rec[0x04:0x08]),
			DataOffset:     dataBase + dataOffset,
			DataSize:       dataSize,
			NextHashOffset: binary.LittleEndian.Uint32(rec[0x18:0x1C]),
			Name:           name,
		}
		pos += alignUp32(total, 4)
	}
	return out, nil
}

func decodeName(b []byte) (string, error) {
	// Names are UTF-8, zero-padded to a 4-byte boundary; trim trailing NULs.
	return strings.TrimRight(string(b), "\x00"), nil
}

func alignUp32(v uint32, align uint32) uint32 {
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

// nameHash: h starts at 123456789, then folds in the parent directory
// offset, the name length, and each name byte with a rotate-xor step.
func nameHash(parentOffset uint32, name string) uint32 {
	h := uint32(hashSeed)
	fold := func(b byte) {
		h = ((h >> 5) | (h << 27)) ^ uint32(b)
	}
	var parentBuf [4]byte
	binary.LittleEndian.PutUint32(parentBuf[:], parentOffset)
	for _, b := range parentBuf {
		fold(b)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(name)))
	for _, b := range lenBuf {
		fold(b)
	}
	for i := 0; i < len(name); i++ {
		fold(name[i])
	}
	return h
}

// Root returns the handle for the root directory (offset 0).
func (r *RomFS) Root() Handle { return Handle{IsDir: true, Offset: 0} }

// List returns d's direct subdirectories and files, in on-disk sibling
// order.
func (r *RomFS) List(d Handle) ([]DirEntry, []FileEntry, error) {
	dir, ok := r.dirTable[d.Offset]
	if !ok {
		return nil, nil, nxerr.ErrInvalidOffset
	}

	var dirs []DirEntry
	seen := make(map[uint32]bool)
	for off := dir.FirstChildDirOffset; off != terminator; {
		if seen[off] {
			return nil, nil, nxerr.ErrHashChainCycle
		}
		seen[off] = true
		child, ok := r.dirTable[off]
		if !ok {
			return nil, nil, nxerr.ErrInvalidOffset
		}
		dirs = append(dirs, child)
		off = child.NextSiblingOffset
		if len(seen) > len(r.dirTable)+1 {
			return nil, nil, nxerr.ErrHashChainCycle
		}
	}

	var files []FileEntry
	seenF := make(map[uint32]bool)
	for off := dir.FirstFileOffset; off != terminator; {
		if seenF[off] {
			return nil, nil, nxerr.ErrHashChainCycle
		}
		seenF[off] = true
		f, ok := r.fileTable[off]
		if !ok {
			return nil, nil, nxerr.ErrInvalidOffset
		}
		files = append(files, f)
		off = f.NextFileOffset
		if len(seenF) > len(r.fileTable)+1 {
			return nil, nil, nxerr.ErrHashChainCycle
		}
	}

	return dirs, files, nil
}

// lookupChildDir resolves a single path component under parent via the
// hash table, verifying parent-offset and name equality to defend against
// collisions. The chain walk is bounded by the table's total entry count
// so a corrupt next_hash_collision cycle terminates with an error.
func (r *RomFS) lookupChildDir(parentOffset uint32, name string) (DirEntry, bool, error) {
	if len(r.dirHash) == 0 {
		return DirEntry{}, false, nil
	}
	bucket := nameHash(parentOffset, name) % uint32(len(r.dirHash))
	steps := 0
	for off := r.dirHash[bucket]; off != terminator; {
		if steps > len(r.dirTable) {
			return DirEntry{}, false, nxerr.ErrHashChainCycle
		}
		steps++
		d, ok := r.dirTable[off]
		if !ok {
			return DirEntry{}, false, nil
		}
		if d.ParentOffset == parentOffset && d.Name == name {
			return d, true, nil
		}
		off = d.NextHashOffset
	}
	return DirEntry{}, false, nil
}

func (r *RomFS) lookupChildFile(parentOffset uint32, name string) (FileEntry, bool, error) {
	if len(r.fileHash) == 0 {
		return FileEntry{}, false, nil
	}
	bucket := nameHash(parentOffset, name) % uint32(len(r.fileHash))
	steps := 0
	for off := r.fileHash[bucket]; off != terminator; {
		if steps > len(r.fileTable) {
			return FileEntry{}, false, nxerr.ErrHashChainCycle
		}
		steps++
		f, ok := r.fileTable[off]
		if !ok {
			return FileEntry{}, false, nil
		}
		if f.ParentOffset == parentOffset && f.Name == name {
			return f, true, nil
		}
		off = f.NextHashOffset
	}
	return FileEntry{}, false, nil
}

// Lookup resolves an absolute path (or "" / "/") to a handle, applying
// textual "." and ".." resolution before any table walk.
func (r *RomFS) Lookup(path string) (Handle, error) {
	parts, err := splitPath(path)
	if err != nil {
		return Handle{}, err
	}
	cur := Handle{IsDir: true, Offset: 0}
	for _, part := range parts {
		if !cur.IsDir {
			return Handle{}, nxerr.ErrNotADirectory
		}
		d, ok, err := r.lookupChildDir(cur.Offset, part)
		if err != nil {
			return Handle{}, err
		}
		if ok {
			cur = Handle{IsDir: true, Offset: d.Offset}
			continue
		}
		f, ok, err := r.lookupChildFile(cur.Offset, part)
		if err != nil {
			return Handle{}, err
		}
		if ok {
			cur = Handle{IsDir: false, Offset: f.Offset}
			continue
		}
		return Handle{}, &nxerr.NotFoundError{Path: path}
	}
	return cur, nil
}

// splitPath resolves "." and ".." textually and drops empty components
// (leading "/", trailing "/", repeated "/").
func splitPath(path string) ([]string, error) {
	raw := strings.Split(path, "/")
	var out []string
	for _, p := range raw {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, p)
		}
	}
	return out, nil
}

// Open returns a sub-source over a file handle's data.
func (r *RomFS) Open(h Handle) (source.Source, error) {
	if h.IsDir {
		return nil, nxerr.ErrNotAFile
	}
	f, ok := r.fileTable[h.Offset]
	if !ok {
		return nil, nxerr.ErrInvalidOffset
	}
	return r.src.Sub(f.DataOffset, f.DataSize), nil
}

// DirEntryAt and FileEntryAt expose the raw metadata record for a handle,
// for callers that need fields beyond what List/Lookup returns.
func (r *RomFS) DirEntryAt(offset uint32) (DirEntry, bool) {
	d, ok := r.dirTable[offset]
	return d, ok
}

func (r *RomFS) FileEntryAt(offset uint32) (FileEntry, bool) {
	f, ok := r.fileTable[offset]
	return f, ok
}

// Walk visits every directory and file depth-first starting at root,
// yielding full slash-separated paths. Traversal is bounded by the total
// entry count to guarantee termination even over a corrupt hash/sibling
// chain.
func (r *RomFS) Walk(v Visitor) error {
	root, ok := r.dirTable[0]
	if !ok {
		return nxerr.ErrInvalidOffset
	}
	budget := len(r.dirTable) + len(r.fileTable) + 1
	return r.walk("/", root, v, &budget)
}

// walk visits d, whose own full path is path, then recurses into its
// children. path is always the complete path of d itself (not a prefix),
// so the root call passes "/" directly instead of deriving it from an
// empty prefix — which would be indistinguishable from a direct child of
// root also receiving an empty prefix.
func (r *RomFS) walk(path string, d DirEntry, v Visitor, budget *int) error {
	if *budget <= 0 {
		return nxerr.ErrHashChainCycle
	}
	*budget--
	if err := v.VisitDir(path, d); err != nil {
		return err
	}

	dirs, files, err := r.List(Handle{IsDir: true, Offset: d.Offset})
	if err != nil {
		return err
	}
	for _, child := range dirs {
		childPath := path + child.Name
		if path != "/" {
			childPath = path + "/" + child.Name
		}
		if err := r.walk(childPath, child, v, budget); err != nil {
			return err
		}
	}
	for _, f := range files {
		if *budget <= 0 {
			return nxerr.ErrHashChainCycle
		}
		*budget--
		filePath := path
		if filePath != "/" {
			filePath += "/"
		}
		filePath += f.Name
		if err := v.VisitFile(filePath, f); err != nil {
			return err
		}
	}
	return nil
}

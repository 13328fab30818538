// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nca parses Nintendo Content Archives: header decryption, the
// fixed header and four FsHeaders, key-area/title-key resolution, and
// per-section reader construction dispatching on encryption and
// filesystem type. Parsing decodes a fixed header, validates it, then
// builds typed child readers over sub-windows of the backing source.
package nca

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/go-nx/nxcontent/pkg/crypto"
	"github.com/go-nx/nxcontent/pkg/id"
	"github.com/go-nx/nxcontent/pkg/keyset"
	"github.com/go-nx/nxcontent/pkg/log"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/pfs0"
	"github.com/go-nx/nxcontent/pkg/romfs"
	"github.com/go-nx/nxcontent/pkg/source"
	"github.com/hashicorp/go-multierror"
)

const (
	headerTotalSize = 0xC00
	fixedHeaderSize = 0x400
	fsHeaderSize    = 0x200
	fsHeaderCount   = 4
	blockSize       = 0x200

	offMagic            = 0x200
	offDistributionType = 0x204
	offContentType      = 0x205
	offKeyGenerationOld = 0x206
	offKeyAreaKeyIndex  = 0x207
	offContentSize      = 0x208
	offProgramID        = 0x210
	offContentIndex     = 0x218
	offSDKVersion       = 0x21C
	offKeyGeneration    = 0x220
	offRightsID         = 0x230
	offFsEntries        = 0x240
	offFsHeaderHashes   = 0x280
	offEncryptedKeyArea = 0x300

	magicNCA3 = "NCA3"
)

// DistributionType distinguishes retail-card vs download content.
type DistributionType uint8

// ContentType categorizes what an NCA's sections contain.
type ContentType uint8

const (
	ContentTypeProgram ContentType = iota
	ContentTypeMeta
	ContentTypeControl
	ContentTypeManual
	ContentTypeData
	ContentTypePublicData
)

// FsEntry is one of the four section extents, in 0x200-byte blocks.
type FsEntry struct {
	StartBlock uint32
	EndBlock   uint32
}

func (e FsEntry) empty() bool { return e.StartBlock == 0 && e.EndBlock == 0 }

func (e FsEntry) byteRange() (start, length int64) {
	start = int64(e.StartBlock) * blockSize
	length = (int64(e.EndBlock) - int64(e.StartBlock)) * blockSize
	return
}

// Header is the immutable, decrypted fixed header (copied out for callers).
type Header struct {
	DistributionType DistributionType
	ContentType      ContentType
	KeyGenerationOld uint8
	KeyGeneration    uint8
	KeyAreaKeyIndex  uint8
	ContentSize      uint64
	ProgramID        id.ProgramID
	ContentIndex     uint32
	SDKVersion       uint32
	RightsID         id.RightsID
	FsEntries        [4]FsEntry
	FsHeaderHashes   [4][32]byte
	EncryptedKeyArea [4]id.Key16
}

// EffectiveGeneration applies the key-generation decoding rule to this
// header's two generation fields.
func (h Header) EffectiveGeneration() int {
	return keyset.EffectiveGeneration(h.KeyGenerationOld, h.KeyGeneration)
}

// EncryptionType selects a section body's cipher.
type EncryptionType uint8

const (
	EncryptionNone EncryptionType = iota
	EncryptionAesXts
	EncryptionAesCtr
	EncryptionAesCtrEx
)

// HashType selects a section's integrity scheme (read-through only: this
// package verifies the FsHeader hash itself but does not verify
// HierarchicalSha256/HierarchicalIntegrity block hashes).
type HashType uint8

const (
	HashNone HashType = iota
	HashHierarchicalSha256
	HashHierarchicalIntegrity
)

// FsType selects which filesystem a section's decrypted bytes hold.
type FsType uint8

const (
	FsTypeRomFs FsType = iota
	FsTypePartitionFs
)

// FsHeader is a parsed per-section header.
type FsHeader struct {
	Version        uint16
	FsType         FsType
	HashType       HashType
	EncryptionType EncryptionType
	Generation     uint32
	SecureValue    uint32
	Raw            [fsHeaderSize]byte

	// Presence flags for regions this package reads through but does not
	// interpret; surfaced as warnings rather than failures.
	HasPatchInfo       bool
	HasSparseInfo      bool
	HasCompressionInfo bool
}

const (
	fsHdrOffVersion    = 0x00
	fsHdrOffFsType     = 0x02
	fsHdrOffHashType   = 0x03
	fsHdrOffEncryption = 0x04
	fsHdrOffHashData   = 0x08
	fsHdrOffPatchInfo  = 0x100
	fsHdrPatchInfoSize = 0x40
	fsHdrOffGeneration = 0x140
	fsHdrOffSecure     = 0x144
	fsHdrOffSparse     = 0x148
	fsHdrSparseSize    = 0x30
	fsHdrOffCompress   = 0x178
	fsHdrCompressSize  = 0x28
)

func parseFsHeader(raw []byte) FsHeader {
	var h FsHeader
	copy(h.Raw[:], raw)
	h.Version = binary.LittleEndian.Uint16(raw[fsHdrOffVersion:])
	h.FsType = FsType(raw[fsHdrOffFsType])
	h.HashType = HashType(raw[fsHdrOffHashType])
	h.EncryptionType = EncryptionType(raw[fsHdrOffEncryption])
	h.Generation = binary.LittleEndian.Uint32(raw[fsHdrOffGeneration:])
	h.SecureValue = binary.LittleEndian.Uint32(raw[fsHdrOffSecure:])
	h.HasPatchInfo = anyNonZero(raw[fsHdrOffPatchInfo : fsHdrOffPatchInfo+fsHdrPatchInfoSize])
	h.HasSparseInfo = anyNonZero(raw[fsHdrOffSparse : fsHdrOffSparse+fsHdrSparseSize])
	h.HasCompressionInfo = anyNonZero(raw[fsHdrOffCompress : fsHdrOffCompress+fsHdrCompressSize])
	return h
}

func anyNonZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return true
		}
	}
	return false
}

// TitleKeyStore resolves a 16-byte title key by RightsId, for NCAs in
// title-key mode (non-zero RightsId). The library carries no key-file
// discovery of its own; the caller supplies the store.
type TitleKeyStore interface {
	TitleKey(rightsID id.RightsID) (id.Key16, bool)
}

// Options configures Open.
type Options struct {
	Logger        log.Logger
	TitleKeyStore TitleKeyStore
	// Strict makes any FsHeader hash mismatch fatal. In non-strict mode
	// (the default) mismatches are collected in Warnings and the section
	// is still parsed.
	Strict bool
}

// SectionKind identifies what an opened section contains.
type SectionKind int

const (
	SectionRaw SectionKind = iota
	SectionPartitionFs
	SectionRomFs
)

// Section is one opened NCA section: its decrypted byte source plus,
// when recognized, a typed filesystem handle.
type Section struct {
	Index       int
	Header      FsHeader
	Kind        SectionKind
	Source      source.Source
	PartitionFs *pfs0.PartitionFS
	RomFs       *romfs.RomFS
}

// NCA is a parsed Nintendo Content Archive.
type NCA struct {
	header   Header
	sections []Section
	// Warnings aggregates non-fatal integrity/unsupported-feature findings
	// encountered during Open (hash mismatches in non-strict mode,
	// sparse/compressed/patched sections left undecoded).
	Warnings *multierror.Error
}

// Header returns a copy of the parsed fixed header.
func (n *NCA) Header() Header { return n.header }

// Sections returns every populated section, in FsEntry order.
func (n *NCA) Sections() []Section { return n.sections }

// Open decrypts and parses src as an NCA.
func Open(src source.Source, ks *keyset.Keyset, opts Options) (*NCA, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop
	}

	rawHeader := make([]byte, headerTotalSize)
	if err := source.ReadFull(src, rawHeader, 0); err != nil {
		return nil, &nxerr.TruncatedError{What: "nca header", Expected: headerTotalSize, Actual: src.Len()}
	}

	headerKey, err := ks.HeaderKey()
	if err != nil {
		return nil, err
	}
	plain, err := crypto.DecryptHeaderXTS(rawHeader, headerKey, 0)
	if err != nil {
		return nil, err
	}

	if string(plain[offMagic:offMagic+4]) != magicNCA3 {
		return nil, nxerr.ErrUnsupportedVersion
	}

	h := parseFixedHeader(plain)
	logger.Tracef("nca: program_id=%s content_type=%d effective_gen=%d", h.ProgramID, h.ContentType, h.EffectiveGeneration())

	sectionKey, warnings, err := resolveSectionKey(h, ks, opts)
	if err != nil {
		return nil, err
	}

	n := &NCA{header: h, Warnings: warnings}

	for i, entry := range h.FsEntries {
		if entry.empty() {
			continue
		}
		fsHeaderOffset := fixedHeaderSize + i*fsHeaderSize
		rawFsHeader := plain[fsHeaderOffset : fsHeaderOffset+fsHeaderSize]

		sum := sha256.Sum256(rawFsHeader)
		if sum != h.FsHeaderHashes[i] {
			mismatch := &nxerr.HashMismatchError{Where: fmt.Sprintf("fs_header[%d]", i)}
			if opts.Strict {
				return nil, mismatch
			}
			n.Warnings = multierror.Append(n.Warnings, mismatch)
		}

		fsHeader := parseFsHeader(rawFsHeader)
		start, length := entry.byteRange()
		cipherSection := src.Sub(start, length)

		section, err := buildSection(i, fsHeader, cipherSection, start, sectionKey, logger, n)
		if err != nil {
			return nil, err
		}
		n.sections = append(n.sections, section)
	}

	return n, nil
}

func parseFixedHeader(plain []byte) Header {
	var h Header
	h.DistributionType = DistributionType(plain[offDistributionType])
	h.ContentType = ContentType(plain[offContentType])
	h.KeyGenerationOld = plain[offKeyGenerationOld]
	h.KeyAreaKeyIndex = plain[offKeyAreaKeyIndex]
	h.ContentSize = binary.LittleEndian.Uint64(plain[offContentSize:])
	copy(h.ProgramID[:], plain[offProgramID:offProgramID+8])
	h.ContentIndex = binary.LittleEndian.Uint32(plain[offContentIndex:])
	h.SDKVersion = binary.LittleEndian.Uint32(plain[offSDKVersion:])
	h.KeyGeneration = plain[offKeyGeneration]
	copy(h.RightsID[:], plain[offRightsID:offRightsID+16])

	for i := 0; i < fsHeaderCount; i++ {
		rec := plain[offFsEntries+i*0x10:]
		h.FsEntries[i] = FsEntry{
			StartBlock: binary.LittleEndian.Uint32(rec[0:4]),
			EndBlock:   binary.LittleEndian.Uint32(rec[4:8]),
		}
		copy(h.FsHeaderHashes[i][:], plain[offFsHeaderHashes+i*32:offFsHeaderHashes+i*32+32])
		copy(h.EncryptedKeyArea[i][:], plain[offEncryptedKeyArea+i*16:offEncryptedKeyArea+i*16+16])
	}
	return h
}

// resolveSectionKey: rights-id-zero NCAs unwrap their own key area;
// title-key-mode NCAs resolve a single shared key via the caller's
// TitleKeyStore.
func resolveSectionKey(h Header, ks *keyset.Keyset, opts Options) ([4]id.Key16, *multierror.Error, error) {
	var keys [4]id.Key16
	var warnings *multierror.Error

	gen := h.EffectiveGeneration()
	if h.RightsID.IsZero() {
		family := keyAreaFamily(h.KeyAreaKeyIndex)
		kak, err := ks.DeriveKeyAreaKey(gen, family)
		if err != nil {
			return keys, warnings, err
		}
		for i, enc := range h.EncryptedKeyArea {
			dec, err := crypto.DecryptECB(enc[:], kak)
			if err != nil {
				return keys, warnings, err
			}
			copy(keys[i][:], dec)
		}
		return keys, warnings, nil
	}

	if opts.TitleKeyStore == nil {
		return keys, warnings, &nxerr.MissingTitleKeyError{RightsID: h.RightsID.String()}
	}
	titleKeyEnc, ok := opts.TitleKeyStore.TitleKey(h.RightsID)
	if !ok {
		return keys, warnings, &nxerr.MissingTitleKeyError{RightsID: h.RightsID.String()}
	}
	titlekek, err := ks.DeriveTitleKek(gen)
	if err != nil {
		return keys, warnings, err
	}
	dec, err := crypto.DecryptECB(titleKeyEnc[:], titlekek)
	if err != nil {
		return keys, warnings, err
	}
	var shared id.Key16
	copy(shared[:], dec)
	for i := range keys {
		keys[i] = shared
	}
	return keys, warnings, nil
}

func keyAreaFamily(index uint8) keyset.KeyAreaFamily {
	switch index {
	case 1:
		return keyset.KeyAreaOcean
	case 2:
		return keyset.KeyAreaSystem
	default:
		return keyset.KeyAreaApplication
	}
}

// buildSection constructs one section reader: decrypt per EncryptionType,
// then wrap as PartitionFs or RomFs per FsType.
func buildSection(index int, fh FsHeader, cipherSection source.Source, sectionAbsOffset int64, keys [4]id.Key16, logger log.Logger, n *NCA) (Section, error) {
	if fh.HasSparseInfo {
		n.Warnings = multierror.Append(n.Warnings, fmt.Errorf("section %d: %w", index, nxerr.ErrSparseSectionUnsup))
	}
	if fh.HasCompressionInfo {
		n.Warnings = multierror.Append(n.Warnings, fmt.Errorf("section %d: %w", index, nxerr.ErrCompressedSectionUnsup))
	}

	var body source.Source
	key := keys[index]
	switch fh.EncryptionType {
	case EncryptionNone:
		body = cipherSection
	case EncryptionAesXts:
		var xtsKey id.Key32
		copy(xtsKey[:16], key[:])
		copy(xtsKey[16:], key[:])
		body = crypto.NewXTSSource(cipherSection, xtsKey)
	case EncryptionAesCtr:
		counterHi := uint64(fh.SecureValue)<<32 | uint64(fh.Generation)
		body = crypto.NewCTRSource(cipherSection, key, counterHi, sectionAbsOffset)
	case EncryptionAesCtrEx:
		if fh.HasPatchInfo {
			n.Warnings = multierror.Append(n.Warnings, fmt.Errorf("section %d: %w", index, nxerr.ErrPatchedSectionUnsup))
		}
		body = crypto.NewCTRExSource(cipherSection.Len())
	default:
		// 5 and 6 are AesCtrSkipLayerHash / AesCtrExSkipLayerHash, whose
		// exact semantics are unresolved; refuse rather than guess.
		return Section{}, fmt.Errorf("section %d: encryption type %d: %w", index, fh.EncryptionType, nxerr.ErrUnsupportedVersion)
	}

	section := Section{Index: index, Header: fh, Source: body}

	switch fh.FsType {
	case FsTypePartitionFs:
		pf, err := pfs0.Open(body, pfs0.Options{Logger: logger})
		if err != nil {
			return section, err
		}
		section.Kind = SectionPartitionFs
		section.PartitionFs = pf
	case FsTypeRomFs:
		rf, err := romfs.Open(body, logger)
		if err != nil {
			return section, err
		}
		section.Kind = SectionRomFs
		section.RomFs = rf
	default:
		section.Kind = SectionRaw
	}

	return section, nil
}

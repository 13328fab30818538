// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/aes"

	"github.com/go-nx/nxcontent/pkg/id"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/source"
)

// CTRSource decrypts an AES-CTR NCA section on demand, re-seeking at block
// granularity on every read: no cipher.Stream is retained between calls,
// so a *CTRSource is safe to read from multiple goroutines as long as the
// underlying ciphertext source is.
type CTRSource struct {
	cipher        source.Source // ciphertext, windowed to exactly the section's bytes
	key           id.Key16
	counterHi     uint64 // high 8 bytes of the initial counter (SecureValue:Generation)
	sectionOffset int64  // absolute NCA byte offset of this section's start
}

// NewCTRSource wraps cipherSection (the section's ciphertext, already
// windowed to [sectionStart, sectionStart+sectionLength) of the NCA) for
// AES-CTR decryption. sectionAbsOffset is the section's absolute byte
// offset within the NCA, needed because the counter is seeded from the
// absolute offset, not from the section-relative offset alone.
func NewCTRSource(cipherSection source.Source, key id.Key16, counterHi uint64, sectionAbsOffset int64) *CTRSource {
	return &CTRSource{cipher: cipherSection, key: key, counterHi: counterHi, sectionOffset: sectionAbsOffset}
}

// Len implements source.Source.
func (c *CTRSource) Len() int64 { return c.cipher.Len() }

// Sub implements source.Source.
func (c *CTRSource) Sub(offset, length int64) source.Source {
	return source.NewWindow(c, offset, length)
}

// ReadAt implements source.Source: align the read down to a 16-byte
// boundary, decrypt the aligned span with a counter derived from the
// absolute NCA offset, then slice off the requested bytes.
func (c *CTRSource) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, nil
	}
	abs := c.sectionOffset + offset
	alignedStart := abs &^ 0xF
	skip := int(abs - alignedStart)

	want := len(buf)
	if want == 0 {
		return 0, nil
	}
	alignedEnd := (abs + int64(want) + 0xF) &^ 0xF
	spanLen := alignedEnd - alignedStart

	ciphertext := make([]byte, spanLen)
	n, err := c.cipher.ReadAt(ciphertext, offset-int64(skip))
	if err != nil {
		return 0, err
	}
	ciphertext = ciphertext[:n]
	if len(ciphertext) <= skip {
		return 0, nil
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return 0, err
	}

	plain := make([]byte, len(ciphertext))
	counter := initialCounter(c.counterHi, uint64(alignedStart)/16)
	blocks := (len(ciphertext) + 15) / 16
	for b := 0; b < blocks; b++ {
		start := b * 16
		end := start + 16
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		var ks [16]byte
		block.Encrypt(ks[:], counter[:])
		for i := start; i < end; i++ {
			plain[i] = ciphertext[i] ^ ks[i-start]
		}
		incrementCounterBE(&counter)
	}

	if skip >= len(plain) {
		return 0, nil
	}
	return copy(buf, plain[skip:]), nil
}

// initialCounter builds the 16-byte AES-CTR counter: high 8 bytes are the
// FsHeader's SecureValue:Generation pair, low 8 bytes are the block index
// of the absolute NCA byte offset (offset / 16), both big-endian.
func initialCounter(hi uint64, blockIndex uint64) [16]byte {
	var ctr [16]byte
	putUint64BE(ctr[0:8], hi)
	putUint64BE(ctr[8:16], blockIndex)
	return ctr
}

func incrementCounterBE(ctr *[16]byte) {
	for i := 15; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			return
		}
	}
}

// CTRExSource represents an AesCtrEx (update/patch RomFS) section.
// Resolving the effective counter requires walking the PatchInfo bucket
// tree, which this module doesn't implement; reads report
// PatchedSectionNotSupported instead of silently returning wrong bytes.
type CTRExSource struct {
	length int64
}

// NewCTRExSource returns a placeholder section reader of the given length
// that always fails on read.
func NewCTRExSource(length int64) *CTRExSource { return &CTRExSource{length: length} }

func (c *CTRExSource) Len() int64 { return c.length }

func (c *CTRExSource) Sub(offset, length int64) source.Source {
	return source.NewWindow(c, offset, length)
}

func (c *CTRExSource) ReadAt(buf []byte, offset int64) (int, error) {
	return 0, nxerr.ErrPatchedSectionUnsup
}

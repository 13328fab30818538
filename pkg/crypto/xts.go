// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crypto implements the NCA container's cipher layers: the
// reversed-tweak AES-XTS used for the 0xC00-byte header, the AES-CTR
// stream used for section bodies, and the AES-ECB routine used to unwrap
// the key area / title keys. Nintendo's XTS tweak is non-standard, so the
// sector routine is hand-built on crypto/aes + crypto/cipher instead of a
// stock implementation.
package crypto

import (
	"crypto/aes"
	"fmt"

	"github.com/go-nx/nxcontent/pkg/id"
)

// SectorSize is the AES-XTS sector size used for the NCA header.
const SectorSize = 0x200

// DecryptHeaderXTS decrypts data (which must be a multiple of SectorSize),
// sector numbers starting at startSector. NCA header decryption calls this
// with startSector=0 on the 0xC00 header bytes.
func DecryptHeaderXTS(data []byte, key id.Key32, startSector uint64) ([]byte, error) {
	if len(data)%SectorSize != 0 {
		return nil, fmt.Errorf("crypto: header XTS input length %d is not a multiple of %d", len(data), SectorSize)
	}
	enc1, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, err
	}
	enc2, err := aes.NewCipher(key[16:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	sectors := len(data) / SectorSize
	for s := 0; s < sectors; s++ {
		sector := data[s*SectorSize : (s+1)*SectorSize]
		decryptSectorXTS(out[s*SectorSize:(s+1)*SectorSize], sector, enc1, enc2, startSector+uint64(s))
	}
	return out, nil
}

// decryptSectorXTS decrypts exactly one SectorSize-byte sector. The tweak
// seed is the big-endian encoding of the sector index — reversed relative
// to the IEEE P1619 standard, which encodes it little-endian. Everything
// past the seed (the per-block GF(2^128) doubling) follows the standard.
func decryptSectorXTS(dst, src []byte, dataCipher, tweakCipher cipherBlock, sector uint64) {
	var tweakPlain [16]byte
	putUint64BE(tweakPlain[8:16], sector)
	var tweak [16]byte
	tweakCipher.Encrypt(tweak[:], tweakPlain[:])

	blocks := len(src) / 16
	for b := 0; b < blocks; b++ {
		blk := src[b*16 : (b+1)*16]
		dblk := dst[b*16 : (b+1)*16]

		var xored [16]byte
		xorBytes(xored[:], blk, tweak[:])
		dataCipher.Decrypt(dblk, xored[:])
		xorBytesInPlace(dblk, tweak[:])

		mulAlphaGF128(&tweak)
	}
}

// cipherBlock is the subset of cipher.Block DecryptHeaderXTS needs; kept
// as its own interface so tests can substitute a fake cipher.
type cipherBlock interface {
	Encrypt(dst, src []byte)
	Decrypt(dst, src []byte)
}

func putUint64BE(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

func xorBytes(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

func xorBytesInPlace(dst, b []byte) {
	for i := range dst {
		dst[i] ^= b[i]
	}
}

// mulAlphaGF128 doubles tweak in GF(2^128) per the XTS standard (bytes
// interpreted little-endian, reduction polynomial x^128+x^7+x^2+x+1).
func mulAlphaGF128(tweak *[16]byte) {
	var carry byte
	for i := 0; i < 16; i++ {
		b := tweak[i]
		tweak[i] = (b << 1) | carry
		carry = b >> 7
	}
	if carry != 0 {
		tweak[0] ^= 0x87
	}
}

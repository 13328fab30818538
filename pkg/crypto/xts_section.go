// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"github.com/go-nx/nxcontent/pkg/id"
	"github.com/go-nx/nxcontent/pkg/source"
)

// XTSSource decrypts an AesXts NCA section body on demand: sector size
// SectorSize, sector 0 at the section's own base (not the NCA's), so
// section-relative offset alone determines the sector index.
type XTSSource struct {
	cipher source.Source
	key    id.Key32
}

// NewXTSSource wraps cipherSection (already windowed to the section's
// bytes) for AES-XTS decryption keyed by the section's 32-byte key pair.
func NewXTSSource(cipherSection source.Source, key id.Key32) *XTSSource {
	return &XTSSource{cipher: cipherSection, key: key}
}

func (x *XTSSource) Len() int64 { return x.cipher.Len() }

func (x *XTSSource) Sub(offset, length int64) source.Source {
	return source.NewWindow(x, offset, length)
}

func (x *XTSSource) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || len(buf) == 0 {
		return 0, nil
	}
	alignedStart := offset &^ (SectorSize - 1)
	skip := int(offset - alignedStart)
	alignedEnd := (offset + int64(len(buf)) + SectorSize - 1) &^ (SectorSize - 1)
	spanLen := alignedEnd - alignedStart

	ciphertext := make([]byte, spanLen)
	n, err := x.cipher.ReadAt(ciphertext, alignedStart)
	if err != nil {
		return 0, err
	}
	ciphertext = ciphertext[:n]
	if len(ciphertext) <= skip {
		return 0, nil
	}
	// Only whole sectors can be decrypted; trim to a sector boundary.
	wholeSectors := (len(ciphertext) / SectorSize) * SectorSize
	if wholeSectors == 0 {
		return 0, nil
	}
	ciphertext = ciphertext[:wholeSectors]

	plain, err := DecryptHeaderXTSAt(ciphertext, x.key, uint64(alignedStart)/SectorSize)
	if err != nil {
		return 0, err
	}
	if skip >= len(plain) {
		return 0, nil
	}
	return copy(buf, plain[skip:]), nil
}

// DecryptHeaderXTSAt is the same operation as DecryptHeaderXTS (which
// already takes the starting sector index). XTSSource uses it for AesXts
// section bodies (sector 0 at the section's own base); NCA header
// decryption calls DecryptHeaderXTS directly.
func DecryptHeaderXTSAt(data []byte, key id.Key32, startSector uint64) ([]byte, error) {
	return DecryptHeaderXTS(data, key, startSector)
}

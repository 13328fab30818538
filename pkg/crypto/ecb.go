// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"fmt"

	"github.com/go-nx/nxcontent/pkg/id"
)

// DecryptECB decrypts data (a multiple of 16 bytes) with AES in ECB mode:
// each block decrypted independently, no chaining. Used to unwrap the
// NCA's 0x40-byte encrypted key area and to unwrap a title key with
// titlekek — both are single/double-block operations where CBC/CTR would
// be overkill and Nintendo's own tooling uses bare ECB.
func DecryptECB(data []byte, key id.Key16) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("crypto: ECB input length must be a multiple of 16 bytes, got %d", len(data))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += 16 {
		block.Decrypt(out[i:i+16], data[i:i+16])
	}
	return out, nil
}

// EncryptECB is DecryptECB's inverse; kept for symmetry and for tests that
// construct synthetic encrypted key areas.
func EncryptECB(data []byte, key id.Key16) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("crypto: ECB input length must be a multiple of 16 bytes, got %d", len(data))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += 16 {
		block.Encrypt(out[i:i+16], data[i:i+16])
	}
	return out, nil
}

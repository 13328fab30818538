// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package id implements the fixed-width binary identifiers used throughout
// the container formats here: RightsId, ProgramId, ContentId and the
// 16-byte key-area/title keys. Identifiers print as a flat big-endian hex
// string, with no GUID-style field reversal.
package id

import (
	"encoding/hex"
	"fmt"
)

// Size is the number of bytes in every identifier in this package.
const Size = 16

// ID is a 16-byte identifier: a RightsId, ProgramId, ContentId or a raw
// 16-byte key.
type ID [Size]byte

// Parse decodes a hex string (32 hex digits, case-insensitive) into an ID.
func Parse(s string) (ID, error) {
	var out ID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("id: %q is not valid hex: %w", s, err)
	}
	if len(decoded) != Size {
		return out, fmt.Errorf("id: %q must decode to %d bytes, got %d", s, Size, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// MustParse is Parse but panics on error; for use with literal constants.
func MustParse(s string) ID {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the identifier as lowercase hex, the form used in
// keyset/titlekey lookups and log output.
func (i ID) String() string {
	return hex.EncodeToString(i[:])
}

// IsZero reports whether every byte of the identifier is zero, the
// convention NCA headers use to mean "no RightsId / standard crypto".
func (i ID) IsZero() bool {
	for _, b := range i {
		if b != 0 {
			return false
		}
	}
	return true
}

// RightsID identifies the external title key needed to decrypt a
// title-key-crypto NCA.
type RightsID = ID

// ProgramID identifies the title a content archive belongs to.
type ProgramID = ID

// ContentID identifies a single NCA file within a title.
type ContentID = ID

// Key16 is a raw 16-byte AES key, distinguished from ID only by usage.
type Key16 [16]byte

// Key32 is a raw 32-byte key, used for the NCA header key and AES-XTS
// section keys, which are two concatenated Key16 values.
type Key32 [32]byte

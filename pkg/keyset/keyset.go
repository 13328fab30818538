// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keyset implements the named-key registry used to decrypt NCA
// headers, key areas and title keys. A Keyset is a value: once built it is
// read-only and safe to share across goroutines.
package keyset

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/go-nx/nxcontent/pkg/id"
	"github.com/go-nx/nxcontent/pkg/log"
	"github.com/go-nx/nxcontent/pkg/nxerr"
)

// Keyset maps key names to 16-byte keys.
type Keyset struct {
	keys map[string]id.Key16
}

// New returns an empty Keyset, ready for Put or LoadFromText.
func New() *Keyset {
	return &Keyset{keys: make(map[string]id.Key16)}
}

// ParseError reports a malformed line from a keyset text file.
type ParseError struct {
	Line    int
	Text    string
	Problem string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("keyset: line %d: %s: %q", e.Line, e.Problem, e.Text)
}

// Options controls LoadFromText's tolerance for unrecognized input.
type Options struct {
	// Strict makes a line without the "name = hex" shape a *ParseError
	// instead of a line that is skipped with a warning. Key names are not
	// checked against any list of known names, in either mode.
	Strict bool
	Logger log.Logger
}

// LoadFromText parses "name = hexbytes" lines (case-insensitive names,
// '#' comments, blank lines ignored). Duplicate names overwrite the
// earlier value with a warning through Options.Logger.
func LoadFromText(r io.Reader, opts Options) (*Keyset, error) {
	if opts.Logger == nil {
		opts.Logger = log.DefaultLogger
	}
	ks := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := raw
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			if opts.Strict {
				return nil, &ParseError{Line: lineNo, Text: raw, Problem: "malformed line, expected name = hex"}
			}
			opts.Logger.Warnf("keyset: skipping malformed line %d: %q", lineNo, raw)
			continue
		}

		name := strings.ToLower(strings.TrimSpace(line[:eq]))
		hexVal := strings.TrimSpace(line[eq+1:])
		if name == "" {
			return nil, &ParseError{Line: lineNo, Text: raw, Problem: "empty key name"}
		}

		raw16, err := hex.DecodeString(hexVal)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: raw, Problem: "odd or invalid hex"}
		}

		var key id.Key16
		switch len(raw16) {
		case 16:
			copy(key[:], raw16)
		case 32:
			// header_key is the only 32-byte entry; store as two
			// consecutive 16-byte halves under "<name>" and
			// "<name>_2" so Get/derive helpers still deal in Key16.
			var hi id.Key16
			copy(hi[:], raw16[:16])
			ks.put(name, hi, opts.Logger)
			var lo id.Key16
			copy(lo[:], raw16[16:])
			ks.put(name+"_2", lo, opts.Logger)
			continue
		default:
			return nil, &ParseError{Line: lineNo, Text: raw, Problem: fmt.Sprintf("key must be 16 or 32 bytes, got %d", len(raw16))}
		}
		ks.put(name, key, opts.Logger)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ks, nil
}

func (ks *Keyset) put(name string, key id.Key16, logger log.Logger) {
	if _, exists := ks.keys[name]; exists {
		logger.Warnf("keyset: %q redefined, overwriting", name)
	}
	ks.keys[name] = key
}

// Put inserts or overwrites a key programmatically.
func (ks *Keyset) Put(name string, key id.Key16) {
	ks.put(name, key, log.DefaultLogger)
}

// Get returns the key registered under name, if any.
func (ks *Keyset) Get(name string) (id.Key16, bool) {
	k, ok := ks.keys[strings.ToLower(name)]
	return k, ok
}

// require returns the key or a *nxerr.MissingKeyError.
func (ks *Keyset) require(name string) (id.Key16, error) {
	k, ok := ks.Get(name)
	if !ok {
		return id.Key16{}, &nxerr.MissingKeyError{Name: name}
	}
	return k, nil
}

// KeyAreaFamily selects which of the three key-area-key families a
// section's KeyAreaIndex picked.
type KeyAreaFamily int

const (
	KeyAreaApplication KeyAreaFamily = iota
	KeyAreaOcean
	KeyAreaSystem
)

func (f KeyAreaFamily) name() string {
	switch f {
	case KeyAreaOcean:
		return "ocean"
	case KeyAreaSystem:
		return "system"
	default:
		return "application"
	}
}

// EffectiveGeneration collapses the raw (KeyGenerationOld, KeyGeneration)
// pair to the single index used for every key lookup below: take the max,
// then subtract 1, except that 0 and 1 both map to 0.
func EffectiveGeneration(keyGenerationOld, keyGeneration byte) int {
	gen := int(keyGenerationOld)
	if int(keyGeneration) > gen {
		gen = int(keyGeneration)
	}
	if gen == 0 || gen == 1 {
		return 0
	}
	return gen - 1
}

// DeriveKeyAreaKey returns key_area_key_<family>_<generation:02x>.
func (ks *Keyset) DeriveKeyAreaKey(generation int, family KeyAreaFamily) (id.Key16, error) {
	name := fmt.Sprintf("key_area_key_%s_%02x", family.name(), generation)
	return ks.require(name)
}

// DeriveTitleKek returns titlekek_<generation:02x>.
func (ks *Keyset) DeriveTitleKek(generation int) (id.Key16, error) {
	name := fmt.Sprintf("titlekek_%02x", generation)
	return ks.require(name)
}

// HeaderKey returns the 32-byte AES-XTS key used for NCA headers, stored
// as the two halves "header_key" and "header_key_2" (see LoadFromText).
func (ks *Keyset) HeaderKey() (id.Key32, error) {
	var out id.Key32
	hi, err := ks.require("header_key")
	if err != nil {
		return out, err
	}
	lo, err := ks.require("header_key_2")
	if err != nil {
		return out, err
	}
	copy(out[:16], hi[:])
	copy(out[16:], lo[:])
	return out, nil
}

// MasterKey returns master_key_<generation:02x>, kept for callers deriving
// their own key schedules outside this package.
func (ks *Keyset) MasterKey(generation int) (id.Key16, error) {
	return ks.require(fmt.Sprintf("master_key_%02x", generation))
}

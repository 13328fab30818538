// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nxerr defines the typed error kinds shared by every nxcontent
// reader. Errors wrap a sentinel base so callers can use errors.Is for the
// broad category and errors.As for the structured detail.
package nxerr

import "fmt"

// Sentinel categories. Every concrete error below wraps one of these.
var (
	ErrTruncated              = sentinel("truncated input")
	ErrBadMagic               = sentinel("bad magic")
	ErrUnsupportedVersion     = sentinel("unsupported version")
	ErrInvalidOffset          = sentinel("invalid offset")
	ErrInvalidSize            = sentinel("invalid size")
	ErrNameNotNulTerminated   = sentinel("name not nul-terminated")
	ErrExtHeaderSizeMismatch  = sentinel("extended header size mismatch")
	ErrHashMismatch           = sentinel("hash mismatch")
	ErrHashChainCycle         = sentinel("hash chain cycle")
	ErrMissingKey             = sentinel("missing key")
	ErrMissingTitleKey        = sentinel("missing title key")
	ErrKeyDerivationFailed    = sentinel("key derivation failed")
	ErrPatchedSectionUnsup    = sentinel("patched section not supported")
	ErrSparseSectionUnsup     = sentinel("sparse section not supported")
	ErrCompressedSectionUnsup = sentinel("compressed section not supported")
	ErrNotFound               = sentinel("not found")
	ErrNotADirectory          = sentinel("not a directory")
	ErrNotAFile               = sentinel("not a file")
)

type sentinelErr string

func sentinel(s string) error { return sentinelErr(s) }

func (e sentinelErr) Error() string { return string(e) }

// TruncatedError reports a short read against a declared size.
type TruncatedError struct {
	Expected, Actual int64
	What             string
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("%s: truncated, expected %d bytes, got %d", e.What, e.Expected, e.Actual)
}

func (e *TruncatedError) Unwrap() error { return ErrTruncated }

// BadMagicError reports a magic-number mismatch.
type BadMagicError struct {
	Expected, Got string
}

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("bad magic: expected %q, got %q", e.Expected, e.Got)
}

func (e *BadMagicError) Unwrap() error { return ErrBadMagic }

// HashMismatchError reports an integrity failure at a named location.
type HashMismatchError struct {
	Where string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch at %s", e.Where)
}

func (e *HashMismatchError) Unwrap() error { return ErrHashMismatch }

// MissingKeyError names the keyset entry that was required but absent.
type MissingKeyError struct {
	Name string
}

func (e *MissingKeyError) Error() string { return fmt.Sprintf("missing key: %s", e.Name) }

func (e *MissingKeyError) Unwrap() error { return ErrMissingKey }

// MissingTitleKeyError names the RightsId whose title key could not be
// resolved.
type MissingTitleKeyError struct {
	RightsID string
}

func (e *MissingTitleKeyError) Error() string {
	return fmt.Sprintf("missing title key for rights id %s", e.RightsID)
}

func (e *MissingTitleKeyError) Unwrap() error { return ErrMissingTitleKey }

// NotFoundError names a lookup path that resolved to nothing.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Path) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xci reads XCI gamecard images: a CardHeader region followed at
// offset 0x10000 by a root HFS0 partition whose entries are themselves
// named HFS0 sub-archives ("update", "logo", "normal", "secure"). Like
// pkg/nsp, this is a thin adapter over pkg/pfs0; validating the CardHeader
// itself is the caller's business, not the library's.
package xci

import (
	"github.com/go-nx/nxcontent/pkg/log"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/pfs0"
	"github.com/go-nx/nxcontent/pkg/source"
)

// NormalAreaOffset is where the root HFS0 partition begins.
const NormalAreaOffset = 0x10000

// Named root partitions a well-formed XCI root HFS0 is expected to carry.
const (
	PartitionUpdate = "update"
	PartitionLogo   = "logo"
	PartitionNormal = "normal"
	PartitionSecure = "secure"
)

// XCI is a parsed gamecard image.
type XCI struct {
	root *pfs0.PartitionFS
}

// Options configures Open.
type Options struct {
	Logger log.Logger
}

// Open skips to NormalAreaOffset and parses the root HFS0 partition.
func Open(src source.Source, opts Options) (*XCI, error) {
	if src.Len() <= NormalAreaOffset {
		return nil, &nxerr.TruncatedError{What: "xci normal area", Expected: NormalAreaOffset + 1, Actual: src.Len()}
	}
	normalArea := src.Sub(NormalAreaOffset, src.Len()-NormalAreaOffset)

	root, err := pfs0.Open(normalArea, pfs0.Options{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	if root.Kind() != pfs0.KindHFS0 {
		return nil, &nxerr.BadMagicError{Expected: "HFS0", Got: root.Kind().String()}
	}
	return &XCI{root: root}, nil
}

// RootEntries returns the root HFS0's named partition entries.
func (x *XCI) RootEntries() []pfs0.Entry { return x.root.Entries() }

// Partition opens the named root partition (e.g. "secure") as a nested
// HFS0 archive.
func (x *XCI) Partition(name string) (*pfs0.PartitionFS, error) {
	sub, err := x.root.Open(name)
	if err != nil {
		return nil, err
	}
	return pfs0.Open(sub, pfs0.Options{})
}

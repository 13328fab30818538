// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nsp reads NSP files: a bare PFS0 archive at offset 0, typically
// holding one or more NCAs, a CNMT, and a ticket/certificate pair. This
// package is a thin adapter over pkg/pfs0 that additionally enforces the
// "PFS0" magic (an NSP is never an HFS0).
package nsp

import (
	"github.com/go-nx/nxcontent/pkg/log"
	"github.com/go-nx/nxcontent/pkg/nxerr"
	"github.com/go-nx/nxcontent/pkg/pfs0"
	"github.com/go-nx/nxcontent/pkg/source"
)

// NSP is a parsed NSP archive.
type NSP struct {
	fs *pfs0.PartitionFS
}

// Options configures Open.
type Options struct {
	Logger log.Logger
}

// Open parses src as an NSP. Returns *nxerr.BadMagicError if the archive is
// HFS0 rather than PFS0.
func Open(src source.Source, opts Options) (*NSP, error) {
	fs, err := pfs0.Open(src, pfs0.Options{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	if fs.Kind() != pfs0.KindPFS0 {
		return nil, &nxerr.BadMagicError{Expected: "PFS0", Got: fs.Kind().String()}
	}
	return &NSP{fs: fs}, nil
}

// Entries returns the archive's members in on-disk order.
func (n *NSP) Entries() []pfs0.Entry { return n.fs.Entries() }

// Open returns a sub-source over the named entry's bytes.
func (n *NSP) Open(name string) (source.Source, error) { return n.fs.Open(name) }

// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// nxextract writes every member of a PFS0/HFS0/NSP archive to a directory,
// or (given --romfs) every file in a RomFS section of a decrypted NCA.
// Like nxinfo, this is a thin front end: the extraction logic is a direct
// read-then-WriteFile loop over PFS0/RomFS sub-sources.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	flags "github.com/jessevdk/go-flags"

	"github.com/go-nx/nxcontent/pkg/keyset"
	"github.com/go-nx/nxcontent/pkg/nca"
	"github.com/go-nx/nxcontent/pkg/pfs0"
	"github.com/go-nx/nxcontent/pkg/romfs"
	"github.com/go-nx/nxcontent/pkg/source"
)

// Options is nxextract's flag surface.
type Options struct {
	KeysPath string `short:"k" long:"keys" description:"path to a keyset text file (name = hex per line)"`
	Strict   bool   `long:"strict" description:"fail on any hash mismatch instead of warning"`
	RomFS    int    `long:"romfs" description:"extract the RomFS section at this index instead of the top-level archive" default:"-1"`
	Out      string `short:"o" long:"out" description:"destination directory" required:"true"`

	Positional struct {
		Path string `positional-arg-name:"file" description:"NSP, HFS0 partition or raw NCA file to extract" required:"1"`
	} `positional-args:"yes"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "nxextract: %v\n", err)
		os.Exit(1)
	}
}

func run(opts Options) error {
	if err := os.MkdirAll(opts.Out, 0o755); err != nil {
		return err
	}

	src, err := source.NewFileSource(opts.Positional.Path)
	if err != nil {
		return err
	}

	if opts.RomFS >= 0 {
		return extractRomFS(src, opts)
	}

	magic := make([]byte, 4)
	if _, err := src.ReadAt(magic, 0); err != nil {
		return err
	}
	switch string(magic) {
	case "PFS0", "HFS0":
		pf, err := pfs0.Open(src, pfs0.Options{})
		if err != nil {
			return err
		}
		return extractPartitionFS(pf, opts.Out)
	default:
		return fmt.Errorf("%s is not a PFS0/HFS0 archive; pass --romfs N to extract a decrypted NCA's RomFS section instead", opts.Positional.Path)
	}
}

func extractPartitionFS(pf *pfs0.PartitionFS, dir string) error {
	for _, e := range pf.Entries() {
		sub, err := pf.Open(e.Name)
		if err != nil {
			return err
		}
		buf := make([]byte, sub.Len())
		if err := source.ReadFull(sub, buf, 0); err != nil {
			return err
		}
		dest := filepath.Join(dir, strings.ReplaceAll(e.Name, "/", "_"))
		if err := os.WriteFile(dest, buf, 0o644); err != nil {
			return err
		}
		fmt.Printf("extracted %s (%s)\n", e.Name, humanize.Bytes(uint64(len(buf))))
	}
	return nil
}

func extractRomFS(src source.Source, opts Options) error {
	if opts.KeysPath == "" {
		return fmt.Errorf("--romfs requires -k/--keys to decrypt the NCA")
	}
	f, err := os.Open(opts.KeysPath)
	if err != nil {
		return err
	}
	defer f.Close()
	ks, err := keyset.LoadFromText(f, keyset.Options{})
	if err != nil {
		return err
	}

	n, err := nca.Open(src, ks, nca.Options{Strict: opts.Strict})
	if err != nil {
		return err
	}
	if opts.RomFS >= len(n.Sections()) {
		return fmt.Errorf("nca only has %d sections", len(n.Sections()))
	}
	section := n.Sections()[opts.RomFS]
	if section.Kind != nca.SectionRomFs {
		return fmt.Errorf("section %d is not a RomFs section", opts.RomFS)
	}

	return section.RomFs.Walk(&extractVisitor{romFs: section.RomFs, dir: opts.Out})
}

// extractVisitor implements romfs.Visitor, creating destination
// directories as it descends and writing every file's bytes out.
type extractVisitor struct {
	romFs *romfs.RomFS
	dir   string
}

func (v *extractVisitor) VisitDir(path string, d romfs.DirEntry) error {
	return os.MkdirAll(filepath.Join(v.dir, filepath.FromSlash(path)), 0o755)
}

func (v *extractVisitor) VisitFile(path string, f romfs.FileEntry) error {
	sub, err := v.romFs.Open(romfs.Handle{IsDir: false, Offset: f.Offset})
	if err != nil {
		return err
	}
	buf := make([]byte, sub.Len())
	if err := source.ReadFull(sub, buf, 0); err != nil {
		return err
	}
	dest := filepath.Join(v.dir, filepath.FromSlash(path))
	if err := os.WriteFile(dest, buf, 0o644); err != nil {
		return err
	}
	fmt.Printf("extracted %s (%s)\n", path, humanize.Bytes(uint64(len(buf))))
	return nil
}

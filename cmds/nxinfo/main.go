// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// nxinfo prints a listing of a Nintendo Switch container file: the member
// entries of a file that starts with a PFS0 or HFS0 header (an NSP, or an
// HFS0 partition), or the section table and header fields of a raw NCA.
// A whole XCI image, whose root HFS0 starts at 0x10000, is not recognized.
// It is a thin front end over pkg/nca, pkg/pfs0 and pkg/cnmt; none of this
// package's logic is part of the library's public contract.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	flags "github.com/jessevdk/go-flags"

	"github.com/go-nx/nxcontent/pkg/cnmt"
	"github.com/go-nx/nxcontent/pkg/keyset"
	"github.com/go-nx/nxcontent/pkg/nca"
	"github.com/go-nx/nxcontent/pkg/pfs0"
	"github.com/go-nx/nxcontent/pkg/source"
)

// Options is nxinfo's entire flag surface: one struct, no subcommands.
type Options struct {
	KeysPath string `short:"k" long:"keys" description:"path to a keyset text file (name = hex per line)"`
	Strict   bool   `long:"strict" description:"fail on any hash mismatch instead of warning"`

	Positional struct {
		Path string `positional-arg-name:"file" description:"NSP, HFS0 partition or raw NCA file to inspect" required:"1"`
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

	if err := run(os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "nxinfo: %v\n", err)
		os.Exit(1)
	}
}

func run(stdout *os.File, opts Options) error {
	src, err := source.NewFileSource(opts.Positional.Path)
	if err != nil {
		return err
	}

	var ks *keyset.Keyset
	if opts.KeysPath != "" {
		f, err := os.Open(opts.KeysPath)
		if err != nil {
			return err
		}
		defer f.Close()
		ks, err = keyset.LoadFromText(f, keyset.Options{})
		if err != nil {
			return err
		}
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
		printEntries(stdout, pf)
		return nil
	default:
		if ks == nil {
			return fmt.Errorf("a raw NCA requires -k/--keys to decrypt its header")
		}
		n, err := nca.Open(src, ks, nca.Options{Strict: opts.Strict})
		if err != nil {
			return err
		}
		printNCA(stdout, n)
		return nil
	}
}

func printEntries(w *os.File, pf *pfs0.PartitionFS) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("%s entries", pf.Kind())
	t.AppendHeader(table.Row{"Name", "Offset", "Size"})
	for _, e := range pf.Entries() {
		t.AppendRow(table.Row{e.Name, fmt.Sprintf("0x%x", e.Offset), humanize.Bytes(uint64(e.Size))})
	}
	t.Render()
}

func printNCA(w *os.File, n *nca.NCA) {
	h := n.Header()

	info := table.NewWriter()
	info.SetOutputMirror(w)
	info.SetTitle("NCA header")
	info.AppendHeader(table.Row{"Content Type", "Program ID", "Rights ID", "Content Size", "Generation"})
	info.AppendRow(table.Row{
		fmt.Sprintf("%d", h.ContentType),
		h.ProgramID.String(),
		h.RightsID.String(),
		humanize.Bytes(h.ContentSize),
		h.EffectiveGeneration(),
	})
	info.Render()

	sections := table.NewWriter()
	sections.SetOutputMirror(w)
	sections.SetTitle("Sections")
	sections.AppendHeader(table.Row{"Index", "Kind", "Encryption", "FS Type", "Size"})
	for _, s := range n.Sections() {
		kind := "raw"
		switch s.Kind {
		case nca.SectionPartitionFs:
			kind = "PartitionFs"
		case nca.SectionRomFs:
			kind = "RomFs"
		}
		sections.AppendRow(table.Row{s.Index, kind, fmt.Sprintf("%d", s.Header.EncryptionType), fmt.Sprintf("%d", s.Header.FsType), humanize.Bytes(uint64(s.Source.Len()))})
	}
	sections.Render()

	if n.Warnings != nil && len(n.Warnings.Errors) > 0 {
		fmt.Fprintf(w, "\nwarnings:\n")
		for _, warn := range n.Warnings.Errors {
			fmt.Fprintf(w, "  - %v\n", warn)
		}
	}

	printCNMTIfPresent(w, n)
}

// printCNMTIfPresent looks for a *.cnmt entry in any PartitionFs section
// (the layout an NSP's inner NCA holding the title's manifest uses) and
// prints its contents if found.
func printCNMTIfPresent(w *os.File, n *nca.NCA) {
	for _, s := range n.Sections() {
		if s.Kind != nca.SectionPartitionFs {
			continue
		}
		for _, e := range s.PartitionFs.Entries() {
			if len(e.Name) < 6 || e.Name[len(e.Name)-5:] != ".cnmt" {
				continue
			}
			sub, err := s.PartitionFs.Open(e.Name)
			if err != nil {
				continue
			}
			c, err := cnmt.Open(sub)
			if err != nil {
				continue
			}
			t := table.NewWriter()
			t.SetOutputMirror(w)
			t.SetTitle("CNMT %s (%s)", e.Name, c.Header.ContentMetaType)
			t.AppendHeader(table.Row{"Content ID", "Type", "Size"})
			for _, ci := range c.Contents {
				t.AppendRow(table.Row{ci.ContentID.String(), ci.ContentType.String(), humanize.Bytes(ci.Size)})
			}
			t.Render()
		}
	}
}

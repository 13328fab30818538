// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package romfs

// FindPredicate is used to filter matches in the Find visitor.
type FindPredicate = func(path string, name string, isDir bool) bool

// Find collects every entry whose full path satisfies the predicate.
type Find struct {
	// Input
	// Only when this function returns true will the entry appear in the
	// Matches slice.
	Predicate FindPredicate

	// Output
	Matches []Match
}

// Match is one Find result: the entry's full path and its handle.
type Match struct {
	Path   string
	Handle Handle
}

// Run walks the whole tree through v.
func (v *Find) Run(r *RomFS) error {
	return r.Walk(v)
}

// VisitDir implements Visitor.
func (v *Find) VisitDir(path string, d DirEntry) error {
	if v.Predicate(path, d.Name, true) {
		v.Matches = append(v.Matches, Match{Path: path, Handle: Handle{IsDir: true, Offset: d.Offset}})
	}
	return nil
}

// VisitFile implements Visitor.
func (v *Find) VisitFile(path string, f FileEntry) error {
	if v.Predicate(path, f.Name, false) {
		v.Matches = append(v.Matches, Match{Path: path, Handle: Handle{IsDir: false, Offset: f.Offset}})
	}
	return nil
}

// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source_test

import (
	"testing"

	"github.com/go-nx/nxcontent/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySourceReadAt(t *testing.T) {
	s := source.NewMemorySource([]byte("hello world"))
	require.EqualValues(t, 11, s.Len())

	buf := make([]byte, 5)
	n, err := s.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
}

func TestReadPastEndReturnsShortReadNoError(t *testing.T) {
	s := source.NewMemorySource([]byte("abc"))
	buf := make([]byte, 10)
	n, err := s.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "bc", string(buf[:n]))
}

func TestWindowReadPastEndReturnsShortReadNoError(t *testing.T) {
	s := source.NewMemorySource([]byte("abcdefgh"))
	w := source.NewWindow(s, 2, 4) // "cdef"

	// Read straddling the window's end fills only the prefix that exists.
	buf := make([]byte, 10)
	n, err := w.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ef", string(buf[:n]))

	// Reads at and past the end return (0, nil), not an error.
	n, err = w.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = w.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// A window reads the same bytes as its parent at the shifted offset, and
// nested windows compose by offset addition.
func TestWindowComposesByOffsetAddition(t *testing.T) {
	s := source.NewMemorySource([]byte("0123456789"))
	w := source.NewWindow(s, 3, 4) // "3456"

	got := make([]byte, 2)
	n, err := w.ReadAt(got, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "45", string(got))

	// Nested window: w.Sub(1,2) should read "45" too.
	nested := w.Sub(1, 2)
	got2 := make([]byte, 2)
	n2, err := nested.ReadAt(got2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n2)
	assert.Equal(t, "45", string(got2))
}

func TestWindowClampsToParentLength(t *testing.T) {
	s := source.NewMemorySource([]byte("abcdef"))
	w := source.NewWindow(s, 4, 100)
	assert.EqualValues(t, 2, w.Len())
}

func TestIndependentWindowsDoNotShareCursor(t *testing.T) {
	s := source.NewMemorySource([]byte("abcdefghij"))
	w1 := source.NewWindow(s, 0, 5)
	w2 := source.NewWindow(s, 5, 5)

	done := make(chan string, 2)
	go func() {
		b := make([]byte, 5)
		w1.ReadAt(b, 0)
		done <- string(b)
	}()
	go func() {
		b := make([]byte, 5)
		w2.ReadAt(b, 0)
		done <- string(b)
	}()
	results := map[string]bool{<-done: true, <-done: true}
	assert.True(t, results["abcde"])
	assert.True(t, results["fghij"])
}

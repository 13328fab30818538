// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package id_test

import (
	"strings"
	"testing"

	"github.com/go-nx/nxcontent/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	const hex = "0100000000001000beefcafe01020304"
	v, err := id.Parse(hex)
	require.NoError(t, err)
	assert.Equal(t, hex, v.String())
}

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := id.Parse("00112233")
	assert.Error(t, err)
}

func TestParseRejectsNonHex(t *testing.T) {
	_, err := id.Parse(strings.Repeat("zz", 16))
	assert.Error(t, err)
}

func TestIsZero(t *testing.T) {
	var zero id.ID
	assert.True(t, zero.IsZero())

	nonZero := zero
	nonZero[15] = 1
	assert.False(t, nonZero.IsZero())
}

func TestMustParsePanicsOnBadInput(t *testing.T) {
	assert.Panics(t, func() {
		id.MustParse("not hex")
	})
}

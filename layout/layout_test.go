// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"encoding"
	"fmt"
	"testing"

	"github.com/nlpodyssey/npulayout/dtype"
	"github.com/stretchr/testify/assert"
)

var (
	_ encoding.TextMarshaler   = Kind(0)
	_ encoding.TextUnmarshaler = new(Kind)
	_ encoding.TextMarshaler   = Format(0)
	_ encoding.TextUnmarshaler = new(Format)
)

var validKinds = []struct {
	kind      Kind
	string    string
	dType     dtype.DType
	quantized bool
}{
	{Planar8B, "PLANAR_8B", dtype.I8, true},
	{Planar16B, "PLANAR_16B", dtype.I16, true},
	{SplitHighLow8B, "SPLIT_HIGH_LOW_8B", dtype.I16, true},
	{RawFloat, "RAW_FLOAT", dtype.F32, false},
}

var invalidKinds = []Kind{0, 5, 6, 255}

func TestKind(t *testing.T) {
	for _, tc := range validKinds {
		t.Run(tc.string, func(t *testing.T) {
			assert.NoError(t, tc.kind.Validate())
			assert.Equal(t, tc.string, tc.kind.String())
			assert.Equal(t, tc.dType, tc.kind.DType())
			assert.Equal(t, tc.quantized, tc.kind.Quantized())

			b, err := tc.kind.MarshalText()
			assert.NoError(t, err)
			assert.Equal(t, []byte(tc.string), b)

			var k Kind
			assert.NoError(t, k.UnmarshalText(b))
			assert.Equal(t, tc.kind, k)
		})
	}

	for _, k := range invalidKinds {
		assert.EqualError(t, k.Validate(), fmt.Sprintf("invalid Kind(%d)", k))
		assert.Equal(t, fmt.Sprintf("invalid Kind(%d)", k), k.String())
		assert.Equal(t, dtype.DType(0), k.DType())
		assert.Equal(t, -1, k.BufferSize(16))
		_, err := k.MarshalText()
		assert.Error(t, err)
	}

	var k Kind
	assert.EqualError(t, k.UnmarshalText([]byte("PLANAR_32B")), `failed to text-unmarshal Kind from value "PLANAR_32B"`)
}

func TestKind_BufferSize(t *testing.T) {
	assert.Equal(t, 48, Planar8B.BufferSize(48))
	assert.Equal(t, 96, Planar16B.BufferSize(48))
	assert.Equal(t, 192, RawFloat.BufferSize(48))
	assert.Equal(t, 96, SplitHighLow8B.BufferSize(48))
	assert.Equal(t, 64, SplitHighLow8B.BufferSize(20))
	assert.Equal(t, 0, SplitHighLow8B.BufferSize(0))
}

func TestSplitOffset(t *testing.T) {
	testCases := []struct {
		offset, want int
	}{
		{0, 0},
		{1, 1},
		{15, 15},
		{16, 32},
		{17, 33},
		{31, 47},
		{32, 64},
		{100, 196},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, SplitOffset(tc.offset), "offset %d", tc.offset)
	}
}

func TestFormat(t *testing.T) {
	testCases := []struct {
		format Format
		string string
		kind   Kind
	}{
		{Format4W4C8B, "4W4C8B", Planar8B},
		{Format1W16C8B, "1W16C8B", Planar8B},
		{Format16W1C8B, "16W1C8B", Planar8B},
		{FormatRaw8B, "RAW_8B", Planar8B},
		{Format8W1C16B, "8W1C16B", Planar16B},
		{FormatRaw16B, "RAW_16B", Planar16B},
		{Format4W4C8BHL, "4W4C8BHL", SplitHighLow8B},
		{Format1W16C8BHL, "1W16C8BHL", SplitHighLow8B},
		{Format16W1C8BHL, "16W1C8BHL", SplitHighLow8B},
		{FormatRawFloat, "RAW_FLOAT", RawFloat},
	}
	for _, tc := range testCases {
		t.Run(tc.string, func(t *testing.T) {
			assert.NoError(t, tc.format.Validate())
			assert.Equal(t, tc.string, tc.format.String())
			assert.Equal(t, tc.kind, tc.format.Kind())

			var f Format
			assert.NoError(t, f.UnmarshalText([]byte(tc.string)))
			assert.Equal(t, tc.format, f)
		})
	}

	invalid := Format(11)
	assert.EqualError(t, invalid.Validate(), "invalid Format(11)")
	assert.Equal(t, Kind(0), invalid.Kind())
	assert.Error(t, invalid.Kind().Validate())

	var f Format
	assert.EqualError(t, f.UnmarshalText([]byte("HW4C8B")), `failed to text-unmarshal Format from value "HW4C8B"`)
}

// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npulayout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/nlpodyssey/npulayout/descriptor"
	"github.com/nlpodyssey/npulayout/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contiguous(shape ...int) descriptor.Shape {
	strides := descriptor.ContiguousStrides(shape)
	return descriptor.Shape{
		Version:      descriptor.ShapeVersion2,
		Shape:        shape,
		StrideSource: strides,
		StrideTarget: strides,
	}
}

func strided(shape, source, target []int) descriptor.Shape {
	return descriptor.Shape{
		Version:      descriptor.ShapeVersion2,
		Shape:        shape,
		StrideSource: source,
		StrideTarget: target,
	}
}

func perTensor(radix int, scale float64) descriptor.Quantization {
	return descriptor.Quantization{
		Axis:   descriptor.NoAxis,
		Params: []descriptor.FixedPoint{{Radix: radix, Scale: scale}},
	}
}

func sequence(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestConvert_RawFloat(t *testing.T) {
	src := []float64{-2, -1.5, -1, -0.5, 0, 0.5, 1, 1.5, 2, 2.5, 3, 1e-3}

	buf, err := Convert(src, contiguous(1, 3, 2, 2), descriptor.Quantization{}, layout.RawFloat)
	require.NoError(t, err)

	var expected []byte
	for _, v := range src {
		expected = binary.LittleEndian.AppendUint32(expected, math.Float32bits(float32(v)))
	}
	assert.Equal(t, expected, buf)
}

func TestConvert_RawFloatSaturation(t *testing.T) {
	src := []float64{math.MaxFloat64, -math.MaxFloat64, math.Inf(1), math.NaN()}

	buf, err := Convert(src, contiguous(4), descriptor.Quantization{}, layout.RawFloat)
	require.NoError(t, err)
	require.Len(t, buf, 16)

	value := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	assert.Equal(t, float32(math.MaxFloat32), value(0))
	assert.Equal(t, float32(-math.MaxFloat32), value(1))
	assert.Equal(t, float32(math.MaxFloat32), value(2))
	assert.True(t, math.IsNaN(float64(value(3))))
}

func TestConvert_Planar8BAllOnes(t *testing.T) {
	buf, err := Convert(filled(16, 1), contiguous(1, 1, 4, 4), perTensor(7, 1), layout.Planar8B)
	require.NoError(t, err)

	require.Len(t, buf, 16)
	for i, b := range buf {
		assert.Equal(t, byte(127), b, "byte %d", i)
	}
}

func TestConvert_Clamping(t *testing.T) {
	testCases := []struct {
		kind     layout.Kind
		src      []float64
		expected []byte
	}{
		{layout.Planar8B, []float64{1000, -1000, 127.5, -128.5}, []byte{0x7f, 0x80, 0x7f, 0x80}},
		{layout.Planar16B, []float64{1e6, -1e6}, []byte{0xff, 0x7f, 0x00, 0x80}},
		{layout.Planar16B, []float64{math.Inf(1), math.Inf(-1)}, []byte{0xff, 0x7f, 0x00, 0x80}},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%s %v", tc.kind, tc.src), func(t *testing.T) {
			buf, err := Convert(tc.src, contiguous(len(tc.src)), perTensor(0, 1), tc.kind)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, buf)
		})
	}
}

func TestConvert_Rounding(t *testing.T) {
	src := []float64{2.5, 3.5, -2.5, 0.49, -0.51, math.NaN()}

	buf, err := Convert(src, contiguous(len(src)), perTensor(0, 1), layout.Planar8B)
	require.NoError(t, err)

	got := make([]int8, len(buf))
	for i, b := range buf {
		got[i] = int8(b)
	}
	assert.Equal(t, []int8{2, 4, -2, 0, -1, 0}, got)
}

func TestConvert_Factor(t *testing.T) {
	// 2^-2 * 3 = 0.75
	buf, err := Convert([]float64{4, -8, 100}, contiguous(3), perTensor(-2, 3), layout.Planar16B)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0, 0xfa, 0xff, 75, 0}, buf)
}

func TestConvert_PerChannel(t *testing.T) {
	quant := descriptor.Quantization{
		Axis: 1,
		Params: []descriptor.FixedPoint{
			{Radix: 0, Scale: 1},
			{Radix: 1, Scale: 1},
			{Radix: 2, Scale: 1},
		},
	}

	buf, err := Convert(filled(12, 3), contiguous(1, 3, 2, 2), quant, layout.Planar8B)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 3, 3, 3, 6, 6, 6, 6, 12, 12, 12, 12}, buf)

	t.Run("last axis", func(t *testing.T) {
		quant := descriptor.Quantization{
			Axis:   1,
			Params: []descriptor.FixedPoint{{Radix: 0, Scale: 1}, {Radix: 0, Scale: 2}},
		}
		buf, err := Convert(filled(6, 5), contiguous(3, 2), quant, layout.Planar8B)
		require.NoError(t, err)
		assert.Equal(t, []byte{5, 10, 5, 10, 5, 10}, buf)
	})
}

func TestConvert_Capacity(t *testing.T) {
	testCases := []struct {
		name     string
		shape    descriptor.Shape
		capacity int
	}{
		{"contiguous", contiguous(1, 3, 4, 4), 48},
		{"padded rows", strided([]int{1, 3, 5, 5}, []int{75, 25, 5, 1}, []int{384, 128, 16, 1}), 384},
		{"channel last", strided([]int{1, 3, 4, 4}, []int{48, 16, 4, 1}, []int{256, 1, 64, 16}), 256},
		{"odd capacity", contiguous(1, 1, 1, 20), 20},
	}
	kinds := []layout.Kind{layout.Planar8B, layout.Planar16B, layout.SplitHighLow8B, layout.RawFloat}
	for _, tc := range testCases {
		for _, kind := range kinds {
			t.Run(fmt.Sprintf("%s %s", tc.name, kind), func(t *testing.T) {
				require.Equal(t, tc.capacity, tc.shape.Capacity())
				buf, err := Convert(filled(tc.shape.Size(), 0.25), tc.shape, perTensor(4, 1), kind)
				require.NoError(t, err)
				assert.Len(t, buf, kind.BufferSize(tc.capacity))
			})
		}
	}
}

func TestConvert_Identity(t *testing.T) {
	src := sequence(24, -12)
	shape := contiguous(2, 3, 4)

	t.Run("PLANAR_8B", func(t *testing.T) {
		buf, err := Convert(src, shape, perTensor(0, 1), layout.Planar8B)
		require.NoError(t, err)
		for i, v := range src {
			assert.Equal(t, int8(v), int8(buf[i]))
		}
	})

	t.Run("PLANAR_16B", func(t *testing.T) {
		buf, err := Convert(src, shape, perTensor(8, 1), layout.Planar16B)
		require.NoError(t, err)
		for i, v := range src {
			assert.Equal(t, int16(v*256), int16(binary.LittleEndian.Uint16(buf[2*i:])))
		}
	})

	t.Run("RAW_FLOAT", func(t *testing.T) {
		buf, err := Convert(src, shape, descriptor.Quantization{}, layout.RawFloat)
		require.NoError(t, err)
		for i, v := range src {
			assert.Equal(t, float32(v), math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
		}
	})
}

func TestConvert_PaddedRows(t *testing.T) {
	shape := strided([]int{1, 2, 2, 2}, []int{8, 4, 2, 1}, []int{16, 8, 4, 1})

	buf, err := Convert(sequence(8, 1), shape, perTensor(0, 1), layout.Planar8B)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 0, 0, 3, 4, 0, 0, 5, 6, 0, 0, 7, 8, 0, 0}, buf)
}

func TestConvert_ChannelInterleaved(t *testing.T) {
	shape := strided([]int{1, 3, 2, 2}, []int{12, 4, 2, 1}, []int{64, 1, 32, 16})

	buf, err := Convert(sequence(12, 1), shape, perTensor(0, 1), layout.Planar8B)
	require.NoError(t, err)
	require.Len(t, buf, 64)

	expected := make([]byte, 64)
	for c := 0; c < 3; c++ {
		for h := 0; h < 2; h++ {
			for w := 0; w < 2; w++ {
				expected[c+32*h+16*w] = byte(c*4 + h*2 + w + 1)
			}
		}
	}
	assert.Equal(t, expected, buf)
}

func TestConvert_SourceStrides(t *testing.T) {
	// the source is read transposed: element [i, j] comes from src[j*2+i]
	shape := strided([]int{2, 2}, []int{1, 2}, []int{2, 1})

	buf, err := Convert([]float64{1, 2, 3, 4}, shape, perTensor(0, 1), layout.Planar8B)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 3, 2, 4}, buf)
}

func TestConvert_SplitHighLow8B(t *testing.T) {
	src := filled(20, 0)
	src[0] = 1000
	src[3] = -1000
	src[17] = 2

	buf, err := Convert(src, contiguous(1, 1, 1, 20), perTensor(0, 1), layout.SplitHighLow8B)
	require.NoError(t, err)
	require.Len(t, buf, 64)

	expected := make([]byte, 64)
	// 1000 >> 1 = 500 = 3<<7 | 116
	expected[0], expected[16] = 116, 3
	// -1000 >> 1 = -500 = -4<<7 | 12
	expected[3], expected[19] = 12, 0xfc
	// element 17 lands in the second group: offset 32 + 1
	expected[33], expected[49] = 1, 0
	assert.Equal(t, expected, buf)
}

func TestSplitRecomposition(t *testing.T) {
	buf := make([]byte, 64)
	for q := math.MinInt16; q <= math.MaxInt16; q++ {
		v := int16(q)
		putSplit(buf, 21, v)
		require.Equal(t, v&^1, getSplit(buf, 21), "value %d", v)
	}
}

func TestConvert_Errors(t *testing.T) {
	t.Run("shape version", func(t *testing.T) {
		for _, v := range []descriptor.ShapeVersion{descriptor.ShapeVersionUnknown, descriptor.ShapeVersion1, 3} {
			shape := contiguous(4)
			shape.Version = v
			_, err := Convert(filled(4, 0), shape, perTensor(0, 1), layout.Planar8B)

			var target *UnsupportedShapeVersionError
			require.True(t, errors.As(err, &target))
			assert.Equal(t, v, target.Version)
			assert.EqualError(t, err, fmt.Sprintf("unsupported tensor shape information version %d", v))
		}
	})

	t.Run("layout", func(t *testing.T) {
		for _, k := range []layout.Kind{0, layout.RawFloat + 1, 255} {
			_, err := Convert(filled(4, 0), contiguous(4), perTensor(0, 1), k)

			var target *UnsupportedLayoutError
			require.True(t, errors.As(err, &target))
			assert.Equal(t, k, target.Kind)
			assert.EqualError(t, err, fmt.Sprintf("unsupported data layout: invalid Kind(%d)", k))
		}
	})

	t.Run("shape version is checked first", func(t *testing.T) {
		shape := contiguous(4)
		shape.Version = descriptor.ShapeVersion1
		_, err := Convert(nil, shape, descriptor.Quantization{}, 0)
		var target *UnsupportedShapeVersionError
		assert.True(t, errors.As(err, &target))
	})

	t.Run("invalid shape", func(t *testing.T) {
		shape := contiguous(2, 2)
		shape.StrideTarget = []int{1}
		_, err := Convert(filled(4, 0), shape, perTensor(0, 1), layout.Planar8B)
		assert.EqualError(t, err, "invalid tensor shape: target strides length 1 differs from shape length 2")
	})

	t.Run("overflowing source span", func(t *testing.T) {
		half := math.MaxInt / 2
		shape := strided([]int{2, 2, 2}, []int{half, half, half}, []int{4, 2, 1})
		var err error
		require.NotPanics(t, func() {
			_, err = Convert(filled(8, 0), shape, perTensor(0, 1), layout.Planar8B)
		})
		assert.ErrorContains(t, err, "invalid tensor shape: failed to compute source span")
	})

	t.Run("invalid quantization", func(t *testing.T) {
		_, err := Convert(filled(4, 0), contiguous(4), descriptor.Quantization{}, layout.Planar16B)
		assert.EqualError(t, err, "invalid quantization parameters: missing quantization parameters")
	})

	t.Run("source length", func(t *testing.T) {
		_, err := Convert(filled(3, 0), contiguous(4), perTensor(0, 1), layout.Planar8B)
		assert.EqualError(t, err, "source tensor has 3 elements, shape [4] requires 4")
	})
}

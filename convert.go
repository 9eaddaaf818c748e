// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package npulayout converts floating-point tensors in row-major layout
// into the packed, quantized buffers an NPU expects as input, and back.
package npulayout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nlpodyssey/npulayout/descriptor"
	"github.com/nlpodyssey/npulayout/dtype"
	"github.com/nlpodyssey/npulayout/layout"
	"github.com/nlpodyssey/npulayout/ndindex"
)

// Convert re-encodes the tensor src into the hardware layout of the given
// Kind, returning the raw bytes of the NPU buffer.
//
// The values of src are in row-major order and their number must match
// the dimensions of shape. Element positions are translated from
// shape.StrideSource to shape.StrideTarget. Unless kind is
// layout.RawFloat, values are first multiplied by their quantization
// factor (broadcast along quant.Axis), rounded half to even and
// saturated to the range of kind.DType(): out-of-range values are not an
// error.
//
// The returned buffer holds kind.BufferSize(shape.Capacity()) bytes.
// Multi-byte values are little-endian. Positions of the target layout not
// addressed by any element (padding) are zero.
//
// An *UnsupportedShapeVersionError or an *UnsupportedLayoutError is
// returned for an unknown shape schema or layout Kind. No buffer is
// produced on error.
func Convert(src []float64, shape descriptor.Shape, quant descriptor.Quantization, kind layout.Kind) ([]byte, error) {
	if err := checkConversion(shape, quant, kind); err != nil {
		return nil, err
	}
	if size := shape.Size(); len(src) != size {
		return nil, fmt.Errorf("source tensor has %d elements, shape %v requires %d", len(src), shape.Shape, size)
	}
	buf := make([]byte, kind.BufferSize(shape.Capacity()))
	handlers[kind].pack(buf, src, shape, conversionFactors(shape, quant, kind))
	return buf, nil
}

func checkConversion(shape descriptor.Shape, quant descriptor.Quantization, kind layout.Kind) error {
	if shape.Version != descriptor.ShapeVersion2 {
		return &UnsupportedShapeVersionError{Version: shape.Version}
	}
	if kind.Validate() != nil {
		return &UnsupportedLayoutError{Kind: kind}
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("invalid tensor shape: %w", err)
	}
	if kind.Quantized() {
		if err := quant.Validate(shape.Shape); err != nil {
			return fmt.Errorf("invalid quantization parameters: %w", err)
		}
	}
	return nil
}

func conversionFactors(shape descriptor.Shape, quant descriptor.Quantization, kind layout.Kind) factors {
	if !kind.Quantized() {
		return factors{}
	}
	return newFactors(shape.Shape, quant)
}

// handler packs and unpacks the buffers of one layout.Kind.
type handler interface {
	pack(buf []byte, src []float64, s descriptor.Shape, f factors)
	unpack(buf []byte, s descriptor.Shape, f factors) []float64
}

var handlers = [...]handler{
	layout.Planar8B: codec[int8]{
		encode: quantizer[int8](dtype.I8),
		decode: dequantizer[int8](),
		put:    func(b []byte, d int, v int8) { b[d] = byte(v) },
		get:    func(b []byte, d int) int8 { return int8(b[d]) },
	},
	layout.Planar16B: codec[int16]{
		encode: quantizer[int16](dtype.I16),
		decode: dequantizer[int16](),
		put:    func(b []byte, d int, v int16) { binary.LittleEndian.PutUint16(b[2*d:], uint16(v)) },
		get:    func(b []byte, d int) int16 { return int16(binary.LittleEndian.Uint16(b[2*d:])) },
	},
	layout.SplitHighLow8B: codec[int16]{
		encode: quantizer[int16](dtype.I16),
		decode: dequantizer[int16](),
		put:    putSplit,
		get:    getSplit,
	},
	layout.RawFloat: codec[float32]{
		encode: toFloat32,
		decode: fromFloat32,
		put:    func(b []byte, d int, v float32) { binary.LittleEndian.PutUint32(b[4*d:], math.Float32bits(v)) },
		get:    func(b []byte, d int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[4*d:])) },
	},
}

// codec is the handler of a layout storing values of type T.
//
// Packing encodes the source values, moves them to their target
// positions, then stores every target element (padding included) into
// the byte buffer. Unpacking runs the same steps in reverse.
type codec[T int8 | int16 | float32] struct {
	encode func([]float64, factors) []T
	decode func([]T, factors) []float64
	put    func(buf []byte, d int, v T)
	get    func(buf []byte, d int) T
}

func (c codec[T]) pack(buf []byte, src []float64, s descriptor.Shape, f factors) {
	values := c.encode(src, f)
	target := make([]T, s.Capacity())
	stridedCopy(target, values, s.Shape, s.StrideTarget, s.StrideSource)
	for d, v := range target {
		c.put(buf, d, v)
	}
}

func (c codec[T]) unpack(buf []byte, s descriptor.Shape, f factors) []float64 {
	target := make([]T, s.Capacity())
	for d := range target {
		target[d] = c.get(buf, d)
	}
	values := make([]T, s.Size())
	stridedCopy(values, target, s.Shape, s.StrideSource, s.StrideTarget)
	return c.decode(values, f)
}

// putSplit stores the 16-bit value v, shifted right by one bit, as two
// bytes of a SplitHighLow8B buffer: the low 7 bits at the remapped offset
// of d, and the next 8 bits SplitHighOffset bytes after.
func putSplit(b []byte, d int, v int16) {
	o := layout.SplitOffset(d)
	v >>= 1
	b[o] = byte(v & layout.SplitLowMask)
	b[o+layout.SplitHighOffset] = byte(v >> layout.SplitHighShift)
}

// getSplit is the inverse of putSplit. The least significant bit, lost
// when packing, is zero.
func getSplit(b []byte, d int) int16 {
	o := layout.SplitOffset(d)
	low := uint16(b[o] & layout.SplitLowMask)
	high := uint16(b[o+layout.SplitHighOffset])
	return int16((low | high<<layout.SplitHighShift) << 1)
}

// stridedCopy copies every element of a tensor with the given dimensions
// from src to dst, each addressed through its own strides. Rows are
// copied in bulk when both layouts store the innermost dimension
// contiguously.
func stridedCopy[T any](dst, src []T, shape, dstStrides, srcStrides []int) {
	last := len(shape) - 1
	if dstStrides[last] == 1 && srcStrides[last] == 1 {
		w, row := ndindex.NewRows(shape, dstStrides, srcStrides)
		for w.Next() {
			d, s := w.Offset(0), w.Offset(1)
			copy(dst[d:d+row], src[s:s+row])
		}
		return
	}
	w := ndindex.New(shape, dstStrides, srcStrides)
	for w.Next() {
		dst[w.Offset(0)] = src[w.Offset(1)]
	}
}

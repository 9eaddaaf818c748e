// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npulayout

import (
	"math"

	"github.com/nlpodyssey/npulayout/descriptor"
	"github.com/nlpodyssey/npulayout/dtype"
)

// factors broadcasts quantization factors over the row-major positions of
// a tensor. Consecutive runs of "inner" positions share the same factor.
type factors struct {
	values []float64
	inner  int
}

func newFactors(shape []int, q descriptor.Quantization) factors {
	f := factors{values: q.Factors(), inner: 1}
	if q.PerChannel() {
		for _, v := range shape[q.Axis+1:] {
			f.inner *= v
		}
		return f
	}
	for _, v := range shape {
		f.inner *= v
	}
	return f
}

// at returns the factor of the element at row-major position p.
func (f factors) at(p int) float64 {
	if len(f.values) == 1 {
		return f.values[0]
	}
	return f.values[(p/f.inner)%len(f.values)]
}

// blocks calls fn for each run [begin, end) of positions below n sharing
// the same factor k.
func (f factors) blocks(n int, fn func(begin, end int, k float64)) {
	for begin := 0; begin < n; begin += f.inner {
		fn(begin, min(begin+f.inner, n), f.at(begin))
	}
}

// quantizer returns a function scaling values by their factor, rounding
// half to even and saturating to the range of dt. NaN quantizes to 0.
func quantizer[T int8 | int16](dt dtype.DType) func([]float64, factors) []T {
	lo, hi, _ := dt.Range()
	return func(src []float64, f factors) []T {
		out := make([]T, len(src))
		f.blocks(len(src), func(begin, end int, k float64) {
			for p := begin; p < end; p++ {
				out[p] = T(saturate(src[p]*k, lo, hi))
			}
		})
		return out
	}
}

func saturate(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(math.RoundToEven(v), lo), hi)
}

func dequantizer[T int8 | int16]() func([]T, factors) []float64 {
	return func(q []T, f factors) []float64 {
		out := make([]float64, len(q))
		f.blocks(len(q), func(begin, end int, k float64) {
			for p := begin; p < end; p++ {
				out[p] = float64(q[p]) / k
			}
		})
		return out
	}
}

// toFloat32 narrows values to float32, saturating to the largest finite
// float32 magnitude. NaN is kept.
func toFloat32(src []float64, _ factors) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		switch {
		case v > math.MaxFloat32:
			v = math.MaxFloat32
		case v < -math.MaxFloat32:
			v = -math.MaxFloat32
		}
		out[i] = float32(v)
	}
	return out
}

func fromFloat32(q []float32, _ factors) []float64 {
	out := make([]float64, len(q))
	for i, v := range q {
		out[i] = float64(v)
	}
	return out
}

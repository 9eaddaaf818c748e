// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ndindex walks the multi-indices of N-dimensional shapes,
// keeping track of the flat offsets they map to under one or more
// strided memory layouts.
package ndindex

import "fmt"

// Walker visits every multi-index of a shape in row-major order (the last
// dimension varies fastest).
//
// Along with the current index, the Walker maintains one flat offset per
// set of strides given at construction: the offset is the dot product of
// the index with the strides. Offsets are updated incrementally, so a full
// walk costs amortized O(1) per visited index and per stride set.
//
// A Walker over an empty shape visits a single (scalar) position. A
// Walker over a shape containing a zero dimension visits nothing.
type Walker struct {
	shape   []int
	strides [][]int
	index   []int
	offsets []int
	started bool
	done    bool
}

// New returns a Walker over the given shape, tracking an offset for each
// of the given stride sets.
//
// It panics if the length of any stride set differs from the length of
// the shape.
func New(shape []int, strides ...[]int) *Walker {
	for i, s := range strides {
		if len(s) != len(shape) {
			panic(fmt.Errorf("ndindex: stride set %d has length %d, expected %d", i, len(s), len(shape)))
		}
	}
	return &Walker{
		shape:   shape,
		strides: strides,
		index:   make([]int, len(shape)),
		offsets: make([]int, len(strides)),
	}
}

// NewRows returns a Walker over all the dimensions of shape but the
// innermost one, together with the length of the innermost dimension.
// This allows visiting a tensor one row at a time.
//
// For an empty shape, the Walker visits a single position and the row
// length is 1.
func NewRows(shape []int, strides ...[]int) (*Walker, int) {
	n := len(shape)
	if n == 0 {
		return New(nil, make([][]int, len(strides))...), 1
	}
	outer := make([][]int, len(strides))
	for i, s := range strides {
		if len(s) != n {
			panic(fmt.Errorf("ndindex: stride set %d has length %d, expected %d", i, len(s), n))
		}
		outer[i] = s[:n-1]
	}
	return New(shape[:n-1], outer...), shape[n-1]
}

// Next advances the Walker to the next index, reporting whether there is
// one. It must be called before accessing the first index.
func (w *Walker) Next() bool {
	if w.done {
		return false
	}
	if !w.started {
		w.started = true
		for _, v := range w.shape {
			if v <= 0 {
				w.done = true
				return false
			}
		}
		return true
	}
	for d := len(w.shape) - 1; d >= 0; d-- {
		w.index[d]++
		if w.index[d] < w.shape[d] {
			for k, s := range w.strides {
				w.offsets[k] += s[d]
			}
			return true
		}
		// carry: rewind this dimension and move on to the outer one
		for k, s := range w.strides {
			w.offsets[k] -= s[d] * (w.shape[d] - 1)
		}
		w.index[d] = 0
	}
	w.done = true
	return false
}

// Index returns the current multi-index.
// The returned slice is owned by the Walker and must not be modified;
// its content changes on each call to Next.
func (w *Walker) Index() []int {
	return w.index
}

// Offset returns the flat offset of the current index under the k-th
// stride set.
func (w *Walker) Offset(k int) int {
	return w.offsets[k]
}

// Len returns the total number of indices the Walker visits.
func (w *Walker) Len() int {
	n := 1
	for _, v := range w.shape {
		if v <= 0 {
			return 0
		}
		n *= v
	}
	return n
}

// Reset rewinds the Walker, so that the next call to Next starts over
// from the first index.
func (w *Walker) Reset() {
	for i := range w.index {
		w.index[i] = 0
	}
	for i := range w.offsets {
		w.offsets[i] = 0
	}
	w.started = false
	w.done = false
}

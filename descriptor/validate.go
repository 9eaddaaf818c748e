// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"
	"math"
	"math/bits"
)

// Validate checks the Shape, returning an error if a problem is
// encountered, otherwise nil.
//
// The schema Version is NOT checked here: which versions are acceptable
// depends on the consumer of the Shape.
//
// The Shape is checked against the following rules:
//
//   - there is at least one dimension
//   - StrideSource and StrideTarget have the same length as Shape
//   - every dimension is positive
//   - no stride is negative
//   - the number of elements, the source span and the target capacity
//     all fit within the "int" type
//   - StrideSource never addresses elements beyond the number of
//     elements of the tensor
//   - StrideTarget never addresses elements beyond the target capacity
func (s Shape) Validate() error {
	n := len(s.Shape)
	if n == 0 {
		return fmt.Errorf("shape has no dimensions")
	}
	if len(s.StrideSource) != n {
		return fmt.Errorf("source strides length %d differs from shape length %d", len(s.StrideSource), n)
	}
	if len(s.StrideTarget) != n {
		return fmt.Errorf("target strides length %d differs from shape length %d", len(s.StrideTarget), n)
	}
	for d, v := range s.Shape {
		if v <= 0 {
			return fmt.Errorf("shape contains non-positive value %d at dimension %d", v, d)
		}
		if s.StrideSource[d] < 0 {
			return fmt.Errorf("source strides contain negative value %d at dimension %d", s.StrideSource[d], d)
		}
		if s.StrideTarget[d] < 0 {
			return fmt.Errorf("target strides contain negative value %d at dimension %d", s.StrideTarget[d], d)
		}
	}
	if _, err := checkedProduct(s.Shape); err != nil {
		return fmt.Errorf("failed to compute number of elements: %w", err)
	}
	for d, v := range s.Shape {
		if _, err := checkedProduct([]int{v, s.StrideTarget[d]}); err != nil {
			return fmt.Errorf("failed to compute target capacity: %w", err)
		}
		if _, err := checkedProduct([]int{v, s.StrideSource[d]}); err != nil {
			return fmt.Errorf("failed to compute source span: %w", err)
		}
	}
	span, err := checkedSpan(s.Shape, s.StrideSource)
	if err != nil {
		return fmt.Errorf("failed to compute source span: %w", err)
	}
	if size := s.Size(); span > size {
		return fmt.Errorf("source strides address %d elements, shape holds %d", span, size)
	}
	if span, err = checkedSpan(s.Shape, s.StrideTarget); err != nil {
		return fmt.Errorf("failed to compute target span: %w", err)
	}
	if c := s.Capacity(); span > c {
		return fmt.Errorf("target strides address %d elements, capacity is %d", span, c)
	}
	return nil
}

// checkedSpan computes 1 + sum((shape[d]-1) * strides[d]) without
// overflowing int. Dimensions must be positive and strides non-negative.
func checkedSpan(shape, strides []int) (int, error) {
	span := uint(1)
	for d, v := range shape {
		hi, term := bits.Mul(uint(v-1), uint(strides[d]))
		var carry uint
		span, carry = bits.Add(span, term, 0)
		if hi != 0 || carry != 0 || span > math.MaxInt {
			return 0, fmt.Errorf("int overflow adding offsets of strides %v", strides)
		}
	}
	return int(span), nil
}

func checkedProduct(values []int) (int, error) {
	p := uint(1)
	for _, v := range values {
		var hi uint
		if hi, p = bits.Mul(p, uint(v)); hi != 0 || p > math.MaxInt {
			return 0, fmt.Errorf("int overflow multiplying %v", values)
		}
	}
	return int(p), nil
}

// Validate checks the Quantization against the dimensions of the tensor
// it applies to, returning an error if a problem is encountered,
// otherwise nil.
//
// At least one FixedPoint is required. When more than one is given, Axis
// must be a valid dimension of shape, and the number of FixedPoint
// values must match the size of that dimension. Every quantization
// factor must be finite and non-zero.
func (q Quantization) Validate(shape []int) error {
	if len(q.Params) == 0 {
		return fmt.Errorf("missing quantization parameters")
	}
	if q.PerChannel() {
		if q.Axis < 0 || q.Axis >= len(shape) {
			return fmt.Errorf("quantized axis %d out of range for %d dimensions", q.Axis, len(shape))
		}
		if len(q.Params) != shape[q.Axis] {
			return fmt.Errorf("expected %d quantization parameters along axis %d, actual %d", shape[q.Axis], q.Axis, len(q.Params))
		}
	}
	for i, p := range q.Params {
		f := p.Factor()
		if f == 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return fmt.Errorf("invalid quantization factor %g (radix %d, scale %g) at position %d", f, p.Radix, p.Scale, i)
		}
	}
	return nil
}

// Validate checks the Node's format, shape and quantization.
func (n Node) Validate() error {
	if err := n.Format.Validate(); err != nil {
		return err
	}
	if err := n.Shape.Validate(); err != nil {
		return fmt.Errorf("invalid shape: %w", err)
	}
	if n.Format.Kind().Quantized() {
		if err := n.Quantization.Validate(n.Shape.Shape); err != nil {
			return fmt.Errorf("invalid quantization: %w", err)
		}
	}
	return nil
}

// Validate checks every node of the Model, also making sure that no
// two input nodes, or two output nodes, share the same name or index.
func (m Model) Validate() error {
	if err := validateNodes(m.Inputs); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if err := validateNodes(m.Outputs); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	return nil
}

func validateNodes(nodes []Node) error {
	names := make(map[string]struct{}, len(nodes))
	indices := make(map[int]struct{}, len(nodes))
	for _, n := range nodes {
		if _, ok := names[n.Name]; ok {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		names[n.Name] = struct{}{}
		if _, ok := indices[n.Index]; ok {
			return fmt.Errorf("duplicate node index %d", n.Index)
		}
		indices[n.Index] = struct{}{}
		if err := n.Validate(); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
	}
	return nil
}

// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package descriptor describes the tensors a compiled NPU model exchanges
// with the host: their shape and strided layouts, their quantization
// parameters and their hardware data format.
package descriptor

import (
	"math"

	"github.com/nlpodyssey/npulayout/layout"
)

// ShapeVersion identifies the schema of shape information.
type ShapeVersion int

const (
	// ShapeVersionUnknown is the zero value of ShapeVersion.
	ShapeVersionUnknown ShapeVersion = 0
	// ShapeVersion1 is the shape information schema of earlier NPU
	// generations, without separate source and target strides.
	ShapeVersion1 ShapeVersion = 1
	// ShapeVersion2 is the shape information schema carrying both source
	// and target strides.
	ShapeVersion2 ShapeVersion = 2
)

// Shape describes the dimensions of a tensor and the two strided memory
// layouts it is translated between.
type Shape struct {
	Version ShapeVersion `yaml:"version"`
	// Shape holds the size of each dimension.
	Shape []int `yaml:"shape"`
	// StrideSource holds, for each dimension, the distance in elements
	// between consecutive indices in the source (row-major) layout.
	StrideSource []int `yaml:"stride_source"`
	// StrideTarget holds, for each dimension, the distance in elements
	// between consecutive indices in the target (hardware) layout.
	// Padding gaps are allowed.
	StrideTarget []int `yaml:"stride_target"`
}

// Size returns the number of elements of the tensor.
func (s Shape) Size() int {
	n := 1
	for _, v := range s.Shape {
		n *= v
	}
	return n
}

// Capacity returns the number of elements a buffer in the target layout
// must hold, that is the maximum over all dimensions of the dimension
// size times its target stride.
func (s Shape) Capacity() int {
	c := 0
	for d, v := range s.Shape {
		c = max(c, v*s.StrideTarget[d])
	}
	return c
}

// SourceSpan returns the minimum length of a source buffer that can be
// addressed through StrideSource. The Shape must be valid.
func (s Shape) SourceSpan() int {
	span := 1
	for d, v := range s.Shape {
		span += (v - 1) * s.StrideSource[d]
	}
	return span
}

// TargetSpan returns the minimum length of a target buffer that can be
// addressed through StrideTarget. The Shape must be valid.
func (s Shape) TargetSpan() int {
	span := 1
	for d, v := range s.Shape {
		span += (v - 1) * s.StrideTarget[d]
	}
	return span
}

// ContiguousStrides returns the row-major strides of a tensor with the
// given dimensions.
func ContiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = step
		step *= shape[d]
	}
	return strides
}

// NoAxis is the Quantization.Axis value of per-tensor quantization.
const NoAxis = -1

// FixedPoint is one set of fixed-point quantization parameters.
type FixedPoint struct {
	// Radix is the power-of-two exponent of the fixed-point scaling.
	Radix int `yaml:"radix"`
	// Scale is the additional multiplicative factor.
	Scale float64 `yaml:"scale"`
}

// Factor returns the value floating-point inputs are multiplied by,
// that is 2^Radix * Scale.
func (fp FixedPoint) Factor() float64 {
	return math.Ldexp(fp.Scale, fp.Radix)
}

// Quantization describes how floating-point values are converted to
// fixed-point.
type Quantization struct {
	// Axis is the dimension along which parameters vary. It is only
	// relevant when Params has more than one element.
	Axis int `yaml:"axis"`
	// Params holds one FixedPoint per position along Axis, or a single
	// FixedPoint applied to the whole tensor.
	Params []FixedPoint `yaml:"params"`
}

// PerChannel reports whether parameters vary along Axis.
func (q Quantization) PerChannel() bool {
	return len(q.Params) > 1
}

// Factors returns the quantization factor of each element of Params.
func (q Quantization) Factors() []float64 {
	f := make([]float64, len(q.Params))
	for i, p := range q.Params {
		f[i] = p.Factor()
	}
	return f
}

// Node describes one input or output tensor of a model.
type Node struct {
	Index        int           `yaml:"index"`
	Name         string        `yaml:"name"`
	Format       layout.Format `yaml:"format"`
	Shape        Shape         `yaml:"shape_info"`
	Quantization Quantization  `yaml:"quantization"`
}

// Model describes the tensors of a compiled NPU model.
type Model struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	Inputs  []Node `yaml:"inputs"`
	Outputs []Node `yaml:"outputs"`
}

// Input looks up an input node by name. A reference of the form "#<n>"
// selects the node with Index n instead. The boolean flag reports whether
// the node was found.
func (m Model) Input(ref string) (Node, bool) {
	return findNode(m.Inputs, ref)
}

// Output is like Input, for output nodes.
func (m Model) Output(ref string) (Node, bool) {
	return findNode(m.Outputs, ref)
}

func findNode(nodes []Node, ref string) (Node, bool) {
	if idx, ok := parseIndexRef(ref); ok {
		for _, n := range nodes {
			if n.Index == idx {
				return n, true
			}
		}
		return Node{}, false
	}
	for _, n := range nodes {
		if n.Name == ref {
			return n, true
		}
	}
	return Node{}, false
}

func parseIndexRef(ref string) (int, bool) {
	if len(ref) < 2 || ref[0] != '#' {
		return 0, false
	}
	n := 0
	for _, c := range ref[1:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

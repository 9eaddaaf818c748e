// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npulayout

import (
	"fmt"

	"github.com/nlpodyssey/npulayout/descriptor"
	"github.com/nlpodyssey/npulayout/layout"
)

// Restore is the inverse of Convert: it reads the elements of an NPU
// buffer in the layout of the given Kind and returns them as a row-major
// tensor of float64 values, divided by their quantization factor.
//
// Elements are placed at their shape.StrideSource offsets; the result
// holds shape.Size() values. Quantized values carry the precision of the
// layout: SplitHighLow8B values lose their least significant bit.
//
// It fails with the same errors as Convert, and when buf is shorter than
// kind.BufferSize(shape.Capacity()). Bytes past that size are ignored.
func Restore(buf []byte, shape descriptor.Shape, quant descriptor.Quantization, kind layout.Kind) ([]float64, error) {
	if err := checkConversion(shape, quant, kind); err != nil {
		return nil, err
	}
	if size := kind.BufferSize(shape.Capacity()); len(buf) < size {
		return nil, fmt.Errorf("buffer has %d bytes, %s layout of shape %v requires %d", len(buf), kind, shape.Shape, size)
	}
	return handlers[kind].unpack(buf, shape, conversionFactors(shape, quant, kind)), nil
}

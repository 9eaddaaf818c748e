// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"

	"github.com/nlpodyssey/npulayout/dtype"
)

// Kind identifies one of the packing schemes an NPU input buffer can be
// laid out with.
//
// New hardware layouts must be added as new Kind values, each with its
// own handler in the converter.
type Kind uint8

const (
	// Planar8B stores each quantized element as one signed byte.
	Planar8B Kind = iota + 1
	// Planar16B stores each quantized element as a little-endian int16.
	Planar16B
	// SplitHighLow8B stores each 16-bit quantized element as two bytes,
	// 16 positions apart: the low 7 bits and the following 8 bits of the
	// value shifted right by one. Groups of 16 elements are spread
	// over 32 bytes.
	SplitHighLow8B
	// RawFloat stores each element as a little-endian float32, without
	// any quantization.
	RawFloat
)

// Constants of the SplitHighLow8B packing.
const (
	// SplitGroupSize is the number of elements sharing one group.
	SplitGroupSize = 16
	// SplitHighOffset is the distance, in bytes, between the low and the
	// high part of an element.
	SplitHighOffset = 16
	// SplitLowMask selects the bits stored in the low byte.
	SplitLowMask = 0x7f
	// SplitHighShift is the position of the first bit stored in the
	// high byte.
	SplitHighShift = 7
)

var (
	kindToString = [...]string{
		Planar8B:       "PLANAR_8B",
		Planar16B:      "PLANAR_16B",
		SplitHighLow8B: "SPLIT_HIGH_LOW_8B",
		RawFloat:       "RAW_FLOAT",
	}
	kindToDType = [...]dtype.DType{
		Planar8B:       dtype.I8,
		Planar16B:      dtype.I16,
		SplitHighLow8B: dtype.I16,
		RawFloat:       dtype.F32,
	}
	stringToKind = map[string]Kind{
		"PLANAR_8B":         Planar8B,
		"PLANAR_16B":        Planar16B,
		"SPLIT_HIGH_LOW_8B": SplitHighLow8B,
		"RAW_FLOAT":         RawFloat,
	}
)

// Validate returns an error if the Kind is not valid, otherwise nil.
func (k Kind) Validate() error {
	if k == 0 || k > RawFloat {
		return fmt.Errorf("invalid Kind(%d)", k)
	}
	return nil
}

// String returns a string representation of a Kind.
func (k Kind) String() string {
	if err := k.Validate(); err != nil {
		return err.Error()
	}
	return kindToString[k]
}

// DType returns the data type quantized values are stored with,
// or 0 if the Kind is not valid.
func (k Kind) DType() dtype.DType {
	if k.Validate() != nil {
		return 0
	}
	return kindToDType[k]
}

// Quantized reports whether input values are quantized to fixed-point
// before being packed.
func (k Kind) Quantized() bool {
	return k != RawFloat
}

// BufferSize returns the size in bytes of a buffer able to hold a tensor
// whose target layout spans "capacity" elements, or -1 if the Kind is
// not valid.
//
// For SplitHighLow8B the size is rounded up to a whole group, since the
// high part of the last element lands SplitHighOffset bytes after its
// low part.
func (k Kind) BufferSize(capacity int) int {
	switch k {
	case Planar8B, Planar16B, RawFloat:
		return capacity * k.DType().Size()
	case SplitHighLow8B:
		groups := (capacity + SplitGroupSize - 1) / SplitGroupSize
		return groups * 2 * SplitGroupSize
	}
	return -1
}

// SplitOffset maps an element offset of the target layout to the byte
// offset of its low part within a SplitHighLow8B buffer.
func SplitOffset(offset int) int {
	return ((offset >> 4) << 5) | (offset & 15)
}

// MarshalText satisfies encoding.TextMarshaler interface.
func (k Kind) MarshalText() ([]byte, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return []byte(kindToString[k]), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler interface.
func (k *Kind) UnmarshalText(text []byte) error {
	v, ok := stringToKind[string(text)]
	if !ok {
		return fmt.Errorf("failed to text-unmarshal Kind from value %q", string(text))
	}
	*k = v
	return nil
}

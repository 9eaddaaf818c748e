// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtype

import (
	"fmt"
	"math"
)

// DType represents the data type of tensor elements, either on the host
// side (source tensors) or on the NPU side (quantized storage).
type DType uint8

const (
	// U8 represents an 8-bit unsigned integer data type.
	U8 DType = iota + 1
	// I8 represents an 8-bit signed integer data type.
	I8
	// I16 represents a 16-bit signed integer data type.
	I16
	// F16 represents a 16-bit half-precision floating point data type.
	F16
	// BF16 represents a 16-bit brain floating point data type.
	BF16
	// F32 represents a 32-bit floating point data type.
	F32
	// F64 represents a 64-bit floating point data type.
	F64
)

var (
	dTypeToString = [...]string{
		U8:   "U8",
		I8:   "I8",
		I16:  "I16",
		F16:  "F16",
		BF16: "BF16",
		F32:  "F32",
		F64:  "F64",
	}
	dTypeToSize = [...]int{
		U8:   1,
		I8:   1,
		I16:  2,
		F16:  2,
		BF16: 2,
		F32:  4,
		F64:  8,
	}
	stringToDType = map[string]DType{
		"U8":   U8,
		"I8":   I8,
		"I16":  I16,
		"F16":  F16,
		"BF16": BF16,
		"F32":  F32,
		"F64":  F64,
	}
)

// valueRange is the saturation interval of a quantization target type.
type valueRange struct {
	min, max float64
}

// Only types the NPU stores quantized input in have a range.
var dTypeToRange = map[DType]valueRange{
	I8:  {math.MinInt8, math.MaxInt8},
	I16: {math.MinInt16, math.MaxInt16},
	F32: {-math.MaxFloat32, math.MaxFloat32},
}

// Validate returns an error if the DType is not valid, otherwise nil.
func (dt DType) Validate() error {
	if dt == 0 || dt > F64 {
		return fmt.Errorf("invalid DType(%d)", dt)
	}
	return nil
}

// String returns a string representation of a DType.
func (dt DType) String() string {
	if err := dt.Validate(); err != nil {
		return err.Error()
	}
	return dTypeToString[dt]
}

// Size returns the size in bytes of one element of this data type,
// or -1 if the DType value is invalid.
func (dt DType) Size() int {
	if err := dt.Validate(); err != nil {
		return -1
	}
	return dTypeToSize[dt]
}

// Range returns the interval values are clamped to when quantizing to
// this data type. The boolean result reports whether the DType is a
// valid quantization target (I8, I16 or F32).
func (dt DType) Range() (lo, hi float64, ok bool) {
	r, ok := dTypeToRange[dt]
	return r.min, r.max, ok
}

// MarshalJSON satisfies json.Marshaler interface.
func (dt DType) MarshalJSON() ([]byte, error) {
	if err := dt.Validate(); err != nil {
		return nil, err
	}
	return []byte(`"` + dTypeToString[dt] + `"`), nil
}

// UnmarshalJSON satisfies json.Unmarshaler interface.
func (dt *DType) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("failed to JSON-unmarshal DType from value %q", s)
	}
	v, ok := stringToDType[s[1:len(s)-1]]
	if !ok {
		return fmt.Errorf("failed to JSON-unmarshal DType from value %q", s)
	}
	*dt = v
	return nil
}

// MarshalText satisfies encoding.TextMarshaler interface.
func (dt DType) MarshalText() ([]byte, error) {
	if err := dt.Validate(); err != nil {
		return nil, err
	}
	return []byte(dTypeToString[dt]), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler interface.
func (dt *DType) UnmarshalText(text []byte) error {
	v, ok := stringToDType[string(text)]
	if !ok {
		return fmt.Errorf("failed to text-unmarshal DType from value %q", string(text))
	}
	*dt = v
	return nil
}

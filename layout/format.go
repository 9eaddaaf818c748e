// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import "fmt"

// Format is a concrete tensor data layout, as reported by the model
// descriptor of a compiled NPU model. Several formats share the same
// packing Kind and differ only in the strides of the target layout,
// which are described separately.
type Format uint8

const (
	// Format4W4C8B is the 4-width, 4-channel 8-bit layout.
	Format4W4C8B Format = iota + 1
	// Format1W16C8B is the 1-width, 16-channel 8-bit layout.
	Format1W16C8B
	// Format16W1C8B is the 16-width, 1-channel 8-bit layout.
	Format16W1C8B
	// FormatRaw8B is the unpadded 8-bit layout.
	FormatRaw8B
	// Format8W1C16B is the 8-width, 1-channel 16-bit layout.
	Format8W1C16B
	// FormatRaw16B is the unpadded 16-bit layout.
	FormatRaw16B
	// Format4W4C8BHL is the 4-width, 4-channel 16-bit layout split into
	// high and low bytes.
	Format4W4C8BHL
	// Format1W16C8BHL is the 1-width, 16-channel 16-bit layout split into
	// high and low bytes.
	Format1W16C8BHL
	// Format16W1C8BHL is the 16-width, 1-channel 16-bit layout split into
	// high and low bytes.
	Format16W1C8BHL
	// FormatRawFloat is the unpadded 32-bit floating point layout.
	FormatRawFloat
)

var (
	formatToString = [...]string{
		Format4W4C8B:    "4W4C8B",
		Format1W16C8B:   "1W16C8B",
		Format16W1C8B:   "16W1C8B",
		FormatRaw8B:     "RAW_8B",
		Format8W1C16B:   "8W1C16B",
		FormatRaw16B:    "RAW_16B",
		Format4W4C8BHL:  "4W4C8BHL",
		Format1W16C8BHL: "1W16C8BHL",
		Format16W1C8BHL: "16W1C8BHL",
		FormatRawFloat:  "RAW_FLOAT",
	}
	formatToKind = [...]Kind{
		Format4W4C8B:    Planar8B,
		Format1W16C8B:   Planar8B,
		Format16W1C8B:   Planar8B,
		FormatRaw8B:     Planar8B,
		Format8W1C16B:   Planar16B,
		FormatRaw16B:    Planar16B,
		Format4W4C8BHL:  SplitHighLow8B,
		Format1W16C8BHL: SplitHighLow8B,
		Format16W1C8BHL: SplitHighLow8B,
		FormatRawFloat:  RawFloat,
	}
	stringToFormat = make(map[string]Format, len(formatToString))
)

func init() {
	for f, s := range formatToString {
		if s != "" {
			stringToFormat[s] = Format(f)
		}
	}
}

// Validate returns an error if the Format is not valid, otherwise nil.
func (f Format) Validate() error {
	if f == 0 || f > FormatRawFloat {
		return fmt.Errorf("invalid Format(%d)", f)
	}
	return nil
}

// String returns a string representation of a Format.
func (f Format) String() string {
	if err := f.Validate(); err != nil {
		return err.Error()
	}
	return formatToString[f]
}

// Kind returns the packing scheme of the Format, or 0 (an invalid Kind)
// if the Format is not valid.
func (f Format) Kind() Kind {
	if f.Validate() != nil {
		return 0
	}
	return formatToKind[f]
}

// MarshalText satisfies encoding.TextMarshaler interface.
func (f Format) MarshalText() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return []byte(formatToString[f]), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler interface.
func (f *Format) UnmarshalText(text []byte) error {
	v, ok := stringToFormat[string(text)]
	if !ok {
		return fmt.Errorf("failed to text-unmarshal Format from value %q", string(text))
	}
	*f = v
	return nil
}

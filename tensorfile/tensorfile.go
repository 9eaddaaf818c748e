// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tensorfile reads the floating-point tensors to be converted for
// an NPU from safetensors data streams, and writes restored tensors back
// in the same format.
package tensorfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/nlpodyssey/npulayout/dtype"
	"github.com/x448/float16"
)

// Tensor is a named tensor with row-major float64 data.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// File is the content of a safetensors data stream.
type File struct {
	// Tensors are sorted by their position in the byte-buffer.
	Tensors  []Tensor
	Metadata map[string]string
}

// Tensor looks up a tensor by name.
func (f File) Tensor(name string) (Tensor, bool) {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}

// Read reads and interprets the whole content of a safetensors data
// stream, converting the data of every tensor to float64.
//
// Supported data types are U8, I8, I16, F16, BF16, F32 and F64.
//
// If headerSizeLimit is a positive number, no more than that many bytes
// are read for the header, as a guard against giant allocations caused
// by tampered or garbage data. Zero or a negative number disable the
// limit.
func Read(r io.Reader, headerSizeLimit int) (File, error) {
	hr := r
	if headerSizeLimit > 0 {
		hr = io.LimitReader(r, int64(headerSizeLimit))
	}
	head, err := readHeader(hr)
	if err != nil {
		return File{}, fmt.Errorf("failed to read safetensors header: %w", err)
	}
	if err = head.validate(); err != nil {
		return File{}, fmt.Errorf("safetensors header is invalid: %w", err)
	}

	f := File{
		Tensors:  make([]Tensor, len(head.tensors)),
		Metadata: head.metadata,
	}
	for i, ht := range head.tensors {
		if f.Tensors[i], err = readTensor(ht, r); err != nil {
			return File{}, fmt.Errorf("failed to read data of tensor %q: %w", ht.Name, err)
		}
	}
	return f, nil
}

// readTensor reads and decodes the data of ht from r.
// The buffer grows with the data actually read, so that a header
// claiming more bytes than the stream holds fails at the end of the
// stream instead of allocating the claimed size up front.
func readTensor(ht headerTensor, r io.Reader) (Tensor, error) {
	var b bytes.Buffer
	if _, err := io.CopyN(&b, r, int64(ht.byteLen())); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Tensor{}, fmt.Errorf("failed to read tensor data: %w", err)
	}
	raw := b.Bytes()
	decode, ok := decoders[ht.DType]
	if !ok {
		return Tensor{}, fmt.Errorf("invalid or unsupported DType %s", ht.DType)
	}
	size := ht.DType.Size()
	data := make([]float64, len(raw)/size)
	for i := range data {
		data[i] = decode(raw[i*size:])
	}
	return Tensor{Name: ht.Name, Shape: ht.Shape, Data: data}, nil
}

var decoders = map[dtype.DType]func([]byte) float64{
	dtype.U8: func(b []byte) float64 { return float64(b[0]) },
	dtype.I8: func(b []byte) float64 { return float64(int8(b[0])) },
	dtype.I16: func(b []byte) float64 {
		return float64(int16(binary.LittleEndian.Uint16(b)))
	},
	dtype.F16: func(b []byte) float64 {
		return float64(float16.Frombits(binary.LittleEndian.Uint16(b)).Float32())
	},
	dtype.BF16: func(b []byte) float64 {
		return float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16))
	},
	dtype.F32: func(b []byte) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	},
	dtype.F64: func(b []byte) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	},
}

// Write serializes the given tensors and metadata to safetensors format,
// storing the data of every tensor as F32.
func Write(w io.Writer, tensors []Tensor, metadata map[string]string) error {
	head := header{
		tensors:  make([]headerTensor, len(tensors)),
		metadata: metadata,
	}
	offset := 0
	for i, t := range tensors {
		size := 1
		for _, v := range t.Shape {
			size *= v
		}
		if size != len(t.Data) {
			return fmt.Errorf("tensor %q: shape %v requires %d elements, actual %d", t.Name, t.Shape, size, len(t.Data))
		}
		end := offset + size*dtype.F32.Size()
		head.tensors[i] = headerTensor{
			Name:        t.Name,
			DType:       dtype.F32,
			Shape:       t.Shape,
			DataOffsets: dataOffsets{offset, end},
		}
		offset = end
	}
	if err := head.validate(); err != nil {
		return fmt.Errorf("failed to generate a valid header: %w", err)
	}
	if err := head.write(w); err != nil {
		return err
	}

	for _, t := range tensors {
		buf := make([]byte, 0, 4*len(t.Data))
		for _, v := range t.Data {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to write data of tensor %q: %w", t.Name, err)
		}
	}
	return nil
}

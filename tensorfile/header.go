// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensorfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/bits"
	"sort"

	"github.com/nlpodyssey/npulayout/dtype"
)

const metadataKey = "__metadata__"

// header is the decoded JSON header of a safetensors stream.
type header struct {
	// tensors are sorted by ascending data offsets.
	tensors  []headerTensor
	metadata map[string]string
	// byteBufferOffset is the position of the byte-buffer relative to the
	// beginning of the data stream.
	byteBufferOffset int64
}

type headerTensor struct {
	Name        string      `json:"-"`
	DType       dtype.DType `json:"dtype"`
	Shape       []int       `json:"shape"`
	DataOffsets dataOffsets `json:"data_offsets"`
}

// dataOffsets is the [begin, end) byte range of a tensor's data within
// the byte-buffer.
type dataOffsets [2]int

// UnmarshalJSON rejects arrays not made of exactly two numbers.
func (d *dataOffsets) UnmarshalJSON(b []byte) error {
	var decoded []int
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	if len(decoded) != 2 {
		return fmt.Errorf("invalid data-offsets value: %q", string(b))
	}
	*d = dataOffsets{decoded[0], decoded[1]}
	return nil
}

func (t headerTensor) byteLen() int {
	return t.DataOffsets[1] - t.DataOffsets[0]
}

// readHeader reads the header size and the JSON header from r.
func readHeader(r io.Reader) (header, error) {
	var arr [8]byte
	if _, err := io.ReadFull(r, arr[:]); err != nil {
		return header{}, fmt.Errorf("failed to read header size: %w", err)
	}
	size := binary.LittleEndian.Uint64(arr[:])
	switch {
	case size < 2: // a bare minimum header is "{}"
		return header{}, fmt.Errorf("header size too small: %d", size)
	case size > math.MaxInt-8:
		return header{}, fmt.Errorf("header size too large: %d", size)
	}

	raw, err := readRawHeader(r, int64(size))
	if err != nil {
		return header{}, fmt.Errorf("failed to JSON-decode header: %w", err)
	}
	h, err := convertRawHeader(raw)
	if err != nil {
		return header{}, err
	}
	h.byteBufferOffset = 8 + int64(size)
	return h, nil
}

func readRawHeader(r io.Reader, size int64) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(&io.LimitedReader{R: r, N: size})

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	// padding spaces may follow the JSON object
	if off := dec.InputOffset(); off != size {
		if _, err := dec.Token(); err == nil {
			return nil, fmt.Errorf("unexpected data at byte offset %d", off)
		} else if err != io.EOF {
			return nil, err
		}
	}
	return raw, nil
}

func convertRawHeader(raw map[string]json.RawMessage) (h header, err error) {
	if rawMeta, ok := raw[metadataKey]; ok {
		delete(raw, metadataKey)
		if err = json.Unmarshal(rawMeta, &h.metadata); err != nil {
			return header{}, fmt.Errorf("failed to interpret header metadata: %w", err)
		}
		if len(h.metadata) == 0 {
			h.metadata = nil
		}
	}
	for name, rawTensor := range raw {
		t := headerTensor{Name: name}
		dec := json.NewDecoder(bytes.NewReader(rawTensor))
		dec.DisallowUnknownFields()
		if err = dec.Decode(&t); err != nil {
			return header{}, fmt.Errorf("failed to interpret header tensor %q: %w", name, err)
		}
		h.tensors = append(h.tensors, t)
	}
	sort.Slice(h.tensors, func(i, j int) bool {
		a, b := h.tensors[i].DataOffsets, h.tensors[j].DataOffsets
		if a != b {
			return a[0] < b[0] || (a[0] == b[0] && a[1] < b[1])
		}
		return h.tensors[i].Name < h.tensors[j].Name
	})
	return h, nil
}

// validate checks that the data of the tensors covers a contiguous area
// of the byte-buffer starting from offset 0, without overlaps, and that
// the size of each tensor matches its shape and data type.
func (h header) validate() error {
	expectedBegin := 0
	for _, t := range h.tensors {
		if err := t.validate(expectedBegin); err != nil {
			return fmt.Errorf("invalid tensor %q: %w", t.Name, err)
		}
		expectedBegin = t.DataOffsets[1]
	}
	return nil
}

func (t headerTensor) validate(expectedBegin int) error {
	begin, end := t.DataOffsets[0], t.DataOffsets[1]
	if begin != expectedBegin {
		return fmt.Errorf("expected data-offsets begin %d, actual %d", expectedBegin, begin)
	}
	if end < begin {
		return fmt.Errorf("expected data-offsets end >= %d (begin), actual %d", begin, end)
	}
	if err := t.DType.Validate(); err != nil {
		return err
	}
	size := uint(t.DType.Size())
	for _, v := range t.Shape {
		if v < 0 {
			return fmt.Errorf("shape contains negative value %d", v)
		}
		var hi uint
		if hi, size = bits.Mul(size, uint(v)); hi != 0 || size > math.MaxInt {
			return fmt.Errorf("int overflow computing tensor byte size from shape")
		}
	}
	if int(size) != end-begin {
		return fmt.Errorf("byte size computed from shape (%d) differs from data-offsets size (%d)", size, end-begin)
	}
	return nil
}

var headerPadding = [8]byte{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}

// write writes the header size and the JSON header to w, padded with
// spaces to a multiple of 8 bytes.
func (h header) write(w io.Writer) error {
	obj := make(map[string]any, len(h.tensors)+1)
	for _, t := range h.tensors {
		if _, ok := obj[t.Name]; ok || t.Name == metadataKey {
			return fmt.Errorf("duplicate or reserved tensor name %q", t.Name)
		}
		if t.Shape == nil {
			t.Shape = []int{}
		}
		obj[t.Name] = t
	}
	if len(h.metadata) > 0 {
		obj[metadataKey] = h.metadata
	}
	jsonHeader, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to JSON-encode header: %w", err)
	}

	toAlign := (8 - len(jsonHeader)%8) % 8
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(len(jsonHeader)+toAlign))
	if _, err = w.Write(size[:]); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err = w.Write(jsonHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err = w.Write(headerPadding[:toAlign]); err != nil {
		return fmt.Errorf("failed to write header padding: %w", err)
	}
	return nil
}

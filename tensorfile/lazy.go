// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensorfile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
)

// Lazy allows to read the data of individual tensors of a safetensors
// data stream, loading only the header in advance.
type Lazy struct {
	rs   io.ReadSeeker
	head header
	// dataOffset is the byte-buffer offset relative to the start of rs
	dataOffset int64
}

// OpenLazy reads from "rs" the safetensors header and validates it.
//
// The meaning of headerSizeLimit is the same as for Read.
//
// The current "seek" position of "rs" is used as a base for all further
// seek-based operations. The given io.ReadSeeker must remain available
// as long as tensors are read from the Lazy object: if "rs" is a file,
// it should not be closed until all the needed tensors are loaded.
func OpenLazy(rs io.ReadSeeker, headerSizeLimit int) (*Lazy, error) {
	initialOffset, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial offset: %w", err)
	}

	var r io.Reader = rs
	if headerSizeLimit > 0 {
		r = io.LimitReader(rs, int64(headerSizeLimit))
	}
	head, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read safetensors header: %w", err)
	}
	if err = head.validate(); err != nil {
		return nil, fmt.Errorf("safetensors header is invalid: %w", err)
	}

	dataOffset, err := checkedAddNonNegInt64(initialOffset, head.byteBufferOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate total byte-buffer offset: %w", err)
	}
	return &Lazy{rs: rs, head: head, dataOffset: dataOffset}, nil
}

// Metadata returns the free-form key/value string pairs of the header.
// It can be nil.
func (l *Lazy) Metadata() map[string]string {
	return l.head.metadata
}

// Names returns the names of all tensors, sorted by their position in
// the byte-buffer.
func (l *Lazy) Names() []string {
	if len(l.head.tensors) == 0 {
		return nil
	}
	names := make([]string, len(l.head.tensors))
	for i, t := range l.head.tensors {
		names[i] = t.Name
	}
	return names
}

// Tensor reads and converts to float64 the data of the named tensor.
// The boolean result reports whether the tensor exists.
func (l *Lazy) Tensor(name string) (Tensor, bool, error) {
	for _, ht := range l.head.tensors {
		if ht.Name != name {
			continue
		}
		offset, err := checkedAddNonNegInt64(l.dataOffset, int64(ht.DataOffsets[0]))
		if err != nil {
			return Tensor{}, true, fmt.Errorf("failed to calculate tensor data offset: %w", err)
		}
		if _, err = l.rs.Seek(offset, io.SeekStart); err != nil {
			return Tensor{}, true, fmt.Errorf("failed to seek to tensor data offset: %w", err)
		}
		t, err := readTensor(ht, l.rs)
		if err != nil {
			return Tensor{}, true, fmt.Errorf("failed to read data of tensor %q: %w", name, err)
		}
		return t, true, nil
	}
	return Tensor{}, false, nil
}

var errInt64SumOverflow = errors.New("int64 sum overflow")

func checkedAddNonNegInt64(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("unexpected negative number")
	}
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 || sum > math.MaxInt64 {
		return 0, errInt64SumOverflow
	}
	return int64(sum), nil
}

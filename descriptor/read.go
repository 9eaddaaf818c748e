// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Read decodes a Model from a YAML document read from "r". Since YAML is
// a superset of JSON, JSON documents are accepted as well.
//
// Unknown keys are rejected, so that a descriptor written for a different
// schema fails loudly instead of being partially interpreted.
//
// Note that after successfully reading and decoding, NO validation is
// performed on the obtained Model (see Model.Validate).
func Read(r io.Reader) (Model, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Model
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Model{}, errors.New("failed to decode model descriptor: empty document")
		}
		return Model{}, fmt.Errorf("failed to decode model descriptor: %w", err)
	}
	return m, nil
}

// ReadFile reads, decodes and validates the model descriptor stored in
// the named file.
func ReadFile(name string) (Model, error) {
	f, err := os.Open(name)
	if err != nil {
		return Model{}, err
	}
	defer f.Close()

	m, err := Read(f)
	if err != nil {
		return Model{}, fmt.Errorf("%s: %w", name, err)
	}
	if err = m.Validate(); err != nil {
		return Model{}, fmt.Errorf("%s: model descriptor is invalid: %w", name, err)
	}
	return m, nil
}

// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npulayout

import (
	"fmt"

	"github.com/nlpodyssey/npulayout/descriptor"
	"github.com/nlpodyssey/npulayout/layout"
)

// UnsupportedShapeVersionError is returned when the shape information of
// a tensor follows a schema other than descriptor.ShapeVersion2.
type UnsupportedShapeVersionError struct {
	Version descriptor.ShapeVersion
}

func (e *UnsupportedShapeVersionError) Error() string {
	return fmt.Sprintf("unsupported tensor shape information version %d", e.Version)
}

// UnsupportedLayoutError is returned when the requested hardware layout is
// not one of the known layout.Kind values.
type UnsupportedLayoutError struct {
	Kind layout.Kind
}

func (e *UnsupportedLayoutError) Error() string {
	return fmt.Sprintf("unsupported data layout: %s", e.Kind)
}

// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npulayout

import (
	"context"
	"fmt"

	"github.com/nlpodyssey/npulayout/descriptor"
	"golang.org/x/sync/errgroup"
)

// ConvertNode converts src for the given model node, using the node's
// shape, quantization and the Kind of its data format.
func ConvertNode(src []float64, n descriptor.Node) ([]byte, error) {
	return Convert(src, n.Shape, n.Quantization, n.Format.Kind())
}

// RestoreNode restores the NPU buffer of the given model node.
func RestoreNode(buf []byte, n descriptor.Node) ([]float64, error) {
	return Restore(buf, n.Shape, n.Quantization, n.Format.Kind())
}

// ConvertNodes converts each of the inputs for the node at the same
// position, concurrently. The i-th returned buffer belongs to nodes[i].
//
// The first failure cancels the conversions not yet started, and is
// returned alone, without any buffer. Cancellation of ctx is reported
// the same way.
func ConvertNodes(ctx context.Context, nodes []descriptor.Node, inputs [][]float64) ([][]byte, error) {
	if len(nodes) != len(inputs) {
		return nil, fmt.Errorf("expected %d input tensors, actual %d", len(nodes), len(inputs))
	}

	out := make([][]byte, len(nodes))
	g, ctx := errgroup.WithContext(ctx)
	for i := range nodes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf, err := ConvertNode(inputs[i], nodes[i])
			if err != nil {
				return fmt.Errorf("input node %q: %w", nodes[i].Name, err)
			}
			out[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// npuconv packs tensors stored in safetensors files into the input
// buffers of an NPU model, and unpacks NPU buffers back into tensors.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/nlpodyssey/npulayout"
	"github.com/nlpodyssey/npulayout/descriptor"
	"github.com/nlpodyssey/npulayout/tensorfile"
)

const headerSizeLimit = 100_000_000

type options struct {
	model  string
	node   string
	input  string
	tensor string
	output string
	unpack bool
}

func main() {
	parser := argparse.NewParser("npuconv", "Convert tensors to and from NPU data layouts")
	model := parser.String("m", "model", &argparse.Options{Help: "Model descriptor file (YAML or JSON)", Required: true})
	node := parser.String("n", "node", &argparse.Options{Help: "Node name, or #index. If omitted, every input node is packed", Default: ""})
	input := parser.String("i", "input", &argparse.Options{Help: "Input safetensors file, or NPU buffer with --unpack", Required: true})
	tensor := parser.String("t", "tensor", &argparse.Options{Help: "Name of the tensor to pack, if the input holds many", Default: ""})
	output := parser.String("o", "output", &argparse.Options{Help: "Output file, or directory when packing every input node", Required: true})
	unpack := parser.Flag("u", "unpack", &argparse.Options{Help: "Restore an NPU buffer into a safetensors file", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	opt := options{
		model:  *model,
		node:   *node,
		input:  *input,
		tensor: *tensor,
		output: *output,
		unpack: *unpack,
	}
	if err = run(context.Background(), logger, opt); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log logs.Log, opt options) error {
	model, err := descriptor.ReadFile(opt.model)
	if err != nil {
		return err
	}
	log.Infof("Loaded model %d %q: %d inputs, %d outputs", model.ID, model.Name, len(model.Inputs), len(model.Outputs))

	switch {
	case opt.unpack:
		return unpackNode(log, model, opt)
	case opt.node == "":
		return packAll(ctx, log, model, opt)
	}
	return packNode(log, model, opt)
}

func packNode(log logs.Log, model descriptor.Model, opt options) error {
	n, ok := model.Input(opt.node)
	if !ok {
		return fmt.Errorf("input node %q not found", opt.node)
	}
	r, err := os.Open(opt.input)
	if err != nil {
		return err
	}
	defer r.Close()
	lazy, err := tensorfile.OpenLazy(r, headerSizeLimit)
	if err != nil {
		return fmt.Errorf("%s: %w", opt.input, err)
	}
	t, err := pickTensor(lazy, opt.tensor)
	if err != nil {
		return err
	}
	if err = checkSize(t, n); err != nil {
		return err
	}

	buf, err := npulayout.ConvertNode(t.Data, n)
	if err != nil {
		return fmt.Errorf("failed to convert tensor %q: %w", t.Name, err)
	}
	if err = os.WriteFile(opt.output, buf, 0o644); err != nil {
		return err
	}
	log.Infof("Packed tensor %q for node %q (%s): %d bytes written to %s", t.Name, n.Name, n.Format, len(buf), opt.output)
	return nil
}

// packAll packs, for each input node of the model, the tensor with the
// same name as the node.
func packAll(ctx context.Context, log logs.Log, model descriptor.Model, opt options) error {
	f, err := readTensors(opt.input)
	if err != nil {
		return err
	}
	inputs := make([][]float64, len(model.Inputs))
	names := make([]string, len(model.Inputs))
	for i, n := range model.Inputs {
		if names[i], err = nodeFile(opt.output, n.Name); err != nil {
			return err
		}
		t, ok := f.Tensor(n.Name)
		if !ok {
			return fmt.Errorf("no tensor for input node %q", n.Name)
		}
		if err = checkSize(t, n); err != nil {
			return err
		}
		inputs[i] = t.Data
	}

	bufs, err := npulayout.ConvertNodes(ctx, model.Inputs, inputs)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(opt.output, 0o755); err != nil {
		return err
	}
	for i, n := range model.Inputs {
		if err = os.WriteFile(names[i], bufs[i], 0o644); err != nil {
			return err
		}
		log.Infof("Packed node %q (%s): %d bytes written to %s", n.Name, n.Format, len(bufs[i]), names[i])
	}
	return nil
}

// nodeFile returns the path of the buffer file of a node within dir.
// Node names that are not plain file names are rejected.
func nodeFile(dir, node string) (string, error) {
	if node == "" || node == "." || node == ".." || strings.ContainsAny(node, `/\`) {
		return "", fmt.Errorf("input node name %q cannot be used as a file name", node)
	}
	return filepath.Join(dir, node+".bin"), nil
}

// unpackNode restores the buffer of an output node, or of an input node
// when no output has the given name.
func unpackNode(log logs.Log, model descriptor.Model, opt options) error {
	n, ok := model.Output(opt.node)
	if !ok {
		if n, ok = model.Input(opt.node); !ok {
			return fmt.Errorf("node %q not found", opt.node)
		}
		log.Warnf("No output node %q, unpacking as input node", opt.node)
	}
	buf, err := os.ReadFile(opt.input)
	if err != nil {
		return err
	}
	data, err := npulayout.RestoreNode(buf, n)
	if err != nil {
		return fmt.Errorf("failed to restore node %q: %w", n.Name, err)
	}

	out, err := os.Create(opt.output)
	if err != nil {
		return err
	}
	t := tensorfile.Tensor{Name: n.Name, Shape: n.Shape.Shape, Data: data}
	metadata := map[string]string{"model": model.Name, "format": n.Format.String()}
	if err = tensorfile.Write(out, []tensorfile.Tensor{t}, metadata); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	log.Infof("Unpacked node %q (%s): %d values written to %s", n.Name, n.Format, len(data), opt.output)
	return nil
}

func readTensors(name string) (tensorfile.File, error) {
	r, err := os.Open(name)
	if err != nil {
		return tensorfile.File{}, err
	}
	defer r.Close()
	f, err := tensorfile.Read(r, headerSizeLimit)
	if err != nil {
		return tensorfile.File{}, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// pickTensor loads the named tensor, or the only tensor of the file when
// name is empty.
func pickTensor(lazy *tensorfile.Lazy, name string) (tensorfile.Tensor, error) {
	if name == "" {
		names := lazy.Names()
		if len(names) != 1 {
			return tensorfile.Tensor{}, fmt.Errorf("input holds %d tensors, choose one by name", len(names))
		}
		name = names[0]
	}
	t, ok, err := lazy.Tensor(name)
	if err != nil {
		return tensorfile.Tensor{}, err
	}
	if !ok {
		return tensorfile.Tensor{}, fmt.Errorf("tensor %q not found", name)
	}
	return t, nil
}

// checkSize accepts any tensor that can be reshaped to the node's shape.
func checkSize(t tensorfile.Tensor, n descriptor.Node) error {
	if len(t.Data) != n.Shape.Size() {
		return fmt.Errorf("tensor %q of shape %v cannot be reshaped to %v for node %q", t.Name, t.Shape, n.Shape.Shape, n.Name)
	}
	return nil
}

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"version"}, &out))
	assert.Equal(t, "convnet "+version+"\n", out.String())
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run([]string{"serve"}, &out))
	assert.Contains(t, out.String(), "Commands:")
}

func TestRun_TrainAndInspect(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.cnvn")
	weights := filepath.Join(dir, "model.safetensors")

	var out bytes.Buffer
	err := run([]string{
		"train", "-backend", "emulator", "-optimizer", "sgd", "-epochs", "2",
		"-batch", "2", "-samples", "3", "-o", model, "-safetensors", weights,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Saved:")
	assert.Contains(t, out.String(), "Exported:")

	out.Reset()
	require.NoError(t, run([]string{"inspect", model}, &out))
	assert.Contains(t, out.String(), "conv")
	assert.Contains(t, out.String(), "softmax")
	assert.Contains(t, out.String(), "gradient_descent")
}

func TestRun_BadFlags(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run([]string{"train", "-backend", "tpu"}, &out))
	assert.Error(t, run([]string{"train", "-optimizer", "lbfgs"}, &out))
	assert.Error(t, run([]string{"inspect"}, &out))
}

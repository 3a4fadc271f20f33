package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg/tensor"
)

const sample = `
model:
  path: /models/rmbg-1.4.onnx
  inputsize: 512
  std: [0.5]
pipeline:
  maxqueuedepth: 2
server:
  mode: release
redis:
  addr: localhost:6379
  ttl: 1h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, tensor.DefaultSize, cfg.Model.InputSize)
	assert.Equal(t, "input", cfg.Model.InputName)
	assert.Equal(t, "output", cfg.Model.OutputName)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, cfg.Model.Mean)
	assert.Equal(t, 4096, cfg.Pipeline.MaxInputDimension)
	assert.Equal(t, 30000, cfg.Pipeline.InferenceTimeoutMs)
	assert.Equal(t, 8, cfg.Pipeline.MaxQueueDepth)
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Error(t, cfg.Validate(), "model path is not defaulted")
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Setenv("RMBG_PIPELINE_INFERENCETIMEOUTMS", "1500")
	t.Setenv("RMBG_MODEL_MEAN", "0.485,0.456,0.406")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "/models/rmbg-1.4.onnx", cfg.Model.Path)
	assert.Equal(t, 512, cfg.Model.InputSize)
	assert.Equal(t, 2, cfg.Pipeline.MaxQueueDepth)
	assert.Equal(t, 1500, cfg.Pipeline.InferenceTimeoutMs)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)

	codec, err := cfg.Codec()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 512, 512}, codec.InputShape())
	assert.Equal(t, []int64{1, 1, 512, 512}, codec.OutputShape)
	assert.InDelta(t, 0.456, codec.Mean[1], 1e-6)
	assert.Equal(t, [3]float32{0.5, 0.5, 0.5}, codec.Std)

	pc := cfg.PipelineConfig()
	assert.Equal(t, 1500*time.Millisecond, pc.InferenceTimeout)
	assert.Equal(t, cfg.Model.Path, pc.ModelPath)

	spec := cfg.IOSpec(codec)
	assert.Equal(t, "input", spec.InputName)
	assert.Equal(t, codec.OutputShape, spec.OutputShape)
}

func TestLoad_OutputSize(t *testing.T) {
	cfg, err := Load(writeConfig(t, "model:\n  path: m.onnx\n  inputsize: 320\n  outputsize: 160\n"))
	require.NoError(t, err)

	codec, err := cfg.Codec()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 160, 160}, codec.OutputShape)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		cfg := Default()
		cfg.Model.Path = "model.onnx"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"no model path", func(c *AppConfig) { c.Model.Path = "" }},
		{"zero input size", func(c *AppConfig) { c.Model.InputSize = 0 }},
		{"negative output size", func(c *AppConfig) { c.Model.OutputSize = -1 }},
		{"no input name", func(c *AppConfig) { c.Model.InputName = "" }},
		{"two means", func(c *AppConfig) { c.Model.Mean = []float64{0.5, 0.5} }},
		{"zero std", func(c *AppConfig) { c.Model.Std = []float64{0} }},
		{"bad activation", func(c *AppConfig) { c.Model.Activation = "softmax" }},
		{"negative threads", func(c *AppConfig) { c.Model.IntraOpThreads = -1 }},
		{"zero dimension", func(c *AppConfig) { c.Pipeline.MaxInputDimension = 0 }},
		{"zero timeout", func(c *AppConfig) { c.Pipeline.InferenceTimeoutMs = 0 }},
		{"zero queue", func(c *AppConfig) { c.Pipeline.MaxQueueDepth = 0 }},
		{"unknown mode", func(c *AppConfig) { c.Server.Mode = "prod" }},
		{"redis without ttl", func(c *AppConfig) { c.Redis.Addr = "localhost:6379"; c.Redis.TTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

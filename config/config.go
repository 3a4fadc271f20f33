// Package config loads the service configuration from defaults, an optional
// YAML file and RMBG_ environment variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg/pipeline"
	"github.com/chaos-io/rembg/session"
	"github.com/chaos-io/rembg/tensor"
)

const envPrefix = "RMBG_"

// ModelConfig describes the ONNX artifact and its tensor contract.
type ModelConfig struct {
	Path       string    `koanf:"path"`
	InputSize  int       `koanf:"inputsize"`
	OutputSize int       `koanf:"outputsize"` // 0 means InputSize
	InputName  string    `koanf:"inputname"`
	OutputName string    `koanf:"outputname"`
	Mean       []float64 `koanf:"mean"`
	Std        []float64 `koanf:"std"`
	Activation string    `koanf:"activation"`
	// Library is the onnxruntime shared library; empty uses the platform default.
	Library        string `koanf:"library"`
	IntraOpThreads int    `koanf:"intraopthreads"`
}

type PipelineConfig struct {
	MaxInputDimension  int `koanf:"maxinputdimension"`
	InferenceTimeoutMs int `koanf:"inferencetimeoutms"`
	MaxQueueDepth      int `koanf:"maxqueuedepth"`
}

type ServerConfig struct {
	Port  string `koanf:"port"`
	Mode  string `koanf:"mode"`
	Stats string `koanf:"stats"` // cron spec, empty disables the reporter
}

// RedisConfig enables the result cache when Addr is set.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

type AppConfig struct {
	Model    ModelConfig    `koanf:"model"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Server   ServerConfig   `koanf:"server"`
	Redis    RedisConfig    `koanf:"redis"`
}

func defaults() map[string]any {
	return map[string]any{
		"model.inputsize":             tensor.DefaultSize,
		"model.outputsize":            0,
		"model.inputname":             "input",
		"model.outputname":            "output",
		"model.mean":                  []float64{0.5, 0.5, 0.5},
		"model.std":                   []float64{1, 1, 1},
		"model.activation":            "minmax",
		"pipeline.maxinputdimension":  pipeline.DefaultMaxInputDimension,
		"pipeline.inferencetimeoutms": int(pipeline.DefaultInferenceTimeout / time.Millisecond),
		"pipeline.maxqueuedepth":      pipeline.DefaultMaxQueueDepth,
		"server.port":                 ":8080",
		"server.mode":                 "debug",
		"server.stats":                "@every 1m",
		"redis.ttl":                   "24h",
	}
}

// Default returns the built-in configuration without a model path.
func Default() *AppConfig {
	cfg, err := load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads filePath (optional) over the defaults, applies RMBG_ environment
// overrides and validates the result.
func Load(filePath string) (*AppConfig, error) {
	cfg, err := load(filePath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(filePath string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot start with.
func (c *AppConfig) Validate() error {
	m := c.Model
	if m.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	if m.InputSize <= 0 {
		return fmt.Errorf("model.inputsize must be positive, got %d", m.InputSize)
	}
	if m.OutputSize < 0 {
		return fmt.Errorf("model.outputsize must not be negative, got %d", m.OutputSize)
	}
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("model.inputname and model.outputname are required")
	}
	if _, err := channels("model.mean", m.Mean); err != nil {
		return err
	}
	std, err := channels("model.std", m.Std)
	if err != nil {
		return err
	}
	for _, s := range std {
		if s == 0 {
			return fmt.Errorf("model.std must not contain zero")
		}
	}
	if _, err := tensor.ParseActivation(m.Activation); err != nil {
		return fmt.Errorf("model.activation: %w", err)
	}
	if m.IntraOpThreads < 0 {
		return fmt.Errorf("model.intraopthreads must not be negative, got %d", m.IntraOpThreads)
	}

	p := c.Pipeline
	if p.MaxInputDimension <= 0 {
		return fmt.Errorf("pipeline.maxinputdimension must be positive, got %d", p.MaxInputDimension)
	}
	if p.InferenceTimeoutMs <= 0 {
		return fmt.Errorf("pipeline.inferencetimeoutms must be positive, got %d", p.InferenceTimeoutMs)
	}
	if p.MaxQueueDepth <= 0 {
		return fmt.Errorf("pipeline.maxqueuedepth must be positive, got %d", p.MaxQueueDepth)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode)
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		return fmt.Errorf("redis.ttl must be positive, got %s", c.Redis.TTL)
	}
	return nil
}

// channels expands a per-channel setting of one or three values.
func channels(name string, v []float64) ([3]float32, error) {
	switch len(v) {
	case 1:
		return [3]float32{float32(v[0]), float32(v[0]), float32(v[0])}, nil
	case 3:
		return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}, nil
	}
	return [3]float32{}, fmt.Errorf("%s needs 1 or 3 values, got %d", name, len(v))
}

// Codec builds the tensor codec for the configured model.
func (c *AppConfig) Codec() (*tensor.Codec, error) {
	codec := tensor.NewCodec(c.Model.InputSize)
	if out := int64(c.Model.OutputSize); out > 0 {
		codec.OutputShape = []int64{1, 1, out, out}
	}
	var err error
	if codec.Mean, err = channels("model.mean", c.Model.Mean); err != nil {
		return nil, err
	}
	if codec.Std, err = channels("model.std", c.Model.Std); err != nil {
		return nil, err
	}
	if codec.Activation, err = tensor.ParseActivation(c.Model.Activation); err != nil {
		return nil, err
	}
	return codec, nil
}

// IOSpec describes the tensors the session must accept for codec.
func (c *AppConfig) IOSpec(codec *tensor.Codec) session.IOSpec {
	return session.IOSpec{
		InputName:   c.Model.InputName,
		OutputName:  c.Model.OutputName,
		InputShape:  codec.InputShape(),
		OutputShape: codec.OutputShape,
	}
}

func (c *AppConfig) Runtime(logger *zap.Logger) *session.ONNXRuntime {
	return &session.ONNXRuntime{
		LibraryPath:    c.Model.Library,
		IntraOpThreads: c.Model.IntraOpThreads,
		Logger:         logger,
	}
}

func (c *AppConfig) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		ModelPath:         c.Model.Path,
		MaxInputDimension: c.Pipeline.MaxInputDimension,
		InferenceTimeout:  time.Duration(c.Pipeline.InferenceTimeoutMs) * time.Millisecond,
		MaxQueueDepth:     c.Pipeline.MaxQueueDepth,
	}
}

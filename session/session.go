// Package session owns the loaded segmentation model and serializes access to
// it.
package session

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/rembg/errcode"
	"github.com/chaos-io/rembg/tensor"
)

// IOSpec is the tensor contract a model must satisfy.
type IOSpec struct {
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64
}

// Runtime loads model artifacts.
type Runtime interface {
	Load(path string, spec IOSpec) (Model, error)
}

// Model is a loaded, runnable model. Implementations need not be safe for
// concurrent use; Manager never calls Run concurrently.
type Model interface {
	Run(in *tensor.Tensor) (*tensor.Tensor, error)
	Close() error
}

// Manager is the explicit handle to the single loaded model. It loads lazily
// on first use and keeps the model until Unload.
type Manager struct {
	runtime Runtime
	spec    IOSpec
	logger  *zap.Logger

	// state guards model and path; Run holds it shared so Unload waits for
	// the in-flight inference.
	state sync.RWMutex
	model Model
	path  string

	// infer admits one inference at a time.
	infer sync.Mutex
}

func NewManager(runtime Runtime, spec IOSpec, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runtime: runtime,
		spec:    spec,
		logger:  logger.Named("session"),
	}
}

func (m *Manager) Spec() IOSpec { return m.spec }

func (m *Manager) Loaded() bool {
	m.state.RLock()
	defer m.state.RUnlock()
	return m.model != nil
}

// Path returns the artifact path of the loaded model, or "".
func (m *Manager) Path() string {
	m.state.RLock()
	defer m.state.RUnlock()
	return m.path
}

// EnsureLoaded loads the model at path unless a model is already loaded, in
// which case it does nothing.
func (m *Manager) EnsureLoaded(path string) error {
	m.state.RLock()
	loaded := m.model != nil
	m.state.RUnlock()
	if loaded {
		return nil
	}

	m.state.Lock()
	defer m.state.Unlock()
	if m.model != nil {
		return nil
	}

	if path == "" {
		return errcode.New(errcode.ModelLoad, "model path is empty")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return errcode.Wrap(errcode.ModelLoad, err, "model artifact is not readable")
	}
	if fi.IsDir() {
		return errcode.New(errcode.ModelLoad, "model artifact is a directory")
	}
	if err := m.checkSpec(); err != nil {
		return err
	}

	start := time.Now()
	model, err := m.runtime.Load(path, m.spec)
	if err != nil {
		var coded *errcode.Error
		if errors.As(err, &coded) && coded.Code == errcode.ModelLoad {
			return coded
		}
		return &errcode.Error{Code: errcode.ModelLoad, Message: "load model", Err: err}
	}
	m.model = model
	m.path = path

	m.logger.Info("model loaded",
		zap.String("path", path),
		zap.Int64s("input_shape", m.spec.InputShape),
		zap.Int64s("output_shape", m.spec.OutputShape),
		zap.Duration("cost", time.Since(start)))
	return nil
}

func (m *Manager) checkSpec() error {
	if _, err := tensor.Volume(m.spec.InputShape); err != nil {
		return &errcode.Error{Code: errcode.ModelLoad, Message: "invalid input shape", Err: err}
	}
	if _, err := tensor.Volume(m.spec.OutputShape); err != nil {
		return &errcode.Error{Code: errcode.ModelLoad, Message: "invalid output shape", Err: err}
	}
	return nil
}

// Run executes one forward pass. Calls are serialized; the input shape is
// checked before the lock is taken.
func (m *Manager) Run(in *tensor.Tensor) (*tensor.Tensor, error) {
	if err := tensor.CheckShape(in, m.spec.InputShape); err != nil {
		return nil, err
	}

	m.infer.Lock()
	defer m.infer.Unlock()

	m.state.RLock()
	defer m.state.RUnlock()
	if m.model == nil {
		return nil, errcode.New(errcode.ModelLoad, "model is not loaded")
	}

	start := time.Now()
	out, err := m.model.Run(in)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, err, "inference failed")
	}
	if err := tensor.CheckShape(out, m.spec.OutputShape); err != nil {
		return nil, err
	}
	m.logger.Debug("inference done", zap.Duration("cost", time.Since(start)))
	return out, nil
}

// Unload releases the model. It waits for an in-flight Run to finish.
func (m *Manager) Unload() error {
	m.state.Lock()
	defer m.state.Unlock()
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	m.logger.Info("model unloaded", zap.String("path", m.path))
	m.path = ""
	if err != nil {
		return fmt.Errorf("close model: %w", err)
	}
	return nil
}

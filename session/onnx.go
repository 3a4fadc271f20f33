package session

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg/errcode"
	"github.com/chaos-io/rembg/tensor"
)

var (
	envOnce sync.Once
	envErr  error
)

// ONNXRuntime loads models with ONNX Runtime. The shared library environment
// is initialized once per process and kept for its lifetime.
type ONNXRuntime struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default search.
	LibraryPath string
	// IntraOpThreads limits the threads used inside one operator; 0 keeps the
	// runtime default.
	IntraOpThreads int
	Logger         *zap.Logger
}

func (r *ONNXRuntime) initEnvironment() error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if r.LibraryPath != "" {
			ort.SetSharedLibraryPath(r.LibraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Load validates the artifact against spec and binds preallocated input and
// output tensors to a new session.
func (r *ONNXRuntime) Load(path string, spec IOSpec) (Model, error) {
	if err := r.initEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read model io info: %w", err)
	}
	if err := checkIO("input", inputs, spec.InputName, spec.InputShape); err != nil {
		return nil, err
	}
	if err := checkIO("output", outputs, spec.OutputName, spec.OutputShape); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	var options *ort.SessionOptions
	if r.IntraOpThreads > 0 {
		options, err = ort.NewSessionOptions()
		if err != nil {
			_ = input.Destroy()
			_ = output.Destroy()
			return nil, fmt.Errorf("create session options: %w", err)
		}
		defer func() {
			_ = options.Destroy()
		}()
		if err := options.SetIntraOpNumThreads(r.IntraOpThreads); err != nil {
			_ = input.Destroy()
			_ = output.Destroy()
			return nil, fmt.Errorf("set intra op threads: %w", err)
		}
	}

	s, err := ort.NewAdvancedSession(path,
		[]string{spec.InputName}, []string{spec.OutputName},
		[]ort.Value{input}, []ort.Value{output}, options)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	if r.Logger != nil {
		r.Logger.Debug("onnx session created",
			zap.String("path", path),
			zap.String("input", spec.InputName),
			zap.String("output", spec.OutputName))
	}
	return &onnxModel{
		session:     s,
		input:       input,
		output:      output,
		outputShape: spec.OutputShape,
	}, nil
}

// checkIO requires exactly one float tensor named name whose dims match want;
// dims reported as -1 are dynamic and accepted.
func checkIO(kind string, infos []ort.InputOutputInfo, name string, want []int64) error {
	if len(infos) != 1 {
		return errcode.New(errcode.ModelLoad, "model has %d %ss, want 1", len(infos), kind)
	}
	info := infos[0]
	if info.Name != name {
		return errcode.New(errcode.ModelLoad, "model %s is named %q, want %q", kind, info.Name, name)
	}
	if info.OrtValueType != ort.ONNXTypeTensor || info.DataType != ort.TensorElementDataTypeFloat {
		return errcode.New(errcode.ModelLoad, "model %s %q is not a float32 tensor", kind, name)
	}
	if !dimsMatch(info.Dimensions, want) {
		return errcode.New(errcode.ModelLoad, "model %s %q has shape %v, want %v", kind, name, info.Dimensions, want)
	}
	return nil
}

func dimsMatch(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] && got[i] != -1 {
			return false
		}
	}
	return true
}

type onnxModel struct {
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	outputShape []int64
}

func (m *onnxModel) Run(in *tensor.Tensor) (*tensor.Tensor, error) {
	dst := m.input.GetData()
	if len(dst) != len(in.Data) {
		return nil, errcode.New(errcode.ShapeMismatch, "input holds %d values, session expects %d", len(in.Data), len(dst))
	}
	copy(dst, in.Data)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}

	out, err := tensor.New(m.outputShape...)
	if err != nil {
		return nil, err
	}
	copy(out.Data, m.output.GetData())
	return out, nil
}

func (m *onnxModel) Close() error {
	var first error
	for _, destroy := range []func() error{m.session.Destroy, m.input.Destroy, m.output.Destroy} {
		if err := destroy(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

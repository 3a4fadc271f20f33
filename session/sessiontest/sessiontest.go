// Package sessiontest provides an in-memory session.Runtime for tests that
// must not depend on the onnxruntime shared library.
package sessiontest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chaos-io/rembg/session"
	"github.com/chaos-io/rembg/tensor"
)

// RunFunc computes one forward pass.
type RunFunc func(in *tensor.Tensor) (*tensor.Tensor, error)

// Runtime hands out Models backed by Fn. It records how often it was used and
// fails the test-visible Concurrent counter if two runs ever overlap.
type Runtime struct {
	Fn      RunFunc
	LoadErr error
	// LoadWait, when set, holds Load until it is closed.
	LoadWait chan struct{}

	Loads      atomic.Int32
	Runs       atomic.Int32
	Closes     atomic.Int32
	Concurrent atomic.Int32

	active atomic.Int32
	mu     sync.Mutex
}

func (r *Runtime) Load(path string, spec session.IOSpec) (session.Model, error) {
	if r.LoadWait != nil {
		<-r.LoadWait
	}
	r.Loads.Add(1)
	if r.LoadErr != nil {
		return nil, r.LoadErr
	}
	return &model{rt: r}, nil
}

type model struct {
	rt *Runtime
}

func (m *model) Run(in *tensor.Tensor) (*tensor.Tensor, error) {
	if m.rt.active.Add(1) > 1 {
		m.rt.Concurrent.Add(1)
	}
	defer m.rt.active.Add(-1)
	m.rt.Runs.Add(1)

	m.rt.mu.Lock()
	fn := m.rt.Fn
	m.rt.mu.Unlock()
	if fn == nil {
		return nil, errors.New("sessiontest: no run function")
	}
	return fn(in)
}

func (m *model) Close() error {
	m.rt.Closes.Add(1)
	return nil
}

// SetFn swaps the run function while models are in use.
func (r *Runtime) SetFn(fn RunFunc) {
	r.mu.Lock()
	r.Fn = fn
	r.mu.Unlock()
}

// DarkIsForeground returns a RunFunc for a [1,3,S,S] -> [1,1,S,S] model that
// scores each pixel by how dark it is. Inputs are expected to be normalized as
// p/255 - 0.5, so the score lies in [0,1].
func DarkIsForeground(size int) RunFunc {
	return func(in *tensor.Tensor) (*tensor.Tensor, error) {
		s := int64(size)
		out, err := tensor.New(1, 1, s, s)
		if err != nil {
			return nil, err
		}
		plane := size * size
		for i := 0; i < plane; i++ {
			mean := (in.Data[i] + in.Data[plane+i] + in.Data[2*plane+i]) / 3
			out.Data[i] = 0.5 - mean
		}
		return out, nil
	}
}

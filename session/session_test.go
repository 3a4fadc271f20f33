package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg/errcode"
	"github.com/chaos-io/rembg/session"
	"github.com/chaos-io/rembg/session/sessiontest"
	"github.com/chaos-io/rembg/tensor"
)

const size = 4

var spec = session.IOSpec{
	InputName:   "input",
	OutputName:  "output",
	InputShape:  []int64{1, 3, size, size},
	OutputShape: []int64{1, 1, size, size},
}

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))
	return path
}

func input(t *testing.T) *tensor.Tensor {
	t.Helper()
	in, err := tensor.New(spec.InputShape...)
	require.NoError(t, err)
	return in
}

func TestManager_EnsureLoadedIsIdempotent(t *testing.T) {
	rt := &sessiontest.Runtime{Fn: sessiontest.DarkIsForeground(size)}
	m := session.NewManager(rt, spec, nil)
	path := modelFile(t)

	assert.False(t, m.Loaded())
	require.NoError(t, m.EnsureLoaded(path))
	require.NoError(t, m.EnsureLoaded(path))
	require.NoError(t, m.EnsureLoaded("/some/other/path"))

	assert.True(t, m.Loaded())
	assert.Equal(t, path, m.Path())
	assert.Equal(t, int32(1), rt.Loads.Load())
}

func TestManager_EnsureLoadedConcurrent(t *testing.T) {
	rt := &sessiontest.Runtime{Fn: sessiontest.DarkIsForeground(size)}
	m := session.NewManager(rt, spec, nil)
	path := modelFile(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.EnsureLoaded(path))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), rt.Loads.Load())
}

func TestManager_EnsureLoadedFailures(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		rt   *sessiontest.Runtime
		spec session.IOSpec
	}{
		{
			name: "empty path",
			path: func(t *testing.T) string { return "" },
			rt:   &sessiontest.Runtime{},
			spec: spec,
		},
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.onnx") },
			rt:   &sessiontest.Runtime{},
			spec: spec,
		},
		{
			name: "directory",
			path: func(t *testing.T) string { return t.TempDir() },
			rt:   &sessiontest.Runtime{},
			spec: spec,
		},
		{
			name: "runtime rejects",
			path: modelFile,
			rt:   &sessiontest.Runtime{LoadErr: errors.New("bad graph")},
			spec: spec,
		},
		{
			name: "invalid declared shape",
			path: modelFile,
			rt:   &sessiontest.Runtime{},
			spec: session.IOSpec{InputShape: []int64{1, 3, 0, 0}, OutputShape: spec.OutputShape},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := session.NewManager(tt.rt, tt.spec, nil)
			err := m.EnsureLoaded(tt.path(t))
			assert.ErrorIs(t, err, errcode.ErrModelLoad)
			assert.False(t, m.Loaded())
		})
	}
}

func TestManager_Run(t *testing.T) {
	rt := &sessiontest.Runtime{Fn: sessiontest.DarkIsForeground(size)}
	m := session.NewManager(rt, spec, nil)

	_, err := m.Run(input(t))
	assert.ErrorIs(t, err, errcode.ErrModelLoad)

	require.NoError(t, m.EnsureLoaded(modelFile(t)))
	out, err := m.Run(input(t))
	require.NoError(t, err)
	assert.Equal(t, spec.OutputShape, out.Shape)
	assert.InDelta(t, 0.5, out.Data[0], 1e-6)
}

func TestManager_RunShapeMismatch(t *testing.T) {
	rt := &sessiontest.Runtime{Fn: sessiontest.DarkIsForeground(size)}
	m := session.NewManager(rt, spec, nil)
	require.NoError(t, m.EnsureLoaded(modelFile(t)))

	bad, err := tensor.New(1, 3, size, size+1)
	require.NoError(t, err)
	_, err = m.Run(bad)
	assert.ErrorIs(t, err, errcode.ErrShapeMismatch)
	assert.Equal(t, int32(0), rt.Runs.Load())

	rt.SetFn(func(in *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.New(1, 1, 2, 2)
	})
	_, err = m.Run(input(t))
	assert.ErrorIs(t, err, errcode.ErrShapeMismatch)
}

func TestManager_RunIsSerialized(t *testing.T) {
	rt := &sessiontest.Runtime{}
	base := sessiontest.DarkIsForeground(size)
	rt.SetFn(func(in *tensor.Tensor) (*tensor.Tensor, error) {
		time.Sleep(2 * time.Millisecond)
		return base(in)
	})
	m := session.NewManager(rt, spec, nil)
	require.NoError(t, m.EnsureLoaded(modelFile(t)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Run(input(t))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(8), rt.Runs.Load())
	assert.Equal(t, int32(0), rt.Concurrent.Load())
}

func TestManager_RunFailureKeepsSession(t *testing.T) {
	rt := &sessiontest.Runtime{Fn: func(in *tensor.Tensor) (*tensor.Tensor, error) {
		return nil, errors.New("device lost")
	}}
	m := session.NewManager(rt, spec, nil)
	require.NoError(t, m.EnsureLoaded(modelFile(t)))

	_, err := m.Run(input(t))
	assert.ErrorIs(t, err, errcode.ErrInternal)
	assert.True(t, m.Loaded())

	rt.SetFn(sessiontest.DarkIsForeground(size))
	_, err = m.Run(input(t))
	assert.NoError(t, err)
}

func TestManager_Unload(t *testing.T) {
	rt := &sessiontest.Runtime{Fn: sessiontest.DarkIsForeground(size)}
	m := session.NewManager(rt, spec, nil)
	path := modelFile(t)

	require.NoError(t, m.Unload())
	require.NoError(t, m.EnsureLoaded(path))
	require.NoError(t, m.Unload())
	assert.False(t, m.Loaded())
	assert.Equal(t, "", m.Path())
	assert.Equal(t, int32(1), rt.Closes.Load())

	require.NoError(t, m.EnsureLoaded(path))
	assert.Equal(t, int32(2), rt.Loads.Load())
}

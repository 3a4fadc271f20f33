package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/rembg/errcode"
)

func TestCheckIO(t *testing.T) {
	want := []int64{1, 3, 1024, 1024}
	tensorInfo := func(name string, dims ...int64) ort.InputOutputInfo {
		return ort.InputOutputInfo{
			Name:         name,
			OrtValueType: ort.ONNXTypeTensor,
			Dimensions:   ort.NewShape(dims...),
			DataType:     ort.TensorElementDataTypeFloat,
		}
	}

	tests := []struct {
		name    string
		infos   []ort.InputOutputInfo
		wantErr bool
	}{
		{"exact", []ort.InputOutputInfo{tensorInfo("input", 1, 3, 1024, 1024)}, false},
		{"dynamic batch", []ort.InputOutputInfo{tensorInfo("input", -1, 3, 1024, 1024)}, false},
		{"wrong size", []ort.InputOutputInfo{tensorInfo("input", 1, 3, 512, 512)}, true},
		{"wrong rank", []ort.InputOutputInfo{tensorInfo("input", 3, 1024, 1024)}, true},
		{"wrong name", []ort.InputOutputInfo{tensorInfo("pixel_values", 1, 3, 1024, 1024)}, true},
		{"two inputs", []ort.InputOutputInfo{tensorInfo("input", 1, 3, 1024, 1024), tensorInfo("x", 1)}, true},
		{"none", nil, true},
		{"int64", []ort.InputOutputInfo{{
			Name:         "input",
			OrtValueType: ort.ONNXTypeTensor,
			Dimensions:   ort.NewShape(want...),
			DataType:     ort.TensorElementDataTypeInt64,
		}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkIO("input", tt.infos, "input", want)
			if tt.wantErr {
				assert.ErrorIs(t, err, errcode.ErrModelLoad)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

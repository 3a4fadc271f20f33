package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.png")
	require.NoError(t, WriteFile(path, []byte("png")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)
}

func TestBytesMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", BytesMD5(nil))
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", BytesMD5([]byte("abc")))
}

func TestInitLogger(t *testing.T) {
	defer func(l *zap.Logger) { Logger = l }(Logger)

	for _, mode := range []string{"release", "debug", "test"} {
		require.NoError(t, InitLogger(mode, "rembg"))
		require.NotNil(t, Logger)
		Sync()
	}
	assert.True(t, Logger.Core().Enabled(zap.WarnLevel))
	assert.False(t, Logger.Core().Enabled(zap.InfoLevel), "test mode logs warnings and above")
}

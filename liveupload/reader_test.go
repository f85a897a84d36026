package liveupload

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/meancat/panicstream/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendToFile(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestGrowingFileReader_ReadNewBytes(t *testing.T) {
	// Given
	path := filepath.Join(t.TempDir(), "recording.ts")
	appendToFile(t, path, []byte("0123456789"))

	reader, err := OpenGrowingFile(path, 4)
	require.NoError(t, err)
	defer reader.Close()

	// When
	first, err := reader.ReadNewBytes()
	require.NoError(t, err)
	second, err := reader.ReadNewBytes()
	require.NoError(t, err)
	third, err := reader.ReadNewBytes()
	require.NoError(t, err)
	empty, err := reader.ReadNewBytes()
	require.NoError(t, err)

	// Then
	assert.Equal(t, "0123", string(first))
	assert.Equal(t, "4567", string(second))
	assert.Equal(t, "89", string(third))
	assert.Empty(t, empty)
	assert.Equal(t, int64(10), reader.Cursor())
}

func TestGrowingFileReader_SeesAppendedBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording.ts")
	appendToFile(t, path, []byte("abc"))

	reader, err := OpenGrowingFile(path, 0)
	require.NoError(t, err)
	defer reader.Close()

	data, err := reader.ReadNewBytes()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	appendToFile(t, path, []byte("def"))

	data, err = reader.ReadNewBytes()
	require.NoError(t, err)
	assert.Equal(t, "def", string(data))
	assert.Equal(t, int64(6), reader.Cursor())
}

func TestGrowingFileReader_ReadNewBytesUpTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording.ts")
	appendToFile(t, path, []byte("0123456789"))

	reader, err := OpenGrowingFile(path, 100)
	require.NoError(t, err)
	defer reader.Close()

	data, err := reader.ReadNewBytesUpTo(6)
	require.NoError(t, err)
	assert.Equal(t, "012345", string(data))

	data, err = reader.ReadNewBytesUpTo(6)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, int64(6), reader.Cursor())
}

func TestOpenGrowingFile_Missing(t *testing.T) {
	_, err := OpenGrowingFile(filepath.Join(t.TempDir(), "missing.ts"), 0)

	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrIO))
	assert.Equal(t, api.KindIO, api.KindOf(err))
}

package capture

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaptureReplay(t *testing.T) {
	t.Parallel()

	src := NewSource()
	src.Path = "testdata/capture.json"
	require.NoError(t, src.Open())
	defer src.Close()

	var ids []interface{}
	for i := 0; i < 4; i++ {
		rec, err := src.Record()
		require.NoError(t, err)
		data := rec.Data()
		ids = append(ids, data["objectID"])
		require.NotEmpty(t, data["_processed_at"], "record %d should carry a processed timestamp", i)
		require.NoError(t, rec.Commit(nil))
	}

	// File order, duplicates and id-less records included.
	require.Equal(t, []interface{}{"SKU-1001", "SKU-1002", nil, "SKU-1001"}, ids)

	_, err := src.Record()
	require.Equal(t, io.EOF, err)
	_, err = src.Record()
	require.Equal(t, io.EOF, err, "a drained capture stays drained")
}

func TestCapturePreservesValues(t *testing.T) {
	t.Parallel()

	src := NewSource()
	src.Path = "testdata/capture.json"
	require.NoError(t, src.Open())

	rec, err := src.Record()
	require.NoError(t, err)
	require.Equal(t, 89.99, rec.Data()["price"])

	rec, err = src.Record()
	require.NoError(t, err)
	// Falsy values survive the replay untouched.
	require.Equal(t, 0.0, rec.Data()["price"])
	require.Equal(t, "", rec.Data()["description"])
}

func TestCaptureOpenErrors(t *testing.T) {
	t.Parallel()

	src := NewSource()
	require.Error(t, src.Open(), "empty path")

	src = NewSource()
	src.Path = filepath.Join(t.TempDir(), "nope.json")
	require.Error(t, src.Open(), "missing file")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"not":"an array"`), 0644))
	src = NewSource()
	src.Path = bad
	require.Error(t, src.Open(), "malformed capture")
}

package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developingchet/logfallback/internal/record"
)

func newTestSink(t *testing.T, path string) *Sink {
	t.Helper()
	s, err := New(Config{Name: "primary", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{Name: "primary"})
	assert.Error(t, err)
}

func TestNew_DefaultName(t *testing.T) {
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "app.log")})
	require.NoError(t, err)
	assert.Equal(t, "file", s.Name())
}

func TestWrite_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	s := newTestSink(t, path)

	require.NoError(t, s.Write(context.Background(), &record.Record{Message: "one"}))
	require.NoError(t, s.Write(context.Background(), &record.Record{Message: "two", Logger: "app"}))

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "one", lines[0]["message"])
	assert.Equal(t, "two", lines[1]["message"])
	assert.Equal(t, "app", lines[1]["logger"])
}

func TestWriteBatch_WritesAllRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	s := newTestSink(t, path)

	err := s.WriteBatch(context.Background(), []*record.Record{
		{Message: "1"}, {Message: "2"}, {Message: "3"},
	})
	require.NoError(t, err)
	assert.Len(t, readLines(t, path), 3)
}

func TestWrite_UnwritableDirectoryFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory write semantics differ on Windows")
	}
	if os.Getuid() == 0 {
		t.Skip("root bypasses permission checks; test not meaningful")
	}
	roDir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(roDir, 0o555))

	s := newTestSink(t, filepath.Join(roDir, "sub", "app.log"))
	assert.Error(t, s.Write(context.Background(), &record.Record{Message: "x"}))
	assert.Error(t, s.Healthy(context.Background()))
}

func TestHealthy_WritableDirectory(t *testing.T) {
	s := newTestSink(t, filepath.Join(t.TempDir(), "app.log"))
	assert.NoError(t, s.Healthy(context.Background()))
}

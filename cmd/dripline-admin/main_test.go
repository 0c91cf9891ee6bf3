package main

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func() error) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)

	defer func() {
		os.Stdout = oldStdout
	}()

	os.Stdout = w
	require.NoError(t, fn())
	require.NoError(t, w.Close())
	os.Stdout = oldStdout

	output, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(output)
}

func TestRenderJSONWithoutQuery(t *testing.T) {
	out := captureStdout(t, func() error {
		return renderJSON(map[string]any{"id": "job-1", "status": "running"}, "")
	})

	require.Contains(t, out, `"id": "job-1"`)
	require.Contains(t, out, `"status": "running"`)
}

func TestRenderJSONAppliesQuery(t *testing.T) {
	jobs := []map[string]any{
		{"id": "a", "status": "completed"},
		{"id": "b", "status": "failed"},
	}

	out := captureStdout(t, func() error {
		return renderJSON(jobs, `[?status=='failed'].id`)
	})

	require.Contains(t, out, `"b"`)
	require.NotContains(t, out, `"a"`)
}

func TestRenderJSONRejectsBadQuery(t *testing.T) {
	err := renderJSON(map[string]any{"id": "a"}, "]]invalid[[")
	require.Error(t, err)
}

package ipc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestCapabilityGate(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, dir string)
		ext   string
		open  bool
	}{
		{
			name:  "no marker",
			setup: func(t *testing.T, dir string) {},
			ext:   "mcp",
		},
		{
			name:  "marker only",
			setup: func(t *testing.T, dir string) { touch(t, filepath.Join(dir, "worker.mcp")) },
			ext:   "mcp",
			open:  true,
		},
		{
			name:  "leading dot in extension",
			setup: func(t *testing.T, dir string) { touch(t, filepath.Join(dir, "worker.mcp")) },
			ext:   ".mcp",
			open:  true,
		},
		{
			name:  "other extension",
			setup: func(t *testing.T, dir string) { touch(t, filepath.Join(dir, "worker.mcp")) },
			ext:   "cap",
		},
		{
			name: "bare file next to marker",
			setup: func(t *testing.T, dir string) {
				touch(t, filepath.Join(dir, "worker.mcp"))
				touch(t, filepath.Join(dir, "worker"))
			},
			ext: "mcp",
		},
		{
			name: "bare directory next to marker",
			setup: func(t *testing.T, dir string) {
				touch(t, filepath.Join(dir, "worker.mcp"))
				require.NoError(t, os.Mkdir(filepath.Join(dir, "worker"), 0o755))
			},
			ext: "mcp",
		},
		{
			name:  "marker is a directory",
			setup: func(t *testing.T, dir string) { require.NoError(t, os.Mkdir(filepath.Join(dir, "worker.mcp"), 0o755)) },
			ext:   "mcp",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dir := t.TempDir()
			exe := filepath.Join(dir, "worker.exe")
			touch(t, exe)
			c.setup(t, dir)
			assert.Equal(t, c.open, CapabilityAvailableAt(exe, c.ext))
		})
	}
}

func TestCapabilityGateExtensionlessExecutable(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "worker")
	touch(t, exe)
	touch(t, filepath.Join(dir, "worker.mcp"))
	assert.False(t, CapabilityAvailableAt(exe, "mcp"))
}

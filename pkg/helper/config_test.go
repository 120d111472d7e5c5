package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCfgPath_EmptyPanics(t *testing.T) {
	assert.Panics(t, func() { GetCfgPath("") })
}

func TestGetCfgPath_Absolute(t *testing.T) {
	assert.Equal(t, "/srv/bridge/gateway-bridge.yaml", GetCfgPath("/srv/bridge/gateway-bridge.yaml"))
}

func TestGetCfgPath_SearchOrder(t *testing.T) {
	const name = "gateway-bridge.yaml"

	tests := []struct {
		name  string
		files []string
		want  func(root string) string
	}{
		{
			name:  "working directory wins",
			files: []string{name, filepath.Join("configs", name)},
			want:  func(root string) string { return filepath.Join(root, name) },
		},
		{
			name:  "configs directory",
			files: []string{filepath.Join("configs", name)},
			want:  func(root string) string { return filepath.Join(root, "configs", name) },
		},
		{
			name: "system fallback",
			want: func(string) string { return filepath.Join(ConfigDir, name) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, f := range tt.files {
				p := filepath.Join(root, f)
				require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
				require.NoError(t, os.WriteFile(p, []byte("gateway: {}\n"), 0o644))
			}
			t.Chdir(root)

			got := GetCfgPath(name)
			want := tt.want(root)
			if len(tt.files) > 0 {
				got, _ = filepath.EvalSymlinks(got)
				want, _ = filepath.EvalSymlinks(want)
			}
			assert.Equal(t, want, got)
		})
	}
}

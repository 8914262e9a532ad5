// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  Secrets
	}{
		{
			name: "trims values",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, AnthropicAPIKey, "  sk-ant-abc123  \n")
				writeFile(t, dir, SMTPPassword, "hunter2")
				writeFile(t, dir, OpenAlexEmail, "user@example.com\n")
				return dir
			},
			want: Secrets{
				AnthropicAPIKey: "sk-ant-abc123",
				SMTPPassword:    "hunter2",
				OpenAlexEmail:   "user@example.com",
			},
		},
		{
			name: "missing directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: Secrets{},
		},
		{
			name: "empty and blank files are ignored",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, AnthropicAPIKey, "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: Secrets{AnthropicAPIKey: "valid-key"},
		},
		{
			name: "dotfiles and directories are ignored",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, OpenAlexEmail, "me@example.org")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))
				return dir
			},
			want: Secrets{OpenAlexEmail: "me@example.org"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := Load(tt.setup(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadWarnsOnOpenPermissions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "private", "a")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared"), []byte("b"), 0o600))
	require.NoError(t, os.Chmod(filepath.Join(dir, "shared"), 0o644))

	got, warnings, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Secrets{"private": "a", "shared": "b"}, got)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "secret shared is readable by other users")
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	dir := t.TempDir()
	writeFile(t, dir, "good-key", "value123")
	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o600) })

	got, warnings, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Secrets{"good-key": "value123"}, got)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "could not read secret bad-key")
}

func TestKeys(t *testing.T) {
	s := Secrets{SMTPPassword: "x", AnthropicAPIKey: "y"}
	assert.Equal(t, []string{AnthropicAPIKey, SMTPPassword}, s.Keys())
	assert.Empty(t, Secrets(nil).Keys())
}

func TestApply(t *testing.T) {
	cfg := types.Config{}
	cfg.Email.Password = "from-config"

	applied := Secrets{
		AnthropicAPIKey: "sk-ant",
		OpenAlexEmail:   "me@example.org",
		SMTPPassword:    "from-file",
		"unrelated":     "x",
	}.Apply(&cfg)

	assert.Equal(t, "sk-ant", cfg.Reasoning.APIKey)
	assert.Equal(t, "me@example.org", cfg.Search.OpenAlexEmail)
	assert.Equal(t, "from-config", cfg.Email.Password, "config value must win")
	assert.Equal(t, []string{AnthropicAPIKey, OpenAlexEmail}, applied)
}

func TestApplyNil(t *testing.T) {
	var cfg types.Config
	assert.Empty(t, Secrets(nil).Apply(&cfg))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

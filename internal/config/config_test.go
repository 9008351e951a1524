package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.TargetSizeMB)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.BackoffCap.Std())
}

func TestLoad_FileAndEnvPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"target_size_mb: 256\nupload_workers: 4\ndrive_root_id: file-root\n"), 0o644))

	t.Setenv("GDRIVE_ROOT_FOLDER_ID", "env-root")
	t.Setenv("UPLOAD_WORKERS", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	// File overrides defaults, env overrides file.
	assert.Equal(t, 256, cfg.TargetSizeMB)
	assert.Equal(t, 4, cfg.UploadWorkers)
	assert.Equal(t, "env-root", cfg.DriveRootID)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().TargetSizeMB, cfg.TargetSizeMB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero target size", func(c *Config) { c.TargetSizeMB = 0 }},
		{"margin above one", func(c *Config) { c.SafetyMargin = 1.2 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"cap below base", func(c *Config) { c.BackoffCap = c.BaseDelay - 1 }},
		{"no workers", func(c *Config) { c.UploadWorkers = 0 }},
		{"empty final cut dir", func(c *Config) { c.FinalCutDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRequireDropbox(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireDropbox())

	cfg.DropboxAppKey = "k"
	cfg.DropboxAppSecret = "s"
	cfg.DropboxRefreshToken = "r"
	assert.NoError(t, cfg.RequireDropbox())
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	p := cfg.RetryPolicy()
	assert.Equal(t, cfg.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, cfg.BaseDelay, p.BaseDelay)
	assert.Equal(t, cfg.BackoffCap, p.Cap)
}

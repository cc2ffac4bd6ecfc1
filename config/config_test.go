package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)

	assert.Equal(t, "localhost:3003", cfg.ServerURL)
	assert.Equal(t, "firestore", cfg.StorageBackend)
	assert.Equal(t, 100, cfg.ReadBatchSize)
	assert.Equal(t, int64(10<<20), cfg.MaxAttachmentBytes)
	assert.Equal(t, 10*time.Minute, cfg.ProfileCacheTTL)
}

func TestLoad_EnvFileAndFlags(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("READ_BATCH_SIZE=25\nPROFILE_CACHE_TTL=30s\nSTORAGE_BACKEND=firestore\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("READ_BATCH_SIZE")
		os.Unsetenv("PROFILE_CACHE_TTL")
		os.Unsetenv("STORAGE_BACKEND")
	})

	cfg, err := Load([]string{"--env-file", envFile, "--addr", ":8080", "--storage", "memory"})
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.ReadBatchSize)
	assert.Equal(t, 30*time.Second, cfg.ProfileCacheTTL)
	assert.Equal(t, ":8080", cfg.ServerURL)
	assert.Equal(t, "memory", cfg.StorageBackend)
}

func TestLoad_InvalidFlag(t *testing.T) {
	_, err := Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}

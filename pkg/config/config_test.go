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
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "justflow", cfg.MongoDatabase)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "justflow-api", cfg.ServiceName)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("STORE_DRIVER=mongo\nMONGODB_URI=mongodb://localhost:27017\nCORS_ORIGINS=http://a.test,http://b.test\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORE_DRIVER")
		os.Unsetenv("MONGODB_URI")
		os.Unsetenv("CORS_ORIGINS")
	})

	cfg, err := Load(file, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("STORE_DRIVER=postgres\n"), 0o600))
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"postgres without url", Config{StoreDriver: DriverPostgres, LockTTL: time.Second}, "DATABASE_URL"},
		{"mongo without uri", Config{StoreDriver: DriverMongo, LockTTL: time.Second}, "MONGODB_URI"},
		{"unknown driver", Config{StoreDriver: "sqlite", LockTTL: time.Second}, "unknown STORE_DRIVER"},
		{"zero lock ttl", Config{StoreDriver: DriverMemory}, "LOCK_TTL"},
		{"postgres", Config{StoreDriver: DriverPostgres, DatabaseURL: "postgres://localhost/db", LockTTL: time.Second}, ""},
		{"memory", Config{StoreDriver: DriverMemory, LockTTL: time.Second}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

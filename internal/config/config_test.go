package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"XspdLeaderboard/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xspd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(config.FileEnv, "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, uint64(100), cfg.StaticOraclePrice)
}

func TestLoad_FileOverlayKeepsUnsetKeys(t *testing.T) {
	path := writeFile(t, `
nats_url: nats://broker:4222
persist_flush_timeout: 25ms
oracle_mode: nats
static_oracle_price: 250
`)
	t.Setenv(config.FileEnv, path)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222", cfg.NATSURL)
	assert.Equal(t, 25*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, config.OracleNATS, cfg.OracleMode)
	assert.Equal(t, uint64(250), cfg.StaticOraclePrice)
	assert.Equal(t, config.Default().GRPCAddr, cfg.GRPCAddr)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	t.Setenv(config.FileEnv, writeFile(t, "grpc_addr: \":7000\"\npersist_batch_size: 10\n"))
	t.Setenv("XSPD_GRPC_ADDR", ":7100")
	t.Setenv("XSPD_SNAPSHOT_INTERVAL", "500")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.GRPCAddr)
	assert.Equal(t, 10, cfg.PersistBatchSize)
	assert.Equal(t, int64(500), cfg.SnapshotInterval)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv(config.FileEnv, "")

	t.Run("bad int", func(t *testing.T) {
		t.Setenv("XSPD_PERSIST_BATCH_SIZE", "many")
		_, err := config.Load()
		assert.Error(t, err)
	})
	t.Run("unknown ledger mode", func(t *testing.T) {
		t.Setenv("XSPD_LEDGER_MODE", "paper")
		_, err := config.Load()
		assert.ErrorContains(t, err, "ledger_mode")
	})
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(config.FileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := config.Load()
		assert.Error(t, err)
	})
}

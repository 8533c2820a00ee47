package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, int64(1_000_000), cfg.Chain.NonExistentAccountTransferMin)
	assert.Equal(t, 5*time.Second, cfg.NATS.RequestTimeout)

	prefix, err := cfg.Chain.Prefix()
	require.NoError(t, err)
	assert.Equal(t, byte(0x41), prefix)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8181
store:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
chain:
  address_prefix: "a0"
  transfer_fee: 10
  defer_account_creation: true
nats:
  request_timeout: 2s
`), 0644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9191")
	t.Setenv("TRANSFER_FEE", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Port, "env wins over file")
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, "ledger:account:", cfg.Store.Redis.Prefix, "unset file keys keep defaults")
	assert.Equal(t, int64(25), cfg.Chain.TransferFee)
	assert.True(t, cfg.Chain.DeferAccountCreation)
	assert.Equal(t, 2*time.Second, cfg.NATS.RequestTimeout)

	prefix, err := cfg.Chain.Prefix()
	require.NoError(t, err)
	assert.Equal(t, byte(0xa0), prefix)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "eighty")
	t.Setenv("STORE_BACKEND", "etcd")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "PORT")
	assert.ErrorContains(t, err, "etcd")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Chain.TransferFee = -1
	cfg.Chain.AddressPrefix = "0x141"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "transfer fee")
	assert.ErrorContains(t, err, "address prefix")
}

func TestBindFlags(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"-port", "7000", "-store", "redis", "-nats=false"}))
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.False(t, cfg.NATS.Enabled)
	assert.NoError(t, cfg.Validate())
}

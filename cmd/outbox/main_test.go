package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phrazzld/matrix-outbox/internal/config"
	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/phrazzld/matrix-outbox/internal/sendqueue"
	"github.com/phrazzld/matrix-outbox/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// writeConfig writes a badger-backed configuration into a temp dir and
// returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`server:
  port: 8080
  log_level: debug
session:
  user_id: "@alice:example.org"
  homeserver_url: "https://matrix.example.org"
  access_token: "syt_alice_token"
storage:
  backend: badger
  badger_dir: %q
  echo_db_path: %q
auth:
  jwt_secret: %q
  token_lifetime: 1h
`, filepath.Join(dir, "ledger"), filepath.Join(dir, "echoes.db"), testSecret)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "outbox "+version+"\n", out)

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "outbox "+version+"\n", out)
}

func TestToken(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "token", "--config", path, "--subject", "ops")
	require.NoError(t, err)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	jwtService, err := auth.NewJWTService(cfg.Auth, cfg.Session.UserID)
	require.NoError(t, err)

	claims, err := jwtService.ValidateToken(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "@alice:example.org", claims.Session)
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "token", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestMigrate(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "migrate", "up", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "echoes: 2 migration(s) applied\n", out)

	out, err = execute(t, "migrate", "up", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "echoes: 0 migration(s) applied\n", out)

	out, err = execute(t, "migrate", "status", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "pending")
	assert.Contains(t, out, "00001_create_local_echoes.sql")
	assert.Contains(t, out, "00002_create_room_encryption.sql")
	assert.NotContains(t, out, "ledger", "the badger backend has no SQL schema")
}

func TestPending(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "pending", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "no queued tasks\n", out)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	log, _ := logger.NewTestLogger(t)
	store, closeStore, err := openSnapshotStore(context.Background(), cfg, log)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), sendqueue.SnapshotKey, []string{
		`{"type":"send","order":1,"payload":{"local_echo_id":"$local.a","encrypt":true}}`,
		`{"type":"redact","order":2,"payload":{"local_echo_id":"$local.b"}}`,
		`{"type":"send","order":3,"payload":{"local_echo_id":"$local.c"}}`,
	}))
	require.NoError(t, closeStore())

	out, err = execute(t, "pending", "--config", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"ORDER", "TYPE", "LOCAL", "ECHO", "ENCRYPT"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "send", "$local.a", "true"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"2", "redact", "$local.b", "-"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"3", "send", "$local.c", "room", "default"}, strings.Fields(lines[3]))

	out, err = execute(t, "pending", "--config", path, "--json")
	require.NoError(t, err)
	var records []pendingRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 3)
	assert.Equal(t, "$local.b", records[1].LocalEchoID)
	require.NotNil(t, records[0].Encrypt)
	assert.True(t, *records[0].Encrypt)
	assert.Nil(t, records[2].Encrypt)
}

func TestAppOptions_Validate(t *testing.T) {
	cfg, err := config.LoadFile(writeConfig(t))
	require.NoError(t, err)
	log, _ := logger.NewTestLogger(t)

	assert.NoError(t, fx.ValidateApp(appOptions(cfg, log)))

	cfg.Metrics.Addr = "127.0.0.1:0"
	assert.NoError(t, fx.ValidateApp(appOptions(cfg, log)))
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idemguard/idem"
	"github.com/ceyewan/idemguard/internal/app"
	"github.com/ceyewan/idemguard/testkit"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
log:
  level: error
  output: stderr
grpc:
  addr: ""
database:
  driver: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "idemd.db") + `
idem:
  driver: database
ratelimit:
  enabled: false
`
	path := filepath.Join(dir, "idemd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndUnlock(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t)

	_, err := execute(t, "migrate", "--config", path)
	require.NoError(t, err)

	cfg, err := app.Load(ctx, path)
	require.NoError(t, err)
	a, err := app.New(ctx, cfg)
	require.NoError(t, err)
	store := a.Guard.Store()
	rec, err := store.Create(ctx, testkit.NewKey(), "POST", "/users", []byte(`{"user":{"name":"John"}}`))
	require.NoError(t, err)
	require.NoError(t, store.Lock(ctx, rec))
	require.NoError(t, a.Close(ctx))

	out, err := execute(t, "unlock", "--config", path, "--id", itoa(rec.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "unlocked")

	_, err = execute(t, "unlock", "--config", path, "--id", itoa(rec.ID))
	assert.ErrorIs(t, err, idem.ErrNotLocked)
}

func TestUnlockRequiresID(t *testing.T) {
	_, err := execute(t, "unlock", "--config", writeConfig(t))
	assert.Error(t, err)
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}

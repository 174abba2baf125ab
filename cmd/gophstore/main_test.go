package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/gophstore/internal/config"
	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/errs"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Path = filepath.Join(dir, "config.json")
	cfg.DBPath = filepath.Join(dir, "db")
	cfg.KDF = crypto.TestKDFParams()
	cfg.LogLevel = "error"
	require.NoError(t, cfg.Save())
	return cfg.Path
}

// gs runs one command line with stdin as the typed input.
func gs(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"--config", cfgPath}, args...), strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestCLI_Lifecycle(t *testing.T) {
	cfg := withTmpConfig(t)

	out, err := gs(t, cfg, "pw\n", "status")
	require.NoError(t, err)
	require.Contains(t, out, "null")

	out, err = gs(t, cfg, "pw\npw\n", "init")
	require.NoError(t, err)
	require.Contains(t, out, "created")

	_, err = gs(t, cfg, "pw\npw\n", "init")
	require.Error(t, err)

	out, err = gs(t, cfg, "pw\n", "add", "login", "--id", "mail", "--username", "me", "--password", "hunter2", "--tag", "work")
	require.NoError(t, err)
	require.Contains(t, out, "mail")

	out, err = gs(t, cfg, "pw\n", "add", "secure_note", "--text", "remember the milk")
	require.NoError(t, err)

	out, err = gs(t, cfg, "pw\n", "list")
	require.NoError(t, err)
	require.Contains(t, out, "mail")
	require.Contains(t, out, "secure_note")

	out, err = gs(t, cfg, "pw\n", "show", "mail")
	require.NoError(t, err)
	require.Contains(t, out, `"password": "hunter2"`)

	_, err = gs(t, cfg, "pw\n", "tag", "rename", "work", "job")
	require.NoError(t, err)
	out, err = gs(t, cfg, "pw\n", "tag", "list")
	require.NoError(t, err)
	require.Equal(t, "Master password: job\n", out)

	_, err = gs(t, cfg, "pw\n", "fav", "mail")
	require.NoError(t, err)
	out, err = gs(t, cfg, "pw\n", "list", "--kind", "login", "--json")
	require.NoError(t, err)
	require.Contains(t, out, `"favorite": true`)

	out, err = gs(t, cfg, "", "check")
	require.NoError(t, err)
	require.Contains(t, out, "sound")

	_, err = gs(t, cfg, "nope\n", "verify")
	require.ErrorIs(t, err, errs.ErrWrongPassword)

	_, err = gs(t, cfg, "pw\nnew\nnew\n", "passwd")
	require.NoError(t, err)
	_, err = gs(t, cfg, "pw\n", "list")
	require.ErrorIs(t, err, errs.ErrWrongPassword)
	out, err = gs(t, cfg, "new\n", "show", "mail")
	require.NoError(t, err)
	require.Contains(t, out, "hunter2")

	_, err = gs(t, cfg, "new\n", "rm", "mail")
	require.NoError(t, err)
	_, err = gs(t, cfg, "new\n", "show", "mail")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCLI_Attachments(t *testing.T) {
	cfg := withTmpConfig(t)
	_, err := gs(t, cfg, "pw\npw\n", "init")
	require.NoError(t, err)
	_, err = gs(t, cfg, "pw\n", "add", "password", "--id", "p", "--password", "x")
	require.NoError(t, err)

	out, err := gs(t, cfg, "pw\nfile body", "attach", "p", "-")
	require.NoError(t, err)
	attID := strings.TrimSpace(strings.TrimPrefix(out, "Master password: "))
	require.NotEmpty(t, attID)

	out, err = gs(t, cfg, "pw\n", "attachment", "p", attID)
	require.NoError(t, err)
	require.Equal(t, "Master password: file body", out)
}

func TestCLI_ReadOnlyRejectsWrites(t *testing.T) {
	cfg := withTmpConfig(t)
	_, err := gs(t, cfg, "pw\npw\n", "init")
	require.NoError(t, err)

	_, err = gs(t, cfg, "pw\n", "--read-only", "add", "password", "--password", "x")
	require.ErrorIs(t, err, errs.ErrReadOnly)
}

func TestCLI_InitPasswordMismatch(t *testing.T) {
	cfg := withTmpConfig(t)
	_, err := gs(t, cfg, "a\nb\n", "init")
	require.Error(t, err)
}

func TestCLI_BareCommands(t *testing.T) {
	cfg := withTmpConfig(t)

	out, err := gs(t, cfg, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "gophstore dev")

	out, err = gs(t, cfg, "", "config")
	require.NoError(t, err)
	require.Contains(t, out, `"driver": "file"`)
}

func TestCLI_PushNeedsSyncConfig(t *testing.T) {
	cfg := withTmpConfig(t)
	_, err := gs(t, cfg, "pw\npw\n", "init")
	require.NoError(t, err)
	_, err = gs(t, cfg, "", "push")
	require.ErrorContains(t, err, "sync_addr")
}

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dvuploader/cmd/dvuploader/commands/cmdutil"
	"github.com/marmos91/dvuploader/pkg/journal"
	"github.com/marmos91/dvuploader/pkg/upload"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := GetRootCmd()
	for name, def := range map[string]string{"config": "", "output": "table", "verbose": "false", "no-color": "false"} {
		require.NoError(t, root.PersistentFlags().Set(name, def))
	}
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	t.Cleanup(func() { root.SetArgs(nil) })
	err := root.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	return dir
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	versionShort = false
	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dvuploader "+Version)
	assert.Contains(t, out, runtime.Version())
}

func TestCompletion(t *testing.T) {
	out, err := execute(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "dvuploader")

	_, err = execute(t, "completion", "tcsh")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "dvuploader.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	t.Run("init refuses to overwrite", func(t *testing.T) {
		_, err := execute(t, "config", "init", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("validate", func(t *testing.T) {
		out, err := execute(t, "config", "validate", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Validation: OK")
		assert.Contains(t, out, "repository.api_token")
	})

	t.Run("show masks token", func(t *testing.T) {
		t.Setenv("DVUPLOADER_REPOSITORY_API_TOKEN", "secret-token")
		out, err := execute(t, "config", "show", "--config", path, "-o", "json")
		require.NoError(t, err)
		assert.NotContains(t, out, "secret-token")

		var shown map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &shown))
		repo := shown["Repository"].(map[string]any)
		assert.Equal(t, "********", repo["APIToken"])
	})

	t.Run("schema", func(t *testing.T) {
		schemaPath := filepath.Join(dir, "schema.json")
		_, err := execute(t, "config", "schema", "--file", schemaPath)
		require.NoError(t, err)
		data, err := os.ReadFile(schemaPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "dataset_pid")
	})
}

func TestUploadRequiresRepository(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := execute(t, "upload", "-o", "table", "--url", "", file)
	require.Error(t, err)
	assert.True(t, upload.IsConfigurationError(err))
	assert.Equal(t, cmdutil.ExitConfig, ExitCode(err))
}

func TestUploadInvalidFixityIsConfigError(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := execute(t, "upload",
		"--url", "http://127.0.0.1:1",
		"--token", "secret",
		"--dataset", "doi:10.5072/FK2/TEST",
		"--fixity", "crc32",
		file)
	require.Error(t, err)
	assert.True(t, upload.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "upload.fixity")
	assert.Equal(t, cmdutil.ExitConfig, ExitCode(err))
}

func TestHistory(t *testing.T) {
	isolate(t)
	t.Setenv("DVUPLOADER_JOURNAL_ENABLED", "true")

	cfg := &journal.Config{}
	cfg.ApplyDefaults()
	store, err := journal.Open(cfg)
	require.NoError(t, err)

	started := time.Now().Add(-time.Hour)
	require.NoError(t, store.Record(context.Background(), &upload.Result{
		BatchID:    "5b0e3c3a-9d55-4a39-8e0e-1f5f1b6e2c11",
		DatasetPID: "doi:10.5072/FK2/HIST",
		Mode:       upload.ModeProxied,
		Started:    started,
		Finished:   started.Add(time.Minute),
		Outcomes: []upload.FileOutcome{
			{Path: "a.csv", Status: upload.StatusUploaded, Bytes: 42},
			{Path: "b.csv", Status: upload.StatusFailed, Reason: upload.ReasonRejected, Error: "400 bad request"},
		},
		Counters: upload.CounterSnapshot{UploadedFiles: 1, FailedFiles: 1, UploadedBytes: 42},
	}))
	require.NoError(t, store.Close())

	t.Run("list", func(t *testing.T) {
		out, err := execute(t, "history", "list", "-o", "table")
		require.NoError(t, err)
		assert.Contains(t, out, "5b0e3c3a")
		assert.Contains(t, out, "doi:10.5072/FK2/HIST")
	})

	t.Run("show by prefix", func(t *testing.T) {
		out, err := execute(t, "history", "show", "5b0e", "-o", "table")
		require.NoError(t, err)
		assert.Contains(t, out, "b.csv")
		assert.Contains(t, out, "400 bad request")
	})

	t.Run("unknown batch", func(t *testing.T) {
		_, err := execute(t, "history", "show", "ffff", "-o", "table")
		assert.ErrorIs(t, err, journal.ErrBatchNotFound)
	})

	t.Run("prune", func(t *testing.T) {
		out, err := execute(t, "history", "prune", "--older-than", "1m", "--force", "-o", "table")
		require.NoError(t, err)
		assert.Contains(t, out, "Pruned 1 batch(es)")

		out, err = execute(t, "history", "list", "-o", "table")
		require.NoError(t, err)
		assert.True(t, strings.Contains(out, "No batches recorded."))
	})
}

func TestHistoryDisabled(t *testing.T) {
	isolate(t)
	t.Setenv("DVUPLOADER_JOURNAL_ENABLED", "false")
	_, err := execute(t, "history", "list", "-o", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal is disabled")
}

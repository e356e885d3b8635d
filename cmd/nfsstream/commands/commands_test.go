package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsstream/pkg/nfs/nfstest"
)

type cliResult struct {
	stdout string
	stderr string
}

func newTestServer(t *testing.T) *nfstest.Server {
	t.Helper()
	srv, err := nfstest.NewServer("/export")
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	// Keep a config file on the developer's machine out of the test.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return srv
}

func runCLI(t *testing.T, srv *nfstest.Server, stdin string, args ...string) (cliResult, error) {
	t.Helper()
	root := NewRootCmd()

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	if srv != nil {
		args = append([]string{"--url", srv.URL(), "--log-level", "error"}, args...)
	}
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return cliResult{stdout: stdout.String(), stderr: stderr.String()}, err
}

func TestPutGet(t *testing.T) {
	t.Run("RoundTripsAFile", func(t *testing.T) {
		srv := newTestServer(t)
		dir := t.TempDir()
		payload := bytes.Repeat([]byte("nfsstream "), 10_000)
		local := filepath.Join(dir, "in.bin")
		require.NoError(t, os.WriteFile(local, payload, 0o600))

		_, err := runCLI(t, srv, "", "put", local, "data.bin")
		require.NoError(t, err)

		stored, ok := srv.ReadFile("data.bin")
		require.True(t, ok)
		assert.Equal(t, payload, stored)
		assert.Positive(t, srv.Count("COMMIT"))

		out := filepath.Join(dir, "out.bin")
		_, err = runCLI(t, srv, "", "get", "data.bin", out)
		require.NoError(t, err)

		got, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("PutFromStdin", func(t *testing.T) {
		srv := newTestServer(t)

		_, err := runCLI(t, srv, "hello from a pipe\n", "put", "-", "piped.txt")
		require.NoError(t, err)

		stored, ok := srv.ReadFile("piped.txt")
		require.True(t, ok)
		assert.Equal(t, "hello from a pipe\n", string(stored))
	})

	t.Run("PutRefusesToOverwrite", func(t *testing.T) {
		srv := newTestServer(t)
		srv.WriteFile("exists.txt", []byte("old"))

		_, err := runCLI(t, srv, "new", "put", "-", "exists.txt")
		require.Error(t, err)

		_, err = runCLI(t, srv, "new", "put", "--force", "-", "exists.txt")
		require.NoError(t, err)
		stored, _ := srv.ReadFile("exists.txt")
		assert.Equal(t, "new", string(stored))
	})

	t.Run("PutAppends", func(t *testing.T) {
		srv := newTestServer(t)
		srv.WriteFile("log.txt", []byte("one\n"))

		_, err := runCLI(t, srv, "two\n", "put", "--append", "-", "log.txt")
		require.NoError(t, err)
		stored, _ := srv.ReadFile("log.txt")
		assert.Equal(t, "one\ntwo\n", string(stored))
	})

	t.Run("CompressedRoundTrip", func(t *testing.T) {
		srv := newTestServer(t)
		dir := t.TempDir()
		payload := []byte(strings.Repeat("compressible line\n", 5_000))
		local := filepath.Join(dir, "in.txt")
		require.NoError(t, os.WriteFile(local, payload, 0o600))

		res, err := runCLI(t, srv, "", "-o", "json", "put", "--compress", "zstd", local, "in.txt.zst")
		require.NoError(t, err)

		var summary transferResult
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &summary))
		assert.Equal(t, int64(len(payload)), summary.Bytes)
		assert.Less(t, summary.WireBytes, summary.Bytes)

		stored, _ := srv.ReadFile("in.txt.zst")
		assert.Equal(t, int64(len(stored)), summary.WireBytes)

		// The local name drops the codec suffix when decompressing.
		out := t.TempDir()
		t.Chdir(out)

		_, err = runCLI(t, srv, "", "get", "--decompress", "auto", "in.txt.zst")
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(out, "in.txt"))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("GetMissingLeavesNoLocalFile", func(t *testing.T) {
		srv := newTestServer(t)
		out := filepath.Join(t.TempDir(), "missing.bin")

		_, err := runCLI(t, srv, "", "get", "missing.bin", out)
		require.Error(t, err)
		assert.NoFileExists(t, out)
	})
}

func TestCat(t *testing.T) {
	srv := newTestServer(t)
	srv.WriteFile("a.txt", []byte("alpha\n"))
	srv.WriteFile("b.txt", []byte("beta\n"))

	res, err := runCLI(t, srv, "", "cat", "a.txt", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", res.stdout)
}

func TestStat(t *testing.T) {
	srv := newTestServer(t)
	srv.WriteFile("file.txt", []byte("12345"))

	res, err := runCLI(t, srv, "", "-o", "json", "stat", "file.txt")
	require.NoError(t, err)

	var got statResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, "file.txt", got.Path)
	assert.Equal(t, int64(5), got.Size)

	res, err = runCLI(t, srv, "", "stat", "file.txt")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^Size:\s+5 \(5 B\)`, res.stdout)
}

func TestMkdirRm(t *testing.T) {
	srv := newTestServer(t)

	_, err := runCLI(t, srv, "", "mkdir", "-p", "a/b/c")
	require.NoError(t, err)
	assert.True(t, srv.Exists("a/b/c"))

	// Existing directories are fine with -p.
	_, err = runCLI(t, srv, "", "mkdir", "-p", "a/b")
	require.NoError(t, err)

	_, err = runCLI(t, srv, "", "mkdir", "a")
	require.Error(t, err)

	_, err = runCLI(t, srv, "", "rm", "--force", "a/b/c")
	require.Error(t, err, "directories need --dir")

	_, err = runCLI(t, srv, "", "rm", "--force", "--dir", "a/b/c")
	require.NoError(t, err)
	assert.False(t, srv.Exists("a/b/c"))

	srv.WriteFile("gone.txt", []byte("x"))
	_, err = runCLI(t, srv, "", "rm", "--force", "gone.txt", "never-existed.txt")
	require.NoError(t, err)
	assert.False(t, srv.Exists("gone.txt"))
}

func TestMissingURL(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := runCLI(t, nil, "", "stat", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no NFS URL")
}

func TestVersion(t *testing.T) {
	res, err := runCLI(t, nil, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", res.stdout)
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"a", "a/b", "a/b/c"}, ancestors("a/b/c"))
	assert.Equal(t, []string{"a"}, ancestors("/a/"))
	assert.Nil(t, ancestors("/"))
}

func TestLocalName(t *testing.T) {
	tests := []struct {
		remote     string
		decompress string
		want       string
	}{
		{"dir/file.tar.zst", "none", "file.tar.zst"},
		{"dir/file.tar.zst", "auto", "file.tar"},
		{"dir/file.tar.zst", "zstd", "file.tar"},
		{"dir/file.tar.zst", "gzip", "file.tar.zst"},
		{"file.gz", "auto", "file"},
		{"plain.txt", "auto", "plain.txt"},
	}
	for _, tt := range tests {
		if got := localName(tt.remote, tt.decompress); got != tt.want {
			t.Errorf("localName(%q, %q) = %q, want %q", tt.remote, tt.decompress, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	m, err := parseMode("0640")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o640), m)

	for _, bad := range []string{"", "rw-r--r--", "0999", "17777"} {
		_, err := parseMode(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	res, err := runCLI(t, nil, "", "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, res.stdout, path)
	assert.FileExists(t, path)

	_, err = runCLI(t, nil, "", "config", "init", "--config", path)
	require.Error(t, err, "existing file needs --force")

	res, err = runCLI(t, nil, "", "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, res.stdout, "Validation: OK")
	assert.Contains(t, res.stdout, "nfs.url not set")

	t.Setenv("NFSSTREAM_STREAM_WORKERS", "3")
	res, err = runCLI(t, nil, "", "config", "show", "--config", path, "-o", "json")
	require.NoError(t, err)
	var shown struct {
		Stream struct {
			Workers int `json:"Workers"`
		} `json:"Stream"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &shown))
	assert.Equal(t, 3, shown.Stream.Workers)

	res, err = runCLI(t, nil, "", "config", "schema")
	require.NoError(t, err)
	assert.Contains(t, res.stdout, "nfsstream Configuration")
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestRootCommand_help(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "record")
	assert.Contains(t, out, "--base-dir")
}

func TestRecordCommand_requires_two_args(t *testing.T) {
	_, err := execute(t, "record", "only-owner")
	assert.Error(t, err)
}

func TestRecordCommand_rejects_unknown_policy(t *testing.T) {
	base := t.TempDir()
	_, err := execute(t, "--base-dir", base, "--log-level", "error", "record", "--unordered", "keep", "room", "http://127.0.0.1/x.m3u8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--unordered")
}

func TestRecordCommand_records_finished_stream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:1\n")
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(&b, "#EXTINF:1.0,\nchunk-%d.ts\n", i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		w.Write([]byte(b.String()))
	})
	mux.HandleFunc("GET /live/{seg}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.PathValue("seg")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	base := t.TempDir()
	out, err := execute(t, "--base-dir", base, "--log-level", "error", "record", "demo_room", srv.URL+"/live/index.m3u8")
	require.NoError(t, err)
	assert.Contains(t, out, "recorded 3 segments")

	files, err := filepath.Glob(filepath.Join(base, "video", "demo_room_*.ts"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "chunk-1.tschunk-2.tschunk-3.ts", string(data))

	_, err = os.Stat(filepath.Join(base, "configs.yml"))
	assert.NoError(t, err, "default config is written")
}

func TestRunCommand_refuses_second_instance(t *testing.T) {
	base := t.TempDir()
	held := flock.New(filepath.Join(base, "recorder.lock"))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = execute(t, "--base-dir", base, "--log-level", "error", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

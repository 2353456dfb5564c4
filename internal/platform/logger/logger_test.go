package logger

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestNewLogger_level(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "text")

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestNewLogger_json_default(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "", "")
	log.Info("hello", slog.String("room", "r1"))

	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"room":"r1"`) {
		t.Errorf("expected json record, got %s", buf.String())
	}
	if log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default level should be info")
	}
}

func TestNewWithFile(t *testing.T) {
	dir := t.TempDir()
	log, closer, err := NewWithFile("debug", "json", dir)
	if err != nil {
		t.Fatalf("NewWithFile: %v", err)
	}
	log.Debug("to file")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", entries, err)
	}
	data, _ := os.ReadFile(dir + "/" + entries[0].Name())
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "info", "json")

	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			return
		}
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("abc"))
	}))

	t.Run("client_error_logs_warn", func(t *testing.T) {
		buf.Reset()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

		out := buf.String()
		for _, want := range []string{`"level":"WARN"`, `"status":418`, `"size":3`, `"path":"/sessions"`, `"request_id":"`} {
			if !strings.Contains(out, want) {
				t.Errorf("missing %s in %s", want, out)
			}
		}
		if rec.Header().Get(RequestIDHeader) == "" {
			t.Error("expected request id header")
		}
	})

	t.Run("keeps_caller_request_id", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
			t.Errorf("expected caller id, got %q", got)
		}
		if !strings.Contains(buf.String(), `"request_id":"abc-123"`) {
			t.Errorf("unexpected request log: %s", buf.String())
		}
	})

	t.Run("health_check_logs_debug", func(t *testing.T) {
		buf.Reset()
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if buf.Len() != 0 {
			t.Errorf("expected health check filtered at info level, got %s", buf.String())
		}
	})
}

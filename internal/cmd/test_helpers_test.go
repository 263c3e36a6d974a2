package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/ipc"
	"github.com/rinawarp/cmdintel/internal/storage"
)

// setupCmdTest isolates a command test: XDG directories under a temp
// dir, plain output, default global flags and an in-memory engine as
// the backend.
func setupCmdTest(t *testing.T) *ipc.Local {
	t.Helper()

	root := t.TempDir()
	for _, env := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME", "XDG_RUNTIME_DIR"} {
		t.Setenv(env, filepath.Join(root, env))
	}
	for _, env := range []string{"CMDINTEL_DEBUG", "CMDINTEL_LOG_LEVEL", "CMDINTEL_SOCKET_PATH", "CMDINTEL_STORE_PATH", "CMDINTEL_STORE_BACKEND", "CMDINTEL_ORACLE_ENABLED"} {
		t.Setenv(env, "")
	}
	t.Setenv("CMDINTEL_SESSION_ID", "test-session")

	disableColors()
	t.Cleanup(enableColors)

	resetFlags()
	t.Cleanup(resetFlags)

	return withLocalBackend(t)
}

// resetFlags restores every command flag to its default.
func resetFlags() {
	localMode, jsonOutput = false, false
	recordExit, recordDurationMs, recordDir, recordSession, recordStdin = 0, 0, "", "", false
	predictSession = ""
	workflowDir, nextLimit = "", 0
	errorExit, errorText, errorFile, errorDir, recoverFail = 1, "", "", "", false
	pickQuery, pickSession, pickLast, pickDir = "", "", "", ""
}

// withLocalBackend points openBackend at a fresh in-memory engine.
func withLocalBackend(t *testing.T) *ipc.Local {
	t.Helper()

	store := storage.NewMemoryStore()
	eng := engine.New(store, engine.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	local := ipc.NewLocal(eng)

	old := openBackend
	openBackend = func(context.Context) (ipc.Backend, func(), error) {
		return local, func() {}, nil
	}
	t.Cleanup(func() {
		openBackend = old
		eng.Close()
		store.Close()
	})
	return local
}

// record feeds commands into the backend in one session.
func record(t *testing.T, b ipc.Backend, session string, commands ...string) {
	t.Helper()
	for _, c := range commands {
		_, err := b.Record(context.Background(), engine.Execution{Session: session, Command: c})
		require.NoError(t, err)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() failed: %v", err)
	}
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	fn()
	_ = w.Close()
	os.Stdout = old
	out := <-outC
	_ = r.Close()
	return out
}

// runCapture runs a command's RunE and returns its stdout.
func runCapture(t *testing.T, run func() error) string {
	t.Helper()
	var runErr error
	out := captureStdout(t, func() { runErr = run() })
	require.NoError(t, runErr)
	return out
}

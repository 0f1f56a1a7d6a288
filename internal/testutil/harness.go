package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/loopgrid/internal/app"
	"github.com/specialistvlad/loopgrid/internal/hcl"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an application test run. Output
// interleaves the logs with whatever the run printed.
type HarnessResult struct {
	Output string
	Err    error
	App    *app.App
}

// WriteFiles lays out files, keyed by relative path, under a fresh
// temporary directory and returns the directory.
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// RunApp writes files to a temporary directory, points cfg at it and runs
// the application with the HCL loader and debug logging.
func RunApp(t *testing.T, files map[string]string, cfg app.Config) *HarnessResult {
	t.Helper()
	return RunAppWithContext(context.Background(), t, files, cfg)
}

// RunAppWithContext is RunApp with a caller-provided context.
func RunAppWithContext(ctx context.Context, t *testing.T, files map[string]string, cfg app.Config) *HarnessResult {
	t.Helper()

	cfg.PipelinePath = WriteFiles(t, files)
	cfg.LogLevel = "debug"
	cfg.LogFormat = "text"
	appConfig, err := app.NewConfig(cfg)
	require.NoError(t, err)

	out := &SafeBuffer{}
	t.Cleanup(func() {
		if os.Getenv("LOOPGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), out.String())
		}
	})

	a, err := app.NewApp(out, appConfig, hcl.NewLoader())
	if err != nil {
		return &HarnessResult{Output: out.String(), Err: err}
	}
	err = a.Run(ctx)
	return &HarnessResult{Output: out.String(), Err: err, App: a}
}

package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lguibr/twothread/utils"
)

// lockedBuffer is shared by the log handler and the input watcher.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func fastConfigFile(t *testing.T) string {
	t.Helper()
	content := `
reader:
  period: 10ms
  readDuration: 1ms
writer:
  minPause: 1ms
  maxPause: 2ms
shutdownTimeout: 2s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApp_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	require.NoError(t, app.ExecuteWithArgs(context.Background(), []string{"version"}))
	assert.Contains(t, stdout.String(), "twothread version")
}

func TestApp_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	require.NoError(t, app.ExecuteWithArgs(context.Background(), []string{"--help"}))
	output := stdout.String()
	assert.Contains(t, output, "two")
	for _, sub := range []string{"run", "config", "version"} {
		assert.Contains(t, output, sub)
	}
}

func TestApp_ConfigPrintsEffectiveYAML(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	args := []string{"config", "-c", fastConfigFile(t), "--log-level", "debug", "--output-dir", "out"}
	require.NoError(t, app.ExecuteWithArgs(context.Background(), args))

	cfg, err := utils.NewLoader().LoadString(stdout.String(), utils.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.Reader.Period)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "out", cfg.Writer.OutputDir)
	assert.Equal(t, 2, cfg.Writer.MailboxCapacity, "defaults fill the gaps")
}

func TestApp_ConfigRejectsBadOverride(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"config", "--log-level", "chatty"})
	assert.ErrorIs(t, err, utils.ErrInvalidConfig)

	app = New().WithOutput(&stdout, &stderr)
	err = app.ExecuteWithArgs(context.Background(), []string{"config", "-c", filepath.Join(t.TempDir(), "none.yaml")})
	assert.ErrorIs(t, err, utils.ErrConfigNotFound)
}

func TestApp_RunStopsOnExit(t *testing.T) {
	out := &lockedBuffer{}
	stdinR, stdinW := io.Pipe()
	app := New().WithOutput(out, out).WithInput(stdinR)

	dataDir := t.TempDir()
	done := make(chan error, 1)
	go func() {
		done <- app.ExecuteWithArgs(context.Background(), []string{
			"run", "-c", fastConfigFile(t), "--output-dir", dataDir, "--log-format", "json", "--seed", "9",
		})
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "write finished")
	}, 3*time.Second, 10*time.Millisecond)

	_, err := io.WriteString(stdinW, "status\n")
	require.NoError(t, err)
	_, err = io.WriteString(stdinW, "exit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after exit")
	}
	_ = stdinW.Close()

	output := out.String()
	assert.Contains(t, output, "Type 'exit' to quit:")
	assert.Contains(t, output, "Type 'exit' to quit\n")
	assert.Contains(t, output, "meter read started")
	assert.Contains(t, output, "meter read finished")
	assert.Contains(t, output, "write started")

	_, err = os.Stat(filepath.Join(dataDir, "data_0.dat"))
	assert.NoError(t, err)
}

func TestApp_RunWithDuration(t *testing.T) {
	out := &lockedBuffer{}
	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()
	app := New().WithOutput(out, out).WithInput(stdinR)

	start := time.Now()
	err := app.ExecuteWithArgs(context.Background(), []string{
		"run", "-c", fastConfigFile(t), "--duration", "100ms", "--monitor-addr", "127.0.0.1:0",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, out.String(), "monitor listening")
}

func TestApp_RunEndsOnClosedInput(t *testing.T) {
	out := &lockedBuffer{}
	app := New().WithOutput(out, out).WithInput(strings.NewReader(""))

	err := app.ExecuteWithArgs(context.Background(), []string{"run", "-c", fastConfigFile(t)})
	assert.NoError(t, err)
}

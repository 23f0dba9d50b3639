// cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/mocks"
	"github.com/xkilldash9x/settle/internal/observability"
)

const testConfig = `
logger:
  level: error
  format: json
wait:
  timeout: 2s
  poll_interval: 10ms
script:
  scroll_settle: 0s
  smooth_scroll_settle: 0s
  hover_settle: 0s
`

// writeConfig writes a config file tuned for fast tests and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// fakeBrowser swaps openSession for one that hands out fake and records
// whether the browser was shut down.
func fakeBrowser(t *testing.T, fake *mocks.FakeSession) *bool {
	t.Helper()
	shutdown := new(bool)
	original := openSession
	openSession = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (probeSession, func(context.Context) error, error) {
		return fake, func(context.Context) error { *shutdown = true; return nil }, nil
	}
	t.Cleanup(func() { openSession = original })
	return shutdown
}

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func findCommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

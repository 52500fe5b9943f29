package shell

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecRunSuccess(t *testing.T) {
	skipOnWindows(t)

	var out bytes.Buffer
	r := NewExec([]string{"GREETING=hello"})
	err := r.Run(context.Background(), Cmd{
		Name:   "sh",
		Args:   []string{"-c", "echo $GREETING $EXTRA"},
		Env:    []string{"EXTRA=world"},
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out.String())
}

func TestExecRunFailureCapturesExitCode(t *testing.T) {
	skipOnWindows(t)

	r := NewExec(nil, WithQuiet(true))
	err := r.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo boom; exit 3"}, Dir: t.TempDir()})
	require.Error(t, err)

	var serr *SubprocessError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 3, serr.ExitCode)
	assert.Empty(t, serr.Signal)
	assert.Contains(t, serr.Output, "boom")
	assert.Contains(t, serr.Error(), "status code 3")
}

func TestExecRunSignal(t *testing.T) {
	skipOnWindows(t)

	r := NewExec(nil, WithQuiet(true))
	err := r.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "kill -9 $$"}})

	var serr *SubprocessError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, -1, serr.ExitCode)
	assert.NotEmpty(t, serr.Signal)
}

func TestExecRunMissingBinary(t *testing.T) {
	r := NewExec(nil)
	err := r.Run(context.Background(), Cmd{Name: "definitely-not-a-real-binary-xyz"})

	var serr *SubprocessError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, -1, serr.ExitCode)
}

func TestCmdString(t *testing.T) {
	assert.Equal(t, "git clone --depth 1", Cmd{Name: "git", Args: []string{"clone", "--depth", "1"}}.String())
	assert.Equal(t, "npm", Cmd{Name: "npm"}.String())
}

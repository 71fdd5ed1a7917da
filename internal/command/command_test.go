package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

func TestExecCapturesOutput(t *testing.T) {
	result, err := Exec{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Zero(t, result.ExitCode)
}

func TestExecNonzeroExit(t *testing.T) {
	result, err := Exec{}.Run(context.Background(), "sh", "-c", "echo partial; exit 3")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCommandExecution))
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "partial\n", result.Stdout)
}

func TestExecMissingBinary(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), "/nonexistent/xrhms-helper")
	require.Error(t, err)
}

func TestSudo(t *testing.T) {
	name, args := Sudo(true, "smartctl", "--all", "/mnt/archive")
	assert.Equal(t, "sudo", name)
	assert.Equal(t, []string{"smartctl", "--all", "/mnt/archive"}, args)

	name, args = Sudo(false, "smartctl", "--all")
	assert.Equal(t, "smartctl", name)
	assert.Equal(t, []string{"--all"}, args)
}

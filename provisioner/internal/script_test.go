package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.sh")
	require.NoError(t, os.WriteFile(path, []byte(`#!/bin/bash
#SBATCH --job-name=pi
#SBATCH --time=01:00:00

  cd ~/pi
# build
make pi
./pi 1000000 > out.txt
`), 0o644))

	command, err := ScriptCommand(path)
	require.NoError(t, err)
	assert.Equal(t, "cd ~/pi; make pi; ./pi 1000000 > out.txt", command)

	_, err = ScriptCommand(filepath.Join(t.TempDir(), "missing.sh"))
	assert.Error(t, err)
}

func TestShutdownCommand(t *testing.T) {
	assert.Equal(t, "sudo shutdown -P 5", ShutdownCommand(5*time.Minute))
	assert.Equal(t, "sudo shutdown -P 91", ShutdownCommand(90*time.Minute+30*time.Second))
	assert.Equal(t, "sudo shutdown -P 1", ShutdownCommand(10*time.Second))
}

package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/gammadia/skyway/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobScript(t *testing.T) {
	script, err := ParseJobScript(strings.NewReader(testScript))
	require.NoError(t, err)

	assert.Equal(t, JobScript{
		JobName:    "pi",
		Account:    "lab",
		Constraint: "c1",
		Walltime:   2 * time.Hour,
		Hook:       "skyway_transfer --source data/",
		Commands:   []string{"cd ~/pi", "make pi"},
	}, script)
	assert.Equal(t, "cd ~/pi; make pi", script.Command())
}

func TestParseJobScriptShortOptions(t *testing.T) {
	script, err := ParseJobScript(strings.NewReader(`
#SBATCH -J short
#SBATCH -A lab
#SBATCH -C g1
#SBATCH -t 1-00:00:00
#SBATCH --nodes=1
hostname
`))
	require.NoError(t, err)

	assert.Equal(t, "short", script.JobName)
	assert.Equal(t, "lab", script.Account)
	assert.Equal(t, "g1", script.Constraint)
	assert.Equal(t, 24*time.Hour, script.Walltime)
	assert.Empty(t, script.Hook)
}

func TestParseJobScriptDefaults(t *testing.T) {
	script, err := ParseJobScript(strings.NewReader("echo hello\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultJobName, script.JobName)
	assert.Zero(t, script.Walltime)
	assert.Equal(t, []string{"echo hello"}, script.Commands)
}

func TestParseJobScriptErrors(t *testing.T) {
	tests := map[string]string{
		"two hooks":    "skyway_transfer a\nskyway_transfer b\n",
		"bad walltime": "#SBATCH --time=soon\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJobScript(strings.NewReader(input))
			assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
		})
	}
}

package orchestrator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
)

const (
	DefaultJobName  = "my-run"
	directivePrefix = "#SBATCH"
	hookMarker      = "skyway_"
)

// JobScript is what a batch script tells about the run it describes.
type JobScript struct {
	JobName    string
	Account    string
	Constraint string
	Walltime   time.Duration

	// Hook is run on the submitting host once the node exists.
	Hook string
	// Commands are the lines run on the node, comments and hook excluded.
	Commands []string
}

// Command joins the node commands into a single command line.
func (s JobScript) Command() string {
	return strings.Join(s.Commands, "; ")
}

func LoadJobScript(path string) (JobScript, error) {
	f, err := os.Open(path)
	if err != nil {
		return JobScript{}, errdefs.InvalidArgument("failed to open job script: %v", err)
	}
	defer f.Close()

	script, err := ParseJobScript(f)
	if err != nil {
		return JobScript{}, fmt.Errorf("job script '%s': %w", path, err)
	}
	return script, nil
}

// ParseJobScript reads #SBATCH directives and the pre-execute hook line.
// Directives are key=value or key value pairs. Unknown directives are ignored.
func ParseJobScript(r io.Reader) (JobScript, error) {
	script := JobScript{JobName: DefaultJobName}
	hookLine := 0

	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, directivePrefix):
			if err := script.directive(strings.TrimSpace(strings.TrimPrefix(line, directivePrefix))); err != nil {
				return JobScript{}, errdefs.InvalidArgument("line %d: %v", n, err)
			}

		case strings.Contains(line, hookMarker):
			if hookLine != 0 {
				return JobScript{}, errdefs.InvalidArgument("line %d: more than one pre-execute hook, first on line %d", n, hookLine)
			}
			script.Hook = strings.TrimSpace(strings.TrimLeft(line, "#"))
			hookLine = n

		case line == "", strings.HasPrefix(line, "#"):
			// blank or comment

		default:
			script.Commands = append(script.Commands, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return JobScript{}, fmt.Errorf("failed to read job script: %w", err)
	}
	return script, nil
}

func (s *JobScript) directive(text string) error {
	var key, value string
	if k, v, ok := strings.Cut(text, "="); ok {
		key, value = strings.TrimSpace(k), strings.TrimSpace(v)
	} else if fields := strings.Fields(text); len(fields) == 2 {
		key, value = fields[0], fields[1]
	} else {
		return nil
	}

	switch key {
	case "--job-name", "-J":
		s.JobName = value
	case "--account", "-A":
		s.Account = value
	case "--constraint", "-C":
		s.Constraint = value
	case "--time", "-t":
		walltime, err := provisioner.ParseWalltime(value)
		if err != nil {
			return err
		}
		s.Walltime = walltime
	}
	return nil
}

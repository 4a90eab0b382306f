package internal

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// ScriptCommand turns a shell script into a single command line: blank lines
// and comment lines are dropped, the rest is joined with "; ".
func ScriptCommand(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	var commands []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return strings.Join(commands, "; "), nil
}

// ShutdownCommand powers a node off once walltime has elapsed, rounded up to the minute.
func ShutdownCommand(walltime time.Duration) string {
	minutes := max(int(math.Ceil(walltime.Minutes())), 1)
	return fmt.Sprintf("sudo shutdown -P %d", minutes)
}

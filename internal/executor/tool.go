package executor

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

const checkTimeout = 10 * time.Second

// toolArgs splits command and requires its first word to be tool, either
// bare or as a path ending in tool.
func toolArgs(t models.ActionType, tool, command string) ([]string, error) {
	argv, err := Split(command)
	if err != nil {
		return nil, &models.ValidationError{Field: "action_command", Reason: err.Error()}
	}
	if argv[0] != tool && filepath.Base(argv[0]) != tool {
		return nil, &models.ValidationError{
			Field:  "action_command",
			Reason: fmt.Sprintf("%s commands must start with %q, got %q", t, tool, argv[0]),
		}
	}
	return argv, nil
}

// checkTool verifies tool is on PATH and answers a version query.
func checkTool(ctx context.Context, runner Runner, tool string, versionArgs ...string) error {
	path, err := exec.LookPath(tool)
	if err != nil {
		return fmt.Errorf("%s not found: %w", tool, err)
	}

	res, err := runner.Run(ctx, append([]string{path}, versionArgs...), checkTimeout)
	if err != nil {
		return fmt.Errorf("%s is not runnable: %w", tool, err)
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("%s version check exited %d: %s", tool, res.ExitStatus, res.Stderr)
	}
	return nil
}

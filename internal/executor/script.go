package executor

import (
	"context"
	"strings"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// ScriptExecutor hands the whole command to a shell interpreter.
type ScriptExecutor struct {
	shell  []string
	runner Runner
}

// NewScriptExecutor takes the interpreter invocation, e.g. "/bin/sh -c".
func NewScriptExecutor(shell string, runner Runner) *ScriptExecutor {
	argv, err := Split(shell)
	if err != nil {
		argv = []string{"/bin/sh", "-c"}
	}
	return &ScriptExecutor{shell: argv, runner: runner}
}

func (e *ScriptExecutor) Type() models.ActionType { return models.ActionTypeScript }

func (e *ScriptExecutor) SupportsDryRun() bool { return false }

func (e *ScriptExecutor) Validate(command string) error {
	if strings.TrimSpace(command) == "" {
		return &models.ValidationError{Field: "action_command", Reason: "script is empty"}
	}
	return nil
}

func (e *ScriptExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	if req.DryRun {
		return nil, &models.NotSupportedError{ActionType: e.Type(), Operation: "dry run"}
	}
	if err := e.Validate(req.Command); err != nil {
		return nil, err
	}

	argv := make([]string, 0, len(e.shell)+1)
	argv = append(argv, e.shell...)
	argv = append(argv, req.Command)
	return e.runner.Run(ctx, argv, req.Timeout)
}

func (e *ScriptExecutor) Check(ctx context.Context) error {
	args := make([]string, 0, len(e.shell))
	args = append(args, e.shell[1:]...)
	return checkTool(ctx, e.runner, e.shell[0], append(args, "exit 0")...)
}

package executor

import (
	"context"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// CLIExecutor runs cloud CLI invocations such as "oci compute instance action".
// The cloud CLI has no general plan mode, so dry runs are refused.
type CLIExecutor struct {
	tool   string
	runner Runner
}

func NewCLIExecutor(tool string, runner Runner) *CLIExecutor {
	return &CLIExecutor{tool: tool, runner: runner}
}

func (e *CLIExecutor) Type() models.ActionType { return models.ActionTypeCLICommand }

func (e *CLIExecutor) SupportsDryRun() bool { return false }

func (e *CLIExecutor) Validate(command string) error {
	_, err := toolArgs(e.Type(), e.tool, command)
	return err
}

func (e *CLIExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	if req.DryRun {
		return nil, &models.NotSupportedError{ActionType: e.Type(), Operation: "dry run"}
	}
	argv, err := toolArgs(e.Type(), e.tool, req.Command)
	if err != nil {
		return nil, err
	}
	return e.runner.Run(ctx, argv, req.Timeout)
}

func (e *CLIExecutor) Check(ctx context.Context) error {
	return checkTool(ctx, e.runner, e.tool, "--version")
}

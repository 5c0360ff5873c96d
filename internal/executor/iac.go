package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// Subcommands that change infrastructure and their plan equivalents.
var iacMutating = map[string][]string{
	"apply":   {"plan"},
	"destroy": {"plan", "-destroy"},
}

// Subcommands a dry run may run unchanged. Nested entries list the allowed
// second words, e.g. "state list".
var (
	iacReadOnly = map[string]bool{
		"plan":      true,
		"show":      true,
		"validate":  true,
		"output":    true,
		"version":   true,
		"providers": true,
		"graph":     true,
	}
	iacReadOnlyNested = map[string]map[string]bool{
		"state":     {"list": true, "show": true},
		"workspace": {"list": true, "show": true},
	}
)

// Flags plan rejects.
var iacApplyOnlyFlags = map[string]bool{
	"-auto-approve":  true,
	"--auto-approve": true,
}

// IaCExecutor runs infrastructure-as-code commands (terraform by default).
// Dry runs become the equivalent plan.
type IaCExecutor struct {
	tool   string
	runner Runner
}

func NewIaCExecutor(tool string, runner Runner) *IaCExecutor {
	return &IaCExecutor{tool: tool, runner: runner}
}

func (e *IaCExecutor) Type() models.ActionType { return models.ActionTypeInfraAsCode }

func (e *IaCExecutor) SupportsDryRun() bool { return true }

func (e *IaCExecutor) Validate(command string) error {
	argv, err := toolArgs(e.Type(), e.tool, command)
	if err != nil {
		return err
	}
	if subcommandIndex(argv) < 0 {
		return &models.ValidationError{Field: "action_command", Reason: fmt.Sprintf("%s command has no subcommand", e.tool)}
	}
	return nil
}

func (e *IaCExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	if err := e.Validate(req.Command); err != nil {
		return nil, err
	}
	argv, _ := Split(req.Command)
	if req.DryRun {
		var err error
		if argv, err = e.planArgs(argv); err != nil {
			return nil, err
		}
	}
	return e.runner.Run(ctx, argv, req.Timeout)
}

// CheckDryRun reports whether command has a read-only plan equivalent.
func (e *IaCExecutor) CheckDryRun(command string) error {
	argv, err := Split(command)
	if err != nil {
		return &models.ValidationError{Field: "action_command", Reason: err.Error()}
	}
	_, err = e.planArgs(argv)
	return err
}

func (e *IaCExecutor) Check(ctx context.Context) error {
	return checkTool(ctx, e.runner, e.tool, "version")
}

// planArgs rewrites a mutating invocation into its read-only plan. Read-only
// subcommands pass through unchanged; anything else is refused.
func (e *IaCExecutor) planArgs(argv []string) ([]string, error) {
	i := subcommandIndex(argv)
	if i < 0 {
		return nil, e.refuse("no subcommand")
	}
	sub := argv[i]

	if iacReadOnly[sub] {
		return argv, nil
	}
	if nested, ok := iacReadOnlyNested[sub]; ok {
		j := wordIndex(argv, i+1)
		if j >= 0 && nested[argv[j]] {
			return argv, nil
		}
		if j < 0 {
			return nil, e.refuse(fmt.Sprintf("%q has no read-only form", sub))
		}
		return nil, e.refuse(fmt.Sprintf("%q has no read-only form", sub+" "+argv[j]))
	}

	replacement, ok := iacMutating[sub]
	if !ok {
		return nil, e.refuse(fmt.Sprintf("%q has no read-only form", sub))
	}

	out := make([]string, 0, len(argv)+1)
	out = append(out, argv[:i]...)
	out = append(out, replacement...)
	for _, arg := range argv[i+1:] {
		if iacApplyOnlyFlags[arg] {
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func (e *IaCExecutor) refuse(reason string) error {
	return &models.NotSupportedError{ActionType: e.Type(), Operation: "dry run", Reason: reason}
}

// subcommandIndex skips global flags like -chdir=dir.
func subcommandIndex(argv []string) int {
	return wordIndex(argv, 1)
}

// wordIndex returns the index of the first non-flag argument at or after
// from, or -1. Words after a "--" separator are not considered.
func wordIndex(argv []string, from int) int {
	for i := from; i < len(argv); i++ {
		if argv[i] == "--" {
			return -1
		}
		if !strings.HasPrefix(argv[i], "-") {
			return i
		}
	}
	return -1
}

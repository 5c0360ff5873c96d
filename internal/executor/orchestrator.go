package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// Verbs that never mutate cluster state. A dry run passes them through
// unchanged. Nested entries list the allowed second words.
var (
	orchestratorReadOnly = map[string]bool{
		"get":           true,
		"describe":      true,
		"logs":          true,
		"top":           true,
		"explain":       true,
		"version":       true,
		"api-resources": true,
		"api-versions":  true,
		"cluster-info":  true,
		"diff":          true,
	}
	orchestratorReadOnlyNested = map[string]map[string]bool{
		"rollout": {"status": true, "history": true},
		"auth":    {"can-i": true, "whoami": true},
		"config":  {"view": true, "current-context": true, "get-contexts": true},
	}
)

const serverDryRun = "--dry-run=server"

// Verbs that accept --dry-run=server. A nil entry allows every second word.
var orchestratorDryRunnable = map[string]map[string]bool{
	"apply":     nil,
	"create":    nil,
	"delete":    nil,
	"patch":     nil,
	"replace":   nil,
	"scale":     nil,
	"annotate":  nil,
	"label":     nil,
	"set":       nil,
	"expose":    nil,
	"autoscale": nil,
	"taint":     nil,
	"cordon":    nil,
	"uncordon":  nil,
	"drain":     nil,
	"rollout":   {"restart": true, "undo": true},
}

// OrchestratorExecutor runs container orchestrator commands (kubectl).
type OrchestratorExecutor struct {
	tool   string
	runner Runner
}

func NewOrchestratorExecutor(tool string, runner Runner) *OrchestratorExecutor {
	return &OrchestratorExecutor{tool: tool, runner: runner}
}

func (e *OrchestratorExecutor) Type() models.ActionType { return models.ActionTypeOrchestrator }

func (e *OrchestratorExecutor) SupportsDryRun() bool { return true }

func (e *OrchestratorExecutor) Validate(command string) error {
	argv, err := toolArgs(e.Type(), e.tool, command)
	if err != nil {
		return err
	}
	if subcommandIndex(argv) < 0 {
		return &models.ValidationError{Field: "action_command", Reason: e.tool + " command has no verb"}
	}
	return nil
}

func (e *OrchestratorExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	if err := e.Validate(req.Command); err != nil {
		return nil, err
	}
	argv, _ := Split(req.Command)
	if req.DryRun {
		var err error
		if argv, err = e.serverDryRunArgs(argv); err != nil {
			return nil, err
		}
	}
	return e.runner.Run(ctx, argv, req.Timeout)
}

// CheckDryRun reports whether command can run as a server-side dry run.
func (e *OrchestratorExecutor) CheckDryRun(command string) error {
	argv, err := Split(command)
	if err != nil {
		return &models.ValidationError{Field: "action_command", Reason: err.Error()}
	}
	_, err = e.serverDryRunArgs(argv)
	return err
}

func (e *OrchestratorExecutor) Check(ctx context.Context) error {
	return checkTool(ctx, e.runner, e.tool, "version", "--client")
}

// serverDryRunArgs forces a server-side dry run, replacing any --dry-run
// flag the command already carries. The flag goes before a "--" separator so
// it is never handed to a remote command. Read-only verbs pass through and
// every other verb is refused.
func (e *OrchestratorExecutor) serverDryRunArgs(argv []string) ([]string, error) {
	i := subcommandIndex(argv)
	if i < 0 {
		return nil, e.refuse("no verb")
	}
	verb := argv[i]
	j := wordIndex(argv, i+1)
	second := ""
	if j >= 0 {
		second = argv[j]
	}

	if orchestratorReadOnly[verb] || orchestratorReadOnlyNested[verb][second] {
		return argv, nil
	}

	allowed, ok := orchestratorDryRunnable[verb]
	if !ok || (allowed != nil && !allowed[second]) {
		name := verb
		if _, nested := orchestratorReadOnlyNested[verb]; nested && second != "" {
			name += " " + second
		}
		return nil, e.refuse(fmt.Sprintf("%q has no server-side dry run", name))
	}

	sep := len(argv)
	for k, arg := range argv {
		if arg == "--" {
			sep = k
			break
		}
	}

	out := make([]string, 0, len(argv)+1)
	for _, arg := range argv[:sep] {
		if arg == "--dry-run" || strings.HasPrefix(arg, "--dry-run=") {
			continue
		}
		out = append(out, arg)
	}
	out = append(out, serverDryRun)
	return append(out, argv[sep:]...), nil
}

func (e *OrchestratorExecutor) refuse(reason string) error {
	return &models.NotSupportedError{ActionType: e.Type(), Operation: "dry run", Reason: reason}
}

// Package executor runs remediation commands against their backends.
//
// Each action type is bound to exactly one Executor. The Dispatcher is a
// lookup table from type to executor; it never branches on the type itself.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

type Executor interface {
	Type() models.ActionType
	// Validate checks that command is well formed for this executor.
	Validate(command string) error
	SupportsDryRun() bool
	// Run executes the command once. A non-zero exit is reported through
	// Result.ExitStatus; an error means the command did not run to completion
	// (*models.TimeoutError on timeout, *models.ExecutionError otherwise).
	Run(ctx context.Context, req Request) (*Result, error)
	// Check reports whether the backing tool is installed and runnable.
	Check(ctx context.Context) error
}

// DryRunChecker is implemented by executors whose dry run depends on the
// command. CheckDryRun returns a *models.NotSupportedError when command has
// no read-only equivalent.
type DryRunChecker interface {
	CheckDryRun(command string) error
}

type Request struct {
	Command string
	DryRun  bool
	Timeout time.Duration
}

type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	TimedOut   bool
	Truncated  bool
}

// Options configures the built-in executors.
type Options struct {
	CLITool          string
	IaCTool          string
	OrchestratorTool string
	ScriptShell      string

	// DefaultTimeout applies to types without an entry in Timeouts.
	// A zero timeout expires immediately.
	DefaultTimeout time.Duration
	Timeouts       map[models.ActionType]time.Duration

	MaxOutputBytes int
}

func DefaultOptions() Options {
	return Options{
		CLITool:          "oci",
		IaCTool:          "terraform",
		OrchestratorTool: "kubectl",
		ScriptShell:      "/bin/sh -c",
		DefaultTimeout:   10 * time.Minute,
		Timeouts: map[models.ActionType]time.Duration{
			models.ActionTypeInfraAsCode: 30 * time.Minute,
			models.ActionTypeAPICall:     time.Minute,
		},
		MaxOutputBytes: 64 * 1024,
	}
}

// TimeoutFor returns the wall-clock budget for an action type.
func (o Options) TimeoutFor(t models.ActionType) time.Duration {
	if d, ok := o.Timeouts[t]; ok {
		return d
	}
	return o.DefaultTimeout
}

type Dispatcher struct {
	executors map[models.ActionType]Executor
	opts      Options
}

// NewDispatcher builds a dispatcher with one executor per supported type,
// all sharing runner for out-of-process commands.
func NewDispatcher(opts Options, runner Runner) *Dispatcher {
	d := &Dispatcher{
		executors: make(map[models.ActionType]Executor),
		opts:      opts,
	}
	d.Register(NewCLIExecutor(opts.CLITool, runner))
	d.Register(NewIaCExecutor(opts.IaCTool, runner))
	d.Register(NewOrchestratorExecutor(opts.OrchestratorTool, runner))
	d.Register(NewScriptExecutor(opts.ScriptShell, runner))
	d.Register(NewAPIExecutor(nil, opts.MaxOutputBytes))
	return d
}

// Register binds e to its type, replacing any existing binding.
func (d *Dispatcher) Register(e Executor) {
	d.executors[e.Type()] = e
}

func (d *Dispatcher) Get(t models.ActionType) (Executor, error) {
	e, ok := d.executors[t]
	if !ok {
		return nil, &models.ValidationError{Field: "action_type", Reason: fmt.Sprintf("no executor for %q", t)}
	}
	return e, nil
}

// Validate checks a command against its type's executor, and whether a dry
// run is possible when one is requested.
func (d *Dispatcher) Validate(t models.ActionType, command string, dryRun bool) error {
	e, err := d.Get(t)
	if err != nil {
		return err
	}
	if dryRun && !e.SupportsDryRun() {
		return &models.NotSupportedError{ActionType: t, Operation: "dry run"}
	}
	if err := e.Validate(command); err != nil {
		return err
	}
	if checker, ok := e.(DryRunChecker); ok && dryRun {
		return checker.CheckDryRun(command)
	}
	return nil
}

// Run executes command with the type's configured timeout.
func (d *Dispatcher) Run(ctx context.Context, t models.ActionType, command string, dryRun bool) (*Result, error) {
	e, err := d.Get(t)
	if err != nil {
		return nil, err
	}
	if dryRun && !e.SupportsDryRun() {
		return nil, &models.NotSupportedError{ActionType: t, Operation: "dry run"}
	}
	return e.Run(ctx, Request{
		Command: command,
		DryRun:  dryRun,
		Timeout: d.opts.TimeoutFor(t),
	})
}

// Check runs every executor's tool check and returns the failures by type.
func (d *Dispatcher) Check(ctx context.Context) map[models.ActionType]error {
	failures := make(map[models.ActionType]error)
	for _, t := range models.ActionTypes {
		e, ok := d.executors[t]
		if !ok {
			continue
		}
		if err := e.Check(ctx); err != nil {
			failures[t] = err
		}
	}
	return failures
}

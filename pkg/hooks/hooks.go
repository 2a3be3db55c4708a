package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

// defaultTimeout applies when a hook command has no timeout of its own.
const defaultTimeout = 30 * time.Second

// CommandResult is the outcome of one hook command execution.
type CommandResult struct {
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Result reports a whole hook sequence.
type Result struct {
	Aborted   bool
	AbortedAt int
	Results   []CommandResult
}

// Recorder receives per-command lifecycle events. The activity log satisfies
// this; tests use a no-op.
type Recorder interface {
	HookStarted(ctx context.Context, point types.HookPoint, containerID, tenantID string, index int, command []string)
	HookCompleted(ctx context.Context, point types.HookPoint, containerID, tenantID string, index int)
	HookFailed(ctx context.Context, point types.HookPoint, containerID, tenantID string, index int, reason string)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) HookStarted(context.Context, types.HookPoint, string, string, int, []string) {}
func (NopRecorder) HookCompleted(context.Context, types.HookPoint, string, string, int)         {}
func (NopRecorder) HookFailed(context.Context, types.HookPoint, string, string, int, string)    {}

// Runner executes lifecycle hook commands inside containers.
type Runner struct {
	driver   runtime.Driver
	recorder Recorder
	logger   zerolog.Logger
}

// NewRunner creates a hook runner. A nil recorder disables event emission.
func NewRunner(driver runtime.Driver, recorder Recorder) *Runner {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Runner{
		driver:   driver,
		recorder: recorder,
		logger:   log.WithComponent("hooks"),
	}
}

// Run executes commands sequentially inside the container. A command that
// fails with onError=fail, or exhausts its retries, aborts the sequence;
// onError=continue moves on to the next command.
func (r *Runner) Run(ctx context.Context, point types.HookPoint, containerName, tenantID string, commands []types.HookCommand) *Result {
	result := &Result{AbortedAt: -1}

	for i, cmd := range commands {
		r.recorder.HookStarted(ctx, point, containerName, tenantID, i, cmd.Command)

		attempts := 1
		if cmd.OnError == types.HookOnErrorRetry && cmd.Retries > 1 {
			attempts = cmd.Retries
		}

		var res CommandResult
		for attempt := 0; attempt < attempts; attempt++ {
			res = r.execOnce(ctx, containerName, cmd)
			if res.ExitCode == 0 {
				break
			}
		}
		result.Results = append(result.Results, res)

		if res.ExitCode == 0 {
			r.recorder.HookCompleted(ctx, point, containerName, tenantID, i)
			continue
		}

		reason := fmt.Sprintf("exited %d", res.ExitCode)
		if res.TimedOut {
			reason = "timed out"
		}
		r.recorder.HookFailed(ctx, point, containerName, tenantID, i, reason)
		r.logger.Warn().
			Str("hook_point", string(point)).
			Int("index", i).
			Strs("command", cmd.Command).
			Str("reason", reason).
			Msg("Hook command failed")

		if cmd.OnError == types.HookOnErrorContinue {
			continue
		}

		// fail, or retry with all attempts exhausted
		result.Aborted = true
		result.AbortedAt = i
		return result
	}

	return result
}

// execOnce runs one command attempt with its deadline. Timeouts map to exit
// code -1 with TimedOut set; exec errors map to exit code -1 with the error
// message in stderr.
func (r *Runner) execOnce(ctx context.Context, containerName string, cmd types.HookCommand) CommandResult {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := r.driver.Exec(execCtx, containerName, cmd.Command)
	elapsed := time.Since(start)

	if err != nil {
		out := CommandResult{
			Command:  cmd.Command,
			ExitCode: -1,
			Duration: elapsed,
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			out.TimedOut = true
			out.Stderr = fmt.Sprintf("Hook timed out after %dms", timeout.Milliseconds())
		} else {
			out.Stderr = err.Error()
		}
		return out
	}

	return CommandResult{
		Command:  cmd.Command,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: elapsed,
	}
}

func isTimeout(err error) bool {
	return strings.Contains(err.Error(), "deadline exceeded")
}

// AbortError converts an aborted result into the typed error the claim
// pipeline surfaces.
func AbortError(point types.HookPoint, result *Result) *types.HookAbortedError {
	reason := types.HookAbortNonzeroExit
	if result.AbortedAt >= 0 && result.AbortedAt < len(result.Results) {
		res := result.Results[result.AbortedAt]
		switch {
		case res.TimedOut:
			reason = types.HookAbortTimeout
		case res.ExitCode == -1:
			reason = types.HookAbortExecError
		}
	}
	return &types.HookAbortedError{
		Point:  point,
		Index:  result.AbortedAt,
		Reason: reason,
	}
}

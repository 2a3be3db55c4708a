package hooks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

func TestRunAllSucceed(t *testing.T) {
	driver := runtime.NewFakeDriver()
	var executed [][]string
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		executed = append(executed, argv)
		return &runtime.ExecResult{ExitCode: 0, Stdout: "ok"}, nil
	}

	r := NewRunner(driver, nil)
	result := r.Run(context.Background(), types.HookPostClaim, "container-1", "tenant-a", []types.HookCommand{
		{Command: []string{"setup.sh"}},
		{Command: []string{"migrate.sh"}},
	})

	assert.False(t, result.Aborted)
	assert.Equal(t, -1, result.AbortedAt)
	require.Len(t, result.Results, 2)
	assert.Equal(t, [][]string{{"setup.sh"}, {"migrate.sh"}}, executed)
	assert.Equal(t, "ok", result.Results[0].Stdout)
}

func TestRunFailPolicyAborts(t *testing.T) {
	driver := runtime.NewFakeDriver()
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		if argv[0] == "bad" {
			return &runtime.ExecResult{ExitCode: 1, Stderr: "boom"}, nil
		}
		return &runtime.ExecResult{ExitCode: 0}, nil
	}

	r := NewRunner(driver, nil)
	result := r.Run(context.Background(), types.HookPostClaim, "container-1", "tenant-a", []types.HookCommand{
		{Command: []string{"good"}},
		{Command: []string{"bad"}, OnError: types.HookOnErrorFail},
		{Command: []string{"never"}},
	})

	assert.True(t, result.Aborted)
	assert.Equal(t, 1, result.AbortedAt)
	assert.Len(t, result.Results, 2)

	abortErr := AbortError(types.HookPostClaim, result)
	assert.Equal(t, types.HookAbortNonzeroExit, abortErr.Reason)
	assert.Equal(t, 1, abortErr.Index)
}

func TestRunContinuePolicyProceeds(t *testing.T) {
	driver := runtime.NewFakeDriver()
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		if argv[0] == "flaky" {
			return &runtime.ExecResult{ExitCode: 2}, nil
		}
		return &runtime.ExecResult{ExitCode: 0}, nil
	}

	r := NewRunner(driver, nil)
	result := r.Run(context.Background(), types.HookPreRelease, "container-1", "tenant-a", []types.HookCommand{
		{Command: []string{"flaky"}, OnError: types.HookOnErrorContinue},
		{Command: []string{"cleanup"}},
	})

	assert.False(t, result.Aborted)
	require.Len(t, result.Results, 2)
	assert.Equal(t, 2, result.Results[0].ExitCode)
	assert.Equal(t, 0, result.Results[1].ExitCode)
}

func TestRunRetrySucceedsEventually(t *testing.T) {
	driver := runtime.NewFakeDriver()
	calls := 0
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		calls++
		if calls < 3 {
			return &runtime.ExecResult{ExitCode: 1}, nil
		}
		return &runtime.ExecResult{ExitCode: 0}, nil
	}

	r := NewRunner(driver, nil)
	result := r.Run(context.Background(), types.HookPostClaim, "container-1", "tenant-a", []types.HookCommand{
		{Command: []string{"eventually"}, OnError: types.HookOnErrorRetry, Retries: 3},
	})

	assert.False(t, result.Aborted)
	assert.Equal(t, 3, calls)
}

func TestRunRetryExhaustedAborts(t *testing.T) {
	driver := runtime.NewFakeDriver()
	calls := 0
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		calls++
		return &runtime.ExecResult{ExitCode: 1}, nil
	}

	r := NewRunner(driver, nil)
	result := r.Run(context.Background(), types.HookPostClaim, "container-1", "tenant-a", []types.HookCommand{
		{Command: []string{"always-bad"}, OnError: types.HookOnErrorRetry, Retries: 3},
	})

	assert.True(t, result.Aborted)
	assert.Equal(t, 0, result.AbortedAt)
	assert.Equal(t, 3, calls)
}

func TestRunTimeout(t *testing.T) {
	driver := runtime.NewFakeDriver()
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		return nil, context.DeadlineExceeded
	}

	r := NewRunner(driver, nil)
	result := r.Run(context.Background(), types.HookPostClaim, "container-1", "tenant-a", []types.HookCommand{
		{Command: []string{"slow"}, Timeout: 50 * time.Millisecond, OnError: types.HookOnErrorFail},
	})

	assert.True(t, result.Aborted)
	res := result.Results[0]
	assert.Equal(t, -1, res.ExitCode)
	assert.True(t, res.TimedOut)
	assert.Equal(t, "Hook timed out after 50ms", res.Stderr)

	abortErr := AbortError(types.HookPostClaim, result)
	assert.Equal(t, types.HookAbortTimeout, abortErr.Reason)
}

func TestRunExecError(t *testing.T) {
	driver := runtime.NewFakeDriver()
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		return nil, fmt.Errorf("container not running")
	}

	r := NewRunner(driver, nil)
	result := r.Run(context.Background(), types.HookPostClaim, "container-1", "tenant-a", []types.HookCommand{
		{Command: []string{"any"}, OnError: types.HookOnErrorFail},
	})

	assert.True(t, result.Aborted)
	res := result.Results[0]
	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "container not running", res.Stderr)

	abortErr := AbortError(types.HookPostClaim, result)
	assert.Equal(t, types.HookAbortExecError, abortErr.Reason)
}

type captureRecorder struct {
	started, completed, failed int
}

func (c *captureRecorder) HookStarted(_ context.Context, _ types.HookPoint, _, _ string, _ int, _ []string) {
	c.started++
}
func (c *captureRecorder) HookCompleted(_ context.Context, _ types.HookPoint, _, _ string, _ int) {
	c.completed++
}
func (c *captureRecorder) HookFailed(_ context.Context, _ types.HookPoint, _, _ string, _ int, _ string) {
	c.failed++
}

func TestRunEmitsEvents(t *testing.T) {
	driver := runtime.NewFakeDriver()
	driver.ExecFunc = func(name string, argv []string) (*runtime.ExecResult, error) {
		if argv[0] == "bad" {
			return &runtime.ExecResult{ExitCode: 1}, nil
		}
		return &runtime.ExecResult{ExitCode: 0}, nil
	}

	rec := &captureRecorder{}
	r := NewRunner(driver, rec)
	r.Run(context.Background(), types.HookPostClaim, "container-1", "tenant-a", []types.HookCommand{
		{Command: []string{"good"}},
		{Command: []string{"bad"}, OnError: types.HookOnErrorFail},
	})

	assert.Equal(t, 2, rec.started)
	assert.Equal(t, 1, rec.completed)
	assert.Equal(t, 1, rec.failed)
}

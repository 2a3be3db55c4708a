package types

import (
	"errors"
	"fmt"
	"strings"
)

// Enumerated failure kinds. The HTTP layer maps these to status codes; the
// core only cares about identity (errors.Is / errors.As).
var (
	ErrPoolNotFound      = errors.New("pool not found")
	ErrPoolExists        = errors.New("pool already exists")
	ErrPoolCapacity      = errors.New("pool at maximum capacity")
	ErrTenantNotFound    = errors.New("tenant has no claimed container")
	ErrContainerNotFound = errors.New("container not found")
	ErrWorkloadNotFound  = errors.New("workload not found")
	ErrHealthTimeout     = errors.New("container did not become healthy in time")
	ErrRegistryClosed    = errors.New("registry is shut down")

	// ErrStoreConflict is returned when a conditional update affects zero
	// rows on a path that expected one. It never escapes acquire, which
	// converts it into a retry with the next candidate.
	ErrStoreConflict = errors.New("store conflict: row changed concurrently")
)

// HookAbortReason labels why a hook command aborted the sequence.
type HookAbortReason string

const (
	HookAbortNonzeroExit HookAbortReason = "nonzero-exit"
	HookAbortTimeout     HookAbortReason = "timeout"
	HookAbortExecError   HookAbortReason = "exec-error"
)

// HookAbortedError is raised when a hook sequence aborts with onError=fail
// (or retry exhaustion) during the claim pipeline.
type HookAbortedError struct {
	Point  HookPoint
	Index  int
	Reason HookAbortReason
}

func (e *HookAbortedError) Error() string {
	return fmt.Sprintf("hook %s[%d] aborted: %s", e.Point, e.Index, e.Reason)
}

// ValidationError reports one invalid field of a workload spec.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates per-field validation failures so callers can
// surface all of them at once.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "workload validation failed: " + strings.Join(msgs, "; ")
}

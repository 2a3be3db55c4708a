package workload

import (
	"fmt"
	"strconv"
	"strings"

	units "github.com/docker/go-units"

	"github.com/burrowhq/burrow/pkg/types"
)

// Validate checks a workload spec and resolves derived fields (memory strings
// to bytes). All problems are collected into a single types.ValidationErrors
// so operators can fix a file in one pass.
func Validate(w *types.WorkloadSpec) error {
	var errs types.ValidationErrors

	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &types.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if w.ID == "" {
		add("id", "is required")
	}
	if w.Image == "" {
		add("image", "is required")
	}
	if w.User != "" {
		if _, err := strconv.ParseUint(w.User, 10, 32); err != nil {
			add("user", "must be a numeric uid, got %q", w.User)
		}
	}

	if w.Resources != nil && w.Resources.Memory != "" {
		bytes, err := units.RAMInBytes(w.Resources.Memory)
		if err != nil {
			add("resources.memory", "invalid memory limit %q: %v", w.Resources.Memory, err)
		} else {
			w.Resources.MemoryBytes = bytes
		}
	}

	if w.Pool != nil {
		if w.Pool.MinIdle < 0 {
			add("pool.minIdle", "must not be negative")
		}
		if w.Pool.MaxSize < 0 {
			add("pool.maxSize", "must not be negative")
		}
		if w.Pool.MaxSize > 0 && w.Pool.MinIdle > w.Pool.MaxSize {
			add("pool.minIdle", "must not exceed pool.maxSize (%d > %d)", w.Pool.MinIdle, w.Pool.MaxSize)
		}
	}

	if w.HealthCheck != nil && len(w.HealthCheck.Test) == 0 {
		add("healthCheck.test", "is required")
	}

	if w.Volumes != nil {
		validateVolume(&errs, "volumes.state", w.Volumes.State)
		validateVolume(&errs, "volumes.secrets", w.Volumes.Secrets)
		validateVolume(&errs, "volumes.comm", w.Volumes.Comm)
		for name, v := range w.Volumes.Custom {
			vv := v
			validateVolume(&errs, "volumes.custom."+name, &vv)
		}
	}

	if w.Sync != nil {
		validateSync(&errs, w.Sync)
	}

	if w.Hooks != nil {
		validateHooks(&errs, "hooks.postClaim", w.Hooks.PostClaim)
		validateHooks(&errs, "hooks.preRelease", w.Hooks.PreRelease)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateVolume(errs *types.ValidationErrors, field string, v *types.Volume) {
	if v == nil {
		return
	}
	if v.MountPath == "" {
		*errs = append(*errs, &types.ValidationError{Field: field + ".mountPath", Message: "is required"})
	} else if !strings.HasPrefix(v.MountPath, "/") {
		*errs = append(*errs, &types.ValidationError{Field: field + ".mountPath", Message: "must be absolute"})
	}
}

func validateSync(errs *types.ValidationErrors, s *types.SyncSpec) {
	add := func(field, format string, args ...interface{}) {
		*errs = append(*errs, &types.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if s.Sink.Type == "" {
		add("sync.sink.type", "is required")
	}
	if s.Sink.Bucket == "" {
		add("sync.sink.bucket", "is required")
	}
	if len(s.Mappings) == 0 {
		add("sync.mappings", "at least one mapping is required")
	}
	for i, m := range s.Mappings {
		prefix := fmt.Sprintf("sync.mappings[%d]", i)
		if m.Path == "" {
			add(prefix+".path", "is required")
		} else if strings.HasPrefix(m.Path, "/") || strings.Contains(m.Path, "..") {
			add(prefix+".path", "must be relative and must not escape the state volume")
		}
		if m.SinkPath == "" {
			add(prefix+".sinkPath", "is required")
		}
		switch m.Direction {
		case "", types.SyncUpload, types.SyncDownload, types.SyncBoth:
		default:
			add(prefix+".direction", "must be upload, download or both, got %q", m.Direction)
		}
	}
	if s.Policy.Interval < 0 {
		add("sync.policy.interval", "must not be negative")
	}
}

func validateHooks(errs *types.ValidationErrors, field string, cmds []types.HookCommand) {
	add := func(f, format string, args ...interface{}) {
		*errs = append(*errs, &types.ValidationError{Field: f, Message: fmt.Sprintf(format, args...)})
	}

	for i, cmd := range cmds {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if len(cmd.Command) == 0 {
			add(prefix+".command", "is required")
		}
		switch cmd.OnError {
		case "", types.HookOnErrorFail, types.HookOnErrorContinue, types.HookOnErrorRetry:
		default:
			add(prefix+".onError", "must be fail, continue or retry, got %q", cmd.OnError)
		}
		if cmd.Retries < 0 {
			add(prefix+".retries", "must not be negative")
		}
		if cmd.Timeout < 0 {
			add(prefix+".timeout", "must not be negative")
		}
	}
}

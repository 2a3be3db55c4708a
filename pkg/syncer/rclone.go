package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
)

// Mode is the sync subprocess mode.
type Mode string

const (
	ModeSync   Mode = "sync"
	ModeCopy   Mode = "copy"
	ModeBisync Mode = "bisync"
)

// ErrorKind labels a failed run for observability. Classification is
// best-effort and never changes behavior.
type ErrorKind string

const (
	ErrTimeout          ErrorKind = "timeout"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrNetwork          ErrorKind = "network_error"
	ErrTool             ErrorKind = "tool_error"
	ErrUnknown          ErrorKind = "unknown"
)

// RunResult is the parsed outcome of one subprocess run.
type RunResult struct {
	Success          bool
	BytesTransferred int64
	FilesTransferred int
	ErrorKind        ErrorKind
	Errors           []string
	Duration         time.Duration
}

// RunOptions carries per-run flags.
type RunOptions struct {
	// SinkArgs are provider/credential flags from the sink adapter.
	SinkArgs []string
	// Include/Exclude are optional filter patterns.
	Include string
	Exclude string
	// Resync establishes fresh bisync listings (first bidirectional run).
	Resync bool
	// Workdir overrides the bisync cache directory.
	Workdir string
}

// Executor invokes the external sync tool (rclone) as a subprocess.
type Executor struct {
	binary  string
	timeout time.Duration
	verbose bool
	logger  zerolog.Logger
}

// NewExecutor creates an executor for the given binary path.
func NewExecutor(binary string, timeout time.Duration, verbose bool) *Executor {
	if binary == "" {
		binary = "rclone"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Executor{
		binary:  binary,
		timeout: timeout,
		verbose: verbose,
		logger:  log.WithComponent("syncer"),
	}
}

// Run executes one transfer and parses its stats output.
func (e *Executor) Run(ctx context.Context, mode Mode, source, dest string, opts RunOptions) *RunResult {
	args := []string{string(mode), source, dest, "--progress", "--stats-one-line"}
	args = append(args, opts.SinkArgs...)
	if opts.Include != "" {
		args = append(args, "--include", opts.Include)
	}
	if opts.Exclude != "" {
		args = append(args, "--exclude", opts.Exclude)
	}
	if mode == ModeBisync {
		if opts.Resync {
			args = append(args, "--resync")
		}
		if opts.Workdir != "" {
			args = append(args, "--workdir", opts.Workdir)
		}
	}
	if e.verbose {
		args = append(args, "-v")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &RunResult{Duration: elapsed}
	result.BytesTransferred, result.FilesTransferred = parseStats(output.String())

	if err == nil {
		result.Success = true
		e.logger.Debug().
			Str("mode", string(mode)).
			Int64("bytes", result.BytesTransferred).
			Int("files", result.FilesTransferred).
			Dur("duration", elapsed).
			Msg("Sync completed")
		return result
	}

	result.ErrorKind = classify(runCtx, err, output.String())
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", result.ErrorKind, err))
	e.logger.Warn().
		Str("mode", string(mode)).
		Str("error_kind", string(result.ErrorKind)).
		Err(err).
		Msg("Sync failed")
	return result
}

var (
	bytesRe = regexp.MustCompile(`([\d.]+)\s*(B|KiB|MiB|GiB|TiB)\s*/`)
	filesRe = regexp.MustCompile(`Transferred:\s+(\d+)\s*/\s*\d+`)
)

var unitScale = map[string]float64{
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
}

// parseStats extracts transferred bytes and file count from the
// --stats-one-line output.
func parseStats(output string) (int64, int) {
	var bytesTransferred int64
	if m := bytesRe.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			bytesTransferred = int64(v * unitScale[m[2]])
		}
	}

	var files int
	if m := filesRe.FindStringSubmatch(output); m != nil {
		files, _ = strconv.Atoi(m[1])
	}

	return bytesTransferred, files
}

// classify buckets a subprocess failure into the error taxonomy.
func classify(ctx context.Context, err error, output string) ErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}

	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "access denied"),
		strings.Contains(lower, "accessdenied"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "403"):
		return ErrPermissionDenied
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "network is unreachable"),
		strings.Contains(lower, "i/o timeout"),
		strings.Contains(lower, "tls handshake"):
		return ErrNetwork
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ErrTool
	}
	return ErrUnknown
}

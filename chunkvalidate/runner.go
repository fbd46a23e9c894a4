package chunkvalidate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommand is the validator invocation used when none is configured.
const DefaultCommand = "pyshacl -s {shapes} -df nt {data}"

// DefaultTimeout bounds one chunk's validation.
const DefaultTimeout = 10 * time.Minute

// waitDelay bounds how long output pipes may stay open after the validator
// is killed, e.g. by a grandchild process that inherited them.
const waitDelay = 2 * time.Second

// Outcome is what a Runner observed for one chunk.
type Outcome struct {
	Conforms bool          `json:"conforms"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"-"`
	Stderr   string        `json:"-"`
	Duration time.Duration `json:"duration_ns"`
}

// Runner validates one chunk file against a shapes file.
//
// A chunk that fails validation returns an error wrapping
// ErrValidationSubprocess or ErrValidationTimeout together with the
// observed Outcome. Any other error aborts the whole validation run.
type Runner interface {
	Validate(ctx context.Context, dataPath, shapesPath string) (Outcome, error)
}

// CommandRunner runs an external validator command per chunk.
type CommandRunner struct {
	command string
	timeout time.Duration
	workDir string
}

// NewCommandRunner creates a runner for command, in which "{data}" and
// "{shapes}" are replaced by the chunk and shapes paths. The command is
// tokenised without a shell.
func NewCommandRunner(command string, timeout time.Duration, workDir string) *CommandRunner {
	if command == "" {
		command = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandRunner{command: command, timeout: timeout, workDir: workDir}
}

// Validate runs the command and maps its exit status to an Outcome.
func (r *CommandRunner) Validate(ctx context.Context, dataPath, shapesPath string) (Outcome, error) {
	args := splitCommand(r.command)
	if len(args) == 0 {
		return Outcome{ExitCode: -1}, fmt.Errorf("%w: empty command", ErrValidationSubprocess)
	}
	for i, a := range args {
		a = strings.ReplaceAll(a, "{data}", dataPath)
		args[i] = strings.ReplaceAll(a, "{shapes}", shapesPath)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = r.workDir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	out := Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		out.Conforms = true
		return out, nil
	}

	out.ExitCode = -1
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%w after %s", ErrValidationTimeout, r.timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, fmt.Errorf("%w: exit status %d", ErrValidationSubprocess, out.ExitCode)
	}
	return out, fmt.Errorf("%w: %v", ErrValidationSubprocess, runErr)
}

// splitCommand performs minimal whitespace-based tokenisation of a command
// string, preserving single- and double-quoted tokens. It does not support
// escape sequences or nested quoting; complex commands should be wrapped in
// "sh -c '...'".
func splitCommand(cmd string) []string {
	var tokens []string
	var current strings.Builder
	inSingle := false
	inDouble := false

	for _, r := range cmd {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case (r == ' ' || r == '\t') && !inSingle && !inDouble:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

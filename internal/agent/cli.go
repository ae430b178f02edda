// ABOUTME: CLIRunner drives the claude CLI as a long-lived stream-json subprocess
// ABOUTME: Writes user turns to stdin and decodes stdout lines into Messages

package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

const (
	// defaultCLIPath is the claude binary resolved from PATH.
	defaultCLIPath = "claude"

	// maxLineBytes bounds one stream-json line. Tool outputs can be large.
	maxLineBytes = 10 * 1024 * 1024

	// messageBufferSize is the output channel buffer.
	messageBufferSize = 64
)

// CLIRunner implements Runner by spawning the claude CLI in streaming
// input/output mode. One Run call is one CLI process.
type CLIRunner struct {
	opts    Options
	cliPath string
	logger  *slog.Logger
}

// NewCLIRunner creates a runner with the given fixed options.
func NewCLIRunner(opts Options) *CLIRunner {
	return &CLIRunner{
		opts:    opts,
		cliPath: defaultCLIPath,
		logger:  slog.Default().With("component", "agent"),
	}
}

// SetCLIPath overrides the claude binary location.
func (r *CLIRunner) SetCLIPath(path string) {
	r.cliPath = path
}

// buildArgs constructs the CLI argument list from the fixed options.
func (r *CLIRunner) buildArgs() []string {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}

	if r.opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", r.opts.SystemPrompt)
	}
	if len(r.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(r.opts.AllowedTools, ","))
	}
	if r.opts.Model != "" {
		args = append(args, "--model", r.opts.Model)
	}
	if r.opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(r.opts.MaxTurns))
	}

	return args
}

// Run spawns the CLI process and wires the turn channel to its stdin.
// The returned channel closes when the process exits. Cancelling ctx
// kills the process; that exit is not reported as an ErrorMessage.
func (r *CLIRunner) Run(ctx context.Context, turns <-chan UserTurn) (<-chan Message, error) {
	cmd := exec.CommandContext(ctx, r.cliPath, r.buildArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", r.cliPath, err)
	}
	r.logger.Debug("agent process started", "pid", cmd.Process.Pid, "model", r.opts.Model)

	// Feed turns to the process. Closing stdin ends the agent's input
	// stream, which lets it finish its final turn and exit.
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case turn, ok := <-turns:
				if !ok {
					return
				}
				line, err := EncodeTurn(turn)
				if err != nil {
					r.logger.Error("encoding turn", "error", err)
					continue
				}
				if _, err := stdin.Write(append(line, '\n')); err != nil {
					r.logger.Debug("stdin write failed", "error", err)
					return
				}
			}
		}
	}()

	out := make(chan Message, messageBufferSize)
	go func() {
		defer close(out)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			msg, err := DecodeMessage(line)
			if err != nil {
				r.logger.Warn("skipping undecodable line", "error", err)
				continue
			}
			if msg == nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				// Drain until the killed process closes stdout.
			}
		}

		waitErr := cmd.Wait()
		if ctx.Err() != nil {
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			out <- &ErrorMessage{Err: fmt.Errorf("reading agent output: %w", scanErr)}
			return
		}
		if waitErr != nil {
			detail := strings.TrimSpace(stderr.String())
			if detail != "" {
				waitErr = fmt.Errorf("%w: %s", waitErr, detail)
			}
			out <- &ErrorMessage{Err: fmt.Errorf("agent process failed: %w", waitErr)}
		}
	}()

	return out, nil
}

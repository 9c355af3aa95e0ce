package collector

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Source produces the raw text of `wg show all dump`.
type Source interface {
	Dump(ctx context.Context) (string, error)
}

// Runner abstracts command execution so sources can be unit-tested without
// a real wg binary.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

// Output runs the command and returns its stdout. Stderr is folded into the
// error on failure.
func (OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), nil
}

// CommandSource runs the dump command on the local host.
type CommandSource struct {
	runner Runner
	argv   []string
}

// NewCommandSource splits command on whitespace, e.g. "wg show all dump".
// A nil runner means OSRunner.
func NewCommandSource(r Runner, command string) (*CommandSource, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("collect_command is empty")
	}
	if r == nil {
		r = OSRunner{}
	}
	return &CommandSource{runner: r, argv: argv}, nil
}

// Dump implements Source.
func (s *CommandSource) Dump(ctx context.Context) (string, error) {
	return s.runner.Output(ctx, s.argv[0], s.argv[1:]...)
}

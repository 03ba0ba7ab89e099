// Package buildcheck runs the chain's build command against a runtime
// after an integration, so a broken pallet shows up before it is committed
// to version control. It never touches the runtime files.
package buildcheck

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/logger"
)

// Result is the outcome of one build
type Result struct {
	Command  []string      `json:"command" yaml:"command"`
	Passed   bool          `json:"passed" yaml:"passed"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Output   string        `json:"output,omitempty" yaml:"output,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Runner runs a build command
type Runner struct {
	args   []string
	env    []string
	logger *zap.SugaredLogger
}

// Option customizes a Runner
type Option func(*Runner)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Runner) { r.logger = logger.OrNop(l) }
}

// WithEnv adds KEY=VALUE pairs to the inherited environment
func WithEnv(env ...string) Option {
	return func(r *Runner) { r.env = append(r.env, env...) }
}

// New parses command with shell quoting rules, e.g.
// `cargo check --release --features "std runtime-benchmarks"`
func New(command string, opts ...Option) (*Runner, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid build command %q", command), errors.ErrInvalidRequest)
	}
	if len(args) == 0 {
		return nil, errors.NewInvalidRequestError("build command is empty")
	}
	r := &Runner{args: args, logger: logger.OrNop(nil)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Command returns the parsed argv
func (r *Runner) Command() []string { return append([]string(nil), r.args...) }

// Run builds in dir. A build that runs and fails is a Result with Passed
// false, not an error; errors mean the build could not run at all.
func (r *Runner) Run(ctx context.Context, dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.Mark(errors.Newf("build directory %s does not exist", dir), errors.ErrNotFound)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.args[0], r.args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	r.logger.Infow("build started", "command", shellquote.Join(r.args...), logger.FieldPath, dir)
	start := time.Now()
	err = cmd.Run()
	res := &Result{
		Command:  r.Command(),
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errors.Mark(errors.Wrap(ctxErr, "build interrupted"), errors.ErrCancelled)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Passed = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, errors.WithHint(errors.Wrapf(err, "failed to run %s", r.args[0]),
			"set build.command in Substrate.toml")
	}

	r.logger.Infow("build finished",
		"passed", res.Passed,
		"exit_code", res.ExitCode,
		logger.FieldDurationMS, res.Duration.Milliseconds())
	return res, nil
}

package inference

import (
	"bytes"
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/config"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/runner"
)

const (
	localMaxTokens = "4000"
	outputFence    = "=========="
)

// Local runs a vision-language model on this machine through a CLI such as
// mlx_vlm.generate.
type Local struct {
	command   string
	modelPath string
	device    string
	runner    runner.Runner
	logger    *zap.Logger
}

func newLocal(cfg config.BackendConfig, r runner.Runner, logger *zap.Logger) (*Local, error) {
	if cfg.ModelPath == "" {
		return nil, vesselerrors.Configuration("%s backend requires a model path", MethodLocal)
	}
	command := cfg.Command
	if command == "" {
		command = config.DefaultLocalCommand
	}
	return &Local{
		command:   command,
		modelPath: cfg.ModelPath,
		device:    cfg.Device,
		runner:    r,
		logger:    logger,
	}, nil
}

func (l *Local) Method() Method { return MethodLocal }

func (l *Local) Close() error { return nil }

// Infer runs the command once per request, in order.
func (l *Local) Infer(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, 0, len(reqs))
	for _, r := range reqs {
		text, err := l.generate(ctx, r)
		if err != nil {
			return nil, err
		}
		results = append(results, resultFor(r, text))
	}
	return results, nil
}

func (l *Local) args(r Request) []string {
	args := []string{
		"--model", l.modelPath,
		"--image", r.Artifact,
		"--prompt", r.Query,
		"--max-tokens", localMaxTokens,
		"--temperature", "0.0",
	}
	if l.device != "" {
		args = append(args, "--device", l.device)
	}
	return args
}

func (l *Local) generate(ctx context.Context, r Request) (_ string, err error) {
	start := time.Now()
	defer func() { observe(MethodLocal, start, err) }()

	stdout, stderr, err := l.runner.Run(ctx, l.command, l.args(r)...)
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			err = &commandError{err: err, stderr: runner.Truncate(msg, 2048)}
		}
		return "", unavailable(MethodLocal, r, err)
	}

	text := generatedText(stdout)
	l.logger.Debug("local inference ok",
		zap.Int("page", r.Page), zap.Int("table", r.Table),
		zap.Int("output_len", len(text)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return text, nil
}

// generatedText strips the prompt echo and statistics the generator prints
// around its answer, which is the section before the last fence. Output
// without fences is returned trimmed.
func generatedText(stdout []byte) string {
	parts := bytes.Split(stdout, []byte(outputFence))
	if len(parts) < 3 {
		return strings.TrimSpace(string(stdout))
	}
	return strings.TrimSpace(string(parts[len(parts)-2]))
}

type commandError struct {
	err    error
	stderr string
}

func (e *commandError) Error() string { return e.err.Error() + ": " + e.stderr }

func (e *commandError) Unwrap() error { return e.err }

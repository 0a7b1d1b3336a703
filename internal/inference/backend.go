// Package inference dispatches page and table images to a vision-language
// model and returns its raw text answers.
package inference

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/config"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/metrics"
	"github.com/vesselgpt/vessel/internal/runner"
)

// Method names an execution strategy.
type Method string

const (
	MethodHosted Method = config.MethodHosted
	MethodLocal  Method = config.MethodLocal
	MethodRemote Method = config.MethodRemote
)

// Request asks the model one question about one image artifact.
type Request struct {
	Artifact string // path of the page or crop image
	Query    string
	Page     int // 1-based, zero when there is no page context
	Table    int // 1-based, zero for whole-page requests
}

// Result is the model answer for one Request, with its provenance.
type Result struct {
	Page  int
	Table int
	Text  string
}

// Backend runs inference. Infer returns exactly one Result per Request, in
// request order. Failures are not retried.
type Backend interface {
	Infer(ctx context.Context, reqs []Request) ([]Result, error)
	Method() Method
	Close() error
}

// Pinger is implemented by backends that can check their server is ready.
type Pinger interface {
	Ready(ctx context.Context) error
}

type options struct {
	runner     runner.Runner
	httpClient *http.Client
}

// Option configures NewBackend.
type Option func(*options)

// WithRunner sets the command runner used by the local backend.
func WithRunner(r runner.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithHTTPClient sets the HTTP client used by the network backends.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// NewBackend builds the backend selected by cfg.Method. Missing credentials
// or paths are reported as configuration errors before anything is called.
// A positive cfg.CacheTTL wraps the backend in a result cache.
func NewBackend(cfg config.BackendConfig, logger *zap.Logger, opts ...Option) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var (
		b   Backend
		err error
	)
	switch Method(cfg.Method) {
	case MethodHosted:
		b, err = newHosted(cfg, o.httpClient, logger)
	case MethodLocal:
		if o.runner == nil {
			o.runner = runner.NewExec(logger)
		}
		b, err = newLocal(cfg, o.runner, logger)
	case MethodRemote:
		b, err = newRemote(cfg, o.httpClient, logger)
	default:
		return nil, vesselerrors.Configuration("unknown backend method %q", cfg.Method)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("inference backend ready",
		zap.String("method", cfg.Method),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("model", cfg.Model),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)
	if cfg.CacheTTL > 0 {
		return Cached(b, cfg.CacheTTL, logger), nil
	}
	return b, nil
}

func readArtifact(r Request) ([]byte, error) {
	data, err := os.ReadFile(r.Artifact)
	if err != nil {
		return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot read artifact", err).
			WithFile(r.Artifact).WithPage(r.Page)
	}
	return data, nil
}

// unavailable wraps a transport or model failure for r and records it.
func unavailable(m Method, r Request, err error) error {
	if r.Table > 0 {
		return vesselerrors.BackendUnavailable(err, "%s inference failed for table %d", m, r.Table).WithPage(r.Page)
	}
	return vesselerrors.BackendUnavailable(err, "%s inference failed", m).WithPage(r.Page)
}

func observe(m Method, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordInference(string(m), status, time.Since(start).Seconds())
}

func resultFor(r Request, text string) Result {
	return Result{Page: r.Page, Table: r.Table, Text: text}
}

func checkCount(m Method, got, want int) error {
	if got != want {
		return vesselerrors.BackendUnavailable(fmt.Errorf("got %d outputs for %d requests", got, want), "%s returned a short batch", m)
	}
	return nil
}

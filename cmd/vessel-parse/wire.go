package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/config"
	"github.com/vesselgpt/vessel/internal/detect"
	"github.com/vesselgpt/vessel/internal/document"
	"github.com/vesselgpt/vessel/internal/extraction"
	"github.com/vesselgpt/vessel/internal/inference"
	"github.com/vesselgpt/vessel/internal/logging"
	"github.com/vesselgpt/vessel/internal/ocr"
	"github.com/vesselgpt/vessel/internal/runner"
	"github.com/vesselgpt/vessel/internal/server"
	"github.com/vesselgpt/vessel/internal/triton"
)

func registerConfigFlags(root *cobra.Command) {
	config.RegisterFlags(root.PersistentFlags())
}

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	splitter  *document.Splitter
	backend   inference.Backend
	extractor *extraction.Orchestrator
	detector  *triton.Client // nil without a detection endpoint
	ocr       *ocr.Client
}

// newApp loads configuration from the command's flags and builds the
// pipeline. Close releases the backend and OCR engine.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if version != "dev" {
		cfg.Version = version
	}

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(cfg.LogLevel),
		Style: logging.Style(cfg.LogStyle),
	})
	if cfg.IsDebug() {
		logger.Debug("starting", zap.String("config", cfg.String()))
	}

	exec := runner.NewExec(logger)
	splitter := document.NewSplitter(
		document.WithScratchRoot(cfg.ScratchDir),
		document.WithMaxFileSize(cfg.MaxFileSize),
		document.WithRasterizer(document.NewPdftoppm(cfg.Rasterizer.Command, cfg.Rasterizer.DPI, exec)),
		document.WithLogger(logger),
	)

	backend, err := inference.NewBackend(cfg.Backend, logger, inference.WithRunner(exec))
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, splitter: splitter, backend: backend}

	opts := []extraction.Option{
		extraction.WithThresholds(cfg.Detection.Thresholds()),
		extraction.WithPadding(cfg.Detection.Padding),
		extraction.WithParallelism(cfg.Detection.Parallelism),
		extraction.WithDebugDir(cfg.DebugDir),
		extraction.WithLogger(logger),
	}
	if cfg.Detection.Endpoint != "" {
		a.detector = triton.New(cfg.Detection.Endpoint, cfg.Detection.Timeout)
		model := detect.NewTritonModel(a.detector, cfg.Detection.Model, detect.DefaultLabels)
		opts = append(opts, extraction.WithDetector(detect.New(model,
			detect.WithMaxSize(cfg.Detection.MaxSize),
			detect.WithLogger(logger),
		)))
	}
	if ocr.Enabled() {
		client, err := ocr.New("eng")
		if err != nil {
			logger.Warn("ocr unavailable, detection runs without tokens", zap.Error(err))
		} else {
			a.ocr = client
			opts = append(opts, extraction.WithTokenSource(client))
		}
	}

	a.extractor = extraction.New(splitter, backend, opts...)
	return a, nil
}

// healthChecks checks the model servers the pipeline depends on.
func (a *app) healthChecks() []server.Option {
	var opts []server.Option
	if p, ok := a.backend.(inference.Pinger); ok {
		opts = append(opts, server.WithCheck("backend", p.Ready))
	}
	if a.detector != nil {
		client, model := a.detector, a.cfg.Detection.Model
		opts = append(opts, server.WithCheck("detector", func(ctx context.Context) error {
			return client.Ready(ctx, model)
		}))
	}
	return opts
}

func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("closing backend", zap.Error(err))
	}
	if a.ocr != nil {
		_ = a.ocr.Close()
	}
	_ = a.logger.Sync()
}

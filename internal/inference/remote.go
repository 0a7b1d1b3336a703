package inference

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/config"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/triton"
)

const (
	remoteImageInput = "image"
	remoteTextInput  = "text_input"
	remoteTextOutput = "text_output"
)

// Remote sends whole batches to a GPU inference server speaking the KServe v2
// protocol. Images and queries travel as BYTES tensors.
type Remote struct {
	client *triton.Client
	model  string
	logger *zap.Logger
}

func newRemote(cfg config.BackendConfig, hc *http.Client, logger *zap.Logger) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, vesselerrors.Configuration("%s backend requires an endpoint", MethodRemote)
	}
	if cfg.Model == "" {
		return nil, vesselerrors.Configuration("%s backend requires a model name", MethodRemote)
	}
	opts := []triton.Option{triton.WithHTTPClient(hc)}
	if cfg.Token != "" {
		opts = append(opts, triton.WithHeader("Authorization", "Bearer "+cfg.Token))
	}
	return &Remote{
		client: triton.New(cfg.Endpoint, cfg.Timeout, opts...),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (r *Remote) Method() Method { return MethodRemote }

func (r *Remote) Close() error { return nil }

// Ready checks that the model is loaded on the inference server.
func (r *Remote) Ready(ctx context.Context) error {
	if err := r.client.Ready(ctx, r.model); err != nil {
		return vesselerrors.BackendUnavailable(err, "%s model %s not ready", MethodRemote, r.model)
	}
	return nil
}

// Infer sends all requests in a single call.
func (r *Remote) Infer(ctx context.Context, reqs []Request) (_ []Result, err error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	images := make([][]byte, len(reqs))
	queries := make([][]byte, len(reqs))
	for i, req := range reqs {
		if images[i], err = readArtifact(req); err != nil {
			return nil, err
		}
		queries[i] = []byte(req.Query)
	}

	start := time.Now()
	defer func() { observe(MethodRemote, start, err) }()

	resp, err := r.client.Infer(ctx, r.model, []triton.Tensor{
		triton.BytesTensor(remoteImageInput, images...),
		triton.BytesTensor(remoteTextInput, queries...),
	}, remoteTextOutput)
	if err != nil {
		return nil, unavailable(MethodRemote, reqs[0], err)
	}
	out, err := resp.Output(remoteTextOutput)
	if err != nil {
		return nil, unavailable(MethodRemote, reqs[0], err)
	}
	texts, err := out.Bytes()
	if err != nil {
		return nil, unavailable(MethodRemote, reqs[0], err)
	}
	if err := checkCount(MethodRemote, len(texts), len(reqs)); err != nil {
		return nil, err
	}

	results := make([]Result, len(reqs))
	for i, req := range reqs {
		results[i] = resultFor(req, string(texts[i]))
	}
	r.logger.Debug("remote inference ok",
		zap.String("model", r.model), zap.Int("batch", len(reqs)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return results, nil
}

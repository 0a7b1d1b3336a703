package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesselgpt/vessel/internal/config"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
)

type fakeRunner struct {
	calls  [][]string
	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.stdout), []byte(f.stderr), f.err
}

const mlxOutput = `Fetching 12 files: 100%
==========
Files: ['/tmp/page_1.jpg']

Prompt: <|im_start|>user
retrieve total<|im_end|>
==========
{"total": 42}
==========
Prompt: 24.1 tokens-per-sec
Generation: 11.3 tokens-per-sec
`

func TestGeneratedText(t *testing.T) {
	assert.Equal(t, `{"total": 42}`, generatedText([]byte("==========\n"+`{"total": 42}`+"\n==========\nstats")))
	assert.Equal(t, "plain answer", generatedText([]byte("  plain answer\n")))
}

func TestLocal_Infer(t *testing.T) {
	r := &fakeRunner{stdout: "==========\n[1, 2]\n==========\n"}
	b, err := NewBackend(config.BackendConfig{
		Method: config.MethodLocal, ModelPath: "/models/qwen2-vl", Device: "mps",
	}, nil, WithRunner(r))
	require.NoError(t, err)

	results, err := b.Infer(context.Background(), []Request{
		{Artifact: "/tmp/page_1.jpg", Query: "retrieve rows", Page: 1, Table: 1},
		{Artifact: "/tmp/page_1_b.jpg", Query: "retrieve rows", Page: 1, Table: 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Result{Page: 1, Table: 1, Text: "[1, 2]"}, results[0])
	assert.Equal(t, 2, results[1].Table)

	require.Len(t, r.calls, 2)
	assert.Equal(t, []string{
		config.DefaultLocalCommand,
		"--model", "/models/qwen2-vl",
		"--image", "/tmp/page_1.jpg",
		"--prompt", "retrieve rows",
		"--max-tokens", "4000",
		"--temperature", "0.0",
		"--device", "mps",
	}, r.calls[0])
}

func TestLocal_MultiSectionOutput(t *testing.T) {
	r := &fakeRunner{stdout: mlxOutput}
	b, err := NewBackend(config.BackendConfig{Method: config.MethodLocal, ModelPath: "/m", Command: "/opt/bin/generate"}, nil, WithRunner(r))
	require.NoError(t, err)

	results, err := b.Infer(context.Background(), []Request{{Artifact: "/tmp/page_1.jpg", Query: "q"}})
	require.NoError(t, err)
	assert.Equal(t, `{"total": 42}`, results[0].Text)
	assert.Equal(t, "/opt/bin/generate", r.calls[0][0])
	assert.NotContains(t, r.calls[0], "--device")
}

func TestLocal_CommandFailure(t *testing.T) {
	r := &fakeRunner{stderr: "RuntimeError: out of memory", err: errors.New("exit status 1")}
	b, err := NewBackend(config.BackendConfig{Method: config.MethodLocal, ModelPath: "/m"}, nil, WithRunner(r))
	require.NoError(t, err)

	_, err = b.Infer(context.Background(), []Request{{Artifact: "/tmp/a.jpg", Query: "q", Page: 2}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vesselerrors.ErrBackendUnavailable))
	assert.Contains(t, err.Error(), "out of memory")
}

package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesselgpt/vessel/internal/config"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
)

type tensorIn struct {
	Name     string   `json:"name"`
	Shape    []int    `json:"shape"`
	DataType string   `json:"datatype"`
	Data     []string `json:"data"`
}

func remoteServer(t *testing.T, answers ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/models/vessel-vlm/infer", r.URL.Path)
		assert.Equal(t, "Bearer gpu-token", r.Header.Get("Authorization"))

		var req struct {
			Inputs []tensorIn `json:"inputs"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Inputs, 2) {
			assert.Equal(t, "image", req.Inputs[0].Name)
			assert.Equal(t, "text_input", req.Inputs[1].Name)
			assert.Equal(t, "BYTES", req.Inputs[1].DataType)
			q, err := base64.StdEncoding.DecodeString(req.Inputs[1].Data[0])
			assert.NoError(t, err)
			assert.Equal(t, "retrieve all data. return response in JSON format", string(q))
		}

		data := make([]string, len(answers))
		for i, a := range answers {
			data[i] = base64.StdEncoding.EncodeToString([]byte(a))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model_name": "vessel-vlm",
			"outputs": []map[string]any{
				{"name": "text_output", "shape": []int{len(data)}, "datatype": "BYTES", "data": data},
			},
		})
	}))
}

func remoteBackend(t *testing.T, url string) Backend {
	t.Helper()
	b, err := NewBackend(config.BackendConfig{
		Method: config.MethodRemote, Endpoint: url, Model: "vessel-vlm", Token: "gpu-token",
	}, nil)
	require.NoError(t, err)
	return b
}

func TestRemote_InferBatch(t *testing.T) {
	srv := remoteServer(t, `{"p": 1}`, `{"p": 2}`, `{"p": 3}`)
	defer srv.Close()
	b := remoteBackend(t, srv.URL)

	query := "retrieve all data. return response in JSON format"
	var reqs []Request
	for p := 1; p <= 3; p++ {
		reqs = append(reqs, Request{Artifact: writeArtifact(t, "page.jpg", []byte{0xff, 0xd8, byte(p)}), Query: query, Page: p})
	}

	results, err := b.Infer(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.Page)
	}
	assert.Equal(t, `{"p": 3}`, results[2].Text)
}

func TestRemote_ShortBatch(t *testing.T) {
	srv := remoteServer(t, `{"p": 1}`)
	defer srv.Close()
	b := remoteBackend(t, srv.URL)

	query := "retrieve all data. return response in JSON format"
	art := writeArtifact(t, "page.jpg", []byte{0xff, 0xd8})
	_, err := b.Infer(context.Background(), []Request{{Artifact: art, Query: query, Page: 1}, {Artifact: art, Query: query, Page: 2}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vesselerrors.ErrBackendUnavailable))
}

func TestRemote_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	b := remoteBackend(t, srv.URL)

	_, err := b.Infer(context.Background(), []Request{{Artifact: writeArtifact(t, "a.jpg", []byte{1}), Query: "q", Page: 4}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vesselerrors.ErrBackendUnavailable))
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestRemote_Ready(t *testing.T) {
	ready := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/models/vessel-vlm/ready", r.URL.Path)
		assert.Equal(t, "Bearer gpu-token", r.Header.Get("Authorization"))
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	b := remoteBackend(t, srv.URL)
	p, ok := b.(Pinger)
	require.True(t, ok)
	assert.NoError(t, p.Ready(context.Background()))

	ready = false
	err := p.Ready(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, vesselerrors.ErrBackendUnavailable))
}

package triton

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Infer(t *testing.T) {
	var got inferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/models/vlm/infer", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("CF-Access-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model_name": "vlm",
			"outputs": []map[string]any{
				{"name": "text_output", "shape": []int{1}, "datatype": "BYTES",
					"data": []string{base64.StdEncoding.EncodeToString([]byte(`{"a":1}`))}},
				{"name": "scores", "shape": []int{2}, "datatype": "FP32", "data": []float32{0.25, 0.75}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second, WithHeader("CF-Access-Token", "secret"))
	resp, err := c.Infer(context.Background(), "vlm",
		[]Tensor{BytesTensor("text_input", []byte("hello"))}, "text_output", "scores")
	require.NoError(t, err)

	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "BYTES", got.Inputs[0].DataType)
	assert.Equal(t, []any{base64.StdEncoding.EncodeToString([]byte("hello"))}, got.Inputs[0].Data)
	assert.Equal(t, []requestedOutput{{Name: "text_output"}, {Name: "scores"}}, got.Outputs)

	text, err := resp.Output("text_output")
	require.NoError(t, err)
	b, err := text.Bytes()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte(`{"a":1}`)}, b)

	scores, err := resp.Output("scores")
	require.NoError(t, err)
	f, err := scores.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.75}, f)

	_, err = resp.Output("missing")
	assert.Error(t, err)
}

func TestClient_InferErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/models/down/infer":
			http.Error(w, "model unavailable", http.StatusServiceUnavailable)
		case "/v2/models/empty/infer":
			_, _ = w.Write([]byte(`{"model_name":"empty","outputs":[]}`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Infer(context.Background(), "down", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = c.Infer(context.Background(), "empty", nil)
	assert.Error(t, err)

	_, err = c.Infer(context.Background(), "garbled", nil)
	assert.Error(t, err)
}

func TestClient_Ready(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/models/up/ready" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	assert.NoError(t, c.Ready(context.Background(), "up"))
	assert.Error(t, c.Ready(context.Background(), "down"))
}

// Package triton is a small client for the KServe v2 HTTP inference
// protocol spoken by Triton Inference Server.
package triton

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	TypeBytes = "BYTES"
	TypeFP32  = "FP32"
)

// Tensor is an input tensor. BYTES data must be base64 strings.
type Tensor struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	DataType string `json:"datatype"`
	Data     any    `json:"data"`
}

// BytesTensor builds a BYTES tensor with one base64-encoded element per value.
func BytesTensor(name string, values ...[]byte) Tensor {
	data := make([]string, len(values))
	for i, v := range values {
		data[i] = base64.StdEncoding.EncodeToString(v)
	}
	return Tensor{Name: name, Shape: []int{len(values)}, DataType: TypeBytes, Data: data}
}

// FP32Tensor builds a FP32 tensor from row-major data.
func FP32Tensor(name string, shape []int, data []float32) Tensor {
	return Tensor{Name: name, Shape: shape, DataType: TypeFP32, Data: data}
}

type requestedOutput struct {
	Name string `json:"name"`
}

type inferRequest struct {
	Inputs  []Tensor          `json:"inputs"`
	Outputs []requestedOutput `json:"outputs,omitempty"`
}

// Output is a response tensor with its data left undecoded.
type Output struct {
	Name     string          `json:"name"`
	Shape    []int           `json:"shape"`
	DataType string          `json:"datatype"`
	Data     json.RawMessage `json:"data"`
}

// Response is the body of a successful infer call.
type Response struct {
	ModelName string   `json:"model_name"`
	Outputs   []Output `json:"outputs"`
}

// Output returns the named output tensor.
func (r *Response) Output(name string) (*Output, error) {
	for i := range r.Outputs {
		if r.Outputs[i].Name == name {
			return &r.Outputs[i], nil
		}
	}
	return nil, fmt.Errorf("no output %q in triton response", name)
}

// Float32s decodes FP32 data.
func (o *Output) Float32s() ([]float32, error) {
	var out []float32
	if err := json.Unmarshal(o.Data, &out); err != nil {
		return nil, fmt.Errorf("decode %s as %s: %w", o.Name, TypeFP32, err)
	}
	return out, nil
}

// Bytes decodes BYTES data, one element per base64 string.
func (o *Output) Bytes() ([][]byte, error) {
	var encoded []string
	if err := json.Unmarshal(o.Data, &encoded); err != nil {
		return nil, fmt.Errorf("decode %s as %s: %w", o.Name, TypeBytes, err)
	}
	out := make([][]byte, len(encoded))
	for i, s := range encoded {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 element %d of %s: %w", i, o.Name, err)
		}
		out[i] = b
	}
	return out, nil
}

// Client calls one inference server.
type Client struct {
	endpoint   string
	httpClient *http.Client
	headers    http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeader adds a header to every request, e.g. an access token.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// New creates a client for endpoint, e.g. http://triton:8000.
func New(endpoint string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Infer runs model on inputs and returns the requested outputs (all outputs
// when none are named).
func (c *Client) Infer(ctx context.Context, model string, inputs []Tensor, outputs ...string) (*Response, error) {
	req := inferRequest{Inputs: inputs}
	for _, name := range outputs {
		req.Outputs = append(req.Outputs, requestedOutput{Name: name})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal triton request: %w", err)
	}

	u := c.endpoint + "/v2/models/" + url.PathEscape(model) + "/infer"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header[k] = v
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("triton request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read triton response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("triton %s returned %d: %s", model, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode triton response: %w", err)
	}
	if len(out.Outputs) == 0 {
		return nil, fmt.Errorf("no outputs in triton response")
	}
	return &out, nil
}

// Ready reports whether model is loaded and ready.
func (c *Client) Ready(ctx context.Context, model string) error {
	u := c.endpoint + "/v2/models/" + url.PathEscape(model) + "/ready"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model %s not ready: status %d", model, resp.StatusCode)
	}
	return nil
}

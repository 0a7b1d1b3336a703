package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesselgpt/vessel/internal/triton"
)

func TestTritonModel_Predict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/models/table-detector/infer", r.URL.Path)

		var req struct {
			Inputs []struct {
				Name     string    `json:"name"`
				Shape    []int     `json:"shape"`
				DataType string    `json:"datatype"`
				Data     []float32 `json:"data"`
			} `json:"inputs"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Inputs, 1) {
			assert.Equal(t, []int{1, 3, 2, 4}, req.Inputs[0].Shape)
			assert.Equal(t, "FP32", req.Inputs[0].DataType)
			assert.Len(t, req.Inputs[0].Data, 3*2*4)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model_name": "table-detector",
			"outputs": []map[string]any{
				{"name": "logits", "shape": []int{1, 2, 3}, "datatype": "FP32",
					"data": []float32{5, 0, 0, 0, 0, 5}},
				{"name": "pred_boxes", "shape": []int{1, 2, 4}, "datatype": "FP32",
					"data": []float32{0.5, 0.5, 0.5, 0.5, 0.1, 0.1, 0.1, 0.1}},
			},
		})
	}))
	defer srv.Close()

	m := NewTritonModel(triton.New(srv.URL, time.Second), "table-detector", nil)
	pred, err := m.Predict(context.Background(), blank(4, 2))
	require.NoError(t, err)

	require.Len(t, pred.Logits, 2)
	assert.Equal(t, []float32{5, 0, 0}, pred.Logits[0])
	assert.Equal(t, [4]float32{0.1, 0.1, 0.1, 0.1}, pred.Boxes[1])

	regions, err := pred.Regions(100, 100)
	require.NoError(t, err)
	require.Len(t, regions, 1, "second query is no object")
	assert.Equal(t, LabelTable, regions[0].Label)
}

func TestTritonModel_BadShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"outputs": []map[string]any{
				{"name": "logits", "shape": []int{1, 2, 3}, "datatype": "FP32", "data": []float32{1, 2, 3}},
				{"name": "pred_boxes", "shape": []int{1, 2, 4}, "datatype": "FP32", "data": []float32{1, 2, 3, 4}},
			},
		})
	}))
	defer srv.Close()

	_, err := NewTritonModel(triton.New(srv.URL, time.Second), "m", nil).Predict(context.Background(), blank(2, 2))
	assert.Error(t, err)
}

package detect

import (
	"context"
	"fmt"
	"image"

	"github.com/vesselgpt/vessel/internal/triton"
)

const (
	tritonInput     = "pixel_values"
	tritonLogits    = "logits"
	tritonPredBoxes = "pred_boxes"
)

// TritonModel serves a DETR-style table detector from Triton. The image is
// sent as a normalized FP32 NCHW tensor; outputs are logits [1, Q, C+1] and
// pred_boxes [1, Q, 4].
type TritonModel struct {
	client *triton.Client
	model  string
	labels map[int]string
}

// NewTritonModel creates a Model backed by model on client. Nil labels means
// DefaultLabels.
func NewTritonModel(client *triton.Client, model string, labels map[int]string) *TritonModel {
	if labels == nil {
		labels = DefaultLabels
	}
	return &TritonModel{client: client, model: model, labels: labels}
}

func (m *TritonModel) Predict(ctx context.Context, img image.Image) (*Prediction, error) {
	b := img.Bounds()
	input := triton.FP32Tensor(tritonInput, []int{1, 3, b.Dy(), b.Dx()}, toTensor(img))

	resp, err := m.client.Infer(ctx, m.model, []triton.Tensor{input}, tritonLogits, tritonPredBoxes)
	if err != nil {
		return nil, err
	}

	logitsOut, err := resp.Output(tritonLogits)
	if err != nil {
		return nil, err
	}
	boxesOut, err := resp.Output(tritonPredBoxes)
	if err != nil {
		return nil, err
	}
	logits, err := logitsOut.Float32s()
	if err != nil {
		return nil, err
	}
	boxes, err := boxesOut.Float32s()
	if err != nil {
		return nil, err
	}

	if len(logitsOut.Shape) != 3 || len(boxesOut.Shape) != 3 {
		return nil, fmt.Errorf("unexpected output shapes %v and %v", logitsOut.Shape, boxesOut.Shape)
	}
	queries, classes := logitsOut.Shape[1], logitsOut.Shape[2]
	if boxesOut.Shape[1] != queries || boxesOut.Shape[2] != 4 ||
		len(logits) != queries*classes || len(boxes) != queries*4 {
		return nil, fmt.Errorf("output sizes do not match shapes %v and %v", logitsOut.Shape, boxesOut.Shape)
	}

	pred := &Prediction{
		Logits: make([][]float32, queries),
		Boxes:  make([][4]float32, queries),
		Labels: m.labels,
	}
	for q := 0; q < queries; q++ {
		pred.Logits[q] = logits[q*classes : (q+1)*classes]
		copy(pred.Boxes[q][:], boxes[q*4:(q+1)*4])
	}
	return pred, nil
}

package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/inference"
	"github.com/vesselgpt/vessel/internal/metrics"
	"github.com/vesselgpt/vessel/internal/runner"
	"github.com/vesselgpt/vessel/internal/schema"
)

const (
	unitPage  = "page"
	unitTable = "table"
	unitForm  = "form"
)

// InvalidJSONMarker replaces a unit whose model output is not JSON.
func InvalidJSONMarker() map[string]any {
	return map[string]any{
		"message": "Invalid JSON format in LLM output",
		"valid":   "false",
	}
}

// infer calls the backend and enforces one result per request.
func (o *Orchestrator) infer(ctx context.Context, reqs []inference.Request) ([]inference.Result, error) {
	results, err := o.backend.Infer(ctx, reqs)
	if err != nil {
		return nil, err
	}
	if len(results) != len(reqs) {
		return nil, vesselerrors.BackendUnavailable(
			fmt.Errorf("got %d results for %d requests", len(results), len(reqs)), "backend broke the batch contract")
	}
	return results, nil
}

// decode parses one raw answer. Schema queries also record a UnitReport.
func (o *Orchestrator) decode(j *job, res inference.Result, s *schema.QuerySchema, kind string) any {
	j.units++
	raw := schema.TrimFence([]byte(res.Text))

	if j.opts.Debug {
		o.logger.Info("model output",
			zap.String("unit", kind), zap.Int("page", res.Page), zap.Int("table", res.Table),
			zap.String("raw", runner.Truncate(res.Text, 4096)))
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.RecordMalformedOutput("json")
		o.logger.Warn("invalid JSON in model output",
			zap.String("unit", kind), zap.Int("page", res.Page), zap.Int("table", res.Table), zap.Error(err))
		if s != nil {
			j.reports = append(j.reports, UnitReport{Page: res.Page, Table: res.Table, Kind: kind,
				Report: schema.Report{ParseError: err.Error()}})
		}
		return InvalidJSONMarker()
	}
	if s == nil {
		return v
	}

	report := s.Check(v)
	if !report.Valid {
		metrics.RecordMalformedOutput("schema")
		o.logger.Warn("model output does not match schema",
			zap.String("unit", kind), zap.Int("page", res.Page), zap.Int("table", res.Table),
			zap.Error(report.Err()))
	}
	j.reports = append(j.reports, UnitReport{Page: res.Page, Table: res.Table, Kind: kind, Report: report})
	return v
}

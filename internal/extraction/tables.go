package extraction

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/detect"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/inference"
)

const (
	keyPageTables = "page_tables"
	keyPageForms  = "page_forms"
)

// tables runs the table sub-path. Each crop is its own single-element
// inference call so one crop's answer cannot disturb another's. paged is false
// for direct images, whose crops carry no page index.
func (o *Orchestrator) tables(ctx context.Context, j *job, paged bool) (any, error) {
	inputs := make([]detect.PageInput, len(j.split.Pages))
	for i, p := range j.split.Pages {
		img, err := p.Image()
		if err != nil {
			return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot decode page image", err).WithPage(p.Number)
		}
		number := 0
		if paged {
			number = p.Number
		}
		tokens, err := o.pageTokens(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		inputs[i] = detect.PageInput{Number: number, Image: img, Tokens: tokens}
	}

	perPage, err := o.detector.DetectPages(ctx, inputs, detect.Options{
		Thresholds: o.thresholds,
		Padding:    o.padding,
	}, o.parallelism)
	if err != nil {
		return nil, err
	}

	tables := []any{}
	for i, crops := range perPage {
		paths, err := detect.SaveCrops(j.split.ScratchDir, crops)
		if err != nil {
			return nil, err
		}
		o.mirrorCrops(j, crops)

		for k, c := range crops {
			res, err := o.infer(ctx, []inference.Request{{
				Artifact: paths[k],
				Query:    j.plan.tableInstruction,
				Page:     inputs[i].Number,
				Table:    c.Index,
			}})
			if err != nil {
				return nil, err
			}
			tables = append(tables, o.decode(j, res[0], j.plan.tableSchema, unitTable))
		}
	}

	out := map[string]any{keyPageTables: tables}
	if j.plan.formSchema != nil {
		forms, err := o.forms(ctx, j, paged)
		if err != nil {
			return nil, err
		}
		out[keyPageForms] = forms
	}
	return out, nil
}

// forms asks each page once for the scalar fields of a mixed schema.
func (o *Orchestrator) forms(ctx context.Context, j *job, paged bool) ([]any, error) {
	forms := make([]any, 0, len(j.split.Pages))
	for _, p := range j.split.Pages {
		number := 0
		if paged {
			number = p.Number
		}
		res, err := o.infer(ctx, []inference.Request{{Artifact: p.Path, Query: j.plan.formInstruction, Page: number}})
		if err != nil {
			return nil, err
		}
		forms = append(forms, o.decode(j, res[0], j.plan.formSchema, unitForm))
	}
	return forms, nil
}

func (o *Orchestrator) pageTokens(ctx context.Context, path string) ([]detect.Token, error) {
	if o.tokens == nil {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return o.tokens.Tokens(ctx, data)
}

// mirrorCrops copies crops into the debug directory. Failures are logged.
func (o *Orchestrator) mirrorCrops(j *job, crops []detect.Crop) {
	if j.debugDir == "" || len(crops) == 0 {
		return
	}
	if err := os.MkdirAll(j.debugDir, 0o750); err != nil {
		o.logger.Warn("debug dir unavailable", zap.String("dir", j.debugDir), zap.Error(err))
		return
	}
	if _, err := detect.SaveCrops(j.debugDir, crops); err != nil {
		o.logger.Warn("debug crop copy failed", zap.String("dir", j.debugDir), zap.Error(err))
	}
}

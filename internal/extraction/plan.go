package extraction

import (
	"github.com/vesselgpt/vessel/internal/schema"
)

// plan is the set of instructions derived from one query.
type plan struct {
	generic     bool
	instruction string
	schema      *schema.QuerySchema // nil for generic queries

	// Tables-only mode: list fields go to crops, scalar fields to pages.
	tableInstruction string
	tableSchema      *schema.QuerySchema
	formInstruction  string
	formSchema       *schema.QuerySchema
}

func newPlan(query string, opts Options) (*plan, error) {
	if opts.GenericQuery {
		return genericPlan(), nil
	}
	q, err := schema.BuildQuery(query)
	if err != nil {
		return nil, err
	}
	if q.Generic {
		return genericPlan(), nil
	}

	p := &plan{instruction: q.Instruction, schema: q.Schema}
	p.tableInstruction, p.tableSchema = p.instruction, p.schema

	form, table := q.Schema.Partition()
	if table != nil && form != nil {
		p.tableInstruction, p.tableSchema = table.Instruction(), table
		p.formInstruction, p.formSchema = form.Instruction(), form
	}
	return p, nil
}

func genericPlan() *plan {
	return &plan{
		generic:          true,
		instruction:      schema.GenericInstruction,
		tableInstruction: schema.GenericInstruction,
	}
}

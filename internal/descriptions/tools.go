package descriptions

// Tool descriptions shown to MCP clients, with examples and workflows.

const (
	ExtractDocumentDescription = `Extract structured data from a PDF or image with a vision-language model.

**When to use:** Need field values, form data or table rows from scanned or digital documents.

**Why it's useful:** Pages are rendered to images, optionally narrowed to detected tables, and the model answer is checked against the fields you ask for.

**Examples:**
• Everything on a page: query "*" for receipt.png
• Invoice totals: query {"invoice_number": "str", "total": "float"}
• Statement rows: query [{"date": "str", "amount": "float"}] with tables_only=true

**Common workflows:**
1. Schema design: build_query → extract_document → validate_output
2. Table capture: extract_document with tables_only=true → read page_tables

**Best practices:** Field types are str, int, float and List[T]. Units whose model output is not JSON are returned as {"message": "Invalid JSON format in LLM output", "valid": "false"} and do not fail the request.`

	BuildQueryDescription = `Preview the instruction and response schema generated for a query.

**When to use:** Before a long extraction, to check that field names and types are understood.

**Examples:**
• build_query {"total": "int"} → retrieve total. return response in JSON format, ...
• build_query [{"code": "str", "amount": "float"}] → array schema, one object per row

**Best practices:** Unknown type names are rejected, so fix the query here rather than after inference.`

	ValidateOutputDescription = `Check a JSON answer against the schema of a query.

**When to use:** To re-validate stored model output, or output from another tool, against a query.

**Examples:**
• validate_output query={"total": "int"} output={"total": "12"} → total: expected int, got string

**Best practices:** A parse failure is reported separately from field mismatches.`

	ServerInfoDescription = `Get server information, the configured inference backend, and available tools.

**When to use:** First call in a session, or when extraction fails with a configuration error.`
)

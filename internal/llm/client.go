// Package llm provides the completion-model boundary: a small client
// interface plus a Gemini HTTP backend with structured JSON output.
package llm

import (
	"context"
	"errors"
)

// ErrSchemaNotSupported indicates the model rejected structured output
// constraints; callers may retry with free-form prompting.
var ErrSchemaNotSupported = errors.New("structured output schema not supported by model")

// Client is the synchronous completion interface consumed by the graph
// nodes. Implementations must be safe for sequential reuse; errors are
// generic failures with no partial results.
type Client interface {
	// Complete sends a prompt with a system message and returns the
	// model's text response.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteWithSchema requests a response constrained to the given
	// JSON schema (serialized as a JSON object string). The returned
	// string is the raw JSON document.
	CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error)
}

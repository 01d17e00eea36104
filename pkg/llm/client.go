// Package llm defines the provider-facing client interface for the
// Responses API and its request/response types. The concrete OpenAI-backed
// implementation lives in openai.go; tests substitute fakes.
package llm

import "context"

// Request is a single Responses API call.
type Request struct {
	Model        string
	Input        string
	Instructions string

	MaxOutputTokens int
	Temperature     float64
	TopP            float64

	// PreviousResponseID chains this call to an earlier response so the
	// provider treats them as one logical conversation. Empty for the first
	// turn of a thread.
	PreviousResponseID string
}

// Usage carries the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the provider's answer to a Request.
type Response struct {
	// ID anchors follow-up calls via Request.PreviousResponseID.
	ID         string
	OutputText string
	Usage      Usage
}

// Client is the minimal surface the pipeline needs from an LLM provider.
type Client interface {
	Respond(ctx context.Context, req Request) (*Response, error)
}

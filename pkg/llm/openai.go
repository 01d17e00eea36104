package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/responses"
	"github.com/openai/openai-go/v2/shared"
)

// providerTimeout bounds a single Responses API call on the provider side.
const providerTimeout = 120 * time.Second

// providerMaxRetries is the SDK-level retry budget for transient provider
// errors (429, 5xx). Gateway-level retry policy is layered on top of this.
const providerMaxRetries = 5

// OpenAIClient implements Client against the OpenAI Responses API.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates a Responses API client. baseURL may be empty to use
// the provider default endpoint.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(providerTimeout),
		option.WithMaxRetries(providerMaxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

// Respond performs one Responses API call and flattens the result.
func (c *OpenAIClient) Respond(ctx context.Context, req Request) (*Response, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Input)},
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("responses call failed: %w", err)
	}

	return &Response{
		ID:         resp.ID,
		OutputText: resp.OutputText(),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

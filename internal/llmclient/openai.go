package llmclient

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// openaiClient wraps github.com/openai/openai-go/v2's chat completions
// API, one of the two provider adapters spec.md §2 names for the LM
// Client ("OpenAI-compatible ... providers").
type openaiClient struct {
	inner openai.Client
}

// NewOpenAI builds a Client against the OpenAI chat completions API, or
// an OpenAI-compatible gateway when baseURL is non-empty (the
// RLMRUN_BASE_URL override of SPEC_FULL.md §2).
func NewOpenAI(apiKey, baseURL string) Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiClient{inner: openai.NewClient(opts...)}
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := c.inner.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("openai completion: no choices returned")
	}

	return Response{
		Text:         completion.Choices[0].Message.Content,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Model:        completion.Model,
	}, nil
}

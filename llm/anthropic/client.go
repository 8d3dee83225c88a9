package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/rs/zerolog"
)

// BetaHeader carries the comma-separated beta feature flags.
const BetaHeader = "anthropic-beta"

// Provider implements llm.Provider and llm.ModelLister for Anthropic's API.
type Provider struct {
	client *anthropic.Client
	logger zerolog.Logger
}

// NewProvider creates a Provider with the given API key. An empty baseURL uses
// the SDK default. The SDK's own retries are disabled; establishment is retried
// by the caller.
func NewProvider(apiKey, baseURL string, logger zerolog.Logger, opts ...option.RequestOption) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, opts...)

	client := anthropic.NewClient(clientOpts...)
	return &Provider{
		client: &client,
		logger: logger.With().Str("component", "anthropicProvider").Logger(),
	}, nil
}

// Stream implements llm.Provider.Stream. The HTTP request is made before
// Stream returns, so a failed establishment is reported here and not from the
// event stream.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.EventStream, error) {
	if req == nil {
		return nil, llm.NewInvalidRequestError("request is required", nil)
	}

	params, err := ToMessageNewParams(req)
	if err != nil {
		return nil, err
	}

	var reqOpts []option.RequestOption
	if len(req.Betas) > 0 {
		reqOpts = append(reqOpts, option.WithHeader(BetaHeader, strings.Join(req.Betas, ",")))
	}

	p.logger.Debug().
		Str("model", req.Model).
		Int("turns", len(req.Turns)).
		Int64("max_tokens", req.MaxTokens).
		Bool("thinking", req.Thinking.Enabled).
		Msg("Opening stream")

	stream := p.client.Messages.NewStreaming(ctx, params, reqOpts...)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, classifyError(err)
	}

	return newEventStream(ctx, stream, p.logger), nil
}

// ListModels implements llm.ModelLister.ListModels. Any provider error yields
// an empty list.
func (p *Provider) ListModels(ctx context.Context) []string {
	pager := p.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})

	var models []anthropic.ModelInfo
	for pager.Next() {
		models = append(models, pager.Current())
	}
	if err := pager.Err(); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to list models")
		return []string{}
	}
	return modelIDs(models)
}

// classifyError maps SDK errors onto the llm error taxonomy. Errors that carry
// no HTTP status, such as transport failures, are treated as transient.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(apiErr.StatusCode, "anthropic request failed", err)
	}

	return &llm.Error{
		Type:        llm.ErrorTypeNetwork,
		Message:     "anthropic request failed",
		Retryable:   true,
		ProviderErr: err,
	}
}

var (
	_ llm.Provider    = (*Provider)(nil)
	_ llm.ModelLister = (*Provider)(nil)
)

// Package anthropic wraps the official SDK with the one call shape the
// cleanse pipelines need: schema-constrained structured output.
package anthropic

import (
	"context"
	"encoding/json"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the Anthropic API operations used by the pipelines.
type Client interface {
	// CreateStructured forces the model to emit JSON conforming to the
	// request's input schema and returns the raw tool input.
	CreateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, TokenUsage, error)
}

// SystemBlock represents a system prompt block, optionally with cache control.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl configures caching for a content block.
type CacheControl struct {
	TTL string // "5m" or "1h"
}

// StructuredRequest asks the model for output conforming to a JSON Schema.
// ToolName identifies the forced tool; InputSchema is its parameter schema.
type StructuredRequest struct {
	Model           string
	MaxTokens       int64
	System          []SystemBlock
	Prompt          string
	ToolName        string
	ToolDescription string
	InputSchema     map[string]any
	Temperature     *float64
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// EstimateCost computes an estimated cost in USD from a TokenUsage and model ID.
// Returns 0 for unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	inCost := (float64(u.InputTokens) / 1e6) * pricing[0]
	outCost := (float64(u.OutputTokens) / 1e6) * pricing[1]
	cacheWriteCost := (float64(u.CacheCreationInputTokens) / 1e6) * pricing[0] * 1.25
	cacheReadCost := (float64(u.CacheReadInputTokens) / 1e6) * pricing[0] * 0.1
	return inCost + outCost + cacheWriteCost + cacheReadCost
}

// LogCost logs token usage and estimated cost with structured zap fields.
func (u TokenUsage) LogCost(model, stage string) {
	cost := u.EstimateCost(model)
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", cost),
	)
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates a new Anthropic client backed by the SDK.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
	}
}

func (c *sdkClient) CreateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, TokenUsage, error) {
	tool := sdk.ToolParam{
		Name:        req.ToolName,
		Description: sdk.String(req.ToolDescription),
		InputSchema: toSDKInputSchema(req.InputSchema),
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
		Tools: []sdk.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: sdk.ToolChoiceUnionParam{
			OfTool: &sdk.ToolChoiceToolParam{Name: req.ToolName},
		},
	}

	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, TokenUsage{}, eris.Wrap(err, "anthropic: create structured message")
	}

	usage := TokenUsage{
		InputTokens:              msg.Usage.InputTokens,
		OutputTokens:             msg.Usage.OutputTokens,
		CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
	}

	raw, err := extractStructured(msg, req.ToolName)
	if err != nil {
		return nil, usage, err
	}
	return raw, usage, nil
}

// extractStructured pulls the forced tool's input out of a response. When
// the model answered in prose instead of invoking the tool, the text is
// stripped of code fences and parsed as a fallback.
func extractStructured(msg *sdk.Message, toolName string) (json.RawMessage, error) {
	var text string
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.ToolUseBlock:
			if variant.Name != toolName {
				continue
			}
			raw, err := json.Marshal(variant.Input)
			if err != nil {
				return nil, eris.Wrap(err, "anthropic: encode tool input")
			}
			return raw, nil
		case sdk.TextBlock:
			text += variant.Text
		}
	}

	if cleaned := CleanJSON(text); cleaned != "" {
		if json.Valid([]byte(cleaned)) {
			return json.RawMessage(cleaned), nil
		}
		return nil, ErrUnparsableOutput
	}
	return nil, ErrNoStructuredOutput
}

// --- SDK type conversion helpers ---

func toSDKInputSchema(schema map[string]any) sdk.ToolInputSchemaParam {
	out := sdk.ToolInputSchemaParam{}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	// additionalProperties has no dedicated SDK field; carry it so the
	// strict-mode constraint reaches the wire.
	if extra, ok := schema["additionalProperties"]; ok {
		out.ExtraFields = map[string]any{"additionalProperties": extra}
	}
	return out
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{
			Text: b.Text,
		}
		if b.CacheControl != nil {
			cc := sdk.NewCacheControlEphemeralParam()
			if b.CacheControl.TTL != "" {
				cc.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
			}
			out[i].CacheControl = cc
		}
	}
	return out
}

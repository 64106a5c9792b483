// Package pipeline implements the LLM-driven merge, clean, and purge
// workflows over CRM company records.
package pipeline

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/cost"
	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/schema"
	"github.com/sells-group/crm-cleanse/pkg/anthropic"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
)

const systemPrompt = `You are a CRM data-quality assistant. You receive a JSON document describing company records and respond only by invoking the provided tool with output that conforms exactly to its input schema. Base every judgement strictly on the data supplied; never invent record ids or property values.`

// Pipeline runs the cleanse workflows. It holds no per-request state, so a
// single instance serves concurrent requests.
type Pipeline struct {
	ai        anthropic.Client
	crm       hubspot.Client
	costCalc  *cost.Calculator
	model     string
	maxTokens int64
}

// New creates a Pipeline with all dependencies.
func New(ai anthropic.Client, crm hubspot.Client, calc *cost.Calculator, modelID string, maxTokens int64) *Pipeline {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Pipeline{
		ai:        ai,
		crm:       crm,
		costCalc:  calc,
		model:     modelID,
		maxTokens: maxTokens,
	}
}

// runStage performs one schema-constrained inference call: the subject is
// serialized as the prompt, the stage schema constrains the output, and the
// result is decoded into out. Returned usage covers this call only.
func (p *Pipeline) runStage(ctx context.Context, stage schema.Stage, doc schema.Document, subject any, out any) (model.StageUsage, error) {
	prompt, err := json.MarshalIndent(subject, "", "  ")
	if err != nil {
		return model.StageUsage{}, &InferenceError{Stage: string(stage), Err: err}
	}

	schemaMap, err := doc.AsMap()
	if err != nil {
		return model.StageUsage{}, &InferenceError{Stage: string(stage), Err: err}
	}

	raw, tokens, err := p.ai.CreateStructured(ctx, anthropic.StructuredRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System: []anthropic.SystemBlock{{
			Text:         systemPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "1h"},
		}},
		Prompt:          string(prompt),
		ToolName:        stage.ToolName(),
		ToolDescription: doc.Description,
		InputSchema:     schemaMap,
	})

	usage := model.StageUsage{
		InputTokens:  int(tokens.InputTokens),
		OutputTokens: int(tokens.OutputTokens),
		TotalTokens:  int(tokens.InputTokens + tokens.OutputTokens),
	}
	if p.costCalc != nil {
		usage.CostUSD = p.costCalc.Claude(p.model, tokens)
	}

	if err != nil {
		return usage, &InferenceError{Stage: string(stage), Err: err}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return usage, &InferenceError{Stage: string(stage), Err: err}
	}

	tokens.LogCost(p.model, string(stage))
	zap.L().Debug("stage complete",
		zap.String("stage", string(stage)),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return usage, nil
}

// toPropertyMap converts a field-merge plan's updates into the string
// property map the record store accepts.
func toPropertyMap(updates map[string]any) map[string]string {
	out := make(map[string]string, len(updates))
	for key, value := range updates {
		switch v := value.(type) {
		case nil:
			out[key] = ""
		case string:
			out[key] = v
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[key] = string(data)
		}
	}
	return out
}

// Package anthropic provides a brain wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/taskmesh/brain"
	"github.com/hupe1980/taskmesh/core"
)

// Options configures the Anthropic brain adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Brain wraps the Anthropic Messages API behind the generic brain.Brain interface.
type Brain struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic brain using the official client.
func New(optFns ...func(o *Options)) *Brain {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Brain{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic brain from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Brain {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Brain{client: client, opts: opts}
}

// Generate implements brain.Brain. It adapts the Anthropic Messages API
// (with tool calling) into brain.Response events.
func (b *Brain) Generate(ctx context.Context, req brain.Request) (<-chan brain.Response, <-chan error) {
	out := make(chan brain.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       b.opts.Model,
			Messages:    buildMessages(req.Steps),
			MaxTokens:   b.opts.MaxTokens,
			Temperature: anthropic.Float(b.opts.Temperature),
		}
		if blocks := systemBlocks(req); len(blocks) > 0 {
			params.System = blocks
		}
		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		if req.Stream {
			// TODO: adapt anthropic.MessageStreamEvent into partial responses
			errCh <- fmt.Errorf("streaming not yet implemented for Anthropic brain")
			return
		}

		resp, err := b.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var parts []core.Part
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				textBlock := block.AsText()
				if textBlock.Text != "" {
					parts = append(parts, core.TextPart{Text: textBlock.Text})
				}
			case "tool_use":
				toolBlock := block.AsToolUse()
				var args json.RawMessage
				if toolBlock.Input != nil {
					if raw, err := json.Marshal(toolBlock.Input); err == nil {
						args = raw
					}
				}
				parts = append(parts, core.ToolCallPart{Call: core.ToolCall{
					ID:        toolBlock.ID,
					Name:      toolBlock.Name,
					Arguments: args,
				}})
			}
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}
		out <- brain.Response{
			Partial:      false,
			Parts:        parts,
			FinishReason: finishReason,
		}
	}()

	return out, errCh
}

// systemBlocks assembles the system prompt from instructions plus the
// rendered memory context.
func systemBlocks(req brain.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	if rendered := brain.RenderMemory(req.Memory); rendered != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: rendered})
	}
	return blocks
}

// buildMessages converts task steps to Anthropic message format. Tool results
// are attached as user-role tool_result blocks immediately after the
// assistant turn that issued the calls, as the Messages API requires.
func buildMessages(steps []core.TaskStep) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, step := range steps {
		if step.Author == "user" {
			var content []anthropic.ContentBlockParamUnion
			for _, p := range step.Parts {
				if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
					content = append(content, anthropic.NewTextBlock(tp.Text))
				}
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
			continue
		}

		var assistant []anthropic.ContentBlockParamUnion
		var results []anthropic.ContentBlockParamUnion
		for _, p := range step.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if part.Text != "" {
					assistant = append(assistant, anthropic.NewTextBlock(part.Text))
				}
			case core.ToolCallPart:
				var input interface{}
				if len(part.Call.Arguments) > 0 {
					if err := json.Unmarshal(part.Call.Arguments, &input); err != nil {
						input = string(part.Call.Arguments)
					}
				}
				assistant = append(assistant, anthropic.NewToolUseBlock(part.Call.ID, input, part.Call.Name))
			case core.ToolResultPart:
				results = append(results, anthropic.NewToolResultBlock(
					part.Result.CallID,
					renderResult(part.Result),
					part.Result.Failed(),
				))
			}
		}
		if len(assistant) > 0 {
			messages = append(messages, anthropic.NewAssistantMessage(assistant...))
		}
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
		}
	}
	return messages
}

func renderResult(result core.ToolResult) string {
	if result.Failed() {
		return result.Error
	}
	if s, ok := result.Output.(string); ok {
		return s
	}
	if raw, err := json.Marshal(result.Output); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", result.Output)
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(tools []core.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tool.Parameters != nil {
			if properties, exists := tool.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tool.Parameters["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []interface{}:
					var fields []string
					for _, r := range req {
						if s, ok := r.(string); ok {
							fields = append(fields, s)
						}
					}
					inputSchema.Required = fields
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
	}
	return anthropicTools
}

// Info returns metadata describing this Anthropic brain implementation.
func (b *Brain) Info() brain.Info {
	return brain.Info{
		Name:          string(b.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

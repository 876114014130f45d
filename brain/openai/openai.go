// Package openai provides an implementation of brain.Brain using the OpenAI
// Chat Completions API (including streaming + function/tool calling). It
// adapts the normalized Request/Response structures into the SDK's message
// format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/hupe1980/taskmesh/brain"
	"github.com/hupe1980/taskmesh/core"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete tool call parts when the finish reason
// arrives.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI brain adapter. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Brain wraps the OpenAI Chat Completions API behind the generic brain.Brain interface.
type Brain struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI brain using the official client.
func New(optFns ...func(o *Options)) *Brain {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI brain from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Brain {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Brain{client: client, opts: opts}
}

// Generate implements unified streaming / non-streaming generation.
func (b *Brain) Generate(ctx context.Context, req brain.Request) (<-chan brain.Response, <-chan error) {
	out := make(chan brain.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := b.buildParams(req, buildMessages(req))
		if req.Stream {
			b.handleStreaming(ctx, params, out, errCh)
			return
		}
		b.handleNonStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

// buildMessages converts the request into OpenAI chat messages. Tool results
// follow the assistant turn that issued the calls, as the API requires.
func buildMessages(req brain.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	if rendered := brain.RenderMemory(req.Memory); rendered != "" {
		messages = append(messages, openai.SystemMessage(rendered))
	}

	for _, step := range req.Steps {
		if step.Author == "user" {
			if text := step.Text(); text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
			continue
		}

		var textBuilder strings.Builder
		var toolCalls []openai.ChatCompletionMessageToolCallParam
		var results []core.ToolResult
		for _, p := range step.Parts {
			switch part := p.(type) {
			case core.TextPart:
				textBuilder.WriteString(part.Text)
			case core.ToolCallPart:
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   part.Call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      part.Call.Name,
						Arguments: string(part.Call.Arguments),
					},
				})
			case core.ToolResultPart:
				results = append(results, part.Result)
			}
		}

		if len(toolCalls) > 0 {
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		} else if textBuilder.Len() > 0 {
			messages = append(messages, openai.AssistantMessage(textBuilder.String()))
		}
		for _, result := range results {
			messages = append(messages, openai.ToolMessage(renderResult(result), result.CallID))
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

// buildParams assembles the OpenAI request parameters including tool definitions.
func (b *Brain) buildParams(
	req brain.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               b.opts.Model,
		Temperature:         openai.Float(b.opts.Temperature),
		MaxCompletionTokens: openai.Int(b.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// handleStreaming processes streaming responses and forwards partial / final events.
func (b *Brain) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- brain.Response,
	errCh chan<- error,
) {
	stream := b.client.Chat.Completions.NewStreaming(ctx, params)
	var textBuilder strings.Builder
	toolAgg := map[int64]*aggCall{}
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			emitTextDelta(ch, &textBuilder, out)
			emitToolCallDeltas(ch, toolAgg, out)
			if ch.FinishReason != "" {
				emitFinalChunk(ch, &textBuilder, toolAgg, out)
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
	}
}

func emitTextDelta(
	ch openai.ChatCompletionChunkChoice,
	builder *strings.Builder,
	out chan<- brain.Response,
) {
	if ch.Delta.Content == "" {
		return
	}
	builder.WriteString(ch.Delta.Content)
	out <- brain.Response{
		Partial: true,
		Parts:   []core.Part{core.TextPart{Text: ch.Delta.Content}},
	}
}

func emitToolCallDeltas(
	ch openai.ChatCompletionChunkChoice,
	agg map[int64]*aggCall,
	out chan<- brain.Response,
) {
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := agg[tc.Index]
		if !ok {
			ac = &aggCall{}
			agg[tc.Index] = ac
		}
		if tc.ID != "" {
			ac.id = tc.ID
		}
		if tc.Function.Name != "" {
			ac.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			ac.args += tc.Function.Arguments
		}
		out <- brain.Response{
			Partial: true,
			Parts: []core.Part{core.ToolCallPart{Call: core.ToolCall{
				ID:        ac.id,
				Name:      ac.name,
				Arguments: json.RawMessage(ac.args),
			}}},
		}
	}
}

func emitFinalChunk(
	ch openai.ChatCompletionChunkChoice,
	builder *strings.Builder,
	toolAgg map[int64]*aggCall,
	out chan<- brain.Response,
) {
	finalParts := make([]core.Part, 0, len(toolAgg)+1)
	if builder.Len() > 0 {
		finalParts = append(finalParts, core.TextPart{Text: builder.String()})
	}
	for _, ac := range toolAgg {
		finalParts = append(finalParts, core.ToolCallPart{Call: core.ToolCall{
			ID:        ac.id,
			Name:      ac.name,
			Arguments: json.RawMessage(ac.args),
		}})
	}
	out <- brain.Response{
		Partial:      false,
		Parts:        finalParts,
		FinishReason: ch.FinishReason,
	}
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (b *Brain) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- brain.Response,
	errCh chan<- error,
) {
	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- fmt.Errorf("no choices returned")
		return
	}
	ch0 := resp.Choices[0]
	parts := make([]core.Part, 0, len(ch0.Message.ToolCalls)+1)
	if ch0.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: ch0.Message.Content})
	}
	for _, tc := range ch0.Message.ToolCalls {
		parts = append(parts, core.ToolCallPart{Call: core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		}})
	}
	out <- brain.Response{
		Partial:      false,
		Parts:        parts,
		FinishReason: ch0.FinishReason,
	}
}

// Info returns metadata describing this OpenAI brain implementation.
func (b *Brain) Info() brain.Info {
	return brain.Info{
		Name:          b.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

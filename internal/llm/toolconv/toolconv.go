// Package toolconv converts the provider-independent tool definitions to
// the wire formats each provider SDK expects.
package toolconv

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/kira/internal/llm"
)

// ToOpenAI renders tools as OpenAI function definitions. The same shape is
// accepted by Ollama's /api/chat.
func ToOpenAI(tools []llm.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return out
}

// ToAnthropic renders tools as Anthropic tool params, splitting the JSON
// schema into the properties/required fields the SDK models explicitly.
func ToAnthropic(tools []llm.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: tool.Parameters["properties"],
		}
		if required, ok := tool.Parameters["required"].([]string); ok {
			schema.Required = required
		} else if raw, ok := tool.Parameters["required"].([]any); ok {
			for _, item := range raw {
				if s, ok := item.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: schema,
			},
		}
	}
	return out
}

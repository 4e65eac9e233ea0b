package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"helpdeskagent/internal/llm"
	"helpdeskagent/internal/models"
)

// ChatModel is the single blocking call the loop makes per iteration.
type ChatModel interface {
	Generate(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error)
}

type toolCallingModel struct {
	chatModel model.ToolCallingChatModel
}

// NewChatModel adapts an eino tool-calling model so tools are bound per call.
func NewChatModel(m model.ToolCallingChatModel) ChatModel {
	return &toolCallingModel{chatModel: m}
}

func (m *toolCallingModel) Generate(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
	bound, err := llm.BindTools(m.chatModel, tools)
	if err != nil {
		return nil, err
	}
	return bound.Generate(ctx, msgs)
}

func toSchemaMessages(system string, history []*models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+1)
	if system != "" {
		out = append(out, schema.SystemMessage(system))
	}
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Author {
		case models.AuthorAgent:
			var calls []schema.ToolCall
			for _, c := range msg.ToolCalls {
				calls = append(calls, schema.ToolCall{
					ID:   c.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      c.Name,
						Arguments: c.Arguments,
					},
				})
			}
			out = append(out, schema.AssistantMessage(msg.Content, calls))
		case models.AuthorTool:
			out = append(out, &schema.Message{
				Role:       schema.Tool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.ToolName,
			})
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}

func fromSchemaToolCalls(turnID string, iteration int, calls []schema.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("call_%s_%d_%d", turnID, iteration, i)
		}
		args := c.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out = append(out, models.ToolCall{ID: id, Name: c.Function.Name, Arguments: args})
	}
	return out
}

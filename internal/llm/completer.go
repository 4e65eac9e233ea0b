package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Completer runs single-shot prompts that do not need tools or history,
// such as classification or drafting a troubleshooting answer.
type Completer struct {
	chatModel model.BaseChatModel
}

func NewCompleter(m model.BaseChatModel) *Completer {
	return &Completer{chatModel: m}
}

func (c *Completer) Complete(ctx context.Context, system, prompt string) (string, error) {
	if c == nil || c.chatModel == nil {
		return "", errors.New("completer unavailable")
	}
	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(prompt),
	}
	resp, err := c.chatModel.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

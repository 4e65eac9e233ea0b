// Package agent runs one conversational turn as an explicit state machine:
// the model is asked for a reply, requested tools are executed in order, and
// the cycle repeats until the model answers without tools or the iteration
// budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"

	"helpdeskagent/internal/logger"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/tools"
)

var ErrModel = errors.New("model call failed")

const (
	DefaultMaxIterations = 8
	BudgetExhaustedReply = "I'm sorry, I was unable to complete this request. Please try rephrasing or narrowing it down."
)

type Phase int

const (
	AwaitingModel Phase = iota
	ExecutingTools
	Done
)

func (p Phase) String() string {
	switch p {
	case AwaitingModel:
		return "awaiting_model"
	case ExecutingTools:
		return "executing_tools"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Turn is the state of one turn. Iteration counts model calls made so far.
type Turn struct {
	Phase     Phase
	Iteration int
	Reply     string
	// Exhausted is set when the turn ended on the iteration budget.
	Exhausted bool

	key      string
	history  []*models.Message
	appended []*models.Message
	pending  []models.ToolCall
}

// Appended returns the messages this turn added, in order.
func (t *Turn) Appended() []*models.Message { return t.appended }

// History returns the full history including this turn's messages.
func (t *Turn) History() []*models.Message { return t.history }

func (t *Turn) append(msg *models.Message) {
	t.history = append(t.history, msg)
	t.appended = append(t.appended, msg)
}

// Loop binds a model, a tool set and a system prompt for one role.
type Loop struct {
	Model         ChatModel
	Registry      *tools.Registry
	Prompt        func(*models.Session) string
	MaxIterations int
}

// RunTurn appends text to a copy of the session history and steps the state
// machine to Done. The returned Turn is non-nil even when err is set, so the
// caller can persist what was appended before the failure.
func (l *Loop) RunTurn(ctx context.Context, sess *models.Session, text string) (*Turn, error) {
	if sess == nil {
		return nil, errors.New("session is required")
	}
	span := logger.StartSpan(ctx, "agent.turn")
	defer span.End()
	ctx = span.Context()

	turn := &Turn{
		Phase:   AwaitingModel,
		key:     sess.Key,
		history: append([]*models.Message(nil), sess.History...),
	}
	turn.append(models.HumanMessage(sess.Key, text))

	system := ""
	if l.Prompt != nil {
		system = l.Prompt(sess)
	}

	for turn.Phase != Done {
		if err := l.Step(ctx, turn, system, sess.ID); err != nil {
			span.RecordError(err)
			return turn, err
		}
	}
	span.Span().SetAttributes(
		attribute.Int("agent.iterations", turn.Iteration),
		attribute.Bool("agent.exhausted", turn.Exhausted),
	)
	return turn, nil
}

// Step performs exactly one transition.
func (l *Loop) Step(ctx context.Context, turn *Turn, system, turnID string) error {
	switch turn.Phase {
	case AwaitingModel:
		return l.awaitModel(ctx, turn, system, turnID)
	case ExecutingTools:
		l.executeTools(ctx, turn)
		return nil
	case Done:
		return nil
	default:
		return fmt.Errorf("unknown phase %v", turn.Phase)
	}
}

func (l *Loop) maxIterations() int {
	if l.MaxIterations > 0 {
		return l.MaxIterations
	}
	return DefaultMaxIterations
}

func (l *Loop) awaitModel(ctx context.Context, turn *Turn, system, turnID string) error {
	if turn.Iteration >= l.maxIterations() {
		slog.WarnContext(ctx, "iteration budget exhausted", "iterations", turn.Iteration)
		turn.append(models.AgentMessage(turn.key, BudgetExhaustedReply, nil))
		turn.Reply = BudgetExhaustedReply
		turn.Exhausted = true
		turn.Phase = Done
		return nil
	}

	turn.Iteration++
	resp, err := l.Model.Generate(ctx, toSchemaMessages(system, turn.history), l.toolInfos())
	if err != nil {
		turn.Phase = Done
		return fmt.Errorf("%w: %v", ErrModel, err)
	}
	if resp == nil {
		turn.Phase = Done
		return fmt.Errorf("%w: empty response", ErrModel)
	}

	calls := fromSchemaToolCalls(turnID, turn.Iteration, resp.ToolCalls)
	turn.append(models.AgentMessage(turn.key, resp.Content, calls))
	if len(calls) == 0 {
		turn.Reply = strings.TrimSpace(resp.Content)
		turn.Phase = Done
		return nil
	}
	turn.pending = calls
	turn.Phase = ExecutingTools
	slog.DebugContext(ctx, "model requested tools", "count", len(calls), "iteration", turn.Iteration)
	return nil
}

func (l *Loop) executeTools(ctx context.Context, turn *Turn) {
	for _, call := range turn.pending {
		var res models.ToolResult
		if l.Registry == nil {
			res = models.ToolResult{CallID: call.ID, Name: call.Name, Output: "Error: " + tools.ErrUnknownTool.Error() + ": " + call.Name, IsError: true}
		} else {
			res = l.Registry.Invoke(ctx, call)
		}
		turn.append(models.ToolMessage(turn.key, res))
	}
	turn.pending = nil
	turn.Phase = AwaitingModel
}

func (l *Loop) toolInfos() []*schema.ToolInfo {
	if l.Registry == nil {
		return nil
	}
	return l.Registry.Infos()
}

// Package tools holds the typed tool registry the agent loop calls into.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	einojsonschema "github.com/eino-contrib/jsonschema"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"helpdeskagent/internal/logger"
	"helpdeskagent/internal/models"
)

var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrAlreadyRegistered = errors.New("tool already registered")
	ErrEmptyName         = errors.New("tool name is required")
	ErrRateLimited       = errors.New("rate limit exceeded, please retry in a minute")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

type handlerFunc func(ctx context.Context, arguments string) (string, error)

// Tool is one registered operation: its model-facing description and a
// handler that decodes and validates arguments before running.
type Tool struct {
	info    *schema.ToolInfo
	run     handlerFunc
	limiter *RateLimiter
}

func (t Tool) Name() string { return t.info.Name }

func (t Tool) Info() *schema.ToolInfo { return t.info }

type Option func(*Tool)

// WithRateLimit allows at most limit calls per window per session.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(t *Tool) { t.limiter = NewRateLimiter(limit, window) }
}

// Define builds a tool whose arguments decode into T. The parameter schema is
// reflected from T's json and jsonschema tags; validate tags are enforced
// before fn runs.
func Define[T any](name, desc string, fn func(ctx context.Context, args T) (string, error), opts ...Option) (Tool, error) {
	if strings.TrimSpace(name) == "" {
		return Tool{}, ErrEmptyName
	}
	var zero T
	params, err := paramsFor(&zero)
	if err != nil {
		return Tool{}, fmt.Errorf("schema for %s: %w", name, err)
	}
	t := Tool{
		info: &schema.ToolInfo{Name: name, Desc: desc, ParamsOneOf: params},
		run: func(ctx context.Context, arguments string) (string, error) {
			var args T
			if err := decodeArguments(arguments, &args); err != nil {
				return "", err
			}
			if err := validateArguments(&args); err != nil {
				return "", err
			}
			return fn(ctx, args)
		},
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t, nil
}

// MustDefine is Define for statically known tools.
func MustDefine[T any](name, desc string, fn func(ctx context.Context, args T) (string, error), opts ...Option) Tool {
	t, err := Define(name, desc, fn, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromInvokable adapts an eino tool, such as a search provider, into the registry.
func FromInvokable(ctx context.Context, it tool.InvokableTool, opts ...Option) (Tool, error) {
	info, err := it.Info(ctx)
	if err != nil {
		return Tool{}, fmt.Errorf("tool info: %w", err)
	}
	if info == nil || info.Name == "" {
		return Tool{}, ErrEmptyName
	}
	t := Tool{
		info: info,
		run: func(ctx context.Context, arguments string) (string, error) {
			if strings.TrimSpace(arguments) == "" {
				arguments = "{}"
			}
			return it.InvokableRun(ctx, arguments)
		},
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t, nil
}

func paramsFor(v any) (*schema.ParamsOneOf, error) {
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, err
	}
	// the model only needs the object shape
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	if raw, err = json.Marshal(doc); err != nil {
		return nil, err
	}
	var js einojsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, err
	}
	return schema.NewParamsOneOfByJSONSchema(&js), nil
}

func decodeArguments(arguments string, dst any) error {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		arguments = "{}"
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(arguments)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func validateArguments(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(parts, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Registry is an ordered set of tools with unique names.
type Registry struct {
	tools []Tool
	index map[string]int
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	if t.info == nil || t.info.Name == "" {
		return ErrEmptyName
	}
	if _, ok := r.index[t.info.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, t.info.Name)
	}
	r.index[t.info.Name] = len(r.tools)
	r.tools = append(r.tools, t)
	return nil
}

// Infos returns the model-facing descriptions in registration order.
func (r *Registry) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, t.info)
	}
	return infos
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.info.Name)
	}
	return names
}

func (r *Registry) Len() int { return len(r.tools) }

// Invoke runs call and always returns a result. Failures of any kind, including
// panics, are reported as text so the model can relay or recover from them.
func (r *Registry) Invoke(ctx context.Context, call models.ToolCall) (res models.ToolResult) {
	res = models.ToolResult{CallID: call.ID, Name: call.Name}
	idx, ok := r.index[call.Name]
	if !ok {
		return failed(res, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name))
	}
	t := r.tools[idx]

	if t.limiter != nil {
		key := call.Name
		if caller, ok := CallerFromContext(ctx); ok {
			key = caller.SessionKey + ":" + call.Name
		}
		if !t.limiter.Allow(key) {
			return failed(res, ErrRateLimited)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "tool panicked", "tool", call.Name, "panic", p)
			res = failed(models.ToolResult{CallID: call.ID, Name: call.Name}, fmt.Errorf("tool %s crashed", call.Name))
		}
	}()

	start := time.Now()
	out, err := t.run(ctx, call.Arguments)
	if err != nil {
		slog.WarnContext(ctx, "tool failed",
			"tool", call.Name,
			"arguments", logger.Truncate(call.Arguments, 200),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return failed(res, err)
	}
	slog.DebugContext(ctx, "tool completed", "tool", call.Name, "duration_ms", time.Since(start).Milliseconds())
	res.Output = out
	return res
}

func failed(res models.ToolResult, err error) models.ToolResult {
	res.IsError = true
	res.Output = "Error: " + err.Error()
	return res
}
